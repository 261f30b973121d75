// Package orchestrator answers a chat turn: it retrieves grounding context,
// lets the analyst draft an answer (calling tools as needed), and iterates
// with the critic until the draft is approved or the budget runs out.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/BenDundee/ravana/internal/agents"
	"github.com/BenDundee/ravana/internal/config"
	"github.com/BenDundee/ravana/internal/llm"
	"github.com/BenDundee/ravana/internal/logging"
	"github.com/BenDundee/ravana/internal/retry"
	"github.com/BenDundee/ravana/internal/store"
	"github.com/BenDundee/ravana/internal/tools"
	"github.com/BenDundee/ravana/internal/tools/research"
	"github.com/BenDundee/ravana/internal/usage"
)

// ErrNoMessages is returned when the history does not end with a user message.
var ErrNoMessages = errors.New("no user message to respond to")

// Knowledge is the knowledge base as the controller uses it.
type Knowledge interface {
	research.Knowledge
	Count() (int, error)
}

// Options bounds one chat turn.
type Options struct {
	Orchestration config.OrchestrationConfig
	// ResultsPerQuery is the number of chunks fetched per knowledge query.
	ResultsPerQuery int
	// MaxQueries caps knowledge queries per turn.
	MaxQueries int
	// SearchQueries caps web searches when the knowledge base has nothing.
	SearchQueries int
	// Timeout bounds a whole turn; zero means no limit.
	Timeout time.Duration
	// RetryPolicy spaces model and tool retries.
	RetryPolicy retry.Policy
}

// Reply is the answer to one chat turn.
type Reply struct {
	Response   string   `json:"response"`
	Iterations int      `json:"iterations"`
	Approved   bool     `json:"approved"`
	Score      float64  `json:"score"`
	Sources    []string `json:"sources"`
}

// Controller runs chat turns. Turns are serialized because agent memory is
// shared between them.
type Controller struct {
	opts     Options
	cfg      *config.Configurator
	handler  *agents.Handler
	kb       Knowledge
	registry *tools.Registry
	usage    *usage.Tracker
	closers  []func() error

	turnMu  sync.Mutex
	sources []string
}

// NewController assembles a controller from ready components. Register the
// research tools with OnSearch set to c.RecordSearch to collect web sources.
func NewController(opts Options, handler *agents.Handler, kb Knowledge, registry *tools.Registry) *Controller {
	if registry == nil {
		registry = tools.NewRegistry()
	}
	return &Controller{opts: opts.withDefaults(), handler: handler, kb: kb, registry: registry}
}

func (o Options) withDefaults() Options {
	d := config.DefaultOrchestrationConfig()
	if o.Orchestration.MaxIterations <= 0 {
		o.Orchestration.MaxIterations = d.MaxIterations
	}
	if o.Orchestration.ApprovalScore <= 0 {
		o.Orchestration.ApprovalScore = d.ApprovalScore
	}
	if o.ResultsPerQuery <= 0 {
		o.ResultsPerQuery = 5
	}
	if o.MaxQueries <= 0 {
		o.MaxQueries = 1
	}
	if o.SearchQueries <= 0 {
		o.SearchQueries = 3
	}
	if o.RetryPolicy == (retry.Policy{}) {
		o.RetryPolicy = retry.DefaultPolicy
	}
	return o
}

// SetOptions replaces the turn limits. It waits for a running turn to finish.
// A zero RetryPolicy keeps the current one.
func (c *Controller) SetOptions(opts Options) {
	c.turnMu.Lock()
	defer c.turnMu.Unlock()
	if opts.RetryPolicy == (retry.Policy{}) {
		opts.RetryPolicy = c.opts.RetryPolicy
	}
	c.opts = opts.withDefaults()
}

// Handler returns the agent handler.
func (c *Controller) Handler() *agents.Handler { return c.handler }

// Registry returns the tool registry.
func (c *Controller) Registry() *tools.Registry { return c.registry }

// Knowledge returns the knowledge base.
func (c *Controller) Knowledge() Knowledge { return c.kb }

// Documents returns the number of chunks in the knowledge base.
func (c *Controller) Documents() (int, error) {
	if c.kb == nil {
		return 0, nil
	}
	return c.kb.Count()
}

// UsageStats returns token usage recorded since the usage file was created.
func (c *Controller) UsageStats() usage.Stats {
	return c.usage.Stats()
}

// RecordSearch collects fetched URLs of a web search as sources of the
// current turn.
func (c *Controller) RecordSearch(out research.SearchOutput) {
	for _, it := range out.Fetched() {
		c.sources = append(c.sources, it.URL)
	}
}

// Close releases the knowledge base and any browser.
func (c *Controller) Close() error {
	closers := c.closers
	c.closers = nil
	var errs []error
	for i := len(closers) - 1; i >= 0; i-- {
		errs = append(errs, closers[i]())
	}
	return errors.Join(errs...)
}

// GetResponse answers the last user message of history.
func (c *Controller) GetResponse(ctx context.Context, history []llm.Message) (Reply, error) {
	if len(history) == 0 {
		return Reply{}, ErrNoMessages
	}
	last := history[len(history)-1]
	if last.Role != llm.RoleUser || strings.TrimSpace(last.Content) == "" {
		return Reply{}, ErrNoMessages
	}

	c.turnMu.Lock()
	defer c.turnMu.Unlock()

	if c.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.Timeout)
		defer cancel()
	}

	log := logging.FromContext(ctx, logging.CategoryOrchestrator)
	audit := logging.AuditWithRequest(logging.RequestIDFromContext(ctx))
	start := time.Now()
	audit.TurnStart(len(history))
	log.Info("Received input (%d messages), updating memory...", len(history))

	c.sources = nil
	c.handler.ClearContext()
	if err := c.handler.UpdateMemory(history); err != nil {
		audit.TurnEnd(start, 0, err)
		return Reply{}, err
	}

	question := last.Content
	c.ground(ctx, question)

	reply, err := c.improve(ctx, question)
	audit.TurnEnd(start, reply.Iterations, err)
	if err != nil {
		log.Error("Turn failed: %v", err)
		return Reply{}, err
	}
	reply.Sources = dedupe(c.sources)
	log.Info("Turn done: iterations=%d approved=%t score=%.2f (%v)", reply.Iterations, reply.Approved, reply.Score, time.Since(start))
	return reply, nil
}

// ground fills the retrieved-context provider from the knowledge base, and
// searches the web when the knowledge base has nothing relevant.
func (c *Controller) ground(ctx context.Context, question string) {
	if c.kb == nil {
		return
	}
	timer := logging.StartTimer(logging.CategoryOrchestrator, "ground")
	defer timer.Stop()

	queries := c.knowledgeQueries(ctx, question)
	chunks := c.queryKnowledge(ctx, queries)

	if len(chunks) == 0 && c.handler.Has(agents.SearchAgent) && c.registry.Has("web_search") {
		c.searchWeb(ctx, question)
		chunks = c.queryKnowledge(ctx, queries)
	}
	if len(chunks) == 0 {
		return
	}

	c.handler.SetRetrievedContext(research.FormatChunks(store.QueryResult{Results: chunks}))
	for _, ch := range chunks {
		if u := ch.Metadata["url"]; u != "" {
			c.sources = append(c.sources, u)
		} else if t := ch.Metadata["title"]; t != "" {
			c.sources = append(c.sources, t)
		}
	}
}

// knowledgeQueries asks the query agent for a semantic query. The user's own
// words are used when the agent is missing or fails, and as a second query
// when more than one is allowed.
func (c *Controller) knowledgeQueries(ctx context.Context, question string) []string {
	var queries []string
	if c.handler.Has(agents.QueryAgent) {
		var out agents.QueryAgentOutput
		err := c.runAgent(ctx, agents.QueryAgent, agents.QueryAgentInput{UserInput: question}, &out)
		if err != nil {
			logging.OrchestratorWarn("Query agent failed, using the question: %v", err)
		} else if q := strings.TrimSpace(out.Query); q != "" {
			logging.OrchestratorDebug("Query agent: %q (%s)", q, out.Reasoning)
			queries = append(queries, q)
		}
	}
	if len(queries) < c.opts.MaxQueries || len(queries) == 0 {
		queries = append(queries, question)
	}
	queries = dedupe(queries)
	if len(queries) > c.opts.MaxQueries {
		queries = queries[:c.opts.MaxQueries]
	}
	return queries
}

func (c *Controller) queryKnowledge(ctx context.Context, queries []string) []store.Chunk {
	seen := make(map[string]bool)
	var chunks []store.Chunk
	for _, q := range queries {
		res, err := c.kb.Query(ctx, q, c.opts.ResultsPerQuery, nil)
		if err != nil {
			logging.OrchestratorWarn("Knowledge query %q failed: %v", q, err)
			continue
		}
		logging.Audit().KnowledgeQuery(q, len(res.Results))
		for _, ch := range res.Results {
			if !seen[ch.ID] {
				seen[ch.ID] = true
				chunks = append(chunks, ch)
			}
		}
	}
	sort.SliceStable(chunks, func(i, j int) bool { return chunks[i].Distance < chunks[j].Distance })
	return chunks
}

func (c *Controller) searchWeb(ctx context.Context, question string) {
	var out agents.SearchQueryOutput
	if err := c.runAgent(ctx, agents.SearchAgent, agents.QueryAgentInput{UserInput: question}, &out); err != nil {
		logging.OrchestratorWarn("Search agent failed: %v", err)
		return
	}
	queries := out.Queries
	if len(queries) > c.opts.SearchQueries {
		queries = queries[:c.opts.SearchQueries]
	}
	if len(queries) == 0 {
		return
	}

	args := map[string]any{"queries": toAny(queries), "ingest": true}
	res := c.executeTool(ctx, tools.Call{ID: "ground", Name: "web_search", Args: args})
	if res.Error != nil {
		logging.OrchestratorWarn("Web search failed: %v", res.Error)
		return
	}
	c.handler.SetSearchResults(res.Output)
}

type draft struct {
	answer string
	score  float64
	iter   int
}

// improve runs the analyst/critic loop.
func (c *Controller) improve(ctx context.Context, question string) (Reply, error) {
	orch := c.opts.Orchestration
	budget := orch.MaxToolCalls
	best := draft{score: -1}
	var review agents.CriticOutput

	for iter := 1; iter <= orch.MaxIterations; iter++ {
		answer, err := c.draft(ctx, question, review, &budget)
		if err != nil {
			if best.answer != "" {
				logging.OrchestratorWarn("Analyst failed on iteration %d, returning best draft: %v", iter, err)
				return Reply{Response: best.answer, Iterations: iter - 1, Score: best.score}, nil
			}
			return Reply{Iterations: iter}, fmt.Errorf("analyst: %w", err)
		}

		if !c.handler.Has(agents.CriticAgent) {
			return Reply{Response: answer, Iterations: iter, Approved: true, Score: 1}, nil
		}

		review = agents.CriticOutput{}
		err = c.runAgent(ctx, agents.CriticAgent, agents.CriticInput{Question: question, Answer: answer, Iteration: iter}, &review)
		if err != nil {
			logging.OrchestratorWarn("Critic failed on iteration %d, returning draft unreviewed: %v", iter, err)
			if best.answer != "" && best.score > 0 {
				return Reply{Response: best.answer, Iterations: iter, Score: best.score}, nil
			}
			return Reply{Response: answer, Iterations: iter}, nil
		}
		review.Score = clamp01(review.Score)
		logging.Audit().CriticVerdict(iter, review.Approved, review.Score)
		logging.Orchestrator("Iteration %d: approved=%t score=%.2f", iter, review.Approved, review.Score)

		if review.Score > best.score {
			best = draft{answer: answer, score: review.Score, iter: iter}
		}
		if review.Approved && review.Score >= orch.ApprovalScore {
			return Reply{Response: answer, Iterations: iter, Approved: true, Score: review.Score}, nil
		}
	}

	logging.Orchestrator("Iteration budget exhausted, returning draft %d (score %.2f)", best.iter, best.score)
	return Reply{Response: best.answer, Iterations: orch.MaxIterations, Score: best.score}, nil
}

// draft asks the analyst for an answer, executing requested tools until it
// answers or the tool budget is spent.
func (c *Controller) draft(ctx context.Context, question string, review agents.CriticOutput, budget *int) (string, error) {
	in := agents.AnalystInput{
		Question:   question,
		Feedback:   review.Feedback,
		Issues:     review.Issues,
		ToolBudget: *budget,
		Tools:      c.catalog(*budget),
	}

	for {
		var out agents.AnalystOutput
		if err := c.runAgent(ctx, agents.AnalystAgent, in, &out); err != nil {
			return "", err
		}

		if len(out.ToolCalls) > 0 && *budget > 0 {
			in.ToolResults = c.runTools(ctx, out.ToolCalls, budget)
			in.ToolBudget = *budget
			in.Tools = c.catalog(*budget)
			continue
		}

		if answer := strings.TrimSpace(out.Answer); answer != "" {
			return answer, nil
		}
		if len(out.ToolCalls) == 0 {
			return "", errors.New("analyst returned no answer")
		}
		// Out of tool budget: ask once more for an answer with what it has.
		in.ToolResults = append(in.ToolResults, agents.ToolOutcome{
			Tool:  "orchestrator",
			Error: "tool budget exhausted; answer with the information you have",
		})
		in.ToolBudget = 0
		in.Tools = nil
		out = agents.AnalystOutput{}
		if err := c.runAgent(ctx, agents.AnalystAgent, in, &out); err != nil {
			return "", err
		}
		if answer := strings.TrimSpace(out.Answer); answer != "" {
			return answer, nil
		}
		return "", errors.New("analyst returned no answer")
	}
}

// catalog describes the registered tools, or nothing once the budget is spent.
func (c *Controller) catalog(budget int) []tools.Definition {
	if budget <= 0 || c.registry == nil {
		return nil
	}
	return c.registry.Definitions()
}

func (c *Controller) runTools(ctx context.Context, calls []agents.ToolCallRequest, budget *int) []agents.ToolOutcome {
	var outcomes []agents.ToolOutcome
	for i, req := range calls {
		if *budget <= 0 {
			logging.OrchestratorDebug("Tool budget spent, skipping %d calls", len(calls)-i)
			break
		}
		*budget--

		res := c.executeTool(ctx, tools.Call{ID: fmt.Sprintf("call-%d", i+1), Name: req.Tool, Args: req.Args})
		oc := agents.ToolOutcome{Tool: req.Tool, Output: res.Output}
		if res.Error != nil {
			oc.Error = res.Error.Error()
		}
		outcomes = append(outcomes, oc)
	}
	return outcomes
}

// executeTool validates and runs one call. Execution failures are retried
// per model_retries; validation failures are not.
func (c *Controller) executeTool(ctx context.Context, call tools.Call) *tools.Result {
	var res *tools.Result
	_ = retry.DoWithPolicy(ctx, c.opts.RetryPolicy, c.opts.Orchestration.ModelRetries+1, func(ctx context.Context) error {
		res = c.registry.ExecuteCall(ctx, call)
		if res.Error != nil && tools.IsValidationError(res.Error) {
			return retry.Permanent(res.Error)
		}
		return res.Error
	})
	if res == nil {
		res = &tools.Result{CallID: call.ID, ToolName: call.Name, Error: ctx.Err()}
	}
	return res
}

// runAgent runs an agent, retrying transport failures per model_retries.
// Malformed JSON is re-asked inside the agent and not retried here.
func (c *Controller) runAgent(ctx context.Context, name string, in, out any) error {
	return retry.DoWithPolicy(ctx, c.opts.RetryPolicy, c.opts.Orchestration.ModelRetries+1, func(ctx context.Context) error {
		err := c.handler.Run(ctx, name, in, out)
		if errors.Is(err, agents.ErrUnknownAgent) || errors.Is(err, llm.ErrStructuredOutput) {
			return retry.Permanent(err)
		}
		return err
	})
}

func clamp01(v float64) float64 {
	return max(0, min(1, v))
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	var out []string
	for _, s := range in {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

func toAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
