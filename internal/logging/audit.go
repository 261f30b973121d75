package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// =============================================================================
// AUDIT EVENT TYPES
// =============================================================================

// AuditEventType defines the type of audit event.
type AuditEventType string

const (
	AuditTurnStart AuditEventType = "turn_start"
	AuditTurnEnd   AuditEventType = "turn_end"

	AuditLLMRequest  AuditEventType = "llm_request"
	AuditLLMResponse AuditEventType = "llm_response"
	AuditLLMError    AuditEventType = "llm_error"

	AuditToolInvoke   AuditEventType = "tool_invoke"
	AuditToolComplete AuditEventType = "tool_complete"
	AuditToolError    AuditEventType = "tool_error"
	AuditToolRejected AuditEventType = "tool_rejected"

	AuditCriticVerdict AuditEventType = "critic_verdict"

	AuditKnowledgeIngest AuditEventType = "knowledge_ingest"
	AuditKnowledgeQuery  AuditEventType = "knowledge_query"
)

// AuditEvent is a single line in the audit trail.
type AuditEvent struct {
	Type       AuditEventType
	RequestID  string
	Agent      string
	Target     string
	Success    bool
	DurationMs int64
	Error      string
	Fields     map[string]interface{}
}

// AuditLogger writes audit events as JSON lines.
type AuditLogger struct {
	requestID string
	agent     string
}

var (
	auditMu   sync.Mutex
	auditZap  *zap.Logger
	auditFile *os.File
)

// InitAudit opens <log_dir>/audit.jsonl. It is a no-op outside debug mode.
func InitAudit() error {
	if !IsDebugMode() {
		return nil
	}

	configMu.RLock()
	dir := logsDir
	configMu.RUnlock()
	if dir == "" {
		return fmt.Errorf("logging not initialized")
	}

	auditMu.Lock()
	defer auditMu.Unlock()
	if auditZap != nil {
		return nil
	}

	f, err := os.OpenFile(filepath.Join(dir, "audit.jsonl"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open audit log: %w", err)
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.EpochMillisTimeEncoder
	encCfg.MessageKey = "event"
	encCfg.LevelKey = ""
	encCfg.CallerKey = ""
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.AddSync(f), zapcore.DebugLevel)

	auditFile = f
	auditZap = zap.New(core)
	return nil
}

// CloseAudit flushes and closes the audit trail.
func CloseAudit() {
	auditMu.Lock()
	defer auditMu.Unlock()
	if auditZap != nil {
		_ = auditZap.Sync()
		auditZap = nil
	}
	if auditFile != nil {
		auditFile.Close()
		auditFile = nil
	}
}

// Audit returns an audit logger without request context.
func Audit() *AuditLogger {
	return &AuditLogger{}
}

// AuditWithRequest returns an audit logger bound to a request ID.
func AuditWithRequest(requestID string) *AuditLogger {
	return &AuditLogger{requestID: requestID}
}

// ForAgent returns a copy bound to an agent name.
func (a *AuditLogger) ForAgent(agent string) *AuditLogger {
	cp := *a
	cp.agent = agent
	return &cp
}

// Log writes an event. Missing request/agent fields are filled from the logger.
func (a *AuditLogger) Log(event AuditEvent) {
	auditMu.Lock()
	z := auditZap
	auditMu.Unlock()
	if z == nil {
		return
	}

	if event.RequestID == "" {
		event.RequestID = a.requestID
	}
	if event.Agent == "" {
		event.Agent = a.agent
	}

	fields := []zap.Field{
		zap.String("req", event.RequestID),
		zap.Bool("ok", event.Success),
	}
	if event.Agent != "" {
		fields = append(fields, zap.String("agent", event.Agent))
	}
	if event.Target != "" {
		fields = append(fields, zap.String("target", event.Target))
	}
	if event.DurationMs > 0 {
		fields = append(fields, zap.Int64("ms", event.DurationMs))
	}
	if event.Error != "" {
		fields = append(fields, zap.String("err", event.Error))
	}
	if len(event.Fields) > 0 {
		fields = append(fields, zap.Any("fields", event.Fields))
	}
	z.Info(string(event.Type), fields...)
}

// TurnStart records the start of a chat turn.
func (a *AuditLogger) TurnStart(historyLen int) {
	a.Log(AuditEvent{Type: AuditTurnStart, Success: true, Fields: map[string]interface{}{"history": historyLen}})
}

// TurnEnd records the end of a chat turn.
func (a *AuditLogger) TurnEnd(start time.Time, iterations int, err error) {
	ev := AuditEvent{
		Type:       AuditTurnEnd,
		Success:    err == nil,
		DurationMs: time.Since(start).Milliseconds(),
		Fields:     map[string]interface{}{"iterations": iterations},
	}
	if err != nil {
		ev.Error = err.Error()
	}
	a.Log(ev)
}

// LLMCall records a model completion.
func (a *AuditLogger) LLMCall(model string, durationMs int64, err error) {
	ev := AuditEvent{Type: AuditLLMResponse, Target: model, Success: err == nil, DurationMs: durationMs}
	if err != nil {
		ev.Type = AuditLLMError
		ev.Error = err.Error()
	}
	a.Log(ev)
}

// ToolExec records a tool execution outcome.
func (a *AuditLogger) ToolExec(toolName string, durationMs int64, err error) {
	ev := AuditEvent{Type: AuditToolComplete, Target: toolName, Success: err == nil, DurationMs: durationMs}
	if err != nil {
		ev.Type = AuditToolError
		ev.Error = err.Error()
	}
	a.Log(ev)
}

// ToolRejected records a tool call that failed validation.
func (a *AuditLogger) ToolRejected(toolName string, err error) {
	a.Log(AuditEvent{Type: AuditToolRejected, Target: toolName, Error: err.Error()})
}

// CriticVerdict records the critic's grade for one iteration.
func (a *AuditLogger) CriticVerdict(iteration int, approved bool, score float64) {
	a.Log(AuditEvent{
		Type:    AuditCriticVerdict,
		Success: approved,
		Fields:  map[string]interface{}{"iteration": iteration, "score": score},
	})
}

// KnowledgeIngest records chunks added to the knowledge base.
func (a *AuditLogger) KnowledgeIngest(source string, chunks int) {
	a.Log(AuditEvent{Type: AuditKnowledgeIngest, Target: source, Success: true, Fields: map[string]interface{}{"chunks": chunks}})
}

// KnowledgeQuery records a knowledge base lookup.
func (a *AuditLogger) KnowledgeQuery(query string, hits int) {
	a.Log(AuditEvent{Type: AuditKnowledgeQuery, Target: query, Success: true, Fields: map[string]interface{}{"hits": hits}})
}
