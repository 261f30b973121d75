package usage

import "time"

// Data is the persisted usage file.
type Data struct {
	Version string    `json:"version"`
	Updated time.Time `json:"updated"`
	Stats   Stats     `json:"stats"`
}

// Stats holds token counters broken down by model, agent, and operation.
type Stats struct {
	Total       TokenCounts            `json:"total"`
	ByModel     map[string]TokenCounts `json:"by_model"`
	ByAgent     map[string]TokenCounts `json:"by_agent"`
	ByOperation map[string]TokenCounts `json:"by_operation"`
}

// TokenCounts holds input/output sums.
type TokenCounts struct {
	Calls  int64 `json:"calls"`
	Input  int64 `json:"input"`
	Output int64 `json:"output"`
	Total  int64 `json:"total"`
}

func (tc *TokenCounts) Add(input, output int) {
	tc.Calls++
	tc.Input += int64(input)
	tc.Output += int64(output)
	tc.Total += int64(input + output)
}

func newStats() Stats {
	return Stats{
		ByModel:     make(map[string]TokenCounts),
		ByAgent:     make(map[string]TokenCounts),
		ByOperation: make(map[string]TokenCounts),
	}
}

func (s *Stats) ensureMaps() {
	if s.ByModel == nil {
		s.ByModel = make(map[string]TokenCounts)
	}
	if s.ByAgent == nil {
		s.ByAgent = make(map[string]TokenCounts)
	}
	if s.ByOperation == nil {
		s.ByOperation = make(map[string]TokenCounts)
	}
}

func (s Stats) clone() Stats {
	s.ByModel = copyCounts(s.ByModel)
	s.ByAgent = copyCounts(s.ByAgent)
	s.ByOperation = copyCounts(s.ByOperation)
	return s
}

func copyCounts(src map[string]TokenCounts) map[string]TokenCounts {
	dst := make(map[string]TokenCounts, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

func addTo(m map[string]TokenCounts, key string, input, output int) {
	if key == "" {
		key = "unknown"
	}
	entry := m[key]
	entry.Add(input, output)
	m[key] = entry
}
