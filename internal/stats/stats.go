package stats

import (
	"sync"
	"time"
)

const (
	runtimeHistorySize = 10
	outcomeWindow      = 24 * time.Hour
)

// Outcome is one completed run, kept in the 24 h window.
type Outcome struct {
	Agent     string
	Timestamp time.Time
	Duration  time.Duration
	Success   bool
}

// RunStats keeps rolling per-agent runtimes and a sliding window of run
// outcomes. Pure telemetry: nothing here feeds back into scheduling.
type RunStats struct {
	mu        sync.Mutex
	runtimes  map[string][]time.Duration
	window    []Outcome
	totalRuns int
	succeeded int
	failed    int
	nowFn     func() time.Time
}

func NewRunStats() *RunStats {
	return &RunStats{
		runtimes: make(map[string][]time.Duration),
		nowFn:    time.Now,
	}
}

// Record appends one run outcome, trimming the per-agent runtime ring to the
// last 10 entries and pruning window entries older than 24 h.
func (s *RunStats) Record(agent string, duration time.Duration, success bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.totalRuns++
	if success {
		s.succeeded++
	} else {
		s.failed++
	}

	hist := append(s.runtimes[agent], duration)
	if len(hist) > runtimeHistorySize {
		hist = hist[len(hist)-runtimeHistorySize:]
	}
	s.runtimes[agent] = hist

	now := s.nowFn()
	s.window = append(s.window, Outcome{Agent: agent, Timestamp: now, Duration: duration, Success: success})
	cutoff := now.Add(-outcomeWindow)
	kept := s.window[:0]
	for _, o := range s.window {
		if o.Timestamp.After(cutoff) {
			kept = append(kept, o)
		}
	}
	s.window = kept
}

// AverageRuntime reports the mean of the last 10 runtimes for agent.
func (s *RunStats) AverageRuntime(agent string) (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	hist := s.runtimes[agent]
	if len(hist) == 0 {
		return 0, false
	}
	var sum time.Duration
	for _, d := range hist {
		sum += d
	}
	return sum / time.Duration(len(hist)), true
}

// Summary is the reporting view exposed over the status API.
type Summary struct {
	TotalRuns       int                `json:"total_runs"`
	Succeeded       int                `json:"successful_runs"`
	Failed          int                `json:"failed_runs"`
	SuccessRatePct  float64            `json:"success_rate_pct"`
	AverageRuntimes map[string]float64 `json:"average_runtimes_seconds"`
	Last24hRuns     int                `json:"last_24h_runs"`
}

func (s *RunStats) Summary() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()

	avg := make(map[string]float64, len(s.runtimes))
	for agent, hist := range s.runtimes {
		if len(hist) == 0 {
			continue
		}
		var sum time.Duration
		for _, d := range hist {
			sum += d
		}
		avg[agent] = (sum / time.Duration(len(hist))).Seconds()
	}
	rate := 0.0
	if s.totalRuns > 0 {
		rate = float64(s.succeeded) / float64(s.totalRuns) * 100
	}
	return Summary{
		TotalRuns:       s.totalRuns,
		Succeeded:       s.succeeded,
		Failed:          s.failed,
		SuccessRatePct:  rate,
		AverageRuntimes: avg,
		Last24hRuns:     len(s.window),
	}
}
