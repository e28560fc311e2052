package core

import "time"

// MetricsRecorder receives solve and cut events from the decomposition.
// Implementations must be safe for concurrent use.
type MetricsRecorder interface {
	ObserveSubproblemSolve(status string, elapsed time.Duration)
	ObserveCut(kind string)
	ObserveCallback(elapsed time.Duration, cuts int)
	ObserveMasterSolve(state string, elapsed time.Duration)
}

type noopRecorder struct{}

func (noopRecorder) ObserveSubproblemSolve(string, time.Duration) {}
func (noopRecorder) ObserveCut(string)                            {}
func (noopRecorder) ObserveCallback(time.Duration, int)           {}
func (noopRecorder) ObserveMasterSolve(string, time.Duration)     {}

// Cut kinds reported to MetricsRecorder.ObserveCut.
const (
	CutOptimality  = "optimality"
	CutFeasibility = "feasibility"
)
