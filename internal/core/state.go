package core

import "time"

// MonitorPhase is the monitor loop's current state.
type MonitorPhase string

const (
	PhaseIdle     MonitorPhase = "idle"
	PhaseRunning  MonitorPhase = "running"
	PhaseChecking MonitorPhase = "checking"
	PhaseSleeping MonitorPhase = "sleeping"
	PhaseStopped  MonitorPhase = "stopped"
)

// MonitorState is process-lifetime state owned by the monitor loop. It is
// never persisted.
type MonitorState struct {
	Running        bool         `json:"running"`
	Phase          MonitorPhase `json:"phase"`
	RetryCount     int          `json:"retry_count"`
	LastCheckTime  time.Time    `json:"last_check_time,omitempty"`
	LastCheckCount int          `json:"last_check_count"`
	LastError      string       `json:"last_error,omitempty"`
	NextCheckTime  time.Time    `json:"next_check_time,omitempty"`
}
