// Package v1 contains the shared types exchanged between the coordination
// core, the runner, and the Hub.
package v1

import "time"

// ActivationMode determines which pending signal makes an agent due for activation.
type ActivationMode string

const (
	// ActivationModeNotification activates only when inbox items are pending.
	ActivationModeNotification ActivationMode = "notification"
	// ActivationModeExploration activates only when discovery is due.
	ActivationModeExploration ActivationMode = "exploration"
	// ActivationModeHybrid activates on either signal.
	ActivationModeHybrid ActivationMode = "hybrid"
)

// Valid reports whether the mode is one of the recognized values.
func (m ActivationMode) Valid() bool {
	switch m {
	case ActivationModeNotification, ActivationModeExploration, ActivationModeHybrid:
		return true
	}
	return false
}

// Brain describes the model backing an agent.
type Brain struct {
	Model       string  `json:"model"`
	Provider    string  `json:"provider"`
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
}

// AgentConfig is the Hub-owned description of one agent. It is read-only to
// the coordination core and refreshed from the Hub on every scheduling pass.
type AgentConfig struct {
	ID       string         `json:"id"`
	Name     string         `json:"name"`
	Brain    Brain          `json:"brain"`
	Mode     ActivationMode `json:"mode"`
	Executor string         `json:"executor"` // backend name, resolved via the executor registry
}

// ActivationCandidate is produced fresh on each scheduling pass and never persisted.
type ActivationCandidate struct {
	AgentID          string         `json:"agent_id"`
	Mode             ActivationMode `json:"mode"`
	LastActivationAt time.Time      `json:"last_activation_at"`
	Reason           string         `json:"reason"` // "inbox" or "discovery"
}

// ActivationStatus tracks the lifecycle of a granted activation.
type ActivationStatus string

const (
	ActivationStatusGranted   ActivationStatus = "granted"
	ActivationStatusRunning   ActivationStatus = "running"
	ActivationStatusCompleted ActivationStatus = "completed"
	ActivationStatusTimedOut  ActivationStatus = "timed_out"
	ActivationStatusFailed    ActivationStatus = "failed"
)

// Budget bounds one activation.
type Budget struct {
	MaxIterations int           `json:"max_iterations"`
	Timeout       time.Duration `json:"timeout"`
}

// Activation is the unit of work once a lease has been granted. It is owned
// exclusively by the runner that holds the lease.
type Activation struct {
	ID        string           `json:"id"`
	AgentID   string           `json:"agent_id"`
	RunnerID  string           `json:"runner_id"`
	StartedAt time.Time        `json:"started_at"`
	Budget    Budget           `json:"budget"`
	Status    ActivationStatus `json:"status"`
}

// ExecutorResult is produced once per executor invocation and is immutable
// after creation.
type ExecutorResult struct {
	ExitStatus    int           `json:"exit_status"`
	RawOutput     string        `json:"raw_output"`
	TokensInput   int           `json:"tokens_input"`
	TokensOutput  int           `json:"tokens_output"`
	FilesModified int           `json:"files_modified"`
	Duration      time.Duration `json:"duration"`
}

// ActivationMetrics aggregates the results of all iterations of one activation
// for reporting back to the Hub.
type ActivationMetrics struct {
	TokensInput   int64            `json:"tokens_input"`
	TokensOutput  int64            `json:"tokens_output"`
	FilesModified int              `json:"files_modified"`
	Iterations    int              `json:"iterations"`
	Duration      time.Duration    `json:"duration"`
	FinalStatus   ActivationStatus `json:"final_status"`
}

// SandboxSpec parameterizes sandbox acquisition. Configuration, not a runtime entity.
type SandboxSpec struct {
	Image    string  `json:"image"`
	MemoryMB int64   `json:"memory_mb"`
	CPUCores float64 `json:"cpu_cores"`
}
