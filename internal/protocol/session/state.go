package session

// ConnectionState is the engine's belief about the peer's power state,
// derived only from the most recent transaction.
type ConnectionState int

const (
	StateUnknown ConnectionState = iota
	StateAwake
	StateAsleep
)

func (s ConnectionState) String() string {
	switch s {
	case StateAwake:
		return "awake"
	case StateAsleep:
		return "asleep"
	default:
		return "unknown"
	}
}

// Phase is a transaction state machine phase.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseSending
	PhaseAwaitingResponse
	PhaseRetrying
	PhaseWakingUp
	PhaseCompleted
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseSending:
		return "sending"
	case PhaseAwaitingResponse:
		return "awaiting_response"
	case PhaseRetrying:
		return "retrying"
	case PhaseWakingUp:
		return "waking_up"
	case PhaseCompleted:
		return "completed"
	case PhaseFailed:
		return "failed"
	default:
		return "idle"
	}
}
