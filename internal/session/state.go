package session

// State is the orchestrator lifecycle state
type State int32

const (
	// StateIdle is the zero state before the server starts
	StateIdle State = iota
	// StateAwaitingIngress waits for the first audio connection
	StateAwaitingIngress
	// StateAwaitingGate has ingress but waits for recording authorization
	StateAwaitingGate
	// StateStreaming forwards audio and routes transcripts
	StateStreaming
	// StateDraining tears the session down in order
	StateDraining
	// StateTerminated is the final state
	StateTerminated
	// StateFatalError is the sink state after a provider init failure
	StateFatalError
)

// String returns the state name
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingIngress:
		return "awaiting_ingress"
	case StateAwaitingGate:
		return "awaiting_gate"
	case StateStreaming:
		return "streaming"
	case StateDraining:
		return "draining"
	case StateTerminated:
		return "terminated"
	case StateFatalError:
		return "fatal_error"
	default:
		return "unknown"
	}
}
