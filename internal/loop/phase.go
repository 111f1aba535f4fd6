package loop

// Phase is the link session state. Faulted is transient: it always drains
// into Idle before the next connection attempt. There is no terminal phase;
// the session loop runs for the lifetime of the process.
type Phase int32

const (
	PhaseIdle Phase = iota
	PhaseConnecting
	PhaseConnected
	PhaseFaulted
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseConnecting:
		return "connecting"
	case PhaseConnected:
		return "connected"
	case PhaseFaulted:
		return "faulted"
	}

	return "unknown"
}
