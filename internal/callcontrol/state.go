package callcontrol

// State is the lifecycle state of one outbound call.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateHangingUp
	StateEnded
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateHangingUp:
		return "hanging_up"
	case StateEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition is defined from s.
func (s State) Terminal() bool {
	return s == StateEnded
}
