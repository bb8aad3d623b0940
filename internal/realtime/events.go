package realtime

// Event is a call lifecycle event delivered by the realtime platform.
type Event string

const (
	// EventJoined fires when the call's media is established.
	EventJoined Event = "call.joined"
	// EventEnded fires when the call terminates after a local hangup request.
	EventEnded Event = "call.ended"
	// EventDestroyed fires when the platform tears the call down without a
	// local hangup, typically because the remote party hung up.
	EventDestroyed Event = "call.destroyed"
)

// ctrlEvent is an event frame from the platform's control socket.
type ctrlEvent struct {
	Event  bool   `json:"event"`
	Type   Event  `json:"type"`
	CallID string `json:"call_id"`
	Param  string `json:"param,omitempty"`
}

// ctrlResponse is a command acknowledgement from the control socket.
type ctrlResponse struct {
	Response bool   `json:"response"`
	OK       bool   `json:"ok"`
	Data     string `json:"data,omitempty"`
	Token    string `json:"token,omitempty"`
}

// ctrlCommand is a command frame sent to the control socket.
type ctrlCommand struct {
	Command string `json:"command"`
	Params  string `json:"params,omitempty"`
	Token   string `json:"token,omitempty"`
}
