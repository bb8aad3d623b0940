package realtime

import (
	"context"
	"fmt"
	"sync"
)

// CallSession is the live handle for one outbound call, from dial to
// termination. Event handlers registered with On run on the client's read
// loop; Release detaches the session so no handler fires afterwards.
type CallSession struct {
	client      *Client
	callID      string
	destination string

	mu       sync.Mutex
	handlers map[Event][]func()
	released bool
}

func newCallSession(client *Client, callID, destination string) *CallSession {
	return &CallSession{
		client:      client,
		callID:      callID,
		destination: destination,
		handlers:    make(map[Event][]func()),
	}
}

// ID returns the platform call identifier.
func (s *CallSession) ID() string { return s.callID }

// Destination returns the normalized dialed address.
func (s *CallSession) Destination() string { return s.destination }

// On registers a handler for a call event. Handlers accumulate; they are all
// dropped on Release.
func (s *CallSession) On(event Event, handler func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return
	}
	s.handlers[event] = append(s.handlers[event], handler)
}

// Start asks the platform to begin call setup. Events follow asynchronously.
func (s *CallSession) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	resp, err := s.client.sendCommand("start", s.callID)
	if err != nil {
		return fmt.Errorf("starting call %s: %w", s.callID, err)
	}
	if !resp.OK {
		return fmt.Errorf("call start rejected: %s", resp.Data)
	}
	return nil
}

// Hangup requests call termination. Termination is signaled by a subsequent
// EventEnded (or EventDestroyed); a successful Hangup does not mean the call
// is over yet.
func (s *CallSession) Hangup() error {
	resp, err := s.client.sendCommand("hangup", s.callID)
	if err != nil {
		return fmt.Errorf("hanging up call %s: %w", s.callID, err)
	}
	if !resp.OK {
		return fmt.Errorf("hangup rejected: %s", resp.Data)
	}
	return nil
}

// SendDigits forwards DTMF digits into the call.
func (s *CallSession) SendDigits(digits string) error {
	if digits == "" {
		return fmt.Errorf("no digits to send")
	}
	resp, err := s.client.sendCommand("dtmf", s.callID+" "+digits)
	if err != nil {
		return fmt.Errorf("sending digits on call %s: %w", s.callID, err)
	}
	if !resp.OK {
		return fmt.Errorf("dtmf rejected: %s", resp.Data)
	}
	return nil
}

// Mute toggles the platform-side microphone state for this call.
func (s *CallSession) Mute(muted bool) error {
	state := "off"
	if muted {
		state = "on"
	}
	resp, err := s.client.sendCommand("mute", s.callID+" "+state)
	if err != nil {
		return fmt.Errorf("muting call %s: %w", s.callID, err)
	}
	if !resp.OK {
		return fmt.Errorf("mute rejected: %s", resp.Data)
	}
	return nil
}

// Release unsubscribes all handlers and detaches the session from the client,
// so late events cannot fire into a disposed owner. Safe to call twice.
func (s *CallSession) Release() {
	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		return
	}
	s.released = true
	s.handlers = nil
	s.mu.Unlock()

	s.client.removeSession(s.callID)
}

// deliver runs the registered handlers for an event.
func (s *CallSession) deliver(event Event) {
	s.mu.Lock()
	handlers := append([]func(){}, s.handlers[event]...)
	s.mu.Unlock()

	for _, h := range handlers {
		h()
	}
}
