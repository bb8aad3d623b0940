// Package callcontrol drives the state machine for exactly one outbound call:
// idle -> connecting -> connected -> hanging_up -> ended. A Controller is
// single-use; once it reaches ended it must be discarded, not restarted.
package callcontrol

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/clearline/dialer/internal/phone"
	"github.com/clearline/dialer/internal/realtime"
)

// Session is the live call handle the controller drives. *realtime.CallSession
// satisfies it; tests substitute fakes.
type Session interface {
	Start(ctx context.Context) error
	Hangup() error
	SendDigits(digits string) error
	Mute(muted bool) error
	On(event realtime.Event, handler func())
	Release()
}

// Dialer places outbound calls.
type Dialer interface {
	Dial(destination string) (Session, error)
}

// ClientProvider supplies the shared realtime client, constructing it from a
// valid token when needed.
type ClientProvider interface {
	Acquire(ctx context.Context) (Dialer, error)
}

// Controller owns one CallSession at a time and coordinates client
// acquisition, dialing, audio routing, in-call controls, and teardown.
//
// The onEnded callback fires exactly once, after cleanup, when a call that
// actually had a session reaches ended. Setup failures before a session
// exists end the controller silently so the UI does not navigate as if a
// call occurred.
type Controller struct {
	destination string
	clients     ClientProvider
	audio       AudioRouter
	onEnded     func()
	logger      *logrus.Entry

	tickInterval time.Duration

	mu            sync.Mutex
	state         State
	session       Session
	initializing  bool
	muted         bool
	speaker       bool
	audioOn       bool
	device        AudioDevice
	durationSecs  int
	tickerStop    chan struct{}
	endedNotified bool
}

func NewController(destination string, clients ClientProvider, audio AudioRouter, onEnded func(), logger *logrus.Logger) *Controller {
	return &Controller{
		destination:  destination,
		clients:      clients,
		audio:        audio,
		onEnded:      onEnded,
		logger:       logger.WithField("component", "callcontrol"),
		tickInterval: time.Second,
		state:        StateIdle,
		device:       DeviceEarpiece,
	}
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Duration returns the whole seconds the call has been connected.
func (c *Controller) Duration() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.durationSecs
}

// Muted returns the current microphone mute flag.
func (c *Controller) Muted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.muted
}

// SpeakerOn returns the current speakerphone flag.
func (c *Controller) SpeakerOn() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.speaker
}

// StartCall acquires the realtime client, dials the destination, and wires
// the session's lifecycle events. Duplicate invocations while a start is in
// progress or already done are silent no-ops: the in-flight flag and the
// state transition happen under the lock before the first suspension point,
// so a second caller observes them and returns immediately.
func (c *Controller) StartCall(ctx context.Context) error {
	c.mu.Lock()
	if c.initializing || c.state != StateIdle {
		c.logger.WithField("state", c.state.String()).Debug("duplicate call start ignored")
		c.mu.Unlock()
		return nil
	}
	c.initializing = true
	c.state = StateConnecting
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.initializing = false
		c.mu.Unlock()
	}()

	client, err := c.clients.Acquire(ctx)
	if err != nil {
		// No client means no session was ever created: end silently, the
		// dialer screen stays put.
		c.logger.WithError(err).Warn("call setup failed before dialing")
		c.finish(false)
		return fmt.Errorf("acquiring realtime client: %w", err)
	}

	// Audio routing starts before the dial: speakerphone off, screen awake.
	if err := c.audio.Start(); err != nil {
		c.logger.WithError(err).Warn("audio routing failed to start")
	}
	c.mu.Lock()
	c.audioOn = true
	c.mu.Unlock()

	dest := phone.NormalizeE164(c.destination)
	session, err := client.Dial(dest)
	if err != nil {
		c.logger.WithError(err).Warn("dial failed")
		c.finish(false)
		return fmt.Errorf("dialing %s: %w", dest, err)
	}

	c.mu.Lock()
	if c.state.Terminal() {
		// Torn down while the dial was in flight.
		c.mu.Unlock()
		session.Release()
		return nil
	}
	c.session = session
	c.mu.Unlock()

	session.On(realtime.EventJoined, c.handleJoined)
	session.On(realtime.EventEnded, func() { c.finish(true) })
	session.On(realtime.EventDestroyed, func() { c.finish(true) })

	if err := session.Start(ctx); err != nil {
		// A session exists, so this is a real call failure, not a setup one.
		c.logger.WithError(err).Warn("call start failed")
		c.finish(true)
		return fmt.Errorf("starting call: %w", err)
	}

	c.logger.WithField("destination", dest).Info("call connecting")
	return nil
}

// handleJoined moves the call to connected and starts the duration counter.
func (c *Controller) handleJoined() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateConnecting {
		return
	}
	c.state = StateConnected
	c.logger.Info("call connected")

	stop := make(chan struct{})
	c.tickerStop = stop
	interval := c.tickInterval
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.mu.Lock()
				// A tick can race the stop channel closing; cleanup clears
				// tickerStop under this lock, so recheck before counting.
				if c.tickerStop != stop {
					c.mu.Unlock()
					return
				}
				c.durationSecs++
				c.mu.Unlock()
			case <-stop:
				return
			}
		}
	}()
}

// Hangup requests termination of the active call. Cleanup waits for the
// platform's terminal event; only a synchronous hangup failure short-circuits
// straight to ended.
func (c *Controller) Hangup() {
	c.mu.Lock()
	if c.session == nil || c.state.Terminal() {
		c.mu.Unlock()
		return
	}
	c.state = StateHangingUp
	session := c.session
	c.mu.Unlock()

	c.logger.Info("hanging up")
	if err := session.Hangup(); err != nil {
		c.logger.WithError(err).Warn("hangup request failed, forcing teardown")
		c.finish(true)
	}
}

// ToggleMute flips the mute flag and applies it to the session's microphone.
// Outside connected it changes nothing and returns the prior value.
func (c *Controller) ToggleMute() bool {
	c.mu.Lock()
	if c.state != StateConnected || c.session == nil {
		muted := c.muted
		c.mu.Unlock()
		return muted
	}
	c.muted = !c.muted
	muted := c.muted
	session := c.session
	c.mu.Unlock()

	if err := session.Mute(muted); err != nil {
		c.logger.WithError(err).Warn("applying mute failed")
	}
	return muted
}

// ToggleSpeaker flips the speakerphone flag. Outside connected it changes
// nothing and returns the prior value.
func (c *Controller) ToggleSpeaker() bool {
	c.mu.Lock()
	if c.state != StateConnected {
		speaker := c.speaker
		c.mu.Unlock()
		return speaker
	}
	c.speaker = !c.speaker
	speaker := c.speaker
	c.mu.Unlock()

	if err := c.audio.SetSpeaker(speaker); err != nil {
		c.logger.WithError(err).Warn("applying speaker routing failed")
	}
	return speaker
}

// SelectAudioDevice routes to the given device class: speaker-class devices
// force speakerphone on, everything else turns it off.
func (c *Controller) SelectAudioDevice(device AudioDevice) {
	c.mu.Lock()
	if c.state != StateConnected {
		c.mu.Unlock()
		return
	}
	c.device = device
	c.speaker = device.IsSpeaker()
	speaker := c.speaker
	c.mu.Unlock()

	if err := c.audio.SetSpeaker(speaker); err != nil {
		c.logger.WithError(err).Warn("applying speaker routing failed")
	}
}

// SendDigits forwards DTMF digits to the active session. A failed keypress is
// logged and swallowed; it must never end the call.
func (c *Controller) SendDigits(digits string) {
	c.mu.Lock()
	if c.state != StateConnected || c.session == nil {
		c.logger.WithField("state", c.state.String()).Debug("cannot send digits, call not connected")
		c.mu.Unlock()
		return
	}
	session := c.session
	c.mu.Unlock()

	if err := session.SendDigits(digits); err != nil {
		c.logger.WithError(err).Warn("sending digits failed")
	}
}

// Close tears the controller down when its owner goes away mid-call: a
// best-effort hangup, then cleanup without any end notification.
func (c *Controller) Close() {
	c.mu.Lock()
	session := c.session
	terminal := c.state.Terminal()
	c.mu.Unlock()

	if !terminal && session != nil {
		if err := session.Hangup(); err != nil {
			c.logger.WithError(err).Debug("hangup during teardown failed")
		}
	}
	c.finish(false)
}

// finish performs the single transition into ended: stop the counter, stop
// audio routing, release the session, clear the in-flight flag. Whichever
// terminal trigger arrives first wins; later ones observe ended and return.
// The end notification fires at most once, and only when notify is set.
func (c *Controller) finish(notify bool) {
	c.mu.Lock()
	if c.state.Terminal() && c.session == nil && c.tickerStop == nil {
		c.mu.Unlock()
		return
	}
	c.state = StateEnded

	if c.tickerStop != nil {
		close(c.tickerStop)
		c.tickerStop = nil
	}

	session := c.session
	c.session = nil
	c.initializing = false
	audioOn := c.audioOn
	c.audioOn = false

	shouldNotify := notify && !c.endedNotified
	if shouldNotify {
		c.endedNotified = true
	}
	c.mu.Unlock()

	if audioOn {
		c.audio.Stop()
	}
	if session != nil {
		session.Release()
	}

	c.logger.Info("call ended")
	if shouldNotify && c.onEnded != nil {
		c.onEnded()
	}
}
