package callcontrol

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/clearline/dialer/internal/realtime"
)

type fakeSession struct {
	mu       sync.Mutex
	handlers map[realtime.Event][]func()

	startErr   error
	hangupErr  error
	digitsErr  error
	hangups    atomic.Int32
	releases   atomic.Int32
	muteCalls  []bool
	sentDigits []string
}

func newFakeSession() *fakeSession {
	return &fakeSession{handlers: make(map[realtime.Event][]func())}
}

func (s *fakeSession) Start(ctx context.Context) error { return s.startErr }

func (s *fakeSession) Hangup() error {
	s.hangups.Add(1)
	return s.hangupErr
}

func (s *fakeSession) SendDigits(digits string) error {
	s.mu.Lock()
	s.sentDigits = append(s.sentDigits, digits)
	s.mu.Unlock()
	return s.digitsErr
}

func (s *fakeSession) Mute(muted bool) error {
	s.mu.Lock()
	s.muteCalls = append(s.muteCalls, muted)
	s.mu.Unlock()
	return nil
}

func (s *fakeSession) On(event realtime.Event, handler func()) {
	s.mu.Lock()
	s.handlers[event] = append(s.handlers[event], handler)
	s.mu.Unlock()
}

func (s *fakeSession) Release() { s.releases.Add(1) }

func (s *fakeSession) fire(event realtime.Event) {
	s.mu.Lock()
	handlers := append([]func(){}, s.handlers[event]...)
	s.mu.Unlock()
	for _, h := range handlers {
		h()
	}
}

type fakeDialer struct {
	session *fakeSession
	dialErr error
	dials   atomic.Int32
	lastTo  atomic.Value
}

func (d *fakeDialer) Dial(destination string) (Session, error) {
	d.dials.Add(1)
	d.lastTo.Store(destination)
	if d.dialErr != nil {
		return nil, d.dialErr
	}
	return d.session, nil
}

type fakeProvider struct {
	dialer     *fakeDialer
	acquireErr error
	acquires   atomic.Int32
	delay      time.Duration
}

func (p *fakeProvider) Acquire(ctx context.Context) (Dialer, error) {
	p.acquires.Add(1)
	if p.delay > 0 {
		time.Sleep(p.delay)
	}
	if p.acquireErr != nil {
		return nil, p.acquireErr
	}
	return p.dialer, nil
}

type fakeAudio struct {
	starts   atomic.Int32
	stops    atomic.Int32
	speakers []bool
	mu       sync.Mutex
}

func (a *fakeAudio) Start() error { a.starts.Add(1); return nil }
func (a *fakeAudio) Stop()        { a.stops.Add(1) }
func (a *fakeAudio) SetSpeaker(on bool) error {
	a.mu.Lock()
	a.speakers = append(a.speakers, on)
	a.mu.Unlock()
	return nil
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

type harness struct {
	controller *Controller
	session    *fakeSession
	dialer     *fakeDialer
	provider   *fakeProvider
	audio      *fakeAudio
	ended      *atomic.Int32
}

func newHarness(destination string) *harness {
	session := newFakeSession()
	dialer := &fakeDialer{session: session}
	provider := &fakeProvider{dialer: dialer}
	audio := &fakeAudio{}
	var ended atomic.Int32
	controller := NewController(destination, provider, audio, func() { ended.Add(1) }, quietLogger())
	return &harness{
		controller: controller,
		session:    session,
		dialer:     dialer,
		provider:   provider,
		audio:      audio,
		ended:      &ended,
	}
}

func TestStartCallDialsNormalizedDestination(t *testing.T) {
	h := newHarness("(555) 123-4567")

	if err := h.controller.StartCall(context.Background()); err != nil {
		t.Fatalf("StartCall: %v", err)
	}
	if got := h.dialer.lastTo.Load(); got != "+15551234567" {
		t.Errorf("dialed %v, want +15551234567", got)
	}
	if h.controller.State() != StateConnecting {
		t.Errorf("state = %v, want connecting", h.controller.State())
	}
	if h.audio.starts.Load() != 1 {
		t.Errorf("audio started %d times, want 1", h.audio.starts.Load())
	}
}

func TestRepeatedStartCallIssuesExactlyOneDial(t *testing.T) {
	h := newHarness("5551234567")
	// Hold the first start inside its suspension point so later calls arrive
	// while it is still in flight.
	h.provider.delay = 30 * time.Millisecond

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.controller.StartCall(context.Background())
		}()
	}
	wg.Wait()

	// More attempts after the call is connecting, then connected.
	h.controller.StartCall(context.Background())
	h.session.fire(realtime.EventJoined)
	h.controller.StartCall(context.Background())

	if h.dialer.dials.Load() != 1 {
		t.Fatalf("issued %d dials, want exactly 1", h.dialer.dials.Load())
	}
	if h.provider.acquires.Load() != 1 {
		t.Errorf("acquired client %d times, want 1", h.provider.acquires.Load())
	}
}

func TestTerminalEventOrderings(t *testing.T) {
	orderings := []struct {
		name   string
		events []realtime.Event
	}{
		{"ended only", []realtime.Event{realtime.EventEnded}},
		{"destroyed only", []realtime.Event{realtime.EventDestroyed}},
		{"ended then destroyed", []realtime.Event{realtime.EventEnded, realtime.EventDestroyed}},
		{"destroyed then ended", []realtime.Event{realtime.EventDestroyed, realtime.EventEnded}},
	}

	for _, tc := range orderings {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness("5551234567")
			if err := h.controller.StartCall(context.Background()); err != nil {
				t.Fatalf("StartCall: %v", err)
			}
			h.session.fire(realtime.EventJoined)

			for _, e := range tc.events {
				h.session.fire(e)
			}

			if h.controller.State() != StateEnded {
				t.Errorf("state = %v, want ended", h.controller.State())
			}
			if n := h.ended.Load(); n != 1 {
				t.Errorf("end notification fired %d times, want exactly 1", n)
			}
			if n := h.session.releases.Load(); n != 1 {
				t.Errorf("session released %d times, want exactly 1", n)
			}
			if n := h.audio.stops.Load(); n != 1 {
				t.Errorf("audio stopped %d times, want exactly 1", n)
			}
		})
	}
}

func TestStartCallWithoutTokenEndsSilently(t *testing.T) {
	h := newHarness("5551234567")
	h.provider.acquireErr = errors.New("no valid authentication token")

	if err := h.controller.StartCall(context.Background()); err == nil {
		t.Fatal("expected setup error")
	}
	if h.controller.State() != StateEnded {
		t.Errorf("state = %v, want ended", h.controller.State())
	}
	if h.ended.Load() != 0 {
		t.Error("end notification must not fire when no call ever started")
	}
	if h.dialer.dials.Load() != 0 {
		t.Error("no dial should be issued without a client")
	}
	if h.audio.stops.Load() != 0 {
		t.Error("audio routing never started, so nothing should be stopped")
	}
}

func TestDialFailureEndsSilently(t *testing.T) {
	h := newHarness("5551234567")
	h.dialer.dialErr = errors.New("rejected")

	if err := h.controller.StartCall(context.Background()); err == nil {
		t.Fatal("expected dial error")
	}
	if h.controller.State() != StateEnded {
		t.Errorf("state = %v, want ended", h.controller.State())
	}
	if h.ended.Load() != 0 {
		t.Error("setup failures before a session exists must not notify")
	}
	if h.audio.stops.Load() != 1 {
		t.Error("audio routing must stop on the failure path")
	}
}

func TestSessionStartFailureNotifies(t *testing.T) {
	h := newHarness("5551234567")
	h.session.startErr = errors.New("transport broke")

	if err := h.controller.StartCall(context.Background()); err == nil {
		t.Fatal("expected start error")
	}
	if h.controller.State() != StateEnded {
		t.Errorf("state = %v, want ended", h.controller.State())
	}
	// A session existed, so this is a real call failure.
	if h.ended.Load() != 1 {
		t.Errorf("end notification fired %d times, want 1", h.ended.Load())
	}
	if h.session.releases.Load() != 1 {
		t.Error("session must be released on failure")
	}
}

func TestHangupWaitsForTerminalEvent(t *testing.T) {
	h := newHarness("5551234567")
	h.controller.StartCall(context.Background())
	h.session.fire(realtime.EventJoined)

	h.controller.Hangup()
	if h.controller.State() != StateHangingUp {
		t.Errorf("state = %v, want hanging_up", h.controller.State())
	}
	if h.session.hangups.Load() != 1 {
		t.Errorf("hangups = %d, want 1", h.session.hangups.Load())
	}
	// No cleanup yet; that belongs to the terminal event.
	if h.ended.Load() != 0 || h.session.releases.Load() != 0 {
		t.Error("cleanup must wait for the terminal event")
	}

	h.session.fire(realtime.EventEnded)
	if h.controller.State() != StateEnded || h.ended.Load() != 1 {
		t.Error("terminal event should complete the hangup")
	}
}

func TestHangupFailureForcesImmediateTeardown(t *testing.T) {
	h := newHarness("5551234567")
	h.controller.StartCall(context.Background())
	h.session.fire(realtime.EventJoined)
	h.session.hangupErr = errors.New("broken transport")

	h.controller.Hangup()
	if h.controller.State() != StateEnded {
		t.Errorf("state = %v, want ended", h.controller.State())
	}
	if h.ended.Load() != 1 {
		t.Errorf("end notification fired %d times, want 1", h.ended.Load())
	}
	if h.session.releases.Load() != 1 {
		t.Error("session must be released on forced teardown")
	}
}

func TestHangupIsNoOpWhenIdleOrEnded(t *testing.T) {
	h := newHarness("5551234567")

	h.controller.Hangup() // idle: no session yet
	if h.controller.State() != StateIdle {
		t.Errorf("state = %v, want idle", h.controller.State())
	}

	h.controller.StartCall(context.Background())
	h.session.fire(realtime.EventJoined)
	h.session.fire(realtime.EventEnded)

	h.controller.Hangup() // ended: terminal
	if h.session.hangups.Load() != 0 {
		t.Errorf("hangup requests = %d, want 0", h.session.hangups.Load())
	}
	if h.ended.Load() != 1 {
		t.Errorf("duplicate cleanup after late hangup: notifications = %d", h.ended.Load())
	}
}

func TestDurationCounterAdvancesAndStops(t *testing.T) {
	h := newHarness("5551234567")
	h.controller.tickInterval = 10 * time.Millisecond

	h.controller.StartCall(context.Background())
	if h.controller.Duration() != 0 {
		t.Error("duration should start at zero")
	}
	h.session.fire(realtime.EventJoined)

	deadline := time.Now().Add(2 * time.Second)
	for h.controller.Duration() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if h.controller.Duration() < 3 {
		t.Fatal("duration counter did not advance")
	}

	h.session.fire(realtime.EventEnded)
	frozen := h.controller.Duration()
	time.Sleep(50 * time.Millisecond)
	if got := h.controller.Duration(); got != frozen {
		t.Errorf("duration advanced after cleanup: %d -> %d", frozen, got)
	}
}

func TestDurationNeverTicksPastCleanup(t *testing.T) {
	// A tick arriving just as cleanup closes the stop channel must not land
	// after the call has ended. Hammer the window with a tiny interval.
	for i := 0; i < 50; i++ {
		h := newHarness("5551234567")
		h.controller.tickInterval = time.Millisecond

		if err := h.controller.StartCall(context.Background()); err != nil {
			t.Fatalf("StartCall: %v", err)
		}
		h.session.fire(realtime.EventJoined)
		time.Sleep(3 * time.Millisecond)
		h.session.fire(realtime.EventEnded)

		frozen := h.controller.Duration()
		time.Sleep(5 * time.Millisecond)
		if got := h.controller.Duration(); got != frozen {
			t.Fatalf("iteration %d: duration advanced after cleanup: %d -> %d", i, frozen, got)
		}
	}
}

func TestTogglesAreInertWhileConnecting(t *testing.T) {
	h := newHarness("5551234567")
	h.controller.StartCall(context.Background())

	if got := h.controller.ToggleMute(); got != false {
		t.Error("ToggleMute while connecting should return the prior value")
	}
	if got := h.controller.ToggleSpeaker(); got != false {
		t.Error("ToggleSpeaker while connecting should return the prior value")
	}
	if h.controller.Muted() || h.controller.SpeakerOn() {
		t.Error("flags must not change while connecting")
	}
	if len(h.session.muteCalls) != 0 {
		t.Error("no mute must reach the session while connecting")
	}
}

func TestTogglesApplyWhileConnected(t *testing.T) {
	h := newHarness("5551234567")
	h.controller.StartCall(context.Background())
	h.session.fire(realtime.EventJoined)

	if got := h.controller.ToggleMute(); !got {
		t.Error("first ToggleMute should report muted")
	}
	if got := h.controller.ToggleMute(); got {
		t.Error("second ToggleMute should report unmuted")
	}
	h.session.mu.Lock()
	muteCalls := append([]bool{}, h.session.muteCalls...)
	h.session.mu.Unlock()
	if len(muteCalls) != 2 || muteCalls[0] != true || muteCalls[1] != false {
		t.Errorf("mute calls = %v, want [true false]", muteCalls)
	}

	if got := h.controller.ToggleSpeaker(); !got {
		t.Error("ToggleSpeaker should report speaker on")
	}
	h.audio.mu.Lock()
	speakers := append([]bool{}, h.audio.speakers...)
	h.audio.mu.Unlock()
	if len(speakers) != 1 || speakers[0] != true {
		t.Errorf("speaker routing = %v, want [true]", speakers)
	}
}

func TestSelectAudioDevice(t *testing.T) {
	h := newHarness("5551234567")
	h.controller.StartCall(context.Background())
	h.session.fire(realtime.EventJoined)

	h.controller.SelectAudioDevice(DeviceSpeaker)
	if !h.controller.SpeakerOn() {
		t.Error("speaker device should force speakerphone on")
	}
	h.controller.SelectAudioDevice(DeviceBluetooth)
	if h.controller.SpeakerOn() {
		t.Error("bluetooth device should force speakerphone off")
	}
	h.controller.SelectAudioDevice(DeviceWiredHeadset)
	if h.controller.SpeakerOn() {
		t.Error("wired headset should force speakerphone off")
	}
}

func TestSendDigits(t *testing.T) {
	h := newHarness("5551234567")
	h.controller.StartCall(context.Background())

	h.controller.SendDigits("1") // connecting: dropped
	h.session.fire(realtime.EventJoined)
	h.controller.SendDigits("23#")

	h.session.mu.Lock()
	sent := append([]string{}, h.session.sentDigits...)
	h.session.mu.Unlock()
	if len(sent) != 1 || sent[0] != "23#" {
		t.Errorf("sent digits = %v, want [23#]", sent)
	}

	// A failing keypress is swallowed and must not end the call.
	h.session.digitsErr = errors.New("dtmf rejected")
	h.controller.SendDigits("9")
	if h.controller.State() != StateConnected {
		t.Error("digit failure must not change call state")
	}
}

func TestCloseCleansUpWithoutNotification(t *testing.T) {
	h := newHarness("5551234567")
	h.controller.StartCall(context.Background())
	h.session.fire(realtime.EventJoined)

	h.controller.Close()
	if h.controller.State() != StateEnded {
		t.Errorf("state = %v, want ended", h.controller.State())
	}
	if h.session.hangups.Load() != 1 {
		t.Error("teardown should attempt a hangup")
	}
	if h.session.releases.Load() != 1 {
		t.Error("teardown should release the session")
	}
	if h.audio.stops.Load() != 1 {
		t.Error("teardown should stop audio routing")
	}
	if h.ended.Load() != 0 {
		t.Error("teardown must not fire the end notification")
	}

	// Close is idempotent.
	h.controller.Close()
	if h.session.releases.Load() != 1 || h.audio.stops.Load() != 1 {
		t.Error("second Close must not repeat cleanup")
	}
}

func TestControllerIsSingleUse(t *testing.T) {
	h := newHarness("5551234567")
	h.controller.StartCall(context.Background())
	h.session.fire(realtime.EventJoined)
	h.session.fire(realtime.EventEnded)

	if err := h.controller.StartCall(context.Background()); err != nil {
		t.Fatalf("StartCall on ended controller should be a silent no-op, got %v", err)
	}
	if h.dialer.dials.Load() != 1 {
		t.Errorf("ended controller must not dial again, dials = %d", h.dialer.dials.Load())
	}
	if h.controller.State() != StateEnded {
		t.Errorf("state = %v, want ended", h.controller.State())
	}
}
