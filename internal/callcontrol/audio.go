package callcontrol

import "github.com/sirupsen/logrus"

// AudioDevice classifies the platform audio outputs a call can route to.
type AudioDevice string

const (
	DeviceSpeaker      AudioDevice = "speaker"
	DeviceEarpiece     AudioDevice = "earpiece"
	DeviceBluetooth    AudioDevice = "bluetooth"
	DeviceWiredHeadset AudioDevice = "wired_headset"
)

// IsSpeaker reports whether the device class implies speakerphone routing.
func (d AudioDevice) IsSpeaker() bool {
	return d == DeviceSpeaker
}

// AudioRouter abstracts the platform in-call audio session. Start begins
// routing with speakerphone off and the screen kept awake; Stop ends the
// audio session. Both bracket exactly one call.
type AudioRouter interface {
	Start() error
	Stop()
	SetSpeaker(on bool) error
}

// LogAudioRouter is an AudioRouter for headless environments: it records the
// requested routing in the log and does nothing else.
type LogAudioRouter struct {
	logger *logrus.Entry
}

func NewLogAudioRouter(logger *logrus.Logger) *LogAudioRouter {
	return &LogAudioRouter{logger: logger.WithField("component", "audio")}
}

func (r *LogAudioRouter) Start() error {
	r.logger.Debug("audio routing started (speaker off, keep screen on)")
	return nil
}

func (r *LogAudioRouter) Stop() {
	r.logger.Debug("audio routing stopped")
}

func (r *LogAudioRouter) SetSpeaker(on bool) error {
	r.logger.WithField("speaker", on).Debug("speakerphone set")
	return nil
}
