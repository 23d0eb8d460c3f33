package audio

import (
	"time"
)

// StallPolicy decides what the mixer does when one producer has no frame
// ready within the pull timeout. Substituting silence keeps the healthy
// source flowing at the cost of dropping the stalled one's audio for that
// frame; it is a tunable trade-off, not a fixed rule.
type StallPolicy int

const (
	// SubstituteSilence writes zeros for the stalled source's frame.
	SubstituteSilence StallPolicy = iota
)

// MixerConfig configures the dual-stream combining loop.
type MixerConfig struct {
	FrameLen    int // samples per mono frame
	SysChannels int // channel count of the system/loopback producer
	PullTimeout time.Duration
	StallPolicy StallPolicy
}

// Mixer combines a microphone stream and a system-audio stream into one
// mono stream. Producers close their channels when exhausted; the output
// closes once both have ended.
type Mixer struct {
	cfg MixerConfig
	mic <-chan []int16
	sys <-chan []int16
	out chan []int16
}

// NewMixer wires the two producer channels to a combining loop.
func NewMixer(mic, sys <-chan []int16, cfg MixerConfig) *Mixer {
	if cfg.PullTimeout <= 0 {
		cfg.PullTimeout = DefaultPullTimeout
	}
	if cfg.SysChannels <= 0 {
		cfg.SysChannels = 1
	}
	return &Mixer{
		cfg: cfg,
		mic: mic,
		sys: sys,
		out: make(chan []int16, FrameQueueDepth),
	}
}

// Out returns the mixed mono stream.
func (m *Mixer) Out() <-chan []int16 { return m.out }

// Run drives the combining loop until both producers end. Call in its own
// goroutine.
func (m *Mixer) Run() {
	defer close(m.out)

	active := 2
	micOpen, sysOpen := true, true

	for active > 0 {
		micFrame, ok := m.pull(m.mic, micOpen)
		if micOpen && !ok {
			micOpen = false
			active--
		}
		sysFrame, ok := m.pull(m.sys, sysOpen)
		if sysOpen && !ok {
			sysOpen = false
			active--
		}
		if active == 0 {
			return
		}

		sysMono := DownmixMono(sysFrame, m.cfg.SysChannels)
		m.out <- MixFrames(micFrame, sysMono, m.cfg.FrameLen)
	}
}

// pull fetches one frame, substituting silence on timeout. The second
// return is false once the channel is closed.
func (m *Mixer) pull(ch <-chan []int16, open bool) ([]int16, bool) {
	if !open {
		return nil, false
	}
	timer := time.NewTimer(m.cfg.PullTimeout)
	defer timer.Stop()

	select {
	case frame, ok := <-ch:
		if !ok {
			return nil, false
		}
		return frame, true
	case <-timer.C:
		return nil, true // stalled, caller mixes silence
	}
}

// DownmixMono averages interleaved channels into a mono frame. Mono input
// passes through unchanged.
func DownmixMono(frame []int16, channels int) []int16 {
	if channels <= 1 || frame == nil {
		return frame
	}
	mono := make([]int16, len(frame)/channels)
	for i := range mono {
		var sum int
		for c := 0; c < channels; c++ {
			sum += int(frame[i*channels+c])
		}
		mono[i] = int16(sum / channels)
	}
	return mono
}

// MixFrames sums two mono frames sample-by-sample, clamping to the signed
// 16-bit range. A nil frame counts as silence; the result always has
// frameLen samples.
func MixFrames(a, b []int16, frameLen int) []int16 {
	mixed := make([]int16, frameLen)
	for i := range mixed {
		var sum int
		if i < len(a) {
			sum += int(a[i])
		}
		if i < len(b) {
			sum += int(b[i])
		}
		if sum > 32767 {
			sum = 32767
		} else if sum < -32768 {
			sum = -32768
		}
		mixed[i] = int16(sum)
	}
	return mixed
}
