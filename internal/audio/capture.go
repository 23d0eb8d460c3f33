package audio

import (
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/gordonklaus/portaudio"

	apperrors "github.com/bbrew/core/internal/errors"
)

// Mode selects which endpoints a session records from.
type Mode string

const (
	ModeMicrophone Mode = "microphone"
	ModeSystem     Mode = "system"
	ModeHybrid     Mode = "hybrid"
)

// Config for the capture engine.
type Config struct {
	SampleRate      int
	FramesPerBuffer int
	OnLevel         func(float64) // advisory, must not block
}

// Engine opens devices for a session and runs the write loop. One capture
// at a time; the session manager enforces exclusivity.
type Engine struct {
	reg *Registry
	cfg Config
}

// NewEngine creates a capture engine over a device registry.
func NewEngine(reg *Registry, cfg Config) *Engine {
	if cfg.FramesPerBuffer <= 0 {
		cfg.FramesPerBuffer = 1024
	}
	return &Engine{reg: reg, cfg: cfg}
}

// Capture is one in-flight recording. Frames flow from the device
// producer(s) through an optional mixer into the provisional WAV file,
// which is atomically promoted to the canonical path when the capture ends.
type Capture struct {
	partPath  string
	finalPath string
	frames    <-chan []int16
	stop      func()
	stopOnce  sync.Once
	done      chan struct{}
	onLevel   func(float64)

	mu  sync.Mutex
	err error
}

// Start validates the mode's devices, opens streams, and begins writing to
// partPath. It fails fast with a typed error when a required device is
// missing, without creating any file.
func (e *Engine) Start(mode Mode, partPath, finalPath string) (*Capture, error) {
	// No stream is open yet, so a full host reinit is safe here; it picks
	// up devices plugged in since the last session.
	e.reg.Reinit()

	var sources []*paSource
	var frames <-chan []int16
	var stopAll func()

	switch mode {
	case ModeMicrophone, ModeSystem:
		role := RoleMicrophone
		if mode == ModeSystem {
			role = RoleSystem
		}
		dev, err := e.reg.Describe(role)
		if err != nil {
			return nil, err
		}
		src, err := openSource(dev, 1, e.cfg)
		if err != nil {
			return nil, err
		}
		sources = []*paSource{src}
		frames = src.out

	case ModeHybrid:
		// A pre-mixed hybrid endpoint wins; otherwise fall back to
		// software-mixing the microphone and system devices.
		if dev, err := e.reg.Describe(RoleHybrid); err == nil {
			src, err := openSource(dev, 1, e.cfg)
			if err != nil {
				return nil, err
			}
			sources = []*paSource{src}
			frames = src.out
		} else {
			mic, micErr := e.reg.Describe(RoleMicrophone)
			sys, sysErr := e.reg.Describe(RoleSystem)
			if micErr != nil || sysErr != nil {
				return nil, apperrors.New(apperrors.CodeDeviceNotFound,
					"hybrid mode needs a hybrid device or a microphone+system pair")
			}
			micSrc, err := openSource(mic, 1, e.cfg)
			if err != nil {
				return nil, err
			}
			sysCh := min(sys.Channels, 2)
			sysSrc, err := openSource(sys, sysCh, e.cfg)
			if err != nil {
				micSrc.stop()
				return nil, err
			}
			mixer := NewMixer(micSrc.out, sysSrc.out, MixerConfig{
				FrameLen:    e.cfg.FramesPerBuffer,
				SysChannels: sysCh,
			})
			go mixer.Run()
			sources = []*paSource{micSrc, sysSrc}
			frames = mixer.Out()
		}

	default:
		return nil, apperrors.Newf(apperrors.CodeDeviceNotFound, "unknown capture mode %q", mode)
	}

	stopAll = func() {
		for _, s := range sources {
			s.stop()
		}
	}

	c := &Capture{
		partPath:  partPath,
		finalPath: finalPath,
		frames:    frames,
		stop:      stopAll,
		done:      make(chan struct{}),
		onLevel:   e.cfg.OnLevel,
	}

	for _, s := range sources {
		s.run()
	}
	go c.writeLoop(e.cfg.SampleRate)
	return c, nil
}

// writeLoop drains frames into the provisional file, then promotes it.
func (c *Capture) writeLoop(sampleRate int) {
	defer close(c.done)

	w, err := NewWriter(c.partPath, sampleRate)
	if err != nil {
		c.setErr(err)
		c.stop()
		return
	}

	for frame := range c.frames {
		if c.onLevel != nil {
			c.onLevel(RMSLevel(frame))
		}
		if err := w.WriteFrame(frame); err != nil {
			slog.Error("audio write error", "error", err)
			c.setErr(err)
			break
		}
	}

	if err := w.Close(); err != nil {
		slog.Error("recording close error", "error", err)
		c.setErr(err)
	}

	// Promote even a silent capture; finalization applies the
	// too-short guard.
	if err := Promote(c.partPath, c.finalPath); err != nil {
		slog.Error("recording promote error", "error", err)
		c.setErr(err)
	}
}

// Stop ends the capture; producers close their streams and the write loop
// drains, promotes, and exits.
func (c *Capture) Stop() {
	c.stopOnce.Do(c.stop)
}

// Done is closed once the file has been promoted (or the capture failed).
func (c *Capture) Done() <-chan struct{} { return c.done }

// Err reports the first capture failure, if any.
func (c *Capture) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Capture) setErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err == nil {
		c.err = err
	}
}

// Promote atomically publishes the provisional file under the canonical
// path, with a copy+delete fallback where rename is not supported.
func Promote(partPath, finalPath string) error {
	if _, err := os.Stat(partPath); err != nil {
		return apperrors.Wrap(err, apperrors.CodeNoAudioFile, "provisional file missing")
	}
	if err := os.Rename(partPath, finalPath); err == nil {
		return nil
	}

	in, err := os.Open(partPath)
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeNoAudioFile, "open provisional file")
	}
	defer in.Close()

	out, err := os.Create(finalPath)
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeNoAudioFile, "create canonical file")
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		_ = os.Remove(finalPath)
		return apperrors.Wrap(err, apperrors.CodeNoAudioFile, "copy provisional file")
	}
	if err := out.Close(); err != nil {
		return apperrors.Wrap(err, apperrors.CodeNoAudioFile, "close canonical file")
	}
	_ = os.Remove(partPath)
	return nil
}

// paSource reads fixed-size frames from one portaudio stream into a
// bounded channel, dropping frames when the consumer falls behind.
type paSource struct {
	stream   *portaudio.Stream
	buf      []int16
	out      chan []int16
	name     string
	stopCh   chan struct{}
	stopOnce sync.Once
}

func openSource(dev Device, channels int, cfg Config) (*paSource, error) {
	buf := make([]int16, cfg.FramesPerBuffer*channels)
	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   dev.info,
			Channels: channels,
			Latency:  dev.info.DefaultLowInputLatency,
		},
		SampleRate:      float64(cfg.SampleRate),
		FramesPerBuffer: cfg.FramesPerBuffer,
	}

	stream, err := portaudio.OpenStream(params, buf)
	if err != nil {
		return nil, apperrors.Wrapf(err, apperrors.CodeDeviceBusy, "open stream on %q", dev.Name)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		return nil, apperrors.Wrapf(err, apperrors.CodeDeviceIO, "start stream on %q", dev.Name)
	}

	return &paSource{
		stream: stream,
		buf:    buf,
		out:    make(chan []int16, FrameQueueDepth),
		name:   dev.Name,
		stopCh: make(chan struct{}),
	}, nil
}

func (s *paSource) run() {
	go func() {
		defer close(s.out)
		defer func() {
			_ = s.stream.Stop()
			_ = s.stream.Close()
		}()

		for {
			select {
			case <-s.stopCh:
				return
			default:
			}

			if err := s.stream.Read(); err != nil {
				slog.Debug("audio read error", "device", s.name, "error", err)
				return
			}

			frame := append([]int16(nil), s.buf...)
			select {
			case s.out <- frame:
			default:
				slog.Debug("frame queue full, dropping", "device", s.name)
			}
		}
	}()
}

func (s *paSource) stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}
