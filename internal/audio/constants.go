// Package audio handles device discovery and recording-session capture
package audio

import "time"

// Capture configuration constants
const (
	// Bit depth of everything written to disk
	SampleBitDepth = 16

	// Full-scale value for normalizing int16 samples
	FullScale = 32768.0

	// Buffered frames between a producer and the writer/mixer
	FrameQueueDepth = 8

	// How long the mixer waits on a producer before substituting silence
	DefaultPullTimeout = 50 * time.Millisecond
)
