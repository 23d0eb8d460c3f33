package audio

import (
	"math"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	apperrors "github.com/bbrew/core/internal/errors"
)

// Writer appends mono int16 frames to a WAV file. The on-disk header is only
// consistent after Close; until then readers must go through Repair.
type Writer struct {
	f   *os.File
	enc *wav.Encoder
	buf *goaudio.IntBuffer
}

// NewWriter creates the file and a streaming encoder for it.
func NewWriter(path string, sampleRate int) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeDeviceIO, "create recording file")
	}
	return &Writer{
		f:   f,
		enc: wav.NewEncoder(f, sampleRate, SampleBitDepth, 1, 1),
		buf: &goaudio.IntBuffer{
			Format:         &goaudio.Format{NumChannels: 1, SampleRate: sampleRate},
			SourceBitDepth: SampleBitDepth,
		},
	}, nil
}

// WriteFrame appends one mono frame.
func (w *Writer) WriteFrame(frame []int16) error {
	if cap(w.buf.Data) < len(frame) {
		w.buf.Data = make([]int, len(frame))
	}
	w.buf.Data = w.buf.Data[:len(frame)]
	for i, s := range frame {
		w.buf.Data[i] = int(s)
	}
	if err := w.enc.Write(w.buf); err != nil {
		return apperrors.Wrap(err, apperrors.CodeDeviceIO, "write audio frame")
	}
	return nil
}

// Close finalizes the header and closes the file.
func (w *Writer) Close() error {
	encErr := w.enc.Close()
	fErr := w.f.Close()
	if encErr != nil {
		return apperrors.Wrap(encErr, apperrors.CodeDeviceIO, "finalize recording file")
	}
	if fErr != nil {
		return apperrors.Wrap(fErr, apperrors.CodeDeviceIO, "close recording file")
	}
	return nil
}

// RMSLevel computes the normalized root-mean-square amplitude of a frame,
// in [0, 1].
func RMSLevel(frame []int16) float64 {
	if len(frame) == 0 {
		return 0
	}
	var sum float64
	for _, s := range frame {
		f := float64(s)
		sum += f * f
	}
	level := math.Sqrt(sum/float64(len(frame))) / FullScale
	return math.Min(level, 1.0)
}
