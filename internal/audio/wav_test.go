package audio

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-audio/wav"
)

func TestWriterRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.wav")

	w, err := NewWriter(path, 16000)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	frame := []int16{0, 100, -100, 32767, -32768}
	if err := w.WriteFrame(frame); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	if err := w.WriteFrame(frame); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(buf.Data) != 2*len(frame) {
		t.Fatalf("got %d samples, want %d", len(buf.Data), 2*len(frame))
	}
	for i, s := range frame {
		if buf.Data[i] != int(s) {
			t.Errorf("sample %d = %d, want %d", i, buf.Data[i], s)
		}
	}
	if dec.SampleRate != 16000 {
		t.Errorf("sample rate %d, want 16000", dec.SampleRate)
	}
	if dec.NumChans != 1 {
		t.Errorf("channels %d, want 1", dec.NumChans)
	}
}

func TestRMSLevel(t *testing.T) {
	if got := RMSLevel(nil); got != 0 {
		t.Errorf("empty frame level = %v, want 0", got)
	}
	if got := RMSLevel([]int16{0, 0, 0}); got != 0 {
		t.Errorf("silence level = %v, want 0", got)
	}

	full := []int16{32767, -32767, 32767, -32767}
	got := RMSLevel(full)
	if math.Abs(got-1.0) > 0.001 {
		t.Errorf("full-scale level = %v, want ~1.0", got)
	}
	if got > 1.0 {
		t.Errorf("level %v exceeds 1.0", got)
	}

	half := []int16{16384, -16384}
	if got := RMSLevel(half); math.Abs(got-0.5) > 0.001 {
		t.Errorf("half-scale level = %v, want ~0.5", got)
	}
}
