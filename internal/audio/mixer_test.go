package audio

import (
	"testing"
	"time"
)

func TestMixFramesClamps(t *testing.T) {
	a := []int16{32000, -32000, 100}
	b := []int16{32000, -32000, 50}
	mixed := MixFrames(a, b, 3)

	if mixed[0] != 32767 {
		t.Errorf("positive overflow mixed to %d, want 32767", mixed[0])
	}
	if mixed[1] != -32768 {
		t.Errorf("negative overflow mixed to %d, want -32768", mixed[1])
	}
	if mixed[2] != 150 {
		t.Errorf("in-range sum = %d, want 150", mixed[2])
	}
}

func TestMixFramesNilIsSilence(t *testing.T) {
	mixed := MixFrames(nil, []int16{5, 10}, 4)
	want := []int16{5, 10, 0, 0}
	for i := range want {
		if mixed[i] != want[i] {
			t.Errorf("sample %d = %d, want %d", i, mixed[i], want[i])
		}
	}
}

func TestDownmixMono(t *testing.T) {
	stereo := []int16{100, 200, -100, -200}
	mono := DownmixMono(stereo, 2)
	if len(mono) != 2 {
		t.Fatalf("got %d samples, want 2", len(mono))
	}
	if mono[0] != 150 || mono[1] != -150 {
		t.Errorf("got %v, want [150 -150]", mono)
	}

	passthrough := []int16{1, 2, 3}
	if got := DownmixMono(passthrough, 1); &got[0] != &passthrough[0] {
		t.Error("mono input should pass through unchanged")
	}
}

func TestMixerCombinesAndCloses(t *testing.T) {
	mic := make(chan []int16, 4)
	sys := make(chan []int16, 4)
	m := NewMixer(mic, sys, MixerConfig{FrameLen: 2, SysChannels: 1, PullTimeout: 20 * time.Millisecond})
	go m.Run()

	mic <- []int16{10, 20}
	sys <- []int16{1, 2}

	select {
	case frame := <-m.Out():
		if frame[0] != 11 || frame[1] != 22 {
			t.Errorf("mixed frame = %v, want [11 22]", frame)
		}
	case <-time.After(time.Second):
		t.Fatal("no mixed frame emitted")
	}

	close(mic)
	close(sys)

	select {
	case _, ok := <-m.Out():
		if ok {
			// A trailing frame from a pull race is fine; the channel
			// must still close after it.
			if _, ok := <-m.Out(); ok {
				t.Fatal("output still open after both producers closed")
			}
		}
	case <-time.After(time.Second):
		t.Fatal("output never closed")
	}
}

func TestMixerSubstitutesSilenceForStalledProducer(t *testing.T) {
	mic := make(chan []int16, 4)
	sys := make(chan []int16, 4)
	m := NewMixer(mic, sys, MixerConfig{FrameLen: 2, SysChannels: 1, PullTimeout: 10 * time.Millisecond})
	go m.Run()
	defer func() { close(mic); close(sys) }()

	// Only the microphone delivers; the system side times out.
	mic <- []int16{7, 8}

	select {
	case frame := <-m.Out():
		if frame[0] != 7 || frame[1] != 8 {
			t.Errorf("frame with stalled producer = %v, want [7 8]", frame)
		}
	case <-time.After(time.Second):
		t.Fatal("mixer stalled instead of substituting silence")
	}
}
