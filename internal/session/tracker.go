package session

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/bbrew/core/internal/audio"
	apperrors "github.com/bbrew/core/internal/errors"
)

// minLiveBytes is how much audio must exist before a live pass is worth
// the transcription cost.
const minLiveBytes = 8000

const (
	modelLoadingPlaceholder = "Loading speech recognition model..."
	modelFailedStatus       = "Speech recognition model failed to load"
)

// runTracker periodically snapshots the growing recording and refreshes
// the live transcript. Each pass re-transcribes the whole file, so the
// published snapshot is always self-consistent; failures just leave the
// previous snapshot standing until the next tick.
func (m *Manager) runTracker(ctx context.Context, partPath string) {
	ticker := time.NewTicker(secs(m.cfg.TranscribeInterval))
	defer ticker.Stop()

	loadFailedReported := false
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if err := m.stt.Ready(); err != nil {
			// A failed load is permanent; say so once instead of
			// pretending the model is still on its way.
			if apperrors.IsCode(err, apperrors.CodeModelLoadFailed) {
				if !loadFailedReported {
					loadFailedReported = true
					m.bus.Publish(EventStatus, modelFailedStatus)
				}
			} else {
				m.bus.Publish(EventTranscript, modelLoadingPlaceholder)
			}
			continue
		}

		info, err := os.Stat(partPath)
		if err != nil || info.Size() < minLiveBytes {
			continue
		}

		snap, err := audio.Repair(partPath)
		if err != nil {
			slog.Warn("live snapshot failed", "error", err)
			continue
		}

		res, err := m.stt.Transcribe(ctx, snap)
		_ = os.Remove(snap)
		if err != nil {
			if ctx.Err() == nil {
				slog.Warn("live transcription failed", "error", err)
			}
			continue
		}

		text := strings.TrimSpace(res.Text)
		if text == "" {
			continue
		}
		m.transcript.Set(text)
		m.bus.Publish(EventTranscript, text)
	}
}
