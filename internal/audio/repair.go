package audio

import (
	"encoding/binary"
	"io"
	"os"

	apperrors "github.com/bbrew/core/internal/errors"
)

// Repair copies a growing WAV file to a sibling snapshot and rewrites the
// snapshot's RIFF and data chunk sizes from the actual byte count, so a
// decoder can read it while the original keeps being appended to. The
// caller deletes the returned path when done.
func Repair(src string) (string, error) {
	dst := src + ".read.wav"

	if err := copyFile(src, dst); err != nil {
		return "", apperrors.Wrap(err, apperrors.CodeNoAudioFile, "snapshot recording")
	}
	if err := patchHeader(dst); err != nil {
		_ = os.Remove(dst)
		return "", err
	}
	return dst, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// patchHeader fixes the RIFF size at offset 4 and the data chunk size so
// they match the file's real length.
func patchHeader(path string) error {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeNoAudioFile, "open snapshot")
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeNoAudioFile, "stat snapshot")
	}
	size := info.Size()
	if size < 44 {
		return apperrors.New(apperrors.CodeNoAudioFile, "snapshot shorter than a WAV header")
	}

	var hdr [12]byte
	if _, err := f.ReadAt(hdr[:], 0); err != nil {
		return apperrors.Wrap(err, apperrors.CodeNoAudioFile, "read snapshot header")
	}
	if string(hdr[0:4]) != "RIFF" || string(hdr[8:12]) != "WAVE" {
		return apperrors.New(apperrors.CodeNoAudioFile, "snapshot is not a RIFF/WAVE file")
	}

	var sz [4]byte
	binary.LittleEndian.PutUint32(sz[:], uint32(size-8))
	if _, err := f.WriteAt(sz[:], 4); err != nil {
		return apperrors.Wrap(err, apperrors.CodeNoAudioFile, "patch riff size")
	}

	// Walk chunks to find "data"; its payload runs to end of file.
	offset := int64(12)
	for offset+8 <= size {
		var chunk [8]byte
		if _, err := f.ReadAt(chunk[:], offset); err != nil {
			return apperrors.Wrap(err, apperrors.CodeNoAudioFile, "scan snapshot chunks")
		}
		id := string(chunk[0:4])
		chunkSize := int64(binary.LittleEndian.Uint32(chunk[4:8]))

		if id == "data" {
			binary.LittleEndian.PutUint32(sz[:], uint32(size-(offset+8)))
			if _, err := f.WriteAt(sz[:], offset+4); err != nil {
				return apperrors.Wrap(err, apperrors.CodeNoAudioFile, "patch data size")
			}
			return nil
		}

		offset += 8 + chunkSize
		if chunkSize%2 == 1 {
			offset++
		}
	}

	return apperrors.New(apperrors.CodeNoAudioFile, "no data chunk in snapshot")
}
