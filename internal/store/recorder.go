package store

import (
	"context"

	"github.com/loqalabs/loqa-digest/internal/tts"
)

// NarrationFromResult converts a pipeline result into a stored record.
func NarrationFromResult(source string, res tts.Result) Narration {
	return Narration{
		ID:       res.ID,
		Source:   source,
		Path:     res.Path,
		Encoding: string(res.Encoding),
		Chunks:   res.Chunks,
		Dropped:  res.Dropped,
		Duration: res.Duration,
		Bytes:    res.Bytes,
	}
}

// RecordNarration satisfies tts.Recorder.
func (s *Store) RecordNarration(ctx context.Context, source string, res tts.Result) error {
	_, err := s.SaveNarration(ctx, NarrationFromResult(source, res))
	return err
}
