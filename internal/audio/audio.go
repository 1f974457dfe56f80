// Package audio joins per-chunk speech segments into one playable stream and
// measures the result.
package audio

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"slices"
	"time"
)

type Encoding string

const (
	MP3 Encoding = "mp3"
	WAV Encoding = "wav"
)

var (
	ErrNoAudio             = errors.New("no audio produced")
	ErrCorruptSegment      = errors.New("corrupt audio segment")
	ErrFormatMismatch      = errors.New("audio segments differ in format")
	ErrUnsupportedEncoding = errors.New("unsupported audio encoding")
)

func ParseEncoding(s string) (Encoding, error) {
	switch Encoding(s) {
	case MP3, WAV:
		return Encoding(s), nil
	case "linear16", "LINEAR16":
		return WAV, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedEncoding, s)
}

func (e Encoding) Extension() string {
	return "." + string(e)
}

func (e Encoding) MIMEType() string {
	switch e {
	case WAV:
		return "audio/wav"
	default:
		return "audio/mpeg"
	}
}

// Detect sniffs the container of data.
func Detect(data []byte) Encoding {
	if len(data) >= 12 && bytes.Equal(data[:4], []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WAVE")) {
		return WAV
	}
	return MP3
}

// Segment is the encoded audio for one chunk. Missing marks a chunk whose
// synthesis failed.
type Segment struct {
	Index   int
	Data    []byte
	Missing bool
}

func (s Segment) usable() bool {
	return !s.Missing && len(s.Data) > 0
}

type CombinerConfig struct {
	Encoding Encoding
	// Silence is inserted between consecutive segments.
	Silence time.Duration
	// Gap replaces a missing segment with silence when positive. Missing
	// segments are skipped otherwise.
	Gap time.Duration
}

type Combiner struct {
	cfg CombinerConfig
}

func NewCombiner(cfg CombinerConfig) *Combiner {
	if cfg.Encoding == "" {
		cfg.Encoding = MP3
	}
	return &Combiner{cfg: cfg}
}

// part is either encoded segment bytes or a stretch of silence.
type part struct {
	data    []byte
	silence time.Duration
}

// Combine concatenates segments in index order. It returns ErrNoAudio when no
// segment carries audio.
func (c *Combiner) Combine(segments []Segment) ([]byte, error) {
	ordered := slices.Clone(segments)
	slices.SortStableFunc(ordered, func(a, b Segment) int { return a.Index - b.Index })

	var (
		parts  []part
		usable int
	)
	for _, seg := range ordered {
		var p part
		switch {
		case seg.usable():
			p = part{data: seg.Data}
			usable++
		case c.cfg.Gap > 0:
			p = part{silence: c.cfg.Gap}
		default:
			continue
		}
		if len(parts) > 0 && c.cfg.Silence > 0 {
			parts = append(parts, part{silence: c.cfg.Silence})
		}
		parts = append(parts, p)
	}
	if usable == 0 {
		return nil, ErrNoAudio
	}
	if len(parts) == 1 {
		return parts[0].data, nil
	}

	switch c.cfg.Encoding {
	case MP3:
		return combineMP3(parts)
	case WAV:
		return combineWAV(parts)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedEncoding, c.cfg.Encoding)
	}
}

// Duration decodes data and returns sample count / sample rate.
func Duration(enc Encoding, data []byte) (time.Duration, error) {
	switch enc {
	case MP3:
		return mp3Duration(data)
	case WAV:
		return wavDuration(data)
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedEncoding, enc)
	}
}

func FileDuration(path string) (time.Duration, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read audio file: %w", err)
	}
	return Duration(Detect(data), data)
}

// Silence returns a standalone silent clip of at least d.
func Silence(enc Encoding, d time.Duration) ([]byte, error) {
	switch enc {
	case MP3:
		return mp3Silence(defaultMP3Header, d), nil
	case WAV:
		return encodeWAV(wavFormat{sampleRate: 24000, channels: 1, bitDepth: 16}, make([]int, samplesFor(d, 24000)))
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedEncoding, enc)
	}
}

func samplesFor(d time.Duration, sampleRate int) int {
	if d <= 0 {
		return 0
	}
	return int((d.Nanoseconds()*int64(sampleRate) + int64(time.Second) - 1) / int64(time.Second))
}
