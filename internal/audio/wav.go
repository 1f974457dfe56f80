package audio

import (
	"bytes"
	"fmt"
	"os"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

type wavFormat struct {
	sampleRate int
	channels   int
	bitDepth   int
}

func decodeWAV(data []byte) (wavFormat, []int, error) {
	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return wavFormat{}, nil, fmt.Errorf("%w: not a wav file", ErrCorruptSegment)
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return wavFormat{}, nil, fmt.Errorf("%w: %v", ErrCorruptSegment, err)
	}
	f := wavFormat{
		sampleRate: int(dec.SampleRate),
		channels:   int(dec.NumChans),
		bitDepth:   int(dec.BitDepth),
	}
	if f.sampleRate <= 0 || f.channels <= 0 {
		return f, nil, fmt.Errorf("%w: invalid format %+v", ErrCorruptSegment, f)
	}
	return f, buf.Data, nil
}

// encodeWAV writes PCM through a temp file since the encoder needs to seek
// back to patch chunk sizes.
func encodeWAV(f wavFormat, samples []int) ([]byte, error) {
	file, err := os.CreateTemp("", "loqa_audio_*.wav")
	if err != nil {
		return nil, fmt.Errorf("temp file: %w", err)
	}
	defer os.Remove(file.Name())
	defer file.Close()

	buffer := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: f.channels, SampleRate: f.sampleRate},
		Data:           samples,
		SourceBitDepth: f.bitDepth,
	}
	enc := wav.NewEncoder(file, f.sampleRate, f.bitDepth, f.channels, 1)
	if err := enc.Write(buffer); err != nil {
		return nil, fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("close wav encoder: %w", err)
	}
	return os.ReadFile(file.Name())
}

func combineWAV(parts []part) ([]byte, error) {
	var (
		ref     *wavFormat
		decoded = make([][]int, len(parts))
	)
	for i, p := range parts {
		if p.data == nil {
			continue
		}
		f, samples, err := decodeWAV(p.data)
		if err != nil {
			return nil, fmt.Errorf("segment %d: %w", i, err)
		}
		if ref == nil {
			ref = &f
		} else if *ref != f {
			return nil, fmt.Errorf("%w: segment %d is %+v, expected %+v", ErrFormatMismatch, i, f, *ref)
		}
		decoded[i] = samples
	}

	var pcm []int
	for i, p := range parts {
		if p.data == nil {
			pcm = append(pcm, make([]int, samplesFor(p.silence, ref.sampleRate)*ref.channels)...)
			continue
		}
		pcm = append(pcm, decoded[i]...)
	}
	return encodeWAV(*ref, pcm)
}

func wavDuration(data []byte) (time.Duration, error) {
	f, samples, err := decodeWAV(data)
	if err != nil {
		return 0, err
	}
	frames := int64(len(samples) / f.channels)
	return time.Duration(frames) * time.Second / time.Duration(f.sampleRate), nil
}
