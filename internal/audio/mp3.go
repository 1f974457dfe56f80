package audio

import (
	"bytes"
	"fmt"
	"io"
	"time"

	"github.com/hajimehoshi/go-mp3"
)

const (
	mpeg25 = 0
	mpeg2  = 2
	mpeg1  = 3
	layer3 = 1
)

var (
	layer3Bitrates = map[int][15]int{
		mpeg1: {0, 32, 40, 48, 56, 64, 80, 96, 112, 128, 160, 192, 224, 256, 320},
		mpeg2: {0, 8, 16, 24, 32, 40, 48, 56, 64, 80, 96, 112, 128, 144, 160},
	}
	sampleRates = map[int][3]int{
		mpeg1:  {44100, 48000, 32000},
		mpeg2:  {22050, 24000, 16000},
		mpeg25: {11025, 12000, 8000},
	}

	// MPEG-1 Layer III, 128 kbps, 44.1 kHz, stereo, no CRC.
	defaultMP3Header = frameHeader{0xFF, 0xFB, 0x90, 0x00}
)

type frameHeader [4]byte

func (h frameHeader) valid() bool {
	if h[0] != 0xFF || h[1]&0xE0 != 0xE0 {
		return false
	}
	if h.version() == 1 || h.layer() != layer3 {
		return false
	}
	br := int(h[2] >> 4)
	sr := int(h[2]>>2) & 0x03
	return br != 0 && br != 15 && sr != 3
}

func (h frameHeader) version() int    { return int(h[1]>>3) & 0x03 }
func (h frameHeader) layer() int      { return int(h[1]>>1) & 0x03 }
func (h frameHeader) crc() bool       { return h[1]&0x01 == 0 }
func (h frameHeader) padding() int    { return int(h[2]>>1) & 0x01 }
func (h frameHeader) mono() bool      { return h[3]>>6 == 3 }
func (h frameHeader) sampleRate() int { return sampleRates[h.version()][int(h[2]>>2)&0x03] }

func (h frameHeader) bitrate() int {
	table := layer3Bitrates[mpeg2]
	if h.version() == mpeg1 {
		table = layer3Bitrates[mpeg1]
	}
	return table[h[2]>>4] * 1000
}

func (h frameHeader) samplesPerFrame() int {
	if h.version() == mpeg1 {
		return 1152
	}
	return 576
}

func (h frameHeader) frameLen() int {
	coeff := 72
	if h.version() == mpeg1 {
		coeff = 144
	}
	return coeff*h.bitrate()/h.sampleRate() + h.padding()
}

func (h frameHeader) sideInfoLen() int {
	switch {
	case h.version() == mpeg1 && h.mono():
		return 17
	case h.version() == mpeg1:
		return 32
	case h.mono():
		return 9
	default:
		return 17
	}
}

// sameStream reports whether two headers can be played back to back.
func (h frameHeader) sameStream(o frameHeader) bool {
	return h.version() == o.version() && h.sampleRate() == o.sampleRate() && h.mono() == o.mono()
}

// isInfoFrame reports whether frame carries a Xing, Info or VBRI header
// rather than audio.
func (h frameHeader) isInfoFrame(frame []byte) bool {
	off := 4 + h.sideInfoLen()
	if h.crc() {
		off += 2
	}
	if len(frame) >= off+4 {
		tag := string(frame[off : off+4])
		if tag == "Xing" || tag == "Info" {
			return true
		}
	}
	return len(frame) >= 40 && string(frame[36:40]) == "VBRI"
}

type mp3Stream struct {
	header frameHeader
	frames []byte
}

// parseMP3 strips ID3 tags and info frames and returns the raw Layer III
// frames.
func parseMP3(data []byte) (mp3Stream, error) {
	data = stripID3(data)

	var (
		out   mp3Stream
		first = true
		pos   = 0
	)
	for pos < len(data) {
		if len(data)-pos < 4 {
			return out, fmt.Errorf("%w: %d trailing bytes", ErrCorruptSegment, len(data)-pos)
		}
		var h frameHeader
		copy(h[:], data[pos:pos+4])
		if !h.valid() {
			return out, fmt.Errorf("%w: bad frame header at offset %d", ErrCorruptSegment, pos)
		}
		n := h.frameLen()
		if pos+n > len(data) {
			return out, fmt.Errorf("%w: truncated frame at offset %d", ErrCorruptSegment, pos)
		}
		frame := data[pos : pos+n]
		pos += n

		if first {
			first = false
			out.header = h
			if h.isInfoFrame(frame) {
				continue
			}
		} else if !out.header.sameStream(h) {
			return out, fmt.Errorf("%w: stream changes format at offset %d", ErrCorruptSegment, pos-n)
		}
		// Info frames may use a different bitrate than the audio they describe.
		if len(out.frames) == 0 {
			out.header = h
		}
		out.frames = append(out.frames, frame...)
	}
	if len(out.frames) == 0 {
		return out, fmt.Errorf("%w: no audio frames", ErrCorruptSegment)
	}
	return out, nil
}

func stripID3(data []byte) []byte {
	if len(data) >= 10 && bytes.Equal(data[:3], []byte("ID3")) {
		size := int(data[6]&0x7F)<<21 | int(data[7]&0x7F)<<14 | int(data[8]&0x7F)<<7 | int(data[9]&0x7F)
		size += 10
		if data[5]&0x10 != 0 {
			size += 10
		}
		if size >= len(data) {
			return nil
		}
		data = data[size:]
	}
	if len(data) >= 128 && bytes.Equal(data[len(data)-128:len(data)-125], []byte("TAG")) {
		data = data[:len(data)-128]
	}
	return data
}

// mp3Silence builds zero-payload frames shaped like h covering at least d.
func mp3Silence(h frameHeader, d time.Duration) []byte {
	h[1] |= 0x01   // no CRC
	h[2] &^= 0x02 // no padding
	spf := int64(h.samplesPerFrame())
	unit := spf * int64(time.Second)
	count := (d.Nanoseconds()*int64(h.sampleRate()) + unit - 1) / unit
	if d <= 0 {
		count = 0
	}

	frame := make([]byte, h.frameLen())
	copy(frame, h[:])
	out := make([]byte, 0, int(count)*len(frame))
	for range count {
		out = append(out, frame...)
	}
	return out
}

func combineMP3(parts []part) ([]byte, error) {
	var (
		ref    *frameHeader
		out    bytes.Buffer
		parsed = make([]mp3Stream, len(parts))
	)
	for i, p := range parts {
		if p.data == nil {
			continue
		}
		s, err := parseMP3(p.data)
		if err != nil {
			return nil, fmt.Errorf("segment %d: %w", i, err)
		}
		if err := validateMP3(s.frames); err != nil {
			return nil, fmt.Errorf("segment %d: %w", i, err)
		}
		if ref == nil {
			ref = &s.header
		} else if !ref.sameStream(s.header) {
			return nil, fmt.Errorf("%w: segment %d is %d Hz, expected %d Hz", ErrFormatMismatch, i, s.header.sampleRate(), ref.sampleRate())
		}
		parsed[i] = s
	}
	for i, p := range parts {
		if p.data == nil {
			out.Write(mp3Silence(*ref, p.silence))
			continue
		}
		out.Write(parsed[i].frames)
	}
	return out.Bytes(), nil
}

func validateMP3(frames []byte) error {
	dec, err := mp3.NewDecoder(bytes.NewReader(frames))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCorruptSegment, err)
	}
	if dec.Length() <= 0 {
		return fmt.Errorf("%w: no decodable samples", ErrCorruptSegment)
	}
	return nil
}

func mp3Duration(data []byte) (time.Duration, error) {
	s, err := parseMP3(data)
	if err != nil {
		return 0, err
	}
	dec, err := mp3.NewDecoder(bytes.NewReader(s.frames))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrCorruptSegment, err)
	}
	samples := dec.Length() / 4 // 16-bit stereo output
	if samples < 0 {
		n, err := io.Copy(io.Discard, dec)
		if err != nil {
			return 0, fmt.Errorf("%w: %v", ErrCorruptSegment, err)
		}
		samples = n / 4
	}
	return time.Duration(samples) * time.Second / time.Duration(dec.SampleRate()), nil
}
