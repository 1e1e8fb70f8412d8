package audio

import (
	"errors"
	"fmt"
	"io"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const (
	wavFormatPCM   = 1
	wavFormatMulaw = 7
)

// WAVReader reads a WAV file as mono 16-bit samples, chunk by chunk
type WAVReader struct {
	file       *os.File
	dec        *wav.Decoder
	buf        *goaudio.IntBuffer
	sampleRate int
	channels   int
	bitDepth   int
	format     int
}

// OpenWAV opens and validates a WAV file. Linear PCM (8/16/24/32 bit) and
// 8-bit μ-law payloads are supported.
func OpenWAV(path string) (*WAVReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open wav: %w", err)
	}

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		f.Close()
		return nil, fmt.Errorf("%s is not a valid wav file", path)
	}

	r := &WAVReader{
		file:       f,
		dec:        dec,
		sampleRate: int(dec.SampleRate),
		channels:   int(dec.NumChans),
		bitDepth:   int(dec.BitDepth),
		format:     int(dec.WavAudioFormat),
	}

	switch {
	case r.format == wavFormatPCM && (r.bitDepth == 8 || r.bitDepth == 16 || r.bitDepth == 24 || r.bitDepth == 32):
	case r.format == wavFormatMulaw && r.bitDepth == 8:
	default:
		f.Close()
		return nil, fmt.Errorf("unsupported wav encoding (format %d, %d bit)", r.format, r.bitDepth)
	}

	if err := dec.FwdToPCM(); err != nil {
		f.Close()
		return nil, fmt.Errorf("seek to pcm data: %w", err)
	}
	return r, nil
}

// SampleRate returns the file's sample rate in Hz
func (r *WAVReader) SampleRate() int {
	return r.sampleRate
}

// Channels returns the file's channel count before downmixing
func (r *WAVReader) Channels() int {
	return r.channels
}

// ReadChunk reads up to frames sample frames and returns them downmixed to
// mono. Returns io.EOF once the data chunk is exhausted.
func (r *WAVReader) ReadChunk(frames int) ([]int16, error) {
	if frames <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", frames)
	}

	want := frames * r.channels
	if r.buf == nil || len(r.buf.Data) != want {
		r.buf = &goaudio.IntBuffer{
			Format:         r.dec.Format(),
			Data:           make([]int, want),
			SourceBitDepth: r.bitDepth,
		}
	}

	n, err := r.dec.PCMBuffer(r.buf)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read pcm: %w", err)
	}
	n -= n % r.channels
	if n == 0 {
		return nil, io.EOF
	}

	out := make([]int16, n/r.channels)
	for i := range out {
		sum := 0
		for c := 0; c < r.channels; c++ {
			sum += r.toLinear(r.buf.Data[i*r.channels+c])
		}
		out[i] = int16(sum / r.channels)
	}
	return out, nil
}

// toLinear scales one decoded value to the 16-bit range
func (r *WAVReader) toLinear(v int) int {
	if r.format == wavFormatMulaw {
		return int(mulawToLinear(byte(v)))
	}
	switch r.bitDepth {
	case 8:
		return (v - 128) << 8
	case 24:
		return v >> 8
	case 32:
		return v >> 16
	}
	return v
}

// Close closes the underlying file
func (r *WAVReader) Close() error {
	return r.file.Close()
}

// EncodeWAV writes mono 16-bit samples as a PCM WAV stream
func EncodeWAV(w io.WriteSeeker, samples []int16, sampleRate int) error {
	data := make([]int, len(samples))
	for i, s := range samples {
		data[i] = int(s)
	}
	buffer := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: sampleRate},
		Data:           data,
		SourceBitDepth: 16,
	}

	enc := wav.NewEncoder(w, sampleRate, 16, 1, wavFormatPCM)
	if err := enc.Write(buffer); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("close wav encoder: %w", err)
	}
	return nil
}

// WriteWAVFile creates path and writes samples to it as a PCM WAV file
func WriteWAVFile(path string, samples []int16, sampleRate int) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create wav: %w", err)
	}
	if err := EncodeWAV(f, samples, sampleRate); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
