package stt

import (
	"context"
	"math"
	"sort"

	"github.com/lexiqai/call-transcriber/internal/audio"
)

// LevelWord maps a loudness level to a word
type LevelWord struct {
	Level float64
	Word  string
}

// DefaultLevelWords is the table used by the "mock" backend
var DefaultLevelWords = []LevelWord{
	{Level: 2000, Word: "test"},
	{Level: 4000, Word: "call"},
	{Level: 6000, Word: "hello"},
	{Level: 8000, Word: "world"},
}

// LevelTranscriber is a deterministic offline transcriber. It measures the
// loudest 20ms frame of an utterance and returns the word whose level is
// closest. Used for local runs and tests where no speech backend is set up.
type LevelTranscriber struct {
	words     []LevelWord
	threshold float64
}

// NewLevelTranscriber builds a transcriber over words. Utterances whose peak
// frame energy is at or below threshold transcribe to the empty string.
func NewLevelTranscriber(words []LevelWord, threshold float64) *LevelTranscriber {
	if len(words) == 0 {
		words = DefaultLevelWords
	}
	sorted := make([]LevelWord, len(words))
	copy(sorted, words)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Level < sorted[j].Level })

	return &LevelTranscriber{words: sorted, threshold: threshold}
}

// TranscribeUtterance implements UtteranceTranscriber
func (l *LevelTranscriber) TranscribeUtterance(ctx context.Context, samples []int16, sampleRate int) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	peak := audio.PeakFrameRMS(samples, audio.FrameSizeFor(sampleRate))
	if peak <= l.threshold {
		return "", nil
	}

	best := l.words[0]
	for _, w := range l.words[1:] {
		if math.Abs(w.Level-peak) < math.Abs(best.Level-peak) {
			best = w
		}
	}
	return best.Word, nil
}
