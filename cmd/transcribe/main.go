// Command transcribe runs a local WAV recording through the offline driver
// and stores the transcript the same way the recording pipeline does.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/lexiqai/call-transcriber/internal/config"
	"github.com/lexiqai/call-transcriber/internal/observability"
	"github.com/lexiqai/call-transcriber/internal/offline"
	"github.com/lexiqai/call-transcriber/internal/stt"
	"github.com/lexiqai/call-transcriber/internal/transcript"
)

func main() {
	file := flag.String("file", "", "Path to WAV recording")
	callID := flag.String("call-id", "", "Call id to store the transcript under (default: file name)")
	flag.Parse()

	if *file == "" {
		fmt.Fprintln(os.Stderr, "usage: transcribe -file recording.wav [-call-id id]")
		os.Exit(2)
	}
	if *callID == "" {
		*callID = strings.TrimSuffix(filepath.Base(*file), filepath.Ext(*file))
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	observability.InitLogger(cfg.LogLevel, cfg.LogPretty)
	logger := observability.GetLogger()

	ctx := context.Background()
	store, err := transcript.Open(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to open transcript store")
	}
	defer store.Close()

	factory, err := stt.NewFactory(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create recognizer factory")
	}

	driver := offline.NewDriver(factory, store, transcript.NewLogSink(logger), cfg.OfflineChunk())
	rec, err := driver.Transcribe(ctx, *file, *callID)
	if err != nil {
		logger.Fatal().Err(err).Str("file", *file).Msg("Transcription failed")
	}

	fmt.Print(transcript.Format(*rec))
}
