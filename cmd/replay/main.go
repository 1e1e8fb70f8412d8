// Command replay streams a WAV file into the live audio channel as a
// Twilio style media stream, paced in real time.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/lexiqai/call-transcriber/internal/audio"
	"github.com/lexiqai/call-transcriber/internal/observability"
)

// 20ms of 8kHz audio per media message
const frameSamples = 160

func main() {
	file := flag.String("file", "", "Path to WAV file")
	url := flag.String("url", "ws://localhost:8080/streams/twilio", "Stream endpoint")
	callID := flag.String("call-id", "replay-"+time.Now().Format("150405"), "Call id sent in the start event")
	realtime := flag.Bool("realtime", true, "Pace frames at 20ms")
	flag.Parse()

	observability.InitLogger("info", true)

	if *file == "" {
		fmt.Fprintln(os.Stderr, "usage: replay -file call.wav [-url ws://host/streams/twilio]")
		os.Exit(2)
	}

	samples, err := readTelephony(*file)
	if err != nil {
		log.Fatal().Err(err).Str("file", *file).Msg("Failed to read audio")
	}

	conn, _, err := websocket.DefaultDialer.Dial(*url, nil)
	if err != nil {
		log.Fatal().Err(err).Str("url", *url).Msg("Failed to connect")
	}
	defer conn.Close()

	send := func(v interface{}) {
		data, err := json.Marshal(v)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to encode message")
		}
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			log.Fatal().Err(err).Msg("Failed to send message")
		}
	}

	send(audio.Envelope{
		Event: string(audio.EventStart),
		Start: &audio.StartPayload{
			CallSid: *callID,
			Tracks:  []string{"inbound"},
			MediaFormat: &audio.MediaFormat{
				Encoding:   "audio/x-mulaw",
				SampleRate: audio.TelephonySampleRate,
				Channels:   1,
			},
		},
	})

	frames := 0
	for offset := 0; offset < len(samples); offset += frameSamples {
		end := offset + frameSamples
		if end > len(samples) {
			end = len(samples)
		}
		data, err := audio.EncodeMediaEnvelope(samples[offset:end])
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to encode media")
		}
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			log.Fatal().Err(err).Msg("Failed to send media")
		}
		frames++
		if *realtime {
			time.Sleep(20 * time.Millisecond)
		}
	}

	send(audio.Envelope{
		Event: string(audio.EventStop),
		Stop:  &audio.StopPayload{CallSid: *callID},
	})

	log.Info().
		Str("call_id", *callID).
		Int("frames", frames).
		Dur("audio", time.Duration(len(samples))*time.Second/audio.TelephonySampleRate).
		Msg("Replay finished")

	// wait for the server to finish the call and close the socket
	conn.SetReadDeadline(time.Now().Add(30 * time.Second))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// readTelephony loads a WAV file as mono 8kHz samples
func readTelephony(path string) ([]int16, error) {
	r, err := audio.OpenWAV(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	var samples []int16
	for {
		chunk, err := r.ReadChunk(r.SampleRate())
		samples = append(samples, chunk...)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
	}
	return audio.Resample(samples, r.SampleRate(), audio.TelephonySampleRate), nil
}
