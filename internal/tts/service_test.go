package tts

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/loqalabs/loqa-digest/internal/audio"
	"github.com/loqalabs/loqa-digest/internal/bus"
	"github.com/loqalabs/loqa-digest/internal/config"
	"github.com/loqalabs/loqa-digest/internal/natsserver"
	"github.com/loqalabs/loqa-digest/internal/protocol"
	"github.com/nats-io/nats.go"
)

type memoryRecorder struct {
	mu      sync.Mutex
	results []Result
}

func (m *memoryRecorder) RecordNarration(ctx context.Context, source string, res Result) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results = append(m.results, res)
	return nil
}

func startBus(t *testing.T) *bus.Client {
	t.Helper()
	srv, err := natsserver.Start(config.BusConfig{Embedded: true, Port: -1}, newLogger())
	if err != nil {
		t.Fatalf("start nats: %v", err)
	}
	t.Cleanup(srv.Shutdown)
	client, err := bus.Connect(context.Background(), config.BusConfig{Servers: []string{srv.ClientURL()}, ConnectTimeout: 2000}, newLogger())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(client.Close)
	return client
}

func TestServiceNarratesOverBus(t *testing.T) {
	client := startBus(t)
	cfg := config.Default().TTS
	pipeline := NewPipeline(NewMockSynth(audio.MP3), testConfig(t.TempDir()), newLogger())
	recorder := &memoryRecorder{}

	svc := NewService(context.Background(), cfg, client, pipeline, recorder, newLogger())
	if err := svc.Start(); err != nil {
		t.Fatalf("start service: %v", err)
	}
	defer svc.Close()
	if !svc.Healthy() {
		t.Fatal("service should report healthy")
	}

	done := make(chan protocol.NarrationResult, 1)
	sub, err := client.Conn().Subscribe(protocol.SubjectNarrateDone, func(msg *nats.Msg) {
		var res protocol.NarrationResult
		if json.Unmarshal(msg.Data, &res) == nil {
			done <- res
		}
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Unsubscribe()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var reply protocol.NarrationResult
	err = client.RequestJSON(ctx, protocol.SubjectNarrateRequest, protocol.NarrationRequest{
		RequestID: "req-1",
		Text:      threeSentences,
	}, &reply)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if reply.Error != "" {
		t.Fatalf("unexpected error %q", reply.Error)
	}
	if reply.RequestID != "req-1" || reply.Chunks != 3 || reply.DurationMS <= 0 {
		t.Fatalf("unexpected reply %+v", reply)
	}
	if _, err := os.Stat(reply.Path); err != nil {
		t.Fatalf("narration file missing: %v", err)
	}

	select {
	case evt := <-done:
		if evt.NarrationID != reply.NarrationID {
			t.Fatalf("done event for %q, want %q", evt.NarrationID, reply.NarrationID)
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for done event")
	}

	recorder.mu.Lock()
	defer recorder.mu.Unlock()
	if len(recorder.results) != 1 {
		t.Fatalf("expected one recorded narration, got %d", len(recorder.results))
	}
}

func TestServiceRepliesWithErrorWhenNothingToSay(t *testing.T) {
	client := startBus(t)
	pipeline := NewPipeline(NewMockSynth(audio.MP3), testConfig(t.TempDir()), newLogger())
	svc := NewService(context.Background(), config.Default().TTS, client, pipeline, nil, newLogger())
	if err := svc.Start(); err != nil {
		t.Fatalf("start service: %v", err)
	}
	defer svc.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var reply protocol.NarrationResult
	if err := client.RequestJSON(ctx, protocol.SubjectNarrateRequest, protocol.NarrationRequest{RequestID: "req-2"}, &reply); err != nil {
		t.Fatalf("request: %v", err)
	}
	if reply.Error == "" || reply.Path != "" {
		t.Fatalf("expected error reply, got %+v", reply)
	}
}

func TestServiceRejectsOutputOutsideDir(t *testing.T) {
	client := startBus(t)
	dir := t.TempDir()
	outside := filepath.Join(t.TempDir(), "stolen.mp3")
	pipeline := NewPipeline(NewMockSynth(audio.MP3), testConfig(dir), newLogger())
	svc := NewService(context.Background(), config.Default().TTS, client, pipeline, nil, newLogger())
	if err := svc.Start(); err != nil {
		t.Fatalf("start service: %v", err)
	}
	defer svc.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, path := range []string{outside, filepath.Join(dir, "..", "escape.mp3"), "../escape.mp3"} {
		var reply protocol.NarrationResult
		err := client.RequestJSON(ctx, protocol.SubjectNarrateRequest, protocol.NarrationRequest{
			RequestID:  "req-3",
			Text:       threeSentences,
			OutputPath: path,
		}, &reply)
		if err != nil {
			t.Fatalf("request: %v", err)
		}
		if !strings.Contains(reply.Error, ErrOutputOutsideDir.Error()) || reply.Path != "" {
			t.Fatalf("expected rejection for %q, got %+v", path, reply)
		}
	}
	if _, err := os.Stat(outside); !os.IsNotExist(err) {
		t.Fatalf("file written outside output dir: %v", err)
	}
	if _, err := os.Stat(filepath.Join(filepath.Dir(dir), "escape.mp3")); !os.IsNotExist(err) {
		t.Fatalf("file written next to output dir: %v", err)
	}

	var reply protocol.NarrationResult
	err := client.RequestJSON(ctx, protocol.SubjectNarrateRequest, protocol.NarrationRequest{
		RequestID:  "req-4",
		Text:       threeSentences,
		OutputPath: "episodes/today.mp3",
	}, &reply)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	want := filepath.Join(dir, "episodes", "today.mp3")
	if reply.Error != "" || reply.Path != want {
		t.Fatalf("expected narration at %s, got %+v", want, reply)
	}
	if _, err := os.Stat(want); err != nil {
		t.Fatalf("narration file missing: %v", err)
	}
}

func TestServiceOutputPath(t *testing.T) {
	dir := t.TempDir()
	svc := &Service{pipeline: NewPipeline(NewMockSynth(audio.MP3), testConfig(dir), newLogger())}

	cases := []struct {
		requested string
		want      string
		err       bool
	}{
		{requested: "", want: ""},
		{requested: "a.mp3", want: filepath.Join(dir, "a.mp3")},
		{requested: filepath.Join(dir, "x", "..", "b.mp3"), want: filepath.Join(dir, "b.mp3")},
		{requested: dir, err: true},
		{requested: filepath.Join(dir, ".."), err: true},
		{requested: "/etc/passwd", err: true},
		{requested: dir + "-sibling/c.mp3", err: true},
	}
	for _, tc := range cases {
		got, err := svc.outputPath(tc.requested)
		if tc.err {
			if !errors.Is(err, ErrOutputOutsideDir) {
				t.Fatalf("%q: expected ErrOutputOutsideDir, got %q %v", tc.requested, got, err)
			}
			continue
		}
		if err != nil || got != tc.want {
			t.Fatalf("%q: expected %q, got %q %v", tc.requested, tc.want, got, err)
		}
	}
}
