package digest

import (
	"context"
	"testing"
	"time"

	"github.com/loqalabs/loqa-digest/internal/bus"
	"github.com/loqalabs/loqa-digest/internal/config"
	"github.com/loqalabs/loqa-digest/internal/natsserver"
	"github.com/loqalabs/loqa-digest/internal/protocol"
)

func TestServiceGeneratesOverBus(t *testing.T) {
	f := newFixture(t)
	f.bookmark(t, "Markets", "/markets", "business")

	srv, err := natsserver.Start(config.BusConfig{Embedded: true, Port: -1}, newLogger())
	if err != nil {
		t.Fatalf("start nats: %v", err)
	}
	defer srv.Shutdown()
	client, err := bus.Connect(context.Background(), config.BusConfig{Servers: []string{srv.ClientURL()}, ConnectTimeout: 2000}, newLogger())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer client.Close()

	svc := NewService(context.Background(), config.Default().Digest, client, f.orch, newLogger())
	if err := svc.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer svc.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	var reply protocol.DigestResult
	if err := client.RequestJSON(ctx, protocol.SubjectDigestRequest, protocol.DigestRequest{RequestID: "d-1", Narrate: true}, &reply); err != nil {
		t.Fatalf("request: %v", err)
	}
	if reply.Error != "" {
		t.Fatalf("unexpected error %q", reply.Error)
	}
	if reply.DigestID == "" || reply.NarrationID == "" || reply.AudioPath == "" || reply.Articles != 1 {
		t.Fatalf("unexpected reply %+v", reply)
	}
}
