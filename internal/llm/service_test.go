package llm

import (
	"context"
	"testing"
	"time"

	"github.com/loqalabs/loqa-digest/internal/bus"
	"github.com/loqalabs/loqa-digest/internal/config"
	"github.com/loqalabs/loqa-digest/internal/natsserver"
	"github.com/loqalabs/loqa-digest/internal/protocol"
)

func TestServiceRepliesWithSummary(t *testing.T) {
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

	cfg := config.Default().LLM
	svc := NewService(context.Background(), cfg, client, NewSummarizer(NewMockGenerator(), cfg, newLogger()), newLogger())
	if err := svc.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer svc.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var reply protocol.SummaryResult
	err = client.RequestJSON(ctx, protocol.SubjectSummarizeRequest, protocol.SummaryRequest{
		RequestID: "s-1",
		Articles:  []protocol.SummaryArticle{{Title: "One", Content: "Body one.", Source: "A"}},
	}, &reply)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if reply.Error != "" || reply.Summary == "" || reply.RequestID != "s-1" {
		t.Fatalf("unexpected reply %+v", reply)
	}

	reply = protocol.SummaryResult{}
	if err := client.RequestJSON(ctx, protocol.SubjectSummarizeRequest, protocol.SummaryRequest{RequestID: "s-2"}, &reply); err != nil {
		t.Fatalf("request: %v", err)
	}
	if reply.Error == "" {
		t.Fatalf("expected error for empty text, got %+v", reply)
	}
}
