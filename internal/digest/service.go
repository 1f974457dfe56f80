package digest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/loqalabs/loqa-digest/internal/bus"
	"github.com/loqalabs/loqa-digest/internal/config"
	"github.com/loqalabs/loqa-digest/internal/protocol"
	"github.com/nats-io/nats.go"
)

// Service answers digest requests arriving on the bus.
type Service struct {
	cfg    config.DigestConfig
	bus    *bus.Client
	orch   *Orchestrator
	logger *slog.Logger
	sub    *nats.Subscription
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	// mu serializes digest runs; each run scrapes and summarizes every bookmark.
	mu sync.Mutex
}

func NewService(parent context.Context, cfg config.DigestConfig, busClient *bus.Client, orch *Orchestrator, logger *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	return &Service{
		cfg:    cfg,
		bus:    busClient,
		orch:   orch,
		logger: logger.With(slog.String("component", "digest-service")),
		ctx:    ctx,
		cancel: cancel,
	}
}

func (s *Service) Start() error {
	if !s.cfg.Enabled {
		return nil
	}
	sub, err := s.bus.Subscribe(protocol.SubjectDigestRequest, s.handleRequest)
	if err != nil {
		return fmt.Errorf("subscribe digest requests: %w", err)
	}
	s.sub = sub
	return nil
}

func (s *Service) Close() {
	s.cancel()
	if s.sub != nil {
		_ = s.sub.Drain()
	}
	s.wg.Wait()
}

func (s *Service) Healthy() bool {
	return !s.cfg.Enabled || s.sub != nil
}

func (s *Service) handleRequest(msg *nats.Msg) {
	var req protocol.DigestRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.logger.Warn("failed to decode digest request", slogError(err))
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		out := s.run(req)
		if err := bus.Respond(msg, out); err != nil {
			s.logger.Warn("failed to reply to digest request", slogError(err))
		}
		if out.Error != "" {
			return
		}
		if err := s.bus.PublishJSON(protocol.SubjectDigestGenerated, out); err != nil {
			s.logger.Warn("failed to publish digest event", slogError(err))
		}
	}()
}

func (s *Service) run(req protocol.DigestRequest) protocol.DigestResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := protocol.DigestResult{RequestID: req.RequestID}
	d, err := s.orch.Generate(s.ctx)
	if err != nil {
		s.logger.Warn("digest generation failed", slog.String("request_id", req.RequestID), slogError(err))
		out.Error = err.Error()
		out.Timestamp = time.Now().UTC()
		return out
	}
	out.DigestID = d.ID
	out.Summary = d.Summary
	out.Articles = len(d.Sources)

	if req.Narrate {
		n, err := s.orch.Narrate(s.ctx, d.ID)
		if err != nil {
			s.logger.Warn("digest narration failed", slog.String("digest_id", d.ID), slogError(err))
			out.Error = fmt.Sprintf("narrate digest: %v", err)
		} else {
			out.NarrationID = n.ID
			out.AudioPath = n.Path
		}
	}
	out.Timestamp = time.Now().UTC()
	s.logger.Info("digest generated", slog.String("digest_id", d.ID), slog.Int("articles", out.Articles))
	return out
}
