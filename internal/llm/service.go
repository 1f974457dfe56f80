package llm

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

type Service struct {
	cfg        config.LLMConfig
	bus        *bus.Client
	summarizer *Summarizer
	sub        *nats.Subscription
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	ready      bool
	logger     *slog.Logger
}

func NewService(parent context.Context, cfg config.LLMConfig, busClient *bus.Client, summarizer *Summarizer, logger *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	return &Service{
		cfg:        cfg,
		bus:        busClient,
		summarizer: summarizer,
		ctx:        ctx,
		cancel:     cancel,
		logger:     logger.With(slog.String("component", "llm-service")),
	}
}

func (s *Service) Start() error {
	sub, err := s.bus.Subscribe(protocol.SubjectSummarizeRequest, s.handleRequest)
	if err != nil {
		return fmt.Errorf("subscribe summarize requests: %w", err)
	}
	s.sub = sub
	s.ready = true
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
	return s.ready
}

func (s *Service) handleRequest(msg *nats.Msg) {
	var req protocol.SummaryRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.logger.Warn("failed to decode summarize request", slogError(err))
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(s.ctx, s.timeout(len(req.Articles)))
		defer cancel()

		start := time.Now()
		summary, err := s.summarize(ctx, req)
		out := protocol.SummaryResult{
			RequestID: req.RequestID,
			Summary:   summary,
			LatencyMS: time.Since(start).Milliseconds(),
			Timestamp: time.Now().UTC(),
		}
		if err != nil {
			out.Error = err.Error()
			s.logger.Warn("summarize failed", slog.String("request_id", req.RequestID), slogError(err))
		} else {
			s.logger.Info("summarize complete", slog.String("request_id", req.RequestID), slog.Duration("latency", time.Since(start)))
		}
		if err := bus.Respond(msg, out); err != nil {
			s.logger.Warn("failed to reply to summarize request", slogError(err))
		}
	}()
}

func (s *Service) summarize(ctx context.Context, req protocol.SummaryRequest) (string, error) {
	if len(req.Articles) > 0 {
		articles := make([]Article, 0, len(req.Articles))
		for _, a := range req.Articles {
			articles = append(articles, Article{Title: a.Title, Content: a.Content, Source: a.Source})
		}
		return s.summarizer.CombinedSummary(ctx, articles, req.Focus)
	}
	return s.summarizer.SummarizeWithFocus(ctx, req.Text, req.Focus)
}

// timeout allows one model call per article plus the combining call.
func (s *Service) timeout(articles int) time.Duration {
	per := time.Duration(s.cfg.TimeoutMS) * time.Millisecond
	if per <= 0 {
		per = 60 * time.Second
	}
	return per * time.Duration(articles+1)
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
