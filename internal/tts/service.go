package tts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/loqalabs/loqa-digest/internal/bus"
	"github.com/loqalabs/loqa-digest/internal/config"
	"github.com/loqalabs/loqa-digest/internal/protocol"
	"github.com/nats-io/nats.go"
)

const narrationTimeout = 10 * time.Minute

// ErrOutputOutsideDir rejects a bus request whose output path leaves the
// configured output directory.
var ErrOutputOutsideDir = errors.New("output path outside output directory")

// Recorder persists completed narrations. It may be nil.
type Recorder interface {
	RecordNarration(ctx context.Context, source string, res Result) error
}

type Service struct {
	cfg      config.TTSConfig
	bus      *bus.Client
	pipeline *Pipeline
	recorder Recorder
	sub      *nats.Subscription
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	logger   *slog.Logger
}

func NewService(parent context.Context, cfg config.TTSConfig, busClient *bus.Client, pipeline *Pipeline, recorder Recorder, log *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	return &Service{
		cfg:      cfg,
		bus:      busClient,
		pipeline: pipeline,
		recorder: recorder,
		ctx:      ctx,
		cancel:   cancel,
		logger:   log.With(slog.String("component", "tts-service")),
	}
}

func (s *Service) Start() error {
	if !s.cfg.Enabled {
		return nil
	}
	sub, err := s.bus.Subscribe(protocol.SubjectNarrateRequest, s.handleRequest)
	if err != nil {
		return err
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

func (s *Service) Healthy() bool { return !s.cfg.Enabled || s.sub != nil }

func (s *Service) handleRequest(msg *nats.Msg) {
	var req protocol.NarrationRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.logger.Warn("failed to decode narration request", slogError(err))
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ctx, cancel := context.WithTimeout(s.ctx, narrationTimeout)
		defer cancel()

		var res Result
		path, err := s.outputPath(req.OutputPath)
		if err == nil {
			res, err = s.pipeline.Narrate(ctx, NarrateRequest{
				Text:         req.Text,
				Voice:        req.Voice,
				Language:     req.Language,
				SpeakingRate: req.SpeakingRate,
				Pitch:        req.Pitch,
				OutputPath:   path,
			})
		}
		out := resultMessage(req.RequestID, res, err)
		switch {
		case err == nil:
			if s.recorder != nil {
				if rerr := s.recorder.RecordNarration(ctx, "bus", res); rerr != nil {
					s.logger.Warn("failed to record narration", slogError(rerr))
				}
			}
		case errors.Is(err, ErrNoAudio), errors.Is(err, ErrConfigurationMissing):
			s.logger.Warn("narration produced no audio", slog.String("request_id", req.RequestID), slogError(err))
		default:
			s.logger.Warn("narration failed", slog.String("request_id", req.RequestID), slogError(err))
		}

		if err := bus.Respond(msg, out); err != nil {
			s.logger.Warn("failed to reply to narration request", slogError(err))
		}
		if err := s.bus.PublishJSON(protocol.SubjectNarrateDone, out); err != nil {
			s.logger.Warn("failed to publish narration done", slogError(err))
		}
	}()
}

// outputPath resolves a requested path against the pipeline's output
// directory. Relative paths land inside it; anything that escapes it is
// rejected.
func (s *Service) outputPath(requested string) (string, error) {
	if requested == "" || s.pipeline == nil {
		return requested, nil
	}
	dir, err := filepath.Abs(s.pipeline.cfg.OutputDir)
	if err != nil {
		return "", fmt.Errorf("resolve output dir: %w", err)
	}
	path := requested
	if !filepath.IsAbs(path) {
		path = filepath.Join(dir, path)
	}
	path = filepath.Clean(path)
	rel, err := filepath.Rel(dir, path)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrOutputOutsideDir, requested)
	}
	return path, nil
}

func resultMessage(requestID string, res Result, err error) protocol.NarrationResult {
	out := protocol.NarrationResult{
		RequestID:   requestID,
		NarrationID: res.ID,
		Path:        res.Path,
		Encoding:    string(res.Encoding),
		Chunks:      res.Chunks,
		Dropped:     res.Dropped,
		DurationMS:  res.Duration.Milliseconds(),
		Bytes:       res.Bytes,
		Timestamp:   time.Now().UTC(),
	}
	if err != nil {
		out.Path = ""
		out.Error = err.Error()
	}
	return out
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
