package tts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/loqalabs/loqa-digest/internal/audio"
	"github.com/loqalabs/loqa-digest/internal/config"
	"github.com/loqalabs/loqa-digest/internal/narration"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

var (
	// ErrNoAudio means no chunk produced audio, or there was nothing to say.
	ErrNoAudio = audio.ErrNoAudio
	// ErrCombine wraps a failure to join segment audio.
	ErrCombine = errors.New("combine narration audio")
)

type FailurePolicy string

const (
	PolicySkip FailurePolicy = "skip"
	PolicyGap  FailurePolicy = "gap"
)

type PipelineConfig struct {
	MaxChars          int
	Encoding          audio.Encoding
	Silence           time.Duration
	Policy            FailurePolicy
	Gap               time.Duration
	Concurrency       int
	RequestsPerSecond float64
	ChunkTimeout      time.Duration
	WriteTimeout      time.Duration
	OutputDir         string

	Voice        string
	Language     string
	SpeakingRate float64
	Pitch        float64
}

// PipelineConfigFrom maps the tts config section onto pipeline settings.
func PipelineConfigFrom(cfg config.TTSConfig) PipelineConfig {
	enc, err := audio.ParseEncoding(cfg.Encoding)
	if err != nil {
		enc = audio.MP3
	}
	return PipelineConfig{
		MaxChars:          cfg.MaxChars,
		Encoding:          enc,
		Silence:           time.Duration(cfg.SilenceMS) * time.Millisecond,
		Policy:            FailurePolicy(cfg.FailedChunkPolicy),
		Gap:               time.Duration(cfg.GapMS) * time.Millisecond,
		Concurrency:       cfg.Concurrency,
		RequestsPerSecond: cfg.RequestsPerSecond,
		ChunkTimeout:      time.Duration(cfg.ChunkTimeoutMS) * time.Millisecond,
		WriteTimeout:      time.Duration(cfg.WriteTimeoutMS) * time.Millisecond,
		OutputDir:         cfg.OutputDir,
		Voice:             cfg.Voice,
		Language:          cfg.Language,
		SpeakingRate:      cfg.SpeakingRate,
		Pitch:             cfg.Pitch,
	}
}

// NarrateRequest carries the text and the voice settings resolved by the
// caller. Zero values fall back to the pipeline defaults.
type NarrateRequest struct {
	Text         string
	Voice        string
	Language     string
	SpeakingRate float64
	Pitch        float64
	OutputPath   string
}

type Result struct {
	ID       string
	Path     string
	Encoding audio.Encoding
	Chunks   int
	// Dropped lists the indices of chunks whose synthesis failed.
	Dropped  []int
	Duration time.Duration
	Bytes    int64
}

type Pipeline struct {
	synth   Synthesizer
	cfg     PipelineConfig
	limiter *rate.Limiter
	logger  *slog.Logger
	tracer  trace.Tracer

	synthesized metric.Int64Counter
	dropped     metric.Int64Counter
	latency     metric.Float64Histogram
}

func NewPipeline(synth Synthesizer, cfg PipelineConfig, log *slog.Logger) *Pipeline {
	if cfg.Encoding == "" {
		cfg.Encoding = audio.MP3
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.OutputDir == "" {
		cfg.OutputDir = os.TempDir()
	}
	p := &Pipeline{
		synth:  synth,
		cfg:    cfg,
		logger: log.With(slog.String("component", "narration-pipeline")),
		tracer: otel.Tracer("github.com/loqalabs/loqa-digest/internal/tts"),
	}
	if cfg.RequestsPerSecond > 0 {
		p.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	if err := p.initMetrics(); err != nil {
		p.logger.Warn("failed to initialize metrics", slogError(err))
		p.synthesized, p.dropped, p.latency = noop.Int64Counter{}, noop.Int64Counter{}, noop.Float64Histogram{}
	}
	return p
}

func (p *Pipeline) initMetrics() error {
	meter := otel.Meter("github.com/loqalabs/loqa-digest/internal/tts")
	var err error
	if p.synthesized, err = meter.Int64Counter("narration.chunks.synthesized",
		metric.WithDescription("Chunks synthesized successfully")); err != nil {
		return err
	}
	if p.dropped, err = meter.Int64Counter("narration.chunks.dropped",
		metric.WithDescription("Chunks dropped after a synthesis failure")); err != nil {
		return err
	}
	p.latency, err = meter.Float64Histogram("narration.chunk.latency",
		metric.WithDescription("Per-chunk synthesis latency"),
		metric.WithUnit("ms"))
	return err
}

func (p *Pipeline) Config() PipelineConfig { return p.cfg }

// Narrate cleans, chunks, synthesizes and combines text into one audio file.
// Per-chunk failures are logged and reported in Result.Dropped. ErrNoAudio is
// returned when nothing was produced, in which case no file is written.
func (p *Pipeline) Narrate(ctx context.Context, req NarrateRequest) (Result, error) {
	if p == nil || p.synth == nil {
		return Result{}, ErrConfigurationMissing
	}
	res := Result{ID: uuid.NewString(), Encoding: p.cfg.Encoding}

	ctx, span := p.tracer.Start(ctx, "tts.narrate", trace.WithAttributes(
		attribute.String("narration.id", res.ID),
		attribute.String("tts.provider", p.synth.Name()),
	))
	defer span.End()

	chunks := narration.Split(narration.Clean(req.Text), p.cfg.MaxChars)
	res.Chunks = len(chunks)
	span.SetAttributes(attribute.Int("narration.chunks", len(chunks)))
	if len(chunks) == 0 {
		span.SetStatus(codes.Error, "empty text")
		return res, ErrNoAudio
	}

	segments, err := p.synthesizeAll(ctx, chunks, p.synthRequest(req))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "narration aborted")
		return res, err
	}
	for _, seg := range segments {
		if seg.Missing {
			res.Dropped = append(res.Dropped, seg.Index)
		}
	}

	combiner := audio.NewCombiner(audio.CombinerConfig{
		Encoding: p.cfg.Encoding,
		Silence:  p.cfg.Silence,
		Gap:      p.gap(),
	})
	data, err := combiner.Combine(segments)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "combine failed")
		if errors.Is(err, audio.ErrNoAudio) {
			p.logger.Warn("narration produced no audio", slog.String("id", res.ID), slog.Int("chunks", res.Chunks))
			return res, ErrNoAudio
		}
		return res, fmt.Errorf("%w: %w", ErrCombine, err)
	}

	if d, err := audio.Duration(p.cfg.Encoding, data); err != nil {
		p.logger.Warn("failed to measure narration", slog.String("id", res.ID), slogError(err))
	} else {
		res.Duration = d
	}

	path := req.OutputPath
	if path == "" {
		path = filepath.Join(p.cfg.OutputDir, "narration-"+res.ID+p.cfg.Encoding.Extension())
	}
	wctx := ctx
	if p.cfg.WriteTimeout > 0 {
		var cancel context.CancelFunc
		wctx, cancel = context.WithTimeout(ctx, p.cfg.WriteTimeout)
		defer cancel()
	}
	if err := writeAtomic(wctx, path, data); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "write failed")
		return res, fmt.Errorf("write narration: %w", err)
	}
	res.Path = path
	res.Bytes = int64(len(data))

	p.logger.Info("narration complete",
		slog.String("id", res.ID),
		slog.String("path", path),
		slog.Int("chunks", res.Chunks),
		slog.Int("dropped", len(res.Dropped)),
		slog.Duration("duration", res.Duration))
	return res, nil
}

func (p *Pipeline) gap() time.Duration {
	if p.cfg.Policy == PolicyGap {
		return p.cfg.Gap
	}
	return 0
}

func (p *Pipeline) synthRequest(req NarrateRequest) SynthRequest {
	out := SynthRequest{
		Voice:        req.Voice,
		Language:     req.Language,
		SpeakingRate: req.SpeakingRate,
		Pitch:        req.Pitch,
		Encoding:     p.cfg.Encoding,
	}
	if out.Voice == "" {
		out.Voice = p.cfg.Voice
	}
	if out.Language == "" {
		out.Language = p.cfg.Language
	}
	if out.SpeakingRate == 0 {
		out.SpeakingRate = p.cfg.SpeakingRate
	}
	if out.Pitch == 0 {
		out.Pitch = p.cfg.Pitch
	}
	return out
}

// synthesizeAll runs every chunk through the synthesizer with bounded
// concurrency. Segments come back in chunk order. Only cancellation of ctx
// aborts the run.
func (p *Pipeline) synthesizeAll(ctx context.Context, chunks []narration.Chunk, base SynthRequest) ([]audio.Segment, error) {
	segments := make([]audio.Segment, len(chunks))
	var g errgroup.Group
	g.SetLimit(p.cfg.Concurrency)

	for i, chunk := range chunks {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			req := base
			req.Text = chunk.Text
			data, err := p.synthesizeChunk(ctx, req)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				p.dropped.Add(ctx, 1)
				attrs := []any{slog.Int("chunk", chunk.Index), slog.Int("chunks", len(chunks)), slogError(err)}
				var perr *ProviderError
				if errors.As(err, &perr) {
					attrs = append(attrs, slog.Int("status", perr.StatusCode), slog.Bool("quota", perr.Quota()))
				}
				p.logger.Warn("chunk synthesis failed, dropping", attrs...)
				segments[i] = audio.Segment{Index: chunk.Index, Missing: true}
				return nil
			}
			p.synthesized.Add(ctx, 1)
			segments[i] = audio.Segment{Index: chunk.Index, Data: data}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return segments, nil
}

func (p *Pipeline) synthesizeChunk(ctx context.Context, req SynthRequest) ([]byte, error) {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit: %w", err)
		}
	}
	if p.cfg.ChunkTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.ChunkTimeout)
		defer cancel()
	}
	start := time.Now()
	data, err := p.synth.Synthesize(ctx, req)
	p.latency.Record(ctx, float64(time.Since(start).Milliseconds()),
		metric.WithAttributes(attribute.Bool("success", err == nil)))
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, errors.New("provider returned empty audio")
	}
	return data, nil
}

// writeAtomic writes data next to path and renames it into place. On timeout
// the partial temp file is removed once the write returns.
func writeAtomic(ctx context.Context, path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".narration-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := tmp.Write(data)
		if cerr := tmp.Close(); err == nil {
			err = cerr
		}
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			_ = os.Remove(tmp.Name())
			return err
		}
	case <-ctx.Done():
		go func() {
			<-done
			_ = os.Remove(tmp.Name())
		}()
		return ctx.Err()
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return nil
}
