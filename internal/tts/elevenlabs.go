package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/loqalabs/loqa-digest/internal/config"
)

const (
	elevenLabsAPIURL       = "https://api.elevenlabs.io/v1/text-to-speech"
	elevenLabsDefaultModel = "eleven_multilingual_v2"
	elevenLabsDefaultVoice = "21m00Tcm4TlvDq8ikWAM" // Rachel
)

type elevenLabsSynth struct {
	endpoint   string
	apiKey     string
	modelID    string
	httpClient *http.Client
}

type elevenLabsRequest struct {
	Text          string                  `json:"text"`
	ModelID       string                  `json:"model_id"`
	VoiceSettings elevenLabsVoiceSettings `json:"voice_settings"`
}

type elevenLabsVoiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Speed           float64 `json:"speed,omitempty"`
}

// NewElevenLabsSynth returns an MP3-only synthesizer. The voice on each
// request must be an ElevenLabs voice ID.
func NewElevenLabsSynth(cfg config.TTSConfig) (Synthesizer, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: elevenlabs api key", ErrConfigurationMissing)
	}
	s := &elevenLabsSynth{
		endpoint:   strings.TrimSuffix(cfg.Endpoint, "/"),
		apiKey:     cfg.APIKey,
		modelID:    cfg.Model,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
	if s.endpoint == "" {
		s.endpoint = elevenLabsAPIURL
	}
	if s.modelID == "" {
		s.modelID = elevenLabsDefaultModel
	}
	return s, nil
}

func (c *elevenLabsSynth) Name() string { return "elevenlabs" }

func (c *elevenLabsSynth) Synthesize(ctx context.Context, req SynthRequest) ([]byte, error) {
	voice := req.Voice
	if voice == "" {
		voice = elevenLabsDefaultVoice
	}
	url := fmt.Sprintf("%s/%s?output_format=mp3_44100_128", c.endpoint, voice)

	body, err := json.Marshal(elevenLabsRequest{
		Text:    req.Text,
		ModelID: c.modelID,
		VoiceSettings: elevenLabsVoiceSettings{
			Stability:       0.5,
			SimilarityBoost: 0.75,
			Speed:           req.SpeakingRate,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "audio/mpeg")
	httpReq.Header.Set("xi-api-key", c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &ProviderError{Provider: c.Name(), StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(respBody))}
	}
	return io.ReadAll(resp.Body)
}
