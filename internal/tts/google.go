package tts

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/loqalabs/loqa-digest/internal/audio"
	"github.com/loqalabs/loqa-digest/internal/config"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

const (
	googleTTSEndpoint  = "https://texttospeech.googleapis.com/v1/text:synthesize"
	cloudPlatformScope = "https://www.googleapis.com/auth/cloud-platform"
)

type googleSynth struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

type googleRequest struct {
	Input       googleInput       `json:"input"`
	Voice       googleVoice       `json:"voice"`
	AudioConfig googleAudioConfig `json:"audioConfig"`
}

type googleInput struct {
	Text string `json:"text"`
}

type googleVoice struct {
	LanguageCode string `json:"languageCode"`
	Name         string `json:"name,omitempty"`
}

type googleAudioConfig struct {
	AudioEncoding string  `json:"audioEncoding"`
	SpeakingRate  float64 `json:"speakingRate,omitempty"`
	Pitch         float64 `json:"pitch,omitempty"`
}

type googleResponse struct {
	AudioContent string `json:"audioContent"`
}

type googleErrorBody struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// NewGoogleSynth resolves a credential in order: API key, service account
// file, application default credentials.
func NewGoogleSynth(ctx context.Context, cfg config.TTSConfig) (Synthesizer, error) {
	s := &googleSynth{
		endpoint: cfg.Endpoint,
		apiKey:   cfg.APIKey,
	}
	if s.endpoint == "" {
		s.endpoint = googleTTSEndpoint
	}

	switch {
	case cfg.APIKey != "":
		s.client = &http.Client{Timeout: 60 * time.Second}
	case cfg.CredentialsFile != "":
		data, err := os.ReadFile(cfg.CredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("%w: read credentials: %v", ErrConfigurationMissing, err)
		}
		creds, err := google.CredentialsFromJSON(ctx, data, cloudPlatformScope)
		if err != nil {
			return nil, fmt.Errorf("%w: parse credentials: %v", ErrConfigurationMissing, err)
		}
		s.client = oauth2.NewClient(ctx, creds.TokenSource)
	default:
		creds, err := google.FindDefaultCredentials(ctx, cloudPlatformScope)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrConfigurationMissing, err)
		}
		s.client = oauth2.NewClient(ctx, creds.TokenSource)
	}
	return s, nil
}

func (g *googleSynth) Name() string { return "google" }

func (g *googleSynth) Synthesize(ctx context.Context, req SynthRequest) ([]byte, error) {
	body := googleRequest{
		Input: googleInput{Text: req.Text},
		Voice: googleVoice{
			LanguageCode: languageFor(req),
			Name:         req.Voice,
		},
		AudioConfig: googleAudioConfig{
			AudioEncoding: googleEncoding(req.Encoding),
			SpeakingRate:  req.SpeakingRate,
			Pitch:         req.Pitch,
		},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	endpoint := g.endpoint
	if g.apiKey != "" {
		endpoint += "?key=" + url.QueryEscape(g.apiKey)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		msg := strings.TrimSpace(string(data))
		var eb googleErrorBody
		if json.Unmarshal(data, &eb) == nil && eb.Error.Message != "" {
			msg = eb.Error.Status + ": " + eb.Error.Message
		}
		return nil, &ProviderError{Provider: g.Name(), StatusCode: resp.StatusCode, Message: msg}
	}

	var out googleResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	audioBytes, err := base64.StdEncoding.DecodeString(out.AudioContent)
	if err != nil {
		return nil, fmt.Errorf("decode audio content: %w", err)
	}
	return audioBytes, nil
}

func googleEncoding(enc audio.Encoding) string {
	if enc == audio.WAV {
		return "LINEAR16"
	}
	return "MP3"
}

// languageFor falls back to the locale prefix of a voice name such as
// "en-US-Neural2-J".
func languageFor(req SynthRequest) string {
	if req.Language != "" {
		return req.Language
	}
	parts := strings.SplitN(req.Voice, "-", 3)
	if len(parts) >= 2 {
		return parts[0] + "-" + parts[1]
	}
	return "en-US"
}
