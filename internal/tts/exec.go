package tts

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os/exec"

	"github.com/mattn/go-shellwords"
)

type execSynth struct {
	cmd []string
}

type execRequest struct {
	Text         string  `json:"text"`
	Voice        string  `json:"voice"`
	Language     string  `json:"language,omitempty"`
	SpeakingRate float64 `json:"speaking_rate"`
	Pitch        float64 `json:"pitch"`
	Encoding     string  `json:"encoding"`
}

type execResponse struct {
	AudioBase64 string `json:"audio_base64"`
	Final       bool   `json:"final"`
	Error       string `json:"error,omitempty"`
}

// NewExecSynth runs command once per chunk. The request is written to stdin
// as JSON; stdout carries JSON lines with base64 audio until one is final.
func NewExecSynth(command string) (Synthesizer, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse tts command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("tts command empty")
	}
	return &execSynth{cmd: args}, nil
}

func (e *execSynth) Name() string { return "exec" }

func (e *execSynth) Synthesize(ctx context.Context, req SynthRequest) ([]byte, error) {
	payload, err := json.Marshal(execRequest{
		Text:         req.Text,
		Voice:        req.Voice,
		Language:     req.Language,
		SpeakingRate: req.SpeakingRate,
		Pitch:        req.Pitch,
		Encoding:     string(req.Encoding),
	})
	if err != nil {
		return nil, err
	}

	cmd := exec.CommandContext(ctx, e.cmd[0], e.cmd[1:]...)
	cmd.Stdin = bytes.NewReader(payload)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start tts command: %w", err)
	}

	var (
		out   bytes.Buffer
		final bool
	)
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 32*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 || final {
			continue
		}
		var resp execResponse
		if err := json.Unmarshal(line, &resp); err != nil {
			abort(cmd)
			return nil, fmt.Errorf("decode tts response: %w", err)
		}
		if resp.Error != "" {
			abort(cmd)
			return nil, &ProviderError{Provider: e.Name(), Message: resp.Error}
		}
		chunk, err := base64.StdEncoding.DecodeString(resp.AudioBase64)
		if err != nil {
			abort(cmd)
			return nil, fmt.Errorf("decode tts audio: %w", err)
		}
		out.Write(chunk)
		final = resp.Final
	}
	scanErr := scanner.Err()
	if err := cmd.Wait(); err != nil {
		return nil, fmt.Errorf("tts command failed: %w: %s", err, stderr.String())
	}
	if scanErr != nil {
		return nil, scanErr
	}
	return out.Bytes(), nil
}

func abort(cmd *exec.Cmd) {
	_ = cmd.Process.Kill()
	_ = cmd.Wait()
}
