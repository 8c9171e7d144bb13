package tools

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mohammad-safakhou/callsheet/config"
)

// VoiceoverTool synthesizes narration through an HTTP TTS endpoint and
// writes the returned audio to the asset directory.
type VoiceoverTool struct {
	cfg    config.ToolsConfig
	apiKey string
	client *http.Client
}

// NewVoiceoverTool constructs the TTS tool. apiKey authorizes the TTS
// endpoint; the LLM key is reused when the provider hosts both.
func NewVoiceoverTool(cfg config.ToolsConfig, apiKey string) *VoiceoverTool {
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &VoiceoverTool{cfg: cfg, apiKey: apiKey, client: &http.Client{Timeout: timeout}}
}

func (t *VoiceoverTool) Name() string { return "voiceover" }

func (t *VoiceoverTool) Description() string {
	return "Generates a voiceover audio file from a script using the configured TTS voice."
}

func (t *VoiceoverTool) Schema() json.RawMessage {
	return json.RawMessage(`{
  "type": "object",
  "properties": {
    "script": {"type": "string", "description": "The text to speak"},
    "voice": {"type": "string", "description": "Voice name override"},
    "filename": {"type": "string", "description": "Output filename (e.g. narration.wav)"}
  },
  "required": ["script", "filename"]
}`)
}

type voiceoverArgs struct {
	Script   string `json:"script"`
	Voice    string `json:"voice"`
	Filename string `json:"filename"`
}

type ttsRequest struct {
	Text  string `json:"text"`
	Voice string `json:"voice"`
}

type ttsResponse struct {
	AudioBase64 string `json:"audio_base64"`
	Error       string `json:"error"`
}

func (t *VoiceoverTool) Execute(ctx context.Context, raw json.RawMessage) (Result, error) {
	var args voiceoverArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return Fail("invalid arguments: %v", err), nil
	}
	if strings.TrimSpace(args.Script) == "" || args.Filename == "" {
		return Fail("script and filename are required"), nil
	}
	if t.cfg.TTSEndpoint == "" {
		return Fail("tts endpoint not configured"), nil
	}
	voice := args.Voice
	if voice == "" {
		voice = t.cfg.TTSVoice
	}

	body, err := json.Marshal(ttsRequest{Text: args.Script, Voice: voice})
	if err != nil {
		return Result{}, fmt.Errorf("failed to marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.cfg.TTSEndpoint, bytes.NewBuffer(body))
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	if t.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+t.apiKey)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return Fail("tts request failed: %v", err), nil
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Fail("tts api error: %d %s", resp.StatusCode, strings.TrimSpace(string(snippet))), nil
	}

	var parsed ttsResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return Fail("tts response parse failed: %v", err), nil
	}
	if parsed.AudioBase64 == "" {
		msg := parsed.Error
		if msg == "" {
			msg = "no audio data received"
		}
		return Fail("%s", msg), nil
	}
	audio, err := base64.StdEncoding.DecodeString(parsed.AudioBase64)
	if err != nil {
		return Fail("tts audio decode failed: %v", err), nil
	}

	if err := ensureDir(t.cfg.WorkDir); err != nil {
		return Result{}, err
	}
	outPath := filepath.Join(t.cfg.WorkDir, filepath.Base(args.Filename))
	if err := os.WriteFile(outPath, audio, 0o644); err != nil {
		return Result{}, err
	}
	return Ok(map[string]interface{}{"file": filepath.Base(outPath), "path": outPath, "voice": voice}), nil
}
