// Package guard implements the optional LLM relevance filter applied to
// records that already passed keyword matching.
package guard

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

const defaultPrompt = `你是招标采购信息的审核助手。判断给定的公告是否是一条真实的招标、采购或询价公告。
只返回JSON：{"relevant": true或false, "reason": "简短原因"}`

const (
	maxAttempts   = 3
	retryDelay    = 2 * time.Second
	contentBudget = 800
)

// Config controls the guard's LLM endpoint.
type Config struct {
	Enable  bool
	BaseURL string
	APIKey  string
	Model   string
	Prompt  string
	Timeout time.Duration
}

// Guard classifies records via an OpenAI-compatible chat completion endpoint.
// Any failure path returns relevant=true so that a broken or unreachable
// model never suppresses notifications.
type Guard struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

// New builds a Guard. A nil logger falls back to zap.NewNop.
func New(cfg Config, logger *zap.Logger) *Guard {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Prompt == "" {
		cfg.Prompt = defaultPrompt
	}
	return &Guard{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
		sleep:  sleepCtx,
	}
}

// Classify reports whether the record looks like a genuine tender
// announcement. Disabled or unconfigured guards pass everything through.
func (g *Guard) Classify(ctx context.Context, title, content string) (bool, string) {
	if !g.cfg.Enable || g.cfg.APIKey == "" || g.cfg.BaseURL == "" {
		return true, "guard disabled"
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		relevant, reason, err := g.classifyOnce(ctx, title, content)
		if err == nil {
			return relevant, reason
		}
		lastErr = err
		g.logger.Warn("guard classify attempt failed",
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		if attempt < maxAttempts {
			if serr := g.sleep(ctx, retryDelay); serr != nil {
				break
			}
		}
	}
	// Fail open: never drop a record because the model is down.
	return true, fmt.Sprintf("guard unavailable after %d attempts: %v", maxAttempts, lastErr)
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

type verdict struct {
	Relevant bool   `json:"relevant"`
	Reason   string `json:"reason"`
}

func (g *Guard) classifyOnce(ctx context.Context, title, content string) (bool, string, error) {
	if runes := []rune(content); len(runes) > contentBudget {
		content = string(runes[:contentBudget])
	}
	payload := chatRequest{
		Model: g.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: g.cfg.Prompt},
			{Role: "user", Content: fmt.Sprintf("标题：%s\n内容：%s", title, content)},
		},
		Temperature: 0.1,
		MaxTokens:   300,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return false, "", fmt.Errorf("marshal chat request: %w", err)
	}

	url := strings.TrimSuffix(g.cfg.BaseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return false, "", fmt.Errorf("build chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+g.cfg.APIKey)

	resp, err := g.client.Do(req)
	if err != nil {
		return false, "", fmt.Errorf("call model: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return false, "", fmt.Errorf("model returned status %d", resp.StatusCode)
	}

	var cr chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return false, "", fmt.Errorf("decode chat response: %w", err)
	}
	if len(cr.Choices) == 0 {
		return false, "", fmt.Errorf("chat response has no choices")
	}
	return parseVerdict(cr.Choices[0].Message.Content)
}

// parseVerdict extracts the JSON verdict from the model reply. Models often
// wrap JSON in markdown fences or pad it with prose, so the first JSON object
// found in the text is used. When no JSON parses, coarse keyword heuristics
// on the prose decide.
func parseVerdict(reply string) (bool, string, error) {
	reply = strings.TrimSpace(reply)
	if reply == "" {
		return false, "", fmt.Errorf("empty model reply")
	}

	if raw, ok := extractJSON(reply); ok {
		var v verdict
		if err := json.Unmarshal([]byte(raw), &v); err == nil {
			reason := v.Reason
			if reason == "" {
				reason = "model verdict"
			}
			return v.Relevant, reason, nil
		}
	}

	lowered := strings.ToLower(reply)
	switch {
	case strings.Contains(lowered, `"relevant": true`) || strings.Contains(lowered, "relevant: true"):
		return true, "model verdict (prose)", nil
	case strings.Contains(lowered, `"relevant": false`) || strings.Contains(lowered, "relevant: false"):
		return false, "model verdict (prose)", nil
	}
	return false, "", fmt.Errorf("unparseable model reply")
}

func extractJSON(reply string) (string, bool) {
	if idx := strings.Index(reply, "```json"); idx >= 0 {
		rest := reply[idx+len("```json"):]
		if end := strings.Index(rest, "```"); end >= 0 {
			return strings.TrimSpace(rest[:end]), true
		}
	}
	if idx := strings.Index(reply, "```"); idx >= 0 {
		rest := reply[idx+3:]
		if end := strings.Index(rest, "```"); end >= 0 {
			return strings.TrimSpace(rest[:end]), true
		}
	}
	start := strings.Index(reply, "{")
	end := strings.LastIndex(reply, "}")
	if start >= 0 && end > start {
		return reply[start : end+1], true
	}
	return "", false
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
