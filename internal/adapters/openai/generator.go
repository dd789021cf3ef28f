package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"replybot/internal/adapters/observability"
	"replybot/internal/domain"
)

// Style is the fixed reply-generation configuration. The generator is a
// pure function of a review plus this style; no hidden state.
type Style struct {
	BusinessName string
	Tone         string
	MaxLen       int // reply length cap of the posting API, in runes
	Temperature  float64
}

// Generator produces review replies via an OpenAI-compatible
// chat-completions endpoint.
type Generator struct {
	base  string
	key   string
	model string
	style Style
	hc    *http.Client
	rl    *rate.Limiter
}

func New(base, key, model string, style Style, timeout time.Duration) (*Generator, error) {
	if key == "" {
		return nil, fmt.Errorf("API key is required")
	}
	if style.BusinessName == "" {
		return nil, fmt.Errorf("business name is required")
	}
	if style.MaxLen <= 0 {
		return nil, fmt.Errorf("max reply length must be positive")
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Generator{
		base:  strings.TrimRight(base, "/"),
		key:   key,
		model: model,
		style: style,
		hc:    &http.Client{Timeout: timeout},
		rl:    rate.NewLimiter(rate.Limit(2), 2),
	}, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Generate returns a reply for the review, trimmed and capped at the
// style's MaxLen. Empty model output is a generation failure, not an
// empty reply.
func (g *Generator) Generate(ctx context.Context, rv domain.Review) (string, error) {
	if err := g.rl.Wait(ctx); err != nil {
		return "", err
	}

	body := chatRequest{
		Model: g.model,
		Messages: []chatMessage{
			{Role: "system", Content: g.systemPrompt()},
			{Role: "user", Content: userPrompt(rv)},
		},
		Temperature: g.style.Temperature,
	}
	data, err := json.Marshal(body)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		g.base+"/chat/completions", bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+g.key)

	start := time.Now()
	resp, err := g.hc.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		observability.ObserveExternal("openai", "chat", 0, time.Since(start))
		return "", fmt.Errorf("%w: %v", domain.ErrGenerationFailed, err)
	}
	defer resp.Body.Close()
	observability.ObserveExternal("openai", "chat", resp.StatusCode, time.Since(start))

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("%w: remote %d: %s",
			domain.ErrGenerationFailed, resp.StatusCode, strings.TrimSpace(string(b)))
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrGenerationFailed, err)
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("%w: no choices in response", domain.ErrGenerationFailed)
	}

	text := strings.TrimSpace(out.Choices[0].Message.Content)
	if text == "" {
		return "", fmt.Errorf("%w: empty reply text", domain.ErrGenerationFailed)
	}
	return truncate(text, g.style.MaxLen), nil
}

func (g *Generator) systemPrompt() string {
	return fmt.Sprintf("You are %s's friendly assistant. Keep replies %s.",
		g.style.BusinessName, g.style.Tone)
}

func userPrompt(rv domain.Review) string {
	name := rv.Author
	if name == "" {
		name = "A customer"
	}
	return fmt.Sprintf("%s left a %d-star review: '%s'. Write a short, polite thank-you reply.",
		name, rv.Rating, rv.Comment)
}

// truncate caps s at max runes. Cutting on a rune boundary keeps the
// output valid UTF-8 even mid-word.
func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}
