package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/keshon/mina/pkg/retrylimit"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Provider runs one chat completion against the named model.
type Provider interface {
	Generate(ctx context.Context, model string, messages []Message) (string, error)
}

// NewProvider picks the backend by name: "openrouter" and "openai" speak the
// chat-completions API at baseURL, "pollinations" needs no key.
func NewProvider(name, baseURL, apiKey string) (Provider, error) {
	switch strings.ToLower(name) {
	case "openrouter", "openai", "":
		if apiKey == "" {
			return nil, fmt.Errorf("AI_API_KEY is required for provider %q", name)
		}
		return NewChatCompletions(baseURL, apiKey), nil
	case "pollinations":
		return NewPollinationsProvider(), nil
	default:
		return nil, fmt.Errorf("unsupported AI_PROVIDER: %s", name)
	}
}

// ChatCompletions talks to any OpenAI-compatible /chat/completions endpoint.
type ChatCompletions struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewChatCompletions(baseURL, apiKey string) *ChatCompletions {
	return &ChatCompletions{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

func (p *ChatCompletions) Generate(ctx context.Context, model string, messages []Message) (string, error) {
	payload := map[string]any{
		"model":    model,
		"messages": messages,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", retrylimit.Fatal(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", retrylimit.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	req.Header.Set("X-Title", "Mina")

	return doCompletion(p.client, req)
}

// doCompletion sends req and extracts the first choice.
func doCompletion(client *http.Client, req *http.Request) (string, error) {
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 256*1024))
	if err != nil {
		return "", err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		e := &retrylimit.StatusError{Code: resp.StatusCode, Body: truncate(respBody)}
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return "", e
		}
		return "", retrylimit.Fatal(e)
	}
	if strings.Contains(resp.Header.Get("Content-Type"), "text/html") {
		return "", fmt.Errorf("provider returned html")
	}

	var parsed struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("decode completion: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("empty choices")
	}

	reply := cleanReply(parsed.Choices[0].Message.Content)
	if isGarbageResponse(reply) {
		return "", fmt.Errorf("garbage response")
	}
	return reply, nil
}
