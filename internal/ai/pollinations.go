package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/keshon/mina/pkg/retrylimit"
)

const pollinationsURL = "https://text.pollinations.ai/openai"

// PollinationsProvider is the keyless public endpoint. It ignores the model
// name and always asks for its "openai" model.
type PollinationsProvider struct {
	url    string
	client *http.Client
}

func NewPollinationsProvider() *PollinationsProvider {
	return &PollinationsProvider{
		url:    pollinationsURL,
		client: &http.Client{Timeout: 25 * time.Second},
	}
}

func (p *PollinationsProvider) Generate(ctx context.Context, _ string, messages []Message) (string, error) {
	payload := map[string]any{
		"model":       "openai",
		"messages":    messages,
		"temperature": 1,
		"private":     true,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", retrylimit.Fatal(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(data))
	if err != nil {
		return "", retrylimit.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")

	return doCompletion(p.client, req)
}
