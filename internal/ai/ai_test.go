package ai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keshon/mina/pkg/retrylimit"
)

func TestCleanReply(t *testing.T) {
	cases := map[string]string{
		`  "Hello there."  `:                 "Hello there.",
		"<think>hmm\nok</think> Sure thing.": "Sure thing.",
		"This is **very** nice":              "This is very nice",
		"“Quoted”":                           "Quoted",
	}
	for in, want := range cases {
		assert.Equal(t, want, cleanReply(in), in)
	}
}

func TestCutAtRune(t *testing.T) {
	assert.Equal(t, "short", cutAtRune("short", 10))
	assert.Equal(t, "First one.", cutAtRune("First one. Second one is longer", 16))
	// "é" is two bytes; cutting inside it backs off to the rune start
	assert.Equal(t, "caf", cutAtRune("café", 4))
	assert.Equal(t, `"`, unquote(`"`))
}

func TestChatCompletions(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer k", r.Header.Get("Authorization"))

		var body struct {
			Model    string    `json:"model"`
			Messages []Message `json:"messages"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "m1", body.Model)
		assert.Len(t, body.Messages, 2)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"\"Hi!\""}}]}`))
	}))
	defer srv.Close()

	p := NewChatCompletions(srv.URL+"/", "k")
	reply, err := p.Generate(context.Background(), "m1", []Message{{"system", "s"}, {"user", "u"}})
	require.NoError(t, err)
	assert.Equal(t, "Hi!", reply)
}

func TestChatCompletionsClientErrorIsFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad key", http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := NewChatCompletions(srv.URL, "k").Generate(context.Background(), "m", nil)
	var fatal *retrylimit.FatalError
	assert.ErrorAs(t, err, &fatal)
}

type scripted struct {
	mu     sync.Mutex
	models []string
	ok     map[string]string
}

func (s *scripted) Generate(_ context.Context, model string, _ []Message) (string, error) {
	s.mu.Lock()
	s.models = append(s.models, model)
	s.mu.Unlock()
	if r, ok := s.ok[model]; ok {
		return r, nil
	}
	return "", retrylimit.Fatal(errors.New("model unavailable"))
}

type fixedModel string

func (f fixedModel) AIModel() string { return string(f) }

func TestResponderFallsBack(t *testing.T) {
	p := &scripted{ok: map[string]string{"fallback": "from fallback"}}
	r := NewResponder(Options{Provider: p, Model: "main", FallbackModel: "fallback", Logger: zerolog.Nop()})

	assert.Equal(t, "from fallback", r.GenerateResponse(context.Background(), "hi"))
	assert.Equal(t, []string{"main", "fallback"}, p.models)
}

func TestResponderApologizesWhenAllFail(t *testing.T) {
	p := &scripted{}
	r := NewResponder(Options{Provider: p, Model: "main", FallbackModel: "main", Logger: zerolog.Nop()})

	assert.Equal(t, ReplyBusy, r.GenerateResponse(context.Background(), "hi"))
	assert.Equal(t, []string{"main"}, p.models, "fallback equal to the main model is not retried")
}

func TestResponderUsesRuntimeModel(t *testing.T) {
	p := &scripted{ok: map[string]string{"picked": "ok"}}
	r := NewResponder(Options{Provider: p, Models: fixedModel("picked"), Model: "main", Logger: zerolog.Nop()})

	assert.Equal(t, "ok", r.GenerateResponse(context.Background(), "hi"))
	assert.Equal(t, []string{"picked"}, p.models)
}

func TestPersonaFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "persona.txt")
	require.NoError(t, os.WriteFile(path, []byte("  Be terse.\n"), 0o644))
	assert.Equal(t, "Be terse.", loadPersona(path, zerolog.Nop()))
	assert.Equal(t, defaultPersona, loadPersona(filepath.Join(t.TempDir(), "missing"), zerolog.Nop()))
}
