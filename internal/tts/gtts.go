// Package tts turns text into audio clips.
package tts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/keshon/mina/internal/audio"
	"github.com/keshon/mina/pkg/retrylimit"
)

// MaxChunk is the longest text the translate endpoint accepts per request.
const MaxChunk = 200

type Voice struct {
	Code  string // locale such as en-US
	Style string
}

type locale struct{ lang, tld string }

var locales = map[string]locale{
	"en-US": {"en", "com"},
	"en-GB": {"en", "co.uk"},
	"en-AU": {"en", "com.au"},
	"en-IN": {"en", "co.in"},
	"fr-FR": {"fr", "fr"},
	"de-DE": {"de", "de"},
	"es-ES": {"es", "es"},
	"it-IT": {"it", "it"},
	"ja-JP": {"ja", "co.jp"},
	"ko-KR": {"ko", "co.kr"},
	"pt-BR": {"pt", "com.br"},
	"ru-RU": {"ru", "ru"},
}

// Locales lists the voice codes with a dedicated regional endpoint.
func Locales() []string {
	out := make([]string, 0, len(locales))
	for code := range locales {
		out = append(out, code)
	}
	slices.Sort(out)
	return out
}

func resolveLocale(code string) locale {
	if l, ok := locales[code]; ok {
		return l
	}
	if lang, _, ok := strings.Cut(code, "-"); ok && lang != "" {
		return locale{strings.ToLower(lang), "com"}
	}
	if code != "" {
		return locale{strings.ToLower(code), "com"}
	}
	return locale{"en", "com"}
}

// GTTS synthesizes through the Google Translate speech endpoint and writes an
// mp3 temp file.
type GTTS struct {
	client  *http.Client
	tempDir string
	limiter *retrylimit.AdaptiveLimiter
	log     zerolog.Logger
	baseURL string
}

// NewGTTS uses baseURL for every request; an empty baseURL picks the regional
// Google host for the voice's accent.
func NewGTTS(baseURL, tempDir string, log zerolog.Logger) *GTTS {
	return &GTTS{
		client:  &http.Client{Timeout: 15 * time.Second},
		tempDir: tempDir,
		limiter: retrylimit.NewAdaptiveLimiter(5, 1, 10, 1, 0.5),
		log:     log,
		baseURL: baseURL,
	}
}

func (g *GTTS) endpoint(l locale, text string) string {
	q := url.Values{}
	q.Set("ie", "UTF-8")
	q.Set("client", "tw-ob")
	q.Set("tl", l.lang)
	q.Set("q", text)

	base := g.baseURL
	if base == "" {
		base = "https://translate.google." + l.tld + "/translate_tts"
	}
	return base + "?" + q.Encode()
}

// Generate writes the spoken text into a temporary clip which the caller
// disposes after playback.
func (g *GTTS) Generate(ctx context.Context, text string, v Voice) (*audio.Clip, error) {
	chunks := Chunk(text, MaxChunk)
	if len(chunks) == 0 {
		return nil, errors.New("tts: nothing to say")
	}

	clip, f, err := audio.TempFile(g.tempDir, "gtts", ".mp3")
	if err != nil {
		return nil, err
	}

	l := resolveLocale(v.Code)
	for _, c := range chunks {
		if err := g.fetch(ctx, l, c, f); err != nil {
			f.Close()
			clip.Dispose()
			return nil, err
		}
	}
	if err := f.Close(); err != nil {
		clip.Dispose()
		return nil, fmt.Errorf("tts: close clip: %w", err)
	}
	g.log.Debug().Int("chunks", len(chunks)).Str("voice", v.Code).Str("file", clip.Path).Msg("speech generated")
	return clip, nil
}

func (g *GTTS) fetch(ctx context.Context, l locale, text string, w io.Writer) error {
	var body []byte
	err := retrylimit.WithRetryMax(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.endpoint(l, text), nil)
		if err != nil {
			return retrylimit.Fatal(err)
		}
		req.Header.Set("User-Agent", "Mozilla/5.0")

		resp, err := g.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			e := &retrylimit.StatusError{Code: resp.StatusCode}
			if resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
				return retrylimit.Fatal(e)
			}
			return e
		}
		body, err = io.ReadAll(resp.Body)
		return err
	}, g.limiter, 3)
	if err != nil {
		return fmt.Errorf("tts: fetch: %w", err)
	}

	_, err = w.Write(body)
	return err
}

// Chunk splits text on word boundaries into pieces of at most n bytes.
// Words longer than n are cut.
func Chunk(text string, n int) []string {
	var (
		out []string
		cur strings.Builder
	)
	flush := func() {
		if cur.Len() > 0 {
			out = append(out, cur.String())
			cur.Reset()
		}
	}

	for _, w := range strings.Fields(text) {
		for len(w) > n {
			flush()
			out = append(out, w[:n])
			w = w[n:]
		}
		if cur.Len() > 0 && cur.Len()+1+len(w) > n {
			flush()
		}
		if cur.Len() > 0 {
			cur.WriteByte(' ')
		}
		cur.WriteString(w)
	}
	flush()
	return out
}
