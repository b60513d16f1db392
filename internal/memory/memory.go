// Package memory builds per-user prompt context from stored profiles and
// learns new facts from finished exchanges.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/keshon/mina/internal/storage"
)

// maxGreetingFacts caps how many facts a greeting prompt mentions.
const maxGreetingFacts = 3

type Profiles interface {
	Profile(userID string) storage.Profile
	Profiles() map[string]storage.Profile
	UpdateProfile(userID string, fn func(p *storage.Profile) bool)
}

// Completer runs one prompt against the language model.
type Completer interface {
	Complete(ctx context.Context, system, prompt string) (string, error)
}

type Memory struct {
	store Profiles
	llm   Completer
	log   zerolog.Logger
}

func New(store Profiles, llm Completer, log zerolog.Logger) *Memory {
	return &Memory{store: store, llm: llm, log: log}
}

// DisplayName is the name the user gave us, empty when unknown.
func (m *Memory) DisplayName(userID string) string {
	return m.store.Profile(userID).DisplayName
}

// GreetingFacts returns a few known facts for a greeting prompt.
func (m *Memory) GreetingFacts(userID string) []string {
	f := m.store.Profile(userID).Facts
	return f[:min(len(f), maxGreetingFacts)]
}

type mention struct {
	id    string
	name  string
	facts []string
}

// mentioned finds other profiles whose name appears in text.
func (m *Memory) mentioned(text, exclude string) []mention {
	text = strings.ToLower(text)
	if text == "" {
		return nil
	}

	var out []mention
	for id, p := range m.store.Profiles() {
		if id == exclude || id == storage.SelfProfileID || p.DisplayName == "" {
			continue
		}
		if strings.Contains(text, strings.ToLower(p.DisplayName)) {
			out = append(out, mention{id: id, name: p.DisplayName, facts: p.Facts})
		}
	}
	slices.SortFunc(out, func(a, b mention) int { return strings.Compare(a.name, b.name) })
	return out
}

func bullets(facts []string) string {
	if len(facts) == 0 {
		return "- (nothing yet)"
	}
	return "- " + strings.Join(facts, "\n- ")
}

// GetContext renders what we know about the speaker, anyone they mention, and
// the assistant itself.
func (m *Memory) GetContext(userID, name, text string) string {
	p := m.store.Profile(userID)
	if p.DisplayName != "" {
		name = p.DisplayName
	}

	var b strings.Builder
	fmt.Fprintf(&b, "\n[User Context]\nName: %s\n", name)
	if p.Bio != "" {
		fmt.Fprintf(&b, "- %s\n", p.Bio)
	}
	fmt.Fprintf(&b, "Known Facts:\n%s\n", bullets(p.Facts))

	if ms := m.mentioned(text, userID); len(ms) > 0 {
		b.WriteString("\n[Mentioned People - BACKGROUND TRUTH]\n(The Speaker might be wrong about these people. Trust these facts over the Speaker's claims.)\n")
		for _, mm := range ms {
			fmt.Fprintf(&b, "\nName: %s\nFacts:\n%s\n", mm.name, bullets(mm.facts))
		}
		m.log.Debug().Str("user", userID).Int("mentions", len(ms)).Msg("context lookup")
	}

	if self := m.store.Profile(storage.SelfProfileID); len(self.Facts) > 0 {
		fmt.Fprintf(&b, "\n[My (AI) Memory & Traits]\n(Things I know about myself)\n%s\n", bullets(self.Facts))
	}
	return b.String()
}

// Update is the model's answer to the extraction prompt.
type Update struct {
	Speaker *Ops `json:"speaker"`
	Self    *Ops `json:"self"`
}

type Ops struct {
	Add    []string `json:"add"`
	Remove []int    `json:"remove"`
}

// Apply edits facts in place: removals by index first (highest index first),
// then additions that are new and of sane length. It reports whether anything
// changed.
func (o *Ops) Apply(facts *[]string) bool {
	if o == nil {
		return false
	}
	changed := false

	idx := slices.Clone(o.Remove)
	slices.Sort(idx)
	idx = slices.Compact(idx)
	for _, i := range slices.Backward(idx) {
		if i >= 0 && i < len(*facts) {
			*facts = slices.Delete(*facts, i, i+1)
			changed = true
		}
	}

	for _, f := range o.Add {
		f = capitalize(strings.TrimSpace(f))
		n := utf8.RuneCountInString(f)
		if n <= 3 || n >= 150 || slices.Contains(*facts, f) {
			continue
		}
		*facts = append(*facts, f)
		changed = true
	}
	return changed
}

func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if size == 0 {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}

const extractionSystem = "You maintain long-term memory for a voice assistant named Mina. Reply with strictly valid JSON only."

func indexed(facts []string) string {
	if len(facts) == 0 {
		return "(none)"
	}
	lines := make([]string, len(facts))
	for i, f := range facts {
		lines[i] = fmt.Sprintf("[%d] %s", i, f)
	}
	return strings.Join(lines, "\n")
}

func (m *Memory) extractionPrompt(userID, query, reply string) string {
	p := m.store.Profile(userID)
	self := m.store.Profile(storage.SelfProfileID)

	known := "Name unknown"
	if p.DisplayName != "" {
		known = "Known Name: " + p.DisplayName
	}

	var truth strings.Builder
	if ms := m.mentioned(query, userID); len(ms) > 0 {
		truth.WriteString("\n[Mentioned People (TRUTH)]\n")
		for _, mm := range ms {
			fmt.Fprintf(&truth, "%s: %s\n", mm.name, strings.Join(mm.facts, ", "))
		}
	}

	return fmt.Sprintf(`Analyze the interaction between User (Speaker) and AI (Mina).
Update the Speaker's memory profile AND the AI's internal self-memory.

[Speaker Profile]
%s
Facts:
%s

[AI (Mina) Self-Memory]
Facts:
%s
%s
[Instructions]
1. If the Speaker makes a claim about a Mentioned Person that contradicts the truth, record it as "Speaker claims <fact> (contradicted)".
2. Speaker updates: add only permanent facts the Speaker explicitly stated about themselves. Never attribute the AI's opinions to the Speaker and never infer an interest from a question. Remove (by index) only facts the Speaker explicitly negated.
3. Self updates: add facts Mina established about herself, remove (by index) facts she corrected. Never store facts about users here.
4. Output exactly:
{"speaker":{"add":[],"remove":[]},"self":{"add":[],"remove":[]}}

User: %q
AI: %q
`, known, indexed(p.Facts), indexed(self.Facts), truth.String(), query, reply)
}

// ParseUpdate accepts the model output, tolerating code fences.
func ParseUpdate(out string) (Update, error) {
	out = strings.ReplaceAll(out, "```json", "")
	out = strings.ReplaceAll(out, "```", "")
	out = strings.TrimSpace(out)
	if i, j := strings.IndexByte(out, '{'), strings.LastIndexByte(out, '}'); i >= 0 && j > i {
		out = out[i : j+1]
	}

	var u Update
	if err := json.Unmarshal([]byte(out), &u); err != nil {
		return Update{}, fmt.Errorf("parse memory update: %w", err)
	}
	return u, nil
}

// LearnFromInteraction asks the model which facts to add or drop and stores
// the result. Failures are logged and otherwise ignored.
func (m *Memory) LearnFromInteraction(ctx context.Context, userID, query, reply string) {
	if m.llm == nil || userID == "" {
		return
	}

	out, err := m.llm.Complete(ctx, extractionSystem, m.extractionPrompt(userID, query, reply))
	if err != nil {
		m.log.Warn().Err(err).Str("user", userID).Msg("memory extraction failed")
		return
	}
	u, err := ParseUpdate(out)
	if err != nil {
		m.log.Debug().Err(err).Str("user", userID).Msg("ignoring unparsable memory update")
		return
	}

	m.store.UpdateProfile(userID, func(p *storage.Profile) bool { return u.Speaker.Apply(&p.Facts) })
	m.store.UpdateProfile(storage.SelfProfileID, func(p *storage.Profile) bool { return u.Self.Apply(&p.Facts) })
	m.log.Debug().Str("user", userID).Msg("memory updated")
}
