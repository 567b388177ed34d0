// Package narrative produces the builder's commentary and optional planning
// hints from an external text generator, falling back to local tables.
package narrative

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"citybuilder.ai/internal/sim/catalogs"
	"citybuilder.ai/internal/sim/policy"
)

// Sources for thoughts and advice.
const (
	SourceLLM      = "llm"
	SourceFallback = "fallback"
)

var (
	ErrNoGenerator = errors.New("no text generator configured")
	ErrTimeout     = errors.New("text generation timed out")
	ErrEmpty       = errors.New("empty completion")
)

// Generator is an external text-completion backend.
type Generator interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

type Thought struct {
	Text     string
	Mood     string
	Source   string
	Dominant catalogs.Category
}

type Advice struct {
	Decision policy.Decision
	Source   string
}

// Advisor is safe for concurrent use; the engine calls it from short-lived
// goroutines.
type Advisor struct {
	gen     Generator
	timeout time.Duration
	logger  *log.Logger
}

func New(gen Generator, timeout time.Duration, logger *log.Logger) *Advisor {
	if timeout <= 0 {
		timeout = 4 * time.Second
	}
	return &Advisor{gen: gen, timeout: timeout, logger: logger}
}

func (a *Advisor) Enabled() bool { return a != nil && a.gen != nil }

func (a *Advisor) logf(format string, args ...any) {
	if a.logger != nil {
		a.logger.Printf(format, args...)
	}
}

type completion struct {
	text string
	err  error
}

// race runs the generator against the timeout. The first to settle wins; a
// late completion lands in the buffered channel and is dropped.
func (a *Advisor) race(ctx context.Context, prompt string) (string, error) {
	if a.gen == nil {
		return "", ErrNoGenerator
	}
	ch := make(chan completion, 1)
	go func() {
		text, err := a.gen.Complete(ctx, prompt)
		ch <- completion{text: text, err: err}
	}()

	timer := time.NewTimer(a.timeout)
	defer timer.Stop()
	select {
	case c := <-ch:
		if c.err != nil {
			return "", c.err
		}
		text := strings.TrimSpace(strings.Trim(strings.TrimSpace(c.text), "\"'"))
		if text == "" {
			return "", ErrEmpty
		}
		return text, nil
	case <-timer.C:
		return "", ErrTimeout
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// GenerateThought always returns a non-empty thought within the timeout.
func (a *Advisor) GenerateThought(ctx context.Context, c Context) Thought {
	dom := c.Dominant()
	t := Thought{Mood: catalogs.MoodFor(dom, c.TotalBuilds), Dominant: dom}
	text, err := a.race(ctx, thoughtPrompt(c))
	if err != nil {
		if !errors.Is(err, ErrNoGenerator) {
			a.logf("narrative fallback: %v", err)
		}
		t.Text = FallbackThought(dom, c.TotalBuilds)
		t.Source = SourceFallback
		return t
	}
	t.Text = text
	t.Source = SourceLLM
	return t
}

// GetNextBuildAdvisory asks the generator for the next category. Any
// failure yields c.Fallback, the rule-based answer.
func (a *Advisor) GetNextBuildAdvisory(ctx context.Context, c Context) Advice {
	text, err := a.race(ctx, advisoryPrompt(c))
	if err == nil {
		var d policy.Decision
		if d, err = parseAdvice(text); err == nil {
			return Advice{Decision: d, Source: SourceLLM}
		}
	}
	if !errors.Is(err, ErrNoGenerator) {
		a.logf("advisory fallback: %v", err)
	}
	return Advice{Decision: c.Fallback, Source: SourceFallback}
}

// FallbackThought picks from the category's phrase table; unknown
// categories use the default table.
func FallbackThought(c catalogs.Category, totalBuilds int) string {
	ps := catalogs.Phrases(c)
	if totalBuilds < 0 {
		totalBuilds = -totalBuilds
	}
	return ps[totalBuilds%len(ps)]
}
