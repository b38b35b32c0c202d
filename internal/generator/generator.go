// Package generator produces simulated agent replies for chat sessions.
package generator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ashureev/agora-labs/internal/config"
	"github.com/ashureev/agora-labs/internal/domain"
)

// Backend names accepted by New.
const (
	BackendStub   = "stub"
	BackendOpenAI = "openai"
)

// Generator produces one reply for a profile given the visible history.
// Implementations must not mutate history and must tag the response with
// the profile ID.
type Generator interface {
	Generate(ctx context.Context, profile domain.Profile, history []domain.Entry) (domain.Response, error)
}

// GeneratorFunc adapts a function to the Generator interface.
type GeneratorFunc func(ctx context.Context, profile domain.Profile, history []domain.Entry) (domain.Response, error)

// Generate calls f.
func (f GeneratorFunc) Generate(ctx context.Context, profile domain.Profile, history []domain.Entry) (domain.Response, error) {
	return f(ctx, profile, history)
}

// Stub returns a fixed reply naming the profile. It never fails.
type Stub struct{}

// Generate implements Generator.
func (Stub) Generate(_ context.Context, profile domain.Profile, _ []domain.Entry) (domain.Response, error) {
	return domain.Response{
		AgentID: profile.ID,
		Text:    "Simulated response from " + profile.Name,
	}, nil
}

type timeoutGenerator struct {
	next    Generator
	timeout time.Duration
}

// WithTimeout bounds every call to g by d. A non-positive d returns g unchanged.
func WithTimeout(g Generator, d time.Duration) Generator {
	if d <= 0 {
		return g
	}
	return &timeoutGenerator{next: g, timeout: d}
}

func (t *timeoutGenerator) Generate(ctx context.Context, profile domain.Profile, history []domain.Entry) (domain.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.next.Generate(ctx, profile, history)
}

// New builds the generator selected by cfg.Backend.
func New(cfg config.GeneratorConfig) (Generator, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", BackendStub:
		return Stub{}, nil
	case BackendOpenAI:
		return NewOpenAI(cfg)
	default:
		return nil, fmt.Errorf("unknown generator backend %q", cfg.Backend)
	}
}

var (
	_ Generator = Stub{}
	_ Generator = (*OpenAI)(nil)
	_ Generator = GeneratorFunc(nil)
)
