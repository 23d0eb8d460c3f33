package llm

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	apperrors "github.com/bbrew/core/internal/errors"
	"github.com/bbrew/core/internal/resilience"
)

// Router dispatches generation calls to the active provider, applying a
// per-call timeout and a per-provider circuit breaker.
type Router struct {
	mu        sync.Mutex
	providers map[string]Provider
	breakers  map[string]*resilience.Breaker
	active    string
	timeout   time.Duration
}

// NewRouter creates an empty router with the given per-call timeout.
func NewRouter(timeout time.Duration) *Router {
	return &Router{
		providers: make(map[string]Provider),
		breakers:  make(map[string]*resilience.Breaker),
		timeout:   timeout,
	}
}

// Register adds a provider. The first registered provider becomes active.
func (r *Router) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Name()] = p
	r.breakers[p.Name()] = resilience.NewBreaker(p.Name(), resilience.DefaultBreakerConfig())
	if r.active == "" {
		r.active = p.Name()
	}
}

// Use switches the active provider after verifying it can serve calls.
func (r *Router) Use(ctx context.Context, name string) error {
	r.mu.Lock()
	p, ok := r.providers[name]
	r.mu.Unlock()
	if !ok {
		return apperrors.Newf(apperrors.CodeProviderUnsupported, "unknown provider %q", name)
	}
	if err := p.Available(ctx); err != nil {
		return err
	}

	r.mu.Lock()
	r.active = name
	r.mu.Unlock()
	slog.Info("provider selected", "provider", name)
	return nil
}

// Active returns the current provider name.
func (r *Router) Active() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

func (r *Router) current() (Provider, *resilience.Breaker, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.providers[r.active]
	if !ok {
		return nil, nil, apperrors.New(apperrors.CodeProviderUnsupported, "no provider configured")
	}
	return p, r.breakers[r.active], nil
}

// Generate runs one call against the active provider and returns the raw
// model text.
func (r *Router) Generate(ctx context.Context, req Request) (string, error) {
	p, br, err := r.current()
	if err != nil {
		return "", err
	}
	if err := br.Allow(); err != nil {
		return "", apperrors.Wrapf(err, apperrors.CodeProviderUnreachable,
			"provider %s circuit open", p.Name())
	}

	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	text, err := p.Generate(callCtx, req)
	if err != nil {
		br.Failure()
		if errors.Is(err, context.DeadlineExceeded) {
			return "", apperrors.Wrapf(err, apperrors.CodeRequestTimeout,
				"provider %s timed out after %s", p.Name(), r.timeout)
		}
		return "", err
	}
	br.Success()
	return text, nil
}

// GenerateJSON runs one call and parses the response as a JSON object.
// On a malformed response the returned Result still carries the raw text.
func (r *Router) GenerateJSON(ctx context.Context, req Request) (*Result, error) {
	req.WantJSON = true
	start := time.Now()

	text, err := r.Generate(ctx, req)
	elapsed := time.Since(start)
	if err != nil {
		return nil, err
	}

	res := &Result{Raw: text, Provider: r.Active(), Elapsed: elapsed}
	obj, err := ParseObject(text)
	if err != nil {
		return res, err
	}
	res.Object = obj
	return res, nil
}
