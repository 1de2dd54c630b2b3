package mock

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Halo-Labs-xyz/infersched"
)

// Provider is a mock upstream provider for testing.
type Provider struct {
	name    string
	content string
	latency time.Duration
	prompt  int64
	comp    int64

	staticErr error
	sendFunc  func(infersched.SendRequest) (infersched.SendResult, error)

	mu         sync.Mutex
	errQueue   []error
	dispatches []time.Time

	callCount atomic.Int64
}

var _ infersched.Provider = (*Provider)(nil)

// Option configures a mock Provider.
type Option func(*Provider)

// New creates a mock provider with the given options.
func New(opts ...Option) *Provider {
	p := &Provider{
		name:    "mock",
		content: "hello from mock provider",
		prompt:  10,
		comp:    20,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// WithName sets the provider name.
func WithName(name string) Option {
	return func(p *Provider) { p.name = name }
}

// WithContent sets the content returned on success.
func WithContent(content string) Option {
	return func(p *Provider) { p.content = content }
}

// WithLatency adds simulated latency to each call.
func WithLatency(d time.Duration) Option {
	return func(p *Provider) { p.latency = d }
}

// WithError makes the provider always return this error.
func WithError(err error) Option {
	return func(p *Provider) { p.staticErr = err }
}

// WithErrorSequence makes the provider return the given errors in order,
// one per call, then succeed. A nil entry means success for that call.
func WithErrorSequence(errs ...error) Option {
	return func(p *Provider) { p.errQueue = append(p.errQueue, errs...) }
}

// WithUsage sets the token counts reported on success.
func WithUsage(promptTokens, completionTokens int64) Option {
	return func(p *Provider) {
		p.prompt = promptTokens
		p.comp = completionTokens
	}
}

// WithSendFunc sets a custom response function.
func WithSendFunc(fn func(infersched.SendRequest) (infersched.SendResult, error)) Option {
	return func(p *Provider) { p.sendFunc = fn }
}

func (p *Provider) Name() string { return p.name }

func (p *Provider) Send(ctx context.Context, req infersched.SendRequest) (infersched.SendResult, error) {
	p.mu.Lock()
	p.dispatches = append(p.dispatches, time.Now())
	var queued error
	var haveQueued bool
	if len(p.errQueue) > 0 {
		queued = p.errQueue[0]
		p.errQueue = p.errQueue[1:]
		haveQueued = true
	}
	p.mu.Unlock()

	if p.latency > 0 {
		select {
		case <-time.After(p.latency):
		case <-ctx.Done():
			return infersched.SendResult{}, ctx.Err()
		}
	}

	p.callCount.Add(1)

	if haveQueued && queued != nil {
		return infersched.SendResult{}, queued
	}
	if !haveQueued && p.staticErr != nil {
		return infersched.SendResult{}, p.staticErr
	}
	if p.sendFunc != nil {
		return p.sendFunc(req)
	}

	return infersched.SendResult{
		Content:          p.content,
		PromptTokens:     p.prompt,
		CompletionTokens: p.comp,
	}, nil
}

// CallCount returns the number of calls made to the provider.
func (p *Provider) CallCount() int64 { return p.callCount.Load() }

// Dispatches returns the timestamps at which calls arrived, in order.
func (p *Provider) Dispatches() []time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]time.Time, len(p.dispatches))
	copy(out, p.dispatches)
	return out
}
