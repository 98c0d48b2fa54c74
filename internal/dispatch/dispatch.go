package dispatch

import (
	"context"

	"github.com/zeroai/gateway/internal/catalog"
	"github.com/zeroai/gateway/internal/chatmodel"
	"github.com/zeroai/gateway/internal/errs"
	"github.com/zeroai/gateway/internal/provider"
	"github.com/zeroai/gateway/internal/store"
)

// accountResolver is the subset of *store.Store the dispatch core needs,
// narrowed for testability.
type accountResolver interface {
	ResolveAccount(pid string) (*store.AccountSelection, error)
	RateLimitAccount(pid, accountID string, backoffMs int64) error
	ListAccounts(pid string) ([]store.Account, error)
}

// Core routes a ChatRequest to the provider adapter for its model, rotating
// across accounts on a retryable failure.
type Core struct {
	Catalog  *catalog.Catalog
	Registry *provider.Registry
	Store    accountResolver
}

// New builds a Core.
func New(cat *catalog.Catalog, reg *provider.Registry, st accountResolver) *Core {
	return &Core{Catalog: cat, Registry: reg, Store: st}
}

const (
	// baseBackoffMs floors a Retry-After-derived backoff.
	baseBackoffMs = int64(1000)
	// defaultBackoffMs is the health window applied when the upstream gave
	// no Retry-After: the 60s provider default, pre-capped at the retry
	// helper's 30s ceiling.
	defaultBackoffMs = int64(30_000)
)

func rotationBackoffMs(err error) int64 {
	if _, ok := errs.ParseRetryAfterMs(err); ok {
		return errs.ComputeBackoff(baseBackoffMs, err)
	}
	return defaultBackoffMs
}

func (c *Core) resolve(fullModelID string) (provider.ModelDef, provider.Provider, error) {
	def, ok := c.Catalog.Lookup(fullModelID)
	if !ok {
		return provider.ModelDef{}, nil, errs.NotFound("unknown model: " + fullModelID)
	}
	p := c.Registry.Get(def.Provider)
	if p == nil {
		return provider.ModelDef{}, nil, errs.NotFound("unknown provider: " + def.Provider)
	}
	return def, p, nil
}

func (c *Core) maxAttempts(providerID string) int {
	accs, err := c.Store.ListAccounts(providerID)
	if err != nil || len(accs) == 0 {
		return 1
	}
	return len(accs)
}

// Chat dispatches a non-streaming request, retrying across accounts for
// pre-response 429/408/network failures. Non-streaming calls may retry
// freely since nothing has been emitted to the caller yet.
func (c *Core) Chat(ctx context.Context, fullModelID string, req chatmodel.ChatRequest, opts chatmodel.RequestOptions) (*chatmodel.AssistantMessage, error) {
	def, p, err := c.resolve(fullModelID)
	if err != nil {
		return nil, err
	}
	providerID, _, ok := SplitModelID(fullModelID)
	if !ok {
		return nil, errs.NotFound("malformed model id: " + fullModelID)
	}

	attempts := c.maxAttempts(providerID)
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		sel, err := c.Store.ResolveAccount(providerID)
		if err != nil {
			return nil, err
		}
		if sel == nil {
			return nil, errs.AuthRequired("no account available for " + providerID)
		}

		callOpts := opts
		callOpts.APIKey = sel.APIKey
		msg, err := p.Chat(ctx, def, req, callOpts)
		if err == nil {
			msg.Model = fullModelID
			msg.Provider = providerID
			return msg, nil
		}

		lastErr = err
		if errs.IsNonRetryable(err) {
			return nil, err
		}
		if !isRetryable(err) {
			return nil, err
		}
		_ = c.Store.RateLimitAccount(providerID, sel.AccountID, rotationBackoffMs(err))
	}
	return nil, lastErr
}

// Stream dispatches a streaming request. Streaming may only retry across
// accounts before the first non-Start event reaches the caller; once any
// content has been forwarded, a mid-stream failure surfaces as an Error
// event rather than silently rotating and restarting.
func (c *Core) Stream(ctx context.Context, fullModelID string, req chatmodel.ChatRequest, opts chatmodel.RequestOptions) (<-chan chatmodel.StreamEvent, <-chan error) {
	out := make(chan chatmodel.StreamEvent)
	errc := make(chan error, 1)

	def, p, err := c.resolve(fullModelID)
	if err != nil {
		close(out)
		errc <- err
		close(errc)
		return out, errc
	}
	providerID, _, ok := SplitModelID(fullModelID)
	if !ok {
		close(out)
		errc <- errs.NotFound("malformed model id: " + fullModelID)
		close(errc)
		return out, errc
	}

	go func() {
		defer close(out)
		defer close(errc)

		attempts := c.maxAttempts(providerID)
		var lastErr error
		for attempt := 0; attempt < attempts; attempt++ {
			sel, err := c.Store.ResolveAccount(providerID)
			if err != nil {
				errc <- err
				return
			}
			if sel == nil {
				errc <- errs.AuthRequired("no account available for " + providerID)
				return
			}

			callOpts := opts
			callOpts.APIKey = sel.APIKey
			events, upstreamErrc := p.Stream(ctx, def, req, callOpts)

			// Hold back the adapter's Start event until the attempt
			// produces content: a pre-content failure then rotates to the
			// next account without the client ever seeing a duplicate
			// stream opening.
			var pendingStart *chatmodel.StreamEvent
			startedEmitting := false
			for ev := range events {
				if ev.Kind == chatmodel.EventStart {
					pending := ev
					pendingStart = &pending
					continue
				}
				startedEmitting = true
				if ev.Message != nil {
					ev.Message.Model = fullModelID
					ev.Message.Provider = providerID
				}
				if pendingStart != nil {
					select {
					case out <- *pendingStart:
					case <-ctx.Done():
						return
					}
					pendingStart = nil
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}

			err = <-upstreamErrc
			if err == nil {
				return
			}

			lastErr = err
			if startedEmitting || errs.IsNonRetryable(err) || !isRetryable(err) {
				errc <- err
				return
			}
			_ = c.Store.RateLimitAccount(providerID, sel.AccountID, rotationBackoffMs(err))
		}
		if lastErr != nil {
			errc <- lastErr
		}
	}()

	return out, errc
}

func isNetworkErr(err error) bool {
	if e, ok := errs.AsGatewayError(err); ok {
		return e.Kind == errs.KindNetwork
	}
	return false
}

// isRetryable reports whether a pre-content failure warrants rotating to
// the next account: rate-limiting, a request timeout, or a transport
// failure before headers.
func isRetryable(err error) bool {
	if errs.IsRateLimited(err) || isNetworkErr(err) {
		return true
	}
	if e, ok := errs.AsGatewayError(err); ok {
		return e.Status == 408
	}
	return false
}
