package identity

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// maxProfileBytes caps how much of a provider response is read.
const maxProfileBytes = 1 << 20

// HTTPProvider queries a profile endpoint with the token as a bearer
// credential. Concurrent lookups of the same token share one request.
type HTTPProvider struct {
	endpoint string
	client   *http.Client
	logger   *zap.Logger
	group    singleflight.Group
}

// NewHTTPProvider creates an HTTPProvider.
//
// Precondition: endpoint must be an absolute URL; timeout > 0; logger non-nil.
func NewHTTPProvider(endpoint string, timeout time.Duration, logger *zap.Logger) *HTTPProvider {
	return &HTTPProvider{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
		logger:   logger,
	}
}

// Lookup resolves token via the endpoint.
//
// Postcondition: Returns a profile, or an error wrapping ErrUnauthorized
// (401/403), ErrNoProfile (any other non-2xx status or unusable body), the
// transport error, or ctx.Err() if ctx ends first.
//
// The shared request is detached from any one caller's cancellation and is
// bounded by the client timeout instead.
func (p *HTTPProvider) Lookup(ctx context.Context, token string) (Profile, error) {
	detached := context.WithoutCancel(ctx)
	ch := p.group.DoChan(token, func() (any, error) {
		return p.fetch(detached, token)
	})
	select {
	case <-ctx.Done():
		return Profile{}, fmt.Errorf("identity lookup: %w", ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return Profile{}, res.Err
		}
		if res.Shared {
			p.logger.Debug("identity lookup shared with concurrent caller")
		}
		return res.Val.(Profile), nil
	}
}

func (p *HTTPProvider) fetch(ctx context.Context, token string) (Profile, error) {
	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.endpoint, nil)
	if err != nil {
		return Profile{}, fmt.Errorf("building identity request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return Profile{}, fmt.Errorf("identity request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxProfileBytes))
	if err != nil {
		return Profile{}, fmt.Errorf("reading identity response: %w", err)
	}

	p.logger.Debug("identity lookup",
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)),
	)

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return Profile{}, fmt.Errorf("%w: status %d", ErrUnauthorized, resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return Profile{}, fmt.Errorf("%w: status %d", ErrNoProfile, resp.StatusCode)
	}
	return ParseProfile(body)
}
