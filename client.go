package gateward

import (
	"context"
	"net/http"
	"sync"
)

// TokenSource supplies the access token a [Client] attaches to outgoing
// requests and refreshes it when the server rejects one.
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
	Refresh(ctx context.Context) error
}

// Client wraps an http.Client with bearer authorization and a single
// refresh-and-retry on 401. The retry budget is exactly one: a second
// 401 is returned to the caller, so an invalid credential cannot turn
// into a retry storm.
type Client struct {
	HTTP   *http.Client
	Source TokenSource
}

// Do sends the request with the current access token. On 401 it
// refreshes once and retries, provided the request body is replayable.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	httpClient := c.HTTP
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	ctx := req.Context()
	tok, err := c.Source.AccessToken(ctx)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+tok)

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}
	if req.Body != nil && req.GetBody == nil {
		// Body already consumed and not replayable.
		return resp, nil
	}

	if err := c.Source.Refresh(ctx); err != nil {
		return resp, nil
	}
	tok, err = c.Source.AccessToken(ctx)
	if err != nil {
		return resp, nil
	}

	retry := req.Clone(ctx)
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return resp, nil
		}
		retry.Body = body
	}
	retry.Header.Set("Authorization", "Bearer "+tok)

	resp.Body.Close()
	return httpClient.Do(retry)
}

// PairSource is a [TokenSource] backed by a gateway-issued [TokenPair].
// Refresh exchanges the held refresh token through the given gateway.
type PairSource struct {
	mu      sync.Mutex
	gateway *Gateway
	pair    TokenPair
}

// NewPairSource wraps an issued pair for use with [Client].
func NewPairSource(gw *Gateway, pair TokenPair) *PairSource {
	return &PairSource{gateway: gw, pair: pair}
}

// AccessToken returns the current access token.
func (s *PairSource) AccessToken(context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pair.AccessToken, nil
}

// Refresh rotates the held pair. Callers serialize on the source's
// mutex, so the stored refresh token is spent at most once per call.
func (s *PairSource) Refresh(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	pair, err := s.gateway.Refresh(ctx, s.pair.RefreshToken)
	if err != nil {
		return err
	}
	s.pair = pair
	return nil
}
