package transport

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/shogo82148/xray-dispatcher-go/dispatcher"
	"golang.org/x/time/rate"
)

var _ dispatcher.Transport = (*HTTP)(nil)

// HTTP is a transport backed by *http.Client.
type HTTP struct {
	client  *http.Client
	baseURL string
	limiter *rate.Limiter
}

// HTTPOption configures HTTP.
type HTTPOption func(*HTTP)

// WithRateLimit limits the rate of outgoing requests.
func WithRateLimit(l *rate.Limiter) HTTPOption {
	return func(t *HTTP) {
		t.limiter = l
	}
}

// NewHTTP returns a transport sending requests with client.
// If client is nil, http.DefaultClient is used.
// Relative request URLs are resolved against baseURL.
func NewHTTP(client *http.Client, baseURL string, opts ...HTTPOption) *HTTP {
	if client == nil {
		client = http.DefaultClient
	}
	t := &HTTP{
		client:  client,
		baseURL: baseURL,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// BaseURL implements dispatcher.Transport.
func (t *HTTP) BaseURL() string {
	return t.baseURL
}

// Do implements dispatcher.Transport.
func (t *HTTP) Do(ctx context.Context, req *dispatcher.Request) (*dispatcher.Response, error) {
	if t.limiter != nil {
		if err := t.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	hreq, err := newHTTPRequest(withClientTrace(ctx, req), t.baseURL, req)
	if err != nil {
		return nil, err
	}
	resp, err := t.client.Do(hreq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("transport: failed to read the response body: %w", err)
	}
	return &dispatcher.Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       body,
	}, nil
}

func newHTTPRequest(ctx context.Context, baseURL string, req *dispatcher.Request) (*http.Request, error) {
	u, err := appendQuery(resolveURL(baseURL, req.URL), req.Query)
	if err != nil {
		return nil, err
	}
	body, contentType, err := encodeBody(req.Body)
	if err != nil {
		return nil, err
	}
	hreq, err := http.NewRequestWithContext(ctx, req.Method, u, body)
	if err != nil {
		return nil, err
	}
	for k, vv := range req.Header {
		for _, v := range vv {
			hreq.Header.Add(k, v)
		}
	}
	if contentType != "" && hreq.Header.Get("Content-Type") == "" {
		hreq.Header.Set("Content-Type", contentType)
	}
	return hreq, nil
}
