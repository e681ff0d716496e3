package transport

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/shogo82148/xray-dispatcher-go/dispatcher"
	"github.com/shogo82148/xray-dispatcher-go/xray/xraylog"
)

var _ dispatcher.Transport = (*Retryable)(nil)

// Retryable is a transport backed by *retryablehttp.Client.
// Failed attempts are retried by the client; the dispatcher sees one call.
type Retryable struct {
	client  *retryablehttp.Client
	baseURL string
}

// NewRetryable returns a transport sending requests with client.
// If client is nil, a new client logging through xraylog is created.
func NewRetryable(client *retryablehttp.Client, baseURL string) *Retryable {
	if client == nil {
		client = retryablehttp.NewClient()
		client.Logger = NewLeveledLogger(context.Background())
	}
	return &Retryable{
		client:  client,
		baseURL: baseURL,
	}
}

// BaseURL implements dispatcher.Transport.
func (t *Retryable) BaseURL() string {
	return t.baseURL
}

// Do implements dispatcher.Transport.
func (t *Retryable) Do(ctx context.Context, req *dispatcher.Request) (*dispatcher.Response, error) {
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	u, err := appendQuery(resolveURL(t.baseURL, req.URL), req.Query)
	if err != nil {
		return nil, err
	}
	body, contentType, err := encodeBody(req.Body)
	if err != nil {
		return nil, err
	}
	rreq, err := retryablehttp.NewRequestWithContext(withClientTrace(ctx, req), req.Method, u, body)
	if err != nil {
		return nil, err
	}
	for k, vv := range req.Header {
		for _, v := range vv {
			rreq.Header.Add(k, v)
		}
	}
	if contentType != "" && rreq.Header.Get("Content-Type") == "" {
		rreq.Header.Set("Content-Type", contentType)
	}

	resp, err := t.client.Do(rreq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("transport: failed to read the response body: %w", err)
	}
	return &dispatcher.Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       data,
	}, nil
}

// LeveledLogger adapts xraylog to retryablehttp.LeveledLogger.
type LeveledLogger struct {
	ctx context.Context
}

var _ retryablehttp.LeveledLogger = (*LeveledLogger)(nil)

// NewLeveledLogger returns a logger writing to the xraylog logger of ctx.
func NewLeveledLogger(ctx context.Context) *LeveledLogger {
	return &LeveledLogger{ctx: ctx}
}

func (l *LeveledLogger) Error(msg string, keysAndValues ...interface{}) {
	xraylog.Error(l.ctx, formatKeysAndValues(msg, keysAndValues))
}

func (l *LeveledLogger) Info(msg string, keysAndValues ...interface{}) {
	xraylog.Info(l.ctx, formatKeysAndValues(msg, keysAndValues))
}

func (l *LeveledLogger) Debug(msg string, keysAndValues ...interface{}) {
	xraylog.Debug(l.ctx, formatKeysAndValues(msg, keysAndValues))
}

func (l *LeveledLogger) Warn(msg string, keysAndValues ...interface{}) {
	xraylog.Warn(l.ctx, formatKeysAndValues(msg, keysAndValues))
}

func formatKeysAndValues(msg string, keysAndValues []interface{}) string {
	var b strings.Builder
	b.WriteString(msg)
	for i := 0; i < len(keysAndValues); i += 2 {
		b.WriteByte(' ')
		if i+1 < len(keysAndValues) {
			fmt.Fprintf(&b, "%v=%v", keysAndValues[i], keysAndValues[i+1])
		} else {
			fmt.Fprintf(&b, "%v", keysAndValues[i])
		}
	}
	return b.String()
}
