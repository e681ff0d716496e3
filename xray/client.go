package xray

import (
	"bytes"
	"context"
	"net"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/shogo82148/go-retry/v2"

	"github.com/shogo82148/xray-dispatcher-go/xray/ctxmissing"
	"github.com/shogo82148/xray-dispatcher-go/xray/sampling"
	"github.com/shogo82148/xray-dispatcher-go/xray/xraylog"
)

const emitTimeout = 100 * time.Millisecond

var header = []byte(`{"format":"json","version":1}` + "\n")
var dialer = net.Dialer{
	Timeout: emitTimeout,
}

var dialPolicy = retry.Policy{
	MinDelay: 5 * time.Millisecond,
	MaxDelay: 40 * time.Millisecond,
	MaxCount: 3,
}

var defaultClient struct {
	once   sync.Once
	client *Client
}

// DefaultClient returns the client configured from the environment.
func DefaultClient() *Client {
	defaultClient.once.Do(func() {
		defaultClient.client = New(nil)
	})
	return defaultClient.client
}

// Client is a client for AWS X-Ray daemon.
type Client struct {
	// the address of the AWS X-Ray daemon
	udp string

	tracingName        string
	streamingStrategy  StreamingStrategy
	samplingStrategy   sampling.Strategy
	ctxmissingStrategy ctxmissing.Strategy

	pool sync.Pool

	mu   sync.Mutex
	conn net.Conn
}

// New returns a new Client.
func New(config *Config) *Client {
	cfg := config.resolve()
	return &Client{
		udp:                cfg.daemon.UDP,
		tracingName:        cfg.tracingName,
		streamingStrategy:  cfg.streamingStrategy,
		samplingStrategy:   cfg.samplingStrategy,
		ctxmissingStrategy: cfg.ctxmissingStrategy,
		pool: sync.Pool{
			New: func() interface{} {
				return new(bytes.Buffer)
			},
		},
	}
}

// WithClient returns a new context whose segments are sent by client.
func WithClient(ctx context.Context, client *Client) context.Context {
	return context.WithValue(ctx, clientContextKey, client)
}

// ContextClient returns the client of ctx.
// If ctx has no client, returns the default client.
func ContextClient(ctx context.Context) *Client {
	if ctx != nil {
		if client, ok := ctx.Value(clientContextKey).(*Client); ok {
			return client
		}
	}
	return DefaultClient()
}

// Emit sends seg to X-Ray daemon.
// The streaming strategy decides which documents are ready to be sent.
func (c *Client) Emit(ctx context.Context, seg *Segment) {
	for _, doc := range c.streamingStrategy.StreamSegment(seg) {
		buf := c.pool.Get().(*bytes.Buffer)
		buf.Reset()
		buf.Write(header)
		if err := json.NewEncoder(buf).Encode(doc); err != nil {
			xraylog.Errorf(ctx, "xray: failed to encode: %v", err)
			c.pool.Put(buf)
			continue
		}
		c.write(ctx, buf.Bytes())
		c.pool.Put(buf)
	}
}

func (c *Client) write(ctx context.Context, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		conn, err := c.dialLocked(ctx)
		if err != nil {
			xraylog.Errorf(ctx, "xray: failed to dial %s: %v", c.udp, err)
			return
		}
		c.conn = conn
	}
	if _, err := c.conn.Write(data); err != nil {
		xraylog.Errorf(ctx, "xray: failed to write: %v", err)
		// the connection may be broken. dial again next time.
		c.conn.Close()
		c.conn = nil
	}
}

func (c *Client) dialLocked(ctx context.Context) (net.Conn, error) {
	// segments may be emitted after the request context is canceled.
	emitCtx, cancel := context.WithTimeout(context.Background(), emitTimeout)
	defer cancel()

	var lastErr error
	retrier := dialPolicy.Start(emitCtx)
	for retrier.Continue() {
		conn, err := dialer.DialContext(emitCtx, "udp", c.udp)
		if err == nil {
			return conn, nil
		}
		xraylog.Debugf(ctx, "xray: dial %s failed, retrying: %v", c.udp, err)
		lastErr = err
	}
	if lastErr == nil {
		lastErr = emitCtx.Err()
	}
	return nil, lastErr
}

// Close closes the client.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		err := c.conn.Close()
		c.conn = nil
		return err
	}
	return nil
}
