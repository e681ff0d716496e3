package xray

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/shogo82148/xray-dispatcher-go/xray/sampling"
	"github.com/shogo82148/xray-dispatcher-go/xray/schema"
)

// TestDaemon is the mock server of AWS X-Ray daemon.
type TestDaemon struct {
	// ContextMissing is callback function for the context missing strategy.
	// If it is nil, ignore context missing errors.
	ContextMissing func(ctx context.Context, v interface{})

	ch        <-chan *result
	conn      net.PacketConn
	client    *Client
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// NewTestDaemon creates new TestDaemon.
// The returned context carries a client that samples every trace and sends it to the daemon.
func NewTestDaemon() (context.Context, *TestDaemon) {
	return NewTestDaemonWithConfig(nil)
}

// NewTestDaemonWithConfig is like NewTestDaemon but uses the strategies of config.
// The daemon address of config is ignored.
func NewTestDaemonWithConfig(config *Config) (context.Context, *TestDaemon) {
	c := make(chan *result, 200)
	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		if conn, err = net.ListenPacket("udp6", "[::1]:0"); err != nil {
			panic(fmt.Sprintf("xray: failed to listen: %v", err))
		}
	}
	ctx, cancel := context.WithCancel(context.Background())
	d := &TestDaemon{
		ch:     c,
		conn:   conn,
		ctx:    ctx,
		cancel: cancel,
	}

	var cfg Config
	if config != nil {
		cfg = *config
	}
	cfg.DaemonAddress = "udp:" + conn.LocalAddr().String()
	if cfg.SamplingStrategy == nil {
		cfg.SamplingStrategy = sampling.NewAllStrategy()
	}
	if cfg.ContextMissingStrategy == nil {
		cfg.ContextMissingStrategy = &testDaemonContextMissing{td: d}
	}
	d.client = New(&cfg)
	ctx = WithClient(ctx, d.client)

	go d.run(c)
	return ctx, d
}

type testDaemonContextMissing struct {
	td *TestDaemon
}

func (s *testDaemonContextMissing) ContextMissing(ctx context.Context, v interface{}) {
	if s != nil && s.td != nil && s.td.ContextMissing != nil {
		s.td.ContextMissing(ctx, v)
	}
}

type result struct {
	Segment *schema.Segment
	Error   error
}

// Close shutdowns the daemon.
func (td *TestDaemon) Close() {
	td.closeOnce.Do(func() {
		td.cancel()
		td.conn.Close()
		td.client.Close()
	})
}

func (td *TestDaemon) run(c chan *result) {
	buffer := make([]byte, 64*1024)
	for {
		n, _, err := td.conn.ReadFrom(buffer)
		if err != nil {
			select {
			case c <- &result{nil, err}:
			case <-td.ctx.Done():
				return
			}
			continue
		}

		idx := bytes.IndexByte(buffer[:n], '\n')
		buffered := buffer[idx+1 : n]

		var seg *schema.Segment
		err = json.Unmarshal(buffered, &seg)
		if err != nil {
			select {
			case c <- &result{nil, err}:
			case <-td.ctx.Done():
				return
			}
			continue
		}

		select {
		case c <- &result{seg, nil}:
		case <-td.ctx.Done():
			return
		}
	}
}

// Recv returns the received segment.
func (td *TestDaemon) Recv() (*schema.Segment, error) {
	ctx, cancel := context.WithTimeout(td.ctx, 500*time.Millisecond)
	defer cancel()
	select {
	case r := <-td.ch:
		return r.Segment, r.Error
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
