package xray

import (
	"strings"
	"unicode"

	"github.com/shogo82148/xray-dispatcher-go/internal/envconfig"
	"github.com/shogo82148/xray-dispatcher-go/xray/ctxmissing"
	"github.com/shogo82148/xray-dispatcher-go/xray/sampling"
)

// Config is a configure for connecting AWS X-Ray daemon.
// Zero fields are filled from the environment.
type Config struct {
	// DaemonAddress is the address for connecting AWS X-Ray daemon.
	// Its overwrites the address from AWS_XRAY_DAEMON_ADDRESS environment value.
	// By default, the SDK uses 127.0.0.1:2000.
	// The format is "address:port" or "tcp:address:port udp:address:port".
	// Only the UDP endpoint is used for sending segments.
	DaemonAddress string

	// TracingName overwrites the names of root segments.
	// Its overwrites AWS_XRAY_TRACING_NAME environment value.
	TracingName string

	// StreamingStrategy decides when segments are sent.
	// The default is NewStreamingStrategyBatchAll.
	StreamingStrategy StreamingStrategy

	// SamplingStrategy decides whether new traces are sampled.
	// The default samples all traces.
	SamplingStrategy sampling.Strategy

	// ContextMissingStrategy is used when a subsegment is started without a segment.
	// Its overwrites AWS_XRAY_CONTEXT_MISSING environment value.
	ContextMissingStrategy ctxmissing.Strategy
}

type resolvedConfig struct {
	daemon             daemonEndpoints
	tracingName        string
	streamingStrategy  StreamingStrategy
	samplingStrategy   sampling.Strategy
	ctxmissingStrategy ctxmissing.Strategy
}

func (c *Config) resolve() resolvedConfig {
	var cfg Config
	if c != nil {
		cfg = *c
	}
	env := envconfig.LoadOrDefault()

	addr := cfg.DaemonAddress
	if addr == "" {
		addr = env.DaemonAddress
	}
	name := cfg.TracingName
	if name == "" {
		name = env.TracingName
	}
	streaming := cfg.StreamingStrategy
	if streaming == nil {
		streaming = NewStreamingStrategyBatchAll()
	}
	samplingStrategy := cfg.SamplingStrategy
	if samplingStrategy == nil {
		samplingStrategy = sampling.NewAllStrategy()
	}
	missing := cfg.ContextMissingStrategy
	if missing == nil {
		missing = ctxmissing.FromName(env.ContextMissing)
	}
	return resolvedConfig{
		daemon:             parseDaemonEndpoints(addr),
		tracingName:        name,
		streamingStrategy:  streaming,
		samplingStrategy:   samplingStrategy,
		ctxmissingStrategy: missing,
	}
}

type daemonEndpoints struct {
	TCP string
	UDP string
}

func parseDaemonEndpoints(addr string) daemonEndpoints {
	p := daemonEndpoints{
		TCP: "127.0.0.1:2000",
		UDP: "127.0.0.1:2000",
	}
	for _, endpoint := range strings.FieldsFunc(addr, unicode.IsSpace) {
		switch {
		case strings.HasPrefix(endpoint, "tcp:"):
			p.TCP = endpoint[len("tcp:"):]
		case strings.HasPrefix(endpoint, "udp:"):
			p.UDP = endpoint[len("udp:"):]
		default:
			p.TCP = endpoint
			p.UDP = endpoint
		}
	}
	return p
}
