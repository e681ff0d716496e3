package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/urfave/cli/v2"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/shogo82148/xray-dispatcher-go/dispatcher"
	"github.com/shogo82148/xray-dispatcher-go/oteltracer"
	"github.com/shogo82148/xray-dispatcher-go/transport"
	"github.com/shogo82148/xray-dispatcher-go/xray"
	"github.com/shogo82148/xray-dispatcher-go/xray/sampling"
	"github.com/shogo82148/xray-dispatcher-go/xray/xraylog"
	"github.com/shogo82148/xray-dispatcher-go/xraytracer"
)

const (
	flagMethod        = "method"
	flagData          = "data"
	flagHeader        = "header"
	flagBaseURL       = "base-url"
	flagRemoteService = "remote-service"
	flagTransport     = "transport"
	flagTracer        = "tracer"
	flagSegmentName   = "segment-name"
	flagDaemonAddress = "daemon-address"
	flagSamplingRate  = "sampling-rate"
	flagTimeout       = "timeout"
	flagDebug         = "debug"
)

var errUsage = errors.New("xray-dispatch: exactly one URL is required")

func newApp(out io.Writer) *cli.App {
	return &cli.App{
		Name:      "xray-dispatch",
		Usage:     "send a traced HTTP request",
		ArgsUsage: "URL",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    flagMethod,
				Aliases: []string{"X"},
				Value:   http.MethodGet,
			},
			&cli.StringFlag{
				Name:    flagData,
				Aliases: []string{"d"},
				Usage:   "request body of PUT, PATCH and POST",
			},
			&cli.StringSliceFlag{
				Name:    flagHeader,
				Aliases: []string{"H"},
				Usage:   `"Key: Value"`,
			},
			&cli.StringFlag{
				Name:  flagBaseURL,
				Usage: "prefix of relative URLs",
			},
			&cli.StringFlag{
				Name: flagRemoteService,
			},
			&cli.StringFlag{
				Name:  flagTransport,
				Value: "http",
				Usage: "http, resty or retryable",
			},
			&cli.StringFlag{
				Name:  flagTracer,
				Value: "xray",
				Usage: "xray or otel; otel spans are written to stderr",
			},
			&cli.StringFlag{
				Name:  flagSegmentName,
				Value: "xray-dispatch",
			},
			&cli.StringFlag{
				Name:    flagDaemonAddress,
				EnvVars: []string{"AWS_XRAY_DAEMON_ADDRESS"},
			},
			&cli.Float64Flag{
				Name:  flagSamplingRate,
				Value: 1,
			},
			&cli.DurationFlag{
				Name:  flagTimeout,
				Value: 30 * time.Second,
			},
			&cli.BoolFlag{
				Name: flagDebug,
			},
		},
		Action: func(c *cli.Context) error {
			return run(c, out)
		},
	}
}

func run(c *cli.Context, out io.Writer) error {
	if c.NArg() != 1 {
		return errUsage
	}

	zl, err := newZapLogger(c.Bool(flagDebug))
	if err != nil {
		return err
	}
	defer zl.Sync()
	ctx := xraylog.WithLogger(c.Context, xraylog.NewZapLogger(zl))

	t, err := newTransport(c.String(flagTransport), c.String(flagBaseURL))
	if err != nil {
		return err
	}

	var tracer dispatcher.Tracer
	switch name := c.String(flagTracer); name {
	case "xray":
		client := xray.New(&xray.Config{
			DaemonAddress:    c.String(flagDaemonAddress),
			SamplingStrategy: sampling.NewRatioStrategy(c.Float64(flagSamplingRate)),
		})
		defer client.Close()
		ctx = xray.WithClient(ctx, client)

		var seg *xray.Segment
		ctx, seg = xray.BeginSegment(ctx, c.String(flagSegmentName))
		defer seg.Close()
		zl.Info("tracing", zap.String("trace_id", seg.TraceID()))
		tracer = xraytracer.New()
	case "otel":
		exp, err := stdouttrace.New(stdouttrace.WithWriter(c.App.ErrWriter))
		if err != nil {
			return err
		}
		tp := sdktrace.NewTracerProvider(
			sdktrace.WithSampler(sdktrace.TraceIDRatioBased(c.Float64(flagSamplingRate))),
			sdktrace.WithSyncer(exp),
		)
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = tp.Shutdown(ctx)
		}()

		var span trace.Span
		ctx, span = tp.Tracer("xray-dispatch").Start(ctx, c.String(flagSegmentName))
		defer span.End()
		zl.Info("tracing", zap.String("trace_id", span.SpanContext().TraceID().String()))
		tracer = oteltracer.New(tp)
	default:
		return fmt.Errorf("xray-dispatch: unknown tracer %q", name)
	}

	d, err := dispatcher.Wrap(t, dispatcher.Options{
		Tracer:            tracer,
		RemoteServiceName: c.String(flagRemoteService),
	})
	if err != nil {
		return err
	}

	opts := []dispatcher.Option{dispatcher.WithTimeout(c.Duration(flagTimeout))}
	for _, h := range c.StringSlice(flagHeader) {
		key, value, ok := strings.Cut(h, ":")
		if !ok {
			return fmt.Errorf("xray-dispatch: invalid header %q", h)
		}
		opts = append(opts, dispatcher.WithHeader(strings.TrimSpace(key), strings.TrimSpace(value)))
	}

	resp, err := send(ctx, d, c.String(flagMethod), c.Args().First(), c.String(flagData), opts)
	if err != nil {
		return err
	}
	zl.Info("response", zap.Int("status", resp.StatusCode), zap.Int("length", len(resp.Body)))
	_, err = out.Write(resp.Body)
	return err
}

func send(ctx context.Context, d *dispatcher.Dispatcher, method, url, data string, opts []dispatcher.Option) (*dispatcher.Response, error) {
	var body any
	if data != "" {
		body = data
	}
	switch strings.ToUpper(method) {
	case http.MethodGet:
		return d.Get(ctx, url, opts...)
	case http.MethodPut:
		return d.Put(ctx, url, body, opts...)
	case http.MethodPatch:
		return d.Patch(ctx, url, body, opts...)
	case http.MethodPost:
		return d.Post(ctx, url, body, opts...)
	case http.MethodDelete:
		return d.Delete(ctx, url, opts...)
	case http.MethodHead:
		return d.Head(ctx, url, opts...)
	case http.MethodOptions:
		return d.Options(ctx, url, opts...)
	}
	return nil, fmt.Errorf("xray-dispatch: unsupported method %q", method)
}

func newTransport(name, baseURL string) (dispatcher.Transport, error) {
	switch name {
	case "http":
		return transport.NewHTTP(nil, baseURL), nil
	case "resty":
		client := resty.New()
		client.SetBaseURL(baseURL)
		return transport.NewResty(client), nil
	case "retryable":
		return transport.NewRetryable(nil, baseURL), nil
	}
	return nil, fmt.Errorf("xray-dispatch: unknown transport %q", name)
}

func newZapLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
