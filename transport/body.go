package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http/httptrace"
	"net/url"
	"strings"

	"github.com/goccy/go-json"
	"github.com/shogo82148/xray-dispatcher-go/dispatcher"
)

const contentTypeJSON = "application/json; charset=utf-8"

// encodeBody converts the body of a request into a reader.
// []byte, string and io.Reader are sent as is; other values are encoded as JSON.
// contentType is empty when the caller must choose it.
func encodeBody(body any) (r io.Reader, contentType string, err error) {
	switch v := body.(type) {
	case nil:
		return nil, "", nil
	case []byte:
		return bytes.NewReader(v), "", nil
	case string:
		return strings.NewReader(v), "", nil
	case io.Reader:
		return v, "", nil
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, "", fmt.Errorf("transport: failed to encode the body: %w", err)
	}
	return bytes.NewReader(data), contentTypeJSON, nil
}

// resolveURL joins base and u unless u is already absolute.
func resolveURL(base, u string) string {
	if base == "" || isAbsoluteURL(u) {
		return u
	}
	if u == "" {
		return base
	}
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(u, "/")
}

func isAbsoluteURL(u string) bool {
	parsed, err := url.Parse(u)
	return err == nil && parsed.IsAbs()
}

// appendQuery adds q to the query string of u.
func appendQuery(u string, q url.Values) (string, error) {
	if len(q) == 0 {
		return u, nil
	}
	parsed, err := url.Parse(u)
	if err != nil {
		return "", fmt.Errorf("transport: failed to parse the url: %w", err)
	}
	values := parsed.Query()
	for k, vv := range q {
		for _, v := range vv {
			values.Add(k, v)
		}
	}
	parsed.RawQuery = values.Encode()
	return parsed.String(), nil
}

// withClientTrace attaches the client trace of req to ctx.
// Hooks already in ctx keep running before the ones of req.
func withClientTrace(ctx context.Context, req *dispatcher.Request) context.Context {
	if req.Trace == nil {
		return ctx
	}
	return httptrace.WithClientTrace(ctx, req.Trace)
}
