package transport

import (
	"context"

	"github.com/go-resty/resty/v2"
	"github.com/goccy/go-json"
	"github.com/shogo82148/xray-dispatcher-go/dispatcher"
)

var _ dispatcher.Transport = (*Resty)(nil)

// Resty is a transport backed by *resty.Client.
// The base URL of the client is used as the base URL of the transport.
type Resty struct {
	client *resty.Client
}

// NewResty returns a transport sending requests with client.
// If client is nil, a new client is created.
func NewResty(client *resty.Client) *Resty {
	if client == nil {
		client = resty.New()
		client.JSONMarshal = json.Marshal
		client.JSONUnmarshal = json.Unmarshal
	}
	return &Resty{client: client}
}

// BaseURL implements dispatcher.Transport.
func (t *Resty) BaseURL() string {
	return t.client.BaseURL
}

// Do implements dispatcher.Transport.
func (t *Resty) Do(ctx context.Context, req *dispatcher.Request) (*dispatcher.Response, error) {
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	r := t.client.R().SetContext(withClientTrace(ctx, req))
	for k, vv := range req.Header {
		r.SetHeaderMultiValues(map[string][]string{k: vv})
	}
	if len(req.Query) > 0 {
		r.SetQueryParamsFromValues(req.Query)
	}
	body, contentType, err := encodeBody(req.Body)
	if err != nil {
		return nil, err
	}
	if body != nil {
		r.SetBody(body)
		if contentType != "" && r.Header.Get("Content-Type") == "" {
			r.SetHeader("Content-Type", contentType)
		}
	}

	resp, err := r.Execute(req.Method, req.URL)
	if err != nil {
		return nil, err
	}
	return &dispatcher.Response{
		StatusCode: resp.StatusCode(),
		Header:     resp.Header(),
		Body:       resp.Body(),
	}, nil
}
