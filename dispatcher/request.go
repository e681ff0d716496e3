package dispatcher

import (
	"maps"
	"net/http"
	"net/http/httptrace"
	"net/url"
	"slices"
	"time"

	"github.com/goccy/go-json"
)

// Request describes an outbound HTTP call.
// A Request is built fresh for every call and treated as immutable once it is
// handed to a Dispatcher; tracers return decorated clones instead of mutating it.
type Request struct {
	// Method is one of GET, PUT, PATCH, POST, DELETE, HEAD or OPTIONS.
	Method string

	// URL is the URL given by the caller.
	// It is relative to the base URL of the transport when the transport has one.
	URL string

	Header http.Header
	Query  url.Values

	// Body is the payload of PUT, PATCH and POST requests.
	// []byte, string and io.Reader are sent as is; other values are encoded as JSON.
	Body any

	// Timeout bounds the whole call when positive.
	Timeout time.Duration

	// Trace receives the connection events of the call.
	// It is set by tracers; transports built on net/http attach it to the context
	// of the outgoing request.
	Trace *httptrace.ClientTrace
}

// Clone returns a copy of r.
// The header and the query are deep copied; the body is shared.
func (r *Request) Clone() *Request {
	if r == nil {
		return nil
	}
	r2 := *r
	r2.Header = r.Header.Clone()
	r2.Query = cloneValues(r.Query)
	return &r2
}

func cloneValues(v url.Values) url.Values {
	if v == nil {
		return nil
	}
	v2 := maps.Clone(v)
	for k, vv := range v2 {
		v2[k] = slices.Clone(vv)
	}
	return v2
}

// Response is the result of a settled call.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// JSON decodes the body of the response into v.
func (r *Response) JSON(v any) error {
	return json.Unmarshal(r.Body, v)
}

// Option configures a Request before it is sent.
type Option func(*Request)

// WithHeader adds the header field key: value to the request.
func WithHeader(key, value string) Option {
	return func(r *Request) {
		if r.Header == nil {
			r.Header = make(http.Header)
		}
		r.Header.Add(key, value)
	}
}

// WithHeaders adds all fields of h to the request.
func WithHeaders(h http.Header) Option {
	return func(r *Request) {
		if r.Header == nil {
			r.Header = make(http.Header, len(h))
		}
		for k, vv := range h {
			for _, v := range vv {
				r.Header.Add(k, v)
			}
		}
	}
}

// WithQuery adds the query parameter key=value to the request.
func WithQuery(key, value string) Option {
	return func(r *Request) {
		if r.Query == nil {
			r.Query = make(url.Values)
		}
		r.Query.Add(key, value)
	}
}

// WithTimeout sets the timeout of the request.
func WithTimeout(d time.Duration) Option {
	return func(r *Request) {
		r.Timeout = d
	}
}
