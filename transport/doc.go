// Package transport provides dispatcher.Transport implementations
// backed by net/http, go-resty and go-retryablehttp.
package transport
