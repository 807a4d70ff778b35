package e2ee

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/Mindburn-Labs/verichat/pkg/resiliency"
)

// Request is one outbound exchange body plus its headers.
type Request struct {
	Body   []byte
	Header http.Header
}

// Response is what a Transport returns. Body is read incrementally for
// streaming responses.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
}

// Transport sends one request and returns the raw response.
type Transport interface {
	Send(ctx context.Context, req *Request) (*Response, error)
}

// TransportFunc adapts a function to the Transport interface.
type TransportFunc func(ctx context.Context, req *Request) (*Response, error)

func (f TransportFunc) Send(ctx context.Context, req *Request) (*Response, error) {
	return f(ctx, req)
}

// HTTPTransport posts requests to an OpenAI-compatible chat completions URL.
type HTTPTransport struct {
	URL    string
	Client resiliency.Doer
	// Header is added to every request, e.g. Authorization.
	Header http.Header
}

// NewHTTPTransport creates a transport using a retrying client.
func NewHTTPTransport(url string) *HTTPTransport {
	return &HTTPTransport{URL: url, Client: resiliency.NewEnhancedClient("e2ee-transport", resiliency.WithMaxRetries(1))}
}

func (t *HTTPTransport) Send(ctx context.Context, req *Request) (*Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.URL, bytes.NewReader(req.Body))
	if err != nil {
		return nil, fmt.Errorf("e2ee: build request: %w", err)
	}
	for k, vs := range t.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	client := t.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("e2ee: send request: %w", err)
	}
	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: resp.Body}, nil
}
