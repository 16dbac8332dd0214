package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	apperrors "github.com/go-i2p/asynchttp/lib/errors"
	"github.com/go-i2p/asynchttp/lib/transport"
	"github.com/go-i2p/asynchttp/lib/validation"
)

// toHTTP builds the outgoing request.
func toHTTP(ctx context.Context, req *Request) (*http.Request, error) {
	if req == nil {
		return nil, fmt.Errorf("%w: nil request", apperrors.ErrInvalidInput)
	}
	if err := validation.HTTPURL("url", req.URL); err != nil {
		return nil, fmt.Errorf("%w: %w", apperrors.ErrInvalidInput, err)
	}
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}
	hr, err := http.NewRequestWithContext(ctx, method, req.URL, body)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", apperrors.ErrInvalidInput, err)
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			hr.Header.Add(k, v)
		}
	}
	return hr, nil
}

// withOptions overlays opts on the transport default.
func withOptions(ctx context.Context, def transport.RequestConfig, opts *Options) context.Context {
	if opts == nil {
		return ctx
	}
	rc := def
	if opts.ConnectTimeout > 0 {
		rc.ConnectTimeout = opts.ConnectTimeout
	}
	if opts.ReadTimeout > 0 {
		rc.ResponseTimeout = opts.ReadTimeout
	}
	rc.RedirectsEnabled = opts.FollowRedirects
	return transport.WithRequestConfig(ctx, rc)
}

// fromHTTP buffers resp and closes its body.
func fromHTTP(req *Request, resp *http.Response) (*Response, error) {
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}
	return &Response{
		Status:  resp.StatusCode,
		Reason:  strings.TrimSpace(strings.TrimPrefix(resp.Status, fmt.Sprint(resp.StatusCode))),
		Proto:   resp.Proto,
		Header:  resp.Header,
		Body:    body,
		Request: req,
	}, nil
}
