package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"pkt.systems/fmg/api"
	"pkt.systems/fmg/internal/jsonutil"
	"pkt.systems/fmg/internal/version"
)

// Transport performs one JSON-RPC exchange. The default implementation
// posts to the /jsonrpc endpoint over HTTP; tests and alternative runtimes
// supply their own.
type Transport interface {
	RoundTrip(ctx context.Context, req *api.Request) (*api.Response, error)
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, req *api.Request) (*api.Response, error)

// RoundTrip calls f.
func (f TransportFunc) RoundTrip(ctx context.Context, req *api.Request) (*api.Response, error) {
	return f(ctx, req)
}

type idleCloser interface {
	CloseIdleConnections()
}

// maxResponseBytes caps the size of a decoded reply.
const maxResponseBytes = 64 << 20

type httpTransport struct {
	endpoint string
	client   *http.Client
	timeout  time.Duration
}

func newHTTPTransport(endpoint string, cli *http.Client, tlsConfig *tls.Config, insecure bool, timeout time.Duration) *httpTransport {
	if cli == nil {
		base := http.DefaultTransport.(*http.Transport).Clone()
		if tlsConfig != nil {
			base.TLSClientConfig = tlsConfig.Clone()
		}
		if insecure {
			if base.TLSClientConfig == nil {
				base.TLSClientConfig = &tls.Config{}
			}
			base.TLSClientConfig.InsecureSkipVerify = true //nolint:gosec // opt-in via WithInsecureSkipVerify
		}
		cli = &http.Client{Transport: otelhttp.NewTransport(base)}
	}
	return &httpTransport{endpoint: endpoint, client: cli, timeout: timeout}
}

func (t *httpTransport) RoundTrip(ctx context.Context, rpc *api.Request) (*api.Response, error) {
	body, err := json.Marshal(rpc)
	if err != nil {
		return nil, fmt.Errorf("fmg: encode request: %w", err)
	}
	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("fmg: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())
	if cid := CorrelationIDFromContext(ctx); cid != "" {
		req.Header.Set(headerCorrelationID, cid)
	}
	resp, err := t.client.Do(req)
	if err != nil {
		if ctx.Err() == context.Canceled {
			return nil, ctx.Err()
		}
		return nil, &ConnectivityError{Endpoint: t.endpoint, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusInternalServerError {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &ConnectivityError{Endpoint: t.endpoint, Err: fmt.Errorf("http status %d", resp.StatusCode)}
	}
	// Result data is kept as raw JSON, so strip the server's indentation
	// while enforcing the size cap.
	var compact bytes.Buffer
	if err := jsonutil.CompactWriter(&compact, resp.Body, maxResponseBytes); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: http status %d, undecodable body: %v", ErrUnhandledServer, resp.StatusCode, err)
	}
	var out api.Response
	if err := json.Unmarshal(compact.Bytes(), &out); err != nil {
		return nil, fmt.Errorf("%w: http status %d, undecodable body: %v", ErrUnhandledServer, resp.StatusCode, err)
	}
	return &out, nil
}

func (t *httpTransport) CloseIdleConnections() {
	t.client.CloseIdleConnections()
}
