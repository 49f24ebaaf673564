package collaborators

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	coreerrors "github.com/mafzaal/d365fo-client-go/infrastructure/errors"
	"github.com/mafzaal/d365fo-client-go/infrastructure/resilience"
)

// HTTPODataClient is the default ODataClient: a net/http transport
// against one D365 F&O environment's data endpoint, guarded by a
// circuit breaker and the teacher's retry policy. It performs no
// OData expression parsing — callers pass pre-built query strings.
type HTTPODataClient struct {
	baseURL string
	token   TokenProvider
	http    *http.Client
	breaker *resilience.CircuitBreaker
	retry   resilience.RetryConfig
}

func NewHTTPODataClient(baseURL string, token TokenProvider, timeout time.Duration, verifySSL bool) *HTTPODataClient {
	transport := http.DefaultTransport
	if !verifySSL {
		transport = insecureTransport()
	}
	return &HTTPODataClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: timeout, Transport: transport},
		breaker: resilience.New(resilience.DefaultConfig()),
		retry:   resilience.DefaultRetryConfig(),
	}
}

func (c *HTTPODataClient) Get(ctx context.Context, path, query string) ([]byte, error) {
	url := fmt.Sprintf("%s/data/%s", c.baseURL, path)
	if query != "" {
		url += "?" + query
	}
	return c.do(ctx, http.MethodGet, url, nil)
}

func (c *HTTPODataClient) Post(ctx context.Context, path string, body []byte) ([]byte, error) {
	url := fmt.Sprintf("%s/data/%s", c.baseURL, path)
	return c.do(ctx, http.MethodPost, url, body)
}

func (c *HTTPODataClient) CallAction(ctx context.Context, entitySet, actionName string, params map[string]any) ([]byte, error) {
	url := fmt.Sprintf("%s/data/%s/Microsoft.Dynamics.DataEntities.%s", c.baseURL, entitySet, actionName)
	body, err := marshalParams(params)
	if err != nil {
		return nil, coreerrors.Parse(fmt.Sprintf("marshal action params for %s", actionName), err)
	}
	return c.do(ctx, http.MethodPost, url, body)
}

func (c *HTTPODataClient) do(ctx context.Context, method, url string, body []byte) ([]byte, error) {
	var lastErr error
	delay := c.retry.InitialDelay
	maxAttempts := c.retry.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	for attempt := 0; attempt < maxAttempts; attempt++ {
		out, err := c.doOnce(ctx, method, url, body)
		if err == nil {
			return out, nil
		}
		lastErr = err

		if coreerrors.Is(err, coreerrors.KindAuth) || !coreerrors.IsRetryable(err) {
			return nil, err
		}

		if attempt < maxAttempts-1 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
			delay = time.Duration(float64(delay) * c.retry.Multiplier)
			if delay > c.retry.MaxDelay {
				delay = c.retry.MaxDelay
			}
		}
	}
	return nil, lastErr
}

func (c *HTTPODataClient) doOnce(ctx context.Context, method, url string, body []byte) ([]byte, error) {
	var out []byte
	err := c.breaker.Execute(ctx, func() error {
		token, _, err := c.token.GetToken(ctx, c.baseURL+"/.default")
		if err != nil {
			return coreerrors.Auth("acquire token", err)
		}

		var reqBody io.Reader
		if body != nil {
			reqBody = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
		if err != nil {
			return coreerrors.Transport(url, err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Accept", "application/json")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return coreerrors.Transport(url, err)
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return coreerrors.Transport(url, err)
		}

		switch {
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			return coreerrors.Auth(fmt.Sprintf("%s %s: status %d", method, url, resp.StatusCode), nil)
		case resp.StatusCode >= 500:
			return coreerrors.Transport(fmt.Sprintf("%s %s: status %d", method, url, resp.StatusCode), nil)
		case resp.StatusCode >= 400:
			return coreerrors.Parse(fmt.Sprintf("%s %s: status %d: %s", method, url, resp.StatusCode, respBody), nil)
		}

		out = respBody
		return nil
	})
	return out, err
}

func insecureTransport() http.RoundTripper {
	return &http.Transport{TLSClientConfig: &tls.Config{InsecureSkipVerify: true}}
}

func marshalParams(params map[string]any) ([]byte, error) {
	if len(params) == 0 {
		return []byte("{}"), nil
	}
	return json.Marshal(params)
}
