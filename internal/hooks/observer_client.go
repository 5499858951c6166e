package hooks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/steveyegge/governor/internal/metrics"
)

// Observer endpoint paths, relative to the base URL.
const (
	PathEvent       = "/api/hooks/event"
	PathMetric      = "/api/hooks/metric"
	PathPerformance = "/api/hooks/performance"
)

const defaultObserverTries = 3

// ObserverClient posts hook records to an external observer. Only 200 counts
// as accepted.
type ObserverClient struct {
	baseURL string
	http    *http.Client
	tries   uint
}

func NewObserverClient(baseURL string, httpClient *http.Client) *ObserverClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 5 * time.Second}
	}
	return &ObserverClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
		tries:   defaultObserverTries,
	}
}

// Post sends body as JSON to path. Network errors and 5xx are retried with
// backoff until ctx expires; other statuses fail immediately.
func (c *ObserverClient) Post(ctx context.Context, path string, body any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshaling observer payload: %w", err)
	}
	url := c.baseURL + path

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 100 * time.Millisecond
	_, err = backoff.Retry(ctx, func() (struct{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
		if err != nil {
			return struct{}{}, backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := c.http.Do(req)
		if err != nil {
			return struct{}{}, err
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

		if resp.StatusCode == http.StatusOK {
			return struct{}{}, nil
		}
		statusErr := fmt.Errorf("observer %s returned %s", path, resp.Status)
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return struct{}{}, statusErr
		}
		return struct{}{}, backoff.Permanent(statusErr)
	}, backoff.WithBackOff(bo), backoff.WithMaxTries(c.tries))

	if err != nil {
		metrics.ObserverPosts.WithLabelValues("failed").Inc()
		return err
	}
	metrics.ObserverPosts.WithLabelValues("accepted").Inc()
	return nil
}
