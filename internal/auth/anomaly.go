package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	loopbackAddress = "127.0.0.1"
	unknownLocation = "Unknown"
)

// AnomalyRequest describes one login attempt for the anomaly checker.
type AnomalyRequest struct {
	UserID         string    `json:"userId"`
	IPAddress      string    `json:"ipAddress"`
	Timestamp      time.Time `json:"-"`
	FailedAttempts int       `json:"failedAttempts"`
	Location       string    `json:"location"`
}

type AnomalyVerdict struct {
	IsAnomalous bool   `json:"isAnomalous"`
	Reason      string `json:"reason"`
}

// AnomalyChecker classifies a login attempt. Errors are handled by the
// caller's fail-open or fail-closed policy.
type AnomalyChecker interface {
	Check(ctx context.Context, req AnomalyRequest) (*AnomalyVerdict, error)
}

// NoopAnomalyChecker never reports an anomaly. It is used when no checker
// endpoint is configured.
type NoopAnomalyChecker struct{}

func (NoopAnomalyChecker) Check(context.Context, AnomalyRequest) (*AnomalyVerdict, error) {
	return &AnomalyVerdict{}, nil
}

// HTTPAnomalyChecker posts the request as JSON to a remote classifier.
type HTTPAnomalyChecker struct {
	endpoint string
	client   *http.Client
}

func NewHTTPAnomalyChecker(endpoint string, timeout time.Duration) *HTTPAnomalyChecker {
	return &HTTPAnomalyChecker{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
	}
}

type anomalyWireRequest struct {
	AnomalyRequest
	Timestamp int64 `json:"timestamp"`
}

func (c *HTTPAnomalyChecker) Check(ctx context.Context, req AnomalyRequest) (*AnomalyVerdict, error) {
	const op = "auth.HTTPAnomalyChecker.Check"

	body, err := json.Marshal(anomalyWireRequest{
		AnomalyRequest: req,
		Timestamp:      req.Timestamp.UnixMilli(),
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%s: unexpected status %d", op, resp.StatusCode)
	}

	var verdict AnomalyVerdict
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&verdict); err != nil {
		return nil, fmt.Errorf("%s: decode response: %w", op, err)
	}
	return &verdict, nil
}
