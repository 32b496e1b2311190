// Package transfer fetches full-resolution photo bytes over HTTP. The
// original link extracted from a detail view points directly at the CDN,
// so transfers bypass the browser entirely.
package transfer

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	errs "photowatch/pkg/errors"
	"photowatch/pkg/logger"
)

// Client fetches photo bytes with browser-like request headers.
type Client struct {
	httpClient *http.Client
	headers    map[string]string
	logger     logger.Logger
}

// NewClient creates a transfer client with the given per-request timeout.
func NewClient(timeout time.Duration, log logger.Logger) *Client {
	if log == nil {
		log = logger.GetLogger()
	}

	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		headers: map[string]string{
			"User-Agent":      "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/121.0.0.0 Safari/537.36",
			"Accept":          "image/avif,image/webp,image/apng,image/svg+xml,image/*,*/*;q=0.8",
			"Accept-Language": "en-US,en;q=0.9",
			"Cache-Control":   "no-cache",
			"Pragma":          "no-cache",
		},
		logger: log,
	}
}

// SetHeader sets a custom header for subsequent requests.
func (c *Client) SetHeader(key, value string) {
	c.headers[key] = value
}

// Fetch downloads the bytes at url. Network failures and retryable HTTP
// statuses come back as retryable typed errors so the delivery retry loop
// can distinguish them from permanent failures like 404.
func (c *Client) Fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errs.Newf(errs.ErrorTypeUnknown, "failed to create request: %v", err)
	}

	for key, value := range c.headers {
		req.Header.Set(key, value)
	}

	start := time.Now()
	c.logger.DebugWithFields("fetching original", map[string]interface{}{
		"url": url,
	})

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.ErrorWithFields("fetch failed", map[string]interface{}{
			"url":      url,
			"error":    err.Error(),
			"duration": time.Since(start),
		})
		return nil, errs.Newf(errs.ErrorTypeNetwork, "network error: %v", err)
	}
	defer resp.Body.Close()

	if err := c.checkResponseStatus(resp); err != nil {
		return nil, err
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errs.Newf(errs.ErrorTypeNetwork, "failed to read response body: %v", err)
	}

	c.logger.DebugWithFields("fetch completed", map[string]interface{}{
		"url":      url,
		"size":     len(data),
		"duration": time.Since(start),
	})

	return data, nil
}

// checkResponseStatus maps HTTP statuses onto the transfer error taxonomy.
func (c *Client) checkResponseStatus(resp *http.Response) error {
	switch {
	case resp.StatusCode == http.StatusOK:
		return nil

	case resp.StatusCode == http.StatusNotFound:
		c.logger.WarnWithFields("original not found", map[string]interface{}{
			"status": resp.StatusCode,
			"url":    resp.Request.URL.String(),
		})
		return &errs.Error{
			Type:    errs.ErrorTypeNotFound,
			Message: "original not found",
			Code:    resp.StatusCode,
		}

	case errs.IsRetryableStatusCode(resp.StatusCode):
		c.logger.WarnWithFields("server error fetching original", map[string]interface{}{
			"status": resp.StatusCode,
			"url":    resp.Request.URL.String(),
		})
		return &errs.Error{
			Type:    errs.ErrorTypeServerError,
			Message: fmt.Sprintf("server returned status %d", resp.StatusCode),
			Code:    resp.StatusCode,
		}

	default:
		return &errs.Error{
			Type:    errs.ErrorTypeTransfer,
			Message: fmt.Sprintf("unexpected status code: %d", resp.StatusCode),
			Code:    resp.StatusCode,
		}
	}
}
