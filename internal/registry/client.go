// Package registry is the client side of the device activation protocol. It
// binds the license key of this installation to its device fingerprint: a
// local cached belief for the fast path, and the remote authority as the
// source of truth.
package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	licenseErrors "seatlock/internal/errors"
	"seatlock/pkg/contracts/domain"
)

// Client talks to the remote licensing authority.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
	clientInfo domain.ClientInfo
}

// NewClient creates an authority client. timeout bounds each round-trip.
func NewClient(baseURL, apiKey string, timeout time.Duration, clientInfo domain.ClientInfo, logger *slog.Logger) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.With(slog.String("component", "registry_client")),
		clientInfo: clientInfo,
	}
}

// Activate requests a fresh binding of key to fingerprint.
func (c *Client) Activate(ctx context.Context, key, fingerprint string) (*domain.ValidateResponse, error) {
	return c.postValidate(ctx, domain.ValidateRequest{
		Action:            domain.ActionActivate,
		LicenseKey:        key,
		DeviceFingerprint: fingerprint,
		ClientInfo:        &c.clientInfo,
	})
}

// Validate confirms the existing binding. When the authority answers
// NOT_ACTIVATED or DEVICE_MISMATCH the client self-heals by retrying the same
// request as an activation; this transparently covers first-run activation
// and deliberate license replacement.
func (c *Client) Validate(ctx context.Context, key, fingerprint string) (*domain.ValidateResponse, error) {
	resp, err := c.postValidate(ctx, domain.ValidateRequest{
		Action:            domain.ActionValidate,
		LicenseKey:        key,
		DeviceFingerprint: fingerprint,
	})
	if err != nil {
		return nil, err
	}
	if resp.Success {
		return resp, nil
	}

	switch resp.Error {
	case domain.AuthorityErrNotActivated, domain.AuthorityErrDeviceMismatch:
		c.logger.InfoContext(ctx, "Validation failed, retrying as activation",
			slog.String("license_key", domain.MaskLicenseKey(key)),
			slog.String("authority_error", resp.Error),
		)
		return c.Activate(ctx, key, fingerprint)
	default:
		return resp, nil
	}
}

// Deactivate releases the binding; idempotent on the authority side.
func (c *Client) Deactivate(ctx context.Context, key, fingerprint string) error {
	resp, err := c.postValidate(ctx, domain.ValidateRequest{
		Action:            domain.ActionDeactivate,
		LicenseKey:        key,
		DeviceFingerprint: fingerprint,
	})
	if err != nil {
		return err
	}
	if !resp.Success {
		return fmt.Errorf("deactivation rejected: %s", resp.Error)
	}
	return nil
}

// Heartbeat reports liveness for an active binding.
func (c *Client) Heartbeat(ctx context.Context, key, fingerprint string, systemStatus map[string]string) error {
	body := domain.HeartbeatRequest{
		LicenseKey:        key,
		DeviceFingerprint: fingerprint,
		SystemStatus:      systemStatus,
	}

	var out domain.HeartbeatResponse
	if err := c.post(ctx, "/heartbeat", body, &out); err != nil {
		return err
	}
	if !out.Success {
		return fmt.Errorf("heartbeat rejected by authority")
	}
	return nil
}

func (c *Client) postValidate(ctx context.Context, req domain.ValidateRequest) (*domain.ValidateResponse, error) {
	var out domain.ValidateResponse
	if err := c.post(ctx, "/validate", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// post sends a JSON request and decodes the JSON response. Both success and
// protocol-level rejections decode into out; only transport problems return a
// TransportError.
func (c *Client) post(ctx context.Context, path string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	url := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return &licenseErrors.TransportError{Op: path, URL: url, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &licenseErrors.TransportError{Op: path, URL: url, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return &licenseErrors.TransportError{Op: path, URL: url, Err: err}
	}

	if resp.StatusCode >= http.StatusInternalServerError {
		return &licenseErrors.TransportError{
			Op:  path,
			URL: url,
			Err: fmt.Errorf("authority returned status %d", resp.StatusCode),
		}
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return fmt.Errorf("authority rejected credentials: status %d", resp.StatusCode)
	}

	if err := json.Unmarshal(data, out); err != nil {
		return &licenseErrors.TransportError{
			Op:  path,
			URL: url,
			Err: fmt.Errorf("unparseable authority response: %w", err),
		}
	}
	return nil
}
