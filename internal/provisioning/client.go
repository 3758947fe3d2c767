// Package provisioning talks to the remote site-provisioning API. The engine
// depends only on the Client interface; HTTPClient is the production
// implementation and MockClient serves tests.
package provisioning

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/zulandar/siteyard/internal/apperr"
	"golang.org/x/time/rate"
)

// Client is the set of remote operations the reconciliation engine needs.
type Client interface {
	CreateSite(ctx context.Context, snapshotRef string, params SiteParams) (SiteCreated, error)
	GetTaskStatus(ctx context.Context, taskID string) (TaskStatus, error)
	UpdateSite(ctx context.Context, siteID string, update SiteUpdate) (json.RawMessage, error)
	UpgradePlan(ctx context.Context, siteID, planID string) (UpgradeResult, error)
	DisableDemoHelper(ctx context.Context, siteID, siteURLHint string) error
	DeleteSite(ctx context.Context, siteID string) error
	AddDomain(ctx context.Context, siteID, domain, domainType string) (DomainResult, error)
}

const (
	// DefaultTimeout bounds every remote call.
	DefaultTimeout = 30 * time.Second
	// DefaultRatePerSecond caps outbound request rate.
	DefaultRatePerSecond = 5.0

	maxBodyBytes = 4 << 20
)

// HTTPOpts holds parameters for creating an HTTPClient.
type HTTPOpts struct {
	BaseURL       string
	APIKey        string
	Timeout       time.Duration
	RatePerSecond float64
	// For testing: inject a client bound to an httptest server.
	HTTPClient *http.Client
}

// HTTPClient implements Client over the provider's JSON REST API.
type HTTPClient struct {
	baseURL    string
	apiKey     string
	timeout    time.Duration
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewHTTPClient validates opts and returns a ready client. A missing API key
// is a ConfigError.
func NewHTTPClient(opts HTTPOpts) (*HTTPClient, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, apperr.ConfigError("provisioning API key is not configured").WithOp("provisioning")
	}
	if opts.BaseURL == "" {
		return nil, apperr.ConfigError("provisioning base URL is not configured").WithOp("provisioning")
	}
	if _, err := url.Parse(opts.BaseURL); err != nil {
		return nil, apperr.ConfigError(fmt.Sprintf("invalid provisioning base URL %q", opts.BaseURL)).WithOp("provisioning")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.RatePerSecond <= 0 {
		opts.RatePerSecond = DefaultRatePerSecond
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: opts.Timeout}
	}
	burst := int(opts.RatePerSecond)
	if burst < 1 {
		burst = 1
	}
	return &HTTPClient{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		apiKey:     opts.APIKey,
		timeout:    opts.Timeout,
		httpClient: hc,
		limiter:    rate.NewLimiter(rate.Limit(opts.RatePerSecond), burst),
	}, nil
}

// envelope is the common response wrapper of the remote API.
type envelope struct {
	Status  *flexBool       `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// CreateSite creates a site from a snapshot.
func (c *HTTPClient) CreateSite(ctx context.Context, snapshotRef string, params SiteParams) (SiteCreated, error) {
	body := struct {
		SnapshotSlug string `json:"snapshot_slug"`
		SiteParams
	}{SnapshotSlug: snapshotRef, SiteParams: params}

	data, raw, err := c.do(ctx, "create site", http.MethodPost, "/sites/template", body, "")
	if err != nil {
		return nil, err
	}
	created, err := decodeSiteCreated(data)
	if err != nil {
		return nil, apperr.ProvisioningError("unexpected create-site response", err).WithOp("provisioning: create site").WithPayload(raw)
	}
	return created, nil
}

// GetTaskStatus fetches the status of an asynchronous provisioning task.
func (c *HTTPClient) GetTaskStatus(ctx context.Context, taskID string) (TaskStatus, error) {
	if taskID == "" {
		return TaskStatus{}, apperr.Validation("task id is required").WithOp("provisioning: task status")
	}
	data, raw, err := c.do(ctx, "task status", http.MethodGet, "/tasks/"+url.PathEscape(taskID)+"/status", nil, "")
	if err != nil {
		return TaskStatus{}, err
	}
	ts, err := decodeTaskStatus(data)
	if err != nil {
		return TaskStatus{}, apperr.ProvisioningError("unexpected task-status response", err).WithOp("provisioning: task status").WithPayload(raw)
	}
	return ts, nil
}

// UpdateSite changes reservation and expiry of a site.
func (c *HTTPClient) UpdateSite(ctx context.Context, siteID string, update SiteUpdate) (json.RawMessage, error) {
	data, _, err := c.do(ctx, "update site", http.MethodPatch, "/sites/"+url.PathEscape(siteID), update, siteID)
	return data, err
}

// UpgradePlan moves a site onto a new plan.
func (c *HTTPClient) UpgradePlan(ctx context.Context, siteID, planID string) (UpgradeResult, error) {
	body := map[string]string{"plan_id": planID}
	data, raw, err := c.do(ctx, "upgrade plan", http.MethodPost, "/sites/"+url.PathEscape(siteID)+"/upgrade-plan", body, siteID)
	if err != nil {
		return UpgradeResult{}, err
	}
	res, err := decodeUpgrade(data)
	if err != nil {
		return UpgradeResult{}, apperr.ProvisioningError("unexpected upgrade response", err).WithOp("provisioning: upgrade plan").WithSite(siteID).WithPayload(raw)
	}
	if res.PlanID == "" {
		res.PlanID = planID
	}
	return res, nil
}

// DisableDemoHelper turns off the demo helper plugin on a site.
func (c *HTTPClient) DisableDemoHelper(ctx context.Context, siteID, siteURLHint string) error {
	body := map[string]string{"site_url": siteURLHint}
	_, _, err := c.do(ctx, "disable demo helper", http.MethodPost, "/sites/"+url.PathEscape(siteID)+"/demo-helper/disable", body, siteID)
	return err
}

// DeleteSite deletes a site on the remote.
func (c *HTTPClient) DeleteSite(ctx context.Context, siteID string) error {
	_, _, err := c.do(ctx, "delete site", http.MethodDelete, "/sites/"+url.PathEscape(siteID), nil, siteID)
	return err
}

// AddDomain maps a custom domain onto a site.
func (c *HTTPClient) AddDomain(ctx context.Context, siteID, domain, domainType string) (DomainResult, error) {
	body := map[string]string{"domain": domain, "type": domainType}
	data, _, err := c.do(ctx, "add domain", http.MethodPost, "/sites/"+url.PathEscape(siteID)+"/add-domain", body, siteID)
	if err != nil {
		return DomainResult{}, err
	}
	var d struct {
		Domain string `json:"domain"`
		Status string `json:"status"`
	}
	_ = json.Unmarshal(data, &d)
	if d.Domain == "" {
		d.Domain = domain
	}
	return DomainResult{Domain: d.Domain, Status: d.Status, Payload: data}, nil
}

// do performs one API call and classifies the outcome. siteID is set for
// calls that address an existing site so a 404 becomes SiteDeletedError.
func (c *HTTPClient) do(ctx context.Context, op, method, path string, body interface{}, siteID string) (json.RawMessage, []byte, error) {
	fullOp := "provisioning: " + op

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, nil, apperr.TransportError("rate limiter", err).WithOp(fullOp).WithSite(siteID)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, nil, apperr.Internal("encode request", err).WithOp(fullOp)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, nil, apperr.Internal("build request", err).WithOp(fullOp)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, apperr.TransportError("request failed", err).WithOp(fullOp).WithSite(siteID)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, nil, apperr.TransportError("read response", err).WithOp(fullOp).WithSite(siteID)
	}

	var env envelope
	decodeErr := json.Unmarshal(raw, &env)

	switch {
	case resp.StatusCode == http.StatusNotFound && siteID != "":
		return nil, raw, apperr.SiteDeletedError(siteID).WithOp(fullOp).WithPayload(raw)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, raw, apperr.ConfigError("provisioning API rejected the API key").WithOp(fullOp).WithPayload(raw)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, raw, apperr.TransportError(fmt.Sprintf("remote status %d", resp.StatusCode), nil).WithOp(fullOp).WithSite(siteID).WithPayload(raw)
	case resp.StatusCode >= 400:
		msg := env.Message
		if msg == "" {
			msg = fmt.Sprintf("remote status %d", resp.StatusCode)
		}
		return nil, raw, apperr.ProvisioningError(msg, nil).WithOp(fullOp).WithSite(siteID).WithPayload(raw)
	}

	if decodeErr != nil {
		return nil, raw, apperr.ProvisioningError("malformed response", decodeErr).WithOp(fullOp).WithSite(siteID).WithPayload(raw)
	}
	if env.Status != nil && !bool(*env.Status) {
		msg := env.Message
		if msg == "" {
			msg = "remote reported failure"
		}
		return nil, raw, apperr.ProvisioningError(msg, nil).WithOp(fullOp).WithSite(siteID).WithPayload(raw)
	}
	return env.Data, raw, nil
}

// IsTimeout reports whether err came from a deadline rather than a refused
// or reset connection.
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne interface{ Timeout() bool }
	return errors.As(err, &ne) && ne.Timeout()
}
