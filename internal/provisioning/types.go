package provisioning

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Remote task status codes returned by GetTaskStatus.
const (
	TaskCodeCompleted = 0
	TaskCodeRunning   = 1
	TaskCodeFailed    = 2
)

// SiteParams are the creation parameters sent with a snapshot reference.
type SiteParams struct {
	Name        string `json:"site_name,omitempty"`
	PlanID      string `json:"plan_id,omitempty"`
	IsReserved  bool   `json:"is_reserved"`
	ExpiryHours *int   `json:"expiry_hours,omitempty"`
}

// SiteUpdate flips the reservation and expiry of an existing site.
type SiteUpdate struct {
	IsReserved  bool `json:"is_reserved"`
	ExpiryHours *int `json:"expiry_hours"`
}

// SiteDetails are the usable-site outputs the remote may return on creation,
// task completion, or plan upgrade. Empty fields mean "not returned".
type SiteDetails struct {
	URL      string
	AdminURL string
	Username string
	Password string
	SHash    string
}

// Empty reports whether no detail was returned.
func (d SiteDetails) Empty() bool {
	return d == SiteDetails{}
}

// SiteCreated is the result of CreateSite. It is either a *PoolSiteCreated
// or a *TaskSiteCreated; the distinction is resolved once while decoding.
type SiteCreated interface {
	RemoteID() string
	Raw() json.RawMessage
	isSiteCreated()
}

// PoolSiteCreated is a pre-warmed site that is usable immediately.
type PoolSiteCreated struct {
	SiteID  string
	Details SiteDetails
	Payload json.RawMessage
}

func (p *PoolSiteCreated) RemoteID() string     { return p.SiteID }
func (p *PoolSiteCreated) Raw() json.RawMessage { return p.Payload }
func (p *PoolSiteCreated) isSiteCreated()       {}

// TaskSiteCreated is a site whose provisioning runs asynchronously.
type TaskSiteCreated struct {
	SiteID  string
	TaskID  string
	Details SiteDetails
	Payload json.RawMessage
}

func (t *TaskSiteCreated) RemoteID() string     { return t.SiteID }
func (t *TaskSiteCreated) Raw() json.RawMessage { return t.Payload }
func (t *TaskSiteCreated) isSiteCreated()       {}

// TaskStatus is the decoded answer of GetTaskStatus.
type TaskStatus struct {
	Code    int
	Details SiteDetails
	Payload json.RawMessage
}

// UpgradeResult is the decoded answer of UpgradePlan.
type UpgradeResult struct {
	PlanID  string
	Details SiteDetails
	Payload json.RawMessage
}

// DomainResult is the decoded answer of AddDomain.
type DomainResult struct {
	Domain  string
	Status  string
	Payload json.RawMessage
}

// flexString accepts JSON strings and numbers.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*f = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("expected string or number, got %s", b)
	}
	*f = flexString(n.String())
	return nil
}

// flexBool accepts true/false, 0/1 and "0"/"1"/"true"/"false".
type flexBool bool

func (f *flexBool) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(bytes.TrimSpace(b)), `"`)
	switch strings.ToLower(s) {
	case "", "null", "0", "false":
		*f = false
	case "1", "true":
		*f = true
	default:
		return fmt.Errorf("expected boolean, got %s", b)
	}
	return nil
}

// flexInt accepts numbers and numeric strings.
type flexInt int

func (f *flexInt) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(bytes.TrimSpace(b)), `"`)
	if s == "" || s == "null" {
		return fmt.Errorf("missing integer")
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("expected integer, got %s", b)
	}
	*f = flexInt(n)
	return nil
}

// siteData covers both the current and the legacy site payloads.
type siteData struct {
	ID         flexString `json:"id"`
	LegacyID   flexString `json:"site_id"`
	WPURL      string     `json:"wp_url"`
	LegacyURL  string     `json:"url"`
	AdminURL   string     `json:"wp_admin_url"`
	Username   string     `json:"wp_username"`
	Password   string     `json:"wp_password"`
	SHash      string     `json:"s_hash"`
	IsPool     flexBool   `json:"is_pool"`
	TaskID     flexString `json:"task_id"`
	PlanID     flexString `json:"plan_id"`
	NestedSite *siteData  `json:"site"`
}

func (d *siteData) id() string {
	if d.ID != "" {
		return string(d.ID)
	}
	return string(d.LegacyID)
}

func (d *siteData) details() SiteDetails {
	url := d.WPURL
	if url == "" {
		url = d.LegacyURL
	}
	admin := d.AdminURL
	if admin == "" && url != "" {
		admin = strings.TrimRight(url, "/") + "/wp-admin"
	}
	return SiteDetails{
		URL:      url,
		AdminURL: admin,
		Username: d.Username,
		Password: d.Password,
		SHash:    d.SHash,
	}
}

// decodeSiteCreated resolves a create-site payload into its variant.
func decodeSiteCreated(data json.RawMessage) (SiteCreated, error) {
	var d siteData
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("decode site payload: %w", err)
	}
	if d.NestedSite != nil {
		// Legacy shape: {"site": {...}, "task_id": ...}
		nested := *d.NestedSite
		if nested.TaskID == "" {
			nested.TaskID = d.TaskID
		}
		if !bool(nested.IsPool) {
			nested.IsPool = d.IsPool
		}
		d = nested
	}
	if d.id() == "" {
		return nil, fmt.Errorf("site payload has no id")
	}
	if bool(d.IsPool) {
		return &PoolSiteCreated{SiteID: d.id(), Details: d.details(), Payload: data}, nil
	}
	if d.TaskID == "" {
		return nil, fmt.Errorf("site %s is not a pool site and has no task id", d.id())
	}
	return &TaskSiteCreated{SiteID: d.id(), TaskID: string(d.TaskID), Details: d.details(), Payload: data}, nil
}

// decodeTaskStatus reads {"status": <code>, ...site fields}.
func decodeTaskStatus(data json.RawMessage) (TaskStatus, error) {
	var t struct {
		Status *flexInt `json:"status"`
		siteData
	}
	if err := json.Unmarshal(data, &t); err != nil {
		return TaskStatus{}, fmt.Errorf("decode task status: %w", err)
	}
	if t.Status == nil {
		return TaskStatus{}, fmt.Errorf("task payload has no status")
	}
	return TaskStatus{Code: int(*t.Status), Details: t.details(), Payload: data}, nil
}

func decodeUpgrade(data json.RawMessage) (UpgradeResult, error) {
	res := UpgradeResult{Payload: data}
	if len(bytes.TrimSpace(data)) == 0 || string(data) == "null" {
		return res, nil
	}
	var d siteData
	if err := json.Unmarshal(data, &d); err != nil {
		return UpgradeResult{}, fmt.Errorf("decode upgrade payload: %w", err)
	}
	res.PlanID = string(d.PlanID)
	res.Details = d.details()
	return res, nil
}
