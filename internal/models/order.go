package models

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"
)

// Order is the local mirror of a commerce order, written by the webhook
// ingress before order events are dispatched.
type Order struct {
	ID             string `gorm:"primaryKey;size:32"`
	Status         string `gorm:"size:32"`
	BillingEmail   string `gorm:"size:255;index"`
	UserID         string `gorm:"size:32"`
	SessionKey     string `gorm:"size:64"`
	SubscriptionID string `gorm:"size:32;index"`
	CreatedAt      time.Time
	UpdatedAt      time.Time

	Items []OrderItem `gorm:"foreignKey:OrderID"`
}

// OrderItem is a single line of an order.
type OrderItem struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	OrderID   string `gorm:"size:32;not null;index"`
	ProductID string `gorm:"size:32;not null"`
	Name      string `gorm:"size:255"`
	Quantity  int    `gorm:"default:1"`
}

// Subscription is the local mirror of a commerce subscription.
type Subscription struct {
	ID            string `gorm:"primaryKey;size:32"`
	Status        string `gorm:"size:32"`
	ParentOrderID string `gorm:"size:32"`
	BillingEmail  string `gorm:"size:255"`
	RenewalOrders string `gorm:"type:text"` // JSON array of order ids
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// RenewalOrderIDs decodes RenewalOrders. A malformed value yields nil.
func (s *Subscription) RenewalOrderIDs() []string {
	if s.RenewalOrders == "" {
		return nil
	}
	var ids []string
	if err := json.Unmarshal([]byte(s.RenewalOrders), &ids); err != nil {
		return nil
	}
	return ids
}

// SetRenewalOrderIDs encodes ids into RenewalOrders.
func (s *Subscription) SetRenewalOrderIDs(ids []string) {
	if len(ids) == 0 {
		s.RenewalOrders = ""
		return
	}
	b, _ := json.Marshal(ids)
	s.RenewalOrders = string(b)
}

// CheckoutSession carries the site a customer chose to upgrade during checkout.
type CheckoutSession struct {
	SessionKey    string `gorm:"primaryKey;size:64"`
	UpgradeSiteID string `gorm:"size:64"`
	UpdatedAt     time.Time
}

// Note targets.
const (
	NoteTargetOrder        = "order"
	NoteTargetSubscription = "subscription"
)

// Note is a human-readable note attached to an order or subscription.
type Note struct {
	ID              uint   `gorm:"primaryKey;autoIncrement"`
	TargetType      string `gorm:"size:16;not null;index:idx_note_target"`
	TargetID        string `gorm:"size:32;not null;index:idx_note_target"`
	Body            string `gorm:"type:text"`
	CustomerVisible bool   `gorm:"default:false"`
	CreatedAt       time.Time
}

// Order provisioning states.
const (
	OrderStatePending    = "pending"
	OrderStateProcessing = "processing"
	OrderStateProcessed  = "processed"
)

// OrderMeta holds per-order provisioning state: the idempotency claim and
// the append-only list of site references produced for the order.
type OrderMeta struct {
	OrderID        string `gorm:"primaryKey;size:32"`
	State          string `gorm:"size:16;not null;default:pending;index"`
	Processed      bool   `gorm:"default:false"`
	ClaimedAt      *time.Time
	ProcessedAt    *time.Time
	Sites          datatypes.JSON `gorm:"type:json"`
	UpgradedSiteID string         `gorm:"size:64"`
	UpdatedAt      time.Time
}

// Site reference actions recorded in OrderMeta.Sites.
const (
	SiteActionCreated   = "created"
	SiteActionUpgraded  = "upgraded"
	SiteActionConverted = "converted"
	SiteActionFailed    = "failed"
)

// SiteRef is one entry of OrderMeta.Sites.
type SiteRef struct {
	SiteID    string    `json:"site_id,omitempty"`
	Action    string    `json:"action"`
	ProductID string    `json:"product_id,omitempty"`
	PlanID    string    `json:"plan_id,omitempty"`
	Error     string    `json:"error,omitempty"`
	At        time.Time `json:"at"`
}

// SiteRefs decodes the site references recorded for the order.
func (m *OrderMeta) SiteRefs() ([]SiteRef, error) {
	if len(m.Sites) == 0 {
		return nil, nil
	}
	var refs []SiteRef
	if err := json.Unmarshal(m.Sites, &refs); err != nil {
		return nil, fmt.Errorf("models: decode order %s sites: %w", m.OrderID, err)
	}
	return refs, nil
}

// SiteIDs returns the distinct site ids recorded for the order, skipping
// failed entries, in first-seen order.
func (m *OrderMeta) SiteIDs() []string {
	refs, err := m.SiteRefs()
	if err != nil {
		return nil
	}
	seen := make(map[string]bool, len(refs))
	var ids []string
	for _, r := range refs {
		if r.SiteID == "" || r.Action == SiteActionFailed || seen[r.SiteID] {
			continue
		}
		seen[r.SiteID] = true
		ids = append(ids, r.SiteID)
	}
	return ids
}
