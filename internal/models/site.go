// Package models defines the GORM models backing the site store and the
// local commerce mirror.
package models

import (
	"time"

	"gorm.io/datatypes"
)

// Site status values.
const (
	SiteStatusCreating  = "creating"
	SiteStatusProgress  = "progress"
	SiteStatusCompleted = "completed"
	SiteStatusFailed    = "failed"
)

// Site types.
const (
	SiteTypeDemo = "demo"
	SiteTypePaid = "paid"
)

// Provenance tags stored in Site.Source.
const (
	SourceOrder      = "order"
	SourceAdminTest  = "admin_test"
	SourceShortcode  = "shortcode"
	SourceDemoToPaid = "demo_to_paid"
	SourceAPI        = "api"
)

// Site is the local system-of-record for a provisioned site. SiteID holds
// the remote id once known, and a pending-/test- placeholder before that.
type Site struct {
	ID            uint   `gorm:"primaryKey;autoIncrement"`
	SiteID        string `gorm:"size:64;not null;uniqueIndex"`
	Status        string `gorm:"size:16;not null;default:creating;index"`
	SiteType      string `gorm:"size:8;not null;default:paid;index"`
	IsReserved    bool   `gorm:"default:false"`
	ExpiryHours   *int
	TaskID        string         `gorm:"size:64"`
	OrderID       *string        `gorm:"size:32;index"`
	ProductID     *string        `gorm:"size:32"`
	UserID        *string        `gorm:"size:32"`
	CustomerEmail string         `gorm:"size:255;index"`
	PlanID        string         `gorm:"size:64"`
	SHash         string         `gorm:"size:128"`
	SiteURL       string         `gorm:"size:255"`
	WPUsername    string         `gorm:"size:128"`
	WPPassword    string         `gorm:"size:128"`
	WPAdminURL    string         `gorm:"size:255"`
	Source        string         `gorm:"size:32;index"`
	SourceData    datatypes.JSON `gorm:"type:json"`
	APIResponse   datatypes.JSON `gorm:"type:json"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// IsPermanent reports whether the site is protected from remote expiry.
func (s *Site) IsPermanent() bool {
	return s.IsReserved && s.ExpiryHours == nil
}

// IsTerminal reports whether the site has reached completed or failed.
func (s *Site) IsTerminal() bool {
	return s.Status == SiteStatusCompleted || s.Status == SiteStatusFailed
}

// SitePlanChange is an append-only record of plan upgrades applied to a site.
type SitePlanChange struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	SiteID    string `gorm:"size:64;not null;index"`
	OldPlanID string `gorm:"size:64"`
	NewPlanID string `gorm:"size:64;not null"`
	OrderID   string `gorm:"size:32"`
	CreatedAt time.Time
}
