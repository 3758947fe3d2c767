// Package site provides the local site record store. Every status change is
// a compare-and-set UPDATE so concurrent writers cannot regress a record.
package site

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/zulandar/siteyard/internal/apperr"
	"github.com/zulandar/siteyard/internal/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Placeholder prefixes used before the remote id is known.
const (
	PendingPrefix = "pending-"
	TestPrefix    = "test-"
)

// Filters holds optional filters for listing sites.
type Filters struct {
	Status   string
	SiteType string
	Source   string
	OrderID  string
	Email    string
	Limit    int
}

// ValidTransitions maps each status to the statuses it may move to.
// Terminal statuses have no outgoing transitions.
var ValidTransitions = map[string][]string{
	models.SiteStatusCreating: {models.SiteStatusProgress, models.SiteStatusCompleted, models.SiteStatusFailed},
	models.SiteStatusProgress: {models.SiteStatusCompleted, models.SiteStatusFailed},
}

// NewPlaceholderID returns a unique local id for a site whose remote id is
// not yet known. Admin test sites get the test- prefix.
func NewPlaceholderID(source string) string {
	if source == models.SourceAdminTest {
		return TestPrefix + uuid.NewString()
	}
	return PendingPrefix + uuid.NewString()
}

// IsPlaceholder reports whether id was produced by NewPlaceholderID.
func IsPlaceholder(id string) bool {
	return strings.HasPrefix(id, PendingPrefix) || strings.HasPrefix(id, TestPrefix)
}

// Insert stores a new site record. Status defaults to creating.
func Insert(db *gorm.DB, s *models.Site) error {
	if s.SiteID == "" {
		return apperr.Validation("site: site id is required")
	}
	if s.Status == "" {
		s.Status = models.SiteStatusCreating
	}
	if s.SiteType == "" {
		s.SiteType = models.SiteTypePaid
	}
	if err := db.Create(s).Error; err != nil {
		return fmt.Errorf("site: insert %s: %w", s.SiteID, err)
	}
	return nil
}

// Get retrieves a site by its site id.
func Get(db *gorm.DB, siteID string) (*models.Site, error) {
	var s models.Site
	if err := db.Where("site_id = ?", siteID).First(&s).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound(fmt.Sprintf("site: not found: %s", siteID))
		}
		return nil, fmt.Errorf("site: get %s: %w", siteID, err)
	}
	return &s, nil
}

// List returns sites matching the filters, newest first.
func List(db *gorm.DB, f Filters) ([]models.Site, error) {
	q := db.Model(&models.Site{})

	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.SiteType != "" {
		q = q.Where("site_type = ?", f.SiteType)
	}
	if f.Source != "" {
		q = q.Where("source = ?", f.Source)
	}
	if f.OrderID != "" {
		q = q.Where("order_id = ?", f.OrderID)
	}
	if f.Email != "" {
		q = q.Where("LOWER(customer_email) = ?", strings.ToLower(f.Email))
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}

	var sites []models.Site
	if err := q.Order("created_at DESC, id DESC").Find(&sites).Error; err != nil {
		return nil, fmt.Errorf("site: list: %w", err)
	}
	return sites, nil
}

// ListPending returns every site still waiting on a remote task.
func ListPending(db *gorm.DB) ([]models.Site, error) {
	var sites []models.Site
	if err := db.Where("status = ? AND task_id <> ''", models.SiteStatusProgress).
		Order("id ASC").
		Find(&sites).Error; err != nil {
		return nil, fmt.Errorf("site: list pending: %w", err)
	}
	return sites, nil
}

// convertibleStatuses are the states a demo site may be converted from.
// Creating and failed rows never produced a usable remote site.
var convertibleStatuses = []string{models.SiteStatusCompleted, models.SiteStatusProgress}

// Convertible reports whether s is a live demo site that a purchase may
// take over.
func Convertible(s *models.Site) bool {
	if s.SiteType != models.SiteTypeDemo || IsPlaceholder(s.SiteID) {
		return false
	}
	return s.Status == models.SiteStatusCompleted || s.Status == models.SiteStatusProgress
}

// FindDemoByEmail returns the convertible demo sites owned by email,
// oldest first.
func FindDemoByEmail(db *gorm.DB, email string) ([]models.Site, error) {
	if strings.TrimSpace(email) == "" {
		return nil, nil
	}
	var found []models.Site
	if err := db.Where("site_type = ? AND LOWER(customer_email) = ? AND status IN ?",
		models.SiteTypeDemo, strings.ToLower(strings.TrimSpace(email)), convertibleStatuses).
		Order("id ASC").
		Find(&found).Error; err != nil {
		return nil, fmt.Errorf("site: find demo by email: %w", err)
	}
	sites := found[:0]
	for i := range found {
		if Convertible(&found[i]) {
			sites = append(sites, found[i])
		}
	}
	return sites, nil
}

// RewriteID replaces a placeholder id with the remote id and applies fields
// in the same statement. If a non-terminal row with the remote id already
// exists, the placeholder's provenance and fields are merged into it and the
// placeholder row is removed, all in one transaction. An existing row that
// is terminal or linked to another order is left alone and a conflict is
// returned.
func RewriteID(db *gorm.DB, placeholder, remoteID string, fields map[string]interface{}) (*models.Site, error) {
	if remoteID == "" {
		return nil, apperr.Validation("site: remote id is required")
	}
	updates := make(map[string]interface{}, len(fields)+1)
	for k, v := range fields {
		updates[k] = v
	}

	var out models.Site
	err := db.Transaction(func(tx *gorm.DB) error {
		var existing models.Site
		err := tx.Where("site_id = ?", remoteID).First(&existing).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			updates["site_id"] = remoteID
			res := tx.Model(&models.Site{}).Where("site_id = ?", placeholder).Updates(updates)
			if res.Error != nil {
				return fmt.Errorf("site: rewrite %s to %s: %w", placeholder, remoteID, res.Error)
			}
			if res.RowsAffected == 0 {
				return apperr.NotFound(fmt.Sprintf("site: not found: %s", placeholder))
			}
		case err != nil:
			return fmt.Errorf("site: check %s: %w", remoteID, err)
		default:
			var ph models.Site
			if err := tx.Where("site_id = ?", placeholder).First(&ph).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return apperr.NotFound(fmt.Sprintf("site: not found: %s", placeholder))
				}
				return fmt.Errorf("site: get %s: %w", placeholder, err)
			}
			if existing.IsTerminal() {
				return apperr.Conflict(fmt.Sprintf("site: %s is already %s", remoteID, existing.Status)).WithSite(remoteID)
			}
			if existing.OrderID != nil && ph.OrderID != nil && *existing.OrderID != *ph.OrderID {
				return apperr.Conflict(fmt.Sprintf("site: %s belongs to order %s, not %s", remoteID, *existing.OrderID, *ph.OrderID)).WithSite(remoteID)
			}
			merged := map[string]interface{}{
				"site_type":    ph.SiteType,
				"source":       ph.Source,
				"source_data":  ph.SourceData,
				"is_reserved":  ph.IsReserved,
				"expiry_hours": ph.ExpiryHours,
			}
			if ph.OrderID != nil {
				merged["order_id"] = ph.OrderID
			}
			if ph.ProductID != nil {
				merged["product_id"] = ph.ProductID
			}
			if ph.UserID != nil {
				merged["user_id"] = ph.UserID
			}
			if ph.CustomerEmail != "" {
				merged["customer_email"] = ph.CustomerEmail
			}
			if ph.PlanID != "" {
				merged["plan_id"] = ph.PlanID
			}
			for k, v := range updates {
				merged[k] = v
			}
			if err := tx.Model(&models.Site{}).Where("site_id = ?", remoteID).Updates(merged).Error; err != nil {
				return fmt.Errorf("site: merge %s into %s: %w", placeholder, remoteID, err)
			}
			if err := tx.Where("site_id = ?", placeholder).Delete(&models.Site{}).Error; err != nil {
				return fmt.Errorf("site: delete placeholder %s: %w", placeholder, err)
			}
		}
		return tx.Where("site_id = ?", remoteID).First(&out).Error
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// MarkFailed moves a non-terminal site to failed and stores the remote
// payload, if any. It reports whether a row changed.
func MarkFailed(db *gorm.DB, siteID string, payload []byte) (bool, error) {
	updates := map[string]interface{}{
		"status":  models.SiteStatusFailed,
		"task_id": "",
	}
	if len(payload) > 0 {
		updates["api_response"] = datatypes.JSON(payload)
	}
	res := db.Model(&models.Site{}).
		Where("site_id = ? AND status IN ?", siteID, []string{models.SiteStatusCreating, models.SiteStatusProgress}).
		Updates(updates)
	if res.Error != nil {
		return false, fmt.Errorf("site: mark failed %s: %w", siteID, res.Error)
	}
	return res.RowsAffected > 0, nil
}

// Transition moves a site from one status to another with a
// compare-and-set on the current status. It returns false without error
// when another writer already moved the row.
func Transition(db *gorm.DB, siteID, from, to string, fields map[string]interface{}) (bool, error) {
	if !isValidTransition(from, to) {
		return false, apperr.Conflict(fmt.Sprintf("site: invalid status transition from %q to %q", from, to))
	}
	updates := make(map[string]interface{}, len(fields)+1)
	for k, v := range fields {
		updates[k] = v
	}
	updates["status"] = to

	res := db.Model(&models.Site{}).
		Where("site_id = ? AND status = ?", siteID, from).
		Updates(updates)
	if res.Error != nil {
		return false, fmt.Errorf("site: transition %s %s->%s: %w", siteID, from, to, res.Error)
	}
	return res.RowsAffected > 0, nil
}

func isValidTransition(from, to string) bool {
	for _, v := range ValidTransitions[from] {
		if v == to {
			return true
		}
	}
	return false
}

// ConvertToPaid flips a demo site to paid with a compare-and-set on
// site_type and status. It returns false when the site was not a live demo.
func ConvertToPaid(db *gorm.DB, siteID string, fields map[string]interface{}) (bool, error) {
	updates := make(map[string]interface{}, len(fields)+1)
	for k, v := range fields {
		updates[k] = v
	}
	updates["site_type"] = models.SiteTypePaid

	res := db.Model(&models.Site{}).
		Where("site_id = ? AND site_type = ? AND status IN ?", siteID, models.SiteTypeDemo, convertibleStatuses).
		Updates(updates)
	if res.Error != nil {
		return false, fmt.Errorf("site: convert %s to paid: %w", siteID, res.Error)
	}
	return res.RowsAffected > 0, nil
}

// UpdateFields writes non-status columns. Status changes go through
// Transition or MarkFailed.
func UpdateFields(db *gorm.DB, siteID string, fields map[string]interface{}) error {
	if _, ok := fields["status"]; ok {
		return apperr.Validation("site: status must change through Transition")
	}
	if len(fields) == 0 {
		return nil
	}
	res := db.Model(&models.Site{}).Where("site_id = ?", siteID).Updates(fields)
	if res.Error != nil {
		return fmt.Errorf("site: update %s: %w", siteID, res.Error)
	}
	if res.RowsAffected == 0 {
		return apperr.NotFound(fmt.Sprintf("site: not found: %s", siteID))
	}
	return nil
}

// SetPermanence stores the reservation flags. A permanent site is reserved
// with no expiry; a temporary one is unreserved with expiryHours.
func SetPermanence(db *gorm.DB, siteID string, permanent bool, expiryHours int) error {
	fields := map[string]interface{}{
		"is_reserved":  true,
		"expiry_hours": nil,
	}
	if !permanent {
		fields["is_reserved"] = false
		fields["expiry_hours"] = expiryHours
	}
	return UpdateFields(db, siteID, fields)
}

// RecordPlanChange appends a plan change to the site's history.
func RecordPlanChange(db *gorm.DB, siteID, oldPlanID, newPlanID, orderID string) error {
	change := models.SitePlanChange{
		SiteID:    siteID,
		OldPlanID: oldPlanID,
		NewPlanID: newPlanID,
		OrderID:   orderID,
	}
	if err := db.Create(&change).Error; err != nil {
		return fmt.Errorf("site: record plan change %s: %w", siteID, err)
	}
	return nil
}

// PlanHistory returns the plan changes for a site, oldest first.
func PlanHistory(db *gorm.DB, siteID string) ([]models.SitePlanChange, error) {
	var changes []models.SitePlanChange
	if err := db.Where("site_id = ?", siteID).Order("id ASC").Find(&changes).Error; err != nil {
		return nil, fmt.Errorf("site: plan history %s: %w", siteID, err)
	}
	return changes, nil
}

// Delete removes a site and its plan history.
func Delete(db *gorm.DB, siteID string) error {
	return db.Transaction(func(tx *gorm.DB) error {
		res := tx.Where("site_id = ?", siteID).Delete(&models.Site{})
		if res.Error != nil {
			return fmt.Errorf("site: delete %s: %w", siteID, res.Error)
		}
		if res.RowsAffected == 0 {
			return apperr.NotFound(fmt.Sprintf("site: not found: %s", siteID))
		}
		if err := tx.Where("site_id = ?", siteID).Delete(&models.SitePlanChange{}).Error; err != nil {
			return fmt.Errorf("site: delete plan history %s: %w", siteID, err)
		}
		return nil
	})
}
