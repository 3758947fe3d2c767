// Package commerce is the local mirror of the e-commerce collaborator:
// orders, subscriptions, checkout sessions, notes and per-order
// provisioning metadata.
package commerce

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/zulandar/siteyard/internal/apperr"
	"github.com/zulandar/siteyard/internal/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Store is what the event adapters need from the commerce system.
type Store interface {
	GetOrder(ctx context.Context, orderID string) (*models.Order, error)
	UpsertOrder(ctx context.Context, o *models.Order) error
	GetSubscription(ctx context.Context, subID string) (*models.Subscription, error)
	UpsertSubscription(ctx context.Context, s *models.Subscription) error

	AddOrderNote(ctx context.Context, orderID, body string, customerVisible bool) error
	AddSubscriptionNote(ctx context.Context, subID, body string) error
	Notes(ctx context.Context, targetType, targetID string) ([]models.Note, error)

	SessionUpgradeSite(ctx context.Context, sessionKey string) (string, error)
	SetSessionUpgradeSite(ctx context.Context, sessionKey, siteID string) error
	ClearSessionUpgradeSite(ctx context.Context, sessionKey string) error

	Meta(ctx context.Context, orderID string) (*models.OrderMeta, error)
	ClaimOrder(ctx context.Context, orderID string, staleAfter time.Duration) (bool, error)
	MarkProcessed(ctx context.Context, orderID string) (bool, error)
	AppendSiteRefs(ctx context.Context, orderID string, refs []models.SiteRef) error
	SetUpgradedSite(ctx context.Context, orderID, siteID string) error
}

// DefaultClaimTimeout is how long a processing claim is honoured when the
// caller passes no timeout.
const DefaultClaimTimeout = 10 * time.Minute

// GormStore implements Store on the site database.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore returns a Store backed by db.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// GetOrder loads an order with its line items.
func (s *GormStore) GetOrder(ctx context.Context, orderID string) (*models.Order, error) {
	var o models.Order
	err := s.db.WithContext(ctx).Preload("Items", func(db *gorm.DB) *gorm.DB {
		return db.Order("id ASC")
	}).Where("id = ?", orderID).First(&o).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound(fmt.Sprintf("commerce: order not found: %s", orderID))
		}
		return nil, fmt.Errorf("commerce: get order %s: %w", orderID, err)
	}
	return &o, nil
}

// UpsertOrder inserts or replaces an order and its line items.
func (s *GormStore) UpsertOrder(ctx context.Context, o *models.Order) error {
	if o.ID == "" {
		return apperr.Validation("commerce: order id is required")
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Omit(clause.Associations).Create(o).Error; err != nil {
			return fmt.Errorf("commerce: upsert order %s: %w", o.ID, err)
		}
		if err := tx.Where("order_id = ?", o.ID).Delete(&models.OrderItem{}).Error; err != nil {
			return fmt.Errorf("commerce: replace items of %s: %w", o.ID, err)
		}
		for i := range o.Items {
			o.Items[i].ID = 0
			o.Items[i].OrderID = o.ID
			if o.Items[i].Quantity <= 0 {
				o.Items[i].Quantity = 1
			}
		}
		if len(o.Items) > 0 {
			if err := tx.Create(&o.Items).Error; err != nil {
				return fmt.Errorf("commerce: insert items of %s: %w", o.ID, err)
			}
		}
		return nil
	})
}

// GetSubscription loads a subscription.
func (s *GormStore) GetSubscription(ctx context.Context, subID string) (*models.Subscription, error) {
	var sub models.Subscription
	if err := s.db.WithContext(ctx).Where("id = ?", subID).First(&sub).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound(fmt.Sprintf("commerce: subscription not found: %s", subID))
		}
		return nil, fmt.Errorf("commerce: get subscription %s: %w", subID, err)
	}
	return &sub, nil
}

// UpsertSubscription inserts or replaces a subscription.
func (s *GormStore) UpsertSubscription(ctx context.Context, sub *models.Subscription) error {
	if sub.ID == "" {
		return apperr.Validation("commerce: subscription id is required")
	}
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(sub).Error; err != nil {
		return fmt.Errorf("commerce: upsert subscription %s: %w", sub.ID, err)
	}
	return nil
}

// AddOrderNote attaches a note to an order.
func (s *GormStore) AddOrderNote(ctx context.Context, orderID, body string, customerVisible bool) error {
	return s.addNote(ctx, models.NoteTargetOrder, orderID, body, customerVisible)
}

// AddSubscriptionNote attaches a private note to a subscription.
func (s *GormStore) AddSubscriptionNote(ctx context.Context, subID, body string) error {
	return s.addNote(ctx, models.NoteTargetSubscription, subID, body, false)
}

func (s *GormStore) addNote(ctx context.Context, targetType, targetID, body string, customerVisible bool) error {
	note := models.Note{
		TargetType:      targetType,
		TargetID:        targetID,
		Body:            body,
		CustomerVisible: customerVisible,
	}
	if err := s.db.WithContext(ctx).Create(&note).Error; err != nil {
		return fmt.Errorf("commerce: add %s note %s: %w", targetType, targetID, err)
	}
	return nil
}

// Notes lists the notes on a target, oldest first.
func (s *GormStore) Notes(ctx context.Context, targetType, targetID string) ([]models.Note, error) {
	var notes []models.Note
	if err := s.db.WithContext(ctx).
		Where("target_type = ? AND target_id = ?", targetType, targetID).
		Order("id ASC").
		Find(&notes).Error; err != nil {
		return nil, fmt.Errorf("commerce: notes %s %s: %w", targetType, targetID, err)
	}
	return notes, nil
}

// SessionUpgradeSite returns the site the session chose to upgrade, or "".
func (s *GormStore) SessionUpgradeSite(ctx context.Context, sessionKey string) (string, error) {
	if sessionKey == "" {
		return "", nil
	}
	var sess models.CheckoutSession
	err := s.db.WithContext(ctx).Where("session_key = ?", sessionKey).First(&sess).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("commerce: get session %s: %w", sessionKey, err)
	}
	return sess.UpgradeSiteID, nil
}

// SetSessionUpgradeSite records the site a session wants to upgrade.
func (s *GormStore) SetSessionUpgradeSite(ctx context.Context, sessionKey, siteID string) error {
	if sessionKey == "" {
		return apperr.Validation("commerce: session key is required")
	}
	sess := models.CheckoutSession{SessionKey: sessionKey, UpgradeSiteID: siteID}
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "session_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"upgrade_site_id", "updated_at"}),
	}).Create(&sess).Error; err != nil {
		return fmt.Errorf("commerce: set session %s: %w", sessionKey, err)
	}
	return nil
}

// ClearSessionUpgradeSite forgets the session's upgrade target.
func (s *GormStore) ClearSessionUpgradeSite(ctx context.Context, sessionKey string) error {
	if sessionKey == "" {
		return nil
	}
	if err := s.db.WithContext(ctx).Where("session_key = ?", sessionKey).Delete(&models.CheckoutSession{}).Error; err != nil {
		return fmt.Errorf("commerce: clear session %s: %w", sessionKey, err)
	}
	return nil
}

// Meta returns the provisioning metadata for an order. An order that was
// never claimed yields a pending meta that is not yet stored.
func (s *GormStore) Meta(ctx context.Context, orderID string) (*models.OrderMeta, error) {
	var m models.OrderMeta
	err := s.db.WithContext(ctx).Where("order_id = ?", orderID).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &models.OrderMeta{OrderID: orderID, State: models.OrderStatePending}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("commerce: get meta %s: %w", orderID, err)
	}
	return &m, nil
}

// ensureMeta creates the meta row for an order if it does not exist.
func ensureMeta(tx *gorm.DB, orderID string) error {
	m := models.OrderMeta{OrderID: orderID, State: models.OrderStatePending}
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&m).Error; err != nil {
		return fmt.Errorf("commerce: ensure meta %s: %w", orderID, err)
	}
	return nil
}

// ClaimOrder moves an order from pending to processing with a
// compare-and-set. A processing claim older than staleAfter is taken over.
// It returns false when another delivery holds the claim or the order is
// already processed.
func (s *GormStore) ClaimOrder(ctx context.Context, orderID string, staleAfter time.Duration) (bool, error) {
	if staleAfter <= 0 {
		staleAfter = DefaultClaimTimeout
	}
	db := s.db.WithContext(ctx)
	if err := ensureMeta(db, orderID); err != nil {
		return false, err
	}

	now := time.Now()
	cutoff := now.Add(-staleAfter)
	res := db.Model(&models.OrderMeta{}).
		Where("order_id = ? AND (state = ? OR (state = ? AND claimed_at < ?))",
			orderID, models.OrderStatePending, models.OrderStateProcessing, cutoff).
		Updates(map[string]interface{}{
			"state":      models.OrderStateProcessing,
			"claimed_at": now,
		})
	if res.Error != nil {
		return false, fmt.Errorf("commerce: claim order %s: %w", orderID, res.Error)
	}
	return res.RowsAffected == 1, nil
}

// MarkProcessed moves a claimed order to processed. It returns false if the
// order was not in processing.
func (s *GormStore) MarkProcessed(ctx context.Context, orderID string) (bool, error) {
	now := time.Now()
	res := s.db.WithContext(ctx).Model(&models.OrderMeta{}).
		Where("order_id = ? AND state = ?", orderID, models.OrderStateProcessing).
		Updates(map[string]interface{}{
			"state":        models.OrderStateProcessed,
			"processed":    true,
			"processed_at": now,
		})
	if res.Error != nil {
		return false, fmt.Errorf("commerce: mark processed %s: %w", orderID, res.Error)
	}
	return res.RowsAffected == 1, nil
}

// AppendSiteRefs appends site references to the order's metadata.
func (s *GormStore) AppendSiteRefs(ctx context.Context, orderID string, refs []models.SiteRef) error {
	if len(refs) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := ensureMeta(tx, orderID); err != nil {
			return err
		}
		var m models.OrderMeta
		if err := tx.Where("order_id = ?", orderID).First(&m).Error; err != nil {
			return fmt.Errorf("commerce: load meta %s: %w", orderID, err)
		}
		existing, err := m.SiteRefs()
		if err != nil {
			return err
		}
		b, err := json.Marshal(append(existing, refs...))
		if err != nil {
			return fmt.Errorf("commerce: encode sites %s: %w", orderID, err)
		}
		if err := tx.Model(&models.OrderMeta{}).Where("order_id = ?", orderID).
			Update("sites", datatypes.JSON(b)).Error; err != nil {
			return fmt.Errorf("commerce: append sites %s: %w", orderID, err)
		}
		return nil
	})
}

// SetUpgradedSite records the site an order upgraded.
func (s *GormStore) SetUpgradedSite(ctx context.Context, orderID, siteID string) error {
	db := s.db.WithContext(ctx)
	if err := ensureMeta(db, orderID); err != nil {
		return err
	}
	if err := db.Model(&models.OrderMeta{}).Where("order_id = ?", orderID).
		Update("upgraded_site_id", siteID).Error; err != nil {
		return fmt.Errorf("commerce: set upgraded site %s: %w", orderID, err)
	}
	return nil
}
