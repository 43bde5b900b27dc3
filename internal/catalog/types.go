// Package catalog reads the inventory snapshot, the contact registry and the
// customer list. It never writes: those tables are filled by the upload side.
package catalog

import (
	"context"
	"errors"
	"strings"
	"time"

	"expirybot/internal/format"
)

var (
	ErrNoUpload = errors.New("catalog: no completed upload")
	ErrNotFound = errors.New("catalog: not found")
)

// Upload is one completed inventory snapshot.
type Upload struct {
	ID        int64
	CreatedAt time.Time
}

// Contact is a registered phone number.
type Contact struct {
	ID    int64
	Phone string
	Name  string
	// Active is the registry's is_active flag; only active contacts receive alerts.
	Active     bool
	CanQueryAI bool
	// Interests is the raw notification_types JSON list, "" when unset.
	Interests string
}

func (c Contact) CanReceiveAlerts() bool { return c.Active }

// Customer is one row of the customer list.
type Customer struct {
	ID           int64
	Code         string
	LegalName    string
	TradeName    string
	Mobile       string
	LastPurchase *time.Time
}

// DisplayName prefers the trade name, then the legal name, then the code.
func (c Customer) DisplayName() string {
	if s := strings.TrimSpace(c.TradeName); s != "" {
		return s
	}
	if s := strings.TrimSpace(c.LegalName); s != "" {
		return s
	}
	return "Cliente " + strings.TrimSpace(c.Code)
}

// Source is the read side used by the selector and the webhook.
type Source interface {
	LatestUpload(ctx context.Context) (Upload, error)
	// ItemsByTier returns the items of one alert tier, expiry ascending with
	// undated items last.
	ItemsByTier(ctx context.Context, uploadID int64, tier format.Tier) ([]format.Item, error)
	ActiveContacts(ctx context.Context) ([]Contact, error)
	// ContactByPhone returns the active contact registered under phone.
	ContactByPhone(ctx context.Context, phone string) (Contact, error)
	// InactiveCustomers returns customers whose last purchase date is before
	// cutoff, oldest first.
	InactiveCustomers(ctx context.Context, cutoff time.Time) ([]Customer, error)
	Close() error
}
