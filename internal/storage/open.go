package storage

import (
	"context"
	"errors"
	"strings"

	logx "expirybot/pkg/logx"
)

// Ledger is the delivery log used by the dispatch engine.
type Ledger interface {
	// WasNotifiedToday reports whether an outbound row with status sent exists
	// for (phone, category) inside day. Pending and failed rows never match.
	WasNotifiedToday(ctx context.Context, phone string, category Category, day Day) (bool, error)
	// Record inserts a row and returns it with its ID.
	Record(ctx context.Context, d Draft) (Record, error)
	// Finalize moves a row to sent or failed in place.
	Finalize(ctx context.Context, id string, status Status, errText string) error
	List(ctx context.Context, q Query) (Page, error)
	Close() error
}

// Open initializes the configured ledger.
func Open(cfg Config, log logx.Logger) (Ledger, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "", "none":
		return nil, ErrDisabled
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "postgres", "postgresql":
		return openPostgres(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}

// Disabled returns a ledger that fails every call with ErrDisabled. Runs
// against it abort each recipient instead of sending unrecorded messages.
func Disabled() Ledger { return disabledLedger{} }

type disabledLedger struct{}

func (disabledLedger) WasNotifiedToday(context.Context, string, Category, Day) (bool, error) {
	return false, ErrDisabled
}
func (disabledLedger) Record(context.Context, Draft) (Record, error) { return Record{}, ErrDisabled }
func (disabledLedger) Finalize(context.Context, string, Status, string) error {
	return ErrDisabled
}
func (disabledLedger) List(context.Context, Query) (Page, error) { return Page{}, ErrDisabled }
func (disabledLedger) Close() error                                { return nil }
