package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"expirybot/internal/format"
	"expirybot/internal/sqlutil"
	logx "expirybot/pkg/logx"
)

// Config selects the catalog database.
type Config struct {
	Driver string // postgres | sqlite
	DSN    string
}

// tierFilters are matched on UPPER(classe). They are narrower than
// format.Classify: a label with MUITO but no "MUITO CR" ("MUITO ALTO") is
// selected by no filter, and every row a filter returns classifies to that
// filter's tier.
var tierFilters = map[format.Tier]string{
	format.TierVeryCritical: `UPPER(classe) LIKE '%MUITO CR%'`,
	format.TierCritical:     `(UPPER(classe) LIKE '%CRITICO%' OR UPPER(classe) LIKE '%CRÍTICO%') AND UPPER(classe) NOT LIKE '%MUITO%'`,
	format.TierAttention:    `(UPPER(classe) LIKE '%TEN%' OR UPPER(classe) LIKE '%AMAREL%' OR UPPER(classe) LIKE '%YELLOW%')`,
}

// Reader implements Source over database/sql.
type Reader struct {
	db     *sql.DB
	dollar bool
	log    logx.Logger
}

// Open connects to the catalog database and pings it.
func Open(ctx context.Context, cfg Config, log logx.Logger) (*Reader, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("catalog: dsn is required")
	}
	var (
		name   string
		dollar bool
	)
	switch driver {
	case "postgres", "postgresql", "":
		name, dollar = "postgres", true
	case "sqlite", "sqlite3":
		name = "sqlite"
	default:
		return nil, fmt.Errorf("catalog: unknown driver %q", cfg.Driver)
	}

	db, err := sql.Open(name, dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(4)
	db.SetConnMaxIdleTime(5 * time.Minute)

	pctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("catalog ping: %w", err)
	}
	log.Info("catalog connected", logx.String("driver", name))
	return NewReader(db, dollar, log), nil
}

// NewReader wraps an open handle. dollar selects $n placeholders.
func NewReader(db *sql.DB, dollar bool, log logx.Logger) *Reader {
	return &Reader{db: db, dollar: dollar, log: log}
}

func (r *Reader) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

func (r *Reader) q(s string) string { return sqlutil.Rebind(s, r.dollar) }

func (r *Reader) LatestUpload(ctx context.Context) (Upload, error) {
	var (
		u  Upload
		at sqlutil.NullTime
	)
	err := r.db.QueryRowContext(ctx, r.q(
		`SELECT id, created_at FROM uploads WHERE status = ? ORDER BY created_at DESC LIMIT 1`),
		"completed",
	).Scan(&u.ID, &at)
	if errors.Is(err, sql.ErrNoRows) {
		return Upload{}, ErrNoUpload
	}
	if err != nil {
		return Upload{}, fmt.Errorf("latest upload: %w", err)
	}
	u.CreatedAt = at.Time
	return u, nil
}

func (r *Reader) ItemsByTier(ctx context.Context, uploadID int64, tier format.Tier) ([]format.Item, error) {
	filter, ok := tierFilters[tier]
	if !ok {
		return nil, fmt.Errorf("catalog: tier %s is not selectable", tier)
	}
	rows, err := r.db.QueryContext(ctx, r.q(
		`SELECT id, codigo, descricao, embalagem, quantidade, validade, preco_com_st, custo_medio, filial, classe
		 FROM products WHERE upload_id = ? AND `+filter+`
		 ORDER BY validade ASC NULLS LAST, id ASC`),
		uploadID,
	)
	if err != nil {
		return nil, fmt.Errorf("items %s: %w", tier, err)
	}
	defer rows.Close()

	var out []format.Item
	for rows.Next() {
		var (
			it                          format.Item
			code, desc, pkg, branch, cl sql.NullString
			qty, price, cost            decimal.NullDecimal
			expiry                      sqlutil.NullTime
		)
		if err := rows.Scan(&it.ID, &code, &desc, &pkg, &qty, &expiry, &price, &cost, &branch, &cl); err != nil {
			return nil, fmt.Errorf("items %s: %w", tier, err)
		}
		it.Code = code.String
		it.Description = desc.String
		it.Package = pkg.String
		it.Quantity = qty
		it.Expiry = expiry.Ptr()
		it.UnitPrice = price
		it.AverageCost = cost
		it.Branch = branch.String
		it.Class = cl.String
		out = append(out, it)
	}
	return out, rows.Err()
}

const contactColumns = `id, number, name, is_active, can_query_ai, notification_types`

func scanContact(sc interface{ Scan(...any) error }) (Contact, error) {
	var (
		c                Contact
		name, interests  sql.NullString
		active, canQuery sql.NullBool
	)
	if err := sc.Scan(&c.ID, &c.Phone, &name, &active, &canQuery, &interests); err != nil {
		return Contact{}, err
	}
	c.Name = name.String
	c.Active = active.Bool
	c.CanQueryAI = canQuery.Bool
	c.Interests = interests.String
	return c, nil
}

func (r *Reader) ActiveContacts(ctx context.Context) ([]Contact, error) {
	rows, err := r.db.QueryContext(ctx, r.q(
		`SELECT `+contactColumns+` FROM phone_numbers WHERE is_active = ? ORDER BY id ASC`), true)
	if err != nil {
		return nil, fmt.Errorf("active contacts: %w", err)
	}
	defer rows.Close()

	var out []Contact
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, fmt.Errorf("active contacts: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *Reader) ContactByPhone(ctx context.Context, phone string) (Contact, error) {
	c, err := scanContact(r.db.QueryRowContext(ctx, r.q(
		`SELECT `+contactColumns+` FROM phone_numbers WHERE number = ? AND is_active = ? LIMIT 1`),
		phone, true))
	if errors.Is(err, sql.ErrNoRows) {
		return Contact{}, ErrNotFound
	}
	if err != nil {
		return Contact{}, fmt.Errorf("contact by phone: %w", err)
	}
	return c, nil
}

func (r *Reader) InactiveCustomers(ctx context.Context, cutoff time.Time) ([]Customer, error) {
	rows, err := r.db.QueryContext(ctx, r.q(
		`SELECT id, codigo, razao_social, fantasia, celular, dt_ult_compra
		 FROM clients
		 WHERE dt_ult_compra IS NOT NULL AND dt_ult_compra < ? AND celular IS NOT NULL
		 ORDER BY dt_ult_compra ASC, id ASC`),
		cutoff.Format("2006-01-02"),
	)
	if err != nil {
		return nil, fmt.Errorf("inactive customers: %w", err)
	}
	defer rows.Close()

	var out []Customer
	for rows.Next() {
		var (
			c                          Customer
			code, legal, trade, mobile sql.NullString
			last                       sqlutil.NullTime
		)
		if err := rows.Scan(&c.ID, &code, &legal, &trade, &mobile, &last); err != nil {
			return nil, fmt.Errorf("inactive customers: %w", err)
		}
		c.Code = code.String
		c.LegalName = legal.String
		c.TradeName = trade.String
		c.Mobile = mobile.String
		c.LastPurchase = last.Ptr()
		out = append(out, c)
	}
	return out, rows.Err()
}
