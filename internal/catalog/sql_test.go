package catalog

import (
	"context"
	"database/sql"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"expirybot/internal/format"
	logx "expirybot/pkg/logx"
)

const schema = `
CREATE TABLE uploads (id INTEGER PRIMARY KEY, status TEXT, created_at TEXT);
CREATE TABLE products (
	id INTEGER PRIMARY KEY, filial TEXT, codigo INTEGER, descricao TEXT, embalagem TEXT,
	quantidade REAL, validade DATE, preco_com_st REAL, custo_medio REAL, classe TEXT, upload_id INTEGER
);
CREATE TABLE phone_numbers (
	id INTEGER PRIMARY KEY, number TEXT UNIQUE, name TEXT, is_active BOOLEAN,
	can_query_ai BOOLEAN, notification_types TEXT
);
CREATE TABLE clients (
	id INTEGER PRIMARY KEY, codigo TEXT, razao_social TEXT, fantasia TEXT, celular TEXT,
	dt_ult_compra DATE, upload_id INTEGER
);`

func seededReader(t *testing.T) *Reader {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec(schema)
	require.NoError(t, err)

	exec := func(q string, args ...any) {
		t.Helper()
		_, err := db.Exec(q, args...)
		require.NoError(t, err)
	}
	exec(`INSERT INTO uploads VALUES (1, 'completed', '2026-05-01 10:00:00'), (2, 'completed', '2026-05-02 10:00:00'), (3, 'processing', '2026-05-03 10:00:00')`)

	ins := `INSERT INTO products (id, codigo, descricao, embalagem, quantidade, validade, preco_com_st, custo_medio, filial, classe, upload_id) VALUES (?,?,?,?,?,?,?,?,?,?,?)`
	exec(ins, 1, 100, "Dipirona", "CX", 12, "2026-07-10", 9.5, 7.25, "01", "MUITO CRÍTICO", 2)
	exec(ins, 2, 101, "Amoxicilina", "FR", 3, nil, 21.0, 18.0, "01", "MUITO CRITICO", 2)
	exec(ins, 3, 102, "Losartana", "CX", 5, "2026-06-20", 4.0, 3.0, "01", "MUITO CRITICO", 2)
	exec(ins, 4, 103, "Omeprazol", "CX", 1, "2026-06-01", 2.0, 1.5, "01", "CRITICO", 2)
	exec(ins, 5, 104, "Ibuprofeno", "CX", 1, "2026-06-01", 2.0, 1.5, "01", "ATENÇÃO", 2)
	exec(ins, 6, 105, "Vencido", "CX", 1, "2026-01-01", 2.0, 1.5, "01", "VENCIDO", 2)
	exec(ins, 7, 106, "Antigo", "CX", 1, "2026-06-01", 2.0, 1.5, "01", "MUITO CRITICO", 1)
	exec(ins, 8, 107, "Fora de faixa", "CX", 1, "2026-06-01", 2.0, 1.5, "01", "MUITO ALTO", 2)

	exec(`INSERT INTO phone_numbers VALUES (1, '5566999990001', ?, 1, 1, '["CRÍTICO"]'), (2, '5566999990002', NULL, 0, 1, NULL), (3, '5566999990003', NULL, 1, 0, NULL)`, gofakeit.Name())

	cl := `INSERT INTO clients (id, codigo, razao_social, fantasia, celular, dt_ult_compra) VALUES (?,?,?,?,?,?)`
	exec(cl, 1, "C1", gofakeit.Company(), "Farmacia Boa", "66999990001", "2026-03-01")
	exec(cl, 2, "C2", gofakeit.Company(), "", "66999990002", "2026-01-15")
	exec(cl, 3, "C3", gofakeit.Company(), "", "66999990003", "2026-05-30")
	exec(cl, 4, "C4", gofakeit.Company(), "", nil, "2026-01-01")
	exec(cl, 5, "C5", gofakeit.Company(), "", "66999990005", nil)

	return NewReader(db, false, logx.Nop())
}

func TestReaderLatestUpload(t *testing.T) {
	t.Parallel()

	r := seededReader(t)
	u, err := r.LatestUpload(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), u.ID)
}

func TestReaderItemsByTier(t *testing.T) {
	t.Parallel()

	r := seededReader(t)
	ctx := context.Background()

	very, err := r.ItemsByTier(ctx, 2, format.TierVeryCritical)
	require.NoError(t, err)
	ids := make([]int64, 0, len(very))
	for _, it := range very {
		ids = append(ids, it.ID)
	}
	// dated ascending, undated last
	assert.Equal(t, []int64{3, 1, 2}, ids)
	assert.Equal(t, "102", very[0].Code)
	require.NotNil(t, very[0].Expiry)
	assert.Equal(t, "20/06/2026", format.Date(very[0].Expiry))
	assert.Nil(t, very[2].Expiry)
	assert.Equal(t, "4.00", format.Money(very[0].UnitPrice))

	crit, err := r.ItemsByTier(ctx, 2, format.TierCritical)
	require.NoError(t, err)
	require.Len(t, crit, 1)
	assert.Equal(t, int64(4), crit[0].ID)

	att, err := r.ItemsByTier(ctx, 2, format.TierAttention)
	require.NoError(t, err)
	require.Len(t, att, 1)
	assert.Equal(t, int64(5), att[0].ID)

	_, err = r.ItemsByTier(ctx, 2, format.TierExpired)
	assert.Error(t, err)
}

func TestReaderFiltersAreNarrowerThanClassify(t *testing.T) {
	t.Parallel()

	r := seededReader(t)
	ctx := context.Background()

	// A MUITO label without CR renders as very critical but is never selected.
	assert.Equal(t, format.TierVeryCritical, format.Classify("MUITO ALTO"))
	for _, tier := range format.AlertTiers {
		items, err := r.ItemsByTier(ctx, 2, tier)
		require.NoError(t, err)
		for _, it := range items {
			assert.NotEqual(t, int64(8), it.ID, "tier %s", tier)
			assert.Equal(t, tier, format.Classify(it.Class), "item %d", it.ID)
		}
	}
}

func TestReaderContacts(t *testing.T) {
	t.Parallel()

	r := seededReader(t)
	ctx := context.Background()

	active, err := r.ActiveContacts(ctx)
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, `["CRÍTICO"]`, active[0].Interests)
	assert.True(t, active[0].CanQueryAI)
	assert.False(t, active[1].CanQueryAI)

	c, err := r.ContactByPhone(ctx, "5566999990001")
	require.NoError(t, err)
	assert.Equal(t, int64(1), c.ID)

	_, err = r.ContactByPhone(ctx, "5566999990002")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestReaderInactiveCustomers(t *testing.T) {
	t.Parallel()

	r := seededReader(t)
	cutoff := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	got, err := r.InactiveCustomers(context.Background(), cutoff)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, int64(2), got[0].ID)
	assert.Equal(t, int64(1), got[1].ID)
	assert.Equal(t, "Farmacia Boa", got[1].DisplayName())
	assert.Equal(t, got[0].LegalName, got[0].DisplayName())
}

func TestCustomerDisplayName(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "Cliente 77", Customer{Code: "77"}.DisplayName())
	assert.Equal(t, "ACME", Customer{LegalName: " ACME ", Code: "77"}.DisplayName())
}

func TestPostgresQueries(t *testing.T) {
	t.Parallel()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	r := NewReader(db, true, logx.Nop())
	ctx := context.Background()

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id, created_at FROM uploads WHERE status = $1`)).
		WithArgs("completed").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}))
	_, err = r.LatestUpload(ctx)
	assert.ErrorIs(t, err, ErrNoUpload)

	exp := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta(`FROM products WHERE upload_id = $1 AND UPPER(classe) LIKE '%MUITO CR%'`)).
		WithArgs(int64(9)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "codigo", "descricao", "embalagem", "quantidade", "validade", "preco_com_st", "custo_medio", "filial", "classe"}).
			AddRow(int64(1), int64(55), "Soro", nil, "10", exp, "1234.5", nil, "02", "MUITO CRÍTICO"))
	items, err := r.ItemsByTier(ctx, 9, format.TierVeryCritical)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "55", items[0].Code)
	assert.Equal(t, "1,234.50", format.Money(items[0].UnitPrice))
	assert.False(t, items[0].AverageCost.Valid)

	mock.ExpectQuery(regexp.QuoteMeta(`FROM clients`)).
		WithArgs("2026-04-01").
		WillReturnRows(sqlmock.NewRows([]string{"id", "codigo", "razao_social", "fantasia", "celular", "dt_ult_compra"}))
	_, err = r.InactiveCustomers(ctx, time.Date(2026, 4, 1, 15, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	require.NoError(t, mock.ExpectationsWereMet())
}
