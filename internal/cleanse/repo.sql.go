package cleanse

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-dw/meridian-dw/internal/platform/db"
)

// Repository persists production data in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ErrConstraintViolated wraps a Postgres integrity violation (unique, foreign
// key or check constraint). Callers count these per row instead of aborting.
var ErrConstraintViolated = errors.New("cleanse: constraint violated")

// TxRepository exposes the transactional operations used by the service. The
// whole cleansing stage runs inside one transaction.
type TxRepository interface {
	TruncateCustomers(ctx context.Context) error
	TruncateProducts(ctx context.Context) error
	TruncateTransactions(ctx context.Context) error
	TruncateItems(ctx context.Context) error
	ExistingCustomerIDs(ctx context.Context) (map[string]bool, error)
	ExistingProductIDs(ctx context.Context) (map[string]bool, error)
	ExistingTransactionIDs(ctx context.Context) (map[string]bool, error)
	ExistingItemIDs(ctx context.Context) (map[string]bool, error)
	InsertCustomer(ctx context.Context, c Customer) error
	InsertProduct(ctx context.Context, p Product) error
	InsertTransaction(ctx context.Context, t Transaction) error
	InsertItem(ctx context.Context, it Item) error
}

type txRepository struct {
	tx pgx.Tx
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("cleanse repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

func (r *txRepository) TruncateCustomers(ctx context.Context) error {
	// Items and transactions reference customers, so a full reload clears
	// the transactional tables too. Incremental policies for transactions
	// repopulate them from staging on the same run.
	_, err := r.tx.Exec(ctx, `TRUNCATE production_transaction_items, production_transactions, production_customers`)
	return err
}

func (r *txRepository) TruncateProducts(ctx context.Context) error {
	_, err := r.tx.Exec(ctx, `TRUNCATE production_transaction_items, production_products`)
	return err
}

func (r *txRepository) TruncateTransactions(ctx context.Context) error {
	_, err := r.tx.Exec(ctx, `TRUNCATE production_transaction_items, production_transactions`)
	return err
}

func (r *txRepository) TruncateItems(ctx context.Context) error {
	_, err := r.tx.Exec(ctx, `TRUNCATE production_transaction_items`)
	return err
}

func (r *txRepository) ExistingCustomerIDs(ctx context.Context) (map[string]bool, error) {
	return r.keySet(ctx, `SELECT customer_id FROM production_customers`)
}

func (r *txRepository) ExistingProductIDs(ctx context.Context) (map[string]bool, error) {
	return r.keySet(ctx, `SELECT product_id FROM production_products`)
}

func (r *txRepository) ExistingTransactionIDs(ctx context.Context) (map[string]bool, error) {
	return r.keySet(ctx, `SELECT transaction_id FROM production_transactions`)
}

func (r *txRepository) ExistingItemIDs(ctx context.Context) (map[string]bool, error) {
	return r.keySet(ctx, `SELECT item_id FROM production_transaction_items`)
}

func (r *txRepository) InsertCustomer(ctx context.Context, c Customer) error {
	return r.execRow(ctx, `INSERT INTO production_customers (customer_id, first_name, last_name, email, phone, registration_date, city, state, country, age_group, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,NOW(),NOW())`,
		c.CustomerID, c.FirstName, c.LastName, c.Email, nullStr(c.Phone), nullDate(c.RegistrationDate), nullStr(c.City), nullStr(c.State), nullStr(c.Country), nullStr(c.AgeGroup))
}

func (r *txRepository) InsertProduct(ctx context.Context, p Product) error {
	return r.execRow(ctx, `INSERT INTO production_products (product_id, product_name, category, sub_category, price, cost, brand, stock_quantity, supplier_id, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,NOW(),NOW())`,
		p.ProductID, p.ProductName, nullStr(p.Category), nullStr(p.SubCategory), p.Price, p.Cost, nullStr(p.Brand), p.StockQuantity, nullStr(p.SupplierID))
}

func (r *txRepository) InsertTransaction(ctx context.Context, t Transaction) error {
	return r.execRow(ctx, `INSERT INTO production_transactions (transaction_id, customer_id, transaction_date, transaction_time, payment_method, shipping_address, total_amount, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,NOW(),NOW())`,
		t.TransactionID, t.CustomerID, t.TransactionDate, nullStr(t.TransactionTime), t.PaymentMethod, nullStr(t.ShippingAddress), nullFloat(t.TotalAmount))
}

func (r *txRepository) InsertItem(ctx context.Context, it Item) error {
	return r.execRow(ctx, `INSERT INTO production_transaction_items (item_id, transaction_id, product_id, quantity, unit_price, discount_percentage, line_total, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,NOW(),NOW())`,
		it.ItemID, it.TransactionID, it.ProductID, it.Quantity, it.UnitPrice, it.DiscountPercentage, it.LineTotal)
}

// execRow runs one insert under a savepoint so a constraint violation can be
// counted without poisoning the stage transaction.
func (r *txRepository) execRow(ctx context.Context, sql string, args ...any) error {
	if _, err := r.tx.Exec(ctx, "SAVEPOINT row_insert"); err != nil {
		return err
	}
	if _, err := r.tx.Exec(ctx, sql, args...); err != nil {
		if _, rbErr := r.tx.Exec(ctx, "ROLLBACK TO SAVEPOINT row_insert"); rbErr != nil {
			return rbErr
		}
		return wrapConstraint(err)
	}
	_, err := r.tx.Exec(ctx, "RELEASE SAVEPOINT row_insert")
	return err
}

func (r *txRepository) keySet(ctx context.Context, query string) (map[string]bool, error) {
	rows, err := r.tx.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	keys := map[string]bool{}
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		keys[key] = true
	}
	return keys, rows.Err()
}

// wrapConstraint translates integrity violations (SQLSTATE class 23) into
// ErrConstraintViolated so the service can count instead of abort.
func wrapConstraint(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && len(pgErr.Code) == 5 && pgErr.Code[:2] == "23" {
		return errors.Join(ErrConstraintViolated, err)
	}
	return err
}

func nullStr(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullDate(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

func nullFloat(value float64) any {
	if value == 0 {
		return nil
	}
	return value
}
