package staging

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists staging data in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Snapshot reads the four staging tables in one repeatable-read transaction
// so the validator and the cleansing engine see the same data.
func (r *Repository) Snapshot(ctx context.Context) (Snapshot, error) {
	if r == nil {
		return Snapshot{}, errors.New("staging repository not initialised")
	}
	var snap Snapshot
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return Snapshot{}, fmt.Errorf("staging: begin snapshot tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if snap.Customers, err = readCustomers(ctx, tx); err != nil {
		return Snapshot{}, err
	}
	if snap.Products, err = readProducts(ctx, tx); err != nil {
		return Snapshot{}, err
	}
	if snap.Transactions, err = readTransactions(ctx, tx); err != nil {
		return Snapshot{}, err
	}
	if snap.Items, err = readItems(ctx, tx); err != nil {
		return Snapshot{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Snapshot{}, fmt.Errorf("staging: commit snapshot tx: %w", err)
	}
	return snap, nil
}

// Replace truncates the staging tables and loads the snapshot. Staging is
// only ever mutated via this full reload.
func (r *Repository) Replace(ctx context.Context, snap Snapshot) error {
	if r == nil {
		return errors.New("staging repository not initialised")
	}
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return fmt.Errorf("staging: begin replace tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	for _, table := range []string{"staging_transaction_items", "staging_transactions", "staging_customers", "staging_products"} {
		if _, err := tx.Exec(ctx, "TRUNCATE "+table); err != nil {
			return fmt.Errorf("staging: truncate %s: %w", table, err)
		}
	}

	loadedAt := time.Now().UTC()
	for _, c := range snap.Customers {
		if _, err := tx.Exec(ctx, `INSERT INTO staging_customers (customer_id, first_name, last_name, email, phone, registration_date, city, state, country, age_group, loaded_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
			c.CustomerID, c.FirstName, c.LastName, c.Email, c.Phone, c.RegistrationDate, c.City, c.State, c.Country, c.AgeGroup, loadedAt); err != nil {
			return fmt.Errorf("staging: insert customer: %w", err)
		}
	}
	for _, p := range snap.Products {
		if _, err := tx.Exec(ctx, `INSERT INTO staging_products (product_id, product_name, category, sub_category, price, cost, brand, stock_quantity, supplier_id, loaded_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
			p.ProductID, p.ProductName, p.Category, p.SubCategory, p.Price, p.Cost, p.Brand, p.StockQuantity, p.SupplierID, loadedAt); err != nil {
			return fmt.Errorf("staging: insert product: %w", err)
		}
	}
	for _, t := range snap.Transactions {
		if _, err := tx.Exec(ctx, `INSERT INTO staging_transactions (transaction_id, customer_id, transaction_date, transaction_time, payment_method, shipping_address, total_amount, loaded_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
			t.TransactionID, t.CustomerID, t.TransactionDate, t.TransactionTime, t.PaymentMethod, t.ShippingAddress, t.TotalAmount, loadedAt); err != nil {
			return fmt.Errorf("staging: insert transaction: %w", err)
		}
	}
	for _, it := range snap.Items {
		if _, err := tx.Exec(ctx, `INSERT INTO staging_transaction_items (item_id, transaction_id, product_id, quantity, unit_price, discount_percentage, line_total, loaded_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
			it.ItemID, it.TransactionID, it.ProductID, it.Quantity, it.UnitPrice, it.DiscountPercentage, it.LineTotal, loadedAt); err != nil {
			return fmt.Errorf("staging: insert transaction item: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("staging: commit replace tx: %w", err)
	}
	return nil
}

func readCustomers(ctx context.Context, tx pgx.Tx) ([]Customer, error) {
	rows, err := tx.Query(ctx, `SELECT customer_id, first_name, last_name, email, phone, registration_date, city, state, country, age_group, loaded_at
FROM staging_customers`)
	if err != nil {
		return nil, fmt.Errorf("staging: read customers: %w", err)
	}
	defer rows.Close()
	customers := []Customer{}
	for rows.Next() {
		var c Customer
		if err := rows.Scan(&c.CustomerID, &c.FirstName, &c.LastName, &c.Email, &c.Phone, &c.RegistrationDate, &c.City, &c.State, &c.Country, &c.AgeGroup, &c.LoadedAt); err != nil {
			return nil, err
		}
		customers = append(customers, c)
	}
	return customers, rows.Err()
}

func readProducts(ctx context.Context, tx pgx.Tx) ([]Product, error) {
	rows, err := tx.Query(ctx, `SELECT product_id, product_name, category, sub_category, price, cost, brand, stock_quantity, supplier_id, loaded_at
FROM staging_products`)
	if err != nil {
		return nil, fmt.Errorf("staging: read products: %w", err)
	}
	defer rows.Close()
	products := []Product{}
	for rows.Next() {
		var p Product
		if err := rows.Scan(&p.ProductID, &p.ProductName, &p.Category, &p.SubCategory, &p.Price, &p.Cost, &p.Brand, &p.StockQuantity, &p.SupplierID, &p.LoadedAt); err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

func readTransactions(ctx context.Context, tx pgx.Tx) ([]Transaction, error) {
	rows, err := tx.Query(ctx, `SELECT transaction_id, customer_id, transaction_date, transaction_time, payment_method, shipping_address, total_amount, loaded_at
FROM staging_transactions`)
	if err != nil {
		return nil, fmt.Errorf("staging: read transactions: %w", err)
	}
	defer rows.Close()
	transactions := []Transaction{}
	for rows.Next() {
		var t Transaction
		if err := rows.Scan(&t.TransactionID, &t.CustomerID, &t.TransactionDate, &t.TransactionTime, &t.PaymentMethod, &t.ShippingAddress, &t.TotalAmount, &t.LoadedAt); err != nil {
			return nil, err
		}
		transactions = append(transactions, t)
	}
	return transactions, rows.Err()
}

func readItems(ctx context.Context, tx pgx.Tx) ([]TransactionItem, error) {
	rows, err := tx.Query(ctx, `SELECT item_id, transaction_id, product_id, quantity, unit_price, discount_percentage, line_total, loaded_at
FROM staging_transaction_items`)
	if err != nil {
		return nil, fmt.Errorf("staging: read transaction items: %w", err)
	}
	defer rows.Close()
	items := []TransactionItem{}
	for rows.Next() {
		var it TransactionItem
		if err := rows.Scan(&it.ItemID, &it.TransactionID, &it.ProductID, &it.Quantity, &it.UnitPrice, &it.DiscountPercentage, &it.LineTotal, &it.LoadedAt); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}
