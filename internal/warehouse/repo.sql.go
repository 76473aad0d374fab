package warehouse

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-dw/meridian-dw/internal/platform/db"
)

// Repository persists the star schema in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes the transactional operations used by the loader. Each
// load step (dimensions, facts, aggregates) runs inside one transaction.
type TxRepository interface {
	ListCustomerRecords(ctx context.Context) ([]CustomerRecord, error)
	ListProductRecords(ctx context.Context) ([]ProductRecord, error)
	ListSaleRecords(ctx context.Context) ([]SaleRecord, error)
	ProductionDateRange(ctx context.Context) (time.Time, time.Time, bool, error)
	ListDistinctPaymentMethods(ctx context.Context) ([]string, error)

	ListDimCustomers(ctx context.Context) ([]DimCustomer, error)
	ListDimProducts(ctx context.Context) ([]DimProduct, error)
	ListPaymentMethods(ctx context.Context) ([]DimPaymentMethod, error)
	ExistingDateKeys(ctx context.Context) (map[int]bool, error)

	InsertDimCustomer(ctx context.Context, d DimCustomer) error
	CloseDimCustomer(ctx context.Context, key int64, endDate time.Time) error
	InsertDimProduct(ctx context.Context, d DimProduct) error
	CloseDimProduct(ctx context.Context, key int64, endDate time.Time) error
	InsertDimDate(ctx context.Context, d DimDate) error
	UpsertPaymentMethod(ctx context.Context, pm DimPaymentMethod) error

	ExistingFactItemIDs(ctx context.Context) (map[string]bool, error)
	InsertFact(ctx context.Context, f FactSale) error
	ListFacts(ctx context.Context) ([]FactSale, error)

	TruncateAggregates(ctx context.Context) error
	InsertAggDailySales(ctx context.Context, a AggDailySales) error
	InsertAggProductPerformance(ctx context.Context, a AggProductPerformance) error
	InsertAggCustomerMetrics(ctx context.Context, a AggCustomerMetrics) error
}

type txRepository struct {
	tx pgx.Tx
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("warehouse repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

func (r *txRepository) ListCustomerRecords(ctx context.Context) ([]CustomerRecord, error) {
	rows, err := r.tx.Query(ctx, `
		SELECT customer_id, first_name, last_name, email, city, state, country, age_group, registration_date
		FROM production_customers
		ORDER BY customer_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CustomerRecord
	for rows.Next() {
		var c CustomerRecord
		var city, state, country, ageGroup *string
		var regDate *time.Time
		if err := rows.Scan(&c.CustomerID, &c.FirstName, &c.LastName, &c.Email, &city, &state, &country, &ageGroup, &regDate); err != nil {
			return nil, err
		}
		c.City = deref(city)
		c.State = deref(state)
		c.Country = deref(country)
		c.AgeGroup = deref(ageGroup)
		if regDate != nil {
			c.RegistrationDate = *regDate
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *txRepository) ListProductRecords(ctx context.Context) ([]ProductRecord, error) {
	rows, err := r.tx.Query(ctx, `
		SELECT product_id, product_name, category, sub_category, brand, price, cost
		FROM production_products
		ORDER BY product_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ProductRecord
	for rows.Next() {
		var p ProductRecord
		var category, subCategory, brand *string
		if err := rows.Scan(&p.ProductID, &p.ProductName, &category, &subCategory, &brand, &p.Price, &p.Cost); err != nil {
			return nil, err
		}
		p.Category = deref(category)
		p.SubCategory = deref(subCategory)
		p.Brand = deref(brand)
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *txRepository) ListSaleRecords(ctx context.Context) ([]SaleRecord, error) {
	rows, err := r.tx.Query(ctx, `
		SELECT i.item_id, i.transaction_id, t.customer_id, i.product_id, t.payment_method,
		       t.transaction_date, i.quantity, i.unit_price, i.discount_percentage, i.line_total
		FROM production_transaction_items i
		JOIN production_transactions t ON t.transaction_id = i.transaction_id
		ORDER BY i.item_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SaleRecord
	for rows.Next() {
		var s SaleRecord
		if err := rows.Scan(&s.ItemID, &s.TransactionID, &s.CustomerID, &s.ProductID, &s.PaymentMethod,
			&s.TransactionDate, &s.Quantity, &s.UnitPrice, &s.DiscountPercentage, &s.LineTotal); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *txRepository) ProductionDateRange(ctx context.Context) (time.Time, time.Time, bool, error) {
	var first, last *time.Time
	err := r.tx.QueryRow(ctx,
		`SELECT MIN(transaction_date), MAX(transaction_date) FROM production_transactions`).Scan(&first, &last)
	if err != nil {
		return time.Time{}, time.Time{}, false, err
	}
	if first == nil || last == nil {
		return time.Time{}, time.Time{}, false, nil
	}
	return *first, *last, true, nil
}

func (r *txRepository) ListDistinctPaymentMethods(ctx context.Context) ([]string, error) {
	rows, err := r.tx.Query(ctx,
		`SELECT DISTINCT payment_method FROM production_transactions ORDER BY payment_method`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var m string
		if err := rows.Scan(&m); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *txRepository) ListDimCustomers(ctx context.Context) ([]DimCustomer, error) {
	rows, err := r.tx.Query(ctx, `
		SELECT customer_key, customer_id, full_name, email, city, state, country, age_group,
		       registration_date, effective_date, end_date, is_current
		FROM warehouse_dim_customer
		ORDER BY customer_id, effective_date`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DimCustomer
	for rows.Next() {
		var d DimCustomer
		var city, state, country, ageGroup *string
		var regDate *time.Time
		if err := rows.Scan(&d.Key, &d.CustomerID, &d.FullName, &d.Email, &city, &state, &country, &ageGroup,
			&regDate, &d.EffectiveDate, &d.EndDate, &d.IsCurrent); err != nil {
			return nil, err
		}
		d.City = deref(city)
		d.State = deref(state)
		d.Country = deref(country)
		d.AgeGroup = deref(ageGroup)
		if regDate != nil {
			d.RegistrationDate = *regDate
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (r *txRepository) ListDimProducts(ctx context.Context) ([]DimProduct, error) {
	rows, err := r.tx.Query(ctx, `
		SELECT product_key, product_id, product_name, category, sub_category, brand, price, cost,
		       effective_date, end_date, is_current
		FROM warehouse_dim_product
		ORDER BY product_id, effective_date`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DimProduct
	for rows.Next() {
		var d DimProduct
		var category, subCategory, brand *string
		if err := rows.Scan(&d.Key, &d.ProductID, &d.ProductName, &category, &subCategory, &brand,
			&d.Price, &d.Cost, &d.EffectiveDate, &d.EndDate, &d.IsCurrent); err != nil {
			return nil, err
		}
		d.Category = deref(category)
		d.SubCategory = deref(subCategory)
		d.Brand = deref(brand)
		out = append(out, d)
	}
	return out, rows.Err()
}

func (r *txRepository) ListPaymentMethods(ctx context.Context) ([]DimPaymentMethod, error) {
	rows, err := r.tx.Query(ctx,
		`SELECT payment_method_key, payment_method_name, payment_type FROM warehouse_dim_payment_method`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DimPaymentMethod
	for rows.Next() {
		var pm DimPaymentMethod
		if err := rows.Scan(&pm.Key, &pm.Name, &pm.Type); err != nil {
			return nil, err
		}
		out = append(out, pm)
	}
	return out, rows.Err()
}

func (r *txRepository) ExistingDateKeys(ctx context.Context) (map[int]bool, error) {
	rows, err := r.tx.Query(ctx, `SELECT date_key FROM warehouse_dim_date`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	keys := map[int]bool{}
	for rows.Next() {
		var k int
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys[k] = true
	}
	return keys, rows.Err()
}

func (r *txRepository) InsertDimCustomer(ctx context.Context, d DimCustomer) error {
	_, err := r.tx.Exec(ctx, `
		INSERT INTO warehouse_dim_customer (customer_key, customer_id, full_name, email, city, state,
			country, age_group, registration_date, effective_date, end_date, is_current)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		d.Key, d.CustomerID, d.FullName, d.Email, nullStr(d.City), nullStr(d.State),
		nullStr(d.Country), nullStr(d.AgeGroup), nullDate(d.RegistrationDate), d.EffectiveDate, d.EndDate, d.IsCurrent)
	return err
}

func (r *txRepository) CloseDimCustomer(ctx context.Context, key int64, endDate time.Time) error {
	_, err := r.tx.Exec(ctx,
		`UPDATE warehouse_dim_customer SET end_date = $2, is_current = FALSE WHERE customer_key = $1`,
		key, endDate)
	return err
}

func (r *txRepository) InsertDimProduct(ctx context.Context, d DimProduct) error {
	_, err := r.tx.Exec(ctx, `
		INSERT INTO warehouse_dim_product (product_key, product_id, product_name, category, sub_category,
			brand, price, cost, effective_date, end_date, is_current)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		d.Key, d.ProductID, d.ProductName, nullStr(d.Category), nullStr(d.SubCategory),
		nullStr(d.Brand), d.Price, d.Cost, d.EffectiveDate, d.EndDate, d.IsCurrent)
	return err
}

func (r *txRepository) CloseDimProduct(ctx context.Context, key int64, endDate time.Time) error {
	_, err := r.tx.Exec(ctx,
		`UPDATE warehouse_dim_product SET end_date = $2, is_current = FALSE WHERE product_key = $1`,
		key, endDate)
	return err
}

func (r *txRepository) InsertDimDate(ctx context.Context, d DimDate) error {
	_, err := r.tx.Exec(ctx, `
		INSERT INTO warehouse_dim_date (date_key, full_date, year, quarter, month, day,
			month_name, day_name, week_of_year, is_weekend)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (date_key) DO NOTHING`,
		d.Key, d.Date, d.Year, d.Quarter, d.Month, d.Day, d.MonthName, d.DayName, d.WeekOfYear, d.IsWeekend)
	return err
}

func (r *txRepository) UpsertPaymentMethod(ctx context.Context, pm DimPaymentMethod) error {
	_, err := r.tx.Exec(ctx, `
		INSERT INTO warehouse_dim_payment_method (payment_method_key, payment_method_name, payment_type)
		VALUES ($1, $2, $3)
		ON CONFLICT (payment_method_name) DO UPDATE SET payment_type = EXCLUDED.payment_type`,
		pm.Key, pm.Name, pm.Type)
	return err
}

func (r *txRepository) ExistingFactItemIDs(ctx context.Context) (map[string]bool, error) {
	rows, err := r.tx.Query(ctx, `SELECT item_id FROM warehouse_fact_sales`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := map[string]bool{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids[id] = true
	}
	return ids, rows.Err()
}

func (r *txRepository) InsertFact(ctx context.Context, f FactSale) error {
	_, err := r.tx.Exec(ctx, `
		INSERT INTO warehouse_fact_sales (item_id, transaction_id, date_key, customer_key, product_key,
			payment_method_key, quantity, unit_price, discount_amount, line_total, profit)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		f.ItemID, f.TransactionID, f.DateKey, f.CustomerKey, f.ProductKey,
		f.PaymentMethodKey, f.Quantity, f.UnitPrice, f.DiscountAmount, f.LineTotal, f.Profit)
	return err
}

func (r *txRepository) ListFacts(ctx context.Context) ([]FactSale, error) {
	rows, err := r.tx.Query(ctx, `
		SELECT item_id, transaction_id, date_key, customer_key, product_key, payment_method_key,
		       quantity, unit_price, discount_amount, line_total, profit
		FROM warehouse_fact_sales`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []FactSale
	for rows.Next() {
		var f FactSale
		if err := rows.Scan(&f.ItemID, &f.TransactionID, &f.DateKey, &f.CustomerKey, &f.ProductKey,
			&f.PaymentMethodKey, &f.Quantity, &f.UnitPrice, &f.DiscountAmount, &f.LineTotal, &f.Profit); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (r *txRepository) TruncateAggregates(ctx context.Context) error {
	_, err := r.tx.Exec(ctx,
		`TRUNCATE warehouse_agg_daily_sales, warehouse_agg_product_performance, warehouse_agg_customer_metrics`)
	return err
}

func (r *txRepository) InsertAggDailySales(ctx context.Context, a AggDailySales) error {
	_, err := r.tx.Exec(ctx, `
		INSERT INTO warehouse_agg_daily_sales (date_key, total_orders, total_units, total_revenue, total_profit)
		VALUES ($1, $2, $3, $4, $5)`,
		a.DateKey, a.TotalOrders, a.TotalUnits, a.TotalRevenue, a.TotalProfit)
	return err
}

func (r *txRepository) InsertAggProductPerformance(ctx context.Context, a AggProductPerformance) error {
	_, err := r.tx.Exec(ctx, `
		INSERT INTO warehouse_agg_product_performance (product_key, units_sold, order_count, revenue, profit)
		VALUES ($1, $2, $3, $4, $5)`,
		a.ProductKey, a.UnitsSold, a.OrderCount, a.Revenue, a.Profit)
	return err
}

func (r *txRepository) InsertAggCustomerMetrics(ctx context.Context, a AggCustomerMetrics) error {
	_, err := r.tx.Exec(ctx, `
		INSERT INTO warehouse_agg_customer_metrics (customer_key, order_count, total_units, total_spend, avg_order_value)
		VALUES ($1, $2, $3, $4, $5)`,
		a.CustomerKey, a.OrderCount, a.TotalUnits, a.TotalSpend, a.AvgOrderValue)
	return err
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
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
