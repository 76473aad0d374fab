package warehouse

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"
)

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// ServiceConfig carries the calendar bounds for the date dimension. The
// generated range is widened to cover the production date span.
type ServiceConfig struct {
	CalendarStart time.Time
	CalendarEnd   time.Time
}

// Service loads the production tier into the star schema.
type Service struct {
	repo   RepositoryPort
	cfg    ServiceConfig
	logger *slog.Logger
}

// NewService builds Service.
func NewService(repo RepositoryPort, cfg ServiceConfig, logger *slog.Logger) *Service {
	return &Service{repo: repo, cfg: cfg, logger: logger}
}

// Run executes the dimensional load in three transactional steps: dimension
// versioning, fact build, aggregate rebuild. A failure in one step leaves the
// previous steps committed; the warehouse is only complete when all three
// succeed.
func (s *Service) Run(ctx context.Context, runDate time.Time) (Result, error) {
	if s == nil || s.repo == nil {
		return Result{}, errors.New("warehouse: service not configured")
	}
	runDate = time.Date(runDate.Year(), runDate.Month(), runDate.Day(), 0, 0, 0, 0, time.UTC)

	var result Result
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return s.loadDimensions(ctx, tx, runDate, &result)
	})
	if err != nil {
		return result, fmt.Errorf("warehouse: dimensions: %w", err)
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return s.loadFacts(ctx, tx, &result)
	})
	if err != nil {
		return result, fmt.Errorf("warehouse: facts: %w", err)
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return s.rebuildAggregates(ctx, tx, &result)
	})
	if err != nil {
		return result, fmt.Errorf("warehouse: aggregates: %w", err)
	}

	if s.logger != nil {
		s.logger.Info("dimensional load complete",
			slog.Any("customers", result.Customers),
			slog.Any("products", result.Products),
			slog.Int("dates_generated", result.DatesGenerated),
			slog.Int("facts_inserted", result.Facts.Inserted),
			slog.Int("facts_rejected", result.Facts.Rejected),
			slog.Int("aggregate_rows", result.AggregateRows))
	}
	return result, nil
}

// RefreshAggregates rebuilds the three aggregate tables from the current
// fact table without touching dimensions or facts. Returns the number of
// aggregate rows written.
func (s *Service) RefreshAggregates(ctx context.Context) (int, error) {
	if s == nil || s.repo == nil {
		return 0, errors.New("warehouse: service not configured")
	}
	var result Result
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return s.rebuildAggregates(ctx, tx, &result)
	})
	if err != nil {
		return 0, fmt.Errorf("warehouse: aggregates: %w", err)
	}
	return result.AggregateRows, nil
}

func (s *Service) loadDimensions(ctx context.Context, tx TxRepository, runDate time.Time, result *Result) error {
	if err := s.versionCustomers(ctx, tx, runDate, result); err != nil {
		return err
	}
	if err := s.versionProducts(ctx, tx, runDate, result); err != nil {
		return err
	}
	if err := s.generateDates(ctx, tx, result); err != nil {
		return err
	}
	return s.upsertPaymentMethods(ctx, tx, result)
}

func (s *Service) versionCustomers(ctx context.Context, tx TxRepository, runDate time.Time, result *Result) error {
	records, err := tx.ListCustomerRecords(ctx)
	if err != nil {
		return err
	}
	dims, err := tx.ListDimCustomers(ctx)
	if err != nil {
		return err
	}

	current := map[string]DimCustomer{}
	var maxKey int64
	for _, d := range dims {
		if d.Key > maxKey {
			maxKey = d.Key
		}
		if d.IsCurrent {
			current[d.CustomerID] = d
		}
	}
	seq := newKeySequence(maxKey)

	for _, rec := range records {
		candidate := DimCustomer{
			CustomerID:       rec.CustomerID,
			FullName:         rec.FirstName + " " + rec.LastName,
			Email:            rec.Email,
			City:             rec.City,
			State:            rec.State,
			Country:          rec.Country,
			AgeGroup:         rec.AgeGroup,
			RegistrationDate: rec.RegistrationDate,
			EffectiveDate:    runDate,
			IsCurrent:        true,
		}
		cur, exists := current[rec.CustomerID]
		switch {
		case !exists:
			candidate.Key = seq.Next()
			if err := tx.InsertDimCustomer(ctx, candidate); err != nil {
				return err
			}
			result.Customers.Inserted++
		case cur.trackedEquals(candidate):
			result.Customers.Unchanged++
		default:
			if err := tx.CloseDimCustomer(ctx, cur.Key, runDate.AddDate(0, 0, -1)); err != nil {
				return err
			}
			candidate.Key = seq.Next()
			if err := tx.InsertDimCustomer(ctx, candidate); err != nil {
				return err
			}
			result.Customers.Revised++
		}
	}
	return nil
}

func (s *Service) versionProducts(ctx context.Context, tx TxRepository, runDate time.Time, result *Result) error {
	records, err := tx.ListProductRecords(ctx)
	if err != nil {
		return err
	}
	dims, err := tx.ListDimProducts(ctx)
	if err != nil {
		return err
	}

	current := map[string]DimProduct{}
	var maxKey int64
	for _, d := range dims {
		if d.Key > maxKey {
			maxKey = d.Key
		}
		if d.IsCurrent {
			current[d.ProductID] = d
		}
	}
	seq := newKeySequence(maxKey)

	for _, rec := range records {
		candidate := DimProduct{
			ProductID:     rec.ProductID,
			ProductName:   rec.ProductName,
			Category:      rec.Category,
			SubCategory:   rec.SubCategory,
			Brand:         rec.Brand,
			Price:         rec.Price,
			Cost:          rec.Cost,
			EffectiveDate: runDate,
			IsCurrent:     true,
		}
		cur, exists := current[rec.ProductID]
		switch {
		case !exists:
			candidate.Key = seq.Next()
			if err := tx.InsertDimProduct(ctx, candidate); err != nil {
				return err
			}
			result.Products.Inserted++
		case cur.trackedEquals(candidate):
			result.Products.Unchanged++
		default:
			if err := tx.CloseDimProduct(ctx, cur.Key, runDate.AddDate(0, 0, -1)); err != nil {
				return err
			}
			candidate.Key = seq.Next()
			if err := tx.InsertDimProduct(ctx, candidate); err != nil {
				return err
			}
			result.Products.Revised++
		}
	}
	return nil
}

func (s *Service) generateDates(ctx context.Context, tx TxRepository, result *Result) error {
	start, end := s.cfg.CalendarStart, s.cfg.CalendarEnd
	first, last, hasRows, err := tx.ProductionDateRange(ctx)
	if err != nil {
		return err
	}
	if hasRows {
		if start.IsZero() || first.Before(start) {
			start = first
		}
		if end.IsZero() || last.After(end) {
			end = last
		}
	}
	if start.IsZero() || end.IsZero() {
		return nil
	}

	existing, err := tx.ExistingDateKeys(ctx)
	if err != nil {
		return err
	}
	for _, day := range calendar(start, end) {
		if existing[day.Key] {
			continue
		}
		if err := tx.InsertDimDate(ctx, day); err != nil {
			return err
		}
		result.DatesGenerated++
	}
	return nil
}

// paymentType classifies a method for the reference dimension. Cash on
// Delivery is the only offline channel.
func paymentType(method string) string {
	if method == "Cash on Delivery" {
		return "Offline"
	}
	return "Online"
}

func (s *Service) upsertPaymentMethods(ctx context.Context, tx TxRepository, result *Result) error {
	methods, err := tx.ListDistinctPaymentMethods(ctx)
	if err != nil {
		return err
	}
	existing, err := tx.ListPaymentMethods(ctx)
	if err != nil {
		return err
	}

	byName := map[string]DimPaymentMethod{}
	var maxKey int64
	for _, pm := range existing {
		byName[pm.Name] = pm
		if pm.Key > maxKey {
			maxKey = pm.Key
		}
	}
	seq := newKeySequence(maxKey)

	for _, name := range methods {
		pm, exists := byName[name]
		if !exists {
			pm = DimPaymentMethod{Key: seq.Next(), Name: name}
		}
		pm.Type = paymentType(name)
		if err := tx.UpsertPaymentMethod(ctx, pm); err != nil {
			return err
		}
		result.PaymentMethods++
	}
	return nil
}

func (s *Service) loadFacts(ctx context.Context, tx TxRepository, result *Result) error {
	sales, err := tx.ListSaleRecords(ctx)
	if err != nil {
		return err
	}
	result.Facts.In = len(sales)

	dimCustomers, err := tx.ListDimCustomers(ctx)
	if err != nil {
		return err
	}
	customerVersions := map[string][]DimCustomer{}
	for _, d := range dimCustomers {
		customerVersions[d.CustomerID] = append(customerVersions[d.CustomerID], d)
	}

	dimProducts, err := tx.ListDimProducts(ctx)
	if err != nil {
		return err
	}
	productVersions := map[string][]DimProduct{}
	for _, d := range dimProducts {
		productVersions[d.ProductID] = append(productVersions[d.ProductID], d)
	}

	dateKeys, err := tx.ExistingDateKeys(ctx)
	if err != nil {
		return err
	}
	payments, err := tx.ListPaymentMethods(ctx)
	if err != nil {
		return err
	}
	paymentKeys := map[string]int64{}
	for _, pm := range payments {
		paymentKeys[pm.Name] = pm.Key
	}

	existing, err := tx.ExistingFactItemIDs(ctx)
	if err != nil {
		return err
	}

	for _, sale := range sales {
		if existing[sale.ItemID] {
			result.Facts.Skipped++
			continue
		}
		customer, ok := versionAsOf(customerVersions[sale.CustomerID], sale.TransactionDate, customerBounds)
		if !ok {
			customer, ok = earliestVersion(customerVersions[sale.CustomerID], sale.TransactionDate, customerBounds)
		}
		if !ok {
			result.Facts.reject("unresolved customer")
			continue
		}
		product, ok := versionAsOf(productVersions[sale.ProductID], sale.TransactionDate, productBounds)
		if !ok {
			product, ok = earliestVersion(productVersions[sale.ProductID], sale.TransactionDate, productBounds)
		}
		if !ok {
			result.Facts.reject("unresolved product")
			continue
		}
		dk := dateKey(sale.TransactionDate)
		if !dateKeys[dk] {
			result.Facts.reject("date outside calendar")
			continue
		}
		pmKey, ok := paymentKeys[sale.PaymentMethod]
		if !ok {
			result.Facts.reject("unknown payment method")
			continue
		}

		fact := FactSale{
			ItemID:           sale.ItemID,
			TransactionID:    sale.TransactionID,
			DateKey:          dk,
			CustomerKey:      customer.Key,
			ProductKey:       product.Key,
			PaymentMethodKey: pmKey,
			Quantity:         sale.Quantity,
			UnitPrice:        sale.UnitPrice,
			DiscountAmount:   round2(sale.UnitPrice * float64(sale.Quantity) * sale.DiscountPercentage / 100),
			LineTotal:        sale.LineTotal,
			Profit:           round2(sale.LineTotal - product.Cost*float64(sale.Quantity)),
		}
		if err := tx.InsertFact(ctx, fact); err != nil {
			return err
		}
		existing[sale.ItemID] = true
		result.Facts.Inserted++
	}
	return nil
}

func (s *Service) rebuildAggregates(ctx context.Context, tx TxRepository, result *Result) error {
	facts, err := tx.ListFacts(ctx)
	if err != nil {
		return err
	}
	if err := tx.TruncateAggregates(ctx); err != nil {
		return err
	}

	daily := map[int]*AggDailySales{}
	dailyOrders := map[int]map[string]bool{}
	products := map[int64]*AggProductPerformance{}
	productOrders := map[int64]map[string]bool{}
	customers := map[int64]*AggCustomerMetrics{}
	customerOrders := map[int64]map[string]bool{}

	for _, f := range facts {
		d := daily[f.DateKey]
		if d == nil {
			d = &AggDailySales{DateKey: f.DateKey}
			daily[f.DateKey] = d
			dailyOrders[f.DateKey] = map[string]bool{}
		}
		d.TotalUnits += f.Quantity
		d.TotalRevenue += f.LineTotal
		d.TotalProfit += f.Profit
		dailyOrders[f.DateKey][f.TransactionID] = true

		p := products[f.ProductKey]
		if p == nil {
			p = &AggProductPerformance{ProductKey: f.ProductKey}
			products[f.ProductKey] = p
			productOrders[f.ProductKey] = map[string]bool{}
		}
		p.UnitsSold += f.Quantity
		p.Revenue += f.LineTotal
		p.Profit += f.Profit
		productOrders[f.ProductKey][f.TransactionID] = true

		c := customers[f.CustomerKey]
		if c == nil {
			c = &AggCustomerMetrics{CustomerKey: f.CustomerKey}
			customers[f.CustomerKey] = c
			customerOrders[f.CustomerKey] = map[string]bool{}
		}
		c.TotalUnits += f.Quantity
		c.TotalSpend += f.LineTotal
		customerOrders[f.CustomerKey][f.TransactionID] = true
	}

	dateKeys := make([]int, 0, len(daily))
	for k := range daily {
		dateKeys = append(dateKeys, k)
	}
	sort.Ints(dateKeys)
	for _, k := range dateKeys {
		a := daily[k]
		a.TotalOrders = len(dailyOrders[k])
		a.TotalRevenue = round2(a.TotalRevenue)
		a.TotalProfit = round2(a.TotalProfit)
		if err := tx.InsertAggDailySales(ctx, *a); err != nil {
			return err
		}
		result.AggregateRows++
	}

	productKeys := make([]int64, 0, len(products))
	for k := range products {
		productKeys = append(productKeys, k)
	}
	sort.Slice(productKeys, func(i, j int) bool { return productKeys[i] < productKeys[j] })
	for _, k := range productKeys {
		a := products[k]
		a.OrderCount = len(productOrders[k])
		a.Revenue = round2(a.Revenue)
		a.Profit = round2(a.Profit)
		if err := tx.InsertAggProductPerformance(ctx, *a); err != nil {
			return err
		}
		result.AggregateRows++
	}

	customerKeys := make([]int64, 0, len(customers))
	for k := range customers {
		customerKeys = append(customerKeys, k)
	}
	sort.Slice(customerKeys, func(i, j int) bool { return customerKeys[i] < customerKeys[j] })
	for _, k := range customerKeys {
		a := customers[k]
		a.OrderCount = len(customerOrders[k])
		a.TotalSpend = round2(a.TotalSpend)
		if a.OrderCount > 0 {
			a.AvgOrderValue = round2(a.TotalSpend / float64(a.OrderCount))
		}
		if err := tx.InsertAggCustomerMetrics(ctx, *a); err != nil {
			return err
		}
		result.AggregateRows++
	}
	return nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
