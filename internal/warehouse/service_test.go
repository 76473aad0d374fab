package warehouse

import (
	"context"
	"log/slog"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// ============================================================================
// MOCK REPOSITORY
// ============================================================================

type mockRepository struct {
	// production side
	customerRecords []CustomerRecord
	productRecords  []ProductRecord
	saleRecords     []SaleRecord

	// warehouse side
	dimCustomers   []DimCustomer
	dimProducts    []DimProduct
	dimDates       map[int]DimDate
	paymentMethods map[string]DimPaymentMethod
	facts          map[string]FactSale

	aggDaily     []AggDailySales
	aggProducts  []AggProductPerformance
	aggCustomers []AggCustomerMetrics
}

func newMockRepository() *mockRepository {
	return &mockRepository{
		dimDates:       map[int]DimDate{},
		paymentMethods: map[string]DimPaymentMethod{},
		facts:          map[string]FactSale{},
	}
}

func (m *mockRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, m)
}

func (m *mockRepository) ListCustomerRecords(context.Context) ([]CustomerRecord, error) {
	return m.customerRecords, nil
}

func (m *mockRepository) ListProductRecords(context.Context) ([]ProductRecord, error) {
	return m.productRecords, nil
}

func (m *mockRepository) ListSaleRecords(context.Context) ([]SaleRecord, error) {
	return m.saleRecords, nil
}

func (m *mockRepository) ProductionDateRange(context.Context) (time.Time, time.Time, bool, error) {
	if len(m.saleRecords) == 0 {
		return time.Time{}, time.Time{}, false, nil
	}
	first, last := m.saleRecords[0].TransactionDate, m.saleRecords[0].TransactionDate
	for _, s := range m.saleRecords[1:] {
		if s.TransactionDate.Before(first) {
			first = s.TransactionDate
		}
		if s.TransactionDate.After(last) {
			last = s.TransactionDate
		}
	}
	return first, last, true, nil
}

func (m *mockRepository) ListDistinctPaymentMethods(context.Context) ([]string, error) {
	seen := map[string]bool{}
	var out []string
	for _, s := range m.saleRecords {
		if !seen[s.PaymentMethod] {
			seen[s.PaymentMethod] = true
			out = append(out, s.PaymentMethod)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (m *mockRepository) ListDimCustomers(context.Context) ([]DimCustomer, error) {
	return append([]DimCustomer(nil), m.dimCustomers...), nil
}

func (m *mockRepository) ListDimProducts(context.Context) ([]DimProduct, error) {
	return append([]DimProduct(nil), m.dimProducts...), nil
}

func (m *mockRepository) ListPaymentMethods(context.Context) ([]DimPaymentMethod, error) {
	var out []DimPaymentMethod
	for _, pm := range m.paymentMethods {
		out = append(out, pm)
	}
	return out, nil
}

func (m *mockRepository) ExistingDateKeys(context.Context) (map[int]bool, error) {
	keys := map[int]bool{}
	for k := range m.dimDates {
		keys[k] = true
	}
	return keys, nil
}

func (m *mockRepository) InsertDimCustomer(_ context.Context, d DimCustomer) error {
	m.dimCustomers = append(m.dimCustomers, d)
	return nil
}

func (m *mockRepository) CloseDimCustomer(_ context.Context, key int64, endDate time.Time) error {
	for i := range m.dimCustomers {
		if m.dimCustomers[i].Key == key {
			end := endDate
			m.dimCustomers[i].EndDate = &end
			m.dimCustomers[i].IsCurrent = false
		}
	}
	return nil
}

func (m *mockRepository) InsertDimProduct(_ context.Context, d DimProduct) error {
	m.dimProducts = append(m.dimProducts, d)
	return nil
}

func (m *mockRepository) CloseDimProduct(_ context.Context, key int64, endDate time.Time) error {
	for i := range m.dimProducts {
		if m.dimProducts[i].Key == key {
			end := endDate
			m.dimProducts[i].EndDate = &end
			m.dimProducts[i].IsCurrent = false
		}
	}
	return nil
}

func (m *mockRepository) InsertDimDate(_ context.Context, d DimDate) error {
	if _, ok := m.dimDates[d.Key]; !ok {
		m.dimDates[d.Key] = d
	}
	return nil
}

func (m *mockRepository) UpsertPaymentMethod(_ context.Context, pm DimPaymentMethod) error {
	if existing, ok := m.paymentMethods[pm.Name]; ok {
		existing.Type = pm.Type
		m.paymentMethods[pm.Name] = existing
		return nil
	}
	m.paymentMethods[pm.Name] = pm
	return nil
}

func (m *mockRepository) ExistingFactItemIDs(context.Context) (map[string]bool, error) {
	ids := map[string]bool{}
	for id := range m.facts {
		ids[id] = true
	}
	return ids, nil
}

func (m *mockRepository) InsertFact(_ context.Context, f FactSale) error {
	m.facts[f.ItemID] = f
	return nil
}

func (m *mockRepository) ListFacts(context.Context) ([]FactSale, error) {
	var out []FactSale
	for _, f := range m.facts {
		out = append(out, f)
	}
	return out, nil
}

func (m *mockRepository) TruncateAggregates(context.Context) error {
	m.aggDaily = nil
	m.aggProducts = nil
	m.aggCustomers = nil
	return nil
}

func (m *mockRepository) InsertAggDailySales(_ context.Context, a AggDailySales) error {
	m.aggDaily = append(m.aggDaily, a)
	return nil
}

func (m *mockRepository) InsertAggProductPerformance(_ context.Context, a AggProductPerformance) error {
	m.aggProducts = append(m.aggProducts, a)
	return nil
}

func (m *mockRepository) InsertAggCustomerMetrics(_ context.Context, a AggCustomerMetrics) error {
	m.aggCustomers = append(m.aggCustomers, a)
	return nil
}

// ============================================================================
// FIXTURES
// ============================================================================

var (
	day1 = time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC)
	day2 = time.Date(2025, 6, 11, 0, 0, 0, 0, time.UTC)
	day3 = time.Date(2025, 6, 12, 0, 0, 0, 0, time.UTC)
)

func seedProduction(repo *mockRepository) {
	repo.customerRecords = []CustomerRecord{{
		CustomerID: "CUST-1",
		FirstName:  "Jane",
		LastName:   "Doe",
		Email:      "jane.doe@example.com",
		City:       "Austin",
		State:      "Texas",
		Country:    "Usa",
		AgeGroup:   "26-35",
	}}
	repo.productRecords = []ProductRecord{{
		ProductID:   "PROD-1",
		ProductName: "Wireless Mouse",
		Category:    "Electronics",
		Brand:       "Logi",
		Price:       29.99,
		Cost:        12.50,
	}}
	repo.saleRecords = []SaleRecord{{
		ItemID:             "ITEM-1",
		TransactionID:      "TXN-1",
		CustomerID:         "CUST-1",
		ProductID:          "PROD-1",
		PaymentMethod:      "Credit Card",
		TransactionDate:    day1,
		Quantity:           2,
		UnitPrice:          29.99,
		DiscountPercentage: 10,
		LineTotal:          53.98,
	}}
}

func newTestService(repo RepositoryPort) *Service {
	return NewService(repo, ServiceConfig{CalendarStart: day1, CalendarEnd: day3}, slog.New(slog.DiscardHandler))
}

func currentCustomers(repo *mockRepository, customerID string) []DimCustomer {
	var out []DimCustomer
	for _, d := range repo.dimCustomers {
		if d.CustomerID == customerID && d.IsCurrent {
			out = append(out, d)
		}
	}
	return out
}

// ============================================================================
// TESTS
// ============================================================================

func TestRunInitialLoad(t *testing.T) {
	repo := newMockRepository()
	seedProduction(repo)
	svc := newTestService(repo)

	result, err := svc.Run(context.Background(), day1)
	require.NoError(t, err)

	require.Equal(t, 1, result.Customers.Inserted)
	require.Equal(t, 1, result.Products.Inserted)
	require.Equal(t, 3, result.DatesGenerated)
	require.Equal(t, 1, result.PaymentMethods)
	require.Equal(t, 1, result.Facts.Inserted)
	require.Zero(t, result.Facts.Rejected)

	fact := repo.facts["ITEM-1"]
	require.Equal(t, 20250610, fact.DateKey)
	require.Equal(t, repo.dimCustomers[0].Key, fact.CustomerKey)
	require.Equal(t, repo.dimProducts[0].Key, fact.ProductKey)
	// profit = 53.98 - 12.50*2
	require.Equal(t, 28.98, fact.Profit)
	// discount_amount = 29.99*2*10%
	require.Equal(t, 6.0, fact.DiscountAmount)

	require.Equal(t, "Online", repo.paymentMethods["Credit Card"].Type)
}

func TestPaymentTypeClassification(t *testing.T) {
	require.Equal(t, "Offline", paymentType("Cash on Delivery"))
	require.Equal(t, "Online", paymentType("UPI"))
	require.Equal(t, "Online", paymentType("Credit Card"))
}

func TestCustomerChangeOpensNewVersion(t *testing.T) {
	repo := newMockRepository()
	seedProduction(repo)
	svc := newTestService(repo)

	_, err := svc.Run(context.Background(), day1)
	require.NoError(t, err)

	repo.customerRecords[0].City = "Dallas"
	result, err := svc.Run(context.Background(), day2)
	require.NoError(t, err)
	require.Equal(t, 1, result.Customers.Revised)

	require.Len(t, repo.dimCustomers, 2)
	current := currentCustomers(repo, "CUST-1")
	require.Len(t, current, 1)
	require.Equal(t, "Dallas", current[0].City)
	require.Equal(t, day2, current[0].EffectiveDate)

	var closed DimCustomer
	for _, d := range repo.dimCustomers {
		if !d.IsCurrent {
			closed = d
		}
	}
	require.Equal(t, "Austin", closed.City)
	require.NotNil(t, closed.EndDate)
	require.Equal(t, day1, *closed.EndDate)
	require.NotEqual(t, closed.Key, current[0].Key)
}

func TestUnchangedCustomerIsNoop(t *testing.T) {
	repo := newMockRepository()
	seedProduction(repo)
	svc := newTestService(repo)

	_, err := svc.Run(context.Background(), day1)
	require.NoError(t, err)
	result, err := svc.Run(context.Background(), day2)
	require.NoError(t, err)

	require.Equal(t, 1, result.Customers.Unchanged)
	require.Zero(t, result.Customers.Revised)
	require.Len(t, repo.dimCustomers, 1)
}

func TestFactResolvesVersionAsOfSaleDate(t *testing.T) {
	repo := newMockRepository()
	seedProduction(repo)
	svc := newTestService(repo)

	_, err := svc.Run(context.Background(), day1)
	require.NoError(t, err)
	austinKey := repo.dimCustomers[0].Key

	// Price change on day3 opens a new product version; the customer moves
	// too. A sale dated day2 must attribute to the versions in effect then.
	repo.customerRecords[0].City = "Dallas"
	repo.productRecords[0].Price = 34.99
	repo.saleRecords = append(repo.saleRecords, SaleRecord{
		ItemID:             "ITEM-2",
		TransactionID:      "TXN-2",
		CustomerID:         "CUST-1",
		ProductID:          "PROD-1",
		PaymentMethod:      "UPI",
		TransactionDate:    day2,
		Quantity:           1,
		UnitPrice:          29.99,
		DiscountPercentage: 0,
		LineTotal:          29.99,
	})

	result, err := svc.Run(context.Background(), day3)
	require.NoError(t, err)
	require.Equal(t, 1, result.Facts.Inserted)
	require.Equal(t, 1, result.Facts.Skipped)

	oldProductKey := int64(0)
	for _, d := range repo.dimProducts {
		if !d.IsCurrent {
			oldProductKey = d.Key
		}
	}
	fact := repo.facts["ITEM-2"]
	require.Equal(t, austinKey, fact.CustomerKey)
	require.Equal(t, oldProductKey, fact.ProductKey)
}

func TestFactDedupOnRerun(t *testing.T) {
	repo := newMockRepository()
	seedProduction(repo)
	svc := newTestService(repo)

	_, err := svc.Run(context.Background(), day1)
	require.NoError(t, err)
	result, err := svc.Run(context.Background(), day1)
	require.NoError(t, err)

	require.Equal(t, 1, result.Facts.Skipped)
	require.Zero(t, result.Facts.Inserted)
	require.Len(t, repo.facts, 1)
	// regeneration must not touch existing date rows either
	require.Zero(t, result.DatesGenerated)
}

func TestOrphanSaleIsRejected(t *testing.T) {
	repo := newMockRepository()
	seedProduction(repo)
	repo.saleRecords = append(repo.saleRecords, SaleRecord{
		ItemID:          "ITEM-GHOST",
		TransactionID:   "TXN-GHOST",
		CustomerID:      "CUST-1",
		ProductID:       "PROD-NOPE",
		PaymentMethod:   "UPI",
		TransactionDate: day1,
		Quantity:        1,
		UnitPrice:       10,
		LineTotal:       10,
	})
	svc := newTestService(repo)

	result, err := svc.Run(context.Background(), day1)
	require.NoError(t, err)
	require.Equal(t, 1, result.Facts.Rejected)
	require.Equal(t, map[string]int{"unresolved product": 1}, result.Facts.Reasons)
	require.NotContains(t, repo.facts, "ITEM-GHOST")
}

func TestAggregatesConsistentWithFacts(t *testing.T) {
	repo := newMockRepository()
	seedProduction(repo)
	repo.saleRecords = append(repo.saleRecords, SaleRecord{
		ItemID:             "ITEM-2",
		TransactionID:      "TXN-1",
		CustomerID:         "CUST-1",
		ProductID:          "PROD-1",
		PaymentMethod:      "Credit Card",
		TransactionDate:    day1,
		Quantity:           3,
		UnitPrice:          10,
		DiscountPercentage: 0,
		LineTotal:          30,
	}, SaleRecord{
		ItemID:             "ITEM-3",
		TransactionID:      "TXN-3",
		CustomerID:         "CUST-1",
		ProductID:          "PROD-1",
		PaymentMethod:      "Cash on Delivery",
		TransactionDate:    day2,
		Quantity:           1,
		UnitPrice:          15.50,
		DiscountPercentage: 0,
		LineTotal:          15.50,
	})
	svc := newTestService(repo)

	_, err := svc.Run(context.Background(), day1)
	require.NoError(t, err)

	var factRevenue, aggRevenue float64
	for _, f := range repo.facts {
		factRevenue += f.LineTotal
	}
	for _, a := range repo.aggDaily {
		aggRevenue += a.TotalRevenue
	}
	require.InDelta(t, factRevenue, aggRevenue, 0.001)

	// TXN-1 carries two items but counts as one order on its day.
	for _, a := range repo.aggDaily {
		if a.DateKey == 20250610 {
			require.Equal(t, 1, a.TotalOrders)
			require.Equal(t, 5, a.TotalUnits)
		}
	}

	require.Len(t, repo.aggCustomers, 1)
	c := repo.aggCustomers[0]
	require.Equal(t, 2, c.OrderCount)
	require.InDelta(t, c.TotalSpend/2, c.AvgOrderValue, 0.01)
	require.Equal(t, "Offline", repo.paymentMethods["Cash on Delivery"].Type)
}

func TestSalePredatingFirstVersionAttributesToIt(t *testing.T) {
	repo := newMockRepository()
	seedProduction(repo)
	// Sale recorded before versioning began on day2.
	repo.saleRecords[0].TransactionDate = day1
	svc := newTestService(repo)

	result, err := svc.Run(context.Background(), day2)
	require.NoError(t, err)
	require.Equal(t, 1, result.Facts.Inserted)
	require.Zero(t, result.Facts.Rejected)
	require.Equal(t, repo.dimCustomers[0].Key, repo.facts["ITEM-1"].CustomerKey)
}
