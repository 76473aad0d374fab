package cleanse

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/meridian-dw/meridian-dw/internal/staging"
)

// ============================================================================
// MOCK REPOSITORY
// ============================================================================

type mockTxRepository struct {
	customers    map[string]Customer
	products     map[string]Product
	transactions map[string]Transaction
	items        map[string]Item

	truncated   []string
	insertError error
}

func newMockTxRepository() *mockTxRepository {
	return &mockTxRepository{
		customers:    map[string]Customer{},
		products:     map[string]Product{},
		transactions: map[string]Transaction{},
		items:        map[string]Item{},
	}
}

func (m *mockTxRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, m)
}

func (m *mockTxRepository) TruncateCustomers(context.Context) error {
	m.truncated = append(m.truncated, "customers")
	m.items = map[string]Item{}
	m.transactions = map[string]Transaction{}
	m.customers = map[string]Customer{}
	return nil
}

func (m *mockTxRepository) TruncateProducts(context.Context) error {
	m.truncated = append(m.truncated, "products")
	m.items = map[string]Item{}
	m.products = map[string]Product{}
	return nil
}

func (m *mockTxRepository) TruncateTransactions(context.Context) error {
	m.truncated = append(m.truncated, "transactions")
	m.items = map[string]Item{}
	m.transactions = map[string]Transaction{}
	return nil
}

func (m *mockTxRepository) TruncateItems(context.Context) error {
	m.truncated = append(m.truncated, "transaction_items")
	m.items = map[string]Item{}
	return nil
}

func (m *mockTxRepository) ExistingCustomerIDs(context.Context) (map[string]bool, error) {
	return keysOf(m.customers), nil
}

func (m *mockTxRepository) ExistingProductIDs(context.Context) (map[string]bool, error) {
	return keysOf(m.products), nil
}

func (m *mockTxRepository) ExistingTransactionIDs(context.Context) (map[string]bool, error) {
	return keysOf(m.transactions), nil
}

func (m *mockTxRepository) ExistingItemIDs(context.Context) (map[string]bool, error) {
	return keysOf(m.items), nil
}

func (m *mockTxRepository) InsertCustomer(_ context.Context, c Customer) error {
	if m.insertError != nil {
		return m.insertError
	}
	m.customers[c.CustomerID] = c
	return nil
}

func (m *mockTxRepository) InsertProduct(_ context.Context, p Product) error {
	if m.insertError != nil {
		return m.insertError
	}
	m.products[p.ProductID] = p
	return nil
}

func (m *mockTxRepository) InsertTransaction(_ context.Context, t Transaction) error {
	if m.insertError != nil {
		return m.insertError
	}
	m.transactions[t.TransactionID] = t
	return nil
}

func (m *mockTxRepository) InsertItem(_ context.Context, it Item) error {
	if m.insertError != nil {
		return m.insertError
	}
	m.items[it.ItemID] = it
	return nil
}

func keysOf[V any](m map[string]V) map[string]bool {
	out := make(map[string]bool, len(m))
	for k := range m {
		out[k] = true
	}
	return out
}

// ============================================================================
// FIXTURES
// ============================================================================

func floatp(v float64) *float64 { return &v }
func intp(v int) *int           { return &v }

func validSnapshot() staging.Snapshot {
	return staging.Snapshot{
		Customers: []staging.Customer{{
			CustomerID:       strp("CUST-1"),
			FirstName:        strp("Jane"),
			LastName:         strp("Doe"),
			Email:            strp("Jane.Doe@Example.com "),
			Phone:            strp("+1 (415) 555-2671"),
			RegistrationDate: strp("2024-05-01"),
			City:             strp("austin"),
			State:            strp("texas"),
			Country:          strp("usa"),
			AgeGroup:         strp("26-35"),
		}},
		Products: []staging.Product{{
			ProductID:     strp("PROD-1"),
			ProductName:   strp("Wireless Mouse"),
			Category:      strp("Electronics"),
			SubCategory:   strp("Accessories"),
			Price:         floatp(29.99),
			Cost:          floatp(12.50),
			Brand:         strp("Logi"),
			StockQuantity: intp(120),
			SupplierID:    strp("SUP-1"),
		}},
		Transactions: []staging.Transaction{{
			TransactionID:   strp("TXN-1"),
			CustomerID:      strp("CUST-1"),
			TransactionDate: strp("2025-06-10"),
			TransactionTime: strp("14:32:05"),
			PaymentMethod:   strp("Credit Card"),
			ShippingAddress: strp("1 Main St"),
			TotalAmount:     floatp(53.98),
		}},
		Items: []staging.TransactionItem{{
			ItemID:             strp("ITEM-1"),
			TransactionID:      strp("TXN-1"),
			ProductID:          strp("PROD-1"),
			Quantity:           intp(2),
			UnitPrice:          floatp(29.99),
			DiscountPercentage: floatp(10),
			LineTotal:          floatp(53.98),
		}},
	}
}

func newTestService(repo RepositoryPort, cfg ServiceConfig) *Service {
	return NewService(repo, cfg, slog.New(slog.DiscardHandler))
}

// ============================================================================
// TESTS
// ============================================================================

func TestRunCleansesAndLoads(t *testing.T) {
	repo := newMockTxRepository()
	svc := newTestService(repo, ServiceConfig{RejectionCeiling: 0.10})

	result, err := svc.Run(context.Background(), validSnapshot())
	require.NoError(t, err)
	require.Equal(t, 4, result.In)
	require.Equal(t, 4, result.Inserted)
	require.Zero(t, result.Rejected)

	c := repo.customers["CUST-1"]
	require.Equal(t, "jane.doe@example.com", c.Email)
	require.Equal(t, "+14155552671", c.Phone)
	require.Equal(t, "Austin", c.City)

	// Full-reload entities truncate first; incremental ones do not.
	require.Equal(t, []string{"customers", "products"}, repo.truncated)
}

func TestRunCorrectsLineTotal(t *testing.T) {
	repo := newMockTxRepository()
	svc := newTestService(repo, ServiceConfig{RejectionCeiling: 0.10})

	snap := validSnapshot()
	snap.Items[0].LineTotal = floatp(99.99)

	result, err := svc.Run(context.Background(), snap)
	require.NoError(t, err)
	require.Equal(t, 1, result.Corrected)
	// 2 * 29.99 * 0.9 = 53.982 -> 53.98
	require.Equal(t, 53.98, repo.items["ITEM-1"].LineTotal)
}

func TestRunKeepsLineTotalWithinTolerance(t *testing.T) {
	repo := newMockTxRepository()
	svc := newTestService(repo, ServiceConfig{RejectionCeiling: 0.10, LineTotalTolerance: 0.01})

	snap := validSnapshot()
	snap.Items[0].LineTotal = floatp(53.99)

	result, err := svc.Run(context.Background(), snap)
	require.NoError(t, err)
	require.Zero(t, result.Corrected)
	require.Equal(t, 53.99, repo.items["ITEM-1"].LineTotal)
}

func TestRunRejectsOrphanedRows(t *testing.T) {
	repo := newMockTxRepository()
	svc := newTestService(repo, ServiceConfig{RejectionCeiling: 0.99})

	snap := validSnapshot()
	snap.Transactions = append(snap.Transactions, staging.Transaction{
		TransactionID:   strp("TXN-GHOST"),
		CustomerID:      strp("CUST-NOPE"),
		TransactionDate: strp("2025-06-11"),
		PaymentMethod:   strp("UPI"),
		TotalAmount:     floatp(10),
	})
	snap.Items = append(snap.Items, staging.TransactionItem{
		ItemID:        strp("ITEM-GHOST"),
		TransactionID: strp("TXN-GHOST"),
		ProductID:     strp("PROD-1"),
		Quantity:      intp(1),
		UnitPrice:     floatp(10),
		LineTotal:     floatp(10),
	})

	result, err := svc.Run(context.Background(), snap)
	require.NoError(t, err)
	require.Equal(t, 2, result.Rejected)
	require.NotContains(t, repo.transactions, "TXN-GHOST")
	// The item referencing the rejected transaction cascades to rejected.
	require.NotContains(t, repo.items, "ITEM-GHOST")

	for _, entity := range result.Entities {
		switch entity.Entity {
		case "transactions":
			require.Equal(t, map[string]int{"missing customer": 1}, entity.Reasons)
		case "transaction_items":
			require.Equal(t, map[string]int{"missing transaction": 1}, entity.Reasons)
		}
	}
}

func TestRunRejectsInvalidRows(t *testing.T) {
	repo := newMockTxRepository()
	svc := newTestService(repo, ServiceConfig{RejectionCeiling: 0.99})

	snap := validSnapshot()
	snap.Customers[0].Email = strp("not-an-email")
	snap.Products[0].Price = floatp(-5)

	result, err := svc.Run(context.Background(), snap)
	require.NoError(t, err)
	// Customer and product fail validation; transaction and item cascade.
	require.Equal(t, 4, result.Rejected)
	require.Zero(t, result.Inserted)
}

func TestRunDeduplicatesFirstWins(t *testing.T) {
	repo := newMockTxRepository()
	svc := newTestService(repo, ServiceConfig{RejectionCeiling: 0.99})

	snap := validSnapshot()
	dup := snap.Customers[0]
	dup.City = strp("dallas")
	snap.Customers = append(snap.Customers, dup)

	result, err := svc.Run(context.Background(), snap)
	require.NoError(t, err)
	require.Equal(t, "Austin", repo.customers["CUST-1"].City)

	for _, entity := range result.Entities {
		if entity.Entity == "customers" {
			require.Equal(t, 1, entity.Rejected)
			require.Equal(t, map[string]int{"duplicate customer_id": 1}, entity.Reasons)
		}
	}
}

func TestRunIncrementalSkipsExisting(t *testing.T) {
	repo := newMockTxRepository()
	repo.transactions["TXN-1"] = Transaction{TransactionID: "TXN-1"}
	repo.customers["CUST-1"] = Customer{CustomerID: "CUST-1"}
	svc := newTestService(repo, ServiceConfig{
		Policies: Policies{
			Customers:    LoadPolicyIncremental,
			Products:     LoadPolicyIncremental,
			Transactions: LoadPolicyIncremental,
			Items:        LoadPolicyIncremental,
		},
		RejectionCeiling: 0.10,
	})

	result, err := svc.Run(context.Background(), validSnapshot())
	require.NoError(t, err)
	require.Equal(t, 2, result.Skipped)
	require.Equal(t, 2, result.Inserted)
	require.Empty(t, repo.truncated)
}

func TestRunFailsStageAboveRejectionCeiling(t *testing.T) {
	repo := newMockTxRepository()
	svc := newTestService(repo, ServiceConfig{RejectionCeiling: 0.10})

	snap := validSnapshot()
	snap.Customers[0].Email = nil

	result, err := svc.Run(context.Background(), snap)
	require.ErrorIs(t, err, ErrStageFailed)
	// Accepted rows are still committed before the stage is marked failed.
	require.Equal(t, 1, result.Inserted)
	require.Contains(t, repo.products, "PROD-1")
}

func TestRunCountsConstraintViolations(t *testing.T) {
	repo := newMockTxRepository()
	repo.insertError = ErrConstraintViolated
	svc := newTestService(repo, ServiceConfig{RejectionCeiling: 0.99})

	result, err := svc.Run(context.Background(), validSnapshot())
	require.NoError(t, err)
	require.Equal(t, 4, result.Rejected)
	require.Zero(t, result.Inserted)
}
