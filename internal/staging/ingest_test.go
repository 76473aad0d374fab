package staging

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// ==== MOCK REPOSITORY ====

type mockReplaceRepository struct {
	snap       Snapshot
	replaced   bool
	replaceErr error
}

func (m *mockReplaceRepository) Replace(_ context.Context, snap Snapshot) error {
	if m.replaceErr != nil {
		return m.replaceErr
	}
	m.snap = snap
	m.replaced = true
	return nil
}

// ==== FIXTURES ====

func writeDrop(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}
	return dir
}

func fullDrop(t *testing.T) string {
	return writeDrop(t, map[string]string{
		"customers.csv": "customer_id,first_name,last_name,email,phone,registration_date,city,state,country,age_group\n" +
			"CUST-1,Ana,Reyes,ana@example.com,555-0101,2024-01-15,Austin,TX,USA,25-34\n" +
			"CUST-2,Ben,Okafor,,,,,,,\n",
		"products.csv": "product_id,product_name,category,sub_category,price,cost,brand,stock_quantity,supplier_id\n" +
			"PROD-1,Desk Lamp,Home,Lighting,29.99,12.50,Lumio,140,SUP-9\n",
		"transactions.csv": "transaction_id,customer_id,transaction_date,transaction_time,payment_method,shipping_address,total_amount\n" +
			"TXN-1,CUST-1,2025-06-10,14:32:00,Credit Card,12 Oak St,53.98\n",
		"transaction_items.csv": "item_id,transaction_id,product_id,quantity,unit_price,discount_percentage,line_total\n" +
			"ITEM-1,TXN-1,PROD-1,2,29.99,10,53.98\n",
	})
}

// ==== TESTS ====

func TestIngestDirReplacesStaging(t *testing.T) {
	repo := &mockReplaceRepository{}
	ingestor := NewIngestor(repo, slog.New(slog.DiscardHandler))

	result, err := ingestor.IngestDir(context.Background(), fullDrop(t))

	require.NoError(t, err)
	require.Equal(t, IngestResult{Customers: 2, Products: 1, Transactions: 1, Items: 1}, result)
	require.True(t, repo.replaced)

	first := repo.snap.Customers[0]
	require.Equal(t, "CUST-1", *first.CustomerID)
	require.Equal(t, "ana@example.com", *first.Email)
	require.Equal(t, "2024-01-15", *first.RegistrationDate)

	item := repo.snap.Items[0]
	require.Equal(t, 2, *item.Quantity)
	require.InDelta(t, 29.99, *item.UnitPrice, 0.001)
	require.InDelta(t, 53.98, *item.LineTotal, 0.001)
}

func TestIngestDirBlankFieldsLoadAsNull(t *testing.T) {
	repo := &mockReplaceRepository{}
	ingestor := NewIngestor(repo, slog.New(slog.DiscardHandler))

	_, err := ingestor.IngestDir(context.Background(), fullDrop(t))

	require.NoError(t, err)
	second := repo.snap.Customers[1]
	require.Equal(t, "CUST-2", *second.CustomerID)
	require.Nil(t, second.Email)
	require.Nil(t, second.City)
}

func TestIngestDirTrimsAndTolerantlyParses(t *testing.T) {
	dir := writeDrop(t, map[string]string{
		"customers.csv": "customer_id , first_name,last_name,email\n" +
			" CUST-1 , Ana ,Reyes,ana@example.com\n",
		"products.csv": "product_id,product_name,price,cost,stock_quantity\n" +
			"PROD-1,Desk Lamp,not-a-number,12.50,many\n",
		"transactions.csv": "transaction_id,customer_id\nTXN-1,CUST-1\n",
		// Short row: trailing columns read as null.
		"transaction_items.csv": "item_id,transaction_id,product_id,quantity,unit_price,discount_percentage,line_total\n" +
			"ITEM-1,TXN-1,PROD-1\n",
	})
	repo := &mockReplaceRepository{}
	ingestor := NewIngestor(repo, slog.New(slog.DiscardHandler))

	_, err := ingestor.IngestDir(context.Background(), dir)

	require.NoError(t, err)
	require.Equal(t, "CUST-1", *repo.snap.Customers[0].CustomerID)
	require.Equal(t, "Ana", *repo.snap.Customers[0].FirstName)

	// Unparseable numerics degrade to null; the validator reports them.
	product := repo.snap.Products[0]
	require.Nil(t, product.Price)
	require.Nil(t, product.StockQuantity)
	require.InDelta(t, 12.50, *product.Cost, 0.001)

	item := repo.snap.Items[0]
	require.Equal(t, "PROD-1", *item.ProductID)
	require.Nil(t, item.Quantity)
	require.Nil(t, item.LineTotal)
}

func TestIngestDirMissingFileIsFatal(t *testing.T) {
	dir := fullDrop(t)
	require.NoError(t, os.Remove(filepath.Join(dir, "transactions.csv")))
	repo := &mockReplaceRepository{}
	ingestor := NewIngestor(repo, slog.New(slog.DiscardHandler))

	_, err := ingestor.IngestDir(context.Background(), dir)

	require.Error(t, err)
	require.Contains(t, err.Error(), "transactions.csv")
	require.False(t, repo.replaced)
}

func TestIngestDirPropagatesRepositoryError(t *testing.T) {
	repo := &mockReplaceRepository{replaceErr: errors.New("connection reset")}
	ingestor := NewIngestor(repo, slog.New(slog.DiscardHandler))

	_, err := ingestor.IngestDir(context.Background(), fullDrop(t))

	require.ErrorContains(t, err, "connection reset")
}

func TestIngestDirWithoutRepository(t *testing.T) {
	var ingestor *Ingestor

	_, err := ingestor.IngestDir(context.Background(), t.TempDir())

	require.Error(t, err)
}
