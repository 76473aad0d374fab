package staging

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// ReplaceRepository is the persistence port used by the ingestor.
type ReplaceRepository interface {
	Replace(ctx context.Context, snap Snapshot) error
}

// Ingestor loads raw CSV drops into the staging tables via truncate-and-reload.
type Ingestor struct {
	repo   ReplaceRepository
	logger *slog.Logger
}

// NewIngestor builds Ingestor.
func NewIngestor(repo ReplaceRepository, logger *slog.Logger) *Ingestor {
	return &Ingestor{repo: repo, logger: logger}
}

// IngestResult summarises one staging reload.
type IngestResult struct {
	Customers    int `json:"customers"`
	Products     int `json:"products"`
	Transactions int `json:"transactions"`
	Items        int `json:"items"`
}

// IngestDir reads the four expected CSV files from dir and replaces the
// staging tables with their contents. All four files must be present; a
// missing file is a fatal error for the run.
func (i *Ingestor) IngestDir(ctx context.Context, dir string) (IngestResult, error) {
	if i == nil || i.repo == nil {
		return IngestResult{}, errors.New("staging: ingestor not configured")
	}
	var snap Snapshot
	var err error

	if snap.Customers, err = readCSVFile(filepath.Join(dir, "customers.csv"), parseCustomer); err != nil {
		return IngestResult{}, err
	}
	if snap.Products, err = readCSVFile(filepath.Join(dir, "products.csv"), parseProduct); err != nil {
		return IngestResult{}, err
	}
	if snap.Transactions, err = readCSVFile(filepath.Join(dir, "transactions.csv"), parseTransaction); err != nil {
		return IngestResult{}, err
	}
	if snap.Items, err = readCSVFile(filepath.Join(dir, "transaction_items.csv"), parseItem); err != nil {
		return IngestResult{}, err
	}

	if err := i.repo.Replace(ctx, snap); err != nil {
		return IngestResult{}, err
	}

	result := IngestResult{
		Customers:    len(snap.Customers),
		Products:     len(snap.Products),
		Transactions: len(snap.Transactions),
		Items:        len(snap.Items),
	}
	if i.logger != nil {
		i.logger.Info("staging reloaded",
			slog.Int("customers", result.Customers),
			slog.Int("products", result.Products),
			slog.Int("transactions", result.Transactions),
			slog.Int("items", result.Items))
	}
	return result, nil
}

// record gives header-keyed access to one CSV row. Missing columns and blank
// values both read as null, matching how the raw drops are produced.
type record map[string]string

func (r record) str(column string) *string {
	value := strings.TrimSpace(r[column])
	if value == "" {
		return nil
	}
	return &value
}

func (r record) float(column string) *float64 {
	value := strings.TrimSpace(r[column])
	if value == "" {
		return nil
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil
	}
	return &parsed
}

func (r record) int(column string) *int {
	value := strings.TrimSpace(r[column])
	if value == "" {
		return nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return nil
	}
	return &parsed
}

func parseCustomer(row record) Customer {
	return Customer{
		CustomerID:       row.str("customer_id"),
		FirstName:        row.str("first_name"),
		LastName:         row.str("last_name"),
		Email:            row.str("email"),
		Phone:            row.str("phone"),
		RegistrationDate: row.str("registration_date"),
		City:             row.str("city"),
		State:            row.str("state"),
		Country:          row.str("country"),
		AgeGroup:         row.str("age_group"),
	}
}

func parseProduct(row record) Product {
	return Product{
		ProductID:     row.str("product_id"),
		ProductName:   row.str("product_name"),
		Category:      row.str("category"),
		SubCategory:   row.str("sub_category"),
		Price:         row.float("price"),
		Cost:          row.float("cost"),
		Brand:         row.str("brand"),
		StockQuantity: row.int("stock_quantity"),
		SupplierID:    row.str("supplier_id"),
	}
}

func parseTransaction(row record) Transaction {
	return Transaction{
		TransactionID:   row.str("transaction_id"),
		CustomerID:      row.str("customer_id"),
		TransactionDate: row.str("transaction_date"),
		TransactionTime: row.str("transaction_time"),
		PaymentMethod:   row.str("payment_method"),
		ShippingAddress: row.str("shipping_address"),
		TotalAmount:     row.float("total_amount"),
	}
}

func parseItem(row record) TransactionItem {
	return TransactionItem{
		ItemID:             row.str("item_id"),
		TransactionID:      row.str("transaction_id"),
		ProductID:          row.str("product_id"),
		Quantity:           row.int("quantity"),
		UnitPrice:          row.float("unit_price"),
		DiscountPercentage: row.float("discount_percentage"),
		LineTotal:          row.float("line_total"),
	}
}

func readCSVFile[T any](path string, parse func(record) T) ([]T, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("staging: open %s: %w", filepath.Base(path), err)
	}
	defer file.Close()
	return parseCSV(file, parse)
}

func parseCSV[T any](r io.Reader, parse func(record) T) ([]T, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("staging: read csv header: %w", err)
	}
	for idx, column := range header {
		header[idx] = strings.TrimSpace(column)
	}

	rows := []T{}
	for {
		fields, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("staging: read csv row: %w", err)
		}
		row := make(record, len(header))
		for idx, column := range header {
			if idx < len(fields) {
				row[column] = fields[idx]
			}
		}
		rows = append(rows, parse(row))
	}
	return rows, nil
}
