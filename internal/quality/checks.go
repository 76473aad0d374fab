package quality

import (
	"math"
	"sort"

	"github.com/meridian-dw/meridian-dw/internal/staging"
)

// lineTotalTolerance matches the cleansing engine's correction tolerance.
const lineTotalTolerance = 0.01

func checkCompleteness(snap staging.Snapshot) DimensionResult {
	details := []Violation{}

	countNulls(&details, "staging_customers", map[string]func(staging.Customer) bool{
		"customer_id": func(c staging.Customer) bool { return c.CustomerID == nil },
		"first_name":  func(c staging.Customer) bool { return c.FirstName == nil },
		"last_name":   func(c staging.Customer) bool { return c.LastName == nil },
		"email":       func(c staging.Customer) bool { return c.Email == nil },
	}, snap.Customers)

	countNulls(&details, "staging_products", map[string]func(staging.Product) bool{
		"product_id":   func(p staging.Product) bool { return p.ProductID == nil },
		"product_name": func(p staging.Product) bool { return p.ProductName == nil },
		"price":        func(p staging.Product) bool { return p.Price == nil },
		"cost":         func(p staging.Product) bool { return p.Cost == nil },
	}, snap.Products)

	countNulls(&details, "staging_transactions", map[string]func(staging.Transaction) bool{
		"transaction_id":   func(t staging.Transaction) bool { return t.TransactionID == nil },
		"customer_id":      func(t staging.Transaction) bool { return t.CustomerID == nil },
		"transaction_date": func(t staging.Transaction) bool { return t.TransactionDate == nil },
		"payment_method":   func(t staging.Transaction) bool { return t.PaymentMethod == nil },
	}, snap.Transactions)

	countNulls(&details, "staging_transaction_items", map[string]func(staging.TransactionItem) bool{
		"item_id":        func(it staging.TransactionItem) bool { return it.ItemID == nil },
		"transaction_id": func(it staging.TransactionItem) bool { return it.TransactionID == nil },
		"product_id":     func(it staging.TransactionItem) bool { return it.ProductID == nil },
		"quantity":       func(it staging.TransactionItem) bool { return it.Quantity == nil },
		"line_total":     func(it staging.TransactionItem) bool { return it.LineTotal == nil },
	}, snap.Items)

	return newResult(DimensionCompleteness, details, snap.TotalRows())
}

func checkUniqueness(snap staging.Snapshot) DimensionResult {
	details := []Violation{}

	addViolation(&details, "staging_customers", "duplicate customer_id", countDuplicates(snap.Customers, func(c staging.Customer) *string { return c.CustomerID }))
	addViolation(&details, "staging_products", "duplicate product_id", countDuplicates(snap.Products, func(p staging.Product) *string { return p.ProductID }))
	addViolation(&details, "staging_transactions", "duplicate transaction_id", countDuplicates(snap.Transactions, func(t staging.Transaction) *string { return t.TransactionID }))
	addViolation(&details, "staging_transaction_items", "duplicate item_id", countDuplicates(snap.Items, func(it staging.TransactionItem) *string { return it.ItemID }))

	return newResult(DimensionUniqueness, details, snap.TotalRows())
}

func checkReferential(snap staging.Snapshot) DimensionResult {
	details := []Violation{}

	customers := keySet(snap.Customers, func(c staging.Customer) *string { return c.CustomerID })
	transactions := keySet(snap.Transactions, func(t staging.Transaction) *string { return t.TransactionID })
	products := keySet(snap.Products, func(p staging.Product) *string { return p.ProductID })

	orphanTx := 0
	for _, t := range snap.Transactions {
		if t.CustomerID != nil && !customers[*t.CustomerID] {
			orphanTx++
		}
	}
	addViolation(&details, "staging_transactions", "missing customer", orphanTx)

	orphanItemTx, orphanItemProduct := 0, 0
	for _, it := range snap.Items {
		if it.TransactionID != nil && !transactions[*it.TransactionID] {
			orphanItemTx++
		}
		if it.ProductID != nil && !products[*it.ProductID] {
			orphanItemProduct++
		}
	}
	addViolation(&details, "staging_transaction_items", "missing transaction", orphanItemTx)
	addViolation(&details, "staging_transaction_items", "missing product", orphanItemProduct)

	return newResult(DimensionReferential, details, snap.TotalRows())
}

func checkRange(snap staging.Snapshot) DimensionResult {
	details := []Violation{}

	negativePrice, negativeCost := 0, 0
	for _, p := range snap.Products {
		if p.Price != nil && *p.Price <= 0 {
			negativePrice++
		}
		if p.Cost != nil && *p.Cost <= 0 {
			negativeCost++
		}
	}
	addViolation(&details, "staging_products", "price <= 0", negativePrice)
	addViolation(&details, "staging_products", "cost <= 0", negativeCost)

	badQty, badDiscount, badLineTotal := 0, 0, 0
	for _, it := range snap.Items {
		if it.Quantity != nil && *it.Quantity <= 0 {
			badQty++
		}
		if it.DiscountPercentage != nil && (*it.DiscountPercentage < 0 || *it.DiscountPercentage > 100) {
			badDiscount++
		}
		if it.LineTotal != nil && *it.LineTotal <= 0 {
			badLineTotal++
		}
	}
	addViolation(&details, "staging_transaction_items", "quantity <= 0", badQty)
	addViolation(&details, "staging_transaction_items", "discount outside [0,100]", badDiscount)
	addViolation(&details, "staging_transaction_items", "line_total <= 0", badLineTotal)

	return newResult(DimensionRange, details, snap.TotalRows())
}

// countLineTotalMismatches reports items whose supplied line total drifts
// from the recomputed value beyond the tolerance.
func countLineTotalMismatches(items []staging.TransactionItem) int {
	mismatches := 0
	for _, it := range items {
		if it.Quantity == nil || it.UnitPrice == nil || it.DiscountPercentage == nil || it.LineTotal == nil {
			continue
		}
		expected := float64(*it.Quantity) * *it.UnitPrice * (1 - *it.DiscountPercentage/100)
		if math.Abs(*it.LineTotal-expected) > lineTotalTolerance {
			mismatches++
		}
	}
	return mismatches
}

func countNulls[T any](details *[]Violation, table string, checks map[string]func(T) bool, rows []T) {
	for field, isNull := range checks {
		count := 0
		for _, row := range rows {
			if isNull(row) {
				count++
			}
		}
		addViolation(details, table, field+" is null", count)
	}
}

func countDuplicates[T any](rows []T, key func(T) *string) int {
	seen := map[string]bool{}
	duplicates := 0
	for _, row := range rows {
		k := key(row)
		if k == nil {
			continue
		}
		if seen[*k] {
			duplicates++
		}
		seen[*k] = true
	}
	return duplicates
}

func keySet[T any](rows []T, key func(T) *string) map[string]bool {
	set := make(map[string]bool, len(rows))
	for _, row := range rows {
		if k := key(row); k != nil {
			set[*k] = true
		}
	}
	return set
}

func addViolation(details *[]Violation, table, check string, count int) {
	if count > 0 {
		*details = append(*details, Violation{Table: table, Check: check, Count: count})
	}
}

func newResult(dim Dimension, details []Violation, totalRows int) DimensionResult {
	sort.Slice(details, func(i, j int) bool {
		if details[i].Table != details[j].Table {
			return details[i].Table < details[j].Table
		}
		return details[i].Check < details[j].Check
	})
	violations := 0
	for _, v := range details {
		violations += v.Count
	}
	score := 100.0
	if totalRows > 0 {
		score = math.Max(0, 100-float64(violations)/float64(totalRows)*100)
	}
	return DimensionResult{
		Dimension:  dim,
		Violations: violations,
		Score:      math.Round(score*100) / 100,
		Details:    details,
	}
}
