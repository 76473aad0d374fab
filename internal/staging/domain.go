package staging

import "time"

// Customer is a raw staged customer row. Every business field is nullable;
// constraints are only enforced downstream.
type Customer struct {
	CustomerID       *string
	FirstName        *string
	LastName         *string
	Email            *string
	Phone            *string
	RegistrationDate *string
	City             *string
	State            *string
	Country          *string
	AgeGroup         *string
	LoadedAt         time.Time
}

// Product is a raw staged product row.
type Product struct {
	ProductID     *string
	ProductName   *string
	Category      *string
	SubCategory   *string
	Price         *float64
	Cost          *float64
	Brand         *string
	StockQuantity *int
	SupplierID    *string
	LoadedAt      time.Time
}

// Transaction is a raw staged transaction header.
type Transaction struct {
	TransactionID   *string
	CustomerID      *string
	TransactionDate *string
	TransactionTime *string
	PaymentMethod   *string
	ShippingAddress *string
	TotalAmount     *float64
	LoadedAt        time.Time
}

// TransactionItem is a raw staged transaction line.
type TransactionItem struct {
	ItemID             *string
	TransactionID      *string
	ProductID          *string
	Quantity           *int
	UnitPrice          *float64
	DiscountPercentage *float64
	LineTotal          *float64
	LoadedAt           time.Time
}

// Snapshot is one consistent read of the four staging tables. The quality
// validator and the cleansing engine both operate on the same snapshot.
type Snapshot struct {
	Customers    []Customer
	Products     []Product
	Transactions []Transaction
	Items        []TransactionItem
}

// TotalRows counts all staged rows across the four tables.
func (s Snapshot) TotalRows() int {
	return len(s.Customers) + len(s.Products) + len(s.Transactions) + len(s.Items)
}
