package cleanse

import (
	"errors"
	"time"
)

// LoadPolicy selects how an entity moves from staging to production.
type LoadPolicy string

const (
	// LoadPolicyFull truncates the production table and reinserts every
	// accepted row. Used for current-state reference data.
	LoadPolicyFull LoadPolicy = "full"
	// LoadPolicyIncremental inserts only rows whose natural key is not
	// yet present, making re-runs idempotent.
	LoadPolicyIncremental LoadPolicy = "incremental"
)

// Policies carries the per-entity load policy configuration.
type Policies struct {
	Customers    LoadPolicy
	Products     LoadPolicy
	Transactions LoadPolicy
	Items        LoadPolicy
}

// DefaultPolicies mirror the configuration defaults: reference entities are
// fully reloaded, transactional entities appended.
func DefaultPolicies() Policies {
	return Policies{
		Customers:    LoadPolicyFull,
		Products:     LoadPolicyFull,
		Transactions: LoadPolicyIncremental,
		Items:        LoadPolicyIncremental,
	}
}

// ErrStageFailed marks a cleansing run whose rejection rate crossed the
// configured ceiling. Production data committed by the run stays in place.
var ErrStageFailed = errors.New("cleanse: rejection rate above ceiling")

// Customer is a cleansed production customer. Optional fields use the empty
// string for null.
type Customer struct {
	CustomerID       string `validate:"required"`
	FirstName        string `validate:"required"`
	LastName         string `validate:"required"`
	Email            string `validate:"required,email"`
	Phone            string
	RegistrationDate time.Time
	City             string
	State            string
	Country          string
	AgeGroup         string
}

// Product is a cleansed production product.
type Product struct {
	ProductID     string `validate:"required"`
	ProductName   string `validate:"required"`
	Category      string
	SubCategory   string
	Price         float64 `validate:"gt=0"`
	Cost          float64 `validate:"gt=0"`
	Brand         string
	StockQuantity int
	SupplierID    string
}

// Transaction is a cleansed production transaction header.
type Transaction struct {
	TransactionID   string    `validate:"required"`
	CustomerID      string    `validate:"required"`
	TransactionDate time.Time `validate:"required"`
	TransactionTime string
	PaymentMethod   string `validate:"required"`
	ShippingAddress string
	TotalAmount     float64
}

// Item is a cleansed production transaction line. LineTotal is replaced by
// the recomputed value when the staged one drifts beyond the tolerance.
type Item struct {
	ItemID             string  `validate:"required"`
	TransactionID      string  `validate:"required"`
	ProductID          string  `validate:"required"`
	Quantity           int     `validate:"gt=0"`
	UnitPrice          float64 `validate:"gt=0"`
	DiscountPercentage float64 `validate:"gte=0,lte=100"`
	LineTotal          float64 `validate:"gt=0"`
}

// EntityResult counts outcomes for one entity within a cleansing run.
type EntityResult struct {
	Entity    string         `json:"entity"`
	In        int            `json:"in"`
	Inserted  int            `json:"inserted"`
	Skipped   int            `json:"skipped"`
	Rejected  int            `json:"rejected"`
	Corrected int            `json:"corrected"`
	Reasons   map[string]int `json:"reasons,omitempty"`
}

func (e *EntityResult) reject(reason string) {
	e.Rejected++
	if e.Reasons == nil {
		e.Reasons = map[string]int{}
	}
	e.Reasons[reason]++
}

// Result is the cleansing stage report.
type Result struct {
	Entities      []EntityResult `json:"entities"`
	In            int            `json:"in"`
	Inserted      int            `json:"inserted"`
	Skipped       int            `json:"skipped"`
	Rejected      int            `json:"rejected"`
	Corrected     int            `json:"corrected"`
	RejectionRate float64        `json:"rejection_rate"`
}

func (r *Result) add(entity EntityResult) {
	r.Entities = append(r.Entities, entity)
	r.In += entity.In
	r.Inserted += entity.Inserted
	r.Skipped += entity.Skipped
	r.Rejected += entity.Rejected
	r.Corrected += entity.Corrected
}
