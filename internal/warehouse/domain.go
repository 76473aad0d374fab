package warehouse

import "time"

// DimCustomer is one version of a customer in the star schema. Versioning is
// SCD Type 2: attribute changes close the current row and open a new one.
type DimCustomer struct {
	Key              int64
	CustomerID       string
	FullName         string
	Email            string
	City             string
	State            string
	Country          string
	AgeGroup         string
	RegistrationDate time.Time
	EffectiveDate    time.Time
	EndDate          *time.Time
	IsCurrent        bool
}

// trackedEquals reports whether the tracked attribute set matches. The
// tracked list is explicit: registration_date is carried but never versioned.
func (d DimCustomer) trackedEquals(o DimCustomer) bool {
	return d.FullName == o.FullName &&
		d.Email == o.Email &&
		d.City == o.City &&
		d.State == o.State &&
		d.Country == o.Country &&
		d.AgeGroup == o.AgeGroup
}

// DimProduct is one version of a product. Price and cost are tracked so
// historical facts keep the margin in effect when the sale occurred.
type DimProduct struct {
	Key           int64
	ProductID     string
	ProductName   string
	Category      string
	SubCategory   string
	Brand         string
	Price         float64
	Cost          float64
	EffectiveDate time.Time
	EndDate       *time.Time
	IsCurrent     bool
}

func (d DimProduct) trackedEquals(o DimProduct) bool {
	return d.ProductName == o.ProductName &&
		d.Category == o.Category &&
		d.SubCategory == o.SubCategory &&
		d.Brand == o.Brand &&
		d.Price == o.Price &&
		d.Cost == o.Cost
}

// DimDate is one calendar day. Rows are static once generated.
type DimDate struct {
	Key        int
	Date       time.Time
	Year       int
	Quarter    int
	Month      int
	Day        int
	MonthName  string
	DayName    string
	WeekOfYear int
	IsWeekend  bool
}

// DimPaymentMethod is a small reference dimension, unique on name.
type DimPaymentMethod struct {
	Key  int64
	Name string
	Type string
}

// FactSale is one transaction line resolved against the four dimensions.
// Immutable once written; item id is the natural dedup key.
type FactSale struct {
	ItemID           string
	TransactionID    string
	DateKey          int
	CustomerKey      int64
	ProductKey       int64
	PaymentMethodKey int64
	Quantity         int
	UnitPrice        float64
	DiscountAmount   float64
	LineTotal        float64
	Profit           float64
}

// AggDailySales is revenue and profit grouped by date.
type AggDailySales struct {
	DateKey      int
	TotalOrders  int
	TotalUnits   int
	TotalRevenue float64
	TotalProfit  float64
}

// AggProductPerformance is sales grouped by product version.
type AggProductPerformance struct {
	ProductKey int64
	UnitsSold  int
	OrderCount int
	Revenue    float64
	Profit     float64
}

// AggCustomerMetrics is spend grouped by customer version.
type AggCustomerMetrics struct {
	CustomerKey   int64
	OrderCount    int
	TotalUnits    int
	TotalSpend    float64
	AvgOrderValue float64
}

// CustomerRecord is the production view the loader versions from.
type CustomerRecord struct {
	CustomerID       string
	FirstName        string
	LastName         string
	Email            string
	City             string
	State            string
	Country          string
	AgeGroup         string
	RegistrationDate time.Time
}

// ProductRecord is the production product view.
type ProductRecord struct {
	ProductID   string
	ProductName string
	Category    string
	SubCategory string
	Brand       string
	Price       float64
	Cost        float64
}

// SaleRecord is one production transaction line joined with its header, the
// unit of work for the fact build.
type SaleRecord struct {
	ItemID             string
	TransactionID      string
	CustomerID         string
	ProductID          string
	PaymentMethod      string
	TransactionDate    time.Time
	Quantity           int
	UnitPrice          float64
	DiscountPercentage float64
	LineTotal          float64
}

// DimensionStats counts the SCD outcomes for one versioned dimension.
type DimensionStats struct {
	Inserted  int `json:"inserted"`
	Revised   int `json:"revised"`
	Unchanged int `json:"unchanged"`
}

// FactStats counts fact-build outcomes. Rejected rows are orphans whose
// dimension member could not be resolved as of the transaction date.
type FactStats struct {
	In       int            `json:"in"`
	Inserted int            `json:"inserted"`
	Skipped  int            `json:"skipped"`
	Rejected int            `json:"rejected"`
	Reasons  map[string]int `json:"reasons,omitempty"`
}

func (f *FactStats) reject(reason string) {
	f.Rejected++
	if f.Reasons == nil {
		f.Reasons = map[string]int{}
	}
	f.Reasons[reason]++
}

// Result is the dimensional-load stage report.
type Result struct {
	Customers      DimensionStats `json:"customers"`
	Products       DimensionStats `json:"products"`
	DatesGenerated int            `json:"dates_generated"`
	PaymentMethods int            `json:"payment_methods"`
	Facts          FactStats      `json:"facts"`
	AggregateRows  int            `json:"aggregate_rows"`
}
