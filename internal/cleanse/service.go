package cleanse

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/go-playground/validator/v10"

	"github.com/meridian-dw/meridian-dw/internal/staging"
)

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// ServiceConfig groups the policy knobs consumed by the engine. They are
// external inputs, not internal state.
type ServiceConfig struct {
	Policies           Policies
	RejectionCeiling   float64
	LineTotalTolerance float64
}

// Service transforms one staging snapshot into production rows.
type Service struct {
	repo     RepositoryPort
	cfg      ServiceConfig
	validate *validator.Validate
	logger   *slog.Logger
}

// NewService builds Service.
func NewService(repo RepositoryPort, cfg ServiceConfig, logger *slog.Logger) *Service {
	if cfg.Policies == (Policies{}) {
		cfg.Policies = DefaultPolicies()
	}
	if cfg.LineTotalTolerance <= 0 {
		cfg.LineTotalTolerance = 0.01
	}
	return &Service{repo: repo, cfg: cfg, validate: validator.New(), logger: logger}
}

// Run cleanses the snapshot into production inside a single transaction.
// Per-row problems are counted, never fatal; the stage fails only when the
// overall rejection rate crosses the ceiling. Committed rows stay in place
// even then, so the returned Result is valid alongside ErrStageFailed.
func (s *Service) Run(ctx context.Context, snap staging.Snapshot) (Result, error) {
	if s == nil || s.repo == nil {
		return Result{}, errors.New("cleanse: service not configured")
	}

	var result Result
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		customerIDs, err := s.loadCustomers(ctx, tx, snap.Customers, &result)
		if err != nil {
			return err
		}
		productIDs, err := s.loadProducts(ctx, tx, snap.Products, &result)
		if err != nil {
			return err
		}
		transactionIDs, err := s.loadTransactions(ctx, tx, snap.Transactions, customerIDs, &result)
		if err != nil {
			return err
		}
		return s.loadItems(ctx, tx, snap.Items, transactionIDs, productIDs, &result)
	})
	if err != nil {
		return Result{}, fmt.Errorf("cleanse: %w", err)
	}

	if result.In > 0 {
		result.RejectionRate = math.Round(float64(result.Rejected)/float64(result.In)*10000) / 10000
	}
	if s.logger != nil {
		s.logger.Info("cleansing complete",
			slog.Int("in", result.In),
			slog.Int("inserted", result.Inserted),
			slog.Int("skipped", result.Skipped),
			slog.Int("rejected", result.Rejected),
			slog.Int("corrected", result.Corrected),
			slog.Float64("rejection_rate", result.RejectionRate))
	}
	if s.cfg.RejectionCeiling > 0 && result.RejectionRate > s.cfg.RejectionCeiling {
		return result, ErrStageFailed
	}
	return result, nil
}

func (s *Service) loadCustomers(ctx context.Context, tx TxRepository, staged []staging.Customer, result *Result) (map[string]bool, error) {
	entity := EntityResult{Entity: "customers", In: len(staged)}
	accepted := make([]Customer, 0, len(staged))
	seen := map[string]bool{}

	for _, raw := range staged {
		c := Customer{
			CustomerID: normalizeString(raw.CustomerID),
			FirstName:  normalizeString(raw.FirstName),
			LastName:   normalizeString(raw.LastName),
			Email:      normalizeEmail(raw.Email),
			Phone:      normalizePhone(raw.Phone),
			City:       normalizePlace(raw.City),
			State:      normalizePlace(raw.State),
			Country:    normalizePlace(raw.Country),
			AgeGroup:   normalizeString(raw.AgeGroup),
		}
		if date, ok := parseDate(raw.RegistrationDate); ok {
			c.RegistrationDate = date
		} else if normalizeString(raw.RegistrationDate) != "" {
			entity.reject("unparsable registration_date")
			continue
		}
		if err := s.validate.Struct(c); err != nil {
			entity.reject("validation failed")
			continue
		}
		if seen[c.CustomerID] {
			entity.reject("duplicate customer_id")
			continue
		}
		seen[c.CustomerID] = true
		accepted = append(accepted, c)
	}

	keys := map[string]bool{}
	if s.cfg.Policies.Customers == LoadPolicyFull {
		if err := tx.TruncateCustomers(ctx); err != nil {
			return nil, err
		}
	} else {
		existing, err := tx.ExistingCustomerIDs(ctx)
		if err != nil {
			return nil, err
		}
		keys = existing
	}
	for _, c := range accepted {
		if keys[c.CustomerID] {
			entity.Skipped++
			continue
		}
		if err := tx.InsertCustomer(ctx, c); err != nil {
			if errors.Is(err, ErrConstraintViolated) {
				entity.reject("integrity violation")
				continue
			}
			return nil, err
		}
		keys[c.CustomerID] = true
		entity.Inserted++
	}

	result.add(entity)
	return keys, nil
}

func (s *Service) loadProducts(ctx context.Context, tx TxRepository, staged []staging.Product, result *Result) (map[string]bool, error) {
	entity := EntityResult{Entity: "products", In: len(staged)}
	accepted := make([]Product, 0, len(staged))
	seen := map[string]bool{}

	for _, raw := range staged {
		p := Product{
			ProductID:   normalizeString(raw.ProductID),
			ProductName: normalizeString(raw.ProductName),
			Category:    normalizeString(raw.Category),
			SubCategory: normalizeString(raw.SubCategory),
			Brand:       normalizeString(raw.Brand),
			SupplierID:  normalizeString(raw.SupplierID),
		}
		if raw.Price != nil {
			p.Price = *raw.Price
		}
		if raw.Cost != nil {
			p.Cost = *raw.Cost
		}
		if raw.StockQuantity != nil {
			p.StockQuantity = *raw.StockQuantity
		}
		if err := s.validate.Struct(p); err != nil {
			entity.reject("validation failed")
			continue
		}
		if seen[p.ProductID] {
			entity.reject("duplicate product_id")
			continue
		}
		seen[p.ProductID] = true
		accepted = append(accepted, p)
	}

	keys := map[string]bool{}
	if s.cfg.Policies.Products == LoadPolicyFull {
		if err := tx.TruncateProducts(ctx); err != nil {
			return nil, err
		}
	} else {
		existing, err := tx.ExistingProductIDs(ctx)
		if err != nil {
			return nil, err
		}
		keys = existing
	}
	for _, p := range accepted {
		if keys[p.ProductID] {
			entity.Skipped++
			continue
		}
		if err := tx.InsertProduct(ctx, p); err != nil {
			if errors.Is(err, ErrConstraintViolated) {
				entity.reject("integrity violation")
				continue
			}
			return nil, err
		}
		keys[p.ProductID] = true
		entity.Inserted++
	}

	result.add(entity)
	return keys, nil
}

func (s *Service) loadTransactions(ctx context.Context, tx TxRepository, staged []staging.Transaction, customerIDs map[string]bool, result *Result) (map[string]bool, error) {
	entity := EntityResult{Entity: "transactions", In: len(staged)}

	keys := map[string]bool{}
	if s.cfg.Policies.Transactions == LoadPolicyFull {
		if err := tx.TruncateTransactions(ctx); err != nil {
			return nil, err
		}
	} else {
		existing, err := tx.ExistingTransactionIDs(ctx)
		if err != nil {
			return nil, err
		}
		keys = existing
	}

	for _, raw := range staged {
		t := Transaction{
			TransactionID:   normalizeString(raw.TransactionID),
			CustomerID:      normalizeString(raw.CustomerID),
			TransactionTime: normalizeString(raw.TransactionTime),
			PaymentMethod:   normalizeString(raw.PaymentMethod),
			ShippingAddress: normalizeString(raw.ShippingAddress),
		}
		if raw.TotalAmount != nil {
			t.TotalAmount = *raw.TotalAmount
		}
		date, ok := parseDate(raw.TransactionDate)
		if !ok {
			entity.reject("unparsable transaction_date")
			continue
		}
		t.TransactionDate = date
		if err := s.validate.Struct(t); err != nil {
			entity.reject("validation failed")
			continue
		}
		if !customerIDs[t.CustomerID] {
			entity.reject("missing customer")
			continue
		}
		if keys[t.TransactionID] {
			entity.Skipped++
			continue
		}
		if err := tx.InsertTransaction(ctx, t); err != nil {
			if errors.Is(err, ErrConstraintViolated) {
				entity.reject("integrity violation")
				continue
			}
			return nil, err
		}
		keys[t.TransactionID] = true
		entity.Inserted++
	}

	result.add(entity)
	return keys, nil
}

func (s *Service) loadItems(ctx context.Context, tx TxRepository, staged []staging.TransactionItem, transactionIDs, productIDs map[string]bool, result *Result) error {
	entity := EntityResult{Entity: "transaction_items", In: len(staged)}

	keys := map[string]bool{}
	if s.cfg.Policies.Items == LoadPolicyFull {
		if err := tx.TruncateItems(ctx); err != nil {
			return err
		}
	} else {
		existing, err := tx.ExistingItemIDs(ctx)
		if err != nil {
			return err
		}
		keys = existing
	}

	for _, raw := range staged {
		it := Item{
			ItemID:        normalizeString(raw.ItemID),
			TransactionID: normalizeString(raw.TransactionID),
			ProductID:     normalizeString(raw.ProductID),
		}
		if raw.Quantity != nil {
			it.Quantity = *raw.Quantity
		}
		if raw.UnitPrice != nil {
			it.UnitPrice = *raw.UnitPrice
		}
		if raw.DiscountPercentage != nil {
			it.DiscountPercentage = *raw.DiscountPercentage
		}

		// The recomputed value is authoritative: drift inside the
		// tolerance keeps the supplied total, anything beyond it is
		// corrected rather than flagged.
		expected := recomputeLineTotal(it.UnitPrice, it.Quantity, it.DiscountPercentage)
		supplied := 0.0
		if raw.LineTotal != nil {
			supplied = *raw.LineTotal
		}
		if math.Abs(supplied-expected) <= s.cfg.LineTotalTolerance {
			it.LineTotal = supplied
		} else {
			it.LineTotal = expected
			entity.Corrected++
		}

		if err := s.validate.Struct(it); err != nil {
			entity.reject("validation failed")
			continue
		}
		if !transactionIDs[it.TransactionID] {
			entity.reject("missing transaction")
			continue
		}
		if !productIDs[it.ProductID] {
			entity.reject("missing product")
			continue
		}
		if keys[it.ItemID] {
			entity.Skipped++
			continue
		}
		if err := tx.InsertItem(ctx, it); err != nil {
			if errors.Is(err, ErrConstraintViolated) {
				entity.reject("integrity violation")
				continue
			}
			return err
		}
		keys[it.ItemID] = true
		entity.Inserted++
	}

	result.add(entity)
	return nil
}
