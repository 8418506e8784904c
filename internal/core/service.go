package core

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// DefaultImportTimeout bounds one import run.
const DefaultImportTimeout = 10 * time.Minute

// ErrOrderNotFound is returned when an operator action names an unknown order.
var ErrOrderNotFound = errors.New("order not found")

// Store is the persistence the service depends on.
type Store interface {
	EditSource
	OrderWriter
	ImportLogWriter

	// ResetProtection clears the edit history of one order.
	// It reports false when no order has that number.
	ResetProtection(ctx context.Context, orderNumber string) (bool, error)
}

// RunObserver is notified when an import run ends, whatever its phase.
type RunObserver interface {
	ImportFinished(result *ImportResult)
}

type nopObserver struct{}

func (nopObserver) ImportFinished(*ImportResult) {}

// ServiceConfig tunes the import pipeline.
type ServiceConfig struct {
	ChunkSize     int
	SampleCap     int
	MaxConcurrent int
	MaxWaitTime   time.Duration
	Timeout       time.Duration
	Dates         DateOptions
	Columns       ColumnMapping
}

// Service runs imports and the operator actions around them.
type Service struct {
	store    Store
	cfg      ServiceConfig
	limiter  *ImportLimiter
	dates    *DateNormalizer
	registry *EditRegistry
	upserter *UpsertCoordinator
	observer RunObserver
}

// Option customizes a Service.
type Option func(*Service)

// WithObserver reports finished runs to o.
func WithObserver(o RunObserver) Option {
	return func(s *Service) {
		if o != nil {
			s.observer = o
		}
	}
}

// NewService creates a Service over store.
func NewService(store Store, cfg ServiceConfig, opts ...Option) *Service {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultImportTimeout
	}
	if cfg.Columns == nil {
		cfg.Columns = DefaultColumnMapping
	}

	s := &Service{
		store:    store,
		cfg:      cfg,
		limiter:  NewImportLimiter(cfg.MaxConcurrent, cfg.MaxWaitTime),
		dates:    NewDateNormalizer(cfg.Dates),
		registry: NewEditRegistry(store),
		upserter: NewUpsertCoordinator(store, cfg.ChunkSize),
		observer: nopObserver{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// EditedOrdersReport summarizes the current edit history.
func (s *Service) EditedOrdersReport(ctx context.Context) (EditedOrdersReport, error) {
	snap, err := s.registry.Load(ctx)
	if err != nil {
		return EditedOrdersReport{}, err
	}
	return BuildEditedOrdersReport(snap), nil
}

// ResetProtection clears manual-edit protection from one order so the next
// import may overwrite it.
func (s *Service) ResetProtection(ctx context.Context, orderNumber string) error {
	if orderNumber == "" {
		return fmt.Errorf("reset protection: %w", ErrOrderNotFound)
	}
	found, err := s.store.ResetProtection(ctx, orderNumber)
	if err != nil {
		return fmt.Errorf("reset protection for %s: %w", orderNumber, err)
	}
	if !found {
		return fmt.Errorf("reset protection for %s: %w", orderNumber, ErrOrderNotFound)
	}
	return nil
}

// LimiterStatus reports import slot usage.
func (s *Service) LimiterStatus() ImportLimiterStatus {
	return s.limiter.Status()
}

// WaitForImports blocks until running imports finish or ctx is done.
func (s *Service) WaitForImports(ctx context.Context) error {
	return s.limiter.WaitForDrain(ctx)
}
