// Package core provides the import pipeline for service-order spreadsheets.
// This package has no transport dependencies and can be driven by any frontend.
package core

import (
	"context"
	"sort"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
)

// OrderStatus is the warranty classification of a service order.
type OrderStatus string

const (
	StatusG  OrderStatus = "G"
	StatusGO OrderStatus = "GO"
	StatusGU OrderStatus = "GU"
)

// ValidStatuses lists the accepted status codes in display order.
var ValidStatuses = []OrderStatus{StatusG, StatusGO, StatusGU}

// Confidence grades how plausible an accepted value is.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// RawRow maps a source column header to its cell value.
// Cell values are nil, string, float64, int or time.Time.
type RawRow map[string]any

// NormalizedOrder is a validated service order ready for reconciliation.
type NormalizedOrder struct {
	OrderNumber          string         `json:"order_number"`
	OrderDate            time.Time      `json:"order_date"`
	OrderStatus          OrderStatus    `json:"order_status"`
	EngineManufacturer   pgtype.Text    `json:"engine_manufacturer"`
	EngineDescription    pgtype.Text    `json:"engine_description"`
	VehicleModel         pgtype.Text    `json:"vehicle_model"`
	RawDefectDescription pgtype.Text    `json:"raw_defect_description"`
	ResponsibleMechanic  pgtype.Text    `json:"responsible_mechanic"`
	PartsTotal           pgtype.Numeric `json:"parts_total"`
	LaborTotal           pgtype.Numeric `json:"labor_total"`
	GrandTotal           pgtype.Numeric `json:"grand_total"`
}

// EditRecord is the edit history of one persisted order.
// The pipeline only reads it; operators create and update it.
type EditRecord struct {
	ID              int64
	OrderNumber     string
	ManuallyEdited  bool
	ProtectedFields map[string]bool
	LastEditDate    pgtype.Timestamptz
	LastEditedBy    pgtype.Text
	EditCount       int32

	// Current holds the persisted values of the mergeable fields.
	Current NormalizedOrder
}

// IsProtected reports whether field must keep its persisted value.
func (e EditRecord) IsProtected(field string) bool {
	return e.ProtectedFields[field]
}

// ProtectedFieldList returns the protected field names in sorted order.
func (e EditRecord) ProtectedFieldList() []string {
	out := make([]string, 0, len(e.ProtectedFields))
	for f, on := range e.ProtectedFields {
		if on {
			out = append(out, f)
		}
	}
	sort.Strings(out)
	return out
}

// FullyProtected reports whether the whole record is immune to imports.
// An edited record with no specific protected fields is treated as fully protected.
func (e EditRecord) FullyProtected() bool {
	return e.ManuallyEdited && len(e.ProtectedFieldList()) == 0
}

// FieldDecision records which side a merged field came from.
type FieldDecision string

const (
	DecisionKept    FieldDecision = "kept"
	DecisionAdopted FieldDecision = "adopted"
)

// MergedOrder is the result of a field-level merge against a protected record.
type MergedOrder struct {
	ID        int64                    `json:"id"`
	Order     NormalizedOrder          `json:"order"`
	Decisions map[string]FieldDecision `json:"decisions"`

	ManuallyEdited  bool               `json:"manually_edited"`
	ProtectedFields map[string]bool    `json:"protected_fields"`
	LastEditDate    pgtype.Timestamptz `json:"last_edit_date"`
	LastEditedBy    pgtype.Text        `json:"last_edited_by"`
	EditCount       int32              `json:"edit_count"`
}

// EditSource reads edit history from the persisted store.
type EditSource interface {
	ListEditedOrders(ctx context.Context) ([]EditRecord, error)
}

// OrderWriter applies reconciled orders to the persisted store.
// Each call must commit or fail as a unit.
type OrderWriter interface {
	// UpsertOrders inserts or refreshes orders keyed on order_number.
	// It returns the number of rows written; rows identical to the stored row are not counted.
	UpsertOrders(ctx context.Context, orders []NormalizedOrder) (int64, error)

	// UpdateMergedOrders updates existing rows by id and never inserts.
	// It returns the number of rows updated.
	UpdateMergedOrders(ctx context.Context, orders []MergedOrder) (int64, error)
}

// ImportLogWriter persists a summary of each import run.
type ImportLogWriter interface {
	InsertImportLog(ctx context.Context, entry ImportLogEntry) error
}

// RowSource yields raw spreadsheet rows one at a time.
type RowSource interface {
	Headers() []string
	// Next returns the next row. ok is false once the source is exhausted.
	Next(ctx context.Context) (row RawRow, ok bool, err error)
	Close() error
}

// ImportPhase indicates the current stage of an import run.
type ImportPhase string

const (
	PhaseStarting   ImportPhase = "starting"
	PhaseLoading    ImportPhase = "loading_registry"
	PhaseProcessing ImportPhase = "processing"
	PhaseComplete   ImportPhase = "complete"
	PhaseFailed     ImportPhase = "failed"
	PhaseCancelled  ImportPhase = "cancelled"
)

// ImportRequest describes one import run.
type ImportRequest struct {
	FileName string
	Source   RowSource
}

// ImportResult is the structured summary handed back to the caller.
type ImportResult struct {
	RunID            string           `json:"runId"`
	FileName         string           `json:"fileName"`
	Phase            ImportPhase      `json:"phase"`
	Validation       ValidationReport `json:"validation"`
	Reconciliation   ReconcileSummary `json:"reconciliation"`
	Apply            BatchApplyResult `json:"apply"`
	ProtectedNumbers []string         `json:"protectedOrderNumbers,omitempty"`
	Duration         time.Duration    `json:"duration"`
	Error            string           `json:"error,omitempty"`
}

// ImportLogEntry is the persisted audit record of an import run.
type ImportLogEntry struct {
	RunID      string
	FileName   string
	Status     ImportPhase
	DurationMs int64
	Summary    ImportResult
}
