package core

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

// ErrRegistryLoad is returned when edit history cannot be read.
// It is fatal to an import run: nothing may be written without the snapshot.
var ErrRegistryLoad = errors.New("failed to load edit registry")

// EditRegistry loads edit history from persisted storage.
type EditRegistry struct {
	source EditSource
}

// NewEditRegistry creates a registry backed by source.
func NewEditRegistry(source EditSource) *EditRegistry {
	return &EditRegistry{source: source}
}

// Load reads every edited order into an immutable snapshot.
func (r *EditRegistry) Load(ctx context.Context) (RegistrySnapshot, error) {
	records, err := r.source.ListEditedOrders(ctx)
	if err != nil {
		return RegistrySnapshot{}, fmt.Errorf("%w: %w", ErrRegistryLoad, err)
	}
	return NewRegistrySnapshot(records), nil
}

// RegistrySnapshot is a read-only view of edit history keyed by order_number.
// It is loaded once per run and may be shared across goroutines.
type RegistrySnapshot struct {
	records map[string]EditRecord
}

// NewRegistrySnapshot builds a snapshot. A later record for the same order_number replaces an earlier one.
func NewRegistrySnapshot(records []EditRecord) RegistrySnapshot {
	m := make(map[string]EditRecord, len(records))
	for _, rec := range records {
		m[rec.OrderNumber] = rec
	}
	return RegistrySnapshot{records: m}
}

// Lookup returns the edit record for orderNumber.
func (s RegistrySnapshot) Lookup(orderNumber string) (EditRecord, bool) {
	rec, ok := s.records[orderNumber]
	return rec, ok
}

// Len returns the number of records in the snapshot.
func (s RegistrySnapshot) Len() int {
	return len(s.records)
}

// Records returns the snapshot's records sorted by order_number.
func (s RegistrySnapshot) Records() []EditRecord {
	out := make([]EditRecord, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].OrderNumber < out[j].OrderNumber
	})
	return out
}

// reportListSize caps the recent and most-edited lists.
const reportListSize = 10

// EditSummary is one order in the edited-orders report.
type EditSummary struct {
	OrderNumber     string   `json:"orderNumber"`
	LastEditDate    string   `json:"lastEditDate,omitempty"`
	LastEditedBy    string   `json:"lastEditedBy,omitempty"`
	EditCount       int32    `json:"editCount"`
	ProtectedFields []string `json:"protectedFields"`
}

// EditedOrdersReport gives operators an overview of manual edits.
type EditedOrdersReport struct {
	TotalEdited          int            `json:"totalEdited"`
	RecentlyEdited       []EditSummary  `json:"recentlyEdited"`
	MostEdited           []EditSummary  `json:"mostEdited"`
	FieldProtectionStats map[string]int `json:"fieldProtectionStats"`
}

// BuildEditedOrdersReport summarizes the manually edited orders in snap.
func BuildEditedOrdersReport(snap RegistrySnapshot) EditedOrdersReport {
	report := EditedOrdersReport{
		RecentlyEdited:       []EditSummary{},
		MostEdited:           []EditSummary{},
		FieldProtectionStats: make(map[string]int),
	}

	var edited []EditRecord
	for _, rec := range snap.Records() {
		if !rec.ManuallyEdited {
			continue
		}
		edited = append(edited, rec)
		for field, on := range rec.ProtectedFields {
			if on {
				report.FieldProtectionStats[field]++
			}
		}
	}
	report.TotalEdited = len(edited)

	recent := append([]EditRecord(nil), edited...)
	sort.SliceStable(recent, func(i, j int) bool {
		a, b := recent[i].LastEditDate, recent[j].LastEditDate
		if a.Valid != b.Valid {
			return a.Valid
		}
		return a.Time.After(b.Time)
	})
	for _, rec := range recent[:min(reportListSize, len(recent))] {
		report.RecentlyEdited = append(report.RecentlyEdited, summarizeEdit(rec))
	}

	most := append([]EditRecord(nil), edited...)
	sort.SliceStable(most, func(i, j int) bool {
		return most[i].EditCount > most[j].EditCount
	})
	for _, rec := range most[:min(reportListSize, len(most))] {
		report.MostEdited = append(report.MostEdited, summarizeEdit(rec))
	}

	return report
}

func summarizeEdit(rec EditRecord) EditSummary {
	s := EditSummary{
		OrderNumber:     rec.OrderNumber,
		EditCount:       rec.EditCount,
		ProtectedFields: rec.ProtectedFieldList(),
	}
	if rec.LastEditDate.Valid {
		s.LastEditDate = rec.LastEditDate.Time.UTC().Format("2006-01-02T15:04:05Z07:00")
	}
	if rec.LastEditedBy.Valid {
		s.LastEditedBy = rec.LastEditedBy.String
	}
	return s
}
