package core

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

type recordingObserver struct {
	results []*ImportResult
}

func (o *recordingObserver) ImportFinished(r *ImportResult) {
	o.results = append(o.results, r)
}

func newTestService(store *memStore, opts ...Option) *Service {
	return NewService(store, ServiceConfig{
		ChunkSize: 2,
		SampleCap: 5,
		Dates:     DateOptions{Now: fixedNow},
	}, opts...)
}

func source(rows ...RawRow) *sliceSource {
	return &sliceSource{headers: sheetHeaders, rows: rows}
}

func TestImport_EndToEnd(t *testing.T) {
	store := newMemStore()
	store.seed(testOrder("FULL", StatusG, "Ana", 100), true)
	store.seed(testOrder("PART", StatusG, "Ana", 100), true, FieldResponsibleMechanic)
	obs := &recordingObserver{}
	svc := newTestService(store, WithObserver(obs))

	src := source(
		sheetRow(map[string]any{"NOrdem_OSv": "NEW-1"}),
		sheetRow(map[string]any{"NOrdem_OSv": "NEW-2", "Status_OSv": "GU"}),
		sheetRow(map[string]any{"NOrdem_OSv": "NEW-3"}),
		sheetRow(map[string]any{"NOrdem_OSv": "FULL", "Status_OSv": "GO"}),
		sheetRow(map[string]any{"NOrdem_OSv": "PART", "Status_OSv": "GO", "RazaoSocial_Cli": "Carlos"}),
		sheetRow(map[string]any{"NOrdem_OSv": "BAD", "Status_OSv": "X"}),
		sheetRow(map[string]any{"NOrdem_OSv": "", "Data_OSv": "15/08/2025"}),
	)

	res, err := svc.Import(context.Background(), ImportRequest{FileName: "os.xlsx", Source: src})
	if err != nil {
		t.Fatalf("Import error = %v", err)
	}

	if res.Phase != PhaseComplete || res.RunID == "" {
		t.Errorf("phase/run = %s/%q", res.Phase, res.RunID)
	}
	v := res.Validation
	if v.TotalRecords != 7 || v.ValidRecords != 5 || v.RejectedRecords != 2 {
		t.Errorf("validation = %+v", v)
	}
	if v.RejectionReasons["InvalidStatus:order_status"] != 1 ||
		v.RejectionReasons["EmptyField:order_number"] != 1 ||
		v.RejectionReasons["ImpossibleFutureDate:order_date"] != 1 {
		t.Errorf("rejection reasons = %v", v.RejectionReasons)
	}

	r := res.Reconciliation
	if r.TotalIncoming != 5 || r.NewCount != 3 || r.FullyProtectedCount != 1 || r.MergedCount != 1 {
		t.Errorf("reconciliation = %+v", r)
	}
	if res.Apply.InsertedCount != 3 || res.Apply.MergedCount != 1 || res.Apply.ErrorCount != 0 {
		t.Errorf("apply = %+v", res.Apply)
	}
	if fmt.Sprint(res.ProtectedNumbers) != "[FULL]" {
		t.Errorf("ProtectedNumbers = %v", res.ProtectedNumbers)
	}

	full, _ := store.get("FULL")
	if full.OrderStatus != StatusG {
		t.Error("fully protected order must be untouched")
	}
	part, _ := store.get("PART")
	if part.OrderStatus != StatusGO || part.ResponsibleMechanic.String != "Ana" {
		t.Errorf("merged order = %s/%s, want GO/Ana", part.OrderStatus, part.ResponsibleMechanic.String)
	}
	if _, ok := store.get("BAD"); ok {
		t.Error("rejected rows must not be written")
	}

	if len(store.logs) != 1 || store.logs[0].Status != PhaseComplete || store.logs[0].RunID != res.RunID {
		t.Errorf("import logs = %+v", store.logs)
	}
	if len(obs.results) != 1 {
		t.Errorf("observer called %d times, want 1", len(obs.results))
	}
	if !src.closed {
		t.Error("source should be closed")
	}
	if svc.LimiterStatus().Active != 0 {
		t.Error("import slot should be released")
	}
}

func TestImport_RegistryFailureWritesNothing(t *testing.T) {
	store := newMemStore()
	store.listErr = errors.New("connection refused")
	svc := newTestService(store)

	res, err := svc.Import(context.Background(), ImportRequest{
		FileName: "os.xlsx",
		Source:   source(sheetRow(nil)),
	})
	if !errors.Is(err, ErrRegistryLoad) {
		t.Fatalf("error = %v, want ErrRegistryLoad", err)
	}
	if res == nil || res.Phase != PhaseFailed {
		t.Fatalf("result = %+v, want failed phase", res)
	}
	if store.upsertCalls != 0 || store.updateCalls != 0 {
		t.Error("nothing may be written when the registry cannot load")
	}
	if len(store.logs) != 1 || store.logs[0].Status != PhaseFailed {
		t.Errorf("failed run should still be logged: %+v", store.logs)
	}
}

func TestImport_MissingColumns(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store)

	_, err := svc.Import(context.Background(), ImportRequest{
		Source: &sliceSource{headers: []string{"Data_OSv"}},
	})
	if !errors.Is(err, ErrMissingColumns) {
		t.Fatalf("error = %v, want ErrMissingColumns", err)
	}
	if store.upsertCalls != 0 {
		t.Error("no writes expected")
	}
}

func TestImport_SourceFailureKeepsCommittedChunks(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store)

	var rows []RawRow
	for i := 0; i < 5; i++ {
		rows = append(rows, sheetRow(map[string]any{"NOrdem_OSv": fmt.Sprintf("OS-%d", i)}))
	}
	src := &sliceSource{headers: sheetHeaders, rows: rows, failAt: 5, errAt: errors.New("zip: not a valid zip file")}

	res, err := svc.Import(context.Background(), ImportRequest{Source: src})
	if err == nil {
		t.Fatal("expected source failure")
	}
	if res.Phase != PhaseFailed {
		t.Errorf("phase = %s, want failed", res.Phase)
	}
	if res.Apply.InsertedCount != 4 || res.Apply.SkippedCount != 1 {
		t.Errorf("apply = %+v, want 4 committed and 1 skipped", res.Apply)
	}
	if _, ok := store.get("OS-0"); !ok {
		t.Error("committed chunk should stay")
	}
}

func TestImport_ChunkFailureIsIsolated(t *testing.T) {
	store := newMemStore()
	store.upsertErrs[0] = errors.New("deadlock detected")
	svc := newTestService(store)

	res, err := svc.Import(context.Background(), ImportRequest{Source: source(
		sheetRow(map[string]any{"NOrdem_OSv": "A"}),
		sheetRow(map[string]any{"NOrdem_OSv": "B"}),
		sheetRow(map[string]any{"NOrdem_OSv": "C"}),
	)})
	if err != nil {
		t.Fatalf("chunk failures do not fail the run: %v", err)
	}
	if res.Apply.InsertedCount != 1 || res.Apply.ErrorCount != 2 {
		t.Errorf("apply = %+v", res.Apply)
	}
	if len(res.Apply.PerChunkErrors) != 1 || res.Apply.PerChunkErrors[0].Code != "DB007" {
		t.Errorf("PerChunkErrors = %+v", res.Apply.PerChunkErrors)
	}
}

func TestImport_LogFailureIsNotFatal(t *testing.T) {
	store := newMemStore()
	store.logErr = errors.New("relation import_logs does not exist")
	svc := newTestService(store)

	res, err := svc.Import(context.Background(), ImportRequest{Source: source(sheetRow(nil))})
	if err != nil {
		t.Fatalf("Import error = %v", err)
	}
	if res.Phase != PhaseComplete {
		t.Errorf("phase = %s", res.Phase)
	}
}

func TestImport_Cancelled(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store)

	ctx, cancel := context.WithCancel(context.Background())
	store.onUpsert = func(int) { cancel() }

	var rows []RawRow
	for i := 0; i < 10; i++ {
		rows = append(rows, sheetRow(map[string]any{"NOrdem_OSv": fmt.Sprintf("OS-%d", i)}))
	}
	res, err := svc.Import(ctx, ImportRequest{Source: source(rows...)})

	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
	if res.Phase != PhaseCancelled {
		t.Errorf("phase = %s, want cancelled", res.Phase)
	}
	if res.Apply.InsertedCount != 2 {
		t.Errorf("InsertedCount = %d, want first chunk only", res.Apply.InsertedCount)
	}
	if store.upsertCalls != 1 {
		t.Errorf("upsert calls = %d, want 1", store.upsertCalls)
	}
}

func TestImport_AtMostOneRun(t *testing.T) {
	store := newMemStore()
	svc := NewService(store, ServiceConfig{MaxWaitTime: 20 * time.Millisecond, Dates: DateOptions{Now: fixedNow}})

	if !svc.limiter.TryAcquire() {
		t.Fatal("could not take the slot")
	}
	defer svc.limiter.Release()

	_, err := svc.Import(context.Background(), ImportRequest{Source: source(sheetRow(nil))})
	if !errors.Is(err, ErrTooManyImports) {
		t.Errorf("error = %v, want ErrTooManyImports", err)
	}
}

func TestImport_NoSource(t *testing.T) {
	svc := newTestService(newMemStore())
	if _, err := svc.Import(context.Background(), ImportRequest{}); !errors.Is(err, ErrNoSource) {
		t.Errorf("error = %v, want ErrNoSource", err)
	}
}

func TestImport_ReimportIsIdempotent(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store)
	rows := []RawRow{
		sheetRow(map[string]any{"NOrdem_OSv": "A"}),
		sheetRow(map[string]any{"NOrdem_OSv": "B"}),
	}

	if _, err := svc.Import(context.Background(), ImportRequest{Source: source(rows...)}); err != nil {
		t.Fatal(err)
	}
	res, err := svc.Import(context.Background(), ImportRequest{Source: source(rows...)})
	if err != nil {
		t.Fatal(err)
	}
	if res.Apply.InsertedCount != 0 {
		t.Errorf("second run InsertedCount = %d, want 0", res.Apply.InsertedCount)
	}
}

func TestService_ResetProtection(t *testing.T) {
	store := newMemStore()
	store.seed(testOrder("P", StatusG, "Ana", 1), true)
	svc := newTestService(store)

	if err := svc.ResetProtection(context.Background(), "P"); err != nil {
		t.Fatalf("ResetProtection error = %v", err)
	}
	report, err := svc.EditedOrdersReport(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if report.TotalEdited != 0 {
		t.Errorf("TotalEdited = %d after reset, want 0", report.TotalEdited)
	}

	if err := svc.ResetProtection(context.Background(), "NOPE"); !errors.Is(err, ErrOrderNotFound) {
		t.Errorf("unknown order: error = %v, want ErrOrderNotFound", err)
	}
}
