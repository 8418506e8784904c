package core

// pipeline.go runs one import: validate, reconcile, write.
//
// The flow is:
//
//  1. Take the import slot (at most one run by default)
//  2. Bind the sheet headers to the column mapping
//  3. Load the edit registry snapshot; a failure ends the run before any write
//  4. A producer goroutine pulls rows from the source while the consumer
//     validates, classifies and queues each row for chunked writes
//  5. Flush the remaining chunks, persist the run log and report the result
//
// Rows are never collected into a full batch; memory stays at one chunk per
// write path plus the producer buffer.

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/JonMunkholm/warranty/internal/logging"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// importLogTimeout bounds the write of the run log after the run itself ended.
const importLogTimeout = 5 * time.Second

// ErrNoSource is returned when an import request carries no row source.
var ErrNoSource = errors.New("no file provided")

// Import runs the pipeline over req.Source.
//
// The returned result is non-nil whenever the run started, including failed
// and cancelled runs, so callers can report partial progress. Chunks that
// committed before a failure stay committed.
func (s *Service) Import(ctx context.Context, req ImportRequest) (*ImportResult, error) {
	if req.Source == nil {
		return nil, ErrNoSource
	}
	defer req.Source.Close()

	if err := s.limiter.Acquire(ctx); err != nil {
		return nil, err
	}
	defer s.limiter.Release()

	runID := uuid.NewString()
	ctx = logging.ContextWithRunID(ctx, runID)
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	logger := logging.WithFields(ctx, "file", req.FileName)
	start := time.Now()

	result := &ImportResult{
		RunID:      runID,
		FileName:   req.FileName,
		Phase:      PhaseStarting,
		Validation: NewReportBuilder(s.cfg.SampleCap).Report(),
		Apply:      BatchApplyResult{PerChunkErrors: []ChunkError{}},
	}
	logger.Info("import started")

	err := s.run(ctx, req, result)

	result.Duration = time.Since(start)
	switch {
	case err == nil && result.Apply.Cancelled:
		result.Phase = PhaseCancelled
		err = ctx.Err()
	case err == nil:
		result.Phase = PhaseComplete
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		result.Phase = PhaseCancelled
	default:
		result.Phase = PhaseFailed
	}
	if err != nil {
		result.Error = FormatUserError(err)
	}

	s.writeImportLog(ctx, result)
	s.observer.ImportFinished(result)

	logger.Info("import finished",
		"phase", result.Phase,
		"duration_ms", result.Duration.Milliseconds(),
		"total", result.Validation.TotalRecords,
		"rejected", result.Validation.RejectedRecords,
		"inserted", result.Apply.InsertedCount,
		"merged", result.Apply.MergedCount,
		"errors", result.Apply.ErrorCount,
	)
	if err != nil {
		return result, fmt.Errorf("import %s: %w", runID, err)
	}
	return result, nil
}

// run executes the pipeline stages, filling result as it goes.
func (s *Service) run(ctx context.Context, req ImportRequest, result *ImportResult) error {
	logger := logging.FromContext(ctx)

	columns, err := s.cfg.Columns.BindHeaders(req.Source.Headers())
	if err != nil {
		return err
	}

	result.Phase = PhaseLoading
	snap, err := s.registry.Load(ctx)
	if err != nil {
		logger.Error("edit registry unavailable, aborting before any write", "error", err)
		return err
	}
	logger.Info("edit registry loaded", "records", snap.Len())

	result.Phase = PhaseProcessing
	validator := NewRecordValidator(s.dates, columns)
	reports := NewReportBuilder(s.cfg.SampleCap)
	reconciler := NewReconciler(snap)
	writer := s.upserter.NewChunkWriter()

	rows := make(chan RawRow, s.upserter.ChunkSize())
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(rows)
		for {
			row, ok, err := req.Source.Next(gctx)
			if err != nil {
				return fmt.Errorf("read row: %w", err)
			}
			if !ok {
				return nil
			}
			select {
			case rows <- row:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
	})

	// The consumer drains every row the producer handed over, so a source
	// failure still validates and queues the rows read before it. It stops
	// early only when the run itself is cancelled.
	g.Go(func() error {
		index := 0
		for row := range rows {
			if err := ctx.Err(); err != nil {
				return err
			}
			index++

			outcome := validator.ValidateRow(index, row)
			reports.Record(outcome)
			if !outcome.Valid {
				logger.Debug("row rejected", "row", index, "order_number", outcome.OrderNumber, "errors", len(outcome.Errors))
				continue
			}

			decision, merged := reconciler.Classify(outcome.Order)
			switch decision {
			case DecisionNew:
				writer.AddNew(ctx, outcome.Order)
			case DecisionMerge:
				writer.AddMerged(ctx, *merged)
			case DecisionFullyProtected:
				result.ProtectedNumbers = append(result.ProtectedNumbers, outcome.Order.OrderNumber)
			}
		}
		return nil
	})

	werr := g.Wait()

	result.Validation = reports.Report()
	result.Reconciliation = reconciler.Summary()

	switch {
	case werr == nil:
		result.Apply = writer.Flush(ctx)
	case ctx.Err() != nil:
		// Pending chunks are counted as skipped, not written.
		result.Apply = writer.Flush(ctx)
		result.Apply.Cancelled = true
	default:
		result.Apply = writer.Abort()
	}

	logger.Info("reconciliation complete",
		"incoming", result.Reconciliation.TotalIncoming,
		"new", result.Reconciliation.NewCount,
		"fully_protected", result.Reconciliation.FullyProtectedCount,
		"merged", result.Reconciliation.MergedCount,
		"duplicates", result.Reconciliation.DuplicateInBatch,
	)
	return werr
}

// writeImportLog persists the run summary. A failure here is logged, never returned.
func (s *Service) writeImportLog(ctx context.Context, result *ImportResult) {
	logCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), importLogTimeout)
	defer cancel()

	entry := ImportLogEntry{
		RunID:      result.RunID,
		FileName:   result.FileName,
		Status:     result.Phase,
		DurationMs: result.Duration.Milliseconds(),
		Summary:    *result,
	}
	if err := s.store.InsertImportLog(logCtx, entry); err != nil {
		logging.FromContext(ctx).Warn("failed to write import log", "error", err)
	}
}
