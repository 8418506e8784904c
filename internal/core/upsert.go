package core

// upsert.go applies reconciled orders to storage in fixed-size chunks.
//
// New orders go through OrderWriter.UpsertOrders (insert or refresh by
// order_number). Merged orders go through OrderWriter.UpdateMergedOrders
// (update by id, never insert). Each chunk commits or fails as a unit; a
// failed chunk is recorded and the remaining chunks still run. Nothing is
// retried.
//
// ChunkWriter accepts orders one at a time so the pipeline never holds the
// whole batch in memory.

import (
	"context"
	"fmt"

	"github.com/JonMunkholm/warranty/internal/logging"
)

// DefaultChunkSize is the number of orders per write transaction.
const DefaultChunkSize = 100

// ChunkKind names the write path a chunk went through.
type ChunkKind string

const (
	ChunkInsert ChunkKind = "insert"
	ChunkMerge  ChunkKind = "merge"
)

// ChunkError describes one chunk that did not fully apply.
type ChunkError struct {
	Kind    ChunkKind `json:"kind"`
	Index   int       `json:"index"`  // Chunk number within its kind, from 0
	Offset  int       `json:"offset"` // Position of the chunk's first order within its kind
	Size    int       `json:"size"`
	Failed  int       `json:"failed"`
	Message string    `json:"message"`
	Code    string    `json:"code,omitempty"`
}

// BatchApplyResult summarizes all writes of one run.
type BatchApplyResult struct {
	InsertedCount  int64        `json:"insertedCount"`
	MergedCount    int64        `json:"mergedCount"`
	ErrorCount     int          `json:"errorCount"`
	SkippedCount   int          `json:"skippedCount"` // Orders never sent because the run was cancelled
	PerChunkErrors []ChunkError `json:"perChunkErrors"`
	Cancelled      bool         `json:"cancelled"`
}

// UpsertCoordinator writes reconciled orders through an OrderWriter.
type UpsertCoordinator struct {
	writer    OrderWriter
	chunkSize int
}

// NewUpsertCoordinator creates a coordinator. A non-positive chunkSize uses DefaultChunkSize.
func NewUpsertCoordinator(writer OrderWriter, chunkSize int) *UpsertCoordinator {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &UpsertCoordinator{writer: writer, chunkSize: chunkSize}
}

// ChunkSize returns the configured chunk size.
func (c *UpsertCoordinator) ChunkSize() int {
	return c.chunkSize
}

// ApplyBatch writes both partitions and returns the combined result.
func (c *UpsertCoordinator) ApplyBatch(ctx context.Context, newOrders []NormalizedOrder, merged []MergedOrder) BatchApplyResult {
	w := c.NewChunkWriter()
	for _, o := range newOrders {
		w.AddNew(ctx, o)
	}
	for _, m := range merged {
		w.AddMerged(ctx, m)
	}
	return w.Flush(ctx)
}

// NewChunkWriter starts a streaming writer for one run.
func (c *UpsertCoordinator) NewChunkWriter() *ChunkWriter {
	return &ChunkWriter{
		coord:     c,
		newPos:    make(map[string]int, c.chunkSize),
		mergedPos: make(map[int64]int, c.chunkSize),
		result:    BatchApplyResult{PerChunkErrors: []ChunkError{}},
	}
}

// ChunkWriter buffers orders and writes a chunk whenever one fills.
// It is not safe for concurrent use.
type ChunkWriter struct {
	coord *UpsertCoordinator

	pendingNew []NormalizedOrder
	newPos     map[string]int
	newChunks  int
	newOffset  int

	pendingMerged []MergedOrder
	mergedPos     map[int64]int
	mergedChunks  int
	mergedOffset  int

	result BatchApplyResult
}

// AddNew queues an order for upsert. A second order with the same
// order_number in the pending chunk replaces the first.
func (w *ChunkWriter) AddNew(ctx context.Context, o NormalizedOrder) {
	if i, ok := w.newPos[o.OrderNumber]; ok {
		w.pendingNew[i] = o
		return
	}
	w.newPos[o.OrderNumber] = len(w.pendingNew)
	w.pendingNew = append(w.pendingNew, o)
	if len(w.pendingNew) >= w.coord.chunkSize {
		w.flushNew(ctx)
	}
}

// AddMerged queues a merged order for update. A second merge of the same
// id in the pending chunk replaces the first.
func (w *ChunkWriter) AddMerged(ctx context.Context, m MergedOrder) {
	if i, ok := w.mergedPos[m.ID]; ok {
		w.pendingMerged[i] = m
		return
	}
	w.mergedPos[m.ID] = len(w.pendingMerged)
	w.pendingMerged = append(w.pendingMerged, m)
	if len(w.pendingMerged) >= w.coord.chunkSize {
		w.flushMerged(ctx)
	}
}

// Flush writes any partial chunks and returns the accumulated result.
func (w *ChunkWriter) Flush(ctx context.Context) BatchApplyResult {
	w.flushNew(ctx)
	w.flushMerged(ctx)
	return w.Result()
}

// Abort drops pending orders without writing them. They count as skipped.
func (w *ChunkWriter) Abort() BatchApplyResult {
	w.result.SkippedCount += len(w.pendingNew) + len(w.pendingMerged)
	w.pendingNew, w.pendingMerged = nil, nil
	clear(w.newPos)
	clear(w.mergedPos)
	return w.Result()
}

// Result returns the accumulated result without writing.
func (w *ChunkWriter) Result() BatchApplyResult {
	r := w.result
	r.PerChunkErrors = append([]ChunkError{}, w.result.PerChunkErrors...)
	return r
}

func (w *ChunkWriter) flushNew(ctx context.Context) {
	chunk := w.pendingNew
	if len(chunk) == 0 {
		return
	}
	w.pendingNew = nil
	clear(w.newPos)

	index, offset := w.newChunks, w.newOffset
	w.newChunks++
	w.newOffset += len(chunk)

	if w.cancelled(ctx, len(chunk)) {
		return
	}

	n, err := w.coord.writer.UpsertOrders(ctx, chunk)
	if err != nil {
		w.fail(ctx, ChunkInsert, index, offset, len(chunk), len(chunk), err)
		return
	}
	w.result.InsertedCount += n
}

func (w *ChunkWriter) flushMerged(ctx context.Context) {
	chunk := w.pendingMerged
	if len(chunk) == 0 {
		return
	}
	w.pendingMerged = nil
	clear(w.mergedPos)

	index, offset := w.mergedChunks, w.mergedOffset
	w.mergedChunks++
	w.mergedOffset += len(chunk)

	if w.cancelled(ctx, len(chunk)) {
		return
	}

	n, err := w.coord.writer.UpdateMergedOrders(ctx, chunk)
	if err != nil {
		w.fail(ctx, ChunkMerge, index, offset, len(chunk), len(chunk), err)
		return
	}
	w.result.MergedCount += n

	if missing := len(chunk) - int(n); missing > 0 {
		w.fail(ctx, ChunkMerge, index, offset, len(chunk), missing,
			fmt.Errorf("%d merged order(s) no longer exist and were not inserted", missing))
	}
}

// cancelled reports whether ctx is done, counting the chunk as skipped if so.
func (w *ChunkWriter) cancelled(ctx context.Context, size int) bool {
	if ctx.Err() == nil {
		return false
	}
	w.result.Cancelled = true
	w.result.SkippedCount += size
	return true
}

func (w *ChunkWriter) fail(ctx context.Context, kind ChunkKind, index, offset, size, failed int, err error) {
	msg := MapError(err)
	w.result.ErrorCount += failed
	w.result.PerChunkErrors = append(w.result.PerChunkErrors, ChunkError{
		Kind:    kind,
		Index:   index,
		Offset:  offset,
		Size:    size,
		Failed:  failed,
		Message: err.Error(),
		Code:    msg.Code,
	})
	logging.WithFields(ctx, "kind", kind, "chunk", index, "offset", offset, "size", size).
		Warn("chunk failed", "failed", failed, "code", msg.Code, "error", err)
	if ctx.Err() != nil {
		w.result.Cancelled = true
	}
}
