package database

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/JonMunkholm/warranty/internal/core"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

// orderColumns are the imported columns of service_orders, in parameter order.
var orderColumns = []string{
	"order_number",
	"order_date",
	"order_status",
	"engine_manufacturer",
	"engine_description",
	"vehicle_model",
	"raw_defect_description",
	"responsible_mechanic",
	"parts_total",
	"labor_total",
	"grand_total",
}

// maxParams is the PostgreSQL bind parameter limit per statement.
const maxParams = 65535

// MaxUpsertOrders is the largest chunk UpsertOrders accepts in one statement.
var MaxUpsertOrders = maxParams / len(orderColumns)

const listEditedOrders = `
SELECT id, order_number, manually_edited, protected_fields, last_edit_date,
       last_edited_by, edit_count,
       order_date, order_status, engine_manufacturer, engine_description,
       vehicle_model, raw_defect_description, responsible_mechanic,
       parts_total, labor_total, grand_total
FROM service_orders
WHERE manually_edited
ORDER BY order_number`

// ListEditedOrders returns every order an operator has marked as edited.
func (q *Queries) ListEditedOrders(ctx context.Context) ([]core.EditRecord, error) {
	rows, err := q.db.Query(ctx, listEditedOrders)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []core.EditRecord
	for rows.Next() {
		var (
			rec    core.EditRecord
			status string
		)
		if err := rows.Scan(
			&rec.ID,
			&rec.OrderNumber,
			&rec.ManuallyEdited,
			&rec.ProtectedFields,
			&rec.LastEditDate,
			&rec.LastEditedBy,
			&rec.EditCount,
			&rec.Current.OrderDate,
			&status,
			&rec.Current.EngineManufacturer,
			&rec.Current.EngineDescription,
			&rec.Current.VehicleModel,
			&rec.Current.RawDefectDescription,
			&rec.Current.ResponsibleMechanic,
			&rec.Current.PartsTotal,
			&rec.Current.LaborTotal,
			&rec.Current.GrandTotal,
		); err != nil {
			return nil, err
		}
		rec.Current.OrderNumber = rec.OrderNumber
		rec.Current.OrderStatus = core.OrderStatus(status)
		items = append(items, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

// buildUpsertOrders renders one multi-row upsert for orders.
//
// Conflicting rows are refreshed only when a value actually changed and the
// stored row is not manually edited, so the affected row count is the number
// of rows inserted or changed.
func buildUpsertOrders(orders []core.NormalizedOrder) (string, []any) {
	var b strings.Builder
	args := make([]any, 0, len(orders)*len(orderColumns))

	b.WriteString("INSERT INTO service_orders (")
	b.WriteString(strings.Join(orderColumns, ", "))
	b.WriteString(") VALUES ")

	for i, o := range orders {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('(')
		for j := range orderColumns {
			if j > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "$%d", len(args)+j+1)
		}
		b.WriteByte(')')
		args = append(args, orderArgs(o)...)
	}

	updated := orderColumns[1:]
	set := make([]string, len(updated))
	current := make([]string, len(updated))
	excluded := make([]string, len(updated))
	for i, col := range updated {
		set[i] = col + " = EXCLUDED." + col
		current[i] = "service_orders." + col
		excluded[i] = "EXCLUDED." + col
	}

	b.WriteString(" ON CONFLICT (order_number) DO UPDATE SET ")
	b.WriteString(strings.Join(set, ", "))
	b.WriteString(", updated_at = now() WHERE NOT service_orders.manually_edited AND (")
	b.WriteString(strings.Join(current, ", "))
	b.WriteString(") IS DISTINCT FROM (")
	b.WriteString(strings.Join(excluded, ", "))
	b.WriteString(")")

	return b.String(), args
}

// orderArgs returns the bind values of o in orderColumns order.
func orderArgs(o core.NormalizedOrder) []any {
	return []any{
		o.OrderNumber,
		pgtype.Date{Time: o.OrderDate, Valid: !o.OrderDate.IsZero()},
		string(o.OrderStatus),
		o.EngineManufacturer,
		o.EngineDescription,
		o.VehicleModel,
		o.RawDefectDescription,
		o.ResponsibleMechanic,
		o.PartsTotal,
		o.LaborTotal,
		o.GrandTotal,
	}
}

// UpsertOrders inserts or refreshes orders in one statement.
func (q *Queries) UpsertOrders(ctx context.Context, orders []core.NormalizedOrder) (int64, error) {
	if len(orders) == 0 {
		return 0, nil
	}
	if len(orders) > MaxUpsertOrders {
		return 0, fmt.Errorf("upsert of %d orders exceeds the limit of %d per statement", len(orders), MaxUpsertOrders)
	}
	sql, args := buildUpsertOrders(orders)
	tag, err := q.db.Exec(ctx, sql, args...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const updateMergedOrder = `
UPDATE service_orders
SET order_date = $2,
    order_status = $3,
    engine_manufacturer = $4,
    engine_description = $5,
    vehicle_model = $6,
    raw_defect_description = $7,
    responsible_mechanic = $8,
    parts_total = $9,
    labor_total = $10,
    grand_total = $11,
    updated_at = now()
WHERE id = $1`

// UpdateMergedOrders updates each order by id in one round trip.
// Rows that no longer exist are not inserted and do not count.
func (q *Queries) UpdateMergedOrders(ctx context.Context, orders []core.MergedOrder) (int64, error) {
	if len(orders) == 0 {
		return 0, nil
	}

	batch := &pgx.Batch{}
	for _, m := range orders {
		args := orderArgs(m.Order)
		args[0] = m.ID
		batch.Queue(updateMergedOrder, args...)
	}

	br := q.db.SendBatch(ctx, batch)
	var total int64
	for i := range orders {
		tag, err := br.Exec()
		if err != nil {
			br.Close()
			return 0, fmt.Errorf("update order id %d: %w", orders[i].ID, err)
		}
		total += tag.RowsAffected()
	}
	if err := br.Close(); err != nil {
		return 0, err
	}
	return total, nil
}

const insertImportLog = `
INSERT INTO import_logs (run_id, file_name, status, duration_ms, summary)
VALUES ($1, $2, $3, $4, $5)`

// InsertImportLog stores the summary of one import run.
func (q *Queries) InsertImportLog(ctx context.Context, entry core.ImportLogEntry) error {
	id, err := uuid.Parse(entry.RunID)
	if err != nil {
		return fmt.Errorf("run id %q: %w", entry.RunID, err)
	}
	summary, err := json.Marshal(entry.Summary)
	if err != nil {
		return fmt.Errorf("encode import summary: %w", err)
	}
	_, err = q.db.Exec(ctx, insertImportLog,
		pgtype.UUID{Bytes: id, Valid: true},
		entry.FileName,
		string(entry.Status),
		entry.DurationMs,
		summary,
	)
	return err
}

const resetProtection = `
UPDATE service_orders
SET manually_edited = FALSE,
    protected_fields = '{}'::jsonb,
    last_edit_date = NULL,
    last_edited_by = NULL,
    edit_count = 0,
    updated_at = now()
WHERE order_number = $1`

// ResetProtection clears the edit history of one order.
// It reports false when no order has that number.
func (q *Queries) ResetProtection(ctx context.Context, orderNumber string) (bool, error) {
	tag, err := q.db.Exec(ctx, resetProtection, orderNumber)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}
