package core

import (
	"context"
	"sync"

	"github.com/jackc/pgx/v5/pgtype"
)

// memStore is an in-memory Store for pipeline tests.
type memStore struct {
	mu sync.Mutex

	nextID int64
	orders map[string]*storedOrder
	logs   []ImportLogEntry

	listErr      error
	logErr       error
	upsertErrs   map[int]error // by upsert call number, from 0
	upsertCalls  int
	updateCalls  int
	upsertSizes  []int
	deleteBefore map[int64]bool // ids deleted before merges apply

	// onUpsert runs after each successful upsert call.
	onUpsert func(call int)
}

type storedOrder struct {
	id    int64
	order NormalizedOrder
	edit  EditRecord
}

func newMemStore() *memStore {
	return &memStore{
		nextID:       1,
		orders:       make(map[string]*storedOrder),
		upsertErrs:   make(map[int]error),
		deleteBefore: make(map[int64]bool),
	}
}

// seed stores an order with optional edit history and returns its id.
func (s *memStore) seed(o NormalizedOrder, edited bool, protected ...string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++
	fields := make(map[string]bool, len(protected))
	for _, f := range protected {
		fields[f] = true
	}
	s.orders[o.OrderNumber] = &storedOrder{
		id:    id,
		order: o,
		edit: EditRecord{
			ID:              id,
			OrderNumber:     o.OrderNumber,
			ManuallyEdited:  edited,
			ProtectedFields: fields,
			LastEditedBy:    pgtype.Text{String: "operator", Valid: edited},
			EditCount:       int32(len(protected)),
		},
	}
	return id
}

func (s *memStore) get(orderNumber string) (NormalizedOrder, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	so, ok := s.orders[orderNumber]
	if !ok {
		return NormalizedOrder{}, false
	}
	return so.order, true
}

func (s *memStore) ListEditedOrders(ctx context.Context) ([]EditRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	var out []EditRecord
	for _, so := range s.orders {
		if !so.edit.ManuallyEdited {
			continue
		}
		rec := so.edit
		rec.Current = so.order
		out = append(out, rec)
	}
	return out, nil
}

func (s *memStore) UpsertOrders(ctx context.Context, orders []NormalizedOrder) (int64, error) {
	s.mu.Lock()
	call := s.upsertCalls
	s.upsertCalls++
	s.upsertSizes = append(s.upsertSizes, len(orders))
	if err := s.upsertErrs[call]; err != nil {
		s.mu.Unlock()
		return 0, err
	}

	var n int64
	for _, o := range orders {
		so, ok := s.orders[o.OrderNumber]
		if !ok {
			s.orders[o.OrderNumber] = &storedOrder{id: s.nextID, order: o, edit: EditRecord{ID: s.nextID, OrderNumber: o.OrderNumber}}
			s.nextID++
			n++
			continue
		}
		if !sameOrder(so.order, o) {
			so.order = o
			n++
		}
	}
	hook := s.onUpsert
	s.mu.Unlock()

	if hook != nil {
		hook(call)
	}
	return n, nil
}

func (s *memStore) UpdateMergedOrders(ctx context.Context, merged []MergedOrder) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updateCalls++

	var n int64
	for _, m := range merged {
		if s.deleteBefore[m.ID] {
			continue
		}
		for _, so := range s.orders {
			if so.id == m.ID {
				so.order = m.Order
				n++
				break
			}
		}
	}
	return n, nil
}

func (s *memStore) InsertImportLog(ctx context.Context, entry ImportLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.logErr != nil {
		return s.logErr
	}
	s.logs = append(s.logs, entry)
	return nil
}

func (s *memStore) ResetProtection(ctx context.Context, orderNumber string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	so, ok := s.orders[orderNumber]
	if !ok {
		return false, nil
	}
	so.edit = EditRecord{ID: so.id, OrderNumber: orderNumber}
	return true, nil
}

// sameOrder compares orders the way IS DISTINCT FROM would.
func sameOrder(a, b NormalizedOrder) bool {
	return a.OrderNumber == b.OrderNumber &&
		a.OrderDate.Equal(b.OrderDate) &&
		a.OrderStatus == b.OrderStatus &&
		a.EngineManufacturer == b.EngineManufacturer &&
		a.EngineDescription == b.EngineDescription &&
		a.VehicleModel == b.VehicleModel &&
		a.RawDefectDescription == b.RawDefectDescription &&
		a.ResponsibleMechanic == b.ResponsibleMechanic &&
		NumericFloat(a.PartsTotal) == NumericFloat(b.PartsTotal) && a.PartsTotal.Valid == b.PartsTotal.Valid &&
		NumericFloat(a.LaborTotal) == NumericFloat(b.LaborTotal) && a.LaborTotal.Valid == b.LaborTotal.Valid &&
		NumericFloat(a.GrandTotal) == NumericFloat(b.GrandTotal) && a.GrandTotal.Valid == b.GrandTotal.Valid
}

// sliceSource is a RowSource over fixed rows.
type sliceSource struct {
	headers []string
	rows    []RawRow
	pos     int
	failAt  int // returns errAt when pos reaches failAt (if > 0)
	errAt   error
	closed  bool
}

func (s *sliceSource) Headers() []string { return s.headers }

func (s *sliceSource) Next(ctx context.Context) (RawRow, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	if s.failAt > 0 && s.pos == s.failAt {
		return nil, false, s.errAt
	}
	if s.pos >= len(s.rows) {
		return nil, false, nil
	}
	row := s.rows[s.pos]
	s.pos++
	return row, true, nil
}

func (s *sliceSource) Close() error {
	s.closed = true
	return nil
}

// testOrder builds a normalized order for reconciliation tests.
func testOrder(number string, status OrderStatus, mechanic string, grand float64) NormalizedOrder {
	return NormalizedOrder{
		OrderNumber:         number,
		OrderDate:           date(2024, 3, 15),
		OrderStatus:         status,
		ResponsibleMechanic: ToPgText(mechanic),
		GrandTotal:          ToPgNumeric(CellString(grand)),
	}
}
