package core

// reconcile.go decides, per incoming order, whether the import may write it.
//
// Each valid order falls into exactly one partition:
//   - new: no edit history, or history without manual edits; written by upsert
//   - fully protected: manually edited with no specific protected fields; never written
//   - merged: manually edited with protected fields; protected fields keep their
//     persisted value and every other mergeable field adopts the incoming value
//
// order_number is the identity and is never merged.

import "maps"

// MergeableFields are the fields a merge decides individually.
var MergeableFields = []string{
	FieldOrderDate,
	FieldOrderStatus,
	FieldEngineManufacturer,
	FieldEngineDescription,
	FieldVehicleModel,
	FieldRawDefectDescription,
	FieldResponsibleMechanic,
	FieldPartsTotal,
	FieldLaborTotal,
	FieldGrandTotal,
}

// Decision is the partition an incoming order falls into.
type Decision string

const (
	DecisionNew            Decision = "new"
	DecisionFullyProtected Decision = "fully_protected"
	DecisionMerge          Decision = "merge"
)

// ReconcileSummary counts how incoming orders were partitioned.
// NewCount + FullyProtectedCount + MergedCount always equals TotalIncoming.
type ReconcileSummary struct {
	TotalIncoming       int `json:"totalIncoming"`
	NewCount            int `json:"newCount"`
	FullyProtectedCount int `json:"fullyProtectedCount"`
	MergedCount         int `json:"mergedCount"`
	DuplicateInBatch    int `json:"duplicateInBatch"`
}

// ReconciliationOutcome is the full partition of a batch.
type ReconciliationOutcome struct {
	New            []NormalizedOrder
	FullyProtected []NormalizedOrder
	Merged         []MergedOrder
	Summary        ReconcileSummary
}

// Reconciler classifies orders against one registry snapshot.
// It keeps running totals, so one Reconciler serves one run.
type Reconciler struct {
	snap    RegistrySnapshot
	seen    map[string]struct{}
	summary ReconcileSummary
}

// NewReconciler creates a reconciler over snap.
func NewReconciler(snap RegistrySnapshot) *Reconciler {
	return &Reconciler{snap: snap, seen: make(map[string]struct{})}
}

// Classify partitions one order. The merged order is non-nil only for DecisionMerge.
func (r *Reconciler) Classify(order NormalizedOrder) (Decision, *MergedOrder) {
	r.summary.TotalIncoming++
	if _, dup := r.seen[order.OrderNumber]; dup {
		r.summary.DuplicateInBatch++
	} else {
		r.seen[order.OrderNumber] = struct{}{}
	}

	decision, merged := Classify(order, r.snap)
	switch decision {
	case DecisionNew:
		r.summary.NewCount++
	case DecisionFullyProtected:
		r.summary.FullyProtectedCount++
	case DecisionMerge:
		r.summary.MergedCount++
	}
	return decision, merged
}

// Summary returns the running totals.
func (r *Reconciler) Summary() ReconcileSummary {
	return r.summary
}

// Classify partitions one order against snap without keeping totals.
func Classify(order NormalizedOrder, snap RegistrySnapshot) (Decision, *MergedOrder) {
	rec, ok := snap.Lookup(order.OrderNumber)
	if !ok || !rec.ManuallyEdited {
		return DecisionNew, nil
	}
	if rec.FullyProtected() {
		return DecisionFullyProtected, nil
	}
	merged := Merge(order, rec)
	return DecisionMerge, &merged
}

// Reconcile partitions a whole batch. Duplicate order numbers stay in their
// partition; writers collapse them so the last occurrence wins.
func Reconcile(batch []NormalizedOrder, snap RegistrySnapshot) ReconciliationOutcome {
	r := NewReconciler(snap)
	out := ReconciliationOutcome{
		New:            []NormalizedOrder{},
		FullyProtected: []NormalizedOrder{},
		Merged:         []MergedOrder{},
	}
	for _, order := range batch {
		decision, merged := r.Classify(order)
		switch decision {
		case DecisionNew:
			out.New = append(out.New, order)
		case DecisionFullyProtected:
			out.FullyProtected = append(out.FullyProtected, order)
		case DecisionMerge:
			out.Merged = append(out.Merged, *merged)
		}
	}
	out.Summary = r.Summary()
	return out
}

// Merge combines an incoming order with a protected record field by field.
// Protected fields keep the persisted value; all other mergeable fields adopt
// the incoming value. Identity and edit metadata come from the record.
func Merge(incoming NormalizedOrder, rec EditRecord) MergedOrder {
	merged := MergedOrder{
		ID:              rec.ID,
		Order:           incoming,
		Decisions:       make(map[string]FieldDecision, len(MergeableFields)),
		ManuallyEdited:  rec.ManuallyEdited,
		ProtectedFields: maps.Clone(rec.ProtectedFields),
		LastEditDate:    rec.LastEditDate,
		LastEditedBy:    rec.LastEditedBy,
		EditCount:       rec.EditCount,
	}
	merged.Order.OrderNumber = rec.OrderNumber

	for _, field := range MergeableFields {
		if rec.IsProtected(field) {
			copyField(&merged.Order, rec.Current, field)
			merged.Decisions[field] = DecisionKept
			continue
		}
		merged.Decisions[field] = DecisionAdopted
	}
	return merged
}

// copyField sets one mergeable field of dst from src.
func copyField(dst *NormalizedOrder, src NormalizedOrder, field string) {
	switch field {
	case FieldOrderDate:
		dst.OrderDate = src.OrderDate
	case FieldOrderStatus:
		dst.OrderStatus = src.OrderStatus
	case FieldEngineManufacturer:
		dst.EngineManufacturer = src.EngineManufacturer
	case FieldEngineDescription:
		dst.EngineDescription = src.EngineDescription
	case FieldVehicleModel:
		dst.VehicleModel = src.VehicleModel
	case FieldRawDefectDescription:
		dst.RawDefectDescription = src.RawDefectDescription
	case FieldResponsibleMechanic:
		dst.ResponsibleMechanic = src.ResponsibleMechanic
	case FieldPartsTotal:
		dst.PartsTotal = src.PartsTotal
	case FieldLaborTotal:
		dst.LaborTotal = src.LaborTotal
	case FieldGrandTotal:
		dst.GrandTotal = src.GrandTotal
	}
}
