package core

// validation.go provides row-level validation for service-order rows before reconciliation.
//
// Validation happens at two levels:
//  1. Header validation: ColumnMapping.BindHeaders ensures required columns are present
//  2. Row validation: order_number, order_date and order_status are checked independently
//     and every problem is collected, so one rejected row reports all of its errors
//
// Optional text fields are trimmed (empty becomes NULL) and totals are parsed as decimals.
// A total that is not a number becomes NULL with a warning; totals never reject a row.
// Rejections carry a machine-readable Reason so reports can aggregate them.

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/jackc/pgx/v5/pgtype"
)

// Reason is a machine-readable rejection code.
type Reason string

const (
	ReasonEmptyField           Reason = "EmptyField"
	ReasonEmptyDate            Reason = "EmptyDate"
	ReasonUnparseableDate      Reason = "UnparseableDate"
	ReasonInvalidSerial        Reason = "InvalidSerial"
	ReasonDateOutOfRange       Reason = "DateOutOfRange"
	ReasonImpossibleFutureDate Reason = "ImpossibleFutureDate"
	ReasonInvalidStatus        Reason = "InvalidStatus"
	ReasonMissingColumn        Reason = "MissingColumn"
)

// totalsTolerance is the largest parts+labor vs grand difference not worth a warning.
const totalsTolerance = 0.01

// ValidationError represents a single validation error for a field.
type ValidationError struct {
	Field   string `json:"field"`           // Canonical field name
	Value   string `json:"value,omitempty"` // The invalid value
	Reason  Reason `json:"reason"`          // Rejection code
	Message string `json:"message"`         // Human-readable error message
}

func (e ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	return e.Message
}

// Key is the histogram key for this error, e.g. "EmptyField:order_number".
func (e ValidationError) Key() string {
	if e.Field == "" {
		return string(e.Reason)
	}
	return string(e.Reason) + ":" + e.Field
}

// FieldResult is the outcome of validating one field.
type FieldResult struct {
	Valid      bool              `json:"valid"`
	Value      string            `json:"value,omitempty"` // Normalized value
	Original   any               `json:"original,omitempty"`
	Errors     []ValidationError `json:"errors,omitempty"`
	Warnings   []string          `json:"warnings,omitempty"`
	Confidence Confidence        `json:"confidence"`
}

func rejectField(field string, raw any, reason Reason, msg string) FieldResult {
	return FieldResult{
		Original:   raw,
		Confidence: ConfidenceLow,
		Errors: []ValidationError{{
			Field:   field,
			Value:   CellString(raw),
			Reason:  reason,
			Message: msg,
		}},
	}
}

// ValidateRequiredField rejects nil, empty and whitespace-only values.
func ValidateRequiredField(value any, name string) FieldResult {
	s := CellString(value)
	if s == "" {
		return rejectField(name, value, ReasonEmptyField, "required field is empty")
	}
	return FieldResult{Valid: true, Value: s, Original: value, Confidence: ConfidenceHigh}
}

// ValidateStatus accepts only the warranty codes G, GO and GU (trimmed, case-insensitive).
func ValidateStatus(raw any) FieldResult {
	required := ValidateRequiredField(raw, FieldOrderStatus)
	if !required.Valid {
		return required
	}
	status := OrderStatus(strings.ToUpper(required.Value))
	for _, s := range ValidStatuses {
		if status == s {
			return FieldResult{Valid: true, Value: string(status), Original: raw, Confidence: ConfidenceHigh}
		}
	}
	return rejectField(FieldOrderStatus, raw, ReasonInvalidStatus,
		fmt.Sprintf("status %q must be one of: G, GO, GU", required.Value))
}

// RowOutcome is the validation result of one source row.
type RowOutcome struct {
	Index       int               // 1-based data row number
	OrderNumber string            // Set even when the row is rejected, if present
	Valid       bool              // True if the row can be reconciled
	Order       NormalizedOrder   // Populated when Valid
	Errors      []ValidationError // Every problem found in the row
	Warnings    []string
	Raw         RawRow
}

// RecordValidator validates rows of one sheet.
type RecordValidator struct {
	dates   *DateNormalizer
	columns BoundColumns
}

// NewRecordValidator creates a validator for rows whose headers were bound by columns.
func NewRecordValidator(dates *DateNormalizer, columns BoundColumns) *RecordValidator {
	return &RecordValidator{dates: dates, columns: columns}
}

// ValidateDate wraps DateNormalizer.Parse as a field result.
func (v *RecordValidator) ValidateDate(raw any) FieldResult {
	result, _ := v.validateDate(raw)
	return result
}

func (v *RecordValidator) validateDate(raw any) (FieldResult, ParsedDate) {
	required := ValidateRequiredField(raw, FieldOrderDate)
	if !required.Valid {
		return required, ParsedDate{}
	}
	parsed, err := v.dates.Parse(raw)
	if err != nil {
		var de *DateError
		if errors.As(err, &de) {
			return rejectField(FieldOrderDate, raw, de.Reason, de.Message), ParsedDate{}
		}
		return rejectField(FieldOrderDate, raw, ReasonUnparseableDate, err.Error()), ParsedDate{}
	}
	return FieldResult{
		Valid:      true,
		Value:      parsed.Date.Format("2006-01-02"),
		Original:   raw,
		Warnings:   parsed.Warnings,
		Confidence: parsed.Confidence,
	}, parsed
}

// ValidateRow validates a single row and returns all validation errors.
func (v *RecordValidator) ValidateRow(index int, row RawRow) RowOutcome {
	out := RowOutcome{Index: index, Raw: row}

	number := ValidateRequiredField(v.columns.Value(row, FieldOrderNumber), FieldOrderNumber)
	date, parsed := v.validateDate(v.columns.Value(row, FieldOrderDate))
	status := ValidateStatus(v.columns.Value(row, FieldOrderStatus))
	out.OrderNumber = number.Value

	for _, r := range []FieldResult{number, date, status} {
		out.Errors = append(out.Errors, r.Errors...)
	}
	for _, w := range date.Warnings {
		out.Warnings = append(out.Warnings, FieldOrderDate+": "+w)
	}

	order := NormalizedOrder{
		OrderNumber:          number.Value,
		OrderStatus:          OrderStatus(status.Value),
		EngineManufacturer:   v.text(row, FieldEngineManufacturer),
		EngineDescription:    v.text(row, FieldEngineDescription),
		VehicleModel:         v.text(row, FieldVehicleModel),
		RawDefectDescription: v.text(row, FieldRawDefectDescription),
		ResponsibleMechanic:  v.text(row, FieldResponsibleMechanic),
		OrderDate:            parsed.Date,
	}

	totals := []struct {
		field string
		dst   *pgtype.Numeric
	}{
		{FieldPartsTotal, &order.PartsTotal},
		{FieldLaborTotal, &order.LaborTotal},
		{FieldGrandTotal, &order.GrandTotal},
	}
	for _, t := range totals {
		raw := v.columns.Value(row, t.field)
		n, ok := CellToPgNumeric(raw)
		if !ok {
			// Totals never reject a row; the value is stored as NULL.
			out.Warnings = append(out.Warnings, fmt.Sprintf("%s: invalid number %q stored as NULL", t.field, CellString(raw)))
			continue
		}
		*t.dst = n
	}

	if order.PartsTotal.Valid && order.LaborTotal.Valid && order.GrandTotal.Valid {
		parts, labor, grand := NumericFloat(order.PartsTotal), NumericFloat(order.LaborTotal), NumericFloat(order.GrandTotal)
		if math.Abs(parts+labor-grand) > totalsTolerance {
			out.Warnings = append(out.Warnings, fmt.Sprintf(
				"totals mismatch: parts %.2f + labor %.2f != grand %.2f", parts, labor, grand))
		}
	}

	out.Valid = len(out.Errors) == 0
	if out.Valid {
		out.Order = order
	}
	return out
}

func (v *RecordValidator) text(row RawRow, field string) pgtype.Text {
	return ToPgText(CellString(v.columns.Value(row, field)))
}
