package core

import (
	"errors"
	"fmt"
	"strings"
)

// Canonical field names of a service order.
const (
	FieldOrderNumber          = "order_number"
	FieldOrderDate            = "order_date"
	FieldOrderStatus          = "order_status"
	FieldEngineManufacturer   = "engine_manufacturer"
	FieldEngineDescription    = "engine_description"
	FieldVehicleModel         = "vehicle_model"
	FieldRawDefectDescription = "raw_defect_description"
	FieldResponsibleMechanic  = "responsible_mechanic"
	FieldPartsTotal           = "parts_total"
	FieldLaborTotal           = "labor_total"
	FieldGrandTotal           = "grand_total"
)

// ErrMissingColumns is returned when a sheet lacks required columns.
var ErrMissingColumns = errors.New("missing required columns")

// ColumnSpec maps one source header to a canonical field.
type ColumnSpec struct {
	Source   string
	Field    string
	Required bool
}

// ColumnMapping is the declared source-to-field table.
type ColumnMapping []ColumnSpec

// DefaultColumnMapping mirrors the service-order export sheet.
var DefaultColumnMapping = ColumnMapping{
	{Source: "NOrdem_OSv", Field: FieldOrderNumber, Required: true},
	{Source: "Data_OSv", Field: FieldOrderDate, Required: true},
	{Source: "Status_OSv", Field: FieldOrderStatus, Required: true},
	{Source: "Fabricante_Mot", Field: FieldEngineManufacturer},
	{Source: "Descricao_Mot", Field: FieldEngineDescription},
	{Source: "ModeloVei_Osv", Field: FieldVehicleModel},
	{Source: "ObsCorpo_OSv", Field: FieldRawDefectDescription},
	{Source: "RazaoSocial_Cli", Field: FieldResponsibleMechanic},
	{Source: "TotalProd_OSv", Field: FieldPartsTotal},
	{Source: "TotalServ_OSv", Field: FieldLaborTotal},
	{Source: "Total_OSv", Field: FieldGrandTotal},
}

// BoundColumns resolves canonical fields to the actual header text of one sheet.
type BoundColumns struct {
	source map[string]string // field -> header as it appears in the sheet
}

// BindHeaders checks headers against the mapping. Matching is
// case-insensitive after CleanCell; unknown extra columns are ignored.
// Missing required columns fail with ErrMissingColumns.
func (m ColumnMapping) BindHeaders(headers []string) (BoundColumns, error) {
	idx := MakeHeaderIndex(headers)
	bound := BoundColumns{source: make(map[string]string, len(m))}

	var missing []string
	for _, spec := range m {
		pos, ok := idx[strings.ToLower(spec.Source)]
		if !ok {
			if spec.Required {
				missing = append(missing, spec.Source)
			}
			continue
		}
		bound.source[spec.Field] = headers[pos]
	}

	if len(missing) > 0 {
		return BoundColumns{}, fmt.Errorf("%w: %s", ErrMissingColumns, strings.Join(missing, ", "))
	}
	return bound, nil
}

// Value returns the raw cell for field, or nil when the column is absent.
func (b BoundColumns) Value(row RawRow, field string) any {
	header, ok := b.source[field]
	if !ok {
		return nil
	}
	return row[header]
}

// Has reports whether the sheet carries a column for field.
func (b BoundColumns) Has(field string) bool {
	_, ok := b.source[field]
	return ok
}
