package core

// convert.go provides type conversion functions for spreadsheet cells to PostgreSQL types.
//
// These functions handle the messy reality of exported service-order sheets:
//   - Typed cells (float64, int, time.Time) next to text cells
//   - Currency symbols and thousand separators in numbers (R$ 1.234,56 or $1,234.56)
//   - Excel formula prefixes (="value")
//   - Common artifacts (BOM, surrounding quotes)
//
// All ToPg* functions return pgtype values with Valid=false for empty/invalid input,
// allowing the database to handle NULLs appropriately.

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
)

// numericRegex validates that a string is a valid numeric format after cleanup.
// Matches integers, decimals, and scientific notation.
var numericRegex = regexp.MustCompile(`^[+-]?(\d+(\.\d*)?|\.\d+)([eE][+-]?\d+)?$`)

// decimalCommaRegex matches amounts written with a comma as the decimal mark.
var decimalCommaRegex = regexp.MustCompile(`^[+-]?\d{1,3}(\.\d{3})*,\d{1,2}$|^[+-]?\d+,\d{1,2}$`)

// HeaderIndex maps a lowercased, cleaned header to its column position.
type HeaderIndex map[string]int

// CellString renders a raw cell as text.
// Whole floats print without a fractional part so numeric order numbers survive.
func CellString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return CleanCell(x)
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return ""
		}
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case time.Time:
		if x.IsZero() {
			return ""
		}
		return x.Format("2006-01-02")
	case []byte:
		return CleanCell(string(x))
	default:
		return ""
	}
}

// ToPgText converts a string to pgtype.Text.
// Returns invalid if the string is empty or only whitespace.
func ToPgText(s string) pgtype.Text {
	s = strings.TrimSpace(s)
	if s == "" {
		return pgtype.Text{Valid: false}
	}
	return pgtype.Text{String: s, Valid: true}
}

// ToPgNumeric converts a string to pgtype.Numeric.
// Handles currency symbols, thousands separators, decimal commas,
// and accounting format (parentheses for negative).
func ToPgNumeric(s string) pgtype.Numeric {
	s = strings.TrimSpace(s)
	if s == "" {
		return pgtype.Numeric{Valid: false}
	}

	// Detect negative accounting format "(123.45)"
	isNegative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		isNegative = true
		s = strings.TrimSpace(s[1 : len(s)-1])
	}

	// Remove common currency symbols
	s = strings.ReplaceAll(s, "R$", "")
	s = strings.ReplaceAll(s, "$", "")
	s = strings.ReplaceAll(s, "\u20ac", "") // Euro
	s = strings.ReplaceAll(s, "\u00a3", "") // Pound
	s = strings.ReplaceAll(s, "\u00a0", "") // NBSP
	s = strings.TrimSpace(s)

	if decimalCommaRegex.MatchString(s) {
		s = strings.ReplaceAll(s, ".", "")
		s = strings.Replace(s, ",", ".", 1)
	} else {
		s = strings.ReplaceAll(s, ",", "")
	}

	// Apply negative sign if needed
	if isNegative {
		s = "-" + s
	}

	if !numericRegex.MatchString(s) {
		return pgtype.Numeric{Valid: false}
	}

	var n pgtype.Numeric
	if err := n.Scan(s); err != nil {
		return pgtype.Numeric{Valid: false}
	}

	return n
}

// CellToPgNumeric converts a raw cell to pgtype.Numeric.
// ok is false when the cell is non-empty but not a number.
func CellToPgNumeric(v any) (n pgtype.Numeric, ok bool) {
	switch x := v.(type) {
	case nil:
		return pgtype.Numeric{}, true
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return pgtype.Numeric{}, false
		}
		n = ToPgNumeric(strconv.FormatFloat(x, 'f', -1, 64))
		return n, n.Valid
	case int, int64, float32:
		n = ToPgNumeric(CellString(x))
		return n, n.Valid
	case string:
		s := CleanCell(x)
		if s == "" {
			return pgtype.Numeric{}, true
		}
		n = ToPgNumeric(s)
		return n, n.Valid
	default:
		return pgtype.Numeric{}, false
	}
}

// NumericFloat returns the float value of n, or 0 when n is NULL.
func NumericFloat(n pgtype.Numeric) float64 {
	if !n.Valid {
		return 0
	}
	f, err := n.Float64Value()
	if err != nil || !f.Valid {
		return 0
	}
	return f.Float64
}

// MakeHeaderIndex creates a HeaderIndex from a header row.
// Keys are lowercased for case-insensitive matching.
func MakeHeaderIndex(header []string) HeaderIndex {
	idx := make(HeaderIndex, len(header))
	for i, h := range header {
		key := strings.ToLower(CleanCell(h))
		if key == "" {
			continue
		}
		idx[key] = i
	}
	return idx
}

// CleanCell removes common export artifacts from a cell value:
// - Trims whitespace and a leading BOM
// - Removes Excel formula prefix (="...")
// - Removes surrounding quotes
func CleanCell(s string) string {
	s = strings.TrimPrefix(s, "\ufeff")
	s = strings.TrimSpace(s)

	// Remove leading '='
	if strings.HasPrefix(s, "=\"") && strings.HasSuffix(s, "\"") {
		s = s[2 : len(s)-1]
	} else if strings.HasPrefix(s, "=") {
		s = s[1:]
	}

	// Remove any surrounding quotes
	s = strings.Trim(s, `"'`)

	return strings.TrimSpace(s)
}
