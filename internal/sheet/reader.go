// Package sheet extracts service-order rows from .xlsx workbooks.
//
// A Reader streams one worksheet row by row and implements core.RowSource.
// The first row is the header; each later row becomes a core.RawRow keyed by
// header text. Cells are read raw, so date cells arrive as spreadsheet serial
// numbers and the core date normalizer decides what they mean. Only cells
// stored as numbers become float64; text cells stay text even when they look
// numeric, so identifiers such as "123.10" keep every character.
package sheet

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/JonMunkholm/warranty/internal/core"
	"github.com/xuri/excelize/v2"
)

// DefaultSheetName is the worksheet the service-order export stores its data in.
const DefaultSheetName = "Tabela"

// DefaultMaxFileSize bounds the workbook size read into memory.
const DefaultMaxFileSize int64 = 50 << 20

var (
	ErrFileTooLarge    = errors.New("file too large")
	ErrInvalidWorkbook = errors.New("not a valid spreadsheet")
	ErrSheetNotFound   = errors.New("sheet not found")
	ErrNoHeader        = errors.New("sheet has no header row")
)

// Options configures Open.
type Options struct {
	// SheetName selects the worksheet; empty means the first sheet.
	SheetName string
	// MaxFileSize rejects larger workbooks; zero means DefaultMaxFileSize.
	MaxFileSize int64
}

// Reader yields the rows of one worksheet.
type Reader struct {
	file    *excelize.File
	rows    *excelize.Rows
	sheet   string
	headers []string
	line    int
	closed  bool
}

var _ core.RowSource = (*Reader)(nil)

// Open reads a workbook from r and positions the reader after the header row.
// The caller must Close the reader.
func Open(r io.Reader, opts Options) (*Reader, error) {
	limit := opts.MaxFileSize
	if limit <= 0 {
		limit = DefaultMaxFileSize
	}

	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, fmt.Errorf("read workbook: %w", err)
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("%w: limit is %d MB", ErrFileTooLarge, limit>>20)
	}

	f, err := excelize.OpenReader(bytes.NewReader(data), excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w: %w", ErrInvalidWorkbook, err)
	}

	rd, err := newReader(f, opts.SheetName)
	if err != nil {
		f.Close()
		return nil, err
	}
	return rd, nil
}

func newReader(f *excelize.File, name string) (*Reader, error) {
	sheet, err := pickSheet(f, name)
	if err != nil {
		return nil, err
	}

	rows, err := f.Rows(sheet)
	if err != nil {
		return nil, fmt.Errorf("read sheet %s: %w", sheet, err)
	}

	rd := &Reader{file: f, rows: rows, sheet: sheet}
	for rows.Next() {
		rd.line++
		cols, err := rows.Columns()
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("read header of %s: %w", sheet, err)
		}
		if isBlank(cols) {
			continue
		}
		rd.headers = cols
		return rd, nil
	}
	rows.Close()
	if err := rows.Error(); err != nil {
		return nil, fmt.Errorf("read header of %s: %w", sheet, err)
	}
	return nil, fmt.Errorf("%w: %s", ErrNoHeader, sheet)
}

// pickSheet resolves name against the workbook, matching case-insensitively.
func pickSheet(f *excelize.File, name string) (string, error) {
	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return "", fmt.Errorf("%w: workbook has no sheets", ErrSheetNotFound)
	}
	if name == "" {
		return sheets[0], nil
	}
	for _, s := range sheets {
		if strings.EqualFold(strings.TrimSpace(s), name) {
			return s, nil
		}
	}
	return "", fmt.Errorf("%w: %s (workbook has %s)", ErrSheetNotFound, name, strings.Join(sheets, ", "))
}

// Sheet returns the name of the worksheet being read.
func (r *Reader) Sheet() string {
	return r.sheet
}

// Headers returns the header row as written in the sheet.
func (r *Reader) Headers() []string {
	return r.headers
}

// Line returns the 1-based sheet line of the last row read.
func (r *Reader) Line() int {
	return r.line
}

// Next returns the next non-blank row.
func (r *Reader) Next(ctx context.Context) (core.RawRow, bool, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, false, err
		}
		if !r.rows.Next() {
			if err := r.rows.Error(); err != nil {
				return nil, false, fmt.Errorf("read %s: %w", r.sheet, err)
			}
			return nil, false, nil
		}
		r.line++

		cols, err := r.rows.Columns()
		if err != nil {
			return nil, false, fmt.Errorf("read %s line %d: %w", r.sheet, r.line, err)
		}
		if isBlank(cols) {
			continue
		}
		row, err := r.toRow(cols)
		if err != nil {
			return nil, false, fmt.Errorf("read %s line %d: %w", r.sheet, r.line, err)
		}
		return row, true, nil
	}
}

func (r *Reader) toRow(cols []string) (core.RawRow, error) {
	row := make(core.RawRow, len(r.headers))
	for i, h := range r.headers {
		if h == "" {
			continue
		}
		if i >= len(cols) || strings.TrimSpace(cols[i]) == "" {
			row[h] = nil
			continue
		}

		cell, err := excelize.CoordinatesToCellName(i+1, r.line)
		if err != nil {
			return nil, err
		}
		typ, err := r.file.GetCellType(r.sheet, cell)
		if err != nil {
			return nil, fmt.Errorf("cell %s: %w", cell, err)
		}
		row[h] = cellValue(cols[i], typ)
	}
	return row, nil
}

// cellValue types one raw cell: nil when empty, float64 when the cell is
// stored as a number, the raw text otherwise.
func cellValue(raw string, typ excelize.CellType) any {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil
	}
	switch typ {
	case excelize.CellTypeUnset, excelize.CellTypeNumber:
		// Numeric cells carry no type attribute in most writers.
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
	}
	return raw
}

func isBlank(cols []string) bool {
	for _, c := range cols {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

// Close releases the row iterator and the workbook.
// Closing twice is a no-op.
func (r *Reader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	rerr := r.rows.Close()
	ferr := r.file.Close()
	return errors.Join(rerr, ferr)
}
