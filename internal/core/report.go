package core

// DefaultSampleCap bounds how many rejected rows a report keeps verbatim.
const DefaultSampleCap = 20

// RejectedRow is one rejected source row kept as a sample.
type RejectedRow struct {
	Row         int               `json:"row"`
	OrderNumber string            `json:"orderNumber,omitempty"`
	Errors      []ValidationError `json:"errors"`
	Raw         RawRow            `json:"raw,omitempty"`
}

// ValidationReport summarizes validation across one run.
type ValidationReport struct {
	TotalRecords     int            `json:"totalRecords"`
	ValidRecords     int            `json:"validRecords"`
	RejectedRecords  int            `json:"rejectedRecords"`
	WarningCount     int            `json:"warningCount"`
	RejectionReasons map[string]int `json:"rejectionReasons"`
	SampleRejected   []RejectedRow  `json:"sampleRejected"`
}

// ReportBuilder accumulates row outcomes into a ValidationReport.
// A builder belongs to a single run and is not safe for concurrent use.
type ReportBuilder struct {
	sampleCap int
	report    ValidationReport
}

// NewReportBuilder creates a builder keeping at most sampleCap rejected rows.
// A non-positive cap uses DefaultSampleCap.
func NewReportBuilder(sampleCap int) *ReportBuilder {
	if sampleCap <= 0 {
		sampleCap = DefaultSampleCap
	}
	return &ReportBuilder{
		sampleCap: sampleCap,
		report: ValidationReport{
			RejectionReasons: make(map[string]int),
			SampleRejected:   []RejectedRow{},
		},
	}
}

// Record adds one outcome to the report.
func (b *ReportBuilder) Record(o RowOutcome) {
	b.report.TotalRecords++
	b.report.WarningCount += len(o.Warnings)

	if o.Valid {
		b.report.ValidRecords++
		return
	}

	b.report.RejectedRecords++
	for _, e := range o.Errors {
		b.report.RejectionReasons[e.Key()]++
	}
	if len(b.report.SampleRejected) < b.sampleCap {
		b.report.SampleRejected = append(b.report.SampleRejected, RejectedRow{
			Row:         o.Index,
			OrderNumber: o.OrderNumber,
			Errors:      o.Errors,
			Raw:         o.Raw,
		})
	}
}

// Report returns a copy of the accumulated report.
func (b *ReportBuilder) Report() ValidationReport {
	r := b.report
	r.RejectionReasons = make(map[string]int, len(b.report.RejectionReasons))
	for k, v := range b.report.RejectionReasons {
		r.RejectionReasons[k] = v
	}
	r.SampleRejected = append([]RejectedRow(nil), b.report.SampleRejected...)
	if r.SampleRejected == nil {
		r.SampleRejected = []RejectedRow{}
	}
	return r
}
