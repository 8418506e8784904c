package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/JonMunkholm/warranty/internal/core"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestImportFinished(t *testing.T) {
	r := NewRegistry()
	r.ImportFinished(&core.ImportResult{
		Phase:    core.PhaseComplete,
		Duration: 2 * time.Second,
		Validation: core.ValidationReport{
			TotalRecords:     10,
			ValidRecords:     8,
			RejectedRecords:  2,
			RejectionReasons: map[string]int{"InvalidStatus:order_status": 2},
		},
		Reconciliation: core.ReconcileSummary{TotalIncoming: 8, NewCount: 5, FullyProtectedCount: 1, MergedCount: 2},
		Apply: core.BatchApplyResult{
			InsertedCount:  3,
			MergedCount:    2,
			ErrorCount:     2,
			PerChunkErrors: []core.ChunkError{{Kind: core.ChunkInsert, Code: "DB007"}},
		},
	})
	r.ImportFinished(&core.ImportResult{Phase: core.PhaseFailed})
	r.ImportFinished(nil)

	checks := []struct {
		name string
		got  float64
		want float64
	}{
		{"complete runs", testutil.ToFloat64(r.Imports.WithLabelValues("complete")), 1},
		{"failed runs", testutil.ToFloat64(r.Imports.WithLabelValues("failed")), 1},
		{"valid rows", testutil.ToFloat64(r.Rows.WithLabelValues("valid")), 8},
		{"rejected rows", testutil.ToFloat64(r.Rows.WithLabelValues("rejected")), 2},
		{"status rejections", testutil.ToFloat64(r.Rejections.WithLabelValues("InvalidStatus:order_status")), 2},
		{"new", testutil.ToFloat64(r.Decisions.WithLabelValues("new")), 5},
		{"merged", testutil.ToFloat64(r.Decisions.WithLabelValues("merge")), 2},
		{"inserted", testutil.ToFloat64(r.Written.WithLabelValues("insert")), 3},
		{"chunk errors", testutil.ToFloat64(r.ChunkErrors.WithLabelValues("insert", "DB007")), 1},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %v, want %v", c.name, c.got, c.want)
		}
	}
	if testutil.ToFloat64(r.LastSuccessTS) == 0 {
		t.Error("last success timestamp should be set")
	}
}

func TestHandler(t *testing.T) {
	r := NewRegistry()
	r.ImportFinished(&core.ImportResult{Phase: core.PhaseCancelled})

	srv := httptest.NewServer(r.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	if !strings.Contains(string(body), `warranty_imports_total{phase="cancelled"} 1`) {
		t.Errorf("metrics output missing the cancelled run:\n%s", body)
	}
}
