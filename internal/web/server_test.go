package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/JonMunkholm/warranty/internal/core"
	"github.com/xuri/excelize/v2"
)

// fakeService drains the source it is given and answers with canned values.
type fakeService struct {
	importErr    error
	importResult *core.ImportResult
	rows         int
	headers      []string

	report    core.EditedOrdersReport
	reportErr error

	resetErr error
	resetFor string
}

func (f *fakeService) Import(ctx context.Context, req core.ImportRequest) (*core.ImportResult, error) {
	defer req.Source.Close()
	f.headers = req.Source.Headers()
	for {
		_, ok, err := req.Source.Next(ctx)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		f.rows++
	}
	if f.importResult != nil || f.importErr != nil {
		return f.importResult, f.importErr
	}
	return &core.ImportResult{RunID: "run-1", FileName: req.FileName, Phase: core.PhaseComplete}, nil
}

func (f *fakeService) EditedOrdersReport(context.Context) (core.EditedOrdersReport, error) {
	return f.report, f.reportErr
}

func (f *fakeService) ResetProtection(_ context.Context, orderNumber string) error {
	f.resetFor = orderNumber
	return f.resetErr
}

func (f *fakeService) LimiterStatus() core.ImportLimiterStatus {
	return core.ImportLimiterStatus{Active: 0, Available: 1, MaxConcurrent: 1}
}

func xlsx(t *testing.T, sheetName string, rows ...[]any) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	if sheetName != "Sheet1" {
		if _, err := f.NewSheet(sheetName); err != nil {
			t.Fatal(err)
		}
	}
	for i, row := range rows {
		r := row
		if err := f.SetSheetRow(sheetName, fmt.Sprintf("A%d", i+1), &r); err != nil {
			t.Fatal(err)
		}
	}
	buf, err := f.WriteToBuffer()
	if err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func uploadRequest(t *testing.T, field, name string, data []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile(field, name)
	if err != nil {
		t.Fatal(err)
	}
	part.Write(data)
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/imports", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v (body %q)", err, rec.Body.String())
	}
	return v
}

func newTestServer(svc ImportService) *Server {
	return NewServer(svc, Options{SheetName: "Tabela", MaxFileSize: 1 << 20})
}

func TestHandleImport(t *testing.T) {
	svc := &fakeService{}
	srv := newTestServer(svc)

	data := xlsx(t, "Tabela",
		[]any{"NOrdem_OSv", "Data_OSv", "Status_OSv"},
		[]any{"OS-1", "15/03/2024", "G"},
		[]any{"OS-2", 45366, "GO"},
	)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, uploadRequest(t, "file", "os.xlsx", data))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	resp := decode[ImportResponse](t, rec)
	if resp.Result == nil || resp.Result.FileName != "os.xlsx" || resp.Error != nil {
		t.Errorf("response = %+v", resp)
	}
	if svc.rows != 2 {
		t.Errorf("rows streamed = %d, want 2", svc.rows)
	}
	if strings.Join(svc.headers, ",") != "NOrdem_OSv,Data_OSv,Status_OSv" {
		t.Errorf("headers = %v", svc.headers)
	}
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("security headers missing")
	}
}

func TestHandleImport_Errors(t *testing.T) {
	good := func(t *testing.T) []byte {
		return xlsx(t, "Tabela", []any{"NOrdem_OSv"}, []any{"OS-1"})
	}

	tests := []struct {
		name       string
		svc        *fakeService
		req        func(t *testing.T) *http.Request
		wantStatus int
		wantCode   string
		wantResult bool
	}{
		{
			name:       "no file field",
			svc:        &fakeService{},
			req:        func(t *testing.T) *http.Request { return uploadRequest(t, "other", "os.xlsx", good(t)) },
			wantStatus: http.StatusBadRequest,
			wantCode:   "FILE004",
		},
		{
			name: "wrong sheet",
			svc:  &fakeService{},
			req: func(t *testing.T) *http.Request {
				return uploadRequest(t, "file", "os.xlsx", xlsx(t, "Sheet1", []any{"A"}))
			},
			wantStatus: http.StatusBadRequest,
			wantCode:   "FILE003",
		},
		{
			name: "not a workbook",
			svc:  &fakeService{},
			req: func(t *testing.T) *http.Request {
				return uploadRequest(t, "file", "os.csv", []byte("a,b\n1,2\n"))
			},
			wantStatus: http.StatusBadRequest,
			wantCode:   "FILE002",
		},
		{
			name: "too large",
			svc:  &fakeService{},
			req: func(t *testing.T) *http.Request {
				return uploadRequest(t, "file", "os.xlsx", bytes.Repeat([]byte("x"), 1<<20+1<<19))
			},
			wantStatus: http.StatusRequestEntityTooLarge,
			wantCode:   "FILE001",
		},
		{
			name:       "busy",
			svc:        &fakeService{importErr: core.ErrTooManyImports},
			req:        func(t *testing.T) *http.Request { return uploadRequest(t, "file", "os.xlsx", good(t)) },
			wantStatus: http.StatusTooManyRequests,
			wantCode:   "IMP002",
		},
		{
			name: "registry down keeps the partial result",
			svc: &fakeService{
				importErr:    fmt.Errorf("import r: %w", fmt.Errorf("%w: %w", core.ErrRegistryLoad, errors.New("connection refused"))),
				importResult: &core.ImportResult{RunID: "r", Phase: core.PhaseFailed},
			},
			req:        func(t *testing.T) *http.Request { return uploadRequest(t, "file", "os.xlsx", good(t)) },
			wantStatus: http.StatusServiceUnavailable,
			wantCode:   "IMP001",
			wantResult: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			newTestServer(tt.svc).Router().ServeHTTP(rec, tt.req(t))

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.wantStatus, rec.Body.String())
			}

			var code string
			var hasResult bool
			if tt.wantResult {
				resp := decode[ImportResponse](t, rec)
				hasResult = resp.Result != nil
				if resp.Error != nil {
					code = resp.Error.Code
				}
			} else {
				code = decode[ErrorResponse](t, rec).Code
			}
			if code != tt.wantCode {
				t.Errorf("code = %q, want %q", code, tt.wantCode)
			}
			if hasResult != tt.wantResult {
				t.Errorf("result present = %v, want %v", hasResult, tt.wantResult)
			}
		})
	}
}

func TestHandleImport_BusySetsRetryAfter(t *testing.T) {
	srv := newTestServer(&fakeService{importErr: core.ErrTooManyImports})
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, uploadRequest(t, "file", "os.xlsx", xlsx(t, "Tabela", []any{"A"})))

	if rec.Header().Get("Retry-After") == "" {
		t.Error("Retry-After header missing")
	}
}

func TestHandleEditedOrdersReport(t *testing.T) {
	svc := &fakeService{report: core.EditedOrdersReport{
		TotalEdited:          3,
		FieldProtectionStats: map[string]int{core.FieldResponsibleMechanic: 2},
	}}
	rec := httptest.NewRecorder()
	newTestServer(svc).Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/edited-orders/report", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	got := decode[core.EditedOrdersReport](t, rec)
	if got.TotalEdited != 3 || got.FieldProtectionStats[core.FieldResponsibleMechanic] != 2 {
		t.Errorf("report = %+v", got)
	}

	svc.reportErr = fmt.Errorf("%w: %w", core.ErrRegistryLoad, errors.New("boom"))
	rec = httptest.NewRecorder()
	newTestServer(svc).Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/edited-orders/report", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestHandleResetProtection(t *testing.T) {
	svc := &fakeService{}
	rec := httptest.NewRecorder()
	newTestServer(svc).Router().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/orders/OS-77/reset-protection", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if svc.resetFor != "OS-77" {
		t.Errorf("reset for %q, want OS-77", svc.resetFor)
	}

	svc.resetErr = fmt.Errorf("reset protection for X: %w", core.ErrOrderNotFound)
	rec = httptest.NewRecorder()
	newTestServer(svc).Router().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/orders/X/reset-protection", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestHealthAndReady(t *testing.T) {
	ready := errors.New("db down")
	srv := NewServer(&fakeService{}, Options{
		Ready:   func(context.Context) error { return ready },
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.Write([]byte("metrics")) }),
	})

	tests := []struct {
		path       string
		wantStatus int
		wantBody   string
	}{
		{"/healthz", http.StatusOK, `"max_concurrent":1`},
		{"/readyz", http.StatusServiceUnavailable, "unavailable"},
		{"/metrics", http.StatusOK, "metrics"},
		{"/api/imports/status", http.StatusOK, `"available":1`},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
		if rec.Code != tt.wantStatus || !strings.Contains(rec.Body.String(), tt.wantBody) {
			t.Errorf("GET %s = %d %q, want %d containing %q", tt.path, rec.Code, rec.Body.String(), tt.wantStatus, tt.wantBody)
		}
	}

	ready = nil
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("/readyz after recovery = %d", rec.Code)
	}
}
