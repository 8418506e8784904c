package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/JonMunkholm/warranty/internal/core"
	"github.com/JonMunkholm/warranty/internal/logging"
	"github.com/JonMunkholm/warranty/internal/sheet"
	"github.com/go-chi/chi/v5"
)

// multipartOverhead is the body allowance on top of the workbook itself.
const multipartOverhead = 1 << 20

// ImportResponse is the body of POST /api/imports.
// Result is present whenever the run started, even if it then failed.
type ImportResponse struct {
	Result *core.ImportResult `json:"result,omitempty"`
	Error  *ErrorResponse     `json:"error,omitempty"`
}

// handleImport reads the uploaded workbook and runs one import over it.
func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	maxSize := s.opts.MaxFileSize
	if maxSize <= 0 {
		maxSize = sheet.DefaultMaxFileSize
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxSize+multipartOverhead)

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var maxBytes *http.MaxBytesError
		if errors.As(err, &maxBytes) {
			respondError(w, r, fmt.Errorf("%w: %w", sheet.ErrFileTooLarge, err))
			return
		}
		respondError(w, r, fmt.Errorf("%w: %w", core.ErrNoSource, err))
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		respondError(w, r, fmt.Errorf("%w: %w", core.ErrNoSource, err))
		return
	}
	defer file.Close()

	logger := logging.WithFields(r.Context(), "file", header.Filename, "size", header.Size)

	src, err := sheet.Open(file, sheet.Options{SheetName: s.opts.SheetName, MaxFileSize: maxSize})
	if err != nil {
		respondError(w, r, err)
		return
	}
	logger.Debug("workbook opened", "sheet", src.Sheet(), "columns", len(src.Headers()))

	result, err := s.service.Import(r.Context(), core.ImportRequest{
		FileName: header.Filename,
		Source:   src,
	})
	if err != nil {
		if result == nil {
			respondError(w, r, err)
			return
		}
		logger.Warn("import ended early", "phase", result.Phase, "error", err)
		writeJSON(w, r, statusFor(err), ImportResponse{Result: result, Error: newErrorResponse(err)})
		return
	}

	writeJSON(w, r, http.StatusOK, ImportResponse{Result: result})
}

// handleImportStatus reports whether an import is running.
func (s *Server) handleImportStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, s.service.LimiterStatus())
}

// handleEditedOrdersReport summarizes the manually edited orders.
func (s *Server) handleEditedOrdersReport(w http.ResponseWriter, r *http.Request) {
	report, err := s.service.EditedOrdersReport(r.Context())
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, report)
}

// handleResetProtection lets the next import overwrite one order again.
func (s *Server) handleResetProtection(w http.ResponseWriter, r *http.Request) {
	orderNumber := strings.TrimSpace(chi.URLParam(r, "orderNumber"))
	if err := s.service.ResetProtection(r.Context(), orderNumber); err != nil {
		respondError(w, r, err)
		return
	}

	logging.FromContext(r.Context()).Info("protection reset", "order_number", orderNumber, "ip", r.RemoteAddr)
	writeJSON(w, r, http.StatusOK, map[string]any{
		"orderNumber": orderNumber,
		"reset":       true,
	})
}

// handleHealth reports liveness and import slot usage.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]any{
		"status":  "ok",
		"imports": s.service.LimiterStatus(),
	})
}

// handleReady checks dependencies.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.opts.Ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.opts.Ready(ctx); err != nil {
			logging.FromContext(r.Context()).Warn("not ready", "error", err)
			writeJSON(w, r, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "ready"})
}
