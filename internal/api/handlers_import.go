package api

import (
	"errors"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/inventory-importer/internal/auth"
	apperrors "github.com/inventory-importer/internal/errors"
	"github.com/inventory-importer/internal/logging"
	"github.com/inventory-importer/internal/models"
	"github.com/inventory-importer/internal/service"
	"github.com/inventory-importer/internal/types"
)

// formMemory is how much of a multipart body is kept in memory before
// spilling to a temp file
const formMemory = 4 << 20

// handleImport handles POST /api/imports
func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	session, _ := auth.FromContext(r.Context())

	file, header, parseErr := s.readUpload(r)
	if parseErr != nil {
		respondImport(w, rejectedUpload(parseErr))
		return
	}
	if file != nil {
		defer file.Close()
	}

	dryRun := false
	if raw := strings.TrimSpace(r.FormValue("dryRun")); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			respondImport(w, rejectedUpload(apperrors.NewInvalidParameterError("dryRun", "must be true or false")))
			return
		}
		dryRun = v
	}

	csrf := r.FormValue("csrfToken")
	if csrf == "" {
		csrf = r.Header.Get("X-CSRF-Token")
	}

	req := service.ImportRequest{
		ImportType: r.FormValue("importType"),
		Mapping:    r.FormValue("mapping"),
		DryRun:     dryRun,
		CSRFToken:  csrf,
	}
	if file != nil {
		req.File = file
		req.FileName = header.Filename
		req.FileSize = header.Size
	}

	respondImport(w, s.imports.Import(r.Context(), session, req))
}

// handlePreview handles POST /api/imports/preview
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	session, _ := auth.FromContext(r.Context())

	file, header, parseErr := s.readUpload(r)
	if parseErr != nil {
		respondServiceError(w, r, parseErr)
		return
	}

	req := service.PreviewRequest{ImportType: r.FormValue("importType")}
	if file != nil {
		defer file.Close()
		req.File = file
		req.FileName = header.Filename
		req.FileSize = header.Size
	}
	if raw := strings.TrimSpace(r.FormValue("rows")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			respondServiceError(w, r, apperrors.NewInvalidParameterError("rows", "must be a positive integer"))
			return
		}
		req.Rows = n
	}

	res, err := s.imports.Preview(r.Context(), session, req)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

// handleListImports handles GET /api/imports
func (s *Server) handleListImports(w http.ResponseWriter, r *http.Request) {
	session, _ := auth.FromContext(r.Context())
	q := r.URL.Query()

	filter := models.JobFilter{Status: types.JobStatus(q.Get("status"))}
	if raw := q.Get("type"); raw != "" {
		t, err := types.ParseImportType(raw)
		if err != nil {
			respondServiceError(w, r, apperrors.NewInvalidParameterError("type", "must be one of the supported import types"))
			return
		}
		filter.ImportType = t
	}
	for name, dst := range map[string]*int{"limit": &filter.Limit, "offset": &filter.Offset} {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			respondServiceError(w, r, apperrors.NewInvalidParameterError(name, "must be a non-negative integer"))
			return
		}
		*dst = n
	}

	jobs, err := s.imports.ListJobs(r.Context(), session, filter)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"imports": jobs,
		"count":   len(jobs),
	})
}

// handleGetImport handles GET /api/imports/{id}
func (s *Server) handleGetImport(w http.ResponseWriter, r *http.Request) {
	session, _ := auth.FromContext(r.Context())

	job, err := s.imports.GetJob(r.Context(), session, mux.Vars(r)["id"])
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, job)
}

// handleImportTypes handles GET /api/import-types
func (s *Server) handleImportTypes(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"importTypes": s.imports.ImportTypes(),
	})
}

// readUpload parses the multipart form and returns the "file" part, or a
// nil file when none was sent
func (s *Server) readUpload(r *http.Request) (multipart.File, *multipart.FileHeader, error) {
	if err := r.ParseMultipartForm(formMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, nil, apperrors.NewFileTooLargeError(tooLarge.Limit, s.imports.Config().MaxFileSize)
		}
		if errors.Is(err, http.ErrNotMultipart) {
			return nil, nil, apperrors.NewInvalidParameterError("body", "must be multipart/form-data")
		}
		logging.FromContext(r.Context()).WithError(err).Info("Unreadable multipart body")
		return nil, nil, apperrors.NewInvalidParameterError("body", "could not be read as multipart/form-data")
	}

	file, header, err := r.FormFile("file")
	if errors.Is(err, http.ErrMissingFile) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, apperrors.NewInvalidParameterError("file", "could not be read")
	}
	return file, header, nil
}

func rejectedUpload(err error) *models.ImportResult {
	catErr := apperrors.Categorize(err)
	return &models.ImportResult{
		Success:        false,
		Errors:         []models.RowError{},
		SummaryMessage: apperrors.UserMessage(catErr),
		ErrorCode:      catErr.Code,
	}
}
