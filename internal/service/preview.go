package service

import (
	"context"
	"io"
	"strings"

	"github.com/inventory-importer/internal/auth"
	"github.com/inventory-importer/internal/decoder"
	"github.com/inventory-importer/internal/destination"
	apperrors "github.com/inventory-importer/internal/errors"
	"github.com/inventory-importer/internal/logging"
	"github.com/inventory-importer/internal/mapping"
	"github.com/inventory-importer/internal/models"
	"github.com/inventory-importer/internal/schema"
	"github.com/inventory-importer/internal/types"
)

const maxPreviewRows = 50

// PreviewRequest asks for the head of a file before mapping it
type PreviewRequest struct {
	File       io.Reader
	FileName   string
	FileSize   int64
	ImportType string
	// Rows overrides the configured preview size when positive
	Rows int
}

// PreviewResponse is what the mapping screen needs
type PreviewResponse struct {
	ImportType       types.ImportType   `json:"importType"`
	Headers          []string           `json:"headers"`
	Rows             []models.RawRecord `json:"rows"`
	Fields           []schema.Field     `json:"fields"`
	SuggestedMapping map[string]string  `json:"suggestedMapping"`
	// Unmapped lists headers with no matching field
	Unmapped []string `json:"unmapped"`
}

// ImportTypeInfo describes one supported import type
type ImportTypeInfo struct {
	Type   types.ImportType  `json:"type"`
	Mode   types.PersistMode `json:"mode"`
	Fields []schema.Field    `json:"fields"`
}

// Preview decodes the first rows of a file and suggests a header mapping.
// It writes nothing and does not consume import quota.
func (s *ImportService) Preview(ctx context.Context, session auth.Session, req PreviewRequest) (*PreviewResponse, error) {
	if session.ActorID == "" || session.CompanyID == "" {
		return nil, apperrors.NewUnauthorizedError("Please sign in to import data.")
	}
	if !session.Role.CanImport() {
		return nil, apperrors.NewForbiddenError("Only owners and admins can import data.")
	}

	importType, err := types.ParseImportType(req.ImportType)
	if err != nil {
		return nil, apperrors.NewInvalidParameterError("importType", "must be one of the supported import types")
	}
	sch, err := schema.ForType(importType)
	if err != nil {
		return nil, apperrors.NewInvalidParameterError("importType", err.Error())
	}

	up, catErr := inspectUpload(req.File, req.FileName, req.FileSize, s.cfg)
	if catErr != nil {
		return nil, catErr
	}

	rows := s.cfg.PreviewRows
	if req.Rows > 0 {
		rows = req.Rows
	}
	if rows > maxPreviewRows {
		rows = maxPreviewRows
	}

	stream, err := decoder.Open(up.format, up.body, decoder.Options{MaxRows: s.cfg.MaxRows})
	if err != nil {
		return nil, s.streamError(&importRun{upload: up}, err)
	}
	defer func() {
		_ = stream.Close()
	}()

	head, err := decoder.Preview(stream, rows)
	if err != nil {
		return nil, s.streamError(&importRun{upload: up}, err)
	}

	suggested, unmapped := SuggestMapping(head.Headers, sch.FieldNames())

	logging.FromContext(ctx).WithFields(map[string]interface{}{
		"companyId":  session.CompanyID,
		"importType": importType,
		"headers":    len(head.Headers),
		"rows":       len(head.Rows),
	}).Debug("Import preview generated")

	return &PreviewResponse{
		ImportType:       importType,
		Headers:          head.Headers,
		Rows:             head.Rows,
		Fields:           sch.Fields,
		SuggestedMapping: suggested,
		Unmapped:         unmapped,
	}, nil
}

// SuggestMapping pairs headers with fields by comparing them with spaces,
// dashes and underscores removed. Each field is claimed at most once.
func SuggestMapping(headers, fields []string) (map[string]string, []string) {
	byKey := make(map[string]string, len(fields))
	for _, f := range fields {
		byKey[compact(f)] = f
	}

	suggested := make(map[string]string)
	unmapped := []string{}
	claimed := make(map[string]bool)
	for _, h := range headers {
		if h == "" {
			continue
		}
		field, ok := byKey[compact(h)]
		if !ok || claimed[field] {
			unmapped = append(unmapped, h)
			continue
		}
		claimed[field] = true
		suggested[mapping.NormalizeHeader(h)] = field
	}
	return suggested, unmapped
}

func compact(s string) string {
	s = mapping.NormalizeHeader(s)
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '_', '-', '.':
			return -1
		}
		return r
	}, s)
}

// ImportTypes lists every supported import type with its field contract
func (s *ImportService) ImportTypes() []ImportTypeInfo {
	all := schema.All()
	out := make([]ImportTypeInfo, 0, len(all))
	for _, sch := range all {
		info := ImportTypeInfo{Type: sch.Type, Fields: sch.Fields}
		if dest, err := destination.Lookup(sch.Type); err == nil {
			info.Mode = dest.Mode
		}
		out = append(out, info)
	}
	return out
}
