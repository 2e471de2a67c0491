package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/arcs-classroom/motivation-hub/internal/application/command"
	"github.com/arcs-classroom/motivation-hub/internal/application/query"
	"github.com/arcs-classroom/motivation-hub/internal/domain/motivation"
	"github.com/arcs-classroom/motivation-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH & STATUS HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]any{
		"name":    "ARCS Motivation Hub API",
		"version": s.deps.Version,
		"endpoints": map[string]string{
			"health":        "/health",
			"import":        "POST /api/v1/arcs/import",
			"questionnaire": "POST /api/v1/students/{id}/questionnaire",
			"recluster":     "POST /api/v1/profiles/recluster",
			"analysis":      "GET /api/v1/materials/{id}/analysis",
			"groups":        "GET|POST /api/v1/materials/{id}/groups",
			"report":        "GET /api/v1/materials/{id}/groups/report",
		},
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.HealthChecker == nil {
		writeJSON(w, r, http.StatusOK, map[string]any{
			"status":  "healthy",
			"uptime":  s.Uptime().String(),
			"version": s.deps.Version,
		})
		return
	}

	status := s.deps.HealthChecker.Check(r.Context())
	code := http.StatusOK
	if !status.Healthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, r, code, status)
}

// handleReady fails only when a critical backend is down.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.deps.HealthChecker != nil {
		status := s.deps.HealthChecker.Check(r.Context())
		if !status.Ready {
			writeJSON(w, r, http.StatusServiceUnavailable, map[string]string{
				"status": "not_ready",
				"reason": status.Message,
			})
			return
		}
	}
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "alive"})
}

// ══════════════════════════════════════════════════════════════════════════════
// PROFILE HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleImportARCS handles POST /api/v1/arcs/import. The CSV arrives either
// as the multipart field "file" or as the raw request body.
func (s *Server) handleImportARCS(w http.ResponseWriter, r *http.Request) {
	if s.deps.IngestARCSCSV == nil {
		writeNotConfigured(w, r, "ingest")
		return
	}

	payload, filename, err := s.readUpload(r)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	result, err := s.deps.IngestARCSCSV.Handle(r.Context(), command.IngestARCSCSVCommand{
		Payload:  payload,
		Filename: filename,
	})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, result)
}

func (s *Server) readUpload(r *http.Request) ([]byte, string, error) {
	const op = "ImportARCS"
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	if mediaType == "multipart/form-data" {
		if err := r.ParseMultipartForm(s.uploadLimit()); err != nil {
			return nil, "", uploadError(op, err)
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			return nil, "", shared.WrapError("http", op, shared.ErrValidation, "multipart field \"file\" is required", err)
		}
		defer file.Close()

		payload, err := io.ReadAll(io.LimitReader(file, s.uploadLimit()+1))
		if err != nil {
			return nil, "", uploadError(op, err)
		}
		return payload, header.Filename, nil
	}

	payload, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, "", uploadError(op, err)
	}
	return payload, "", nil
}

func uploadError(op string, err error) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return shared.WrapError("http", op, shared.ErrPayloadTooLarge,
			fmt.Sprintf("upload exceeds %d bytes", tooLarge.Limit), err)
	}
	return shared.WrapError("http", op, shared.ErrFormat, "unreadable upload", err)
}

// questionnaireBody is the body of POST /api/v1/students/{id}/questionnaire.
type questionnaireBody struct {
	Answers []motivation.Answer `json:"answers"`
}

func (s *Server) handleSubmitQuestionnaire(w http.ResponseWriter, r *http.Request) {
	if s.deps.SubmitQuestionnaire == nil {
		writeNotConfigured(w, r, "questionnaire")
		return
	}

	var body questionnaireBody
	if err := decodeJSON(w, r, &body, false); err != nil {
		writeDomainError(w, r, err)
		return
	}

	result, err := s.deps.SubmitQuestionnaire.Handle(r.Context(), command.SubmitQuestionnaireCommand{
		StudentID: r.PathValue("id"),
		Answers:   body.Answers,
	})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, result)
}

func (s *Server) handleRecluster(w http.ResponseWriter, r *http.Request) {
	if s.deps.ReclusterAll == nil {
		writeNotConfigured(w, r, "recluster")
		return
	}

	result, err := s.deps.ReclusterAll.Handle(r.Context())
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, result)
}

// ══════════════════════════════════════════════════════════════════════════════
// MATERIAL HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleAnalyzeClass handles GET /api/v1/materials/{id}/analysis?k=&max_unanalyzed=
func (s *Server) handleAnalyzeClass(w http.ResponseWriter, r *http.Request) {
	if s.deps.AnalyzeClass == nil {
		writeNotConfigured(w, r, "analysis")
		return
	}

	k, err := queryInt(r, "k")
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	q := query.AnalyzeClassQuery{MaterialID: r.PathValue("id")}
	if k != nil {
		q.K = *k
	}
	if q.MaxUnanalyzed, err = queryInt(r, "max_unanalyzed"); err != nil {
		writeDomainError(w, r, err)
		return
	}

	result, err := s.deps.AnalyzeClass.Handle(r.Context(), q)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, result)
}

// handleFormGroups handles POST /api/v1/materials/{id}/groups. The body
// carries the run options; an empty body forms ⌈N/5⌉ heterogeneous groups.
func (s *Server) handleFormGroups(w http.ResponseWriter, r *http.Request) {
	if s.deps.FormGroups == nil {
		writeNotConfigured(w, r, "formation")
		return
	}

	var cmd command.FormGroupsCommand
	if err := decodeJSON(w, r, &cmd, true); err != nil {
		writeDomainError(w, r, err)
		return
	}
	cmd.MaterialID = r.PathValue("id")

	result, err := s.deps.FormGroups.Handle(r.Context(), cmd)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, result)
}

func (s *Server) handleGetGroups(w http.ResponseWriter, r *http.Request) {
	if s.deps.GetGroups == nil {
		writeNotConfigured(w, r, "groups")
		return
	}

	result, err := s.deps.GetGroups.Handle(r.Context(), query.GetGroupsQuery{MaterialID: r.PathValue("id")})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, result)
}

// handleExportReport streams the rendered report as an attachment.
func (s *Server) handleExportReport(w http.ResponseWriter, r *http.Request) {
	if s.deps.ExportGroupReport == nil {
		writeNotConfigured(w, r, "report")
		return
	}

	doc, err := s.deps.ExportGroupReport.Handle(r.Context(), query.ExportGroupReportQuery{
		MaterialID: r.PathValue("id"),
		Priority:   r.URL.Query().Get("priority"),
	})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", doc.ContentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": doc.Filename}))
	w.Header().Set("Content-Length", strconv.Itoa(len(doc.Content)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(doc.Content)
}

// ══════════════════════════════════════════════════════════════════════════════
// REQUEST HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// decodeJSON reads a JSON body into dst. Unknown fields are rejected.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any, allowEmpty bool) error {
	const op = "DecodeBody"
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBodyBytes))
	dec.DisallowUnknownFields()

	err := dec.Decode(dst)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, io.EOF) && allowEmpty:
		return nil
	}

	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return shared.WrapError("http", op, shared.ErrPayloadTooLarge, "request body too large", err)
	}
	return shared.WrapError("http", op, shared.ErrValidation, "invalid JSON body", err)
}

// queryInt parses an optional integer query parameter.
func queryInt(r *http.Request, key string) (*int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return nil, shared.Errorf("http", "ParseQuery", shared.ErrValidation, "%s must be an integer, got %q", key, raw)
	}
	return &v, nil
}

func writeNotConfigured(w http.ResponseWriter, r *http.Request, what string) {
	writeJSONError(w, r, http.StatusNotImplemented, "not_implemented", what+" handler not configured")
}
