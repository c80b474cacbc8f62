package app

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/cors"
	"github.com/rs/zerolog"

	"brandlift/api/internal/access"
	"brandlift/api/internal/auth"
	"brandlift/api/internal/export"
	"brandlift/api/internal/logger"
	"brandlift/api/internal/ordering"
)

const maxBodyBytes = 1 << 20

type HTTPServer struct {
	service     *Service
	corsOrigins []string
	log         zerolog.Logger
}

func NewHTTPServer(service *Service, corsOrigins []string, log zerolog.Logger) *HTTPServer {
	return &HTTPServer{service: service, corsOrigins: corsOrigins, log: log}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withCORS(s.withMiddleware(http.HandlerFunc(s.handle)))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	parts := splitPath(r.URL.Path)
	if len(parts) == 0 || parts[0] != "api" {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	parts = parts[1:]

	if len(parts) == 1 && parts[0] == "health" && (r.Method == http.MethodGet || r.Method == http.MethodHead) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if len(parts) == 1 && parts[0] == "ready" && (r.Method == http.MethodGet || r.Method == http.MethodHead) {
		s.handleReady(w, r)
		return
	}

	if len(parts) == 1 && parts[0] == "session" && r.Method == http.MethodGet {
		token := bearerToken(r)
		if token == "" {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false})
			return
		}
		sess, err := s.service.Authenticate(r.Context(), token)
		if err != nil {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"authenticated": true,
			"userId":        sess.Caller.UserID,
			"userName":      sess.Caller.Name,
			"orgId":         sess.Caller.OrgID,
			"role":          sess.Caller.Role,
			"superAdmin":    sess.Caller.SuperAdmin,
			"expiresAt":     sess.ExpiresAt,
		})
		return
	}

	sess, ok := s.requireSession(w, r)
	if !ok {
		return
	}
	caller := sess.Caller

	if len(parts) == 2 && parts[0] == "session" && parts[1] == "logout" && r.Method == http.MethodPost {
		if err := s.service.Logout(r.Context(), sess); err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	switch {
	case len(parts) >= 1 && parts[0] == "studies":
		s.routeStudies(w, r, caller, parts[1:])
	case len(parts) >= 2 && parts[0] == "questions":
		s.routeQuestion(w, r, caller, access.Question(parts[1]), parts[2:])
	case len(parts) == 2 && parts[0] == "options":
		s.handleOption(w, r, caller, access.Option(parts[1]))
	case len(parts) == 4 && parts[0] == "admin" && parts[1] == "studies" && parts[3] == "export":
		if r.Method != http.MethodGet {
			writeMethodNotAllowed(w)
			return
		}
		format, ok := parseExportFormat(w, r)
		if !ok {
			return
		}
		result, err := s.service.AdminExportStudy(r.Context(), caller, access.Study(parts[2]), format)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeFile(w, result)
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{
		"database": map[string]any{"status": "ok"},
	}
	if err := s.service.Ping(ctx); err != nil {
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
		checks["database"] = map[string]any{
			"status": "error",
			"error":  err.Error(),
		}
	}
	writeJSON(w, statusCode, map[string]any{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
}

// routeStudies dispatches everything under /api/studies. rest excludes the
// "studies" segment itself.
func (s *HTTPServer) routeStudies(w http.ResponseWriter, r *http.Request, caller access.Caller, rest []string) {
	ctx := r.Context()

	if len(rest) == 0 {
		switch r.Method {
		case http.MethodGet:
			limit, ok := queryLimit(w, r)
			if !ok {
				return
			}
			items, err := s.service.ListStudies(ctx, caller, StudyListFilter{
				OrgID:  strings.TrimSpace(r.URL.Query().Get("orgId")),
				Status: strings.TrimSpace(r.URL.Query().Get("status")),
				Limit:  limit,
			})
			if err != nil {
				s.writeServiceError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"studies": items})
		case http.MethodPost:
			var body CreateStudyInput
			if !decodeInto(w, r, &body) {
				return
			}
			created, err := s.service.CreateStudy(ctx, caller, body)
			if err != nil {
				s.writeServiceError(w, r, err)
				return
			}
			writeJSON(w, http.StatusCreated, map[string]any{"study": created})
		default:
			writeMethodNotAllowed(w)
		}
		return
	}

	if len(rest) == 1 && rest[0] == "search" {
		if r.Method != http.MethodGet {
			writeMethodNotAllowed(w)
			return
		}
		limit, ok := queryLimit(w, r)
		if !ok {
			return
		}
		payload, err := s.service.SearchStudies(ctx, caller, r.URL.Query().Get("q"), StudyListFilter{
			OrgID:  strings.TrimSpace(r.URL.Query().Get("orgId")),
			Status: strings.TrimSpace(r.URL.Query().Get("status")),
			Limit:  limit,
		})
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	studyTarget := access.Study(rest[0])
	switch {
	case len(rest) == 1:
		s.handleStudy(w, r, caller, studyTarget)
	case len(rest) == 2 && rest[1] == "duplicate":
		if r.Method != http.MethodPost {
			writeMethodNotAllowed(w)
			return
		}
		var body DuplicateStudyInput
		if !decodeInto(w, r, &body) {
			return
		}
		created, err := s.service.DuplicateStudy(ctx, caller, studyTarget, body)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"study": created})
	case len(rest) == 2 && rest[1] == "questions":
		s.handleQuestionCollection(w, r, caller, studyTarget)
	case len(rest) >= 2 && rest[1] == "approval":
		s.handleApproval(w, r, caller, studyTarget, rest[2:])
	case len(rest) == 3 && rest[1] == "questions" && rest[2] == "reorder":
		s.handleReorder(w, r, func(req ReorderRequest) (ReorderResult, error) {
			return s.service.ReorderQuestions(ctx, caller, studyTarget, req)
		})
	case len(rest) >= 3 && rest[1] == "questions":
		questionTarget := access.Question(rest[2])
		questionTarget.StudyID = rest[0]
		s.routeQuestion(w, r, caller, questionTarget, rest[3:])
	case len(rest) == 2 && rest[1] == "comments":
		s.handleComments(w, r, caller, studyTarget)
	case len(rest) == 4 && rest[1] == "comments" && rest[3] == "resolve":
		if r.Method != http.MethodPost {
			writeMethodNotAllowed(w)
			return
		}
		commentTarget := access.Comment(rest[2])
		commentTarget.StudyID = rest[0]
		comment, err := s.service.ResolveComment(ctx, caller, commentTarget)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"comment": comment})
	case len(rest) == 2 && rest[1] == "events":
		if r.Method != http.MethodGet {
			writeMethodNotAllowed(w)
			return
		}
		limit, ok := queryLimit(w, r)
		if !ok {
			return
		}
		events, err := s.service.ListEvents(ctx, caller, studyTarget, limit)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"events": events})
	case len(rest) == 2 && rest[1] == "export":
		if r.Method != http.MethodGet {
			writeMethodNotAllowed(w)
			return
		}
		format, ok := parseExportFormat(w, r)
		if !ok {
			return
		}
		result, err := s.service.ExportStudy(ctx, caller, studyTarget, format)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeFile(w, result)
	case len(rest) == 2 && rest[1] == "revisions":
		if r.Method != http.MethodGet {
			writeMethodNotAllowed(w)
			return
		}
		limit, ok := queryLimit(w, r)
		if !ok {
			return
		}
		revisions, err := s.service.ListRevisions(ctx, caller, studyTarget, limit)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"revisions": revisions})
	case len(rest) == 3 && rest[1] == "revisions":
		if r.Method != http.MethodGet {
			writeMethodNotAllowed(w)
			return
		}
		revision, err := s.service.GetRevision(ctx, caller, studyTarget, rest[2])
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"revision": revision})
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

// handleStudy serves GET and PATCH on one study. A PATCH body carrying
// "status" is a lifecycle transition; any other body updates details.
func (s *HTTPServer) handleStudy(w http.ResponseWriter, r *http.Request, caller access.Caller, target access.Target) {
	ctx := r.Context()
	switch r.Method {
	case http.MethodGet:
		detail, err := s.service.GetStudy(ctx, caller, target)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"study": detail})
	case http.MethodPatch:
		raw, fields, ok := readObject(w, r)
		if !ok {
			return
		}
		if _, hasStatus := fields["status"]; hasStatus {
			for key := range fields {
				if key != "status" && key != "reason" {
					writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "status changes cannot be combined with detail updates", map[string]any{"field": key})
					return
				}
			}
			var body TransitionInput
			if err := json.Unmarshal(raw, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", "invalid JSON body", nil)
				return
			}
			updated, err := s.service.TransitionStudy(ctx, caller, target, body)
			if err != nil {
				s.writeServiceError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"study": updated})
			return
		}
		var body UpdateStudyFields
		if err := json.Unmarshal(raw, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", "invalid JSON body", nil)
			return
		}
		updated, err := s.service.UpdateStudy(ctx, caller, target, body)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"study": updated})
	default:
		writeMethodNotAllowed(w)
	}
}

func (s *HTTPServer) handleQuestionCollection(w http.ResponseWriter, r *http.Request, caller access.Caller, target access.Target) {
	ctx := r.Context()
	switch r.Method {
	case http.MethodGet:
		items, err := s.service.ListQuestions(ctx, caller, target)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"questions": items})
	case http.MethodPost:
		var body CreateQuestionInput
		if !decodeInto(w, r, &body) {
			return
		}
		created, err := s.service.CreateQuestion(ctx, caller, target, body)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"question": created})
	default:
		writeMethodNotAllowed(w)
	}
}

// routeQuestion serves a question and its options, reached either directly
// or nested under a study; target carries the claimed parents.
func (s *HTTPServer) routeQuestion(w http.ResponseWriter, r *http.Request, caller access.Caller, target access.Target, rest []string) {
	ctx := r.Context()
	switch {
	case len(rest) == 0:
		switch r.Method {
		case http.MethodPatch:
			raw, fields, ok := readObject(w, r)
			if !ok {
				return
			}
			if rejectOrderField(w, fields, "/questions/reorder") {
				return
			}
			var body UpdateQuestionFields
			if err := json.Unmarshal(raw, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", "invalid JSON body", nil)
				return
			}
			updated, err := s.service.UpdateQuestion(ctx, caller, target, body)
			if err != nil {
				s.writeServiceError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"question": updated})
		case http.MethodDelete:
			if err := s.service.DeleteQuestion(ctx, caller, target); err != nil {
				s.writeServiceError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		default:
			writeMethodNotAllowed(w)
		}
	case len(rest) == 1 && rest[0] == "options":
		switch r.Method {
		case http.MethodGet:
			items, err := s.service.ListOptions(ctx, caller, target)
			if err != nil {
				s.writeServiceError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"options": items})
		case http.MethodPost:
			var body CreateOptionInput
			if !decodeInto(w, r, &body) {
				return
			}
			created, err := s.service.CreateOption(ctx, caller, target, body)
			if err != nil {
				s.writeServiceError(w, r, err)
				return
			}
			writeJSON(w, http.StatusCreated, map[string]any{"option": created})
		default:
			writeMethodNotAllowed(w)
		}
	case len(rest) == 2 && rest[0] == "options" && rest[1] == "reorder":
		s.handleReorder(w, r, func(req ReorderRequest) (ReorderResult, error) {
			return s.service.ReorderOptions(ctx, caller, target, req)
		})
	case len(rest) == 2 && rest[0] == "options":
		optionTarget := access.Option(rest[1])
		optionTarget.StudyID = target.StudyID
		optionTarget.QuestionID = target.ID
		s.handleOption(w, r, caller, optionTarget)
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleOption(w http.ResponseWriter, r *http.Request, caller access.Caller, target access.Target) {
	ctx := r.Context()
	switch r.Method {
	case http.MethodPatch:
		raw, fields, ok := readObject(w, r)
		if !ok {
			return
		}
		if rejectOrderField(w, fields, "/options/reorder") {
			return
		}
		var body UpdateOptionFields
		if err := json.Unmarshal(raw, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", "invalid JSON body", nil)
			return
		}
		updated, err := s.service.UpdateOption(ctx, caller, target, body)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"option": updated})
	case http.MethodDelete:
		if err := s.service.DeleteOption(ctx, caller, target); err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	default:
		writeMethodNotAllowed(w)
	}
}

// handleApproval serves GET /approval, POST /approval/request-signoff and
// POST /approval/signoff.
func (s *HTTPServer) handleApproval(w http.ResponseWriter, r *http.Request, caller access.Caller, target access.Target, rest []string) {
	ctx := r.Context()
	var (
		view ApprovalView
		err  error
	)
	switch {
	case len(rest) == 0:
		if r.Method != http.MethodGet {
			writeMethodNotAllowed(w)
			return
		}
		view, err = s.service.GetApproval(ctx, caller, target)
	case len(rest) == 1 && rest[0] == "request-signoff":
		if r.Method != http.MethodPost {
			writeMethodNotAllowed(w)
			return
		}
		var body RequestSignOffInput
		if !decodeInto(w, r, &body) {
			return
		}
		view, err = s.service.RequestSignOff(ctx, caller, target, body)
	case len(rest) == 1 && rest[0] == "signoff":
		if r.Method != http.MethodPost {
			writeMethodNotAllowed(w)
			return
		}
		view, err = s.service.SignOff(ctx, caller, target)
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"approval": view})
}

func (s *HTTPServer) handleComments(w http.ResponseWriter, r *http.Request, caller access.Caller, target access.Target) {
	ctx := r.Context()
	switch r.Method {
	case http.MethodGet:
		items, err := s.service.ListComments(ctx, caller, target, r.URL.Query().Get("questionId"))
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"comments": items})
	case http.MethodPost:
		var body AddCommentInput
		if !decodeInto(w, r, &body) {
			return
		}
		created, err := s.service.AddComment(ctx, caller, target, body)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"comment": created})
	default:
		writeMethodNotAllowed(w)
	}
}

// handleReorder accepts either a bare [{id, order}] array or an
// {items, expectedVersion} object. An If-Match header also sets the version.
func (s *HTTPServer) handleReorder(w http.ResponseWriter, r *http.Request, apply func(ReorderRequest) (ReorderResult, error)) {
	if r.Method != http.MethodPatch {
		writeMethodNotAllowed(w)
		return
	}
	req, err := decodeReorder(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	if req.ExpectedVersion == nil {
		version, present, err := ifMatchVersion(r)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), map[string]any{"field": "If-Match"})
			return
		}
		if present {
			req.ExpectedVersion = &version
		}
	}
	result, err := apply(req)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.Header().Set("ETag", strconv.Quote(strconv.Itoa(result.StructureVersion)))
	writeJSON(w, http.StatusOK, result)
}

func decodeReorder(r *http.Request) (ReorderRequest, error) {
	if r.Body == nil {
		return ReorderRequest{}, fmt.Errorf("request body is required")
	}
	defer r.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return ReorderRequest{}, fmt.Errorf("invalid JSON body")
	}
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return ReorderRequest{}, fmt.Errorf("request body is required")
	}
	var req ReorderRequest
	if trimmed[0] == '[' {
		var items []ordering.Update
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return ReorderRequest{}, fmt.Errorf("invalid JSON body")
		}
		req.Items = items
		return req, nil
	}
	if err := json.Unmarshal(trimmed, &req); err != nil {
		return ReorderRequest{}, fmt.Errorf("invalid JSON body")
	}
	return req, nil
}

func ifMatchVersion(r *http.Request) (int, bool, error) {
	header := strings.TrimSpace(r.Header.Get("If-Match"))
	if header == "" || header == "*" {
		return 0, false, nil
	}
	header = strings.TrimPrefix(header, "W/")
	header = strings.Trim(header, `"`)
	version, err := strconv.Atoi(header)
	if err != nil || version < 0 {
		return 0, false, fmt.Errorf("If-Match must carry a structure version")
	}
	return version, true, nil
}

func rejectOrderField(w http.ResponseWriter, fields map[string]json.RawMessage, reorderPath string) bool {
	if _, ok := fields["order"]; !ok {
		return false
	}
	writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR",
		"order cannot be changed here; use PATCH "+reorderPath,
		map[string]any{"field": "order", "reorderEndpoint": reorderPath})
	return true
}

func parseExportFormat(w http.ResponseWriter, r *http.Request) (export.Format, bool) {
	format, ok := export.ParseFormat(r.URL.Query().Get("format"))
	if !ok {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "format must be json, pdf or docx", map[string]any{"field": "format"})
		return "", false
	}
	return format, true
}

func queryLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get("limit"))
	if raw == "" {
		return 0, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "limit must be a non-negative integer", map[string]any{"field": "limit"})
		return 0, false
	}
	return limit, true
}

func writeFile(w http.ResponseWriter, result *export.Result) {
	w.Header().Set("Content-Disposition", "attachment; filename=\""+result.Filename+"\"")
	w.Header().Set("Content-Type", result.MimeType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result.Data)
}

func writeMethodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
}

func (s *HTTPServer) requireSession(w http.ResponseWriter, r *http.Request) (Session, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return Session{}, false
	}
	sess, err := s.service.Authenticate(r.Context(), token)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredToken) || errors.Is(err, auth.ErrInvalidToken) {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return Session{}, false
		}
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("session lookup failed")
		writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Session lookup failed", nil)
		return Session{}, false
	}
	return sess, true
}

// writeServiceError writes a mapped error; unmapped errors are logged with
// the request id before the generic 500 goes out.
func (s *HTTPServer) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		zerolog.Ctx(r.Context()).Error().Err(err).Str("method", r.Method).Str("path", r.URL.Path).Msg("request failed")
	}
	writeError(w, status, code, message, details)
}

func (s *HTTPServer) withCORS(next http.Handler) http.Handler {
	origins := s.corsOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	middleware := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type", "X-Request-ID", "If-Match"},
		ExposedHeaders: []string{"X-Request-ID", "ETag", "Content-Disposition"},
	})
	return middleware.Handler(next)
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		r = r.WithContext(logger.WithRequest(r.Context(), s.log, requestID))

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		writer.Header().Set("Cache-Control", "no-store")
		writer.Header().Set("Content-Type", "application/json")
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		zerolog.Ctx(r.Context()).Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", writer.status).
			Int64("duration_ms", time.Since(started).Milliseconds()).
			Msg("request")
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func decodeInto(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := decodeBody(r, target); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return false
	}
	return true
}

// readObject reads a JSON object body and also returns its top level keys,
// so handlers can tell an absent field from a null one.
func readObject(w http.ResponseWriter, r *http.Request) ([]byte, map[string]json.RawMessage, bool) {
	if r.Body == nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "request body is required", nil)
		return nil, nil, false
	}
	defer r.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "invalid JSON body", nil)
		return nil, nil, false
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "invalid JSON body", nil)
		return nil, nil, false
	}
	return raw, fields, true
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
