package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/custodia-labs/tutor-core/internal/core/domain"
	"github.com/custodia-labs/tutor-core/internal/core/ports/driving"
)

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error string `json:"error"`
	// Code is a machine-readable hint, e.g. refresh_and_retry
	Code string `json:"code,omitempty"`
}

// CreateTopicResponse wraps a topic with whether it was just created
type CreateTopicResponse struct {
	Topic   *domain.Topic `json:"topic"`
	Created bool          `json:"created"`
}

// RegenerateRequest is the body of an outline regeneration
type RegenerateRequest struct {
	domain.OutlineOptions
	Confirm bool `json:"confirm"`
}

// MarkReadBody is the optional body of a read/unread request
type MarkReadBody struct {
	ChapterID string `json:"chapter_id,omitempty"`
	// Content is the paragraph text the reader saw. Empty means current.
	Content string `json:"content,omitempty"`
}

// ReadingTimeResponse reports the session closed by a start or stop
type ReadingTimeResponse struct {
	Closed *domain.ReadingTime `json:"closed"`
}

// Health endpoints

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReady pings every configured dependency. Generator availability
// is reported but does not fail readiness, since reads keep working.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := http.StatusOK
	checks := make(map[string]string, len(s.checks))
	for _, c := range s.checks {
		if err := c.Pinger.Ping(ctx); err != nil {
			checks[c.Name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		checks[c.Name] = "ok"
	}

	resp := map[string]any{"status": "ready", "checks": checks}
	if status != http.StatusOK {
		resp["status"] = "not ready"
	}
	if s.runtime != nil {
		resp["generator"] = map[string]any{
			"available": s.runtime.GeneratorAvailable(),
			"model":     s.runtime.GeneratorModel(),
		}
	}
	writeJSON(w, status, resp)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"version": s.version})
}

// Topic endpoints

func (s *Server) handleCreateTopic(w http.ResponseWriter, r *http.Request) {
	var req driving.CreateTopicRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.OwnerID = ownerID(r)

	topic, created, err := s.topics.GetOrCreate(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, CreateTopicResponse{Topic: topic, Created: created})
}

func (s *Server) handleListTopics(w http.ResponseWriter, r *http.Request) {
	topics, err := s.topics.List(r.Context(), ownerID(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if topics == nil {
		topics = []*domain.Topic{}
	}
	writeJSON(w, http.StatusOK, topics)
}

func (s *Server) handleGetTopic(w http.ResponseWriter, r *http.Request) {
	topic, err := s.topics.Get(r.Context(), ownerID(r), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, topic)
}

func (s *Server) handleDeleteTopic(w http.ResponseWriter, r *http.Request) {
	if err := s.topics.Delete(r.Context(), ownerID(r), r.PathValue("id")); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Outline endpoints

func (s *Server) handleGetOutline(w http.ResponseWriter, r *http.Request) {
	outline, err := s.outlines.GetExisting(r.Context(), ownerID(r), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, outline)
}

// handleEnsureOutline returns the topic's outline, generating it when absent.
// With ?async=true the build is queued and the task returned. With an
// event-stream Accept header one progress frame is sent per chapter.
func (s *Server) handleEnsureOutline(w http.ResponseWriter, r *http.Request) {
	var opts domain.OutlineOptions
	if err := decodeOptional(r, &opts); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req := driving.GenerateOutlineRequest{
		OwnerID: ownerID(r),
		TopicID: r.PathValue("id"),
		Options: opts,
	}

	if async, _ := strconv.ParseBool(r.URL.Query().Get("async")); async {
		task, err := s.outlines.EnqueueEnsure(r.Context(), req)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, task)
		return
	}

	if wantsStream(r) {
		stream := newSSEWriter(w)
		req.Progress = func(p domain.GenerationProgress) {
			_ = stream.send(sseProgress, "", p)
		}
		outline, err := s.outlines.Ensure(r.Context(), req)
		if err != nil {
			stream.fail(err)
			return
		}
		_ = stream.send(sseResult, "", outline)
		return
	}

	outline, err := s.outlines.Ensure(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, outline)
}

func (s *Server) handleRegenerateOutline(w http.ResponseWriter, r *http.Request) {
	var body RegenerateRequest
	if err := decodeOptional(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req := driving.GenerateOutlineRequest{
		OwnerID: ownerID(r),
		TopicID: r.PathValue("id"),
		Options: body.OutlineOptions,
	}

	outline, err := s.outlines.Regenerate(r.Context(), req, body.Confirm)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, outline)
}

// Paragraph endpoints

// handleGenerateParagraph fills one stub. With an event-stream Accept
// header the body streams as it is produced.
func (s *Server) handleGenerateParagraph(w http.ResponseWriter, r *http.Request) {
	var opts domain.ParagraphOptions
	if err := decodeOptional(r, &opts); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req := driving.GenerateParagraphRequest{
		OwnerID:     ownerID(r),
		TopicID:     r.PathValue("id"),
		ParagraphID: r.PathValue("pid"),
		Options:     opts,
	}

	if wantsStream(r) {
		stream := newSSEWriter(w)
		req.Progress = func(p domain.GenerationProgress) {
			_ = stream.send(sseProgress, "", p)
		}
		paragraph, err := s.paragraphs.Generate(r.Context(), req)
		if err != nil {
			stream.fail(err)
			return
		}
		_ = stream.send(sseResult, "", paragraph)
		return
	}

	paragraph, err := s.paragraphs.Generate(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, paragraph)
}

func (s *Server) paragraphRef(r *http.Request, chapterID string) driving.ParagraphRef {
	if chapterID == "" {
		chapterID = r.URL.Query().Get("chapter_id")
	}
	return driving.ParagraphRef{
		OwnerID:     ownerID(r),
		TopicID:     r.PathValue("id"),
		ChapterID:   chapterID,
		ParagraphID: r.PathValue("pid"),
	}
}

func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	var body MarkReadBody
	if err := decodeOptional(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := s.progress.MarkRead(r.Context(), driving.MarkReadRequest{
		ParagraphRef: s.paragraphRef(r, body.ChapterID),
		Content:      body.Content,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleMarkUnread(w http.ResponseWriter, r *http.Request) {
	result, err := s.progress.MarkUnread(r.Context(), s.paragraphRef(r, ""))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleStartReading(w http.ResponseWriter, r *http.Request) {
	closed, err := s.progress.StartReading(r.Context(), s.paragraphRef(r, ""))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ReadingTimeResponse{Closed: closed})
}

func (s *Server) handleStopReading(w http.ResponseWriter, r *http.Request) {
	closed, err := s.progress.StopReading(r.Context(), ownerID(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ReadingTimeResponse{Closed: closed})
}

// Progress endpoints

func (s *Server) handleChapterProgress(w http.ResponseWriter, r *http.Request) {
	chapters, err := s.progress.ChapterProgress(r.Context(), ownerID(r), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, chapters)
}

func (s *Server) handleResumption(w http.ResponseWriter, r *http.Request) {
	info, err := s.resumption.Analyze(r.Context(), ownerID(r), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleStaleness(w http.ResponseWriter, r *http.Request) {
	maxAge := 0
	if v := r.URL.Query().Get("max_age_hours"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "max_age_hours must be a non-negative integer")
			return
		}
		maxAge = n
	}

	staleness, err := s.cache.ShouldRegenerate(r.Context(), ownerID(r), r.PathValue("id"), maxAge)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, staleness)
}

// handleEvents streams the caller's progress events until they disconnect
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		writeError(w, http.StatusServiceUnavailable, "event stream not configured")
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	events, err := s.events.Subscribe(ctx, ownerID(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}

	stream := newSSEWriter(w)
	ticker := time.NewTicker(s.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := stream.ping(); err != nil {
				return
			}
		case event, ok := <-events:
			if !ok {
				return
			}
			if err := stream.send(string(event.Type), event.ID, event); err != nil {
				return
			}
		}
	}
}

// Helpers

// decodeOptional decodes a JSON body into v. An absent body leaves v unchanged.
func decodeOptional(r *http.Request, v any) error {
	if r.Body == nil || r.Body == http.NoBody {
		return nil
	}
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// errorResponse maps a service error to a status and body
func errorResponse(err error) (int, ErrorResponse) {
	switch {
	case errors.Is(err, domain.ErrValidationFailed), errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest, ErrorResponse{Error: err.Error()}
	case errors.Is(err, domain.ErrUnauthorized), errors.Is(err, domain.ErrTokenExpired), errors.Is(err, domain.ErrTokenInvalid):
		return http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"}
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden, ErrorResponse{Error: "forbidden"}
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, ErrorResponse{Error: "not found"}
	case errors.Is(err, domain.ErrStaleReference):
		return http.StatusConflict, ErrorResponse{Error: err.Error(), Code: "refresh_and_retry"}
	case errors.Is(err, domain.ErrGenerationInProgress):
		return http.StatusConflict, ErrorResponse{Error: err.Error(), Code: "generation_in_progress"}
	case errors.Is(err, domain.ErrConfirmationRequired):
		return http.StatusConflict, ErrorResponse{Error: err.Error(), Code: "confirmation_required"}
	case errors.Is(err, domain.ErrNotGenerated):
		return http.StatusConflict, ErrorResponse{Error: err.Error(), Code: "not_generated"}
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, ErrorResponse{Error: "generation timed out"}
	case errors.Is(err, domain.ErrGenerationFailed):
		return http.StatusBadGateway, ErrorResponse{Error: err.Error()}
	case errors.Is(err, domain.ErrServiceUnavailable):
		return http.StatusServiceUnavailable, ErrorResponse{Error: "content generation unavailable"}
	default:
		return http.StatusInternalServerError, ErrorResponse{Error: "internal server error"}
	}
}

func writeServiceError(w http.ResponseWriter, err error) {
	status, resp := errorResponse(err)
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message})
}
