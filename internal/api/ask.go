package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/futuresys/introbot/internal/pipeline"
	"github.com/futuresys/introbot/internal/ratelimit"
)

// maxRequestBody bounds the size of ask request bodies.
const maxRequestBody = 1 << 20 // 1MB

// Resolver answers questions. *pipeline.Pipeline satisfies this; tests
// supply fakes.
type Resolver interface {
	Resolve(ctx context.Context, q pipeline.Query) (string, error)
	ResolveStream(ctx context.Context, q pipeline.Query) (*pipeline.Stream, error)
}

// askRequest is the JSON body for both ask endpoints.
type askRequest struct {
	Question string          `json:"question"`
	History  []pipeline.Turn `json:"history,omitempty"`
}

// askResponse is the JSON body of a successful blocking answer.
type askResponse struct {
	Answer string `json:"answer"`
}

// askHandler serves the question answering endpoints.
type askHandler struct {
	resolver   Resolver
	quota      *ratelimit.Limiter
	trustProxy bool
	logger     *slog.Logger
}

// ask handles POST /api/v1/ask.
func (h *askHandler) ask(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decode(w, r)
	if !ok {
		return
	}

	identity := clientIP(r, h.trustProxy)
	if allowed, reason := h.quota.Allow(identity); !allowed {
		h.deny(w, identity, reason)
		return
	}

	answer, err := h.resolver.Resolve(r.Context(), pipeline.Query{
		Question: req.Question,
		History:  req.History,
	})
	if err != nil {
		h.writeResolveError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, askResponse{Answer: answer}, h.logger)
}

// SSE event types for answer streaming.
const (
	eventChunk = "chunk" // partial answer text
	eventDone  = "done"  // stream completed
	eventError = "error" // request rejected before streaming began
)

// chunkPayload is the SSE data payload for streaming text fragments.
type chunkPayload struct {
	Text string `json:"text"`
}

// donePayload is the SSE data payload when streaming completes.
type donePayload struct {
	Answer string `json:"answer"`
}

// askStream handles POST /api/v1/ask/stream. Fragments arrive as "chunk"
// events; a final "done" event carries the full answer. Errors that occur
// before the first fragment are sent as "error" events because SSE headers
// go out before the outcome is known.
func (h *askHandler) askStream(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	var req askRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = writeEvent(w, flusher, eventError, errorBody{Code: "invalid_request", Message: "invalid request body"})
		return
	}

	identity := clientIP(r, h.trustProxy)
	if allowed, reason := h.quota.Allow(identity); !allowed {
		h.logger.Warn("quota exceeded", "identity", identity, "reason", reason)
		// No body has been written yet, so the header still makes it out
		// ahead of the SSE preamble.
		retry := int(ratelimit.RetryAfter(reason).Seconds())
		w.Header().Set("Retry-After", strconv.Itoa(retry))
		_ = writeEvent(w, flusher, eventError, errorBody{Code: "quota_exceeded", Message: reason})
		return
	}

	stream, err := h.resolver.ResolveStream(r.Context(), pipeline.Query{
		Question: req.Question,
		History:  req.History,
	})
	if err != nil {
		_ = writeEvent(w, flusher, eventError, h.resolveErrorBody(err))
		return
	}
	defer stream.Close()

	var answer string
	for stream.Next() {
		fragment := stream.Text()
		answer += fragment
		if err := writeEvent(w, flusher, eventChunk, chunkPayload{Text: fragment}); err != nil {
			h.logger.Debug("client disconnected during stream", "error", err)
			return
		}
	}
	if err := stream.Err(); err != nil {
		h.logger.Info("stream aborted", "error", err)
		return
	}

	_ = writeEvent(w, flusher, eventDone, donePayload{Answer: answer})
}

// quotaUsage handles GET /api/v1/quota. Reading usage does not consume
// quota.
func (h *askHandler) quotaUsage(w http.ResponseWriter, r *http.Request) {
	identity := clientIP(r, h.trustProxy)
	writeJSON(w, http.StatusOK, h.quota.Usage(identity), h.logger)
}

func (h *askHandler) decode(w http.ResponseWriter, r *http.Request) (askRequest, bool) {
	var req askRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body", h.logger)
		return askRequest{}, false
	}
	return req, true
}

func (h *askHandler) deny(w http.ResponseWriter, identity, reason string) {
	h.logger.Warn("quota exceeded", "identity", identity, "reason", reason)
	retry := int(ratelimit.RetryAfter(reason).Seconds())
	w.Header().Set("Retry-After", strconv.Itoa(retry))
	writeError(w, http.StatusTooManyRequests, "quota_exceeded", reason, h.logger)
}

func (h *askHandler) writeResolveError(w http.ResponseWriter, err error) {
	body := h.resolveErrorBody(err)
	status := http.StatusInternalServerError
	switch body.Code {
	case "invalid_question":
		status = http.StatusBadRequest
	case "retrieval_failed":
		status = http.StatusServiceUnavailable
	}
	writeError(w, status, body.Code, body.Message, h.logger)
}

// resolveErrorBody maps pipeline errors to API error bodies.
func (h *askHandler) resolveErrorBody(err error) errorBody {
	switch {
	case errors.Is(err, pipeline.ErrInvalidInput):
		return errorBody{Code: "invalid_question", Message: err.Error()}
	case errors.Is(err, pipeline.ErrRetrievalFailed):
		h.logger.Error("retrieval failed", "error", err)
		return errorBody{Code: "retrieval_failed", Message: "knowledge store unavailable"}
	default:
		h.logger.Error("resolving question", "error", err)
		return errorBody{Code: "internal_error", Message: "internal server error"}
	}
}

// writeEvent writes a single SSE event with JSON-encoded data.
// SSE format: "event: <type>\ndata: <json>\n\n"
func writeEvent[T any](w io.Writer, flusher http.Flusher, event string, data T) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}

	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, jsonData); err != nil {
		return fmt.Errorf("write event: %w", err)
	}

	flusher.Flush()
	return nil
}
