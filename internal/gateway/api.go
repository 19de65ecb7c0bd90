// ABOUTME: HTTP handlers for the chat, catalog, probe, quota, usage, and audio surfaces
// ABOUTME: Maps fault kinds to error envelopes and streams chat fragments over SSE

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/2389/glimpse-gateway/internal/audio"
	"github.com/2389/glimpse-gateway/internal/auth"
	"github.com/2389/glimpse-gateway/internal/fault"
	vfactory "github.com/2389/glimpse-gateway/internal/vision/factory"
)

// probeTimeout bounds a test-connection round trip.
const probeTimeout = 10 * time.Second

// chatRequest is the JSON request body for POST /api/v1/chat.
type chatRequest struct {
	ImageBase64    string                 `json:"image_base64"`
	SystemPrompt   string                 `json:"system_prompt,omitempty"`
	Provider       string                 `json:"provider"`
	CustomConfig   *vfactory.CustomConfig `json:"custom_config,omitempty"`
	ConversationID string                 `json:"conversation_id,omitempty"`
	Stream         bool                   `json:"stream,omitempty"`
	TTSEnabled     bool                   `json:"tts_enabled,omitempty"`
	TTSVoice       string                 `json:"tts_voice,omitempty"`
	TTSSpeed       float64                `json:"tts_speed,omitempty"`
}

// chatResponse is the JSON response body for a non-streaming chat.
// AudioURL is an explicit null when no audio was produced.
type chatResponse struct {
	Text           string  `json:"text"`
	AudioURL       *string `json:"audio_url"`
	ConversationID string  `json:"conversation_id"`
	LatencyMS      int64   `json:"latency_ms"`
	RequestID      string  `json:"request_id"`
}

// modelEntry is one catalog row as served by GET /api/v1/models.
type modelEntry struct {
	ID                string `json:"id"`
	Name              string `json:"name"`
	Provider          string `json:"provider"`
	SupportsVision    bool   `json:"supports_vision"`
	SupportsStreaming bool   `json:"supports_streaming"`
	Description       string `json:"description,omitempty"`
	Default           bool   `json:"default,omitempty"`
}

type modelsResponse struct {
	Models []modelEntry `json:"models"`
}

// testConnectionRequest is the JSON request body for POST /api/v1/test-connection.
type testConnectionRequest struct {
	Provider     string                 `json:"provider"`
	CustomConfig *vfactory.CustomConfig `json:"custom_config,omitempty"`
}

// testConnectionResponse reports the probe outcome. A failed probe is still
// a 200; OK carries the verdict and Detail the vendor's complaint.
type testConnectionResponse struct {
	OK        bool   `json:"ok"`
	LatencyMS int64  `json:"latency_ms"`
	Detail    string `json:"detail,omitempty"`
}

type quotaStatus struct {
	Limit     int `json:"limit"`
	Remaining int `json:"remaining"`
}

type limitsResponse struct {
	Address    quotaStatus `json:"address"`
	Credential quotaStatus `json:"credential"`
}

// usageEntry is one ledger row as served by GET /api/v1/usage.
type usageEntry struct {
	RequestID      string `json:"request_id"`
	Provider       string `json:"provider"`
	Model          string `json:"model,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
	Status         string `json:"status"`
	LatencyMS      int64  `json:"latency_ms"`
	TextChars      int64  `json:"text_chars"`
	AudioBytes     int64  `json:"audio_bytes"`
	CreatedAt      string `json:"created_at"`
}

type usageResponse struct {
	Usage []usageEntry `json:"usage"`
}

// errorBody is the error object inside every error envelope.
type errorBody struct {
	Kind       string `json:"kind"`
	Message    string `json:"message"`
	Suggestion string `json:"suggestion,omitempty"`
	Provider   string `json:"provider,omitempty"`
}

type errorEnvelope struct {
	Error     errorBody `json:"error"`
	RequestID string    `json:"request_id,omitempty"`
}

// writeJSON writes v as the JSON response body.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeEnvelope writes a structured error response carrying the request's
// correlation id.
func writeEnvelope(w http.ResponseWriter, r *http.Request, status int, body errorBody) {
	writeJSON(w, status, errorEnvelope{
		Error:     body,
		RequestID: RequestIDFromContext(r.Context()),
	})
}

// writeFault maps an error to its envelope. Rate-limited responses carry a
// Retry-After header; caller errors additionally emit a rejection event.
// Errors outside the taxonomy become an opaque 500.
func (g *Gateway) writeFault(w http.ResponseWriter, r *http.Request, err error) {
	var fe *fault.Error
	if !errors.As(err, &fe) {
		g.logger.Error("unclassified error reached the API layer",
			"request_id", RequestIDFromContext(r.Context()), "error", err)
		writeEnvelope(w, r, http.StatusInternalServerError, errorBody{
			Kind:    "internal",
			Message: "internal server error",
		})
		return
	}

	status := fault.HTTPStatus(fe.Kind)
	if fe.Kind == fault.KindRateLimited && fe.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(fe.RetryAfter)))
	}
	if status < http.StatusInternalServerError {
		g.events.RequestRejected(RequestIDFromContext(r.Context()), string(fe.Kind), fe.Message)
	}
	writeEnvelope(w, r, status, errorBody{
		Kind:       string(fe.Kind),
		Message:    fe.Message,
		Suggestion: fe.Suggestion,
		Provider:   fe.Provider,
	})
}

// retryAfterSeconds rounds up so a client honoring the header never retries
// inside the window.
func retryAfterSeconds(d time.Duration) int {
	secs := int((d + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}

// clientAddr extracts the caller's network address without the port, so one
// host's requests share a rate-limit window across connections.
func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// admit runs both rate limiters for the caller. A rejection is written
// here and false returned.
func (g *Gateway) admit(w http.ResponseWriter, r *http.Request) bool {
	if err := g.admitRequest(r); err != nil {
		g.writeFault(w, r, err)
		return false
	}
	return true
}

// handleChat handles POST /api/v1/chat, the orchestrated describe-image
// operation, in both buffered and SSE form.
func (g *Gateway) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	requestID := RequestIDFromContext(r.Context())

	var body chatRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		g.events.RequestRejected(requestID, "invalid_request", "request body is not valid JSON")
		writeEnvelope(w, r, http.StatusBadRequest, errorBody{
			Kind:       "invalid_request",
			Message:    "request body is not valid JSON",
			Suggestion: "send a JSON object matching the chat request schema",
		})
		return
	}

	if !g.admit(w, r) {
		return
	}

	img, err := decodeImage(body.ImageBase64, g.cfg.Images.MaxBytes)
	if err != nil {
		g.writeFault(w, r, err)
		return
	}

	principalID := "anonymous"
	if p := auth.FromContext(r.Context()); p != nil {
		principalID = p.ID
	}
	g.events.RequestAdmitted(requestID, principalID, body.Provider, body.Stream)

	creq := ChatRequest{
		Provider:       body.Provider,
		Custom:         body.CustomConfig,
		Image:          img,
		Prompt:         body.SystemPrompt,
		ConversationID: body.ConversationID,
		TTSEnabled:     body.TTSEnabled,
		TTSVoice:       body.TTSVoice,
		TTSSpeed:       body.TTSSpeed,
		RequestID:      requestID,
	}

	if body.Stream {
		g.streamChat(w, r, creq)
		return
	}

	result, err := g.orchestrator.Describe(r.Context(), creq)
	if err != nil {
		g.writeFault(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, chatResponse{
		Text:           result.Text,
		AudioURL:       nullableURL(result.AudioURL),
		ConversationID: result.ConversationID,
		LatencyMS:      result.LatencyMS,
		RequestID:      requestID,
	})
}

// streamChat delivers fragments over SSE as they arrive. Everything that
// can reject the request runs before the stream headers are written, so
// failures past that point surface as an error event on the open stream.
func (g *Gateway) streamChat(w http.ResponseWriter, r *http.Request, creq ChatRequest) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		g.logger.Error("streaming not supported", "request_id", creq.RequestID)
		writeEnvelope(w, r, http.StatusInternalServerError, errorBody{
			Kind:    "internal",
			Message: "streaming not supported",
		})
		return
	}

	stream, err := g.orchestrator.DescribeStream(r.Context(), creq)
	if err != nil {
		g.writeFault(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	for {
		text, ok := stream.Recv()
		if !ok {
			break
		}
		g.writeSSEEvent(w, "delta", map[string]string{"text": text})
		flusher.Flush()
	}

	result, err := stream.Finish(r.Context())
	if err != nil {
		g.writeSSEEvent(w, "error", sseErrorData(err))
		flusher.Flush()
		return
	}

	g.writeSSEEvent(w, "done", map[string]any{
		"conversation_id": result.ConversationID,
		"audio_url":       nullableURL(result.AudioURL),
		"latency_ms":      result.LatencyMS,
	})
	flusher.Flush()
}

// writeSSEEvent writes a single SSE event to the response writer.
func (g *Gateway) writeSSEEvent(w http.ResponseWriter, event string, data any) {
	dataJSON, err := json.Marshal(data)
	if err != nil {
		g.logger.Error("failed to marshal SSE data", "error", err)
		return
	}

	fmt.Fprintf(w, "event: %s\n", event)
	fmt.Fprintf(w, "data: %s\n\n", dataJSON)
}

func sseErrorData(err error) map[string]string {
	var fe *fault.Error
	if !errors.As(err, &fe) {
		return map[string]string{"kind": "internal", "message": "internal server error"}
	}
	return map[string]string{
		"kind":       string(fe.Kind),
		"message":    fe.Message,
		"suggestion": fe.Suggestion,
	}
}

func nullableURL(u string) *string {
	if u == "" {
		return nil
	}
	return &u
}

// handleModels handles GET /api/v1/models.
func (g *Gateway) handleModels(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	models := g.catalog.Models()
	out := make([]modelEntry, 0, len(models))
	for _, m := range models {
		out = append(out, modelEntry{
			ID:                m.ID,
			Name:              m.DisplayName,
			Provider:          m.Provider,
			SupportsVision:    true,
			SupportsStreaming: true,
			Description:       m.Description,
			Default:           m.Default,
		})
	}
	writeJSON(w, http.StatusOK, modelsResponse{Models: out})
}

// handleTestConnection handles POST /api/v1/test-connection: build the
// adapter and probe the vendor without touching the chat flow. The probe
// outcome is a 200 either way; only an unusable request is an error.
func (g *Gateway) handleTestConnection(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var body testConnectionRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeEnvelope(w, r, http.StatusBadRequest, errorBody{
			Kind:       "invalid_request",
			Message:    "request body is not valid JSON",
			Suggestion: "send {\"provider\": ..., \"custom_config\": ...}",
		})
		return
	}

	provider, err := g.providers.Provider(body.Provider, body.CustomConfig)
	if err != nil {
		g.writeFault(w, r, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), probeTimeout)
	defer cancel()

	started := time.Now()
	probeErr := provider.TestConnection(ctx)
	resp := testConnectionResponse{
		OK:        probeErr == nil,
		LatencyMS: time.Since(started).Milliseconds(),
	}
	if probeErr != nil {
		resp.Detail = probeErr.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleLimits handles GET /api/v1/limits, reporting the caller's remaining
// quota without consuming any.
func (g *Gateway) handleLimits(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	writeJSON(w, http.StatusOK, limitsResponse{
		Address: quotaStatus{
			Limit:     g.cfg.Limits.PerAddress,
			Remaining: g.addrLimiter.Remaining(clientAddr(r)),
		},
		Credential: quotaStatus{
			Limit:     g.cfg.Limits.PerCredential,
			Remaining: g.credLimiter.Remaining(auth.CredentialID(r.Context())),
		},
	})
}

// handleUsage handles GET /api/v1/usage?limit=N over the ledger.
func (g *Gateway) handleUsage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeEnvelope(w, r, http.StatusBadRequest, errorBody{
				Kind:       "invalid_request",
				Message:    "limit must be a positive integer",
				Suggestion: "use ?limit=N with N between 1 and 500",
			})
			return
		}
		limit = n
	}
	if limit > 500 {
		limit = 500
	}

	rows, err := g.usage.ListUsage(r.Context(), limit)
	if err != nil {
		g.writeFault(w, r, fault.Wrap(err, fault.KindStorageFailure))
		return
	}

	out := make([]usageEntry, 0, len(rows))
	for _, row := range rows {
		out = append(out, usageEntry{
			RequestID:      row.RequestID,
			Provider:       row.Provider,
			Model:          row.Model,
			ConversationID: row.ConversationID,
			Status:         row.Status,
			LatencyMS:      row.LatencyMS,
			TextChars:      row.TextChars,
			AudioBytes:     row.AudioBytes,
			CreatedAt:      row.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, usageResponse{Usage: out})
}

// handleAudio handles GET /audio/{name}, serving stored synthesis output
// with the content type derived from its format.
func (g *Gateway) handleAudio(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	name := strings.TrimPrefix(r.URL.Path, "/audio/")
	data, contentType, err := g.audio.Resolve(r.Context(), name)
	if err != nil {
		if errors.Is(err, audio.ErrNotFound) {
			writeEnvelope(w, r, http.StatusNotFound, errorBody{
				Kind:       "not_found",
				Message:    "audio asset not found",
				Suggestion: "audio assets expire; request the description again with tts_enabled",
			})
			return
		}
		g.writeFault(w, r, err)
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	_, _ = w.Write(data)
}

func (g *Gateway) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (g *Gateway) handleReadyz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
