package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/turnbridge/turnbridge/logger"
	"github.com/turnbridge/turnbridge/registry"
	"github.com/turnbridge/turnbridge/session"
	metrics "github.com/turnbridge/turnbridge/metrics/prometheus"
)

// ChatCompletionsHandler implements SPEC_FULL.md §4.4: decode the OpenAI
// envelope, drive a Session, and re-encode the counterpart payload (or a
// mapped failure) back onto the wire.
type ChatCompletionsHandler struct {
	registry    *registry.Registry
	maxBodySize int64
}

// NewChatCompletionsHandler creates a Handler bound to the given Registry.
// maxBodySize enforces the inbound body cap named in SPEC_FULL.md's
// configuration table (maxPayloadSize); 0 disables the cap.
func NewChatCompletionsHandler(reg *registry.Registry, maxBodySize int64) *ChatCompletionsHandler {
	return &ChatCompletionsHandler{registry: reg, maxBodySize: maxBodySize}
}

// ServeHTTP implements the seven processing steps of SPEC_FULL.md §4.4.
func (h *ChatCompletionsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.maxBodySize > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large", ErrTypeInvalidRequest)
		return
	}

	if msg, verr := validateAgainst(chatCompletionValidator, body); verr != nil {
		writeError(w, http.StatusInternalServerError, "schema validation unavailable", ErrTypeServerError)
		return
	} else if msg != "" {
		writeError(w, http.StatusUnprocessableEntity, msg, ErrTypeInvalidRequest)
		return
	}

	var req ChatCompletionRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "malformed JSON body", ErrTypeInvalidRequest)
		return
	}
	if len(req.Messages) == 0 {
		writeError(w, http.StatusUnprocessableEntity, "messages must be non-empty", ErrTypeInvalidRequest)
		return
	}

	sessionID, side := parseModel(req.Model)
	content := lastContent(req.Messages)

	sess, err := h.registry.GetOrCreate(sessionID)
	if err != nil {
		metrics.RecordRegistryRejected()
		writeError(w, http.StatusServiceUnavailable, "session capacity exhausted", ErrTypeInvalidRequest)
		return
	}

	aConnected, _ := sess.ConnectedSides()
	isHandshake := !aConnected

	start := time.Now()
	counterpart, err := sess.ProcessRequest(r.Context(), content, side)
	elapsed := time.Since(start).Seconds()

	if err != nil {
		recordTurnOutcome(sessionID, isHandshake, side, err, elapsed)
		mapSessionError(w, err)
		return
	}
	recordTurnOutcome(sessionID, isHandshake, side, nil, elapsed)

	created := time.Now().Unix()
	if req.Stream {
		setSSEHeaders(w)
		w.WriteHeader(http.StatusOK)
		writeSSEChunks(w, req.Model, counterpart, created)
		return
	}

	resp := buildResponse(req.Model, content, counterpart, created)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(resp)
}

func recordTurnOutcome(sessionID string, isHandshake bool, side session.Side, err error, elapsedSeconds float64) {
	status := metrics.StatusSuccess
	switch {
	case errors.Is(err, session.ErrTimeout), errors.Is(err, session.ErrClosed):
		status = metrics.StatusTimeout
	case errors.Is(err, session.ErrCancelled):
		status = metrics.StatusCancelled
	}
	if isHandshake {
		metrics.RecordHandshake(status, elapsedSeconds)
		if status == metrics.StatusSuccess {
			logger.Handshake(sessionID, "duration_ms", int64(elapsedSeconds*1000))
		}
		return
	}
	sideLabel := string(side)
	if sideLabel == "" {
		sideLabel = "unknown"
	}
	metrics.RecordTurn(sideLabel, status, elapsedSeconds)
	if status == metrics.StatusSuccess {
		logger.Turn(sessionID, sideLabel, "duration_ms", int64(elapsedSeconds*1000))
	}
}

// mapSessionError maps a Session.ProcessRequest error onto the HTTP status
// taxonomy of SPEC_FULL.md §7. Timeout, Closed, and Cancelled are all
// 408-class to the caller; only an unrecognized error is a 500.
func mapSessionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrTimeout), errors.Is(err, session.ErrClosed):
		writeError(w, http.StatusRequestTimeout, "timed out waiting for counterpart", ErrTypeTimeout)
	case errors.Is(err, session.ErrCancelled):
		// The client already disconnected; there is no one to write a
		// response to, but attempt it in case the transport still has a
		// live connection (e.g. context deadline vs. full disconnect).
		writeError(w, http.StatusRequestTimeout, "request cancelled", ErrTypeTimeout)
	default:
		logger.Error("unexpected session error", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error", ErrTypeServerError)
	}
}

// writeError writes a taxonomy-conformant error body at the given status.
func writeError(w http.ResponseWriter, status int, message, errType string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(buildErrorBody(message, errType))
}
