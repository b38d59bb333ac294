package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/FairForge/achievements/internal/achievement"
	"github.com/FairForge/achievements/internal/common"
	"github.com/FairForge/achievements/internal/gateway"
	"github.com/FairForge/achievements/internal/objstore"
)

// Error codes returned in the JSON error body.
const (
	CodeInvalidArgument   = "INVALID_ARGUMENT"
	CodeNotFound          = "NOT_FOUND"
	CodeMethodNotAllowed  = "METHOD_NOT_ALLOWED"
	CodeResourceExhausted = "RESOURCE_EXHAUSTED"
	CodeDeadlineExceeded  = "DEADLINE_EXCEEDED"
	CodeInternal          = "INTERNAL"
)

var errorStatusCodes = map[string]int{
	CodeInvalidArgument:   http.StatusBadRequest,
	CodeNotFound:          http.StatusNotFound,
	CodeMethodNotAllowed:  http.StatusMethodNotAllowed,
	CodeResourceExhausted: http.StatusTooManyRequests,
	CodeDeadlineExceeded:  http.StatusGatewayTimeout,
	CodeInternal:          http.StatusInternalServerError,
}

// ErrorResponse is the JSON body of every non-2xx answer.
type ErrorResponse struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("failed to encode response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, code, message string) {
	status, ok := errorStatusCodes[code]
	if !ok {
		code, status = CodeInternal, http.StatusInternalServerError
	}
	s.writeJSON(w, status, ErrorResponse{
		Code:      code,
		Message:   message,
		RequestID: common.RequestID(r.Context()),
	})
}

// writeGatewayError maps a gateway error onto the wire. Storage failures are
// logged in full and reported to the caller without detail.
func (s *Server) writeGatewayError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case achievement.IsValidation(err):
		s.writeError(w, r, CodeInvalidArgument, err.Error())
	case errors.Is(err, gateway.ErrArtifactNotFound), objstore.IsNotFound(err):
		s.writeError(w, r, CodeNotFound, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		s.writeError(w, r, CodeDeadlineExceeded, "request timed out")
	default:
		s.logger.Error("request failed",
			zap.String("request_id", common.RequestID(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		s.writeError(w, r, CodeInternal, "internal error")
	}
}
