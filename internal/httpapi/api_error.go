package httpapi

import (
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/pectics/clash-relay/internal/clash"
	"github.com/pectics/clash-relay/internal/fetch"
	"github.com/pectics/clash-relay/internal/logging"
	"github.com/pectics/clash-relay/internal/model"
	"github.com/pectics/clash-relay/internal/transform"
)

// internalMessage replaces the detail of every document-processing failure
// in responses. The detail goes to the log.
const internalMessage = "内部错误"

// APIError is used by the HTTP layer for configuration, auth and a few
// HTTP-specific errors.
type APIError struct {
	Status   int
	AppError model.AppError
	Cause    error
}

func (e *APIError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.AppError.Code, e.AppError.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.AppError.Code, e.AppError.Message, e.Cause)
}

func (e *APIError) Unwrap() error { return e.Cause }

func apiError(status int, app model.AppError, cause error) error {
	return &APIError{Status: status, AppError: app, Cause: cause}
}

// configMissing reports a required setting that is unset.
func configMissing(key string) error {
	return apiError(http.StatusInternalServerError, model.AppError{
		Code:    "CONFIG_MISSING",
		Message: key + " 未配置",
		Stage:   "config",
	}, nil)
}

// classifyError maps err to the status and payload sent to the client.
func classifyError(err error) (int, model.AppError) {
	var ae *APIError
	if errors.As(err, &ae) {
		return ae.Status, ae.AppError
	}

	var fe *fetch.FetchError
	if errors.As(err, &fe) {
		return fe.Status, fe.AppError
	}

	// A document we cannot decode, rewrite or encode is our failure, not the
	// client's; only the code and stage leave the process.
	var ce *clash.CodecError
	if errors.As(err, &ce) {
		return http.StatusInternalServerError, model.AppError{
			Code:    ce.AppError.Code,
			Message: internalMessage,
			Stage:   ce.AppError.Stage,
		}
	}

	var te *transform.Error
	if errors.As(err, &te) {
		return http.StatusInternalServerError, model.AppError{
			Code:    te.AppError.Code,
			Message: internalMessage,
			Stage:   te.AppError.Stage,
		}
	}

	// Fallback: internal bug.
	return http.StatusInternalServerError, model.AppError{
		Code:    "INTERNAL_ERROR",
		Message: internalMessage,
		Stage:   "internal",
	}
}

func (s *server) writeErrorFromErr(w http.ResponseWriter, r *http.Request, err error) {
	if err == nil {
		return
	}
	status, app := classifyError(err)
	s.metrics.incAppError(app.Stage, app.Code)

	log := logging.FromContext(r.Context(), s.log)
	fields := []zap.Field{
		zap.Int("status", status),
		zap.String("stage", app.Stage),
		zap.String("code", app.Code),
		zap.Error(err),
	}
	if status >= http.StatusInternalServerError {
		log.Error("request failed", fields...)
	} else {
		log.Info("request rejected", fields...)
	}

	WriteError(w, status, app)
}
