package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/MJE43/pfrace/internal/game"
)

// ErrorBuilder helps construct structured errors with context
type ErrorBuilder struct {
	errType   string
	message   string
	context   map[string]interface{}
	requestID string
}

// NewError creates a new error builder
func NewError(errType, message string) *ErrorBuilder {
	return &ErrorBuilder{
		errType: errType,
		message: message,
		context: make(map[string]interface{}),
	}
}

// WithContext adds context information to the error
func (eb *ErrorBuilder) WithContext(key string, value interface{}) *ErrorBuilder {
	eb.context[key] = value
	return eb
}

// WithRequestID adds request ID to the error
func (eb *ErrorBuilder) WithRequestID(requestID string) *ErrorBuilder {
	eb.requestID = requestID
	return eb
}

// Build creates the final EngineError
func (eb *ErrorBuilder) Build() EngineError {
	return EngineError{
		Type:      eb.errType,
		Message:   eb.message,
		Context:   eb.context,
		RequestID: eb.requestID,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

// errorMapping pairs an engine sentinel with its wire type and status.
type errorMapping struct {
	target  error
	errType string
	status  int
}

// errorMappings is scanned in order; the first match wins.
var errorMappings = []errorMapping{
	{game.ErrNotFound, ErrTypeNotFound, http.StatusNotFound},
	{game.ErrInsufficientFunds, ErrTypeInsufficientFunds, http.StatusPaymentRequired},
	{game.ErrResourceExhausted, ErrTypeResourceExhausted, http.StatusTooManyRequests},
	{game.ErrPhaseViolation, ErrTypePhaseViolation, http.StatusConflict},
	{game.ErrAlreadyRegistered, ErrTypeAlreadyExists, http.StatusConflict},
	{game.ErrAlreadyCommitted, ErrTypeAlreadyExists, http.StatusConflict},
	{game.ErrAlreadySubmitted, ErrTypeAlreadyExists, http.StatusConflict},
	{game.ErrCapacityExceeded, ErrTypeCapacityExceeded, http.StatusConflict},
	{game.ErrSeedNotReady, ErrTypeSeedNotReady, http.StatusConflict},
	{game.ErrInvalidPlayerState, ErrTypeInvalidPlayerState, http.StatusConflict},
	{game.ErrNoWinner, ErrTypeNoWinner, http.StatusConflict},
	{game.ErrValidation, ErrTypeValidation, http.StatusUnprocessableEntity},
	{game.ErrInvalidArgument, ErrTypeInvalidParams, http.StatusBadRequest},
	{context.DeadlineExceeded, ErrTypeTimeout, http.StatusGatewayTimeout},
}

// classify maps an error to its wire type and HTTP status.
func classify(err error) (string, int) {
	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			return m.errType, m.status
		}
	}
	return ErrTypeInternal, http.StatusInternalServerError
}

// ErrorHandler provides centralized error handling with logging
type ErrorHandler struct {
	logger         *log.Logger
	securityLogger *SecurityLogger
}

// NewErrorHandler creates a new error handler
func NewErrorHandler(logger *log.Logger, securityLogger *SecurityLogger) *ErrorHandler {
	return &ErrorHandler{
		logger:         logger,
		securityLogger: securityLogger,
	}
}

// HandleError classifies err and writes the matching response
func (eh *ErrorHandler) HandleError(w http.ResponseWriter, r *http.Request, err error) {
	requestID := middleware.GetReqID(r.Context())
	errType, status := classify(err)

	message := err.Error()
	if status == http.StatusInternalServerError {
		message = "Internal server error"
	}
	b := NewError(errType, message).
		WithRequestID(requestID).
		WithContext("path", r.URL.Path).
		WithContext("method", r.Method)
	if gameID := chi.URLParam(r, "gameID"); gameID != "" {
		b.WithContext("game_id", gameID)
	}
	engineErr := b.Build()

	if errType == ErrTypeValidation {
		eh.securityLogger.LogSecurityEvent(requestID, "validation_failure", err.Error(),
			map[string]interface{}{"path": r.URL.Path}, r.RemoteAddr)
	}
	if status == http.StatusInternalServerError {
		eh.logger.Printf("internal_error request_id=%s path=%s error=%v", requestID, r.URL.Path, err)
	}

	eh.logError(r, engineErr, status)
	eh.writeErrorResponse(w, status, engineErr)
}

// HandleValidationError handles malformed requests
func (eh *ErrorHandler) HandleValidationError(w http.ResponseWriter, r *http.Request, field, message string) {
	requestID := middleware.GetReqID(r.Context())

	engineErr := NewError(ErrTypeInvalidParams, fmt.Sprintf("Invalid request: %s", message)).
		WithRequestID(requestID).
		WithContext("field", field).
		WithContext("path", r.URL.Path).
		WithContext("method", r.Method).
		Build()

	eh.securityLogger.LogSecurityEvent(
		requestID,
		"validation_failure",
		message,
		map[string]interface{}{
			"field": field,
			"path":  r.URL.Path,
		},
		r.RemoteAddr,
	)

	eh.logError(r, engineErr, http.StatusBadRequest)
	eh.writeErrorResponse(w, http.StatusBadRequest, engineErr)
}

// logError logs the error with a level derived from its category
func (eh *ErrorHandler) logError(r *http.Request, engineErr EngineError, status int) {
	category := GetErrorCategory(engineErr.Type)

	logLevel := "WARN"
	if status >= 500 {
		logLevel = "ERROR"
	}

	eh.logger.Printf(
		"error_occurred level=%s type=%s category=%s status=%d request_id=%s method=%s path=%s message=%q",
		logLevel, engineErr.Type, category, status, engineErr.RequestID, r.Method, r.URL.Path, engineErr.Message,
	)
}

// writeErrorResponse writes the error response as JSON
func (eh *ErrorHandler) writeErrorResponse(w http.ResponseWriter, status int, engineErr EngineError) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Engine-Version", EngineVersion)
	w.Header().Set("X-Error-Type", engineErr.Type)
	w.Header().Set("X-Error-Category", string(GetErrorCategory(engineErr.Type)))
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(engineErr); err != nil {
		eh.logger.Printf("error_encode_failed request_id=%s error=%v", engineErr.RequestID, err)
	}
}

// RecoveryHandler provides panic recovery with structured error logging
func (eh *ErrorHandler) RecoveryHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rvr := recover(); rvr != nil {
				if rvr == http.ErrAbortHandler {
					panic(rvr)
				}
				requestID := middleware.GetReqID(r.Context())

				eh.logger.Printf(
					"panic_recovered request_id=%s path=%s method=%s panic=%v",
					requestID, r.URL.Path, r.Method, rvr,
				)

				engineErr := NewError(ErrTypeInternal, "Internal server error").
					WithRequestID(requestID).
					WithContext("path", r.URL.Path).
					WithContext("method", r.Method).
					Build()

				eh.writeErrorResponse(w, http.StatusInternalServerError, engineErr)
			}
		}()

		next.ServeHTTP(w, r)
	})
}
