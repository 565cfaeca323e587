package http

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/docindex/internal/domain"
	"github.com/fyrsmithlabs/docindex/internal/logging"
)

// StatusClientClosedRequest is reported when the caller went away before the
// operation finished.
const StatusClientClosedRequest = 499

// ErrorBody is the error envelope.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail carries the structured code and a human-readable message.
type ErrorDetail struct {
	Code    domain.ErrorCode `json:"code"`
	Message string           `json:"message"`
}

var codeStatus = map[domain.ErrorCode]int{
	domain.CodeValidation:       http.StatusBadRequest,
	domain.CodeNotFound:         http.StatusNotFound,
	domain.CodeNotProcessed:     http.StatusNotFound,
	domain.CodeNotIndexed:       http.StatusConflict,
	domain.CodeAlreadyIndexing:  http.StatusConflict,
	domain.CodeEmbeddingService: http.StatusBadGateway,
	domain.CodeSynthesisService: http.StatusBadGateway,
	domain.CodeIndexBuildFailed: http.StatusInternalServerError,
	domain.CodeIndexCorruption:  http.StatusInternalServerError,
	domain.CodeUnavailable:      http.StatusServiceUnavailable,
	domain.CodeCanceled:         StatusClientClosedRequest,
	domain.CodeInternal:         http.StatusInternalServerError,
}

// StatusFor returns the HTTP status for an error code.
func StatusFor(code domain.ErrorCode) int {
	if s, ok := codeStatus[code]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// statusCode maps plain HTTP statuses raised by echo (unknown routes, bad
// bodies) onto error codes.
func statusCode(status int) domain.ErrorCode {
	switch status {
	case http.StatusBadRequest, http.StatusUnsupportedMediaType, http.StatusRequestEntityTooLarge:
		return domain.CodeValidation
	case http.StatusNotFound, http.StatusMethodNotAllowed:
		return domain.CodeNotFound
	case http.StatusServiceUnavailable:
		return domain.CodeUnavailable
	default:
		return domain.CodeInternal
	}
}

// errorHandler renders every error as an ErrorBody.
func (s *Server) errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	var (
		status int
		body   ErrorBody
		he     *echo.HTTPError
	)
	if errors.As(err, &he) {
		status = he.Code
		msg := http.StatusText(he.Code)
		if m, ok := he.Message.(string); ok {
			msg = m
		}
		body.Error = ErrorDetail{Code: statusCode(he.Code), Message: msg}
	} else {
		code := domain.Code(err)
		status = StatusFor(code)
		body.Error = ErrorDetail{Code: code, Message: err.Error()}
	}

	ctx := c.Request().Context()
	fields := append(logging.ContextFields(ctx),
		zap.String("code", string(body.Error.Code)),
		zap.Int("status", status),
		zap.Error(err))
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", fields...)
	} else {
		s.logger.Debug("request rejected", fields...)
	}

	if c.Request().Method == http.MethodHead {
		err = c.NoContent(status)
	} else {
		err = c.JSON(status, body)
	}
	if err != nil {
		s.logger.Warn("writing error response", zap.Error(err))
	}
}
