package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/fyrsmithlabs/corpora/internal/collections"
	"github.com/fyrsmithlabs/corpora/internal/embeddings"
	"github.com/fyrsmithlabs/corpora/internal/ingest"
	"github.com/fyrsmithlabs/corpora/internal/query"
	"github.com/fyrsmithlabs/corpora/internal/synthesis"
	"github.com/fyrsmithlabs/corpora/internal/vectorstore"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

var errInvalidUpload = errors.New("invalid upload name")

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	var maxBytes *http.MaxBytesError
	switch {
	case errors.Is(err, collections.ErrCollectionNotFound):
		return http.StatusNotFound
	case errors.Is(err, collections.ErrDuplicateCollection),
		errors.Is(err, vectorstore.ErrCollectionExists):
		return http.StatusConflict
	case errors.Is(err, collections.ErrInvalidCollectionName),
		errors.Is(err, ingest.ErrInvalidPolicy),
		errors.Is(err, query.ErrEmptyQuery),
		errors.Is(err, query.ErrInvalidTopK),
		errors.Is(err, errInvalidUpload):
		return http.StatusBadRequest
	case errors.As(err, &maxBytes):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	case errors.Is(err, embeddings.ErrEmbeddingFailed),
		errors.Is(err, synthesis.ErrSynthesisFailed),
		errors.Is(err, vectorstore.ErrBackend),
		errors.Is(err, vectorstore.ErrConnectionFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// httpError converts err into an echo error. Client errors carry the error
// text; server errors are logged and answered with a generic message.
func (s *Server) httpError(c echo.Context, op string, err error) error {
	status := statusFor(err)
	if status < http.StatusInternalServerError {
		s.logger.Debug(op+" rejected", zap.Int("status", status), zap.Error(err))
		return echo.NewHTTPError(status, err.Error())
	}
	s.logger.Error(op+" failed",
		zap.Int("status", status),
		zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
		zap.Error(err),
	)
	return echo.NewHTTPError(status, op+" failed")
}
