package server

import (
	"context"
	"net/http"

	"github.com/AlessioChianetta/Coachale-sub034/db"
	"github.com/AlessioChianetta/Coachale-sub034/errors"
	"github.com/AlessioChianetta/Coachale-sub034/provider"
)

// statusFor maps an error from the workflow, store or provider to an HTTP
// status. Marks survive wrapping, so the check order only matters when an
// error carries more than one.
func statusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.IsNotFound(err):
		return http.StatusNotFound
	case errors.IsInvalidRequest(err):
		return http.StatusBadRequest
	case errors.IsConflict(err):
		return http.StatusConflict
	case errors.Is(err, provider.ErrNotConfigured), errors.Is(err, errors.ErrServiceUnavailable):
		return http.StatusServiceUnavailable
	case db.IsBusy(err), db.IsDatabaseClosed(err):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	if _, ok := provider.AsAPIError(err); ok {
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}
