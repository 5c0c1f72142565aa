package api

import (
	"context"
	"errors"
	"net/http"

	"SignalDesk/internal/domain/models"
	domrepo "SignalDesk/internal/domain/repository"
	"SignalDesk/internal/usecase"
	xhttp "SignalDesk/pkg/http"
)

// toAppError maps engine errors onto HTTP statuses.
func toAppError(err error) *xhttp.AppError {
	var appErr *xhttp.AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	var (
		inconsistent *models.InconsistentStateError
		reconcile    *usecase.ReconcileError
		remote       *models.RemoteServiceError
	)
	switch {
	case errors.Is(err, models.ErrThresholdLocked):
		return xhttp.NewAppError("ERR_THRESHOLD_LOCKED", "vote_threshold_pct", err.Error(), http.StatusConflict).WithError(err)
	case errors.As(err, &inconsistent):
		return xhttp.NewAppError("ERR_INCONSISTENT_STATE", "", inconsistent.Error(), http.StatusConflict).
			WithParam("op", inconsistent.Op).WithError(err)
	case errors.Is(err, models.ErrInvalidIndicatorType):
		return xhttp.NewAppError("ERR_INVALID_TYPE", "indicator_type", err.Error(), http.StatusBadRequest).WithError(err)
	case errors.Is(err, models.ErrInvalidWeight):
		return xhttp.NewAppError("ERR_INVALID_WEIGHT", "weight", err.Error(), http.StatusBadRequest).WithError(err)
	case errors.Is(err, models.ErrInvalidMethod):
		return xhttp.NewAppError("ERR_INVALID_METHOD", "method", err.Error(), http.StatusBadRequest).WithError(err)
	case errors.Is(err, models.ErrThresholdRange):
		return xhttp.NewAppError("ERR_THRESHOLD_RANGE", "vote_threshold_pct", err.Error(), http.StatusBadRequest).WithError(err)
	case errors.Is(err, models.ErrInvalidWindow):
		return xhttp.NewAppError("ERR_INVALID_WINDOW", "", err.Error(), http.StatusBadRequest).WithError(err)
	case errors.Is(err, domrepo.ErrNotFound):
		return xhttp.NotFoundError(err.Error()).WithError(err)
	case errors.Is(err, usecase.ErrPresetsDisabled):
		return xhttp.NewAppError("ERR_PRESETS_DISABLED", "", err.Error(), http.StatusNotImplemented).WithError(err)
	case errors.As(err, &reconcile):
		// the mutation itself went through; the local view is marked stale
		return xhttp.NewAppError("ERR_STALE", "", err.Error(), http.StatusBadGateway).
			WithParam("op", reconcile.Op).WithParam("stale", true).WithError(err)
	case errors.As(err, &remote):
		e := xhttp.BadGatewayError(remote.Error()).WithParam("op", remote.Op).WithError(err)
		if remote.Status > 0 {
			e.WithParam("upstream_status", remote.Status)
		}
		return e
	case errors.Is(err, context.DeadlineExceeded):
		return xhttp.NewAppError("ERR_TIMEOUT", "", err.Error(), http.StatusGatewayTimeout).WithError(err)
	default:
		return xhttp.InternalError("internal error").WithError(err)
	}
}
