package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"positionengine/src/auth"
	"positionengine/src/ledger"
	"positionengine/src/model"
	"positionengine/src/watchdog"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"
)

type positionLister interface {
	ListByUser(ctx context.Context, userID uint, status string) ([]model.Position, error)
}

type positionCloser interface {
	ClosePosition(ctx context.Context, userID, positionID uint, fallbackPrice *decimal.Decimal) (*model.Position, error)
}

type closeRequest struct {
	FallbackPrice *decimal.Decimal `json:"fallback_price"`
}

// ListPositionsHandler lists the authenticated user's positions, optionally filtered by status.
func ListPositionsHandler(repo positionLister) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := auth.GetUserIDFromContext(r.Context())
		if !ok {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		status := strings.ToUpper(r.URL.Query().Get("status"))
		if status != "" && status != model.PositionStatusOpen && status != model.PositionStatusClosed {
			http.Error(w, "invalid status", http.StatusBadRequest)
			return
		}

		positions, err := repo.ListByUser(r.Context(), userID, status)
		if err != nil {
			logger.WithError(err).Error("failed to list positions")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, positions)
	}
}

// ClosePositionHandler closes a position through its stoploss order.
// An optional fallback_price is used when the exchange reports no executed price.
func ClosePositionHandler(closer positionCloser) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := auth.GetUserIDFromContext(r.Context())
		if !ok {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		positionID, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 32)
		if err != nil || positionID == 0 {
			writeError(w, http.StatusBadRequest, "invalid position id")
			return
		}

		var req closeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "invalid payload")
			return
		}

		pos, err := closer.ClosePosition(r.Context(), userID, uint(positionID), req.FallbackPrice)
		switch {
		case err == nil:
			writeJSON(w, http.StatusOK, pos)
		case errors.Is(err, ledger.ErrPositionNotFound):
			writeError(w, http.StatusNotFound, "position not found")
		case errors.Is(err, ledger.ErrPositionClosed):
			writeError(w, http.StatusConflict, "position already closed")
		case errors.Is(err, watchdog.ErrNoStoplossOrder),
			errors.Is(err, watchdog.ErrMissingPrice):
			writeError(w, http.StatusUnprocessableEntity, err.Error())
		case errors.Is(err, watchdog.ErrMissingCredentials):
			writeError(w, http.StatusPreconditionFailed, "exchange credentials are not configured")
		default:
			logger.WithError(err).WithField("position_id", positionID).Error("failed to close position")
			writeError(w, http.StatusInternalServerError, "internal error")
		}
	}
}
