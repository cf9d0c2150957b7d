package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"positionengine/src/auth"
	"positionengine/src/model"
	"positionengine/src/watchdog"

	"github.com/go-chi/chi/v5"
	logger "github.com/sirupsen/logrus"
)

type sweepTrigger interface {
	Trigger()
}

type orderChecker interface {
	CheckOrder(ctx context.Context, orderID uint) (*model.Position, error)
}

type orderFinder interface {
	FindByID(ctx context.Context, id uint) (*model.Order, error)
}

// TriggerSweepHandler asks the running watchdog loop to reconcile now.
func TriggerSweepHandler(t sweepTrigger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		t.Trigger()
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "triggered"})
	}
}

// CheckOrderHandler reconciles one of the user's stoploss orders with its exchange.
func CheckOrderHandler(orders orderFinder, checker orderChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := auth.GetUserIDFromContext(r.Context())
		if !ok {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		orderID, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 32)
		if err != nil || orderID == 0 {
			writeError(w, http.StatusBadRequest, "invalid order id")
			return
		}

		order, err := orders.FindByID(r.Context(), uint(orderID))
		if err != nil {
			logger.WithError(err).Error("failed to load order")
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		if order == nil || order.UserID != userID {
			writeError(w, http.StatusNotFound, "order not found")
			return
		}

		pos, err := checker.CheckOrder(r.Context(), order.ID)
		switch {
		case err == nil:
			writeJSON(w, http.StatusOK, map[string]interface{}{"status": "closed", "position": pos})
		case errors.Is(err, watchdog.ErrStoplossNotTriggered):
			writeJSON(w, http.StatusOK, map[string]interface{}{"status": "waiting"})
		case errors.Is(err, watchdog.ErrNotStoplossOrder):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, watchdog.ErrMissingCredentials):
			writeError(w, http.StatusPreconditionFailed, "exchange credentials are not configured")
		default:
			logger.WithError(err).WithField("order_id", orderID).Error("failed to check order")
			writeError(w, http.StatusBadGateway, "could not reconcile order")
		}
	}
}
