package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"positionengine/src/auth"
	"positionengine/src/controller"

	logger "github.com/sirupsen/logrus"
)

type instructionExecutor interface {
	Execute(ctx context.Context, in controller.Instruction) (controller.Outcome, error)
}

// ExecuteInstructionHandler places a trading instruction for the authenticated user.
// The user id in the payload is ignored.
func ExecuteInstructionHandler(exec instructionExecutor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := auth.GetUserIDFromContext(r.Context())
		if !ok {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		var in controller.Instruction
		decoder := json.NewDecoder(r.Body)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&in); err != nil {
			logger.WithError(err).Warn("invalid instruction payload")
			writeError(w, http.StatusBadRequest, "invalid payload")
			return
		}
		in.UserID = userID

		out, err := exec.Execute(r.Context(), in)
		switch {
		case err == nil:
		case errors.Is(err, controller.ErrInvalidInstruction):
			writeError(w, http.StatusBadRequest, err.Error())
			return
		case errors.Is(err, controller.ErrMissingCredentials):
			writeError(w, http.StatusPreconditionFailed, "exchange credentials are not configured")
			return
		case errors.Is(err, controller.ErrInsufficientFunds):
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		default:
			logger.WithError(err).Error("failed to execute instruction")
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}

		status := http.StatusOK
		if !out.Success {
			status = http.StatusBadGateway
		}
		writeJSON(w, status, out)
	}
}
