package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"positionengine/src/database"
	"positionengine/src/model"
	"positionengine/src/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRouter(t *testing.T) {
	db, err := database.Open(database.Config{Driver: database.DriverSQLite, DatabaseURLMain: "file::memory:", GormLogLevel: 1})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))

	positions := repository.NewPositionRepository().WithDB(db)
	require.NoError(t, positions.Create(context.Background(), &model.Position{
		UserID: 7, ExchangeID: model.ExchangeOKX, Symbol: "BTCUSDT", Side: model.SideBuy, Leverage: 1, Status: model.PositionStatusOpen,
	}))

	h := NewRouter(Deps{
		Orders:    repository.NewOrderRepository().WithDB(db),
		Positions: positions,
	})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthcheck", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "OK", rr.Body.String())

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/positions", nil))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	req := httptest.NewRequest(http.MethodGet, "/positions", nil)
	req.Header.Set("X-User-ID", "7")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"symbol":"BTCUSDT"`)

	req = httptest.NewRequest(http.MethodGet, "/orders", nil)
	req.Header.Set("X-User-ID", "7")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
}
