package errorlog

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"positionengine/src/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeExceptionRepo struct {
	mu      sync.Mutex
	created []*model.Exception
	err     error
}

func (f *fakeExceptionRepo) Create(_ context.Context, exc *model.Exception) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, exc)
	return f.err
}

func TestLogErrorAsyncPersistsException(t *testing.T) {
	repo := &fakeExceptionRepo{}
	l := New(repo)

	l.LogErrorAsync("no stoploss order found", errors.New("lookup failed"), "watchdog.CloseOrdersAndPosition", map[string]interface{}{
		"positionId": 12,
		"symbol":     "BTCUSDT",
		"userId":     3,
	})
	l.Wait()

	require.Len(t, repo.created, 1)
	exc := repo.created[0]
	assert.Equal(t, "position_engine", exc.Service)
	assert.Equal(t, "watchdog.CloseOrdersAndPosition", exc.Source)
	assert.Equal(t, "no stoploss order found", exc.Message)
	assert.Equal(t, "lookup failed", exc.Error)
	assert.Equal(t, model.ExceptionLevelError, exc.Level)
	assert.NotEmpty(t, exc.Stack)

	var ctxData map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(exc.Context), &ctxData))
	assert.Equal(t, "BTCUSDT", ctxData["symbol"])
	assert.EqualValues(t, 12, ctxData["positionId"])
}

func TestLogErrorAsyncRedactsCredentials(t *testing.T) {
	repo := &fakeExceptionRepo{}
	l := New(repo)

	l.LogErrorAsync("dispatch failed", nil, "dispatcher.Dispatch", map[string]interface{}{
		"apiKey":        "AKIA-123",
		"apiSecret":     "very-secret",
		"apiPassphrase": "pp",
		"symbol":        "ETHUSDT",
	})
	l.Wait()

	require.Len(t, repo.created, 1)
	assert.NotContains(t, repo.created[0].Context, "AKIA-123")
	assert.NotContains(t, repo.created[0].Context, "very-secret")
	assert.Contains(t, repo.created[0].Context, "ETHUSDT")
	assert.Empty(t, repo.created[0].Error)
}

func TestLogErrorAsyncSurvivesRepositoryFailure(t *testing.T) {
	repo := &fakeExceptionRepo{err: errors.New("db down")}
	l := New(repo)

	assert.NotPanics(t, func() {
		l.LogErrorAsync("x", errors.New("y"), "test", nil)
		l.Wait()
	})

	require.Len(t, repo.created, 1)
	assert.Equal(t, "{}", repo.created[0].Context)
}

func TestLogErrorAsyncWithoutRepository(t *testing.T) {
	l := New(nil)
	assert.NotPanics(t, func() {
		l.LogErrorAsync("x", nil, "test", nil)
		l.Wait()
	})
}
