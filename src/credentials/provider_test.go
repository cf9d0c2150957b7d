package credentials

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"testing"

	"positionengine/src/connectors"
	"positionengine/src/database"
	"positionengine/src/model"
	"positionengine/src/repository"
	"positionengine/src/security"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCipher(t *testing.T) *security.Cipher {
	t.Helper()
	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)
	c, err := security.NewCipher(base64.StdEncoding.EncodeToString(key))
	require.NoError(t, err)
	return c
}

func newProvider(t *testing.T) (*Provider, *repository.GormUserExchangeRepository) {
	t.Helper()
	db, err := database.Open(database.Config{Driver: database.DriverSQLite, DatabaseURLMain: "file::memory:", GormLogLevel: 1})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	repo := repository.NewUserExchangeRepository().WithDB(db)
	return NewProvider(repo, newCipher(t)), repo
}

func TestProviderStoreAndLoad(t *testing.T) {
	provider, repo := newProvider(t)
	ctx := context.Background()

	want := connectors.Credentials{APIKey: "key", APISecret: "secret", Passphrase: "pass", Testnet: true}
	require.NoError(t, provider.Store(ctx, 7, model.ExchangeOKX, want))

	row, err := repo.GetByUserAndExchange(ctx, 7, model.ExchangeOKX)
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.NotEqual(t, "key", row.APIKeyHash)
	assert.NotEqual(t, "secret", row.APISecretHash)

	got, err := provider.Credentials(ctx, 7, model.ExchangeOKX)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestProviderStoreOverwrites(t *testing.T) {
	provider, _ := newProvider(t)
	ctx := context.Background()

	require.NoError(t, provider.Store(ctx, 7, model.ExchangeKraken, connectors.Credentials{APIKey: "old", APISecret: "old"}))
	require.NoError(t, provider.Store(ctx, 7, model.ExchangeKraken, connectors.Credentials{APIKey: "new", APISecret: "new"}))

	got, err := provider.Credentials(ctx, 7, model.ExchangeKraken)
	require.NoError(t, err)
	assert.Equal(t, "new", got.APIKey)
	assert.Empty(t, got.Passphrase)
}

func TestProviderMissingCredentials(t *testing.T) {
	provider, _ := newProvider(t)

	_, err := provider.Credentials(context.Background(), 99, model.ExchangeBitget)
	assert.ErrorIs(t, err, ErrMissingCredentials)

	err = provider.Store(context.Background(), 99, model.ExchangeBitget, connectors.Credentials{APIKey: "only-key"})
	assert.Error(t, err)
}

type memoryStore struct {
	row *model.UserExchange
	err error
}

func (m *memoryStore) GetByUserAndExchange(context.Context, uint, uint) (*model.UserExchange, error) {
	return m.row, m.err
}

func (m *memoryStore) Upsert(_ context.Context, ue *model.UserExchange) error {
	m.row = ue
	return m.err
}

func TestProviderUndecryptableRow(t *testing.T) {
	store := &memoryStore{row: &model.UserExchange{APIKeyHash: "plaintext-key", APISecretHash: "plaintext-secret"}}
	provider := NewProvider(store, newCipher(t))

	_, err := provider.Credentials(context.Background(), 1, 1)
	require.ErrorIs(t, err, ErrMissingCredentials)
	assert.NotContains(t, err.Error(), "plaintext")
}

func TestProviderStoreError(t *testing.T) {
	store := &memoryStore{err: errors.New("db down")}
	provider := NewProvider(store, newCipher(t))

	_, err := provider.Credentials(context.Background(), 1, 1)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrMissingCredentials)
}
