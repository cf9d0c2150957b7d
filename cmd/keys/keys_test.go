package keys

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"positionengine/src/connectors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type storeKey struct{ user, exchange uint }

type memoryStore map[storeKey]connectors.Credentials

func (m memoryStore) Store(_ context.Context, userID, exchangeID uint, creds connectors.Credentials) error {
	m[storeKey{userID, exchangeID}] = creds
	return nil
}

func (m memoryStore) Credentials(_ context.Context, userID, exchangeID uint) (connectors.Credentials, error) {
	creds, ok := m[storeKey{userID, exchangeID}]
	if !ok {
		return connectors.Credentials{}, errors.New("missing")
	}
	return creds, nil
}

type resolver map[string]uint

func (r resolver) ResolveExchange(selector string) uint {
	return r[strings.ToLower(selector)]
}

func TestKeysShell(t *testing.T) {
	store := memoryStore{}
	k := &Keys{
		Store:    store,
		Resolver: resolver{"okx": 2, "bitget": 1},
		Config:   Config{DefaultExchange: "bitget"},
	}

	input := strings.Join([]string{
		"help",
		"set_key 7 okx key-abcdef secret-123456 pass-1",
		"set_key 8 - key-zzzz9999 secret-2",
		"set_key 9 binance k s",
		"set_key 0 okx k s",
		"set_key 7 okx onlykey",
		"check 7 okx",
		"check 9 okx",
		"bogus",
		"shutdown",
		"set_key 10 okx never stored",
	}, "\n")

	var out bytes.Buffer
	require.NoError(t, k.Run(context.Background(), strings.NewReader(input), &out))

	assert.Equal(t, connectors.Credentials{APIKey: "key-abcdef", APISecret: "secret-123456", Passphrase: "pass-1"}, store[storeKey{7, 2}])
	assert.Equal(t, "secret-2", store[storeKey{8, 1}].APISecret)
	assert.Len(t, store, 2)

	text := out.String()
	assert.Contains(t, text, "Available commands:")
	assert.Contains(t, text, "unsupported exchange \"binance\"")
	assert.Contains(t, text, "invalid user id \"0\"")
	assert.Contains(t, text, "keys ok for user 7 on exchange 2")
	assert.Contains(t, text, "no usable keys for user 9 on exchange 2")
	assert.Contains(t, text, "Unknown command: bogus")
	assert.Contains(t, text, "Exiting CLI...")
	assert.NotContains(t, text, "secret-123456")
	assert.NotContains(t, text, "key-abcdef")
}

func TestKeysShellStopsAtEOF(t *testing.T) {
	k := &Keys{Store: memoryStore{}, Resolver: resolver{}}
	var out bytes.Buffer
	assert.NoError(t, k.Run(context.Background(), strings.NewReader("help\n"), &out))
}
