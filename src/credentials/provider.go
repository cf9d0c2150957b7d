package credentials

import (
	"context"
	"errors"
	"fmt"

	"positionengine/src/connectors"
	"positionengine/src/model"

	logger "github.com/sirupsen/logrus"
)

// ErrMissingCredentials is returned when a user has no usable keys for an exchange.
var ErrMissingCredentials = errors.New("missing exchange credentials")

type userExchangeStore interface {
	GetByUserAndExchange(ctx context.Context, userID uint, exchangeID uint) (*model.UserExchange, error)
	Upsert(ctx context.Context, ue *model.UserExchange) error
}

type cipher interface {
	EncryptString(plain string) (string, error)
	DecryptString(encrypted string) (string, error)
}

// Provider loads and decrypts per-user exchange credentials.
type Provider struct {
	store  userExchangeStore
	cipher cipher
}

func NewProvider(store userExchangeStore, c cipher) *Provider {
	return &Provider{store: store, cipher: c}
}

// Credentials returns the decrypted credentials of userID for exchangeID.
func (p *Provider) Credentials(ctx context.Context, userID, exchangeID uint) (connectors.Credentials, error) {
	fields := map[string]interface{}{
		"component":   "credentials",
		"user_id":     userID,
		"exchange_id": exchangeID,
	}

	ue, err := p.store.GetByUserAndExchange(ctx, userID, exchangeID)
	if err != nil {
		return connectors.Credentials{}, fmt.Errorf("load credentials: %w", err)
	}
	if ue == nil || ue.APIKeyHash == "" || ue.APISecretHash == "" {
		logger.WithFields(fields).Warn("no credentials stored for user and exchange")
		return connectors.Credentials{}, ErrMissingCredentials
	}

	key, err := p.cipher.DecryptString(ue.APIKeyHash)
	if err != nil {
		logger.WithFields(fields).WithError(err).Error("failed to decrypt api key")
		return connectors.Credentials{}, fmt.Errorf("%w: api key cannot be decrypted", ErrMissingCredentials)
	}
	secret, err := p.cipher.DecryptString(ue.APISecretHash)
	if err != nil {
		logger.WithFields(fields).WithError(err).Error("failed to decrypt api secret")
		return connectors.Credentials{}, fmt.Errorf("%w: api secret cannot be decrypted", ErrMissingCredentials)
	}
	passphrase, err := p.cipher.DecryptString(ue.APIPassphraseHash)
	if err != nil {
		logger.WithFields(fields).WithError(err).Error("failed to decrypt api passphrase")
		return connectors.Credentials{}, fmt.Errorf("%w: api passphrase cannot be decrypted", ErrMissingCredentials)
	}

	return connectors.Credentials{
		APIKey:     key,
		APISecret:  secret,
		Passphrase: passphrase,
		Testnet:    ue.IsTestnet,
	}, nil
}

// Store encrypts creds and saves them for userID and exchangeID.
func (p *Provider) Store(ctx context.Context, userID, exchangeID uint, creds connectors.Credentials) error {
	if err := creds.Validate(false); err != nil {
		return err
	}

	key, err := p.cipher.EncryptString(creds.APIKey)
	if err != nil {
		return fmt.Errorf("encrypt api key: %w", err)
	}
	secret, err := p.cipher.EncryptString(creds.APISecret)
	if err != nil {
		return fmt.Errorf("encrypt api secret: %w", err)
	}
	passphrase := ""
	if creds.Passphrase != "" {
		if passphrase, err = p.cipher.EncryptString(creds.Passphrase); err != nil {
			return fmt.Errorf("encrypt api passphrase: %w", err)
		}
	}

	if err := p.store.Upsert(ctx, &model.UserExchange{
		UserID:            userID,
		ExchangeID:        exchangeID,
		APIKeyHash:        key,
		APISecretHash:     secret,
		APIPassphraseHash: passphrase,
		IsTestnet:         creds.Testnet,
	}); err != nil {
		return fmt.Errorf("save credentials: %w", err)
	}

	logger.WithFields(map[string]interface{}{
		"component":   "credentials",
		"user_id":     userID,
		"exchange_id": exchangeID,
		"testnet":     creds.Testnet,
	}).Info("exchange credentials stored")
	return nil
}
