package auth

import (
	"context"
	"fmt"
	"time"

	apperrors "github.com/rajasatyajit/stripemirror/internal/errors"
	"github.com/rajasatyajit/stripemirror/internal/logger"
	"github.com/rajasatyajit/stripemirror/internal/store"
	"golang.org/x/crypto/bcrypt"
)

const (
	keyStatusActive  = "active"
	keyStatusRevoked = "revoked"
	keyField         = "keyId"
)

// KeyStore keeps API keys in the apiKeys table. Only the bcrypt hash of the secret
// is stored.
type KeyStore struct {
	store *store.Dispatcher
	env   string
}

func NewKeyStore(d *store.Dispatcher, env string) *KeyStore {
	if env == "" {
		env = "live"
	}
	return &KeyStore{store: d, env: env}
}

// Create issues a key for entityID and returns the raw key. It is not recoverable later.
func (k *KeyStore) Create(ctx context.Context, entityID string) (rawKey, keyID string, err error) {
	if entityID == "" {
		return "", "", apperrors.ValidationError{Field: "entityId", Message: "entity id is required"}
	}
	id, raw, hash, err := GenerateAPIKey(k.env)
	if err != nil {
		return "", "", err
	}
	if _, err := k.store.Upsert(ctx, store.TableAPIKeys, keyField, store.Document{
		keyField:            id,
		store.FieldEntityID: entityID,
		"env":               k.env,
		"keyHash":           string(hash),
		"status":            keyStatusActive,
		"createdAt":         time.Now().UTC().Format(time.RFC3339),
	}); err != nil {
		return "", "", fmt.Errorf("store api key: %w", err)
	}
	logger.Info("API key created", "key_id", id, "entity_id", entityID)
	return raw, id, nil
}

// Verify resolves a raw key to its principal.
func (k *KeyStore) Verify(ctx context.Context, rawKey string) (*Principal, error) {
	_, id, secret, ok := ParseAPIKey(rawKey)
	if !ok {
		return nil, apperrors.ErrUnauthorized
	}
	rec, err := k.store.SelectOne(ctx, store.TableAPIKeys, keyField, id)
	if err != nil {
		return nil, err
	}
	if rec == nil || rec.String("status") != keyStatusActive {
		return nil, apperrors.ErrUnauthorized
	}
	if err := bcrypt.CompareHashAndPassword([]byte(rec.String("keyHash")), []byte(secret)); err != nil {
		return nil, apperrors.ErrUnauthorized
	}
	return &Principal{EntityID: rec.String(store.FieldEntityID), APIKeyID: id}, nil
}

// Revoke disables a key. Revoking an unknown key is ErrNotFound.
func (k *KeyStore) Revoke(ctx context.Context, keyID string) error {
	rec, err := k.store.SelectOne(ctx, store.TableAPIKeys, keyField, keyID)
	if err != nil {
		return err
	}
	if rec == nil {
		return fmt.Errorf("api key %s: %w", keyID, apperrors.ErrNotFound)
	}
	if _, err := k.store.Upsert(ctx, store.TableAPIKeys, keyField, store.Document{
		keyField: keyID,
		"status": keyStatusRevoked,
	}); err != nil {
		return err
	}
	logger.Info("API key revoked", "key_id", keyID)
	return nil
}
