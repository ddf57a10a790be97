package engine

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"gyroscope/internal/domain"
	"gyroscope/internal/events"
	"gyroscope/internal/repo"
)

const apiKeyPrefix = "gyro_"

// ErrNotOwner is returned when an actor deletes a key minted for another actor.
var ErrNotOwner = errors.New("api key belongs to another actor")

// CreateAPIKey mints a key for actorID. The raw key is returned once; only its
// digest is stored.
func (e Engine) CreateAPIKey(ctx context.Context, actorID, name string) (domain.APIKey, string, error) {
	actorID = strings.TrimSpace(actorID)
	if actorID == "" {
		return domain.APIKey{}, "", errors.New("actor id is required")
	}
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return domain.APIKey{}, "", fmt.Errorf("generate key: %w", err)
	}
	raw := apiKeyPrefix + hex.EncodeToString(buf)
	key := domain.APIKey{
		ID:        uuid.NewString(),
		ActorID:   actorID,
		Name:      strings.TrimSpace(name),
		KeyHash:   repo.HashAPIKey(raw),
		CreatedAt: e.now().UTC().Format(time.RFC3339),
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.APIKey{}, "", err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertAPIKeyTx(ctx, tx, key); err != nil {
		return domain.APIKey{}, "", err
	}
	if err := e.writer().Append(ctx, tx, events.APIKeyCreated, "api_key", key.ID, actorID, events.EventPayload{"name": key.Name}); err != nil {
		return domain.APIKey{}, "", err
	}
	if err := tx.Commit(); err != nil {
		return domain.APIKey{}, "", err
	}
	return key, raw, nil
}

func (e Engine) ListAPIKeys(ctx context.Context, actorID string) ([]domain.APIKey, error) {
	return e.Repo.ListAPIKeys(ctx, actorID)
}

// DeleteAPIKey removes a key owned by actorID.
func (e Engine) DeleteAPIKey(ctx context.Context, id, actorID string) error {
	actorID = actorOrDefault(strings.TrimSpace(actorID))
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	key, err := e.Repo.GetAPIKeyTx(ctx, tx, id)
	if err != nil {
		return fmt.Errorf("api key %s: %w", id, err)
	}
	if key.ActorID != actorID {
		return fmt.Errorf("api key %s: %w", id, ErrNotOwner)
	}
	if err := e.Repo.DeleteAPIKeyTx(ctx, tx, id); err != nil {
		return err
	}
	if err := e.writer().Append(ctx, tx, events.APIKeyDeleted, "api_key", id, actorID, events.EventPayload{"owner": key.ActorID}); err != nil {
		return err
	}
	return tx.Commit()
}
