package sqlite

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"time"

	"github.com/google/uuid"
)

type userIDsRepo struct {
	db *sql.DB
}

// hashICCSN derives the storage key from a card serial. Only the hash
// touches the database.
func hashICCSN(iccsn string) string {
	sum := sha256.Sum256([]byte(iccsn))
	return hex.EncodeToString(sum[:])
}

func (r *userIDsRepo) Ensure(ctx context.Context, iccsn string) (string, error) {
	key := hashICCSN(iccsn)

	var id string
	err := r.db.QueryRowContext(ctx,
		`SELECT user_id FROM user_ids WHERE iccsn_hash = ?`, key).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", err
	}

	id = uuid.NewString()
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO user_ids (iccsn_hash, user_id, created_at)
		 VALUES (?, ?, ?)
		 ON CONFLICT(iccsn_hash) DO NOTHING`,
		key, id, time.Now().UTC())
	if err != nil {
		return "", err
	}

	// Re-read in case a concurrent flow won the insert.
	err = r.db.QueryRowContext(ctx,
		`SELECT user_id FROM user_ids WHERE iccsn_hash = ?`, key).Scan(&id)
	if err != nil {
		return "", err
	}
	return id, nil
}
