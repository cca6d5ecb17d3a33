package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"sync"
	"time"

	"github.com/pkg/errors"

	"pillchat-backend/internal/db"
)

// DatabaseStore keeps session state in PostgreSQL so several server replicas
// can serve the same session. Rows are deleted when the session ends.
//
// Per-session API keys are not written to the state column. They stay in
// this process only, so a session served by another replica falls back to
// an unauthenticated request against its overridden endpoint.
type DatabaseStore struct {
	db  *db.DB
	ttl time.Duration
	now func() time.Time

	mu   sync.Mutex
	keys map[string]string
}

func NewDatabaseStore(database *db.DB, ttl time.Duration) *DatabaseStore {
	return &DatabaseStore{
		db:   database,
		ttl:  ttl,
		now:  time.Now,
		keys: make(map[string]string),
	}
}

func (ds *DatabaseStore) Create(ctx context.Context, sess *Session) error {
	if sess.ID == "" {
		return errors.New("session id is required")
	}
	now := ds.now().UTC()
	sess.CreatedAt, sess.UpdatedAt = now, now
	payload, err := ds.encode(sess)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO conversation_sessions (session_id, state, created_at, updated_at)
		VALUES ($1, $2, $3, $3)
		ON CONFLICT (session_id) DO NOTHING
	`
	res, err := ds.db.ExecContext(ctx, query, sess.ID, payload, now)
	if err != nil {
		return errors.Wrap(err, "failed to create session")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return errors.Wrap(ErrExists, sess.ID)
	}
	ds.rememberKey(sess)
	return nil
}

func (ds *DatabaseStore) Get(ctx context.Context, id string) (*Session, error) {
	if id == "" {
		return nil, ErrNotFound
	}
	var (
		payload   []byte
		updatedAt time.Time
	)
	query := `
		SELECT state, updated_at
		FROM conversation_sessions
		WHERE session_id = $1
	`
	err := ds.db.QueryRowContext(ctx, query, id).Scan(&payload, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get session")
	}
	if ds.ttl > 0 && ds.now().Sub(updatedAt) > ds.ttl {
		_ = ds.Delete(ctx, id)
		return nil, ErrNotFound
	}

	var sess Session
	if err := json.Unmarshal(payload, &sess); err != nil {
		return nil, errors.Wrap(err, "failed to decode session")
	}
	ds.mu.Lock()
	sess.Endpoint.APIKey = ds.keys[id]
	ds.mu.Unlock()
	return &sess, nil
}

func (ds *DatabaseStore) Save(ctx context.Context, sess *Session) error {
	sess.UpdatedAt = ds.now().UTC()
	payload, err := ds.encode(sess)
	if err != nil {
		return err
	}
	query := `
		UPDATE conversation_sessions
		SET state = $2, updated_at = $3
		WHERE session_id = $1
	`
	res, err := ds.db.ExecContext(ctx, query, sess.ID, payload, sess.UpdatedAt)
	if err != nil {
		return errors.Wrap(err, "failed to save session")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	ds.rememberKey(sess)
	return nil
}

func (ds *DatabaseStore) Delete(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}
	if _, err := ds.db.ExecContext(ctx, `DELETE FROM conversation_sessions WHERE session_id = $1`, id); err != nil {
		return errors.Wrap(err, "failed to delete session")
	}
	ds.forgetKeys(id)
	return nil
}

func (ds *DatabaseStore) Sweep(ctx context.Context, cutoff time.Time) ([]string, error) {
	rows, err := ds.db.QueryContext(ctx,
		`DELETE FROM conversation_sessions WHERE updated_at < $1 RETURNING session_id`, cutoff.UTC())
	if err != nil {
		return nil, errors.Wrap(err, "failed to sweep sessions")
	}
	defer rows.Close()

	var removed []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, "failed to scan swept session")
		}
		removed = append(removed, id)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to sweep sessions")
	}
	ds.forgetKeys(removed...)
	return removed, nil
}

// encode returns the JSONB payload for sess with the API key left out.
// lib/pq sends []byte as bytea, so the payload goes out as a string.
func (ds *DatabaseStore) encode(sess *Session) (string, error) {
	stored := *sess
	stored.Endpoint.APIKey = ""
	payload, err := json.Marshal(&stored)
	if err != nil {
		return "", errors.Wrap(err, "failed to encode session")
	}
	return string(payload), nil
}

func (ds *DatabaseStore) rememberKey(sess *Session) {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	if sess.Endpoint.APIKey == "" {
		delete(ds.keys, sess.ID)
		return
	}
	ds.keys[sess.ID] = sess.Endpoint.APIKey
}

func (ds *DatabaseStore) forgetKeys(ids ...string) {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	for _, id := range ids {
		delete(ds.keys, id)
	}
}
