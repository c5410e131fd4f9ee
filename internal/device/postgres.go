package device

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// PostgresRepository implements Repository using PostgreSQL.
type PostgresRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresRepository creates a new PostgresRepository.
func NewPostgresRepository(db *sql.DB, logger *slog.Logger) *PostgresRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresRepository{db: db, logger: logger}
}

const fingerprintColumns = `id, owner_user_id, hash, payload, trust_level, first_seen_at, last_seen_at`

// Create stores a new fingerprint.
func (r *PostgresRepository) Create(ctx context.Context, f *Fingerprint) error {
	now := time.Now().UTC()
	f.ID = uuid.New().String()
	f.FirstSeenAt = now
	f.LastSeenAt = now

	payloadJSON, err := json.Marshal(f.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal fingerprint payload: %w", err)
	}

	insert := `
		INSERT INTO device_fingerprints (id, owner_user_id, hash, payload, trust_level, first_seen_at, last_seen_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err = r.db.ExecContext(ctx, insert,
		f.ID, f.OwnerUserID, f.Hash, payloadJSON, string(f.TrustLevel), f.FirstSeenAt, f.LastSeenAt)
	if err != nil {
		return fmt.Errorf("failed to insert device fingerprint: %w", err)
	}
	return nil
}

// GetByID retrieves a fingerprint by ID.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*Fingerprint, error) {
	query := `SELECT ` + fingerprintColumns + ` FROM device_fingerprints WHERE id = $1`
	return scanFingerprint(r.db.QueryRowContext(ctx, query, id))
}

// FindByOwnerAndHash retrieves the live record for (owner, hash).
func (r *PostgresRepository) FindByOwnerAndHash(ctx context.Context, ownerUserID, hash string) (*Fingerprint, error) {
	query := `SELECT ` + fingerprintColumns + ` FROM device_fingerprints WHERE owner_user_id = $1 AND hash = $2`
	return scanFingerprint(r.db.QueryRowContext(ctx, query, ownerUserID, hash))
}

// TouchLastSeen advances LastSeenAt on an existing record.
func (r *PostgresRepository) TouchLastSeen(ctx context.Context, id string, seenAt time.Time) error {
	update := `UPDATE device_fingerprints SET last_seen_at = $2 WHERE id = $1 AND last_seen_at < $2`
	res, err := r.db.ExecContext(ctx, update, id, seenAt)
	if err != nil {
		return fmt.Errorf("failed to update device last seen: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		// Either absent or the stored sighting is already newer.
		if _, getErr := r.GetByID(ctx, id); getErr != nil {
			return getErr
		}
	}
	return nil
}

// SetTrust updates the trust level of a fingerprint.
func (r *PostgresRepository) SetTrust(ctx context.Context, id string, level TrustLevel) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE device_fingerprints SET trust_level = $2 WHERE id = $1`, id, string(level))
	if err != nil {
		return fmt.Errorf("failed to update device trust level: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes a fingerprint record.
func (r *PostgresRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM device_fingerprints WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete device fingerprint: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListByOwner retrieves all fingerprints of an owner, newest sighting first.
func (r *PostgresRepository) ListByOwner(ctx context.Context, ownerUserID string) ([]*Fingerprint, error) {
	query := `SELECT ` + fingerprintColumns + ` FROM device_fingerprints
		WHERE owner_user_id = $1 ORDER BY last_seen_at DESC`
	rows, err := r.db.QueryContext(ctx, query, ownerUserID)
	if err != nil {
		return nil, fmt.Errorf("failed to query device fingerprints: %w", err)
	}
	defer rows.Close()

	var results []*Fingerprint
	for rows.Next() {
		f, err := scanFingerprint(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate device fingerprints: %w", err)
	}
	return results, nil
}

// CountDistinctSince counts distinct devices seen for the owner since a time.
func (r *PostgresRepository) CountDistinctSince(ctx context.Context, ownerUserID string, since time.Time) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM device_fingerprints WHERE owner_user_id = $1 AND last_seen_at >= $2`,
		ownerUserID, since).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count device fingerprints: %w", err)
	}
	return count, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFingerprint(row rowScanner) (*Fingerprint, error) {
	var (
		f           Fingerprint
		trust       string
		payloadJSON []byte
	)
	err := row.Scan(&f.ID, &f.OwnerUserID, &f.Hash, &payloadJSON, &trust, &f.FirstSeenAt, &f.LastSeenAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan device fingerprint: %w", err)
	}
	f.TrustLevel = TrustLevel(trust)
	if len(payloadJSON) > 0 {
		if err := json.Unmarshal(payloadJSON, &f.Payload); err != nil {
			return nil, fmt.Errorf("failed to unmarshal fingerprint payload: %w", err)
		}
	}
	return &f, nil
}
