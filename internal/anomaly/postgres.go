package anomaly

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

const anomalyColumns = `id, kind, severity, subject_entity_type, subject_entity_id,
	subject_user_id, description, context, status, resolved_by, resolved_at,
	resolution_note, created_at`

// Create persists a new anomaly in PENDING state.
func (r *PostgresRepository) Create(ctx context.Context, a *Anomaly) error {
	a.ID = uuid.New().String()
	a.Status = StatusPending
	a.CreatedAt = time.Now().UTC()

	contextJSON, err := marshalContext(a.Context)
	if err != nil {
		return err
	}

	insert := `
		INSERT INTO anomalies (id, kind, severity, subject_entity_type, subject_entity_id,
			subject_user_id, description, context, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err = r.db.ExecContext(ctx, insert,
		a.ID, string(a.Kind), string(a.Severity), a.SubjectEntityType, a.SubjectEntityID,
		a.SubjectUserID, a.Description, contextJSON, string(a.Status), a.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert anomaly: %w", err)
	}
	return nil
}

// GetByID retrieves an anomaly by ID.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*Anomaly, error) {
	query := `SELECT ` + anomalyColumns + ` FROM anomalies WHERE id = $1`
	a, err := scanAnomaly(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return a, err
}

// Resolve atomically transitions a PENDING anomaly to a terminal outcome.
// The status guard in the WHERE clause makes concurrent resolutions race-safe:
// only one UPDATE can match the PENDING row.
func (r *PostgresRepository) Resolve(ctx context.Context, id string, outcome Status, resolvedBy, note string) (*Anomaly, error) {
	update := `
		UPDATE anomalies
		SET status = $2, resolved_by = $3, resolved_at = $4, resolution_note = $5
		WHERE id = $1 AND status = $6
		RETURNING ` + anomalyColumns
	a, err := scanAnomaly(r.db.QueryRowContext(ctx, update,
		id, string(outcome), resolvedBy, time.Now().UTC(), note, string(StatusPending)))
	if errors.Is(err, sql.ErrNoRows) {
		// Either absent or no longer PENDING; disambiguate for the caller.
		if _, getErr := r.GetByID(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, ErrAlreadyResolved
	}
	return a, err
}

// ListByStatus retrieves anomalies in the given state, newest first.
func (r *PostgresRepository) ListByStatus(ctx context.Context, status Status, limit int) ([]*Anomaly, error) {
	query := `SELECT ` + anomalyColumns + ` FROM anomalies WHERE status = $1 ORDER BY created_at DESC`
	args := []any{string(status)}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query anomalies: %w", err)
	}
	defer rows.Close()

	var results []*Anomaly
	for rows.Next() {
		a, err := scanAnomaly(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate anomalies: %w", err)
	}
	return results, nil
}

// rowScanner covers both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanAnomaly(row rowScanner) (*Anomaly, error) {
	var (
		a           Anomaly
		kind        string
		severity    string
		status      string
		contextJSON []byte
		resolvedBy  sql.NullString
		resolvedAt  sql.NullTime
		note        sql.NullString
	)
	err := row.Scan(&a.ID, &kind, &severity, &a.SubjectEntityType, &a.SubjectEntityID,
		&a.SubjectUserID, &a.Description, &contextJSON, &status, &resolvedBy, &resolvedAt,
		&note, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan anomaly: %w", err)
	}

	a.Kind = Kind(kind)
	a.Severity = Severity(severity)
	a.Status = Status(status)
	if resolvedBy.Valid {
		a.ResolvedBy = resolvedBy.String
	}
	if resolvedAt.Valid {
		t := resolvedAt.Time
		a.ResolvedAt = &t
	}
	if note.Valid {
		a.ResolutionNote = note.String
	}
	if len(contextJSON) > 0 {
		if err := json.Unmarshal(contextJSON, &a.Context); err != nil {
			return nil, fmt.Errorf("failed to unmarshal anomaly context: %w", err)
		}
	}
	return &a, nil
}

func marshalContext(c map[string]any) ([]byte, error) {
	if c == nil {
		return nil, nil
	}
	data, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal anomaly context: %w", err)
	}
	return data, nil
}
