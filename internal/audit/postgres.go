package audit

import (
	"context"
	"database/sql"
	"encoding/json"
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
	return &PostgresRepository{
		db:     db,
		logger: logger,
	}
}

// Append records an entry.
func (r *PostgresRepository) Append(ctx context.Context, entry Entry) (*Entry, error) {
	if err := ValidateEntry(entry); err != nil {
		return nil, err
	}

	stored := entry
	stored.ID = uuid.New().String()
	stored.CreatedAt = time.Now().UTC()

	var metadata []byte
	if stored.Metadata != nil {
		var err error
		metadata, err = json.Marshal(stored.Metadata)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal audit metadata: %w", err)
		}
	}

	var actor sql.NullString
	if stored.ActorUserID != "" {
		actor = sql.NullString{String: stored.ActorUserID, Valid: true}
	}

	insert := `
		INSERT INTO audit_entries (id, actor_user_id, action, entity_type, entity_id, severity, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := r.db.ExecContext(ctx, insert,
		stored.ID, actor, stored.Action, stored.EntityType, stored.EntityID,
		string(stored.Severity), metadata, stored.CreatedAt)
	if err != nil {
		r.logger.Error("failed to insert audit entry",
			slog.String("error", err.Error()),
			slog.String("action", stored.Action),
			slog.String("entity_id", stored.EntityID))
		return nil, fmt.Errorf("failed to insert audit entry: %w", err)
	}

	return &stored, nil
}

// QueryByEntity retrieves entries for a specific entity, newest first.
func (r *PostgresRepository) QueryByEntity(ctx context.Context, entityType, entityID string, limit int) ([]*Entry, error) {
	query := `
		SELECT id, actor_user_id, action, entity_type, entity_id, severity, metadata, created_at
		FROM audit_entries
		WHERE entity_type = $1 AND entity_id = $2
		ORDER BY created_at DESC
	`
	args := []any{entityType, entityID}
	if limit > 0 {
		query += " LIMIT $3"
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit entries: %w", err)
	}
	defer rows.Close()

	return scanEntries(rows)
}

// QueryByActor retrieves entries recorded for a specific actor, newest first.
func (r *PostgresRepository) QueryByActor(ctx context.Context, actorUserID string, limit int) ([]*Entry, error) {
	query := `
		SELECT id, actor_user_id, action, entity_type, entity_id, severity, metadata, created_at
		FROM audit_entries
		WHERE actor_user_id = $1
		ORDER BY created_at DESC
	`
	args := []any{actorUserID}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit entries: %w", err)
	}
	defer rows.Close()

	return scanEntries(rows)
}

func scanEntries(rows *sql.Rows) ([]*Entry, error) {
	var results []*Entry
	for rows.Next() {
		var (
			entry    Entry
			actor    sql.NullString
			severity string
			metadata []byte
		)
		if err := rows.Scan(&entry.ID, &actor, &entry.Action, &entry.EntityType,
			&entry.EntityID, &severity, &metadata, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		if actor.Valid {
			entry.ActorUserID = actor.String
		}
		entry.Severity = Severity(severity)
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &entry.Metadata); err != nil {
				return nil, fmt.Errorf("failed to unmarshal audit metadata: %w", err)
			}
		}
		results = append(results, &entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate audit entries: %w", err)
	}
	return results, nil
}
