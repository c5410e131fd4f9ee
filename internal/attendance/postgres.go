package attendance

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/onnwee/clockguard/internal/anomaly"
	"github.com/onnwee/clockguard/internal/tracing"
)

// PostgresRepository implements Repository using PostgreSQL. The event and
// its optional anomaly are written in one transaction so a cancelled call
// never leaves a half-written pair.
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

const eventColumns = `id, subject_user_id, kind, occurred_at, status, photo_key,
	capture_method, device_fingerprint_id, source_ip, geolocation,
	face_verified, verification_score, anomaly_id, created_at`

// Create persists the event and its optional anomaly atomically.
func (r *PostgresRepository) Create(ctx context.Context, ev *Event, an *anomaly.Anomaly) (err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "attendance_events", tracing.DBOperationInsert)
	defer func() { endSpan(err) }()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}

	if an != nil {
		an.ID = uuid.New().String()
		an.Status = anomaly.StatusPending
		an.CreatedAt = time.Now().UTC()
		an.SubjectEntityID = ev.ID
		ev.AnomalyID = an.ID

		contextJSON, err := json.Marshal(an.Context)
		if err != nil {
			return fmt.Errorf("failed to marshal anomaly context: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO anomalies (id, kind, severity, subject_entity_type, subject_entity_id,
				subject_user_id, description, context, status, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			an.ID, string(an.Kind), string(an.Severity), an.SubjectEntityType, an.SubjectEntityID,
			an.SubjectUserID, an.Description, contextJSON, string(an.Status), an.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert anomaly: %w", err)
		}
	}

	var geoJSON []byte
	if ev.Geolocation != nil {
		geoJSON, err = json.Marshal(ev.Geolocation)
		if err != nil {
			return fmt.Errorf("failed to marshal geolocation: %w", err)
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO attendance_events (`+eventColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		ev.ID, ev.SubjectUserID, string(ev.Kind), ev.OccurredAt, string(ev.Status),
		nullString(ev.PhotoKey), nullString(string(ev.CaptureMethod)),
		nullString(ev.DeviceFingerprintID), nullString(ev.SourceIP), geoJSON,
		ev.FaceVerified, ev.VerificationScore, nullString(ev.AnomalyID), ev.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert attendance event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit attendance event: %w", err)
	}
	return nil
}

// GetByID retrieves an event.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*Event, error) {
	query := `SELECT ` + eventColumns + ` FROM attendance_events WHERE id = $1`
	return scanEvent(r.db.QueryRowContext(ctx, query, id))
}

// ListBySubject retrieves the subject's events, newest first.
func (r *PostgresRepository) ListBySubject(ctx context.Context, subjectUserID string, limit int) ([]*Event, error) {
	query := `SELECT ` + eventColumns + ` FROM attendance_events
		WHERE subject_user_id = $1 ORDER BY occurred_at DESC`
	args := []any{subjectUserID}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query attendance events: %w", err)
	}
	defer rows.Close()

	var results []*Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate attendance events: %w", err)
	}
	return results, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (*Event, error) {
	var (
		ev            Event
		kind          string
		status        string
		photoKey      sql.NullString
		captureMethod sql.NullString
		deviceID      sql.NullString
		sourceIP      sql.NullString
		geoJSON       []byte
		anomalyID     sql.NullString
	)
	err := row.Scan(&ev.ID, &ev.SubjectUserID, &kind, &ev.OccurredAt, &status,
		&photoKey, &captureMethod, &deviceID, &sourceIP, &geoJSON,
		&ev.FaceVerified, &ev.VerificationScore, &anomalyID, &ev.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan attendance event: %w", err)
	}

	ev.Kind = Kind(kind)
	ev.Status = Status(status)
	ev.PhotoKey = photoKey.String
	ev.CaptureMethod = CaptureMethod(captureMethod.String)
	ev.DeviceFingerprintID = deviceID.String
	ev.SourceIP = sourceIP.String
	ev.AnomalyID = anomalyID.String
	if len(geoJSON) > 0 {
		var geo Geolocation
		if err := json.Unmarshal(geoJSON, &geo); err != nil {
			return nil, fmt.Errorf("failed to unmarshal geolocation: %w", err)
		}
		ev.Geolocation = &geo
	}
	return &ev, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
