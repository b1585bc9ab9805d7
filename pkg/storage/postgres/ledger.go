package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/MrCodeEU/facecheck/pkg/attendance"
	"github.com/MrCodeEU/facecheck/pkg/storage"
)

// Ledger records presence checks and runs in PostgreSQL.
type Ledger struct {
	pool *Pool
}

// NewLedger creates a PostgreSQL ledger.
func NewLedger(pool *Pool) *Ledger {
	return &Ledger{pool: pool}
}

// RecordPresence implements attendance.PresenceSink.
func (l *Ledger) RecordPresence(ctx context.Context, orgID, personID string, present bool, at time.Time) error {
	_, err := l.pool.Exec(ctx,
		"INSERT INTO presence (org_id, person_id, present, checked_at) VALUES ($1, $2, $3, $4)",
		orgID, personID, present, at,
	)
	if err != nil {
		return fmt.Errorf("record presence: %w", err)
	}
	return nil
}

// History returns one presence record per person of orgID, sorted by person id.
// Days are counted in UTC.
func (l *Ledger) History(ctx context.Context, orgID string) ([]storage.PresenceRecord, error) {
	rows, err := l.pool.Query(ctx, `
		SELECT person_id,
			COUNT(*),
			(array_agg(present ORDER BY checked_at DESC))[1],
			MAX(checked_at),
			MAX(checked_at) FILTER (WHERE present),
			COALESCE(
				array_agg(DISTINCT to_char(checked_at AT TIME ZONE 'UTC', 'YYYY-MM-DD')) FILTER (WHERE present),
				'{}'
			)
		FROM presence
		WHERE org_id = $1
		GROUP BY person_id
		ORDER BY person_id
	`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := []storage.PresenceRecord{}
	for rows.Next() {
		var rec storage.PresenceRecord
		var lastSeen sql.NullTime
		var days pq.StringArray
		if err := rows.Scan(&rec.PersonID, &rec.Checks, &rec.LastPresent, &rec.LastChecked, &lastSeen, &days); err != nil {
			return nil, fmt.Errorf("scan presence: %w", err)
		}
		if lastSeen.Valid {
			rec.LastSeen = lastSeen.Time
		}
		rec.DaysPresent = []string(days)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate presence: %w", err)
	}
	return records, nil
}

// RecordRun implements attendance.RunRecorder.
func (l *Ledger) RecordRun(ctx context.Context, result *attendance.RunResult) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal run: %w", err)
	}
	_, err = l.pool.Exec(ctx, `
		INSERT INTO runs (run_id, org_id, state, started_at, finished_at, attendance_rate, result)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (run_id) DO UPDATE SET
			state = EXCLUDED.state,
			finished_at = EXCLUDED.finished_at,
			attendance_rate = EXCLUDED.attendance_rate,
			result = EXCLUDED.result
	`, result.RunID, result.OrgID, result.State.String(), result.StartedAt, result.FinishedAt,
		result.Summary.AttendanceRate, string(payload))
	if err != nil {
		return fmt.Errorf("record run: %w", err)
	}
	return nil
}

// Latest returns the most recent run of orgID.
func (l *Ledger) Latest(ctx context.Context, orgID string) (*attendance.RunResult, error) {
	var payload []byte
	err := l.pool.QueryRow(ctx,
		"SELECT result FROM runs WHERE org_id = $1 ORDER BY started_at DESC LIMIT 1", orgID,
	).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w for %s", storage.ErrNoRuns, orgID)
	}
	if err != nil {
		return nil, fmt.Errorf("load latest run: %w", err)
	}

	var r attendance.RunResult
	if err := json.Unmarshal(payload, &r); err != nil {
		return nil, fmt.Errorf("unmarshal run: %w", err)
	}
	return &r, nil
}
