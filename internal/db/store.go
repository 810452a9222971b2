package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/metalagman/accord/internal/model"
)

// Verification statuses.
const (
	StatusRunning  = "running"
	StatusFinished = "finished"
	StatusAborted  = "aborted"
)

// Event types written to the timeline.
const (
	EventVerificationStarted  = "verification_started"
	EventCriterionCompleted   = "criterion_completed"
	EventVerificationFinished = "verification_finished"
	EventVerificationAborted  = "verification_aborted"
)

// ErrVerificationNotFound is returned for unknown verification ids.
var ErrVerificationNotFound = errors.New("verification not found")

// Store persists verification history.
type Store struct {
	db *sql.DB
}

// NewStore creates a verification history store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// DB returns the underlying database handle.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Verification is one row of the history.
type Verification struct {
	ID            string    `json:"verification_id"`
	ContractID    string    `json:"contract_id"`
	Status        string    `json:"status"`
	OverallPassed *bool     `json:"overall_passed,omitempty"`
	NewState      string    `json:"new_state,omitempty"`
	Advisories    []string  `json:"advisories,omitempty"`
	StartedAt     time.Time `json:"started_at"`
	FinishedAt    time.Time `json:"finished_at,omitzero"`
}

// Event is a timeline entry of a verification.
type Event struct {
	Seq      int       `json:"seq"`
	Time     time.Time `json:"ts"`
	Type     string    `json:"type"`
	Message  string    `json:"message"`
	DataJSON string    `json:"data,omitempty"`
}

// CreateVerification inserts a running verification and its verification_started event.
func (s *Store) CreateVerification(ctx context.Context, id, contractID string, startedAt time.Time) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin create verification: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO verifications(verification_id, contract_id, status, started_at)
		VALUES(?, ?, ?, ?)`, id, contractID, StatusRunning, formatTime(startedAt)); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("insert verification: %w", err)
	}
	if err := s.insertEvent(ctx, tx, id, EventVerificationStarted, "verification started", ""); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit create verification: %w", err)
	}
	return nil
}

// FinishVerification stores every criterion result with its event and closes the
// verification, all in one transaction.
func (s *Store) FinishVerification(ctx context.Context, res *model.VerificationResult) error {
	advisories, err := json.Marshal(res.Advisories)
	if err != nil {
		return fmt.Errorf("marshal advisories: %w", err)
	}
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin finish verification: %w", err)
	}
	for pos, r := range res.Results {
		payload, err := json.Marshal(r)
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("marshal result %s: %w", r.CriterionID, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO criterion_results(verification_id, position, criterion_id, passed, outcome, critical, duration_ms, result_json)
			VALUES(?, ?, ?, ?, ?, ?, ?, ?)`,
			res.ID, pos, r.CriterionID, r.Passed, string(r.Outcome), r.Critical, r.Duration.Milliseconds(), string(payload)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("insert result %s: %w", r.CriterionID, err)
		}
		msg := fmt.Sprintf("%s %s", r.CriterionID, verdict(r))
		if err := s.insertEvent(ctx, tx, res.ID, EventCriterionCompleted, msg, string(payload)); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	result, err := tx.ExecContext(ctx, `UPDATE verifications SET status=?, overall_passed=?, new_state=?, advisories_json=?, finished_at=?
		WHERE verification_id=?`,
		StatusFinished, res.OverallPassed, string(res.NewState), string(advisories), formatTime(res.FinishedAt), res.ID)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("update verification: %w", err)
	}
	if n, err := result.RowsAffected(); err != nil || n == 0 {
		_ = tx.Rollback()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		return fmt.Errorf("%w: %s", ErrVerificationNotFound, res.ID)
	}
	if err := s.insertEvent(ctx, tx, res.ID, EventVerificationFinished, "contract "+string(res.NewState), ""); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit finish verification: %w", err)
	}
	return nil
}

// AbortVerification marks a running verification as aborted with a reason event.
func (s *Store) AbortVerification(ctx context.Context, id, reason string) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin abort verification: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE verifications SET status=?, finished_at=? WHERE verification_id=? AND status=?`,
		StatusAborted, formatTime(time.Now()), id, StatusRunning); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("abort verification: %w", err)
	}
	if err := s.insertEvent(ctx, tx, id, EventVerificationAborted, reason, ""); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit abort verification: %w", err)
	}
	return nil
}

const verificationColumns = `verification_id, contract_id, status, overall_passed, new_state, advisories_json, started_at, finished_at`

// ListVerifications returns verifications newest first. An empty contractID lists all;
// limit <= 0 means no limit.
func (s *Store) ListVerifications(ctx context.Context, contractID string, limit int) ([]Verification, error) {
	query := `SELECT ` + verificationColumns + ` FROM verifications`
	var args []any
	if contractID != "" {
		query += ` WHERE contract_id=?`
		args = append(args, contractID)
	}
	query += ` ORDER BY started_at DESC, verification_id DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query verifications: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []Verification
	for rows.Next() {
		v, err := scanVerification(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate verifications: %w", err)
	}
	return out, nil
}

// GetVerification loads a verification row and its criterion results in declaration order.
func (s *Store) GetVerification(ctx context.Context, id string) (Verification, []model.CriterionResult, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+verificationColumns+` FROM verifications WHERE verification_id=?`, id)
	v, err := scanVerification(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Verification{}, nil, fmt.Errorf("%w: %s", ErrVerificationNotFound, id)
		}
		return Verification{}, nil, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT result_json FROM criterion_results WHERE verification_id=? ORDER BY position`, id)
	if err != nil {
		return Verification{}, nil, fmt.Errorf("query results: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var results []model.CriterionResult
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return Verification{}, nil, fmt.Errorf("scan result: %w", err)
		}
		var r model.CriterionResult
		if err := json.Unmarshal([]byte(payload), &r); err != nil {
			return Verification{}, nil, fmt.Errorf("parse result: %w", err)
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return Verification{}, nil, fmt.Errorf("iterate results: %w", err)
	}
	return v, results, nil
}

// Events returns the timeline of a verification.
func (s *Store) Events(ctx context.Context, id string) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT seq, ts, type, message, data_json FROM events WHERE verification_id=? ORDER BY seq`, id)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []Event
	for rows.Next() {
		var ev Event
		var ts string
		var data sql.NullString
		if err := rows.Scan(&ev.Seq, &ts, &ev.Type, &ev.Message, &data); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.Time, _ = time.Parse(timeLayout, ts)
		ev.DataJSON = data.String
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanVerification(sc scanner) (Verification, error) {
	var (
		v                    Verification
		passed               sql.NullBool
		newState, advisories sql.NullString
		startedAt            string
		finishedAt           sql.NullString
	)
	if err := sc.Scan(&v.ID, &v.ContractID, &v.Status, &passed, &newState, &advisories, &startedAt, &finishedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Verification{}, err
		}
		return Verification{}, fmt.Errorf("scan verification: %w", err)
	}
	if passed.Valid {
		v.OverallPassed = &passed.Bool
	}
	v.NewState = newState.String
	if advisories.Valid && advisories.String != "" {
		if err := json.Unmarshal([]byte(advisories.String), &v.Advisories); err != nil {
			return Verification{}, fmt.Errorf("parse advisories: %w", err)
		}
	}
	v.StartedAt, _ = time.Parse(timeLayout, startedAt)
	if finishedAt.Valid {
		v.FinishedAt, _ = time.Parse(timeLayout, finishedAt.String)
	}
	return v, nil
}

func (s *Store) insertEvent(ctx context.Context, tx *sql.Tx, verificationID, typ, message, dataJSON string) error {
	seq, err := s.nextSeq(ctx, tx, verificationID)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO events(verification_id, seq, ts, type, message, data_json) VALUES(?, ?, ?, ?, ?, ?)`,
		verificationID, seq, formatTime(time.Now()), typ, message, nullableString(dataJSON)); err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

func (s *Store) nextSeq(ctx context.Context, tx *sql.Tx, verificationID string) (int, error) {
	var seq int
	row := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) FROM events WHERE verification_id=?`, verificationID)
	if err := row.Scan(&seq); err != nil {
		return 0, fmt.Errorf("read event seq: %w", err)
	}
	return seq + 1, nil
}

func verdict(r model.CriterionResult) string {
	switch {
	case r.Outcome != model.OutcomeCompleted:
		return r.Outcome.String()
	case r.Passed:
		return "passed"
	default:
		return "failed"
	}
}

// timeLayout has a fixed width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// ParseTime parses a timestamp written by this package.
func ParseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

// VerificationStarted records a new run; it lets Store serve as the orchestrator's recorder.
func (s *Store) VerificationStarted(ctx context.Context, id, contractID string, startedAt time.Time) error {
	return s.CreateVerification(ctx, id, contractID, startedAt)
}

// VerificationFinished records the outcome of a run.
func (s *Store) VerificationFinished(ctx context.Context, res *model.VerificationResult) error {
	return s.FinishVerification(ctx, res)
}
