package contract

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/metalagman/accord/internal/model"
)

// ErrExists is returned when adding a contract whose id is taken.
var ErrExists = errors.New("contract already exists")

// Store manages contract persistence.
type Store struct {
	db *sql.DB
}

// NewStore creates a contract store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Add inserts a new contract.
func (s *Store) Add(ctx context.Context, c *Contract) error {
	specJSON, err := json.Marshal(c.Specification)
	if err != nil {
		return fmt.Errorf("marshal specification: %w", err)
	}
	criteria := c.Criteria
	if criteria == nil {
		criteria = []model.AcceptanceCriterion{}
	}
	criteriaJSON, err := json.Marshal(criteria)
	if err != nil {
		return fmt.Errorf("marshal criteria: %w", err)
	}
	now := time.Now().UTC().Format(time.RFC3339)
	_, err = s.db.ExecContext(ctx, `INSERT INTO contracts(contract_id, specification_json, criteria_json, state, created_at, updated_at)
		VALUES(?, ?, ?, ?, ?, ?)`, c.ID, string(specJSON), string(criteriaJSON), string(c.State()), now, now)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("%w: %s", ErrExists, c.ID)
		}
		return fmt.Errorf("insert contract: %w", err)
	}
	return nil
}

// List returns contracts ordered by id.
func (s *Store) List(ctx context.Context) ([]*Contract, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT contract_id, specification_json, criteria_json, state FROM contracts ORDER BY contract_id`)
	if err != nil {
		return nil, fmt.Errorf("query contracts: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []*Contract
	for rows.Next() {
		c, err := scanContract(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate contracts: %w", err)
	}
	return out, nil
}

// Get fetches a contract by id.
func (s *Store) Get(ctx context.Context, id string) (*Contract, error) {
	row := s.db.QueryRowContext(ctx, `SELECT contract_id, specification_json, criteria_json, state FROM contracts WHERE contract_id=?`, id)
	c, err := scanContract(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, err
	}
	return c, nil
}

// SaveState persists the contract's current state.
func (s *Store) SaveState(ctx context.Context, c *Contract) error {
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := s.db.ExecContext(ctx, `UPDATE contracts SET state=?, updated_at=? WHERE contract_id=?`, string(c.State()), now, c.ID)
	if err != nil {
		return fmt.Errorf("update contract: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, c.ID)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanContract(sc rowScanner) (*Contract, error) {
	var id, specJSON, criteriaJSON, state string
	if err := sc.Scan(&id, &specJSON, &criteriaJSON, &state); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan contract: %w", err)
	}
	var spec map[string]any
	if err := json.Unmarshal([]byte(specJSON), &spec); err != nil {
		return nil, fmt.Errorf("parse specification: %w", err)
	}
	var criteria []model.AcceptanceCriterion
	if err := json.Unmarshal([]byte(criteriaJSON), &criteria); err != nil {
		return nil, fmt.Errorf("parse criteria: %w", err)
	}
	return Restore(id, spec, criteria, model.ContractState(state))
}
