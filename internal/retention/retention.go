// Package retention prunes old verification history.
package retention

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/metalagman/accord/internal/db"
)

// Policy controls which verifications are kept. Zero values disable a rule; with both
// disabled nothing is pruned.
type Policy struct {
	KeepLast int `json:"keep_last,omitempty" mapstructure:"keep_last"`
	KeepDays int `json:"keep_days,omitempty" mapstructure:"keep_days"`
}

// Result summarizes a prune operation.
type Result struct {
	Considered int `json:"considered"`
	Kept       int `json:"kept"`
	Deleted    int `json:"deleted"`
}

// Prune deletes verifications outside the policy together with their results and events.
// Running verifications are always kept. A verification survives if any rule keeps it.
func Prune(ctx context.Context, database *sql.DB, policy Policy, now time.Time, dryRun bool) (Result, error) {
	if policy.KeepLast <= 0 && policy.KeepDays <= 0 {
		return Result{}, nil
	}
	var cutoff time.Time
	if policy.KeepDays > 0 {
		cutoff = now.UTC().Add(-time.Duration(policy.KeepDays) * 24 * time.Hour)
	}

	rows, err := database.QueryContext(ctx, `SELECT verification_id, status, started_at FROM verifications ORDER BY started_at DESC, verification_id DESC`)
	if err != nil {
		return Result{}, fmt.Errorf("list verifications: %w", err)
	}
	type row struct {
		id        string
		status    string
		startedAt time.Time
		parseErr  error
	}
	var all []row
	for rows.Next() {
		var r row
		var startedAt string
		if err := rows.Scan(&r.id, &r.status, &startedAt); err != nil {
			_ = rows.Close()
			return Result{}, fmt.Errorf("scan verification: %w", err)
		}
		r.startedAt, r.parseErr = db.ParseTime(startedAt)
		all = append(all, r)
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return Result{}, fmt.Errorf("iterate verifications: %w", err)
	}

	res := Result{Considered: len(all)}
	for idx, r := range all {
		keep := r.status == db.StatusRunning
		if !keep && policy.KeepLast > 0 && idx < policy.KeepLast {
			keep = true
		}
		if !keep && policy.KeepDays > 0 && (r.parseErr != nil || r.startedAt.After(cutoff)) {
			keep = true
		}
		if keep {
			res.Kept++
			continue
		}
		if !dryRun {
			if _, err := database.ExecContext(ctx, `DELETE FROM verifications WHERE verification_id=?`, r.id); err != nil {
				return res, fmt.Errorf("delete verification %s: %w", r.id, err)
			}
		}
		res.Deleted++
	}
	return res, nil
}
