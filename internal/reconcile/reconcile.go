// Package reconcile repairs verification history left inconsistent by a process that died
// mid-verification.
package reconcile

import (
	"context"
	"fmt"

	"github.com/metalagman/accord/internal/db"
	"github.com/metalagman/accord/internal/lock"
	"github.com/rs/zerolog/log"
)

// abortReason is recorded on every verification reconcile closes.
const abortReason = "verification was running when its process exited; marked aborted during recovery"

// Result summarizes a reconcile pass.
type Result struct {
	Running int
	Aborted int
	Active  int
}

// Run marks running verifications as aborted unless their contract lock is still held by a
// live process. It is idempotent.
func Run(ctx context.Context, store *db.Store, locksDir string) (Result, error) {
	rows, err := store.DB().QueryContext(ctx, `SELECT verification_id, contract_id FROM verifications WHERE status=? ORDER BY started_at`, db.StatusRunning)
	if err != nil {
		return Result{}, fmt.Errorf("list running verifications: %w", err)
	}
	type stale struct{ id, contractID string }
	var running []stale
	for rows.Next() {
		var s stale
		if err := rows.Scan(&s.id, &s.contractID); err != nil {
			_ = rows.Close()
			return Result{}, fmt.Errorf("scan verification: %w", err)
		}
		running = append(running, s)
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return Result{}, fmt.Errorf("iterate verifications: %w", err)
	}

	res := Result{Running: len(running)}
	for _, s := range running {
		l, ok, err := lock.TryAcquire(locksDir, s.contractID)
		if err != nil {
			return res, err
		}
		if !ok {
			res.Active++
			continue
		}
		err = store.AbortVerification(ctx, s.id, abortReason)
		_ = l.Release()
		if err != nil {
			return res, fmt.Errorf("abort verification %s: %w", s.id, err)
		}
		log.Info().Str("verification_id", s.id).Str("contract_id", s.contractID).Msg("reconciled stale verification")
		res.Aborted++
	}
	return res, nil
}
