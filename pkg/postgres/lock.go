package postgres

import (
	"context"
	"hash/crc32"
	"time"
)

// lockPollInterval is how often a timed acquisition re-tries
// pg_try_advisory_lock.
const lockPollInterval = 500 * time.Millisecond

// AdvisoryLockID computes the stable 64-bit advisory lock key for a
// history table. CRC32 keeps the key identical across engine versions.
func AdvisoryLockID(schema, table string) int64 {
	return int64(crc32.ChecksumIEEE([]byte(schema + "." + table)))
}

// AcquireLock takes the session-scoped advisory lock guarding the history
// table. With timeout zero the call blocks in pg_advisory_lock until the
// lock is granted; otherwise pg_try_advisory_lock is polled until the
// timeout expires, which surfaces as a *LockError.
func (c *Client) AcquireLock(ctx context.Context, schema, table string, timeout time.Duration) error {
	lockID := AdvisoryLockID(schema, table)
	c.logger.Info("acquiring advisory lock", "lock_id", lockID, "table", table)

	if timeout <= 0 {
		if err := c.Exec(ctx, "SELECT pg_advisory_lock($1)", lockID); err != nil {
			return &LockError{Table: table, Reason: err.Error()}
		}
		return nil
	}

	deadline := time.Now().Add(timeout)
	for {
		var acquired bool
		if err := c.QueryRow(ctx, "SELECT pg_try_advisory_lock($1)", lockID).Scan(&acquired); err != nil {
			return &LockError{Table: table, Reason: err.Error()}
		}
		if acquired {
			return nil
		}
		if time.Now().After(deadline) {
			return &LockError{
				Table:  table,
				Reason: "timed out waiting for advisory lock; another migration may be running",
			}
		}
		select {
		case <-time.After(lockPollInterval):
		case <-ctx.Done():
			return &LockError{Table: table, Reason: ctx.Err().Error()}
		}
	}
}

// ReleaseLock releases the advisory lock. The lock is session-scoped, so
// a dropped connection releases it implicitly.
func (c *Client) ReleaseLock(ctx context.Context, schema, table string) error {
	lockID := AdvisoryLockID(schema, table)
	c.logger.Info("releasing advisory lock", "lock_id", lockID, "table", table)

	if err := c.Exec(ctx, "SELECT pg_advisory_unlock($1)", lockID); err != nil {
		return &LockError{Table: table, Reason: err.Error()}
	}
	return nil
}
