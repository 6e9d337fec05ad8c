package pgpackages

import (
	"context"

	"github.com/pkg/errors"
)

func (s *Storage) initSchema(ctx context.Context) error {
	stmts := []string{
		`
CREATE TABLE IF NOT EXISTS packages (
  id BIGSERIAL PRIMARY KEY,
  tracking_id TEXT NOT NULL DEFAULT '',
  pickup_code TEXT NOT NULL DEFAULT '',
  pickup_location TEXT NOT NULL DEFAULT '',
  status TEXT NOT NULL DEFAULT 'PENDING',
  added_time TIMESTAMPTZ NOT NULL
)`,
		// list_pending: WHERE status = 'PENDING' ORDER BY added_time DESC, id DESC
		`CREATE INDEX IF NOT EXISTS idx_packages_pending_added_time ON packages(added_time DESC, id DESC) WHERE status = 'PENDING'`,
	}

	for _, q := range stmts {
		if _, err := s.db.Exec(ctx, q); err != nil {
			return errors.Wrap(err, "init schema")
		}
	}
	return nil
}
