package sqlite

import (
	"context"
	"fmt"

	"trading-platformv1/internal/model"
)

// InsertSnapshot writes one account snapshot. The primary key on
// snapshot_id makes redelivered bus events a no-op.
func (s *Store) InsertSnapshot(ctx context.Context, snap model.AccountSnapshot) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO account_snapshots (snapshot_id, deployment_id, ts, snapshot_type, value)
		VALUES (?, ?, ?, ?, ?)
	`, snap.SnapshotID, snap.DeploymentID, snap.Timestamp, string(snap.SnapshotType), snap.Value.String())
	if err != nil {
		return fmt.Errorf("sqlite insert snapshot %s: %w", snap.SnapshotID, err)
	}
	return nil
}

// SnapshotCount returns how many snapshots a deployment has recorded.
func (s *Store) SnapshotCount(ctx context.Context, deploymentID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM account_snapshots WHERE deployment_id = ?`, deploymentID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("sqlite count snapshots %s: %w", deploymentID, err)
	}
	return n, nil
}
