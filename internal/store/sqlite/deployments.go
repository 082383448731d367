package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"trading-platformv1/internal/model"
)

// GetDeployment fetches a deployment row by id.
func (s *Store) GetDeployment(ctx context.Context, deploymentID string) (*model.Deployment, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT deployment_id, strategy_id, broker_connection_id, symbol, timeframe,
			starting_balance, status, error_message, stopped_at, created_at, updated_at
		FROM strategy_deployments WHERE deployment_id = ?
	`, deploymentID)

	var d model.Deployment
	var tf, status string
	var errMsg sql.NullString
	var balance sql.NullFloat64
	var stoppedAt sql.NullInt64
	var createdAt, updatedAt int64

	err := row.Scan(&d.DeploymentID, &d.StrategyID, &d.BrokerConnectionID, &d.Symbol, &tf,
		&balance, &status, &errMsg, &stoppedAt, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, model.ErrRowNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite get deployment %s: %w", deploymentID, err)
	}

	d.Timeframe = model.Timeframe(tf)
	d.Status = model.DeploymentStatus(status)
	d.ErrorMessage = errMsg.String
	d.CreatedAt = time.Unix(createdAt, 0).UTC()
	d.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	if balance.Valid {
		d.StartingBalance = &balance.Float64
	}
	if stoppedAt.Valid {
		t := time.Unix(stoppedAt.Int64, 0).UTC()
		d.StoppedAt = &t
	}
	return &d, nil
}

// InsertDeployment creates a deployment row. Used by the CLI to register
// a strategy for live execution.
func (s *Store) InsertDeployment(ctx context.Context, d model.Deployment) error {
	now := time.Now().Unix()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO strategy_deployments (deployment_id, strategy_id, broker_connection_id,
			symbol, timeframe, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, d.DeploymentID, d.StrategyID, d.BrokerConnectionID, d.Symbol,
		string(d.Timeframe), string(d.Status), now, now)
	if err != nil {
		return fmt.Errorf("sqlite insert deployment %s: %w", d.DeploymentID, err)
	}
	return nil
}

// UpdateDeploymentStatus records a status transition. Invalid moves on
// the deployment state machine return ErrTransactionConflict so the
// caller can observe the conflict instead of clobbering a terminal row.
func (s *Store) UpdateDeploymentStatus(ctx context.Context, deploymentID string, status model.DeploymentStatus, errorMessage string, stoppedAt *time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite begin deployment update: %w", err)
	}
	defer tx.Rollback()

	var existing string
	err = tx.QueryRowContext(ctx,
		`SELECT status FROM strategy_deployments WHERE deployment_id = ?`, deploymentID,
	).Scan(&existing)
	if err == sql.ErrNoRows {
		return model.ErrRowNotFound
	}
	if err != nil {
		return fmt.Errorf("sqlite select deployment %s: %w", deploymentID, err)
	}
	if existing != string(status) && !model.CanTransitionDeployment(model.DeploymentStatus(existing), status) {
		return fmt.Errorf("%w: deployment %s is %s, cannot move to %s",
			model.ErrTransactionConflict, deploymentID, existing, status)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE strategy_deployments
		SET status = ?, error_message = ?, stopped_at = ?, updated_at = ?
		WHERE deployment_id = ?
	`, string(status), errorMessage, timePtrUnix(stoppedAt), time.Now().Unix(), deploymentID)
	if err != nil {
		return fmt.Errorf("sqlite update deployment %s: %w", deploymentID, err)
	}
	return tx.Commit()
}

// SetStartingBalanceIfUnset records the first balance snapshot value as
// the deployment's starting balance. No-op when already set.
func (s *Store) SetStartingBalanceIfUnset(ctx context.Context, deploymentID string, value float64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE strategy_deployments
		SET starting_balance = ?, updated_at = ?
		WHERE deployment_id = ? AND starting_balance IS NULL
	`, value, time.Now().Unix(), deploymentID)
	if err != nil {
		return fmt.Errorf("sqlite set starting balance %s: %w", deploymentID, err)
	}
	return nil
}
