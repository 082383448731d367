package model

import "time"

// DeploymentStatus enumerates the deployment state machine:
// pending → running → (stop_requested → stopped | error).
type DeploymentStatus string

const (
	DeploymentPending       DeploymentStatus = "pending"
	DeploymentRunning       DeploymentStatus = "running"
	DeploymentStopRequested DeploymentStatus = "stop_requested"
	DeploymentStopped       DeploymentStatus = "stopped"
	DeploymentError         DeploymentStatus = "error"
)

// Terminal reports whether the deployment can no longer transition.
func (s DeploymentStatus) Terminal() bool {
	return s == DeploymentStopped || s == DeploymentError
}

var deploymentTransitions = map[DeploymentStatus][]DeploymentStatus{
	DeploymentPending:       {DeploymentRunning, DeploymentError},
	DeploymentRunning:       {DeploymentStopRequested, DeploymentStopped, DeploymentError},
	DeploymentStopRequested: {DeploymentStopped, DeploymentError},
}

// CanTransitionDeployment reports whether from → to is a valid move.
func CanTransitionDeployment(from, to DeploymentStatus) bool {
	for _, next := range deploymentTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Deployment is a live execution of a strategy against a broker connection.
type Deployment struct {
	DeploymentID       string           `json:"deployment_id"`
	StrategyID         string           `json:"strategy_id"`
	BrokerConnectionID string           `json:"broker_connection_id"`
	Symbol             string           `json:"symbol"`
	Timeframe          Timeframe        `json:"timeframe"`
	StartingBalance    *float64         `json:"starting_balance,omitempty"`
	Status             DeploymentStatus `json:"status"`
	ErrorMessage       string           `json:"error_message,omitempty"`
	StoppedAt          *time.Time       `json:"stopped_at,omitempty"`
	CreatedAt          time.Time        `json:"created_at"`
	UpdatedAt          time.Time        `json:"updated_at"`
}
