package migration

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/segmentio/ksuid"

	"github.com/chainwire/migrator/deployment"
	"github.com/chainwire/migrator/internal/jsonutils"
	"github.com/chainwire/migrator/reconcile"
)

// State is the state of a run or a step.
type State string

const (
	StatePending   State = "pending"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// ReportError represents an error in a report.
// Its purpose is to have an exported field `Message` for marshalling as the
// native error cant be marshaled to JSON.
type ReportError struct {
	Message string `json:"message"`
}

// Error implements the error interface.
func (e ReportError) Error() string {
	return e.Message
}

func newReportError(err error) *ReportError {
	if err == nil {
		return nil
	}

	return &ReportError{Message: err.Error()}
}

// DeploymentReport is the outcome of a Deploy.
type DeploymentReport struct {
	Unit      string                    `json:"unit"`
	State     deployment.UnitState      `json:"state"`
	Address   common.Address            `json:"address"`
	Deployed  bool                      `json:"deployed"`
	TxHash    *common.Hash              `json:"txHash,omitempty"`
	Libraries map[string]common.Address `json:"libraries,omitempty"`
	Attempts  uint                      `json:"attempts"`
	Err       *ReportError              `json:"error,omitempty"`
}

// RelationshipReport is the outcome of a Relationship.
type RelationshipReport struct {
	Name               string               `json:"name"`
	Source             string               `json:"source"`
	Field              string               `json:"field"`
	Kind               reconcile.Kind       `json:"kind"`
	BestEffort         bool                 `json:"bestEffort,omitempty"`
	State              deployment.UnitState `json:"state,omitempty"`
	Changed            bool                 `json:"changed"`
	AlreadyInitialized bool                 `json:"alreadyInitialized,omitempty"`
	Current            string               `json:"current,omitempty"`
	Desired            string               `json:"desired,omitempty"`
	TxHash             *common.Hash         `json:"txHash,omitempty"`
	Attempts           uint                 `json:"attempts"`
	Err                *ReportError         `json:"error,omitempty"`
}

// Failed reports whether the relationship could not be reconciled.
func (r RelationshipReport) Failed() bool { return r.Err != nil }

// StepReport is the outcome of a Step.
type StepReport struct {
	Key           uint                 `json:"key"`
	Name          string               `json:"name"`
	State         State                `json:"state"`
	Deployments   []DeploymentReport   `json:"deployments"`
	Relationships []RelationshipReport `json:"relationships"`
	Err           *ReportError         `json:"error,omitempty"`
}

// RunReport is the outcome of a run.
type RunReport struct {
	ID         string       `json:"id"`
	Network    string       `json:"network"`
	State      State        `json:"state"`
	StartedAt  *time.Time   `json:"startedAt"`
	FinishedAt *time.Time   `json:"finishedAt,omitempty"`
	FailedStep *uint        `json:"failedStep,omitempty"`
	Err        *ReportError `json:"error,omitempty"`
	Steps      []StepReport `json:"steps"`
}

func newRunReport(network string, steps []Step, now time.Time) *RunReport {
	r := &RunReport{
		ID:        uuid.New().String(),
		Network:   network,
		State:     StatePending,
		StartedAt: &now,
		Steps:     make([]StepReport, len(steps)),
	}
	for i, s := range steps {
		r.Steps[i] = StepReport{Key: s.Key, Name: s.Name, State: StatePending}
	}

	return r
}

// Deployments returns the number of units deployed during the run.
func (r *RunReport) Deployments() int {
	n := 0
	for _, s := range r.Steps {
		for _, d := range s.Deployments {
			if d.Deployed {
				n++
			}
		}
	}

	return n
}

// Reconciliations returns the number of relationships changed during the run.
func (r *RunReport) Reconciliations() int {
	n := 0
	for _, s := range r.Steps {
		for _, rel := range s.Relationships {
			if rel.Changed {
				n++
			}
		}
	}

	return n
}

// Transactions returns the number of confirmed transactions sent during the run.
func (r *RunReport) Transactions() int {
	return r.Deployments() + r.Reconciliations()
}

// SkippedRelationships returns the best-effort relationships that failed.
func (r *RunReport) SkippedRelationships() []RelationshipReport {
	var out []RelationshipReport
	for _, s := range r.Steps {
		for _, rel := range s.Relationships {
			if rel.BestEffort && rel.Failed() {
				out = append(out, rel)
			}
		}
	}

	return out
}

// SaveReport writes the report as JSON into dir and returns the path of the file. File names
// start with a KSUID so that reports sort by creation time.
func SaveReport(dir string, r *RunReport) (string, error) {
	filename := fmt.Sprintf("%s-%s_run.json", ksuid.New().String(), r.Network)
	path := filepath.Join(dir, filename)

	if err := jsonutils.WriteFile(path, r); err != nil {
		return "", fmt.Errorf("failed to save run report: %w", err)
	}

	return path, nil
}

// LoadReport reads a report written by SaveReport.
func LoadReport(path string) (*RunReport, error) {
	r, err := jsonutils.LoadFile[RunReport](path)
	if err != nil {
		return nil, err
	}

	return &r, nil
}
