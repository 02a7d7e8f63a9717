package lifecycle

import (
	"context"
	"errors"
	"time"

	"github.com/botdeployer/deployer/internal/deploy"
)

const (
	StageValidateSession      = "validate-session"
	StageCreateEnvironment    = "create-environment"
	StageDownloadSource       = "download-source"
	StageInstallDependencies  = "install-dependencies"
	StageConfigureEnvironment = "configure-environment"
	StageStartProcess         = "start-process"
)

const (
	CompletedMessage = "Deployment completed successfully!"
	FailedMessage    = "Deployment failed"
)

// Stage is one step of the deployment sequence: wait Delay, pass Gate, then
// log Message. The sequence ends after the first Terminal stage.
type Stage struct {
	Name     string
	Message  string
	Delay    time.Duration
	Terminal bool
	Gate     Gate
	Retry    RetryPolicy
}

var defaultStages = [...]Stage{
	{Name: StageValidateSession, Message: "Validating session ID...", Delay: 1 * time.Second},
	{Name: StageCreateEnvironment, Message: "Creating deployment environment...", Delay: 2 * time.Second},
	{Name: StageDownloadSource, Message: "Downloading bot source code...", Delay: 3 * time.Second},
	{Name: StageInstallDependencies, Message: "Installing dependencies...", Delay: 3 * time.Second},
	{Name: StageConfigureEnvironment, Message: "Configuring environment variables...", Delay: 1 * time.Second},
	{Name: StageStartProcess, Message: "Starting bot process...", Delay: 2 * time.Second, Terminal: true},
}

// DefaultStages returns a fresh copy of the standard stage table.
func DefaultStages() []Stage {
	stages := defaultStages
	return stages[:]
}

// Gate decides whether a deployment may pass a stage. A non-nil error moves
// the deployment to failed unless it is transient and retries remain.
type Gate interface {
	Check(ctx context.Context, d *deploy.Deployment) error
}

type GateFunc func(ctx context.Context, d *deploy.Deployment) error

func (f GateFunc) Check(ctx context.Context, d *deploy.Deployment) error {
	return f(ctx, d)
}

// Gates chains gates; the first failure wins.
func Gates(gates ...Gate) Gate {
	var chain []Gate
	for _, g := range gates {
		if g != nil {
			chain = append(chain, g)
		}
	}
	if len(chain) == 1 {
		return chain[0]
	}
	return GateFunc(func(ctx context.Context, d *deploy.Deployment) error {
		for _, g := range chain {
			if err := g.Check(ctx, d); err != nil {
				return err
			}
		}
		return nil
	})
}

// StageError reports the stage a deployment failed at.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return e.Stage + ": " + e.Err.Error()
}

func (e *StageError) Unwrap() error {
	return e.Err
}

var errEmptyStages = errors.New("lifecycle: no stages configured")
