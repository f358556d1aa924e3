// Package migration runs ordered steps of deployments and reconciliations against one network.
//
// A run moves from pending to running and ends completed, or failed at the first step that hit a
// fatal error. Every action inside a step is idempotent, so re-running a failed run from the start
// is the recovery path: steps that already completed only read and compare.
package migration

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/chainwire/migrator/deployer"
	"github.com/chainwire/migrator/deployment"
	"github.com/chainwire/migrator/pkg/logger"
	"github.com/chainwire/migrator/reconcile"
	"github.com/chainwire/migrator/registry"
)

// DefaultConcurrency bounds the relationships of a step reconciled at the same time.
const DefaultConcurrency = 4

// UnitDeployer deploys or reuses units. deployer.Deployer implements it.
type UnitDeployer interface {
	Deploy(ctx context.Context, unit deployment.Unit, args []any, opts ...deployer.Option) (deployer.Result, error)
}

// Reconciler reconciles relationships. reconcile.Reconciler implements it.
type Reconciler interface {
	reconcile.AddressLookup
	Reconcile(ctx context.Context, rel reconcile.Relationship) (reconcile.Result, error)
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithRetryPolicy sets the retry policy of transient failures.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(s *Scheduler) {
		s.retry = p
	}
}

// WithConcurrency bounds the relationships of a step reconciled at the same time. Values below 1
// reconcile one at a time.
func WithConcurrency(n int) Option {
	return func(s *Scheduler) {
		s.concurrency = max(n, 1)
	}
}

// WithOverwrite forces (true) or forbids (false) redeployment of every unit, taking precedence
// over the overwrite setting of each Deploy.
func WithOverwrite(overwrite bool) Option {
	return func(s *Scheduler) {
		s.overwrite = &overwrite
	}
}

// Scheduler runs steps against one network.
type Scheduler struct {
	deployer    UnitDeployer
	reconciler  Reconciler
	units       reconcile.UnitSource
	registry    registry.Registry
	network     string
	lggr        logger.Logger
	retry       RetryPolicy
	concurrency int
	overwrite   *bool
}

// New returns a Scheduler. The registry is only read, to check step preconditions.
func New(
	d UnitDeployer,
	r Reconciler,
	units reconcile.UnitSource,
	reg registry.Registry,
	network string,
	lggr logger.Logger,
	opts ...Option,
) *Scheduler {
	s := &Scheduler{
		deployer:    d,
		reconciler:  r,
		units:       units,
		registry:    reg,
		network:     network,
		lggr:        lggr.Named("scheduler"),
		retry:       DefaultRetryPolicy(),
		concurrency: DefaultConcurrency,
	}
	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Run executes steps in ascending key order and stops at the first failed step. The returned
// report is non-nil unless the steps are invalid. A failed run returns a *StepError.
func (s *Scheduler) Run(ctx context.Context, steps []Step) (*RunReport, error) {
	sorted, err := SortSteps(steps)
	if err != nil {
		return nil, err
	}

	report := newRunReport(s.network, sorted, time.Now().UTC())
	report.State = StateRunning
	lggr := s.lggr.With("run", report.ID, "network", s.network)
	lggr.Infow("Run started", "steps", len(sorted))

	for i, step := range sorted {
		if err = s.runStep(ctx, lggr, step, &report.Steps[i]); err != nil {
			key := step.Key
			report.FailedStep = &key
			report.Err = newReportError(err)
			finish(report, StateFailed)
			lggr.Errorw("Run failed", "step", step.Key, "error", err)

			return report, err
		}
	}

	finish(report, StateCompleted)
	lggr.Infow("Run completed",
		"deployments", report.Deployments(),
		"reconciliations", report.Reconciliations(),
		"skipped", len(report.SkippedRelationships()),
	)

	return report, nil
}

func finish(r *RunReport, state State) {
	now := time.Now().UTC()
	r.State = state
	r.FinishedAt = &now
}

func (s *Scheduler) runStep(ctx context.Context, lggr logger.Logger, step Step, sr *StepReport) error {
	lggr = lggr.With("step", step.Key, "stepName", step.Name)
	sr.State = StateRunning

	fail := func(unit, rel string, err error) error {
		sr.State = StateFailed
		sr.Err = newReportError(err)

		return &StepError{Key: step.Key, Name: step.Name, Unit: unit, Relationship: rel, Err: err}
	}

	if err := ctx.Err(); err != nil {
		return fail("", "", err)
	}

	lggr.Infow("Step started")

	if err := s.checkRequires(ctx, step); err != nil {
		return fail("", "", err)
	}

	if step.Hooks.Before != nil {
		if err := s.runHook(ctx, lggr, "before", step.Hooks.Before); err != nil {
			return fail("", "", err)
		}
	}

	for _, d := range step.Deploys {
		dr, err := s.deploy(ctx, lggr, d)
		sr.Deployments = append(sr.Deployments, dr)
		if err != nil {
			return fail(d.Unit, "", err)
		}
	}

	reports, failed, err := s.reconcileAll(ctx, lggr, step.Relationships)
	sr.Relationships = reports
	if err != nil {
		return fail("", failed, err)
	}

	if step.Hooks.After != nil {
		if err = s.runHook(ctx, lggr, "after", step.Hooks.After); err != nil {
			return fail("", "", err)
		}
	}

	sr.State = StateCompleted
	lggr.Infow("Step completed")

	return nil
}

// checkRequires fails with deployment.ErrPreconditionFailed when a required unit has no current
// record.
func (s *Scheduler) checkRequires(ctx context.Context, step Step) error {
	var missing []string
	for _, name := range step.Requires {
		_, found, err := s.registry.Lookup(ctx, name, s.network)
		if err != nil {
			return fmt.Errorf("failed to look up %s: %w", name, err)
		}
		if !found {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s not deployed on %s",
			deployment.ErrPreconditionFailed, strings.Join(missing, ", "), s.network,
		)
	}

	return nil
}

func (s *Scheduler) deploy(ctx context.Context, lggr logger.Logger, d Deploy) (DeploymentReport, error) {
	dr := DeploymentReport{Unit: d.Unit, State: deployment.UnitUndeployed}

	unit, ok := s.units.Unit(d.Unit)
	if !ok {
		err := fmt.Errorf("unit %s is not defined", d.Unit)
		dr.Err = newReportError(err)

		return dr, err
	}

	overwrite := d.Overwrite
	if s.overwrite != nil {
		overwrite = s.overwrite
	}
	var opts []deployer.Option
	if overwrite != nil {
		opts = append(opts, deployer.WithOverwrite(*overwrite))
	}

	res, attempts, err := withRetry(ctx, s.retry, lggr, "deploy "+d.Unit, func() (deployer.Result, error) {
		args, err := reconcile.ResolveArgs(ctx, s.reconciler, d.Args)
		if err != nil {
			return deployer.Result{}, fmt.Errorf("unit %s: constructor arguments: %w", d.Unit, err)
		}

		return s.deployer.Deploy(ctx, unit, args, opts...)
	})
	dr.Attempts = attempts
	if err != nil {
		dr.Err = newReportError(err)

		return dr, err
	}

	dr.State = deployment.UnitDeployed
	dr.Address = res.Record.Address
	dr.Deployed = res.Deployed
	dr.Libraries = res.Record.Libraries
	if res.Deployed {
		hash := res.Record.TxHash
		dr.TxHash = &hash
	}

	return dr, nil
}

// reconcileAll reconciles relationships concurrently and waits for all of them. It returns the
// first halting failure in declaration order.
func (s *Scheduler) reconcileAll(
	ctx context.Context, lggr logger.Logger, rels []Relationship,
) ([]RelationshipReport, string, error) {
	reports := make([]RelationshipReport, len(rels))
	errs := make([]error, len(rels))

	g := new(errgroup.Group)
	g.SetLimit(s.concurrency)
	for i, rel := range rels {
		g.Go(func() error {
			reports[i], errs[i] = s.reconcile(ctx, lggr, rel)
			if errs[i] != nil && !rel.BestEffort {
				return errs[i]
			}

			return nil
		})
	}
	if err := g.Wait(); err == nil {
		// a cancelled run never completes a step, best-effort or not
		if ctxErr := ctx.Err(); ctxErr != nil {
			return reports, "", ctxErr
		}

		return reports, "", nil
	}

	for i, err := range errs {
		if err != nil && !rels[i].BestEffort {
			return reports, rels[i].ID(), err
		}
	}

	return reports, "", errors.New("relationship failed")
}

func (s *Scheduler) reconcile(ctx context.Context, lggr logger.Logger, rel Relationship) (RelationshipReport, error) {
	rr := RelationshipReport{
		Name:       rel.ID(),
		Source:     rel.Source,
		Field:      rel.Field,
		Kind:       rel.KindOrDefault(),
		BestEffort: rel.BestEffort,
	}

	res, attempts, err := withRetry(ctx, s.retry, lggr, "reconcile "+rel.ID(), func() (res reconcile.Result, err error) {
		// runs on an errgroup goroutine, a panic would take the process down without a report
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("relationship %s: reconciliation panicked: %v", rel.ID(), r)
			}
		}()

		return s.reconciler.Reconcile(ctx, rel.Relationship)
	})
	rr.Attempts = attempts
	if err != nil {
		rr.Err = newReportError(err)
		if rel.BestEffort {
			lggr.Warnw("Best-effort relationship failed, continuing", "relationship", rel.ID(), "error", err)
		}

		return rr, err
	}

	rr.Changed = res.Changed
	rr.AlreadyInitialized = res.AlreadyInitialized
	rr.Current = reconcile.FormatValue(res.Current)
	rr.Desired = reconcile.FormatValue(res.Desired)
	if res.Changed {
		hash := res.TxHash
		rr.TxHash = &hash
	}
	rr.State = deployment.UnitLinked
	if rr.Kind == reconcile.KindInitializer {
		rr.State = deployment.UnitInitialized
	}

	return rr, nil
}

func (s *Scheduler) runHook(ctx context.Context, lggr logger.Logger, when string, hook Hook) error {
	env := HookEnv{Network: s.network, Lookup: s.reconciler, Logger: lggr}

	_, _, err := withRetry(ctx, s.retry, lggr, when+" hook", func() (struct{}, error) {
		return struct{}{}, hook(ctx, env)
	})
	if err != nil {
		return fmt.Errorf("%s hook: %w", when, err)
	}

	return nil
}
