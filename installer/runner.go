package installer

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/GoCodeAlone/modctx/container"
	"github.com/GoCodeAlone/modctx/internal/logging"
)

// ContextModule is the module name context-level installers are recorded under.
const ContextModule = "context"

// Locker guards installer execution.
type Locker interface {
	EnsureLocked(ctx context.Context) error
}

// RepositoryLookup finds the version store when an installer first needs it.
type RepositoryLookup func(ctx context.Context) (Repository, error)

// Target is one batch of installers to run.
type Target struct {
	Module     string
	Installers []Registration
	Settings   *Settings

	// Resolver wires the installers: the module scope when it exists,
	// otherwise the root.
	Resolver container.Resolver
}

// Result describes what happened to one installer.
type Result struct {
	Module    string
	Installer string
	Action    Action
	Ran       bool
	Recorded  bool
}

// Runner executes installers of one phase.
type Runner struct {
	// Settings are the context-level settings.
	Settings *Settings

	Repository RepositoryLookup
	Locker     Locker
	Logger     logging.Logger

	// OnResult is called for every installer that was considered.
	OnResult func(phase Phase, res Result)

	now func() time.Time
}

// Run executes the installers of target that belong to phase, ordered by
// their Order and then registration order.
func (r *Runner) Run(ctx context.Context, phase Phase, target Target) error {
	logger := logging.OrNop(r.Logger)

	var regs []Registration
	for _, reg := range target.Installers {
		if reg.Metadata.Phase == phase {
			regs = append(regs, reg)
		}
	}
	if len(regs) == 0 {
		return nil
	}
	slices.SortStableFunc(regs, func(a, b Registration) int {
		return cmp.Compare(a.Metadata.Order, b.Metadata.Order)
	})

	module := target.Module
	if module == "" {
		module = ContextModule
	}

	var repo Repository
	for _, reg := range regs {
		md := reg.Metadata
		action := DetermineAction(md, r.Settings, target.Settings, logger)
		res := Result{Module: module, Installer: md.Name, Action: action}

		if action == ActionSkip || action == ActionDisabled {
			logger.Debug("Installer not run", "module", module, "installer", md.Name, "action", action)
			r.report(phase, res)
			continue
		}

		if repo == nil {
			var err error
			if repo, err = r.prepare(ctx); err != nil {
				return &ExecutionError{Module: module, Installer: md.Name, Phase: phase, Err: err}
			}
		}

		ran, err := r.apply(ctx, repo, module, reg, action, target.Resolver, logger)
		res.Ran = ran
		res.Recorded = err == nil && (ran || action == ActionRegister)
		r.report(phase, res)
		if err != nil {
			return &ExecutionError{Module: module, Installer: md.Name, Phase: phase, Err: err}
		}
	}
	return nil
}

// prepare takes the lock and finds the repository on first need.
func (r *Runner) prepare(ctx context.Context) (Repository, error) {
	if r.Locker != nil {
		if err := r.Locker.EnsureLocked(ctx); err != nil {
			return nil, err
		}
	}
	if r.Repository == nil {
		return nil, ErrNoRepository
	}
	repo, err := r.Repository(ctx)
	if err != nil {
		return nil, err
	}
	if repo == nil {
		return nil, ErrNoRepository
	}
	return repo, nil
}

func (r *Runner) apply(ctx context.Context, repo Repository, module string, reg Registration,
	action Action, resolver container.Resolver, logger logging.Logger) (bool, error) {
	md := reg.Metadata

	if action == ActionRegister {
		logger.Info("Registering installer without running", "module", module, "installer", md.Name, "version", md.Version)
		return false, r.record(ctx, repo, module, md)
	}

	inst, err := reg.Factory(resolver)
	if err != nil {
		return false, fmt.Errorf("failed to create installer: %w", err)
	}

	if action == ActionExecute {
		installed, err := repo.InstalledVersion(ctx, module, md.Name)
		if err != nil {
			return false, err
		}
		always := false
		if ar, ok := inst.(AlwaysRun); ok {
			always = ar.AlwaysRun()
		}
		if md.Version <= installed && !always {
			logger.Debug("Installer up to date", "module", module, "installer", md.Name,
				"version", md.Version, "installed", installed)
			return false, nil
		}
	}

	logger.Info("Running installer", "module", module, "installer", md.Name, "version", md.Version, "action", action)
	if err := inst.Install(ctx); err != nil {
		return true, err
	}
	return true, r.record(ctx, repo, module, md)
}

func (r *Runner) record(ctx context.Context, repo Repository, module string, md Metadata) error {
	now := time.Now
	if r.now != nil {
		now = r.now
	}
	return repo.SetInstalled(ctx, Record{
		Module:      module,
		Installer:   md.Name,
		Version:     md.Version,
		Description: md.Description,
		UpdatedAt:   now(),
	})
}

func (r *Runner) report(phase Phase, res Result) {
	if r.OnResult != nil {
		r.OnResult(phase, res)
	}
}
