// Package reconcile runs the probe-and-route cycle that converges installed
// default routes to the health of each monitored uplink.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/plexsphere/uplinkd/internal/gateway"
	"github.com/plexsphere/uplinkd/internal/route"
	"github.com/plexsphere/uplinkd/internal/uplink"
)

const poolReleaseTimeout = 5 * time.Second

// Selector decides whether an interface is healthy and through which gateway.
type Selector interface {
	Select(ctx context.Context, iface uplink.Interface) gateway.Verdict
}

// Action is the route change made for an interface in one cycle.
type Action string

const (
	ActionNone      Action = "none"
	ActionInstalled Action = "installed"
	ActionWithdrawn Action = "withdrawn"
	ActionFailed    Action = "failed"
)

// Result is the outcome of one cycle for one interface.
type Result struct {
	Interface string
	Verdict   gateway.Verdict
	Action    Action
	Err       error
}

// Observer is invoked with the results of every cycle that covered all
// interfaces. Cycles cut short by cancellation are not reported.
type Observer func(ctx context.Context, results []Result)

// Reconciler probes every configured interface once per cycle and installs
// or withdraws its default route accordingly.
type Reconciler struct {
	selector  Selector
	backend   route.Backend
	ifaces    []uplink.Interface
	cfg       Config
	logger    *slog.Logger
	observers []Observer
	triggerCh chan struct{}

	// routed holds interfaces handed a gateway by the last verdict.
	routed    map[string]bool
	lastPhase map[string]gateway.Phase
	pool      *ants.Pool
}

// NewReconciler creates a new Reconciler for ifaces.
// Config defaults are applied automatically.
func NewReconciler(selector Selector, backend route.Backend, ifaces []uplink.Interface, cfg Config, logger *slog.Logger) *Reconciler {
	cfg.ApplyDefaults()
	if cfg.Interval == 0 {
		cfg.Interval = uplink.MinCheckInterval(ifaces)
	}
	return &Reconciler{
		selector:  selector,
		backend:   backend,
		ifaces:    ifaces,
		cfg:       cfg,
		logger:    logger,
		triggerCh: make(chan struct{}, 1),
		routed:    make(map[string]bool),
		lastPhase: make(map[string]gateway.Phase),
	}
}

// Interval returns the pause between cycles.
func (r *Reconciler) Interval() time.Duration {
	return r.cfg.Interval
}

// RegisterObserver adds an observer invoked after each cycle.
// RegisterObserver must be called before Run; it is not safe for concurrent use.
func (r *Reconciler) RegisterObserver(o Observer) {
	r.observers = append(r.observers, o)
}

// TriggerReconcile requests an immediate cycle.
// Multiple rapid calls are coalesced into one extra cycle.
func (r *Reconciler) TriggerReconcile() {
	select {
	case r.triggerCh <- struct{}{}:
	default:
		// Already a trigger pending; coalesce.
	}
}

// Run starts the reconciliation loop. It blocks until ctx is cancelled.
// The first cycle runs immediately; each following cycle starts Interval
// after the previous one finished, or when TriggerReconcile is called.
func (r *Reconciler) Run(ctx context.Context) error {
	if r.selector == nil || r.backend == nil {
		return errors.New("reconcile: selector and backend are required")
	}
	if len(r.ifaces) == 0 {
		return errors.New("reconcile: no interfaces to monitor")
	}
	if r.cfg.Interval <= 0 {
		return errors.New("reconcile: interval must be positive")
	}

	if r.cfg.ParallelProbes {
		pool, err := ants.NewPool(r.cfg.Workers)
		if err != nil {
			return fmt.Errorf("reconcile: create probe pool: %w", err)
		}
		r.pool = pool
		defer func() {
			if err := pool.ReleaseTimeout(poolReleaseTimeout); err != nil {
				r.logger.Warn("probe pool release timed out", "component", "reconcile", "error", err)
			}
			r.pool = nil
		}()
	}

	r.logger.Info("reconciler started",
		"component", "reconcile",
		"interfaces", len(r.ifaces),
		"backend", r.backend.Name(),
		"interval", r.cfg.Interval,
		"parallel_probes", r.cfg.ParallelProbes,
	)

	// First cycle runs immediately.
	r.RunCycle(ctx)

	timer := time.NewTimer(r.cfg.Interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("reconciler stopped", "component", "reconcile")
			return ctx.Err()

		case <-timer.C:
			r.RunCycle(ctx)
			timer.Reset(r.cfg.Interval)

		case <-r.triggerCh:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			r.RunCycle(ctx)
			timer.Reset(r.cfg.Interval)
		}
	}
}

// RunCycle performs one cycle over all interfaces and returns the per-interface
// results. When ctx is cancelled, the remaining interfaces are skipped and
// the returned slice is shorter than the interface list.
func (r *Reconciler) RunCycle(ctx context.Context) []Result {
	start := time.Now()
	results := make([]Result, 0, len(r.ifaces))

	if r.pool != nil {
		verdicts, errs := r.selectParallel(ctx)
		for i, iface := range r.ifaces {
			if ctx.Err() != nil {
				break
			}
			results = append(results, r.reconcile(ctx, iface, verdicts[i], errs[i]))
		}
	} else {
		for _, iface := range r.ifaces {
			if ctx.Err() != nil {
				break
			}
			v, err := r.safeSelect(ctx, iface)
			if ctx.Err() != nil {
				// A probe cut short by shutdown is not a verdict.
				break
			}
			results = append(results, r.reconcile(ctx, iface, v, err))
		}
	}

	if len(results) < len(r.ifaces) {
		// Observers only ever see whole cycles.
		r.logger.Info("cycle cancelled",
			"component", "reconcile",
			"processed", len(results),
			"skipped", len(r.ifaces)-len(results),
		)
	} else {
		r.notify(ctx, results)
	}

	healthy, failed := 0, 0
	for _, res := range results {
		if res.Verdict.Healthy {
			healthy++
		}
		if res.Err != nil {
			failed++
		}
	}
	r.logger.Debug("reconciliation cycle completed",
		"component", "reconcile",
		"interfaces", len(results),
		"healthy", healthy,
		"failed", failed,
		"duration", time.Since(start),
	)
	return results
}

// selectParallel runs selection for every interface on the probe pool and
// waits for all of them.
func (r *Reconciler) selectParallel(ctx context.Context) ([]gateway.Verdict, []error) {
	verdicts := make([]gateway.Verdict, len(r.ifaces))
	errs := make([]error, len(r.ifaces))

	var wg sync.WaitGroup
	for i, iface := range r.ifaces {
		wg.Add(1)
		task := func() {
			defer wg.Done()
			verdicts[i], errs[i] = r.safeSelect(ctx, iface)
		}
		if err := r.pool.Submit(task); err != nil {
			r.logger.Warn("probe pool rejected task, probing inline",
				"component", "reconcile",
				"interface", iface.Name,
				"error", err,
			)
			task()
		}
	}
	wg.Wait()
	return verdicts, errs
}

// reconcile converges the route of one interface to its verdict.
func (r *Reconciler) reconcile(ctx context.Context, iface uplink.Interface, v gateway.Verdict, selectErr error) Result {
	res := Result{Interface: iface.Name, Verdict: v, Action: ActionNone}
	log := r.logger.With("component", "reconcile", "interface", iface.Name)

	if selectErr != nil {
		res.Action = ActionFailed
		res.Err = selectErr
		log.Error("interface check failed", "error", selectErr)
		return res
	}

	r.logVerdict(log, iface.Name, v)

	// Route changes finish even when shutdown begins mid-change.
	opCtx := context.WithoutCancel(ctx)

	switch {
	case v.Healthy:
		r.routed[iface.Name] = true
		err := safeCall(func() error {
			return r.backend.AddRoute(opCtx, route.Spec{Interface: iface.Name, Gateway: v.Gateway, Metric: iface.Metric})
		})
		if err != nil {
			res.Action = ActionFailed
			res.Err = err
			log.Error("route add failed", "gateway", v.Gateway.String(), "error", err)
			return res
		}
		res.Action = ActionInstalled

	case r.routed[iface.Name]:
		delete(r.routed, iface.Name)
		err := safeCall(func() error {
			return r.backend.RemoveRoute(opCtx, iface.Name)
		})
		if err != nil {
			res.Action = ActionFailed
			res.Err = err
			log.Error("route remove failed", "error", err)
			return res
		}
		res.Action = ActionWithdrawn
	}
	return res
}

func (r *Reconciler) logVerdict(log *slog.Logger, name string, v gateway.Verdict) {
	prev, seen := r.lastPhase[name]
	r.lastPhase[name] = v.Phase

	attrs := []any{"healthy", v.Healthy, "phase", string(v.Phase)}
	if v.Healthy {
		attrs = append(attrs, "gateway", v.Gateway.String())
	}
	if !seen || prev != v.Phase {
		log.Info("health verdict", attrs...)
		return
	}
	log.Debug("health verdict", attrs...)
}

// safeSelect runs the selector with panic recovery.
func (r *Reconciler) safeSelect(ctx context.Context, iface uplink.Interface) (v gateway.Verdict, err error) {
	err = safeCall(func() error {
		v = r.selector.Select(ctx, iface)
		return nil
	})
	return v, err
}

func (r *Reconciler) notify(ctx context.Context, results []Result) {
	for i, o := range r.observers {
		err := safeCall(func() error {
			o(ctx, results)
			return nil
		})
		if err != nil {
			r.logger.Error("observer failed",
				"component", "reconcile",
				"observer_index", i,
				"error", err,
			)
		}
	}
}

// safeCall calls fn with panic recovery.
func safeCall(fn func() error) (err error) {
	defer func() {
		if v := recover(); v != nil {
			err = fmt.Errorf("panicked: %v\n%s", v, debug.Stack())
		}
	}()
	return fn()
}
