// Package orchestrator drives the checkout and clone phases of a
// resolution: it runs checkouts for every repository that needs one,
// bounded to MaxParallelCheckouts concurrent workers, and clones bounded
// to MaxParallelClones workers. Imports (before checkouts) and dedup
// (after them) are run by cmd/just-mr, not by this package.
// Concurrency is expressed with golang.org/x/sync/errgroup (SetLimit)
// rather than the teacher's hand-rolled channel pool, since errgroup
// already gives first-error cancellation for free; soft (per-repository)
// failures that should not abort the whole run are instead collected with
// go.uber.org/multierr, matching spec §5's distinction between a fatal
// checkout error and a best-effort one.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/justbuild-go/just-mr/internal/checkout"
	"github.com/justbuild-go/just-mr/internal/errs"
	"github.com/justbuild-go/just-mr/internal/gitcache"
	"github.com/justbuild-go/just-mr/internal/materialize"
	"github.com/justbuild-go/just-mr/internal/repograph"
)

// Config holds the orchestrator's tunables.
type Config struct {
	MaxParallelCheckouts int
	MaxParallelClones    int
	CheckoutTimeout      time.Duration
	Logger               *slog.Logger
}

func (c *Config) defaults() {
	if c.MaxParallelCheckouts <= 0 {
		c.MaxParallelCheckouts = 8
	}
	if c.MaxParallelClones <= 0 {
		c.MaxParallelClones = 8
	}
	if c.CheckoutTimeout <= 0 {
		c.CheckoutTimeout = 15 * time.Minute
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Progress reports one repository's checkout or clone outcome as it
// completes, for internal/progress to render live.
type Progress struct {
	Repo  string
	Phase string // "checkout" or "clone"
	Err   error
}

// Orchestrator runs the bounded-parallel checkout/clone phases over a
// resolved repograph.Graph.
type Orchestrator struct {
	Cache  *gitcache.Cache
	Env    checkout.Env
	Config Config

	mu   sync.Mutex
	subs []chan Progress
}

// New returns an Orchestrator ready to run.
func New(cache *gitcache.Cache, env checkout.Env, cfg Config) *Orchestrator {
	cfg.defaults()
	return &Orchestrator{Cache: cache, Env: env, Config: cfg}
}

// Subscribe returns a channel receiving Progress events for the lifetime
// of ctx. It follows the teacher's non-blocking notify idiom: a slow
// subscriber drops events rather than stalling the workers.
func (o *Orchestrator) Subscribe(ctx context.Context) <-chan Progress {
	ch := make(chan Progress, 32)
	o.mu.Lock()
	o.subs = append(o.subs, ch)
	o.mu.Unlock()
	go func() {
		<-ctx.Done()
		o.mu.Lock()
		defer o.mu.Unlock()
		for i, s := range o.subs {
			if s == ch {
				o.subs = append(o.subs[:i], o.subs[i+1:]...)
				break
			}
		}
	}()
	return ch
}

func (o *Orchestrator) notify(p Progress) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, s := range o.subs {
		select {
		case s <- p:
		default:
		}
	}
}

// SlotKey names one alternate root slot (target_root, rule_root, or
// expression_root) of one repository that carries its own root object
// distinct from the repository's own root.
type SlotKey struct {
	Repo string
	Slot repograph.SlotKind
}

// altSlotKinds are the three root slots besides Repository that may
// independently carry a root object per spec §3.
var altSlotKinds = []repograph.SlotKind{repograph.SlotTarget, repograph.SlotRule, repograph.SlotExpression}

type checkoutJob struct {
	name string
	slot repograph.SlotKind
	root *repograph.Root
}

// RunCheckouts checks out every repository root object in g: each
// repository's own Repository root (unless it is a name reference, which
// shares another repository's result and needs no work of its own), plus
// any of TargetRoot/RuleRoot/ExpressionRoot that independently carries a
// root object rather than falling back to the repository's root or
// referencing another repository by name. Work is bounded to
// Config.MaxParallelCheckouts concurrent workers. It returns the resolved
// tree (or direct path) for each repository's Repository slot, the same
// for every alternate slot that was checked out on its own, and a combined
// error aggregating every individual checkout failure rather than stopping
// at the first one, so a user sees every broken source in one run.
func (o *Orchestrator) RunCheckouts(ctx context.Context, g *repograph.Graph) (map[string]checkout.Result, map[SlotKey]checkout.Result, error) {
	results := make(map[string]checkout.Result, len(g.Repos))
	altResults := make(map[SlotKey]checkout.Result)
	var mu sync.Mutex
	var combinedErr error

	var jobs []checkoutJob
	for name, desc := range g.Repos {
		if !desc.Repository.IsRef() {
			jobs = append(jobs, checkoutJob{name: name, slot: repograph.SlotRepository, root: desc.Repository.Root})
		}
		for _, kind := range altSlotKinds {
			slot := desc.RawSlot(kind)
			if slot.IsZero() || slot.IsRef() {
				// IsZero falls back to the repository root (already
				// queued above); IsRef shares another repository's slot.
				continue
			}
			jobs = append(jobs, checkoutJob{name: name, slot: kind, root: slot.Root})
		}
	}

	grp, gctx := errgroup.WithContext(ctx)
	grp.SetLimit(o.Config.MaxParallelCheckouts)

	for _, j := range jobs {
		j := j
		grp.Go(func() error {
			cctx, cancel := context.WithTimeout(gctx, o.Config.CheckoutTimeout)
			defer cancel()

			res, err := checkout.Checkout(cctx, o.Env, j.name, j.root)
			o.notify(Progress{Repo: j.name, Phase: "checkout", Err: err})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				combinedErr = multierr.Append(combinedErr, errs.Wrap(errs.KindCheckout, fmt.Sprintf("checking out repository %q %s root", j.name, j.slot), err))
				return nil // soft failure: keep going so other repos still resolve
			}
			if j.slot == repograph.SlotRepository {
				results[j.name] = res
			} else {
				altResults[SlotKey{Repo: j.name, Slot: j.slot}] = res
			}
			return nil
		})
	}

	if err := grp.Wait(); err != nil {
		return results, altResults, err
	}
	if combinedErr != nil {
		return results, altResults, combinedErr
	}
	return results, altResults, nil
}

// RunClones materializes every repository in targets to its Dest path,
// bounded to Config.MaxParallelClones concurrent workers.
func (o *Orchestrator) RunClones(ctx context.Context, targets map[string]materialize.Target) error {
	grp, gctx := errgroup.WithContext(ctx)
	grp.SetLimit(o.Config.MaxParallelClones)

	var mu sync.Mutex
	var combinedErr error

	for name, target := range targets {
		name, target := name, target
		grp.Go(func() error {
			err := materialize.Clone(gctx, o.Cache, target)
			o.notify(Progress{Repo: name, Phase: "clone", Err: err})
			if err != nil {
				mu.Lock()
				combinedErr = multierr.Append(combinedErr, errs.Wrap(errs.KindCheckout, fmt.Sprintf("cloning repository %q", name), err))
				mu.Unlock()
			}
			return nil
		})
	}

	if err := grp.Wait(); err != nil {
		return err
	}
	return combinedErr
}

// ResolveTreeFor follows repository-reference slots to find the already
// computed tree for any repository's Repository slot, even ones skipped by
// RunCheckouts because they merely referenced another repository's root.
func ResolveTreeFor(g *repograph.Graph, results map[string]checkout.Result, name string) (checkout.Result, error) {
	return ResolveTreeForSlot(g, results, nil, name, repograph.SlotRepository)
}

// ResolveTreeForSlot is ResolveTreeFor generalized to any of the four root
// slots: it follows name references on that slot until it lands on a root
// object (repograph.Graph.ResolveRoot), then finds whichever repository
// declared that exact object -- on its Repository slot (looked up in
// results) or on one of its own alternate slots (looked up in altResults,
// by repograph.Description.Slot's fallback: an alternate slot left unset
// resolves through the same repository's Repository root).
func ResolveTreeForSlot(g *repograph.Graph, results map[string]checkout.Result, altResults map[SlotKey]checkout.Result, name string, kind repograph.SlotKind) (checkout.Result, error) {
	root, err := g.ResolveRoot(name, kind)
	if err != nil {
		return checkout.Result{}, err
	}
	for other, desc := range g.Repos {
		if desc.Repository.Root == root {
			if res, ok := results[other]; ok {
				return res, nil
			}
		}
		for _, altKind := range altSlotKinds {
			if desc.RawSlot(altKind).Root == root {
				if res, ok := altResults[SlotKey{Repo: other, Slot: altKind}]; ok {
					return res, nil
				}
			}
		}
	}
	return checkout.Result{}, fmt.Errorf("no checkout result found for repository %q %s root", name, kind)
}
