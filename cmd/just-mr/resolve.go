package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/justbuild-go/just-mr/internal/checkout"
	"github.com/justbuild-go/just-mr/internal/config"
	"github.com/justbuild-go/just-mr/internal/dedup"
	"github.com/justbuild-go/just-mr/internal/errs"
	"github.com/justbuild-go/just-mr/internal/filecas"
	"github.com/justbuild-go/just-mr/internal/gitcache"
	"github.com/justbuild-go/just-mr/internal/launcher"
	"github.com/justbuild-go/just-mr/internal/materialize"
	"github.com/justbuild-go/just-mr/internal/orchestrator"
	"github.com/justbuild-go/just-mr/internal/progress"
	"github.com/justbuild-go/just-mr/internal/repograph"
	"github.com/justbuild-go/just-mr/internal/report"
	"github.com/justbuild-go/just-mr/internal/termcolor"
	"github.com/justbuild-go/just-mr/internal/watch"
)

// resolveFlags are the flags specific to the "resolve" subcommand, parsed
// on top of the already-stripped global flags.
type resolveFlags struct {
	configPath string
	outPath    string
	dest       string
	reportPath string
	fetchOnly  bool
	watchAddr  string
}

func parseResolveFlags(args []string) (resolveFlags, *errs.Error) {
	rf := resolveFlags{configPath: "repos.json", dest: "."}
	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-C" && i+1 < len(args):
			rf.configPath = args[i+1]
			i++
		case strings.HasPrefix(args[i], "--config="):
			rf.configPath = strings.TrimPrefix(args[i], "--config=")
		case args[i] == "-o" && i+1 < len(args):
			rf.outPath = args[i+1]
			i++
		case strings.HasPrefix(args[i], "--output="):
			rf.outPath = strings.TrimPrefix(args[i], "--output=")
		case args[i] == "--dest" && i+1 < len(args):
			rf.dest = args[i+1]
			i++
		case strings.HasPrefix(args[i], "--dest="):
			rf.dest = strings.TrimPrefix(args[i], "--dest=")
		case args[i] == "--report" && i+1 < len(args):
			rf.reportPath = args[i+1]
			i++
		case strings.HasPrefix(args[i], "--report="):
			rf.reportPath = strings.TrimPrefix(args[i], "--report=")
		case args[i] == "--fetch-only":
			rf.fetchOnly = true
		case args[i] == "--watch" && i+1 < len(args):
			rf.watchAddr = args[i+1]
			i++
		case strings.HasPrefix(args[i], "--watch="):
			rf.watchAddr = strings.TrimPrefix(args[i], "--watch=")
		default:
			return rf, errs.New(errs.KindUsage, fmt.Sprintf("resolve: unrecognized argument %q", args[i]))
		}
	}
	if rf.outPath == "" {
		rf.outPath = rf.configPath
	}
	return rf, nil
}

// runResolve is the entry point for the "resolve" command: load the
// repository configuration, run its imports, run every checkout, deduplicate
// the result, then (unless --fetch-only) clone every repository's root to
// --dest.
func runResolve(args []string, gf globalFlags, cw *termcolor.Writer) int {
	rf, ferr := parseResolveFlags(args)
	if ferr != nil {
		fmt.Fprintf(os.Stderr, "just-mr: %v\n", ferr)
		return ferr.Kind.ExitCode()
	}

	g, imports, err := config.LoadFull(rf.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "just-mr: %v\n", err)
		return errs.KindConfig.ExitCode()
	}

	localBuildRoot := gf.localBuildRoot
	if localBuildRoot == "" {
		localBuildRoot = config.DefaultLocalBuildRoot()
	}
	cacheRoot := filepath.Join(localBuildRoot, "git")
	casRoot := filepath.Join(localBuildRoot, "cas")
	workDir := filepath.Join(localBuildRoot, "work")
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "just-mr: creating scratch directory: %v\n", err)
		return errs.KindInternal.ExitCode()
	}

	launch := launcher.Launcher{Prefix: gf.launcher}

	ctx := context.Background()
	cache, err := gitcache.Open(ctx, cacheRoot, launch)
	if err != nil {
		fmt.Fprintf(os.Stderr, "just-mr: %v\n", err)
		return errs.KindCache.ExitCode()
	}
	cas, err := filecas.Open(casRoot)
	if err != nil {
		fmt.Fprintf(os.Stderr, "just-mr: %v\n", err)
		return errs.KindCache.ExitCode()
	}

	env := checkout.Env{Cache: cache, CAS: cas, Launch: launch, WorkDir: workDir}

	// Imports are processed sequentially, in the order declared in the
	// input file, before any checkout runs: each one may add repositories
	// (and, for the "generic" source, wholesale replace the graph) that
	// the checkout/dedup/clone phases below need to see (spec §4.9 step 4).
	if err := runImports(ctx, env, cache, g, imports); err != nil {
		fmt.Fprintf(os.Stderr, "just-mr: %v\n", err)
		return errs.KindCheckout.ExitCode()
	}

	orch := orchestrator.New(cache, env, orchestrator.Config{})

	mp := progress.NewMulti("checkouts", len(g.Repos))
	subCtx, subCancel := context.WithCancel(ctx)
	sub := orch.Subscribe(subCtx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-subCtx.Done():
				return
			case p := <-sub:
				mp.Start(p.Repo)
				mp.Finish(p.Repo, p.Err)
			}
		}
	}()

	// --watch serves the same progress stream over a local WebSocket feed
	// (internal/watch's Hub) so an external viewer can follow a long
	// resolution run live, alongside the terminal progress bars above.
	if rf.watchAddr != "" {
		hub := watch.NewHub(nil)
		watchCtx, watchCancel := context.WithCancel(ctx)
		defer watchCancel()
		go hub.Pump(watchCtx, orch)

		mux := http.NewServeMux()
		mux.Handle("/progress", hub)
		srv := &http.Server{Addr: rf.watchAddr, Handler: mux}
		go func() {
			if serveErr := srv.ListenAndServe(); serveErr != nil && serveErr != http.ErrServerClosed {
				fmt.Fprintf(os.Stderr, "just-mr: watch server: %v\n", serveErr)
			}
		}()
		defer srv.Close()
	}

	results, altResults, err := orch.RunCheckouts(ctx, g)
	subCancel()
	<-done
	mp.Stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "just-mr: checkout failures:\n%v\n", err)
	}

	// Every repository needs a signature, not just the ones RunCheckouts
	// itself checked out: a repository whose repository root is a name
	// reference shares its target's result, and every alternate slot
	// (target_root/rule_root/expression_root) is resolved the same way,
	// whether it carries its own object or falls back to the repository
	// root (spec §4.7 item 1: "effective roots are equal for every root
	// slot"). File name overrides (item 2) ride along on the signature so
	// two repositories with identical roots but different RULES/TARGETS/
	// EXPRESSIONS overrides are never merged as bisimilar.
	sigs := make(map[string]dedup.Signature, len(g.Repos))
	for name, desc := range g.Repos {
		repoRes, rerr := orchestrator.ResolveTreeForSlot(g, results, altResults, name, repograph.SlotRepository)
		if rerr != nil {
			fmt.Fprintf(os.Stderr, "just-mr: resolving repository root for %q: %v\n", name, rerr)
			return errs.KindInternal.ExitCode()
		}
		sig := dedup.Signature{
			Tree:               repoRes.Tree,
			DirectFS:           repoRes.DirectFS,
			TargetFileName:     desc.FileName(repograph.SlotTarget),
			RuleFileName:       desc.FileName(repograph.SlotRule),
			ExpressionFileName: desc.FileName(repograph.SlotExpression),
		}
		for _, kind := range []repograph.SlotKind{repograph.SlotTarget, repograph.SlotRule, repograph.SlotExpression} {
			altRes, aerr := orchestrator.ResolveTreeForSlot(g, results, altResults, name, kind)
			if aerr != nil {
				fmt.Fprintf(os.Stderr, "just-mr: resolving %s root for %q: %v\n", kind, name, aerr)
				return errs.KindInternal.ExitCode()
			}
			switch kind {
			case repograph.SlotTarget:
				sig.TargetRootTree, sig.TargetRootFS = altRes.Tree, altRes.DirectFS
			case repograph.SlotRule:
				sig.RuleRootTree, sig.RuleRootFS = altRes.Tree, altRes.DirectFS
			case repograph.SlotExpression:
				sig.ExpressionRootTree, sig.ExpressionRootFS = altRes.Tree, altRes.DirectFS
			}
		}
		sigs[name] = sig
	}
	partition, dedupErr := dedup.Compute(g, sigs)
	if dedupErr != nil {
		fmt.Fprintf(os.Stderr, "just-mr: computing equivalence classes: %v\n", dedupErr)
		return errs.KindInternal.ExitCode()
	}
	dedup.Apply(g, partition)

	if werr := config.Write(rf.outPath, g); werr != nil {
		fmt.Fprintf(os.Stderr, "just-mr: writing output lockfile: %v\n", werr)
		return errs.KindInternal.ExitCode()
	}

	report.PrintRepoTable(os.Stderr, g, partition, cw)

	if rf.reportPath != "" {
		summary := report.Summary{
			EquivalenceClasses: report.EquivalenceClasses(partition),
		}
		for name := range g.Repos {
			summary.RepositoriesAdded = append(summary.RepositoriesAdded, name)
		}
		if err := report.WriteHTMLReport(rf.reportPath, summary); err != nil {
			fmt.Fprintf(os.Stderr, "just-mr: writing resolution report: %v\n", err)
		}
	}

	if rf.fetchOnly {
		if err != nil {
			return errs.KindCheckout.ExitCode()
		}
		return 0
	}

	targets := make(map[string]materialize.Target, len(g.Repos))
	for name := range g.Repos {
		res, rerr := orchestrator.ResolveTreeFor(g, results, name)
		if rerr != nil {
			continue
		}
		targets[name] = materialize.Target{
			Tree:     res.Tree,
			DirectFS: res.DirectFS,
			Dest:     filepath.Join(rf.dest, name),
		}
	}

	cloneCtx, cancel := context.WithTimeout(ctx, 30*time.Minute)
	defer cancel()
	if cloneErr := orch.RunClones(cloneCtx, targets); cloneErr != nil {
		fmt.Fprintf(os.Stderr, "just-mr: clone failures:\n%v\n", cloneErr)
		return errs.KindCheckout.ExitCode()
	}

	if err != nil {
		return errs.KindCheckout.ExitCode()
	}
	return 0
}
