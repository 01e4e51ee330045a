package checkout

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/justbuild-go/just-mr/internal/errs"
)

// GenericCommand is a root materialized by running a user-supplied command
// in a fresh scratch directory, as spec.md §4.5's "generic" checkout kind.
// It is kept distinct from GitTree even though both run an arbitrary
// command: a GitTree's result is pinned to a known tree id up front, while
// a GenericCommand always stages whatever the command produced.
type GenericCommand struct {
	Command []string
	Env     map[string]string
	Inherit map[string]string
}

// CheckoutGeneric runs cmd.Command in a fresh directory and stages the
// resulting tree.
func CheckoutGeneric(ctx context.Context, env Env, cmd GenericCommand) (Result, error) {
	scratch, err := os.MkdirTemp(env.WorkDir, "generic-*")
	if err != nil {
		return Result{}, errs.Wrap(errs.KindInternal, "creating generic command scratch directory", err)
	}
	defer os.RemoveAll(scratch)

	if len(cmd.Command) == 0 {
		return Result{}, errs.New(errs.KindConfig, "generic checkout root has no command")
	}

	if _, err := env.Launch.Run(ctx, scratch, cmd.Env, 10*time.Minute, cmd.Command...); err != nil {
		return Result{}, errs.Wrap(errs.KindCheckout, fmt.Sprintf("running generic command %v", cmd.Command), err)
	}

	tree, err := stageDirectoryTree(env, scratch)
	if err != nil {
		return Result{}, errs.Wrap(errs.KindCache, "staging generic command output", err)
	}
	return Result{Tree: tree}, nil
}
