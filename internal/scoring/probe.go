package scoring

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

// DefaultRuntimes are the interpreter names probed when none are configured.
var DefaultRuntimes = []string{"python3", "python", "py"}

const probeTimeout = 5 * time.Second

// ErrNoRuntime is returned by Probe when none of the candidates responds.
var ErrNoRuntime = errors.New("no scoring runtime found")

// Probe runs "<name> --version" for every candidate concurrently and returns
// the first name, in the given order, that exits successfully.
func Probe(ctx context.Context, runtimes []string) (string, error) {
	if len(runtimes) == 0 {
		return "", fmt.Errorf("%w: no runtimes configured", ErrNoRuntime)
	}

	ok := make([]bool, len(runtimes))
	g, gctx := errgroup.WithContext(ctx)
	for i, name := range runtimes {
		g.Go(func() error {
			pctx, cancel := context.WithTimeout(gctx, probeTimeout)
			defer cancel()
			ok[i] = exec.CommandContext(pctx, name, "--version").Run() == nil
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return "", err
	}
	for i, found := range ok {
		if found {
			return runtimes[i], nil
		}
	}
	return "", fmt.Errorf("%w (tried %s)", ErrNoRuntime, strings.Join(runtimes, ", "))
}
