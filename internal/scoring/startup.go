package scoring

import (
	"context"
	"fmt"
	"io"
	"os"
)

// EnsureReady reports whether a runtime, the scoring script, and the model
// artifact are present. Nothing here is fatal; a missing piece only means
// predictions will fail until it is installed.
func EnsureReady(ctx context.Context, inv *Invoker, w io.Writer) bool {
	ready := true

	runtime, err := Probe(ctx, inv.cfg.Runtimes)
	if err != nil {
		fmt.Fprintf(w, "runtime: %v\n", err)
		ready = false
	} else {
		fmt.Fprintf(w, "runtime %s: ready\n", runtime)
	}

	for _, a := range []struct{ label, path string }{
		{"script", inv.cfg.ScriptPath},
		{"model", inv.cfg.ModelPath},
	} {
		if a.path == "" {
			fmt.Fprintf(w, "%s: not configured\n", a.label)
			ready = false
			continue
		}
		if _, err := os.Stat(a.path); err != nil {
			fmt.Fprintf(w, "%s %s: missing\n", a.label, a.path)
			ready = false
			continue
		}
		fmt.Fprintf(w, "%s %s: ready\n", a.label, a.path)
	}
	return ready
}
