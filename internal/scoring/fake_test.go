package scoring

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

// fakeRuntime writes an interpreter stand-in that answers --version and
// otherwise runs its first argument as a shell script.
func fakeRuntime(t *testing.T, dir string) string {
	t.Helper()
	return writeScript(t, dir, "fakepython", `#!/bin/sh
if [ "$1" = "--version" ]; then
  echo "Python 3.11.4"
  exit 0
fi
exec /bin/sh "$@"
`)
}

func brokenRuntime(t *testing.T, dir string) string {
	t.Helper()
	return writeScript(t, dir, "brokenpython", "#!/bin/sh\nexit 127\n")
}

func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script fixtures need a POSIX shell")
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0o755); err != nil {
		t.Fatalf("writing %s: %v", name, err)
	}
	return path
}

// fixture prepares a runtime, a scoring script with the given body, a model
// artifact, and a dataset file.
type fixture struct {
	dir     string
	runtime string
	script  string
	model   string
	dataset string
}

func newFixture(t *testing.T, scriptBody string) fixture {
	t.Helper()
	dir := t.TempDir()
	f := fixture{
		dir:     dir,
		runtime: fakeRuntime(t, dir),
		script:  writeScript(t, dir, "predict.sh", scriptBody),
		model:   filepath.Join(dir, "model.pkl"),
		dataset: filepath.Join(dir, "data.xlsx"),
	}
	for _, p := range []string{f.model, f.dataset} {
		if err := os.WriteFile(p, []byte("x"), 0o600); err != nil {
			t.Fatal(err)
		}
	}
	return f
}

func (f fixture) config() Config {
	return Config{
		Runtimes:   []string{f.runtime},
		ScriptPath: f.script,
		ModelPath:  f.model,
	}
}
