package compile

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/nbirch/hublink/internal/bundle"
	"github.com/nbirch/hublink/internal/protocol"
)

func writeProject(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, src := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(src), 0o600); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	return dir
}

func moduleNames(modules []Module) []string {
	names := make([]string, len(modules))
	for i, m := range modules {
		names[i] = m.Name
	}
	return names
}

func TestResolveGathersDirectImports(t *testing.T) {
	dir := writeProject(t, map[string]string{
		"robot.py":  "import motors\nfrom sensors import color\n\nmotors.spin()\n",
		"motors.py": "def spin():\n    pass\n",
		"sensors.py": "color = 1\n",
	})

	modules, err := Resolve(filepath.Join(dir, "robot.py"))
	if err != nil {
		t.Fatalf("Resolve() unexpected error: %v", err)
	}

	want := []string{"motors", "sensors", bundle.MainModule}
	if got := moduleNames(modules); !reflect.DeepEqual(got, want) {
		t.Errorf("modules = %v, want %v", got, want)
	}
}

func TestResolveEntryComesLast(t *testing.T) {
	dir := writeProject(t, map[string]string{
		"main.py": "import util\n",
		"util.py": "x = 1\n",
	})

	modules, err := Resolve(filepath.Join(dir, "main.py"))
	if err != nil {
		t.Fatalf("Resolve() unexpected error: %v", err)
	}
	if last := modules[len(modules)-1].Name; last != bundle.MainModule {
		t.Errorf("last module = %q, want %q", last, bundle.MainModule)
	}
}

func TestResolveSkipsBuiltinImports(t *testing.T) {
	dir := writeProject(t, map[string]string{
		"main.py": "from pybricks.hubs import PrimeHub\nimport umath\n",
	})

	modules, err := Resolve(filepath.Join(dir, "main.py"))
	if err != nil {
		t.Fatalf("Resolve() unexpected error: %v", err)
	}
	if len(modules) != 1 {
		t.Errorf("modules = %v, want only the entry; builtins have no sibling file", moduleNames(modules))
	}
}

func TestResolveDeduplicatesImports(t *testing.T) {
	dir := writeProject(t, map[string]string{
		"main.py": "import util\nimport util\nfrom util import helper\n",
		"util.py": "helper = 1\n",
	})

	modules, err := Resolve(filepath.Join(dir, "main.py"))
	if err != nil {
		t.Fatalf("Resolve() unexpected error: %v", err)
	}
	want := []string{"util", bundle.MainModule}
	if got := moduleNames(modules); !reflect.DeepEqual(got, want) {
		t.Errorf("modules = %v, want %v", got, want)
	}
}

func TestResolveHandlesImportAs(t *testing.T) {
	dir := writeProject(t, map[string]string{
		"main.py":   "import helpers as h\n",
		"helpers.py": "x = 1\n",
	})

	modules, err := Resolve(filepath.Join(dir, "main.py"))
	if err != nil {
		t.Fatalf("Resolve() unexpected error: %v", err)
	}
	want := []string{"helpers", bundle.MainModule}
	if got := moduleNames(modules); !reflect.DeepEqual(got, want) {
		t.Errorf("modules = %v, want %v", got, want)
	}
}

func TestResolveIsOneLevelDeep(t *testing.T) {
	dir := writeProject(t, map[string]string{
		"main.py": "import a\n",
		"a.py":    "import b\n",
		"b.py":    "x = 1\n",
	})

	modules, err := Resolve(filepath.Join(dir, "main.py"))
	if err != nil {
		t.Fatalf("Resolve() unexpected error: %v", err)
	}
	for _, m := range modules {
		if m.Name == "b" {
			t.Error("transitive import resolved; resolution must stop at the entry's own imports")
		}
	}
}

func TestResolveMissingEntry(t *testing.T) {
	if _, err := Resolve(filepath.Join(t.TempDir(), "absent.py")); err == nil {
		t.Error("Resolve() succeeded for a missing entry file")
	}
}

// fakeCompiler tags each module's bytecode with its name so Build order
// is observable.
type fakeCompiler struct {
	fail string
}

func (f fakeCompiler) Compile(_ context.Context, name string, _ []byte, _ protocol.ABIVersion) ([]byte, error) {
	if name == f.fail {
		return nil, ErrSyntax
	}
	return []byte("mpy:" + name), nil
}

func TestBuildPreservesModuleOrder(t *testing.T) {
	modules := []Module{
		{Name: "util", Source: []byte("x = 1\n")},
		{Name: bundle.MainModule, Source: []byte("import util\n")},
	}

	entries, err := Build(context.Background(), fakeCompiler{}, modules, protocol.ABI6)
	if err != nil {
		t.Fatalf("Build() unexpected error: %v", err)
	}
	if len(entries) != 2 || entries[0].Name != "util" || entries[1].Name != bundle.MainModule {
		t.Errorf("entries = %v, want module order preserved", entries)
	}
	if string(entries[0].Bytecode) != "mpy:util" {
		t.Errorf("bytecode = %q, want the compiler output", entries[0].Bytecode)
	}
}

func TestBuildPropagatesCompilerError(t *testing.T) {
	modules := []Module{
		{Name: "bad", Source: []byte("def\n")},
		{Name: bundle.MainModule, Source: []byte("import bad\n")},
	}

	_, err := Build(context.Background(), fakeCompiler{fail: "bad"}, modules, protocol.ABI6)
	if !errors.Is(err, ErrSyntax) {
		t.Errorf("Build() error = %v, want ErrSyntax passed through", err)
	}
}

func TestCrossCompilerUnknownABI(t *testing.T) {
	c := NewCrossCompiler("", "")
	_, err := c.Compile(context.Background(), "main", []byte("x = 1\n"), protocol.ABIUnknown)
	if !errors.Is(err, ErrABIUnsupported) {
		t.Errorf("Compile() error = %v, want ErrABIUnsupported", err)
	}
}
