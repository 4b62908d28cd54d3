package compile

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/nbirch/hublink/internal/bundle"
)

// Module is one source file scheduled for compilation.
type Module struct {
	Name   string
	Source []byte
}

// Resolve reads the entry source and gathers its direct imports that
// exist as sibling files. Resolution is one level deep: imports of
// imported modules are the hub firmware's problem, not the downloader's.
// Modules come back in first-import order with the entry last, renamed to
// the bundle's main module.
func Resolve(entryPath string) ([]Module, error) {
	source, err := os.ReadFile(entryPath)
	if err != nil {
		return nil, fmt.Errorf("compile: read entry: %w", err)
	}

	dir := filepath.Dir(entryPath)
	var modules []Module
	seen := make(map[string]bool)

	for _, name := range scanImports(source) {
		if seen[name] {
			continue
		}
		seen[name] = true

		path := filepath.Join(dir, name+".py")
		src, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				// A firmware builtin or hub-side module.
				continue
			}
			return nil, fmt.Errorf("compile: read import %s: %w", name, err)
		}
		modules = append(modules, Module{Name: name, Source: src})
	}

	return append(modules, Module{Name: bundle.MainModule, Source: source}), nil
}

// scanImports extracts imported module names from top-level import lines.
func scanImports(source []byte) []string {
	var names []string
	sc := bufio.NewScanner(bytes.NewReader(source))
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "import "):
			for _, part := range strings.Split(line[len("import "):], ",") {
				name := strings.TrimSpace(part)
				// "import x as y" binds y but loads x.
				if i := strings.Index(name, " as "); i >= 0 {
					name = name[:i]
				}
				if name != "" {
					names = append(names, name)
				}
			}
		case strings.HasPrefix(line, "from "):
			rest := line[len("from "):]
			if i := strings.Index(rest, " import"); i >= 0 {
				if name := strings.TrimSpace(rest[:i]); name != "" {
					names = append(names, name)
				}
			}
		}
	}
	return names
}
