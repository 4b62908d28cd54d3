package compile

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/nbirch/hublink/internal/bundle"
	"github.com/nbirch/hublink/internal/protocol"
)

// Compiler produces hub bytecode for one source module.
type Compiler interface {
	Compile(ctx context.Context, name string, source []byte, abi protocol.ABIVersion) ([]byte, error)
}

// CrossCompiler shells out to mpy-cross. The two bytecode ABIs need
// different compiler releases, so each ABI maps to its own executable.
type CrossCompiler struct {
	commands map[protocol.ABIVersion]string
}

// Supports reports whether the cross compiler set can produce bytecode
// for the given ABI. Negotiation uses this to reject firmware whose only
// accepted format the client cannot build.
func Supports(abi protocol.ABIVersion) bool {
	switch abi {
	case protocol.ABI5, protocol.ABI6:
		return true
	default:
		return false
	}
}

// NewCrossCompiler selects the executables for each bytecode ABI. Empty
// paths fall back to the conventional names on PATH.
func NewCrossCompiler(abi6, abi5 string) *CrossCompiler {
	if abi6 == "" {
		abi6 = "mpy-cross"
	}
	if abi5 == "" {
		abi5 = "mpy-cross-v5"
	}
	return &CrossCompiler{
		commands: map[protocol.ABIVersion]string{
			protocol.ABI6: abi6,
			protocol.ABI5: abi5,
		},
	}
}

// Compile writes the source to a scratch directory, runs the matching
// mpy-cross and returns the bytecode. Compiler diagnostics surface
// through ErrSyntax.
func (c *CrossCompiler) Compile(ctx context.Context, name string, source []byte, abi protocol.ABIVersion) ([]byte, error) {
	command, ok := c.commands[abi]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrABIUnsupported, int(abi))
	}

	dir, err := os.MkdirTemp("", "hublink-mpy-*")
	if err != nil {
		return nil, fmt.Errorf("compile: scratch dir: %w", err)
	}
	defer os.RemoveAll(dir)

	srcPath := filepath.Join(dir, name+".py")
	outPath := filepath.Join(dir, name+".mpy")
	if err := os.WriteFile(srcPath, source, 0o600); err != nil {
		return nil, fmt.Errorf("compile: write source: %w", err)
	}

	cmd := exec.CommandContext(ctx, command, "-o", outPath, srcPath)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, fmt.Errorf("%w: %s: %s", ErrSyntax, name, strings.TrimSpace(stderr.String()))
		}
		return nil, fmt.Errorf("compile: run %s: %w", command, err)
	}

	bytecode, err := os.ReadFile(outPath)
	if err != nil {
		return nil, fmt.Errorf("compile: read bytecode: %w", err)
	}
	return bytecode, nil
}

// Build compiles every module and assembles the bundle entries in module
// order. The first compiler failure aborts the build; its error passes
// through untouched so callers can show the diagnostics verbatim.
func Build(ctx context.Context, c Compiler, modules []Module, abi protocol.ABIVersion) ([]bundle.Entry, error) {
	entries := make([]bundle.Entry, 0, len(modules))
	for _, m := range modules {
		bytecode, err := c.Compile(ctx, m.Name, m.Source, abi)
		if err != nil {
			return nil, err
		}
		entries = append(entries, bundle.Entry{Name: m.Name, Bytecode: bytecode})
	}
	return entries, nil
}
