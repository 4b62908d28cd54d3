package compile

import "errors"

var (
	// ErrSyntax indicates the cross compiler rejected a source module.
	// The wrapped detail carries the compiler's own diagnostics.
	ErrSyntax = errors.New("compile: source rejected")

	// ErrABIUnsupported indicates no compiler invocation is known for
	// the hub's bytecode ABI.
	ErrABIUnsupported = errors.New("compile: unsupported bytecode abi")
)
