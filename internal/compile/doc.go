// Package compile turns program sources into hub bytecode. The resolver
// gathers the entry module's direct imports from the project directory;
// the cross compiler shells out to mpy-cross for each module.
package compile
