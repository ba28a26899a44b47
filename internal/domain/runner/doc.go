// Package runner executes user-submitted programs and returns their output.
//
// Each request gets a fresh workspace directory named by a UUID, so
// concurrent runs of the same language never share a file. A language maps
// to a fixed compile and run command sequence; no shell is involved and no
// user input reaches the argument list. Every child is placed in its own
// process group and the whole tree is killed when the deadline expires.
//
// Outcomes:
//   - success: stdout, or "No output"
//   - compile: "Compilation failed:" followed by the compiler's diagnostics
//   - runtime: "Runtime error:" followed by stderr
//   - timeout: "Timed out after <deadline>"
//   - unsupported: the language tag is not recognised
//   - internal: the workspace or process could not be set up
//
// Toolchain binaries can be overridden per language with a YAML or TOML
// file. JavaScript can optionally run in an embedded goja VM instead of node.
package runner
