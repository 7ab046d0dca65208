// Package diagnostics inspects the host a runner lives on: memory and disk
// headroom for the browser profile, stray browser processes holding the
// profile, and resource trends of a long-running process.
package diagnostics
