// Package preflight checks that fixrecall can run before it touches any
// data: the data directory is writable with enough free space, the file
// descriptor limit is sane, every configured source is reachable and the
// Ollama models answer.
//
//	checker := preflight.New()
//	results := checker.RunAll(ctx, cfg, preflight.Probe{Role: "generation", Model: gen, Required: true})
//	if checker.HasCriticalFailures(results) {
//	    // Handle failures
//	}
package preflight
