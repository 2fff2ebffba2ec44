package preflight

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Aman-CERP/fixrecall/internal/config"
)

// CheckStatus represents the result of a preflight check.
type CheckStatus int

const (
	// StatusPass indicates the check passed successfully.
	StatusPass CheckStatus = iota
	// StatusWarn indicates a non-critical warning.
	StatusWarn
	// StatusFail indicates the check failed.
	StatusFail
)

// String returns the string representation of a CheckStatus.
func (s CheckStatus) String() string {
	switch s {
	case StatusPass:
		return "PASS"
	case StatusWarn:
		return "WARN"
	case StatusFail:
		return "FAIL"
	default:
		return "UNKNOWN"
	}
}

// MarshalText renders the status by name in JSON output.
func (s CheckStatus) MarshalText() ([]byte, error) {
	return []byte(strings.ToLower(s.String())), nil
}

// CheckResult holds the result of a single preflight check.
type CheckResult struct {
	Name     string      `json:"name"`
	Status   CheckStatus `json:"status"`
	Message  string      `json:"message"`
	Details  string      `json:"details,omitempty"`
	Required bool        `json:"required"`
}

// IsCritical returns true if this is a required check that failed.
func (r CheckResult) IsCritical() bool {
	return r.Required && r.Status == StatusFail
}

// ModelProbe is anything backed by a model that can report reachability.
type ModelProbe interface {
	ModelName() string
	Available(ctx context.Context) bool
}

// Probe names a model dependency for CheckModel. Required probes fail the
// run when unreachable; optional ones only warn.
type Probe struct {
	Role     string
	Model    ModelProbe
	Required bool
}

// Checker performs preflight validation checks.
type Checker struct {
	verbose      bool
	output       io.Writer
	probeTimeout time.Duration
	getenv       func(string) string
}

// Option configures a Checker.
type Option func(*Checker)

// WithVerbose enables verbose output.
func WithVerbose(verbose bool) Option {
	return func(c *Checker) {
		c.verbose = verbose
	}
}

// WithOutput sets the output writer.
func WithOutput(w io.Writer) Option {
	return func(c *Checker) {
		c.output = w
	}
}

// WithProbeTimeout bounds each model reachability probe.
func WithProbeTimeout(d time.Duration) Option {
	return func(c *Checker) {
		if d > 0 {
			c.probeTimeout = d
		}
	}
}

// New creates a new Checker with the given options.
func New(opts ...Option) *Checker {
	c := &Checker{
		output:       os.Stdout,
		probeTimeout: 3 * time.Second,
		getenv:       os.Getenv,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RunAll checks the data directory, the configured sources and every model
// probe.
func (c *Checker) RunAll(ctx context.Context, cfg *config.Config, probes ...Probe) []CheckResult {
	dataDir := cfg.Storage.DataDir

	results := []CheckResult{
		c.CheckWritePermissions(dataDir),
		c.CheckDiskSpace(dataDir),
		c.CheckFileDescriptors(len(cfg.Sources.Local)),
	}
	results = append(results, c.CheckLocalSources(cfg.Sources.Local)...)
	results = append(results, c.CheckRemoteSources(cfg.Sources)...)
	for _, p := range probes {
		results = append(results, c.CheckModel(ctx, p))
	}
	return results
}

// HasCriticalFailures returns true if any required check failed.
func (c *Checker) HasCriticalFailures(results []CheckResult) bool {
	for _, r := range results {
		if r.IsCritical() {
			return true
		}
	}
	return false
}

// SummaryStatus returns a summary status string for the results.
func (c *Checker) SummaryStatus(results []CheckResult) string {
	hasWarnings := false
	hasCriticalFailure := false

	for _, r := range results {
		if r.IsCritical() {
			hasCriticalFailure = true
		}
		if r.Status == StatusWarn || (r.Status == StatusFail && !r.Required) {
			hasWarnings = true
		}
	}

	if hasCriticalFailure {
		return "failed"
	}
	if hasWarnings {
		return "ready_with_warnings"
	}
	return "ready"
}

// PrintResults prints check results to the configured output.
func (c *Checker) PrintResults(results []CheckResult) {
	_, _ = fmt.Fprintln(c.output, "fixrecall doctor")
	_, _ = fmt.Fprintln(c.output, "================")
	_, _ = fmt.Fprintln(c.output)

	for _, r := range results {
		_, _ = fmt.Fprintf(c.output, "[%s] %s: %s\n", r.Status, r.Name, r.Message)
		if c.verbose && r.Details != "" {
			_, _ = fmt.Fprintf(c.output, "      %s\n", r.Details)
		}
	}

	_, _ = fmt.Fprintln(c.output)
	_, _ = fmt.Fprintf(c.output, "Status: %s\n", strings.ToUpper(c.SummaryStatus(results)))

	var warnings, errors []string
	for _, r := range results {
		if r.IsCritical() {
			errors = append(errors, r.Name+": "+r.Message)
		} else if r.Status != StatusPass {
			warnings = append(warnings, r.Name+": "+r.Message)
		}
	}

	if len(errors) > 0 {
		_, _ = fmt.Fprintln(c.output)
		_, _ = fmt.Fprintf(c.output, "%d error(s):\n", len(errors))
		for _, e := range errors {
			_, _ = fmt.Fprintf(c.output, "  - %s\n", e)
		}
	}

	if len(warnings) > 0 {
		_, _ = fmt.Fprintln(c.output)
		_, _ = fmt.Fprintf(c.output, "%d warning(s):\n", len(warnings))
		for _, w := range warnings {
			_, _ = fmt.Fprintf(c.output, "  - %s\n", w)
		}
	}
}

// CheckWritePermissions checks that the data directory exists or can be
// created, and is writable.
func (c *Checker) CheckWritePermissions(path string) CheckResult {
	result := CheckResult{
		Name:     "data_dir",
		Required: true,
	}

	if err := os.MkdirAll(path, 0o755); err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("cannot create %s: %v", path, err)
		return result
	}

	f, err := os.CreateTemp(path, ".fixrecall-preflight-*")
	if err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("permission denied: %v", err)
		return result
	}
	name := f.Name()
	_ = f.Close()
	_ = os.Remove(name)

	result.Status = StatusPass
	result.Message = path
	return result
}

// CheckLocalSources reports one result per local source directory.
func (c *Checker) CheckLocalSources(sources []config.LocalSourceConfig) []CheckResult {
	results := make([]CheckResult, 0, len(sources))
	for _, s := range sources {
		result := CheckResult{Name: "source:" + filepath.Base(s.Path)}
		info, err := os.Stat(s.Path)
		switch {
		case err != nil:
			result.Status = StatusWarn
			result.Message = fmt.Sprintf("%s is not readable", s.Path)
			result.Details = err.Error()
		case !info.IsDir():
			result.Status = StatusWarn
			result.Message = fmt.Sprintf("%s is not a directory", s.Path)
		default:
			result.Status = StatusPass
			result.Message = s.Path
			if len(s.Extensions) > 0 {
				result.Details = "extensions: " + strings.Join(s.Extensions, ", ")
			}
		}
		results = append(results, result)
	}
	return results
}

// CheckRemoteSources warns about GitHub sources whose token variable is
// named but empty. Public repositories still work without one.
func (c *Checker) CheckRemoteSources(sources config.SourcesConfig) []CheckResult {
	var results []CheckResult
	check := func(kind string, gh config.GitHubSourceConfig) {
		result := CheckResult{Name: kind + ":" + gh.Name(), Status: StatusPass, Message: "anonymous access"}
		if gh.TokenEnv != "" {
			if c.getenv(gh.TokenEnv) == "" {
				result.Status = StatusWarn
				result.Message = fmt.Sprintf("$%s is empty", gh.TokenEnv)
				result.Details = "Unauthenticated requests are limited to 60 per hour"
			} else {
				result.Message = "token from $" + gh.TokenEnv
			}
		}
		results = append(results, result)
	}
	for _, gh := range sources.IssueTrackers {
		check("issues", gh)
	}
	for _, gh := range sources.Wikis {
		check("wiki", gh)
	}
	return results
}

// CheckModel probes one model dependency.
func (c *Checker) CheckModel(ctx context.Context, p Probe) CheckResult {
	result := CheckResult{Name: p.Role, Required: p.Required}
	if p.Model == nil {
		result.Status = StatusPass
		result.Message = "disabled"
		return result
	}

	probeCtx, cancel := context.WithTimeout(ctx, c.probeTimeout)
	defer cancel()
	if p.Model.Available(probeCtx) {
		result.Status = StatusPass
		result.Message = p.Model.ModelName()
		return result
	}

	result.Status = StatusFail
	if !p.Required {
		result.Status = StatusWarn
	}
	result.Message = fmt.Sprintf("%s is unreachable", p.Model.ModelName())
	result.Details = "Is Ollama running, and has the model been pulled?"
	return result
}
