package errors

import (
	"encoding/json"
	"fmt"
	"strings"
)

// FormatForCLI formats an error for terminal output.
// Non-FixError values are reported as internal errors.
func FormatForCLI(err error) string {
	if err == nil {
		return ""
	}

	fe, ok := As(err)
	if !ok {
		fe = Wrap(ErrCodeInternal, err)
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Error: %s\n", fe.Message))
	if fe.Cause != nil && fe.Cause.Error() != fe.Message {
		sb.WriteString(fmt.Sprintf("  Cause: %v\n", fe.Cause))
	}
	if fe.Suggestion != "" {
		sb.WriteString(fmt.Sprintf("  Hint: %s\n", fe.Suggestion))
	}
	sb.WriteString(fmt.Sprintf("  Code: %s\n", fe.Code))

	return sb.String()
}

// jsonError is the JSON representation of an error.
type jsonError struct {
	Code       string            `json:"code"`
	Message    string            `json:"message"`
	Category   string            `json:"category"`
	Severity   string            `json:"severity"`
	Details    map[string]string `json:"details,omitempty"`
	Suggestion string            `json:"suggestion,omitempty"`
	Cause      string            `json:"cause,omitempty"`
	Retryable  bool              `json:"retryable"`
}

// FormatJSON returns a JSON representation of the error for --json output.
func FormatJSON(err error) ([]byte, error) {
	if err == nil {
		return json.Marshal(nil)
	}

	fe, ok := As(err)
	if !ok {
		fe = Wrap(ErrCodeInternal, err)
	}

	je := jsonError{
		Code:       fe.Code,
		Message:    fe.Message,
		Category:   string(fe.Category),
		Severity:   string(fe.Severity),
		Details:    fe.Details,
		Suggestion: fe.Suggestion,
		Retryable:  fe.Retryable,
	}
	if fe.Cause != nil {
		je.Cause = fe.Cause.Error()
	}

	return json.Marshal(je)
}
