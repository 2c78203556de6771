package labreport

import (
	"context"
	"errors"
)

// Sentinel errors identify the kind of a failure. Package-specific error
// types match them through an Is method, so callers classify with errors.Is.
var (
	ErrUnsupportedFormat = errors.New("unsupported format")
	ErrExtraction        = errors.New("extraction error")
	ErrConfiguration     = errors.New("configuration error")
	ErrModelUnavailable  = errors.New("model unavailable")
	ErrAPI               = errors.New("api error")
	ErrExecution         = errors.New("execution error")
	ErrExecutionTimeout  = errors.New("execution timeout")
)

type Kind string

const (
	KindUnsupportedFormat Kind = "UnsupportedFormat"
	KindExtraction        Kind = "ExtractionError"
	KindConfiguration     Kind = "ConfigurationError"
	KindModelUnavailable  Kind = "ModelUnavailable"
	KindAPI               Kind = "APIError"
	KindExecution         Kind = "ExecutionError"
	KindExecutionTimeout  Kind = "ExecutionTimeout"
	KindCancelled         Kind = "Cancelled"
	KindInternal          Kind = "InternalError"
)

var kinds = []struct {
	err  error
	kind Kind
}{
	{ErrUnsupportedFormat, KindUnsupportedFormat},
	{ErrExtraction, KindExtraction},
	{ErrConfiguration, KindConfiguration},
	{ErrModelUnavailable, KindModelUnavailable},
	{ErrAPI, KindAPI},
	{ErrExecutionTimeout, KindExecutionTimeout},
	{ErrExecution, KindExecution},
	{context.Canceled, KindCancelled},
	{context.DeadlineExceeded, KindCancelled},
}

// KindOf classifies err. Anything unrecognised is an InternalError.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindInternal
}

// ConfigurationError reports a missing or invalid setting, such as an API token.
type ConfigurationError struct {
	Setting string
	Reason  string
}

func (e ConfigurationError) Error() string {
	return "configuration error: " + e.Setting + ": " + e.Reason
}

func (e ConfigurationError) Is(target error) bool {
	return target == ErrConfiguration
}
