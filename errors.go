package compleconta

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
)

// Sentinel errors for the common failure conditions.
// These errors can be used with errors.Is() for error checking.
var (
	// ErrTaxonNotFound indicates a taxid is absent from the loaded taxonomy.
	ErrTaxonNotFound = errors.New("taxon not found")

	// ErrMalformedDump indicates the taxonomy dump files are inconsistent or
	// cannot be parsed.
	ErrMalformedDump = errors.New("malformed taxonomy dump")

	// ErrCandidateLookup indicates that candidate taxids for a sequence could
	// not be obtained. It never means "no hits".
	ErrCandidateLookup = errors.New("candidate lookup failed")

	// ErrInvalidConfig indicates the provided configuration is invalid or incomplete.
	ErrInvalidConfig = errors.New("invalid configuration")
)

// Error kinds categorize errors by their type.
const (
	// KindNotFound represents lookups of taxids that are not in the store.
	KindNotFound = "not_found"

	// KindParse represents errors building the store from dump files.
	KindParse = "parse"

	// KindCandidateLookup represents failures of the sequence search collaborator.
	KindCandidateLookup = "candidate_lookup"

	// KindConfiguration represents errors related to configuration.
	KindConfiguration = "configuration"

	// KindTimeout represents errors related to operation timeouts.
	KindTimeout = "timeout"

	// KindExecution represents failures running an external program.
	KindExecution = "execution"

	// KindInternal represents broken internal invariants.
	KindInternal = "internal"
)

// Error is a structured error that wraps an underlying error with the
// operation that failed and the category of the failure.
//
// Error supports unwrapping, so errors.Is() and errors.As() see through it.
//
//	err := &Error{
//		Op:   "taxonomy.Build",
//		Kind: KindParse,
//		Err:  ErrMalformedDump,
//	}
type Error struct {
	// Op is the operation that failed (e.g., "taxonomy.Store.Node", "lca.Compute").
	Op string

	// Kind categorizes the error (e.g., KindNotFound, KindParse).
	Kind string

	// Err is the underlying error that caused this error.
	Err error

	// Context carries optional debugging details such as taxids or line numbers.
	Context map[string]any
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("compleconta: %s: %s", e.Op, e.Kind)
	}

	if len(e.Context) > 0 {
		return fmt.Sprintf("compleconta: %s (%s): %v [context: %+v]", e.Op, e.Kind, e.Err, e.Context)
	}

	return fmt.Sprintf("compleconta: %s (%s): %v", e.Op, e.Kind, e.Err)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error by Kind (and Op, when the target sets one),
// then falls back to the wrapped error.
func (e *Error) Is(target error) bool {
	if target == nil {
		return false
	}

	if t, ok := target.(*Error); ok {
		if t.Kind != "" && e.Kind == t.Kind {
			if t.Op == "" || e.Op == t.Op {
				return true
			}
		}
	}

	return errors.Is(e.Err, target)
}

// WithContext returns a copy of the error with the given entries merged
// into its context.
//
//	err = NewNotFoundError("taxonomy.Store.Node", ErrTaxonNotFound).
//		WithContext(map[string]any{"taxid": 562})
func (e *Error) WithContext(ctx map[string]any) *Error {
	newErr := *e
	newErr.Context = make(map[string]any, len(e.Context)+len(ctx))
	for k, v := range e.Context {
		newErr.Context[k] = v
	}
	for k, v := range ctx {
		newErr.Context[k] = v
	}
	return &newErr
}

// NewNotFoundError creates a new Error with KindNotFound.
func NewNotFoundError(op string, err error) *Error {
	return &Error{Op: op, Kind: KindNotFound, Err: err}
}

// NewParseError creates a new Error with KindParse.
func NewParseError(op string, err error) *Error {
	return &Error{Op: op, Kind: KindParse, Err: err}
}

// NewCandidateLookupError creates a new Error with KindCandidateLookup.
func NewCandidateLookupError(op string, err error) *Error {
	return &Error{Op: op, Kind: KindCandidateLookup, Err: err}
}

// NewConfigurationError creates a new Error with KindConfiguration.
func NewConfigurationError(op string, err error) *Error {
	return &Error{Op: op, Kind: KindConfiguration, Err: err}
}

// NewTimeoutError creates a new Error with KindTimeout.
func NewTimeoutError(op string, err error) *Error {
	return &Error{Op: op, Kind: KindTimeout, Err: err}
}

// NewExecutionError creates a new Error with KindExecution.
func NewExecutionError(op string, err error) *Error {
	return &Error{Op: op, Kind: KindExecution, Err: err}
}

// NewInternalError creates a new Error with KindInternal.
func NewInternalError(op string, err error) *Error {
	return &Error{Op: op, Kind: KindInternal, Err: err}
}

// IsNotFound reports whether err is a lookup of an unknown taxid.
func IsNotFound(err error) bool {
	return errors.Is(err, &Error{Kind: KindNotFound}) || errors.Is(err, ErrTaxonNotFound)
}

// IsParse reports whether err comes from building a store out of dump files.
func IsParse(err error) bool {
	return errors.Is(err, &Error{Kind: KindParse}) || errors.Is(err, ErrMalformedDump)
}

// IsCandidateLookup reports whether err is a search collaborator failure.
func IsCandidateLookup(err error) bool {
	return errors.Is(err, &Error{Kind: KindCandidateLookup}) || errors.Is(err, ErrCandidateLookup)
}

// KindOf returns the Kind of the first *Error in err's chain, or "" if there
// is none.
func KindOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// CloseWithLog closes the resource and logs any error at warning level.
// Intended for defer statements. If logger is nil, slog.Default() is used.
//
//	defer compleconta.CloseWithLog(f, logger, "nodes.dmp")
func CloseWithLog(closer io.Closer, logger *slog.Logger, name string) {
	if closer == nil {
		return
	}

	if logger == nil {
		logger = slog.Default()
	}

	if err := closer.Close(); err != nil {
		logger.Warn("failed to close resource",
			"resource", name,
			"error", err)
	}
}
