// Package errs defines the error taxonomy used throughout the pipeline
// (§7) so stages can distinguish recoverable, per-item failures from
// fatal ones without parsing error strings.
package errs

import "errors"

// Class identifies which row of the §7 taxonomy an error belongs to.
type Class string

const (
	ClassTransientNetwork Class = "transient_network"
	ClassAntiBotBlock     Class = "anti_bot_block"
	ClassParse            Class = "parse"
	ClassAPIQuota         Class = "api_quota"
	ClassConfig           Class = "config"
	ClassDBIntegrity      Class = "db_integrity"
)

// Error wraps an underlying cause with its taxonomy class.
type Error struct {
	Class Class
	Msg   string
	Cause error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Msg + ": " + e.Cause.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Cause }

func newErr(class Class, msg string, cause error) *Error {
	return &Error{Class: class, Msg: msg, Cause: cause}
}

// TransientNetwork wraps a DNS/timeout/5xx failure. Retried with backoff
// by the caller; after exhaustion it is recorded as a stage-local failure
// and the property proceeds with partial data.
func TransientNetwork(msg string, cause error) *Error { return newErr(ClassTransientNetwork, msg, cause) }

// AntiBotBlock signals a short-HTML/challenge-page response. The browser
// driver waits, scrolls and retries once; three consecutive blocks abandon
// the current area. The driver does not reset its profile on a block.
func AntiBotBlock(msg string) *Error { return newErr(ClassAntiBotBlock, msg, nil) }

// Parse signals a missing required field; the property is dropped from
// this run.
func Parse(msg string, cause error) *Error { return newErr(ClassParse, msg, cause) }

// APIQuota signals a provider-reported over-limit condition; not fatal,
// the stage continues with nulls for the remaining properties.
func APIQuota(msg string) *Error { return newErr(ClassAPIQuota, msg, nil) }

// Config signals a missing required setting (e.g. an API key for an
// enabled stage); fatal at startup.
func Config(msg string) *Error { return newErr(ClassConfig, msg, nil) }

// DBIntegrity signals a failed write; the offending row is logged and
// skipped, and the sweep goes on with the next row. Rows are not grouped
// into a batch transaction, so no other row is rolled back.
func DBIntegrity(msg string, cause error) *Error { return newErr(ClassDBIntegrity, msg, cause) }

// Is reports whether err (or any error it wraps) belongs to class.
func Is(err error, class Class) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Class == class
	}
	return false
}

// IsFatal reports whether err should abort the current sweep and
// propagate to the CLI with a non-zero exit. Only ConfigError reports
// true; every other class, DB errors included, reports false.
func IsFatal(err error) bool {
	return Is(err, ClassConfig)
}
