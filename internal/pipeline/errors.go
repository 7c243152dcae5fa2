package pipeline

import "fmt"

// Failures sort into four classes. Only ConfigError escapes Run as a
// returned error; the other three surface as a failed stage inside the
// Result, classified by their message prefix.

// ConfigError marks input the runner cannot start with: a bad site or
// season, an unwritable storage root, an unknown stage name.
type ConfigError struct {
	Err error
}

func (e *ConfigError) Error() string { return "config: " + e.Err.Error() }

func (e *ConfigError) Unwrap() error { return e.Err }

func configf(format string, args ...any) error {
	return &ConfigError{Err: fmt.Errorf(format, args...)}
}

// TransientUnitError marks network or timeout failures on individual
// work units. The units that did succeed stay on disk, so the next
// invocation retries only the missing ones.
type TransientUnitError struct {
	Done     int
	Expected int
	Err      error
}

func (e *TransientUnitError) Error() string {
	return fmt.Sprintf("transient: %d of %d units done: %v", e.Done, e.Expected, e.Err)
}

func (e *TransientUnitError) Unwrap() error { return e.Err }

// DataIntegrityError marks malformed rasters, grid mismatches and
// missing upstream artifacts. The owning stage fails without a record;
// earlier stages stay untouched.
type DataIntegrityError struct {
	Err error
}

func (e *DataIntegrityError) Error() string { return "integrity: " + e.Err.Error() }

func (e *DataIntegrityError) Unwrap() error { return e.Err }

func integrityf(format string, args ...any) error {
	return &DataIntegrityError{Err: fmt.Errorf(format, args...)}
}

// AlgorithmError marks a failure inside the external fusion transform.
// It fails the fuse stage only.
type AlgorithmError struct {
	Err error
}

func (e *AlgorithmError) Error() string { return "algorithm: " + e.Err.Error() }

func (e *AlgorithmError) Unwrap() error { return e.Err }
