package population

import (
	"fmt"

	"github.com/pkg/errors"
)

// ConfigurationError reports a missing calibration, mismatched volume
// dimensions or an invalid threshold.  It is never silently corrected.
type ConfigurationError struct {
	Op     string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("%s: configuration error: %s", e.Op, e.Reason)
}

// GeometryError reports a broken modeling invariant: an object whose cached
// bounding box disagrees with its voxels, an empty object, or a label
// collision inside a population.  It indicates a bug, not bad input.
type GeometryError struct {
	Op     string
	Label  uint32
	Reason string
}

func (e *GeometryError) Error() string {
	return fmt.Sprintf("%s: geometry inconsistency on label %d: %s", e.Op, e.Label, e.Reason)
}

// ConfigErrorf returns a *ConfigurationError for the given operation.
func ConfigErrorf(op, format string, args ...interface{}) error {
	return &ConfigurationError{Op: op, Reason: fmt.Sprintf(format, args...)}
}

func geometryErrorf(op string, label uint32, format string, args ...interface{}) error {
	return &GeometryError{Op: op, Label: label, Reason: fmt.Sprintf(format, args...)}
}

// IsConfigurationError returns true if err or anything it wraps is a
// *ConfigurationError.
func IsConfigurationError(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}

// IsGeometryError returns true if err or anything it wraps is a
// *GeometryError.
func IsGeometryError(err error) bool {
	var ge *GeometryError
	return errors.As(err, &ge)
}

// Report summarizes an operation that may remove objects from a population.
// EmptyInput marks the legitimate no-op on an empty population or an empty
// reference volume, as opposed to a failure.
type Report struct {
	Op         string
	Before     int
	Removed    int
	EmptyInput bool
}

// After returns the number of objects left after the operation.
func (r Report) After() int {
	return r.Before - r.Removed
}

func (r Report) String() string {
	if r.EmptyInput {
		return fmt.Sprintf("%s: empty input, nothing done", r.Op)
	}
	return fmt.Sprintf("%s: %d -> %d objects (%d removed)", r.Op, r.Before, r.After(), r.Removed)
}
