// Package conversion collects and validates the options of a single
// conversion run. A Request can only be obtained from Validate and is
// immutable; a failed validation lists every violated constraint.
package conversion
