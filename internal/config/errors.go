package config

import "fmt"

// FieldError names the offending field path and reason, letting the CLI
// report config mistakes precisely.
type FieldError struct {
	Field  string
	Reason string
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func newFieldError(field, reason string) error {
	return FieldError{Field: field, Reason: reason}
}

// groupField formats a Group-scoped field path as Group[prefix].Field.
func groupField(prefix, field string) string {
	if prefix == "" {
		return fmt.Sprintf("Group[].%s", field)
	}
	return fmt.Sprintf("Group[%s].%s", prefix, field)
}
