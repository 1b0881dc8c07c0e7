package task

import (
	"fmt"
	"regexp"
	"strings"
)

// ID represents a unique identifier for a task.
// This is a value object that enforces valid ID formats.
type ID string

var (
	// idPattern validates that the ID contains only alphanumeric characters and hyphens.
	// Must start with a letter, and can contain lowercase letters, numbers, and hyphens.
	idPattern = regexp.MustCompile(`^[a-z][a-z0-9-]*$`)

	// maxIDLength is the maximum allowed length for a task ID
	maxIDLength = 100
)

// NewID creates a new ID value object with validation
func NewID(value string) (ID, error) {
	id := ID(value)
	if err := id.Validate(); err != nil {
		return "", err
	}
	return id, nil
}

// FormatID builds a task ID from a project prefix and an allocated number,
// e.g. FormatID("tk", 42) == "tk-42".
func FormatID(prefix string, number int) ID {
	return ID(fmt.Sprintf("%s-%d", prefix, number))
}

// Validate checks if the task ID is valid
func (i ID) Validate() error {
	s := string(i)

	if s == "" {
		return fmt.Errorf("task ID cannot be empty")
	}

	if len(s) > maxIDLength {
		return fmt.Errorf("task ID %q exceeds maximum length of %d characters", s, maxIDLength)
	}

	if !idPattern.MatchString(s) {
		return fmt.Errorf("task ID %q must start with a letter and contain only lowercase letters, numbers, and hyphens", s)
	}

	if strings.Contains(s, "--") {
		return fmt.Errorf("task ID %q cannot contain consecutive hyphens", s)
	}

	if strings.HasSuffix(s, "-") {
		return fmt.Errorf("task ID %q cannot end with a hyphen", s)
	}

	return nil
}

// String returns the string representation
func (i ID) String() string {
	return string(i)
}
