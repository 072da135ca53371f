package prov

import (
	"fmt"

	"github.com/Masterminds/semver/v3"
)

var supported = semver.MustParse(FormatVersion)

// CheckFormat reports whether a document written in format can be read.
// Any version with the same major number as FormatVersion is accepted.
func CheckFormat(format string) error {
	if format == "" {
		return fmt.Errorf("document has no format version")
	}
	v, err := semver.NewVersion(format)
	if err != nil {
		return fmt.Errorf("invalid format version %q: %w", format, err)
	}
	if v.Major() != supported.Major() {
		return fmt.Errorf("unsupported format version %s (supported: %d.x)", v, supported.Major())
	}
	return nil
}
