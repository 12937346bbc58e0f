package tools

import "fmt"

// maxIdentifierLength bounds table and column names.
const maxIdentifierLength = 64

// ValidateIdentifier checks that a table or column name is safe to embed
// in generated SQL. Identifiers must start with a letter or underscore and
// contain only letters, digits and underscores.
func ValidateIdentifier(name string) error {
	if name == "" {
		return ErrEmptyIdentifier
	}
	if len(name) > maxIdentifierLength {
		return fmt.Errorf("%w: %s", ErrIdentifierTooLong, name)
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		case c == '_':
		case c >= '0' && c <= '9':
			if i == 0 {
				return fmt.Errorf("%w: %s", ErrInvalidIdentifier, name)
			}
		default:
			return fmt.Errorf("%w: %s", ErrInvalidIdentifier, name)
		}
	}
	return nil
}
