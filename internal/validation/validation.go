// Package validation provides centralized input validation for variable,
// branch, tree and systematic names.
package validation

import (
	"fmt"
	"strings"
	"unicode"
)

// =============================================================================
// Name Validation
// =============================================================================

// NameRules defines the validation rules for entity names.
type NameRules struct {
	MinLength    int
	MaxLength    int
	AllowDots    bool
	AllowHyphens bool
	AllowUnders  bool
}

// VariableRules returns the rules for variable and sub-branch names.
// Names become column and branch names, so only letters, digits and
// underscores are accepted.
func VariableRules() NameRules {
	return NameRules{
		MinLength:    1,
		MaxLength:    255,
		AllowDots:    false,
		AllowHyphens: false,
		AllowUnders:  true,
	}
}

// SystematicRules returns the rules for systematic and group names.
func SystematicRules() NameRules {
	return NameRules{
		MinLength:    1,
		MaxLength:    255,
		AllowDots:    true,
		AllowHyphens: true,
		AllowUnders:  true,
	}
}

// ValidateName validates a name according to the given rules.
func ValidateName(name string, rules NameRules) error {
	if len(name) < rules.MinLength {
		return fmt.Errorf("name too short: minimum %d characters required", rules.MinLength)
	}
	if len(name) > rules.MaxLength {
		return fmt.Errorf("name too long: maximum %d characters allowed", rules.MaxLength)
	}

	if name == "." || name == ".." {
		return fmt.Errorf("name cannot be '.' or '..'")
	}

	if strings.HasPrefix(name, ".") {
		return fmt.Errorf("name cannot start with '.'")
	}

	for i, r := range name {
		if r < 32 || r == 127 {
			return fmt.Errorf("name cannot contain control characters at position %d", i)
		}
		if r == '/' || r == '\\' {
			return fmt.Errorf("name cannot contain path separators at position %d", i)
		}
		if !isAllowedNameChar(r, rules) {
			return fmt.Errorf("invalid character '%c' at position %d", r, i)
		}
	}

	return nil
}

func isAllowedNameChar(r rune, rules NameRules) bool {
	if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
		return true
	}
	switch r {
	case '.':
		return rules.AllowDots
	case '-':
		return rules.AllowHyphens
	case '_':
		return rules.AllowUnders
	}
	return false
}

// ValidateVariableName validates a variable or sub-branch name.
func ValidateVariableName(name string) error {
	return ValidateName(name, VariableRules())
}

// ValidateSystematicName validates a systematic or group name.
func ValidateSystematicName(name string) error {
	return ValidateName(name, SystematicRules())
}

// =============================================================================
// Output Path Validation
// =============================================================================

// JoinPath builds an output path of the form "/<root>/<name>".
func JoinPath(root, name string) string {
	return "/" + strings.Trim(root, "/") + "/" + strings.Trim(name, "/")
}

// SplitPath splits "/<dir>/<name>" into its directory and base name.
// The directory is returned without leading or trailing separators.
func SplitPath(path string) (dir, name string, err error) {
	if path == "" {
		return "", "", fmt.Errorf("empty path")
	}
	if !strings.HasPrefix(path, "/") {
		return "", "", fmt.Errorf("path %q must be absolute", path)
	}

	trimmed := strings.Trim(path, "/")
	idx := strings.LastIndex(trimmed, "/")
	if idx < 0 {
		return "", trimmed, validatePathPart(trimmed)
	}

	dir, name = trimmed[:idx], trimmed[idx+1:]
	for _, part := range strings.Split(dir, "/") {
		if err := validatePathPart(part); err != nil {
			return "", "", fmt.Errorf("invalid directory in %q: %w", path, err)
		}
	}
	if err := validatePathPart(name); err != nil {
		return "", "", fmt.Errorf("invalid name in %q: %w", path, err)
	}
	return dir, name, nil
}

func validatePathPart(part string) error {
	if part == "" {
		return fmt.Errorf("empty path component")
	}
	return ValidateName(part, SystematicRules())
}
