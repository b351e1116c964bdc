// Package validation provides input validation utilities to prevent security vulnerabilities
// such as command injection, SQL injection and path traversal.
package validation

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

// Common validation errors.
var (
	ErrEmptyInput         = errors.New("input cannot be empty")
	ErrInvalidPackageName = errors.New("invalid package name")
	ErrInvalidIdentifier  = errors.New("invalid database identifier")
	ErrPathTraversal      = errors.New("path traversal detected")
	ErrInvalidPath        = errors.New("invalid path")
	ErrCommandInjection   = errors.New("potential command injection detected")
	ErrInvalidHostname    = errors.New("invalid hostname")
	ErrNewlineInjection   = errors.New("newline injection detected")
	ErrInvalidSettingText = errors.New("invalid settings value")
	ErrInvalidModuleName  = errors.New("invalid python module name")
)

// Compiled regex patterns for validation (compiled once for performance).
var (
	// packageNameRegex matches valid package names (apt, dnf, brew).
	packageNameRegex = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._+@-]*$`)

	// identifierRegex matches unquoted PostgreSQL identifiers we are willing to create.
	identifierRegex = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,62}$`)

	// hostnameRegex matches hostnames, IPs and the leading-dot wildcard Django accepts.
	hostnameRegex = regexp.MustCompile(`^(\.|\*\.)?[a-zA-Z0-9][a-zA-Z0-9.:-]*$|^\*$`)

	// moduleRegex matches dotted python import paths.
	moduleRegex = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)*$`)

	// shellMetaChars contains shell metacharacters that could enable injection
	shellMetaChars = []string{";", "|", "&", "$", "`", "(", ")", "{", "}", "<", ">", "\n", "\r", "\\"}
)

// ValidatePackageName validates a system package name.
func ValidatePackageName(name string) error {
	if name == "" {
		return ErrEmptyInput
	}

	if len(name) > 256 {
		return fmt.Errorf("%w: name too long (max 256 characters)", ErrInvalidPackageName)
	}

	if !packageNameRegex.MatchString(name) {
		return fmt.Errorf("%w: %q contains invalid characters", ErrInvalidPackageName, name)
	}

	if containsShellMeta(name) {
		return fmt.Errorf("%w: %q contains shell metacharacters", ErrCommandInjection, name)
	}

	return nil
}

// ValidateIdentifier validates a database or role name. Names that pass can be
// interpolated into SQL and shell arguments without quoting.
func ValidateIdentifier(name string) error {
	if name == "" {
		return ErrEmptyInput
	}

	if !identifierRegex.MatchString(name) {
		return fmt.Errorf("%w: %q must be lowercase letters, digits and underscores, at most 63 characters", ErrInvalidIdentifier, name)
	}

	return nil
}

// ValidateModuleName validates a python import path used in import checks.
func ValidateModuleName(name string) error {
	if name == "" {
		return ErrEmptyInput
	}
	if !moduleRegex.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidModuleName, name)
	}
	return nil
}

// ValidatePath validates a file path and prevents path traversal attacks.
func ValidatePath(path string) error {
	if path == "" {
		return ErrEmptyInput
	}

	if strings.Contains(path, "\x00") {
		return fmt.Errorf("%w: path contains null byte", ErrInvalidPath)
	}

	if strings.ContainsAny(path, "\n\r") {
		return fmt.Errorf("%w: path contains newlines", ErrNewlineInjection)
	}

	if containsPathTraversal(path) {
		return fmt.Errorf("%w: %q contains traversal sequence", ErrPathTraversal, path)
	}

	return nil
}

// ValidateAbsolutePath validates a path that must be absolute.
func ValidateAbsolutePath(path string) error {
	if err := ValidatePath(path); err != nil {
		return err
	}
	if !filepath.IsAbs(path) {
		return fmt.Errorf("%w: %q must be absolute", ErrInvalidPath, path)
	}
	return nil
}

// ValidateHostname validates an entry for ALLOWED_HOSTS or nginx server_name.
func ValidateHostname(hostname string) error {
	if hostname == "" {
		return ErrEmptyInput
	}

	if len(hostname) > 253 {
		return fmt.Errorf("%w: hostname too long", ErrInvalidHostname)
	}

	if !hostnameRegex.MatchString(hostname) {
		return fmt.Errorf("%w: %q contains invalid characters", ErrInvalidHostname, hostname)
	}

	if containsShellMeta(hostname) {
		return fmt.Errorf("%w: %q contains shell metacharacters", ErrCommandInjection, hostname)
	}

	return nil
}

// ValidateSettingText validates a value written inside a single-quoted python
// string literal in the settings file.
func ValidateSettingText(value string) error {
	if strings.ContainsAny(value, "\n\r") {
		return fmt.Errorf("%w: value contains newlines", ErrNewlineInjection)
	}
	if strings.ContainsAny(value, `'\`) {
		return fmt.Errorf("%w: value contains quotes or backslashes", ErrInvalidSettingText)
	}
	return nil
}

// containsShellMeta checks if a string contains shell metacharacters.
func containsShellMeta(s string) bool {
	for _, char := range shellMetaChars {
		if strings.Contains(s, char) {
			return true
		}
	}
	return false
}

// containsPathTraversal checks for common path traversal patterns.
func containsPathTraversal(path string) bool {
	for _, seg := range strings.Split(filepath.ToSlash(path), "/") {
		if seg == ".." {
			return true
		}
	}

	if strings.Contains(path, "%2e%2e") || strings.Contains(path, "%2E%2E") {
		return true
	}

	return false
}
