// Package supervisor runs the application server as a supervisor program.
package supervisor

import (
	"bytes"
	"fmt"
	"path"
	"sort"
	"strings"

	"gopkg.in/ini.v1"

	"github.com/trunkplayer/trunkprov/internal/validation"
)

// Program is one supervisor [program:x] section.
type Program struct {
	Name        string
	Command     string
	Directory   string
	User        string
	LogDir      string
	Environment map[string]string
}

// Validate rejects values supervisor would misread.
func (p Program) Validate() error {
	if err := validation.ValidateIdentifier(p.Name); err != nil {
		return fmt.Errorf("program name: %w", err)
	}
	if strings.TrimSpace(p.Command) == "" {
		return fmt.Errorf("program %s: empty command", p.Name)
	}
	for _, dir := range []string{p.Directory, p.LogDir} {
		if err := validation.ValidateAbsolutePath(dir); err != nil {
			return err
		}
	}
	values := []string{p.Command, p.User}
	for k, v := range p.Environment {
		if err := validation.ValidateIdentifier(strings.ToLower(k)); err != nil {
			return fmt.Errorf("environment name: %w", err)
		}
		values = append(values, v)
	}
	for _, v := range values {
		if strings.ContainsAny(v, "\n\r\"%") {
			return fmt.Errorf("program %s: value %q contains characters supervisor cannot take", p.Name, v)
		}
	}
	return nil
}

// Section is the ini section name.
func (p Program) Section() string {
	return "program:" + p.Name
}

// StdoutLog is where supervisor writes the program's output.
func (p Program) StdoutLog() string {
	return path.Join(p.LogDir, p.Name+".log")
}

// StderrLog is where supervisor writes the program's errors.
func (p Program) StderrLog() string {
	return path.Join(p.LogDir, p.Name+".err.log")
}

func (p Program) environment() string {
	keys := make([]string, 0, len(p.Environment))
	for k := range p.Environment {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, fmt.Sprintf(`%s="%s"`, k, p.Environment[k]))
	}
	return strings.Join(pairs, ",")
}

// Render produces the program file.
func (p Program) Render() (string, error) {
	if err := p.Validate(); err != nil {
		return "", err
	}
	cfg := ini.Empty(ini.LoadOptions{IgnoreInlineComment: true})
	sec, err := cfg.NewSection(p.Section())
	if err != nil {
		return "", err
	}
	keys := [][2]string{
		{"command", p.Command},
		{"directory", p.Directory},
		{"user", p.User},
		{"autostart", "true"},
		{"autorestart", "true"},
		{"stopasgroup", "true"},
		{"killasgroup", "true"},
		{"stdout_logfile", p.StdoutLog()},
		{"stderr_logfile", p.StderrLog()},
	}
	if len(p.Environment) > 0 {
		keys = append(keys, [2]string{"environment", p.environment()})
	}
	for _, kv := range keys {
		if kv[1] == "" {
			continue
		}
		if _, err := sec.NewKey(kv[0], kv[1]); err != nil {
			return "", err
		}
	}
	var buf bytes.Buffer
	if _, err := cfg.WriteTo(&buf); err != nil {
		return "", fmt.Errorf("render supervisor program: %w", err)
	}
	return buf.String(), nil
}

// Path returns the program file location in dir.
func Path(dir, ext, name string) string {
	return path.Join(dir, name+ext)
}
