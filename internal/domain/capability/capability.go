// Package capability detects the external tools and services the provisioner
// depends on: interpreters, database engines, the reverse proxy and the
// process supervisor.
package capability

import (
	"regexp"
	"sort"
	"strings"

	"golang.org/x/mod/semver"
)

// Name identifies a probed capability.
type Name string

// Capability names.
const (
	Python           Name = "python"
	Venv             Name = "venv"
	VenvPackages     Name = "venv-packages"
	Postgres         Name = "postgresql"
	PostgresRole     Name = "postgresql-role"
	PostgresDatabase Name = "postgresql-database"
	SQLite           Name = "sqlite"
	Nginx            Name = "nginx"
	Supervisor       Name = "supervisor"
)

// All returns every capability name in probe order.
func All() []Name {
	return []Name{Python, Venv, VenvPackages, Postgres, PostgresRole, PostgresDatabase, SQLite, Nginx, Supervisor}
}

// Method records how a capability was detected.
type Method string

// Detection methods.
const (
	MethodPathLookup     Method = "path-lookup"
	MethodCommand        Method = "command"
	MethodConnect        Method = "connect"
	MethodServiceManager Method = "service-manager"
	MethodFilesystem     Method = "filesystem"
)

// Capability is the probed state of one external dependency.
// For the venv, Running means the interpreter inside it is usable.
type Capability struct {
	Name      Name
	Installed bool
	Running   bool
	Version   string
	Method    Method
	Detail    string
}

// Absent returns a capability that was not found.
func Absent(name Name, method Method, detail string) Capability {
	return Capability{Name: name, Method: method, Detail: detail}
}

// Set maps names to probed capabilities. Missing names read as absent.
type Set map[Name]Capability

// Get returns the capability for name, or an absent value.
func (s Set) Get(name Name) Capability {
	if c, ok := s[name]; ok {
		return c
	}
	return Capability{Name: name, Detail: "not probed"}
}

// Installed reports whether name was found.
func (s Set) Installed(name Name) bool {
	return s.Get(name).Installed
}

// Running reports whether name is live.
func (s Set) Running(name Name) bool {
	return s.Get(name).Running
}

// Names returns the probed names, sorted.
func (s Set) Names() []Name {
	names := make([]Name, 0, len(s))
	for n := range s {
		names = append(names, n)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}

var versionPattern = regexp.MustCompile(`(\d+)\.(\d+)(?:\.(\d+))?`)

// ParseVersion extracts the first dotted version from tool output and
// normalizes it to MAJOR.MINOR.PATCH. It returns "" when none is found.
func ParseVersion(output string) string {
	m := versionPattern.FindString(output)
	if m == "" {
		return ""
	}
	canon := semver.Canonical("v" + m)
	return strings.TrimPrefix(canon, "v")
}

// MeetsMinimum reports whether c has a known version of at least minimum.
func MeetsMinimum(c Capability, minimum string) bool {
	if c.Version == "" {
		return false
	}
	have := semver.Canonical("v" + c.Version)
	want := semver.Canonical("v" + strings.TrimPrefix(minimum, "v"))
	if have == "" || want == "" {
		return false
	}
	return semver.Compare(have, want) >= 0
}
