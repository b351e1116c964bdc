package compiler

import "sort"

// Resource names something a step needs or produces.
type Resource string

const (
	ResPython         Resource = "python"
	ResVenv           Resource = "venv"
	ResDependencies   Resource = "dependencies"
	ResSettings       Resource = "settings"
	ResSecretKey      Resource = "secret-key"
	ResPostgres       Resource = "postgresql"
	ResDatabaseConfig Resource = "database-config"
	ResDatabase       Resource = "database"
	ResSchema         Resource = "schema"
	ResStatic         Resource = "static"
	ResNginx          Resource = "nginx"
	ResNginxSite      Resource = "nginx-site"
	ResSupervisor     Resource = "supervisor"
	ResSupervisorJob  Resource = "supervisor-job"
	ResLogDir         Resource = "log-dir"
	ResAudioDir       Resource = "audio-dir"
	ResServer         Resource = "server"
)

// PackageResource names an installed system package.
func PackageResource(name string) Resource {
	return Resource("package:" + name)
}

// ServiceResource names a running service.
func ServiceResource(name string) Resource {
	return Resource("service:" + name)
}

// ResourceSet is a set of resources.
type ResourceSet map[Resource]struct{}

// NewResourceSet builds a set.
func NewResourceSet(rs ...Resource) ResourceSet {
	s := make(ResourceSet, len(rs))
	for _, r := range rs {
		s[r] = struct{}{}
	}
	return s
}

// Add inserts resources.
func (s ResourceSet) Add(rs ...Resource) {
	for _, r := range rs {
		s[r] = struct{}{}
	}
}

// Has reports membership.
func (s ResourceSet) Has(r Resource) bool {
	_, ok := s[r]
	return ok
}

// Sorted returns members in lexical order.
func (s ResourceSet) Sorted() []Resource {
	out := make([]Resource, 0, len(s))
	for r := range s {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Goal is a user-facing provisioning outcome.
type Goal string

const (
	GoalNone        Goal = ""
	GoalEnvironment Goal = "environment ready"
	GoalDatabase    Goal = "database ready"
	GoalProxy       Goal = "proxy configured"
	GoalServer      Goal = "server serving"
	GoalTeardown    Goal = "teardown complete"
)

// Goals lists the install goals in report order.
func Goals() []Goal {
	return []Goal{GoalEnvironment, GoalDatabase, GoalProxy, GoalServer}
}
