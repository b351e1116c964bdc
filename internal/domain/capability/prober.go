package capability

import (
	"context"
	"fmt"
	"net"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/go-git/go-billy/v5"

	"github.com/trunkplayer/trunkprov/internal/domain/compiler"
	"github.com/trunkplayer/trunkprov/internal/domain/platform"
	"github.com/trunkplayer/trunkprov/internal/ports"
	"github.com/trunkplayer/trunkprov/internal/validation"
)

// Config tells the prober where the project lives and what it expects.
type Config struct {
	// PythonBinary is the interpreter looked up on PATH; python3 when empty.
	PythonBinary string
	// VenvDir is the absolute path of the virtual environment.
	VenvDir string
	// ImportModules are imported with the venv interpreter to verify packages.
	ImportModules []string
	DBName        string
	DBUser        string
	PostgresHost  string
	PostgresPort  int
}

// PostgresAddr returns host:port for liveness checks.
func (c Config) PostgresAddr() string {
	host := c.PostgresHost
	if host == "" {
		host = "localhost"
	}
	port := c.PostgresPort
	if port == 0 {
		port = 5432
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// VenvPython returns the interpreter path inside the venv.
func (c Config) VenvPython() string {
	return path.Join(c.VenvDir, "bin", "python")
}

// Prober runs read-only detection. It never returns an error: failures
// become absent capabilities with a Detail.
type Prober struct {
	runner  ports.CommandRunner
	lookup  ports.PathLookup
	dialer  ports.Dialer
	fs      billy.Filesystem
	adapter platform.Adapter
	cfg     Config
}

// NewProber creates a prober.
func NewProber(runner ports.CommandRunner, lookup ports.PathLookup, dialer ports.Dialer, fs billy.Filesystem, adapter platform.Adapter, cfg Config) *Prober {
	return &Prober{runner: runner, lookup: lookup, dialer: dialer, fs: fs, adapter: adapter, cfg: cfg}
}

// Probe detects the named capabilities, or all of them when names is empty.
// Dependent capabilities see the results of earlier ones, so the venv is
// probed before its packages and PostgreSQL before its role and database.
func (p *Prober) Probe(ctx context.Context, names ...Name) Set {
	if len(names) == 0 {
		names = All()
	}
	want := make(map[Name]bool, len(names))
	for _, n := range names {
		want[n] = true
	}

	set := make(Set, len(names))
	for _, n := range All() {
		if !want[n] {
			continue
		}
		c := p.probeOne(ctx, n, set)
		c.Name = n
		set[n] = c
		p.log(ctx).Debug(ctx, "probed capability",
			ports.F("capability", string(n)),
			ports.F("installed", c.Installed),
			ports.F("running", c.Running),
			ports.F("version", c.Version),
			ports.F("method", string(c.Method)),
			ports.F("detail", c.Detail))
	}
	return set
}

func (p *Prober) probeOne(ctx context.Context, n Name, set Set) Capability {
	switch n {
	case Python:
		bin := p.cfg.PythonBinary
		if bin == "" {
			bin = "python3"
		}
		return p.probeBinary(ctx, n, bin, "--version")
	case Venv:
		return p.probeVenv(ctx)
	case VenvPackages:
		return p.probeVenvPackages(ctx, set)
	case Postgres:
		return p.probePostgres(ctx)
	case PostgresRole:
		return p.probePostgresObject(ctx, set, n, "pg_roles", "rolname", p.cfg.DBUser)
	case PostgresDatabase:
		return p.probePostgresObject(ctx, set, n, "pg_database", "datname", p.cfg.DBName)
	case SQLite:
		return p.probeBinary(ctx, n, "sqlite3", "--version")
	case Nginx:
		return p.probeService(ctx, n, platform.PkgNginx, "nginx", "-v")
	case Supervisor:
		return p.probeService(ctx, n, platform.PkgSupervisor, "supervisord", "--version")
	}
	return Absent(n, "", "unknown capability")
}

func (p *Prober) probeBinary(ctx context.Context, n Name, bin string, versionArgs ...string) Capability {
	if _, err := p.lookup.LookPath(bin); err != nil {
		return Absent(n, MethodPathLookup, bin+" not found on PATH")
	}
	c := Capability{Installed: true, Method: MethodPathLookup}
	res, err := p.run(ctx, compiler.TimeoutQuick, bin, versionArgs...)
	if err != nil {
		c.Detail = fmt.Sprintf("version query failed: %v", err)
		return c
	}
	// nginx -v prints to stderr.
	c.Version = ParseVersion(res.Combined())
	return c
}

func (p *Prober) probeVenv(ctx context.Context) Capability {
	cfgPath := path.Join(p.cfg.VenvDir, "pyvenv.cfg")
	if _, err := p.fs.Stat(cfgPath); err != nil {
		return Absent(Venv, MethodFilesystem, "no pyvenv.cfg in "+p.cfg.VenvDir)
	}
	c := Capability{Installed: true, Method: MethodFilesystem}
	res, err := p.run(ctx, compiler.TimeoutQuick, p.cfg.VenvPython(), "--version")
	if err == nil && res.Success() {
		c.Running = true
		c.Version = ParseVersion(res.Combined())
		return c
	}
	c.Detail = "interpreter unusable"
	if err != nil {
		c.Detail += ": " + err.Error()
	} else if out := res.Combined(); out != "" {
		c.Detail += ": " + out
	}
	return c
}

func (p *Prober) probeVenvPackages(ctx context.Context, set Set) Capability {
	venv, ok := set[Venv]
	if !ok {
		venv = p.probeVenv(ctx)
	}
	if !venv.Running {
		return Absent(VenvPackages, MethodCommand, "venv interpreter unavailable")
	}
	if len(p.cfg.ImportModules) == 0 {
		return Capability{Installed: true, Method: MethodCommand, Detail: "no modules to check"}
	}
	for _, m := range p.cfg.ImportModules {
		if err := validation.ValidateModuleName(m); err != nil {
			return Absent(VenvPackages, MethodCommand, err.Error())
		}
	}
	script := "import " + strings.Join(p.cfg.ImportModules, ", ")
	res, err := p.run(ctx, compiler.TimeoutSetup, p.cfg.VenvPython(), "-c", script)
	if err != nil {
		return Absent(VenvPackages, MethodCommand, err.Error())
	}
	if !res.Success() {
		return Absent(VenvPackages, MethodCommand, "import check failed: "+lastLine(res.Combined()))
	}
	return Capability{Installed: true, Method: MethodCommand}
}

func (p *Prober) probePostgres(ctx context.Context) Capability {
	c := p.probeBinary(ctx, Postgres, "psql", "--version")
	addr := p.cfg.PostgresAddr()

	if _, err := p.lookup.LookPath("pg_isready"); err == nil {
		host, port, _ := net.SplitHostPort(addr)
		res, err := p.run(ctx, compiler.TimeoutQuick, "pg_isready", "-q", "-h", host, "-p", port, "-t", "5")
		c.Method = MethodCommand
		c.Running = err == nil && res.Success()
		if !c.Running {
			c.Detail = "pg_isready reports " + addr + " not accepting connections"
		}
		return c
	}

	dctx, cancel := context.WithTimeout(ctx, compiler.TimeoutQuick)
	defer cancel()
	conn, err := p.dialer.DialContext(dctx, "tcp", addr)
	c.Method = MethodConnect
	if err != nil {
		c.Detail = fmt.Sprintf("connect %s: %v", addr, err)
		return c
	}
	defer func() { _ = conn.Close() }()
	c.Running = true
	return c
}

func (p *Prober) probePostgresObject(ctx context.Context, set Set, n Name, catalog, column, value string) Capability {
	pg, ok := set[Postgres]
	if !ok {
		pg = p.probePostgres(ctx)
	}
	if !pg.Running {
		return Absent(n, MethodCommand, "postgresql not reachable")
	}
	if err := validation.ValidateIdentifier(value); err != nil {
		return Absent(n, MethodCommand, err.Error())
	}
	query := fmt.Sprintf("SELECT 1 FROM %s WHERE %s='%s'", catalog, column, value)
	cmd, args := p.adapter.Superuser("psql", "-d", "postgres", "-tAc", query)
	res, err := p.run(ctx, compiler.TimeoutQuick, cmd, args...)
	if err != nil {
		return Absent(n, MethodCommand, err.Error())
	}
	if !res.Success() {
		return Absent(n, MethodCommand, "query failed: "+lastLine(res.Combined()))
	}
	if strings.TrimSpace(res.Stdout) == "1" {
		return Capability{Installed: true, Running: true, Method: MethodCommand, Detail: value}
	}
	return Absent(n, MethodCommand, value+" does not exist")
}

func (p *Prober) probeService(ctx context.Context, n Name, generic, bin string, versionArgs ...string) Capability {
	c := p.probeBinary(ctx, n, bin, versionArgs...)
	if !c.Installed {
		return c
	}
	sctx, cancel := context.WithTimeout(ctx, compiler.TimeoutQuick)
	defer cancel()
	running, err := p.adapter.IsServiceRunning(sctx, generic)
	c.Method = MethodServiceManager
	if err != nil {
		c.Detail = fmt.Sprintf("service status: %v", err)
		return c
	}
	c.Running = running
	return c
}

func (p *Prober) run(ctx context.Context, timeout time.Duration, cmd string, args ...string) (ports.CommandResult, error) {
	rctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return p.runner.Run(rctx, cmd, args...)
}

func (p *Prober) log(ctx context.Context) ports.Logger {
	return compiler.NewRunContext(ctx).Logger()
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
