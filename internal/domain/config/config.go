// Package config loads and validates the provisioner configuration.
//
// Values are layered, later layers winning: built-in defaults, the user
// config file, the project config file, TRUNKPROV_* environment variables
// and finally command-line flags.
package config

import (
	"os"
	"os/user"
	"path/filepath"
	"strings"
)

// Engine selects the database backend.
type Engine string

// Database engines.
const (
	EngineAuto     Engine = "auto"
	EnginePostgres Engine = "postgresql"
	EngineSQLite   Engine = "sqlite"
)

// ExistingPolicy says what to do with a database or role that already exists.
type ExistingPolicy string

// Existing database policies.
const (
	PolicyAsk           ExistingPolicy = "ask"
	PolicyDropRecreate  ExistingPolicy = "drop-and-recreate"
	PolicyReuseExisting ExistingPolicy = "reuse-existing"
	PolicySkipDBSetup   ExistingPolicy = "skip-db-setup"
)

// Choices lists the answers offered when the policy is PolicyAsk.
func Choices() []ExistingPolicy {
	return []ExistingPolicy{PolicyDropRecreate, PolicyReuseExisting, PolicySkipDBSetup}
}

// Output formats.
const (
	FormatText = "text"
	FormatJSON = "json"
)

// Config is the full provisioner configuration.
type Config struct {
	ProjectDir     string `koanf:"project_dir"`
	NonInteractive bool   `koanf:"non_interactive"`
	SkipServices   bool   `koanf:"skip_services"`
	DryRun         bool   `koanf:"dry_run"`
	// AudioDir is optional; when set it is created and written to AUDIO_DIR.
	AudioDir string `koanf:"audio_dir"`
	Output   string `koanf:"output"`

	Python    PythonConfig    `koanf:"python"`
	Venv      VenvConfig      `koanf:"venv"`
	Database  DatabaseConfig  `koanf:"database"`
	Web       WebConfig       `koanf:"web"`
	Server    ServerConfig    `koanf:"server"`
	Log       LogConfig       `koanf:"log"`
	Uninstall UninstallConfig `koanf:"uninstall"`
}

// PythonConfig describes the interpreter used to build the venv.
type PythonConfig struct {
	Binary        string   `koanf:"binary"`
	MinVersion    string   `koanf:"min_version"`
	ImportModules []string `koanf:"import_modules"`
}

// VenvConfig locates the virtual environment and its requirements.
type VenvConfig struct {
	Dir          string `koanf:"dir"`
	Requirements string `koanf:"requirements"`
	// ForceReinstall reinstalls requirements even when unchanged.
	ForceReinstall bool `koanf:"force_reinstall"`
}

// DatabaseConfig selects and names the database.
type DatabaseConfig struct {
	Engine         Engine         `koanf:"engine"`
	ExistingPolicy ExistingPolicy `koanf:"existing_policy"`
	Name           string         `koanf:"name"`
	User           string         `koanf:"user"`
	Host           string         `koanf:"host"`
	Port           int            `koanf:"port"`
	SQLitePath     string         `koanf:"sqlite_path"`
}

// WebConfig describes the proxy site and Django host list.
type WebConfig struct {
	AllowedHosts []string `koanf:"allowed_hosts"`
	ServerNames  []string `koanf:"server_names"`
	ListenPort   int      `koanf:"listen_port"`
	SiteName     string   `koanf:"site_name"`
}

// ServerConfig describes the supervised application server.
type ServerConfig struct {
	Program string `koanf:"program"`
	Bind    string `koanf:"bind"`
	// Command defaults to daphne from the venv bound to Bind.
	Command string `koanf:"command"`
	User    string `koanf:"user"`
	LogDir  string `koanf:"log_dir"`
}

// LogConfig configures diagnostics.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	File   string `koanf:"file"`
}

// UninstallConfig holds teardown confirmations given up front.
type UninstallConfig struct {
	// Confirm lists resource kinds confirmed for removal.
	Confirm []string `koanf:"confirm"`
	// All confirms every project-local kind.
	All bool `koanf:"all"`
	// RemoveSystemPackages enables the system tier.
	RemoveSystemPackages bool `koanf:"remove_system_packages"`
}

// Defaults returns the built-in configuration as a koanf map.
func Defaults() map[string]interface{} {
	return map[string]interface{}{
		"project_dir":     ".",
		"non_interactive": false,
		"skip_services":   false,
		"dry_run":         false,
		"audio_dir":       "",
		"output":          FormatText,

		"python.binary":         "python3",
		"python.min_version":    "3.8",
		"python.import_modules": []string{"django"},

		"venv.dir":             "venv",
		"venv.requirements":    "requirements.txt",
		"venv.force_reinstall": false,

		"database.engine":          string(EngineAuto),
		"database.existing_policy": string(PolicyAsk),
		"database.name":            "trunk_player",
		"database.user":            "trunk_player",
		"database.host":            "localhost",
		"database.port":            5432,
		"database.sqlite_path":     "db.sqlite3",

		"web.allowed_hosts": []string{"localhost", "127.0.0.1"},
		"web.server_names":  []string{"localhost"},
		"web.listen_port":   80,
		"web.site_name":     "trunk_player",

		"server.program": "trunk_player",
		"server.bind":    "127.0.0.1:7055",
		"server.command": "",
		"server.user":    defaultUser(),
		"server.log_dir": "/var/log/trunk_player",

		"log.level":  "info",
		"log.format": FormatText,
		"log.file":   "",

		"uninstall.confirm":                []string{},
		"uninstall.all":                    false,
		"uninstall.remove_system_packages": false,
	}
}

// defaultUser is the account the server runs as: the user who invoked
// sudo, else the current user.
func defaultUser() string {
	if u := os.Getenv("SUDO_USER"); u != "" {
		return u
	}
	if u, err := user.Current(); err == nil {
		return u.Username
	}
	return ""
}

// Abs resolves p against the project directory.
func (c *Config) Abs(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.ProjectDir, p)
}

// VenvPath is the absolute venv directory.
func (c *Config) VenvPath() string {
	return c.Abs(c.Venv.Dir)
}

// VenvPython is the interpreter inside the venv.
func (c *Config) VenvPython() string {
	return filepath.Join(c.VenvPath(), "bin", "python")
}

// RequirementsPath is the absolute requirements file.
func (c *Config) RequirementsPath() string {
	return c.Abs(c.Venv.Requirements)
}

// SQLitePath is the absolute SQLite database file.
func (c *Config) SQLitePath() string {
	return c.Abs(c.Database.SQLitePath)
}

// ManagePy is the Django management script.
func (c *Config) ManagePy() string {
	return filepath.Join(c.ProjectDir, "manage.py")
}

// StaticRoot is where collectstatic puts files.
func (c *Config) StaticRoot() string {
	return filepath.Join(c.ProjectDir, "static")
}

// ServerCommand is the supervised command line.
func (c *Config) ServerCommand() string {
	if strings.TrimSpace(c.Server.Command) != "" {
		return c.Server.Command
	}
	host, port := c.Server.Bind, ""
	if i := strings.LastIndex(c.Server.Bind, ":"); i >= 0 {
		host, port = c.Server.Bind[:i], c.Server.Bind[i+1:]
	}
	return filepath.Join(c.VenvPath(), "bin", "daphne") + " -b " + host + " -p " + port + " trunk_player.asgi:application"
}
