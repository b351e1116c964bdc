package config

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"golang.org/x/mod/semver"

	"github.com/trunkplayer/trunkprov/internal/domain/state"
	"github.com/trunkplayer/trunkprov/internal/ports"
	"github.com/trunkplayer/trunkprov/internal/validation"
)

// Validate checks every field and reports all problems at once.
func (c *Config) Validate() error {
	errs := NewErrorList()

	if err := validation.ValidateAbsolutePath(c.ProjectDir); err != nil {
		errs.AddValidation("project_dir", err.Error(), "Pass an existing directory with --project-dir.")
	}
	if c.AudioDir != "" {
		if err := validation.ValidateAbsolutePath(c.AudioDir); err != nil {
			errs.AddValidation("audio_dir", err.Error(), "Use an absolute path such as /var/lib/trunk_player/audio.")
		} else if err := validation.ValidateSettingText(c.AudioDir); err != nil {
			errs.AddValidation("audio_dir", err.Error(), "")
		}
	}
	oneOf(errs, "output", c.Output, FormatText, FormatJSON)

	c.validatePython(errs)
	c.validateVenv(errs)
	c.validateDatabase(errs)
	c.validateWeb(errs)
	c.validateServer(errs)
	c.validateLog(errs)
	c.validateUninstall(errs)

	return errs.AsError()
}

func oneOf(errs *ErrorList, field, value string, allowed ...string) {
	for _, a := range allowed {
		if value == a {
			return
		}
	}
	errs.AddValidation(field, fmt.Sprintf("%q is not supported", value), "Use one of: "+strings.Join(allowed, ", "))
}

func (c *Config) validatePython(errs *ErrorList) {
	if err := validation.ValidatePath(c.Python.Binary); err != nil {
		errs.AddValidation("python.binary", err.Error(), "")
	}
	if !semver.IsValid("v" + c.Python.MinVersion) {
		errs.AddValidation("python.min_version", fmt.Sprintf("%q is not a version", c.Python.MinVersion), "Use a dotted version such as 3.8.")
	}
	for _, m := range c.Python.ImportModules {
		if err := validation.ValidateModuleName(m); err != nil {
			errs.AddValidation("python.import_modules", err.Error(), "")
		}
	}
}

func (c *Config) validateVenv(errs *ErrorList) {
	for field, p := range map[string]string{"venv.dir": c.Venv.Dir, "venv.requirements": c.Venv.Requirements} {
		if err := validation.ValidatePath(p); err != nil {
			errs.AddValidation(field, err.Error(), "")
		}
	}
}

func (c *Config) validateDatabase(errs *ErrorList) {
	d := c.Database
	oneOf(errs, "database.engine", string(d.Engine), string(EngineAuto), string(EnginePostgres), string(EngineSQLite))
	oneOf(errs, "database.existing_policy", string(d.ExistingPolicy),
		string(PolicyAsk), string(PolicyDropRecreate), string(PolicyReuseExisting), string(PolicySkipDBSetup))
	if err := validation.ValidateIdentifier(d.Name); err != nil {
		errs.AddValidation("database.name", err.Error(), "")
	}
	if err := validation.ValidateIdentifier(d.User); err != nil {
		errs.AddValidation("database.user", err.Error(), "")
	}
	if err := validation.ValidateHostname(d.Host); err != nil {
		errs.AddValidation("database.host", err.Error(), "")
	}
	port(errs, "database.port", d.Port)
	if err := validation.ValidatePath(d.SQLitePath); err != nil {
		errs.AddValidation("database.sqlite_path", err.Error(), "")
	} else if err := validation.ValidateSettingText(d.SQLitePath); err != nil {
		errs.AddValidation("database.sqlite_path", err.Error(), "")
	}
}

func port(errs *ErrorList, field string, p int) {
	if p < 1 || p > 65535 {
		errs.AddValidation(field, fmt.Sprintf("%d must be between 1 and 65535", p), "")
	}
}

func (c *Config) validateWeb(errs *ErrorList) {
	if len(c.Web.AllowedHosts) == 0 {
		errs.AddValidation("web.allowed_hosts", "at least one host is required", "Add localhost or the server's public name.")
	}
	for _, h := range c.Web.AllowedHosts {
		if err := validation.ValidateHostname(h); err != nil {
			errs.AddValidation("web.allowed_hosts", err.Error(), "")
		}
	}
	if c.SkipServices {
		return
	}
	if len(c.Web.ServerNames) == 0 {
		errs.AddValidation("web.server_names", "at least one name is required", "")
	}
	for _, h := range c.Web.ServerNames {
		if err := validation.ValidateHostname(h); err != nil {
			errs.AddValidation("web.server_names", err.Error(), "")
		}
	}
	port(errs, "web.listen_port", c.Web.ListenPort)
	if err := validation.ValidateIdentifier(c.Web.SiteName); err != nil {
		errs.AddValidation("web.site_name", err.Error(), "")
	}
}

func (c *Config) validateServer(errs *ErrorList) {
	if c.SkipServices {
		return
	}
	if err := validation.ValidateIdentifier(c.Server.Program); err != nil {
		errs.AddValidation("server.program", err.Error(), "")
	}
	host, p, err := net.SplitHostPort(c.Server.Bind)
	if err != nil {
		errs.AddValidation("server.bind", err.Error(), "Use host:port, for example 127.0.0.1:7055.")
	} else {
		n, convErr := strconv.Atoi(p)
		if convErr != nil {
			n = 0
		}
		port(errs, "server.bind", n)
		if err := validation.ValidateHostname(host); err != nil {
			errs.AddValidation("server.bind", err.Error(), "")
		}
	}
	if c.Server.User == "" {
		errs.AddValidation("server.user", "cannot be empty", "Set server.user to the account that owns the project.")
	} else if err := validation.ValidatePackageName(c.Server.User); err != nil {
		errs.AddValidation("server.user", err.Error(), "")
	}
	if err := validation.ValidateAbsolutePath(c.Server.LogDir); err != nil {
		errs.AddValidation("server.log_dir", err.Error(), "")
	}
}

func (c *Config) validateLog(errs *ErrorList) {
	if _, err := ports.ParseLevel(c.Log.Level); err != nil {
		errs.AddValidation("log.level", err.Error(), "Use debug, info, warn or error.")
	}
	oneOf(errs, "log.format", c.Log.Format, FormatText, FormatJSON)
}

func (c *Config) validateUninstall(errs *ErrorList) {
	for _, k := range c.Uninstall.Confirm {
		if _, err := state.ParseKind(k); err != nil {
			errs.AddValidation("uninstall.confirm", err.Error(), "")
		}
	}
}
