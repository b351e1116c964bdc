// Package settings edits the framework's local settings file through a
// small set of recognizable markers. Every mutation is idempotent.
package settings

import (
	"fmt"
	"regexp"
	"strings"
)

// Paths of the settings artifact relative to the project directory.
const (
	LocalPath    = "trunk_player/settings_local.py"
	TemplatePath = "trunk_player/settings_local.py.sample"
)

// Markers recognized in the settings file.
const (
	SecretPlaceholder = "REPLACE_WITH_SECRET_KEY"
	BeginDatabases    = "# BEGIN DATABASES"
	EndDatabases      = "# END DATABASES"
)

// Database engines written into the DATABASES block.
const (
	EngineSQLite   = "django.db.backends.sqlite3"
	EnginePostgres = "django.db.backends.postgresql"
)

var (
	secretLine    = regexp.MustCompile(`(?m)^SECRET_KEY\s*=\s*'([^'\n]*)'[ \t]*$`)
	hostsLine     = regexp.MustCompile(`(?m)^ALLOWED_HOSTS\s*=\s*\[[^\]\n]*\][ \t]*$`)
	audioDirLine  = regexp.MustCompile(`(?m)^AUDIO_DIR\s*=\s*'[^'\n]*'[ \t]*$`)
	databaseBlock = regexp.MustCompile(`(?s)` + regexp.QuoteMeta(BeginDatabases) + `\n(.*?)` + regexp.QuoteMeta(EndDatabases))
	engineLine    = regexp.MustCompile(`'ENGINE'\s*:\s*'([^']+)'`)
	passwordLine  = regexp.MustCompile(`'PASSWORD'\s*:\s*'([^'\n]*)'`)
)

// Mutation is one marker substitution.
//
// Apply returns the new content and whether it changed. When the marker is
// missing it returns the content unchanged with a non-empty anomaly.
type Mutation interface {
	Name() string
	Apply(content string) (out string, changed bool, anomaly string)
}

// SecretKey fills the SECRET_KEY placeholder. A key that was already set is
// left alone.
type SecretKey struct {
	Value string
}

// Name implements Mutation.
func (SecretKey) Name() string { return "SECRET_KEY" }

// Apply implements Mutation.
func (m SecretKey) Apply(content string) (string, bool, string) {
	loc := secretLine.FindStringSubmatchIndex(content)
	if loc == nil {
		return content, false, "SECRET_KEY marker not found"
	}
	current := content[loc[2]:loc[3]]
	if current != SecretPlaceholder && current != "" {
		return content, false, ""
	}
	return content[:loc[2]] + m.Value + content[loc[3]:], true, ""
}

// AllowedHosts rewrites the ALLOWED_HOSTS list.
type AllowedHosts struct {
	Hosts []string
}

// Name implements Mutation.
func (AllowedHosts) Name() string { return "ALLOWED_HOSTS" }

// Line renders the ALLOWED_HOSTS assignment.
func (m AllowedHosts) Line() string {
	quoted := make([]string, len(m.Hosts))
	for i, h := range m.Hosts {
		quoted[i] = "'" + h + "'"
	}
	return "ALLOWED_HOSTS = [" + strings.Join(quoted, ", ") + "]"
}

// Apply implements Mutation.
func (m AllowedHosts) Apply(content string) (string, bool, string) {
	return replaceLine(content, hostsLine, m.Line(), "ALLOWED_HOSTS")
}

// AudioDir sets the AUDIO_DIR path.
type AudioDir struct {
	Path string
}

// Name implements Mutation.
func (AudioDir) Name() string { return "AUDIO_DIR" }

// Apply implements Mutation.
func (m AudioDir) Apply(content string) (string, bool, string) {
	return replaceLine(content, audioDirLine, "AUDIO_DIR = '"+m.Path+"'", "AUDIO_DIR")
}

// Databases replaces the body between the DATABASES markers.
type Databases struct {
	Body string
}

// Name implements Mutation.
func (Databases) Name() string { return "DATABASES" }

// Apply implements Mutation.
func (m Databases) Apply(content string) (string, bool, string) {
	loc := databaseBlock.FindStringSubmatchIndex(content)
	if loc == nil {
		return content, false, "DATABASES block markers not found"
	}
	body := m.Body
	if body != "" && !strings.HasSuffix(body, "\n") {
		body += "\n"
	}
	if content[loc[2]:loc[3]] == body {
		return content, false, ""
	}
	return content[:loc[2]] + body + content[loc[3]:], true, ""
}

// ApplyAll runs mutations in order and collects anomalies.
func ApplyAll(content string, muts ...Mutation) (string, bool, []string) {
	var changed bool
	var anomalies []string
	for _, m := range muts {
		out, ok, anomaly := m.Apply(content)
		if anomaly != "" {
			anomalies = append(anomalies, anomaly)
		}
		changed = changed || ok
		content = out
	}
	return content, changed, anomalies
}

// DatabasesBody returns the current body of the DATABASES block.
func DatabasesBody(content string) (string, bool) {
	m := databaseBlock.FindStringSubmatch(content)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// Engine returns the ENGINE configured in the DATABASES block, or "".
func Engine(content string) string {
	body, ok := DatabasesBody(content)
	if !ok {
		return ""
	}
	m := engineLine.FindStringSubmatch(body)
	if m == nil {
		return ""
	}
	return m[1]
}

// DatabasePassword returns the PASSWORD in the DATABASES block.
func DatabasePassword(content string) (string, bool) {
	body, ok := DatabasesBody(content)
	if !ok {
		return "", false
	}
	m := passwordLine.FindStringSubmatch(body)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// SecretKeyValue returns the current SECRET_KEY and whether it is set to
// something other than the placeholder.
func SecretKeyValue(content string) (string, bool) {
	m := secretLine.FindStringSubmatch(content)
	if m == nil || m[1] == "" || m[1] == SecretPlaceholder {
		return "", false
	}
	return m[1], true
}

// SQLiteBody renders a DATABASES block for a database file.
func SQLiteBody(path string) string {
	return fmt.Sprintf(`DATABASES = {
    'default': {
        'ENGINE': '%s',
        'NAME': '%s',
    }
}
`, EngineSQLite, path)
}

// PostgresParams describes a PostgreSQL connection.
type PostgresParams struct {
	Name     string
	User     string
	Password string
	Host     string
	Port     int
}

// PostgresBody renders a DATABASES block for PostgreSQL.
func PostgresBody(p PostgresParams) string {
	return fmt.Sprintf(`DATABASES = {
    'default': {
        'ENGINE': '%s',
        'NAME': '%s',
        'USER': '%s',
        'PASSWORD': '%s',
        'HOST': '%s',
        'PORT': '%d',
    }
}
`, EnginePostgres, p.Name, p.User, p.Password, p.Host, p.Port)
}

func replaceLine(content string, re *regexp.Regexp, line, marker string) (string, bool, string) {
	loc := re.FindStringIndex(content)
	if loc == nil {
		return content, false, marker + " marker not found"
	}
	if content[loc[0]:loc[1]] == line {
		return content, false, ""
	}
	return content[:loc[0]] + line + content[loc[1]:], true, ""
}
