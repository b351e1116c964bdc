// Package nginx configures the reverse proxy site in front of the
// application server.
package nginx

import (
	"bytes"
	"fmt"
	"net"
	"path"
	"strings"
	"text/template"

	"github.com/trunkplayer/trunkprov/internal/domain/platform"
	"github.com/trunkplayer/trunkprov/internal/validation"
)

var siteTemplate = template.Must(template.New("site").Funcs(template.FuncMap{
	"join": strings.Join,
}).Parse(`# Managed by trunkprov. Local edits are overwritten on the next install.
server {
    listen {{ .ListenPort }};
    server_name {{ join .ServerNames " " }};

    client_max_body_size 20M;

    location /static/ {
        alias {{ .StaticRoot }}/;
    }
{{- if .AudioDir }}

    location /audio_files/ {
        alias {{ .AudioDir }}/;
    }
{{- end }}

    location / {
        proxy_pass http://{{ .Upstream }};
        proxy_http_version 1.1;
        proxy_set_header Upgrade $http_upgrade;
        proxy_set_header Connection "upgrade";
        proxy_set_header Host $host;
        proxy_set_header X-Real-IP $remote_addr;
        proxy_set_header X-Forwarded-For $proxy_add_x_forwarded_for;
        proxy_set_header X-Forwarded-Proto $scheme;
    }
}
`))

// Site is the proxy configuration for one application.
type Site struct {
	Name        string
	ServerNames []string
	ListenPort  int
	StaticRoot  string
	AudioDir    string
	// Upstream is the host:port the application server binds.
	Upstream string
}

// Validate rejects values that could break out of the config file.
func (s Site) Validate() error {
	if err := validation.ValidateIdentifier(s.Name); err != nil {
		return fmt.Errorf("site name: %w", err)
	}
	if len(s.ServerNames) == 0 {
		return fmt.Errorf("site %s: no server names", s.Name)
	}
	for _, n := range s.ServerNames {
		if err := validation.ValidateHostname(n); err != nil {
			return fmt.Errorf("server name: %w", err)
		}
	}
	if s.ListenPort <= 0 || s.ListenPort > 65535 {
		return fmt.Errorf("listen port %d out of range", s.ListenPort)
	}
	if err := validation.ValidateAbsolutePath(s.StaticRoot); err != nil {
		return fmt.Errorf("static root: %w", err)
	}
	if s.AudioDir != "" {
		if err := validation.ValidateAbsolutePath(s.AudioDir); err != nil {
			return fmt.Errorf("audio dir: %w", err)
		}
	}
	host, _, err := net.SplitHostPort(s.Upstream)
	if err != nil {
		return fmt.Errorf("upstream %q: %w", s.Upstream, err)
	}
	if err := validation.ValidateHostname(host); err != nil {
		return fmt.Errorf("upstream: %w", err)
	}
	for _, p := range []string{s.StaticRoot, s.AudioDir} {
		if strings.ContainsAny(p, " ;{}") {
			return fmt.Errorf("path %q cannot be used in an nginx directive", p)
		}
	}
	return nil
}

// Render produces the site file.
func (s Site) Render() (string, error) {
	if err := s.Validate(); err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := siteTemplate.Execute(&buf, s); err != nil {
		return "", fmt.Errorf("render nginx site: %w", err)
	}
	return buf.String(), nil
}

// Paths returns where the site file and its enable link live. link is
// empty when the layout loads every file in the directory.
func Paths(dirs platform.NginxDirs, name string) (file, link string) {
	if dirs.Enabled == "" {
		return path.Join(dirs.Available, name+".conf"), ""
	}
	return path.Join(dirs.Available, name), path.Join(dirs.Enabled, name)
}
