package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/adrg/xdg"
	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/pelletier/go-toml/v2"
)

// EnvPrefix prefixes environment overrides. Nested keys use a double
// underscore: TRUNKPROV_DATABASE__ENGINE=sqlite.
const EnvPrefix = "TRUNKPROV_"

// UserConfigFile is looked up under the XDG config directories.
const UserConfigFile = "trunkprov/config.yaml"

// ProjectConfigFiles are tried in order in the project directory.
var ProjectConfigFiles = []string{"trunkprov.yaml", "trunkprov.yml", "trunkprov.toml"}

// LoadOptions control where configuration comes from.
type LoadOptions struct {
	// ProjectDir overrides the project directory.
	ProjectDir string
	// ConfigFile names a project config file explicitly; it must exist.
	ConfigFile string
	// Flags are values set on the command line, keyed by koanf path.
	Flags map[string]interface{}
	// SkipUserConfig ignores the XDG user config file.
	SkipUserConfig bool
}

// tomlParser adapts go-toml to koanf.
type tomlParser struct{}

func (tomlParser) Unmarshal(b []byte) (map[string]interface{}, error) {
	var out map[string]interface{}
	if err := toml.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (tomlParser) Marshal(m map[string]interface{}) ([]byte, error) {
	return toml.Marshal(m)
}

func parserFor(path string) koanf.Parser {
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		return tomlParser{}
	}
	return yaml.Parser()
}

func loadFile(k *koanf.Koanf, path string) error {
	if err := k.Load(file.Provider(path), parserFor(path)); err != nil {
		return NewConfigParseError(path, err)
	}
	return nil
}

func envKey(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
}

// Load layers the configuration sources and validates the result.
func Load(opts LoadOptions) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(Defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if !opts.SkipUserConfig {
		if path, err := xdg.SearchConfigFile(UserConfigFile); err == nil {
			if err := loadFile(k, path); err != nil {
				return nil, err
			}
		}
	}

	dir := projectDir(opts, k.String("project_dir"))
	if opts.ConfigFile != "" {
		if _, err := os.Stat(opts.ConfigFile); err != nil {
			return nil, NewConfigNotFoundError(opts.ConfigFile).WithUnderlying(err)
		}
		if err := loadFile(k, opts.ConfigFile); err != nil {
			return nil, err
		}
	} else {
		for _, name := range ProjectConfigFiles {
			path := filepath.Join(dir, name)
			if _, err := os.Stat(path); err != nil {
				continue
			}
			if err := loadFile(k, path); err != nil {
				return nil, err
			}
			break
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}

	if len(opts.Flags) > 0 {
		if err := k.Load(confmap.Provider(opts.Flags, "."), nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	var cfg Config
	unmarshalConf := koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			Result:           &cfg,
			WeaklyTypedInput: true,
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				mapstructure.StringToSliceHookFunc(","),
			),
		},
	}
	if err := k.UnmarshalWithConf("", &cfg, unmarshalConf); err != nil {
		return nil, NewUserError(ErrCodeConfigParse, "failed to decode configuration").WithUnderlying(err)
	}

	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve project directory: %w", err)
	}
	cfg.ProjectDir = abs

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// projectDir picks the project directory before the project file is read:
// the explicit option, then the environment, then what earlier layers set.
func projectDir(opts LoadOptions, layered string) string {
	if opts.ProjectDir != "" {
		return opts.ProjectDir
	}
	if v, ok := opts.Flags["project_dir"].(string); ok && v != "" {
		return v
	}
	if v := os.Getenv(EnvPrefix + "PROJECT_DIR"); v != "" {
		return v
	}
	if layered != "" {
		return layered
	}
	return "."
}
