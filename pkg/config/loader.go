package config

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/cperrin88/archdex/pkg/errors"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	// EnvPrefix starts every archdex environment variable.
	EnvPrefix = "ARCHDEX_"

	maxConfigFileSize = 1 << 20
)

// Search credentials are also read from these variables, which the
// ARCHDEX_SEARCH_* variables override.
const (
	EnvMeiliURL = "MEILI_URL"
	EnvMeiliKey = "MEILI_KEY"
)

// LoadConfig loads configuration from path, then overrides it with
// environment variables, applies defaults and validates the result. A
// missing file is not an error.
//
// Precedence, highest first:
//  1. ARCHDEX_SECTION_FIELD variables (ARCHDEX_SETTINGS_HTTP_TIMEOUT -> settings.http_timeout)
//  2. MEILI_URL and MEILI_KEY
//  3. the YAML file
//  4. defaults
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		return nil, errors.ErrEmptyConfigPath
	}

	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return LoadConfigFromBytes(nil)
		}
		return nil, errors.Wrapf(err, "failed to open config file: %s", path)
	}
	defer func() { _ = file.Close() }()

	return LoadConfigFromReader(file)
}

// LoadConfigFromReader loads configuration from an io.Reader.
func LoadConfigFromReader(reader io.Reader) (*Config, error) {
	data, err := io.ReadAll(io.LimitReader(reader, maxConfigFileSize+1))
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config data")
	}
	if len(data) > maxConfigFileSize {
		return nil, fmt.Errorf("%w: config larger than %d bytes", errors.ErrConfigParse, maxConfigFileSize)
	}
	return LoadConfigFromBytes(data)
}

// LoadConfigFromBytes loads configuration from YAML content, which may be
// empty.
func LoadConfigFromBytes(data []byte) (*Config, error) {
	k := koanf.New(".")

	if len(data) > 0 {
		if err := k.Load(rawbytes.Provider(data), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("%w: %w", errors.ErrConfigParse, err)
		}
	}

	if err := k.Load(env.Provider("MEILI_", ".", meiliKey), nil); err != nil {
		return nil, errors.Wrap(err, "failed to load environment variables")
	}
	if err := k.Load(env.ProviderWithValue(EnvPrefix, ".", envKeyValue), nil); err != nil {
		return nil, errors.Wrap(err, "failed to load environment variables")
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", errors.ErrConfigParse, err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func meiliKey(s string) string {
	switch s {
	case EnvMeiliURL:
		return "search.url"
	case EnvMeiliKey:
		return "search.key"
	}
	return ""
}

// envKeyValue maps ARCHDEX_SECTION_FIELD_NAME to section.field_name. The
// section is everything up to the first underscore. Repositories are a
// comma separated list.
func envKeyValue(key, value string) (string, interface{}) {
	name := strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
	if name == "" {
		return "", nil
	}
	if name == "repositories" {
		var repos []string
		for _, r := range strings.Split(value, ",") {
			if r = strings.TrimSpace(r); r != "" {
				repos = append(repos, r)
			}
		}
		return name, repos
	}

	section, field, ok := strings.Cut(name, "_")
	if !ok {
		return name, value
	}
	return section + "." + field, value
}
