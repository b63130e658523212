package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
	"github.com/xhit/go-str2duration/v2"
)

// LoadOptions selects the sources layered over the defaults. Later sources
// win: defaults, then File, then the environment, then Overrides.
type LoadOptions struct {
	// File is an optional YAML (or JSON) settings file.
	File string
	// Overrides are dotted config paths set last, typically from CLI flags.
	Overrides map[string]any
	// Environ replaces os.Environ, mainly for tests.
	Environ func() []string
}

// Load builds validated Settings from defaults and the given sources.
func Load(opts LoadOptions) (*Settings, error) {
	k := koanf.New(".")
	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}
	if opts.File != "" {
		if err := loadFile(k, opts.File); err != nil {
			return nil, err
		}
	}
	if err := loadEnvironment(k, opts.Environ); err != nil {
		return nil, err
	}
	for key, value := range opts.Overrides {
		if err := k.Set(key, value); err != nil {
			return nil, fmt.Errorf("failed to set override %s: %w", key, err)
		}
	}
	return unmarshalAndValidate(k)
}

func loadFile(k *koanf.Koanf, path string) error {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("config file %s not found: %w", path, err)
		}
		return fmt.Errorf("failed to stat config file %s: %w", path, err)
	}
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return fmt.Errorf("failed to load config file %s: %w", path, err)
	}
	return nil
}

func loadEnvironment(k *koanf.Koanf, environ func() []string) error {
	envToPath := GenerateEnvToConfigMap()
	opt := env.Opt{
		Prefix: "SQS_",
		TransformFunc: func(key, value string) (string, any) {
			if path, ok := envToPath[key]; ok {
				return path, value
			}
			return "", nil
		},
	}
	if environ != nil {
		opt.EnvironFunc = environ
	}
	if err := k.Load(env.Provider(".", opt), nil); err != nil {
		return fmt.Errorf("failed to load environment variables: %w", err)
	}
	return nil
}

func unmarshalAndValidate(k *koanf.Koanf) (*Settings, error) {
	var settings Settings
	if err := k.UnmarshalWithConf("", &settings, koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			WeaklyTypedInput: true,
			Result:           &settings,
			TagName:          "koanf",
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				durationHook,
				mapstructure.StringToSliceHookFunc(","),
			),
		},
	}); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}
	settings.Chain.Policy = strings.ToLower(strings.TrimSpace(settings.Chain.Policy))
	settings.Log.Level = strings.ToLower(strings.TrimSpace(settings.Log.Level))
	if err := Validate(&settings); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &settings, nil
}

// Validate checks settings against their struct tag constraints.
func Validate(s *Settings) error {
	return validator.New().Struct(s)
}

// durationHook accepts extended duration strings such as "2d" or "1w".
func durationHook(from reflect.Type, to reflect.Type, data any) (any, error) {
	if to != reflect.TypeOf(time.Duration(0)) || from.Kind() != reflect.String {
		return data, nil
	}
	s, ok := data.(string)
	if !ok || strings.TrimSpace(s) == "" {
		return time.Duration(0), nil
	}
	return str2duration.ParseDuration(strings.TrimSpace(s))
}
