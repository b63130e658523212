package config

import (
	"time"
)

// Settings is the process-wide configuration of the sqs tool.
type Settings struct {
	BuildDir       string         `koanf:"build-dir"       validate:"required" env:"SQS_BUILD_DIR"`
	OutDir         string         `koanf:"out-dir"         validate:"required" env:"SQS_OUT_DIR"`
	TextureDir     string         `koanf:"texture-dir"                         env:"SQS_TEXTURE_DIR"`
	MaterialDir    string         `koanf:"material-dir"                        env:"SQS_MATERIAL_DIR"`
	ObjectDir      string         `koanf:"object-dir"                          env:"SQS_OBJECT_DIR"`
	ModDir         string         `koanf:"mod-dir"                             env:"SQS_MOD_DIR"`
	FilterProfiles map[string]any `koanf:"filter-profiles"`
	Fetch          FetchConfig    `koanf:"fetch"`
	Chain          ChainConfig    `koanf:"chain"`
	Log            LogConfig      `koanf:"log"`
}

// FetchConfig controls URL source acquisition.
type FetchConfig struct {
	Timeout      time.Duration `koanf:"timeout"       validate:"min=0"        env:"SQS_FETCH_TIMEOUT"`
	Retries      int           `koanf:"retries"       validate:"min=0,max=10" env:"SQS_FETCH_RETRIES"`
	UserAgent    string        `koanf:"user-agent"                            env:"SQS_FETCH_USER_AGENT"`
	MaxRedirects int           `koanf:"max-redirects" validate:"min=0"        env:"SQS_FETCH_MAX_REDIRECTS"`
}

type ChainConfig struct {
	Policy string `koanf:"policy" validate:"oneof=continue abort" env:"SQS_CHAIN_POLICY"`
}

type LogConfig struct {
	Level string `koanf:"level" validate:"oneof=debug info warn error disabled" env:"SQS_LOG_LEVEL"`
}

// Default returns the built-in settings used when nothing overrides them.
func Default() *Settings {
	return &Settings{
		BuildDir:    "build/scratch",
		OutDir:      "build/",
		TextureDir:  "assets/textures/",
		MaterialDir: "assets/materials/",
		ObjectDir:   "assets/objects/",
		ModDir:      "assets/mods/",
		Fetch: FetchConfig{
			Timeout:      30 * time.Second,
			Retries:      0,
			UserAgent:    "sqs-pipeline",
			MaxRedirects: 5,
		},
		Chain: ChainConfig{Policy: "continue"},
		Log:   LogConfig{Level: "info"},
	}
}

// Raw returns the settings as the configuration layer the pipeline resolver
// starts from.
func (s *Settings) Raw() map[string]any {
	raw := map[string]any{
		"build-dir":    s.BuildDir,
		"out-dir":      s.OutDir,
		"texture-dir":  s.TextureDir,
		"material-dir": s.MaterialDir,
		"object-dir":   s.ObjectDir,
		"mod-dir":      s.ModDir,
	}
	if len(s.FilterProfiles) > 0 {
		raw["filter-profiles"] = s.FilterProfiles
	}
	return raw
}
