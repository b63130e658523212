package config

import (
	"context"
)

type ContextKey string

const SettingsCtxKey ContextKey = "settings"

func ContextWithSettings(ctx context.Context, s *Settings) context.Context {
	return context.WithValue(ctx, SettingsCtxKey, s)
}

// FromContext returns the settings stored in ctx, or Default() when absent.
func FromContext(ctx context.Context) *Settings {
	if ctx != nil {
		if s, ok := ctx.Value(SettingsCtxKey).(*Settings); ok && s != nil {
			return s
		}
	}
	return Default()
}
