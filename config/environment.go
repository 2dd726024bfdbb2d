package config

import (
	"os"
	"path/filepath"
	"strings"
)

const (
	appEnvVar              = "APP_ENV"
	environmentDevelopment = "development"
	environmentProduction  = "production"
	environmentStaging     = "staging"
)

var environmentAliases = map[string]string{
	"dev":   environmentDevelopment,
	"prod":  environmentProduction,
	"stag":  environmentStaging,
	"stage": environmentStaging,
}

// AppEnvironment reads the application environment from APP_ENV, resolving
// short aliases, and defaults to development.
func AppEnvironment() string {
	env := strings.ToLower(strings.TrimSpace(os.Getenv(appEnvVar)))
	if env == "" {
		return environmentDevelopment
	}
	if canonical, ok := environmentAliases[env]; ok {
		return canonical
	}
	return env
}

// ResolveConfigPath returns the environment specific variant of the default
// configuration file (config/config.production.yml for config/config.yml)
// when the caller kept the default path and such a file exists. An explicit
// path is always honoured.
func ResolveConfigPath(path, defaultPath string) string {
	if path == "" {
		path = defaultPath
	}
	if path != defaultPath {
		return path
	}

	ext := filepath.Ext(defaultPath)
	candidate := strings.TrimSuffix(defaultPath, ext) + "." + AppEnvironment() + ext
	if _, err := os.Stat(candidate); err == nil {
		return candidate
	}
	return path
}
