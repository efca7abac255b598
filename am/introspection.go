package am

import (
	"os"
	"sort"
	"strings"
)

// ConfigSource represents where a configuration value came from
type ConfigSource string

const (
	SourceDefault     ConfigSource = "default"
	SourceSystem      ConfigSource = "system"      // /etc/ixbulk/am.toml
	SourceUser        ConfigSource = "user"        // ~/.ixbulk/am.toml
	SourceProject     ConfigSource = "project"     // ixbulk.toml or am.toml found upward from cwd
	SourceEnvironment ConfigSource = "environment" // IXBULK_* env vars
)

// SettingSource locates the layer a key was read from
type SettingSource struct {
	Source ConfigSource
	Path   string
}

// SettingInfo contains metadata about a configuration setting
type SettingInfo struct {
	Key        string       `json:"key"`
	Value      interface{}  `json:"value"`
	Source     ConfigSource `json:"source"`
	SourcePath string       `json:"source_path,omitempty"` // File path or env var name
}

// Introspect returns every effective setting with the layer that supplied it, sorted by key
func Introspect() []SettingInfo {
	v := GetViper()

	loadMu.Lock()
	sources := make(map[string]SettingSource, len(ConfigSources))
	for k, s := range ConfigSources {
		sources[k] = s
	}
	loadMu.Unlock()

	keys := v.AllKeys()
	sort.Strings(keys)

	settings := make([]SettingInfo, 0, len(keys))
	for _, key := range keys {
		info := SettingInfo{Key: key, Value: v.Get(key), Source: SourceDefault}

		if src, ok := sources[key]; ok {
			info.Source = src.Source
			info.SourcePath = src.Path
		}

		envName := "IXBULK_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if _, ok := os.LookupEnv(envName); ok {
			info.Source = SourceEnvironment
			info.SourcePath = envName
		}

		settings = append(settings, info)
	}
	return settings
}
