package config

import (
	"reflect"
	"strings"
	"sync"
)

// EnvMapping binds an environment variable to a config path.
type EnvMapping struct {
	EnvVar     string
	ConfigPath string
}

var (
	cachedMappings []EnvMapping
	mappingsOnce   sync.Once
)

// GenerateEnvMappings derives env mappings from the `env` tags of Config.
func GenerateEnvMappings() []EnvMapping {
	mappingsOnce.Do(func() {
		cachedMappings = extractMappings(reflect.TypeOf(Config{}), "")
	})
	return cachedMappings
}

func extractMappings(t reflect.Type, prefix string) []EnvMapping {
	var mappings []EnvMapping
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		koanfTag := field.Tag.Get("koanf")
		if !field.IsExported() || koanfTag == "" || koanfTag == "-" {
			continue
		}
		path := koanfTag
		if prefix != "" {
			path = prefix + "." + koanfTag
		}
		if envTag := field.Tag.Get("env"); envTag != "" && envTag != "-" {
			mappings = append(mappings, EnvMapping{EnvVar: envTag, ConfigPath: path})
		}
		if field.Type.Kind() == reflect.Struct && field.Type.PkgPath() != "time" {
			mappings = append(mappings, extractMappings(field.Type, path)...)
		}
	}
	return mappings
}

func GenerateEnvToConfigMap() map[string]string {
	mappings := GenerateEnvMappings()
	result := make(map[string]string, len(mappings))
	for _, m := range mappings {
		result[m.EnvVar] = m.ConfigPath
	}
	return result
}

// IsSensitiveConfigPath reports whether a config path holds a secret.
func IsSensitiveConfigPath(configPath string) bool {
	return checkSensitiveField(reflect.TypeOf(Config{}), strings.Split(configPath, "."))
}

func checkSensitiveField(t reflect.Type, parts []string) bool {
	if len(parts) == 0 {
		return false
	}
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if field.Tag.Get("koanf") != parts[0] {
			continue
		}
		if len(parts) == 1 {
			return field.Type == reflect.TypeOf(SensitiveString("")) || field.Tag.Get("sensitive") == "true"
		}
		if field.Type.Kind() == reflect.Struct && field.Type.PkgPath() != "time" {
			return checkSensitiveField(field.Type, parts[1:])
		}
	}
	return false
}
