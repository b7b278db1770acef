package config

import (
	"time"
)

type AppConfig struct {
	Port           int           `yaml:"port" env-default:"8080"`
	DefaultTimeout time.Duration `yaml:"default_timeout" env-default:"5s"`
}

type CacheConfig struct {
	// MaxEntries bounds the metadata cache. Zero or negative disables
	// caching entirely, which is the right setting for backends mutated
	// by external writers.
	MaxEntries int `yaml:"max_entries" env:"KEYFS_CACHE_MAX_ENTRIES" env-default:"1024"`
}
