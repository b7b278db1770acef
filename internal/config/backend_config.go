package config

import "fmt"

type MemoryConfig struct {
	// MaxBytes caps the total size of stored values. Zero means unlimited.
	MaxBytes int64 `yaml:"max_bytes" env-default:"0"`
}

type PostgresConfig struct {
	Host     string `yaml:"host" env:"KEYFS_PG_HOST" env-default:"localhost"`
	Port     int    `yaml:"port" env:"KEYFS_PG_PORT" env-default:"5432"`
	User     string `yaml:"user" env:"KEYFS_PG_USER"`
	Password string `yaml:"password" env:"KEYFS_PG_PASSWORD"`
	Database string `yaml:"database" env:"KEYFS_PG_DATABASE"`
	Table    string `yaml:"table" env-default:"kv_entries"`
}

func (c PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s",
		c.User, c.Password, c.Host, c.Port, c.Database,
	)
}

type MinioConfig struct {
	Endpoint  string `yaml:"endpoint" env:"KEYFS_MINIO_ENDPOINT"`
	Bucket    string `yaml:"bucket" env:"KEYFS_MINIO_BUCKET"`
	Prefix    string `yaml:"prefix"`
	AccessKey string `yaml:"access_key" env:"KEYFS_MINIO_ACCESS_KEY"`
	SecretKey string `yaml:"secret_key" env:"KEYFS_MINIO_SECRET_KEY"`
	UseSSL    bool   `yaml:"use_ssl" env-default:"false"`
}

// Validate checks the fields a backend cannot start without. It runs
// before any backend instance is constructed so a bad configuration
// surfaces as a typed error rather than a connection failure.
func (c MinioConfig) Validate() error {
	if c.Endpoint == "" {
		return fmt.Errorf("minio: endpoint is required")
	}
	if c.Bucket == "" {
		return fmt.Errorf("minio: bucket is required")
	}
	if c.AccessKey == "" || c.SecretKey == "" {
		return fmt.Errorf("minio: credentials are required")
	}
	return nil
}

func (c PostgresConfig) Validate() error {
	if c.User == "" || c.Database == "" {
		return fmt.Errorf("postgres: user and database are required")
	}
	return nil
}
