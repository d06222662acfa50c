// Package config loads and validates s4 YAML configuration, applying
// defaults so the daemon can rely on fully populated values.
package config

import (
	"errors"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// TLSConfig holds optional TLS certificate paths for the HTTP API.
type TLSConfig struct {
	CertPath string `yaml:"cert_path"`
	KeyPath  string `yaml:"key_path"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// DBConfig holds database settings.
type DBConfig struct {
	Path string `yaml:"path"`
}

// HTTPConfig holds HTTP server settings.
type HTTPConfig struct {
	Bind        string    `yaml:"bind"`
	Port        int       `yaml:"port"`
	MaxUploadMB int       `yaml:"max_upload_mb"`
	TLS         TLSConfig `yaml:"tls"`
}

// FTPConfig holds connection settings for the remote FTP server that
// stores all file bytes.
type FTPConfig struct {
	Host           string `yaml:"host"`
	Port           int    `yaml:"port"`
	User           string `yaml:"user"`
	Password       string `yaml:"password"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// AuthConfig holds token settings.
type AuthConfig struct {
	JWTSecret       string `yaml:"jwt_secret"`
	TokenTTLMinutes int    `yaml:"token_ttl_minutes"`
}

// Config mirrors the s4.yaml schema.
type Config struct {
	Log        LogConfig  `yaml:"log"`
	DB         DBConfig   `yaml:"db"`
	HTTP       HTTPConfig `yaml:"http"`
	FTP        FTPConfig  `yaml:"ftp"`
	Auth       AuthConfig `yaml:"auth"`
	StagingDir string     `yaml:"staging_dir"`
}

// Load reads a YAML config file, applies defaults, and validates it.
func Load(path string) (Config, error) {
	var c Config
	if path == "" {
		return c, errors.New("config path is required")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return c, err
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return c, err
	}
	ApplyDefaults(&c)
	if err := Validate(&c); err != nil {
		return Config{}, err
	}
	return c, nil
}

// ApplyDefaults fills zero values with daemon defaults.
func ApplyDefaults(c *Config) {
	if strings.TrimSpace(c.Log.Level) == "" {
		c.Log.Level = "info"
	}
	if strings.TrimSpace(c.DB.Path) == "" {
		c.DB.Path = "./s4.db"
	}
	if strings.TrimSpace(c.HTTP.Bind) == "" {
		c.HTTP.Bind = "127.0.0.1"
	}
	if c.HTTP.Port == 0 {
		c.HTTP.Port = 3000
	}
	if c.HTTP.MaxUploadMB == 0 {
		c.HTTP.MaxUploadMB = 128
	}
	if c.FTP.Port == 0 {
		c.FTP.Port = 21
	}
	if c.FTP.TimeoutSeconds == 0 {
		c.FTP.TimeoutSeconds = 30
	}
	if c.Auth.TokenTTLMinutes == 0 {
		c.Auth.TokenTTLMinutes = 60
	}
}

// Validate rejects configs the daemon cannot run with.
func Validate(c *Config) error {
	if strings.TrimSpace(c.FTP.Host) == "" {
		return errors.New("ftp.host is required")
	}
	if strings.TrimSpace(c.FTP.User) == "" {
		return errors.New("ftp.user is required")
	}
	if strings.TrimSpace(c.Auth.JWTSecret) == "" {
		return errors.New("auth.jwt_secret is required; refusing to run with an insecure default")
	}
	if c.HTTP.Port < 0 || c.HTTP.Port > 65535 {
		return errors.New("http.port out of range")
	}
	if (c.HTTP.TLS.CertPath == "") != (c.HTTP.TLS.KeyPath == "") {
		return errors.New("http.tls requires both cert_path and key_path")
	}
	return nil
}
