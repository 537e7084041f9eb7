package types

import (
	"time"
)

type ConfigManager interface {
	Load() error
	GetConfig() *ServiceConfig
	GetValue(path string, defaultValue interface{}) interface{}
	GetAs(path string, target interface{}) error
}

type ServiceConfig struct {
	Name          string               `yaml:"name" json:"name" validate:"required"`
	Version       string               `yaml:"version" json:"version" validate:"required"`
	Server        *ServerConfig        `yaml:"server" json:"server"`
	Logger        *LoggerConfig        `yaml:"logger" json:"logger"`
	Dispatch      *DispatchConfig      `yaml:"dispatch" json:"dispatch"`
	Cache         *CacheConfig         `yaml:"cache" json:"cache"`
	Middlewares   *MiddlewaresConfig   `yaml:"middlewares" json:"middlewares"`
	AuthProviders *AuthProvidersConfig `yaml:"auth_providers" json:"auth_providers"`
	Docs          *DocsConfig          `yaml:"docs" json:"docs"`
	Metrics       *MetricsConfig       `yaml:"metrics" json:"metrics"`
	Health        *HealthConfig        `yaml:"health" json:"health"`
}

type ServerConfig struct {
	HTTP *HTTPConfig `yaml:"http" json:"http"`
}

type HTTPConfig struct {
	Host            string `yaml:"host" json:"host"`
	Port            int    `yaml:"port" json:"port" validate:"min=1,max=65535"`
	ReadTimeout     int    `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout    int    `yaml:"write_timeout" json:"write_timeout"`
	IdleTimeout     int    `yaml:"idle_timeout" json:"idle_timeout"`
	ShutdownTimeout int    `yaml:"shutdown_timeout" json:"shutdown_timeout"`
	MaxRequestBody  int    `yaml:"max_request_body" json:"max_request_body" validate:"min=0"`
}

type DispatchConfig struct {
	Timeout          time.Duration `yaml:"timeout" json:"timeout" validate:"min=0"`
	DefaultMediaType string        `yaml:"default_media_type" json:"default_media_type"`
	Debug            bool          `yaml:"debug" json:"debug"`
}

type LoggerConfig struct {
	Type   string      `yaml:"type" json:"type"`
	Level  string      `yaml:"level" json:"level"`
	Config interface{} `yaml:"config" json:"config"`
}

type CacheConfig struct {
	Enabled    bool          `yaml:"enabled" json:"enabled"`
	Type       string        `yaml:"type" json:"type" validate:"required_if=Enabled true"`
	Config     interface{}   `yaml:"config" json:"config"`
	DefaultTTL time.Duration `yaml:"default_ttl" json:"default_ttl" validate:"min=0"`
}

type MiddlewaresConfig struct {
	Enabled     bool                  `yaml:"enabled" json:"enabled"`
	Metadata    *MiddlewareItemConfig `yaml:"metadata" json:"metadata"`
	Logging     *MiddlewareItemConfig `yaml:"logging" json:"logging"`
	Cache       *MiddlewareItemConfig `yaml:"cache" json:"cache"`
	Recovery    *MiddlewareItemConfig `yaml:"recovery" json:"recovery"`
	Compression *MiddlewareItemConfig `yaml:"compression" json:"compression"`
	CORS        *MiddlewareItemConfig `yaml:"cors" json:"cors"`
	RateLimit   *MiddlewareItemConfig `yaml:"rate_limit" json:"rate_limit"`
	BodyLimit   *MiddlewareItemConfig `yaml:"body_limit" json:"body_limit"`
}

type MiddlewareItemConfig struct {
	Enabled bool                   `yaml:"enabled" json:"enabled"`
	Weight  int                    `yaml:"weight" json:"weight" validate:"min=0"`
	Params  map[string]interface{} `yaml:"params" json:"params"`
}

type AuthProvidersConfig struct {
	Token *TokenAuthConfig `yaml:"token" json:"token"`
	Basic *BasicAuthConfig `yaml:"basic" json:"basic"`
}

type TokenAuthConfig struct {
	Enabled bool     `yaml:"enabled" json:"enabled"`
	Tokens  []string `yaml:"tokens" json:"tokens" validate:"required_if=Enabled true"`
	Header  string   `yaml:"header" json:"header"`
}

type BasicAuthConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
	// Users maps user names to bcrypt password hashes.
	Users map[string]string `yaml:"users" json:"users" validate:"required_if=Enabled true"`
	Realm string            `yaml:"realm" json:"realm"`
}

type DocsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path" validate:"required_if=Enabled true"`
}

type MetricsConfig struct {
	Enabled bool              `yaml:"enabled" json:"enabled"`
	Type    string            `yaml:"type" json:"type" validate:"required_if=Enabled true"`
	Config  interface{}       `yaml:"config" json:"config"`
	Labels  map[string]string `yaml:"labels" json:"labels"`
	Path    string            `yaml:"path" json:"path"`
}

type HealthConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path"`
}
