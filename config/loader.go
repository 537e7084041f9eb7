package config

import (
	"context"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/saiset-co/sai-dispatch/types"
)

type Loader struct {
	validator *validator.Validate
}

func NewLoader() *Loader {
	return &Loader{
		validator: validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (l *Loader) LoadFromFile(ctx context.Context, configPath string) (*types.ServiceConfig, map[string]interface{}, error) {
	if configPath == "" {
		return nil, nil, types.ErrConfigNotFound
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, nil, types.Errorf(types.ErrConfigNotFound, "file not found: %s", configPath)
	}

	data, err := l.ReadFileWithTimeout(ctx, configPath)
	if err != nil {
		return nil, nil, types.Errorf(types.ErrConfigLoadFailed, "%v", err)
	}

	return l.LoadFromBytes(data)
}

// LoadFromBytes overlays YAML on Defaults and validates the result. The raw
// document is returned as well so custom sections stay addressable.
func (l *Loader) LoadFromBytes(data []byte) (*types.ServiceConfig, map[string]interface{}, error) {
	config := l.Defaults()

	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, nil, types.Errorf(types.ErrConfigParseFailed, "%v", err)
	}

	raw := make(map[string]interface{})
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, nil, types.Errorf(types.ErrConfigParseFailed, "%v", err)
	}

	if err := l.Validate(config); err != nil {
		return nil, nil, err
	}

	return config, raw, nil
}

func (l *Loader) Validate(config *types.ServiceConfig) error {
	if config == nil {
		return types.ErrConfigIsNil
	}
	if err := l.validator.Struct(config); err != nil {
		return types.Errorf(types.ErrConfigValidateFailed, "%v", err)
	}
	return nil
}

func (l *Loader) ReadFileWithTimeout(ctx context.Context, filepath string) ([]byte, error) {
	type result struct {
		data []byte
		err  error
	}

	resultChan := make(chan result, 1)

	go func() {
		data, err := os.ReadFile(filepath)
		resultChan <- result{data: data, err: err}
	}()

	select {
	case res := <-resultChan:
		return res.data, res.err
	case <-ctx.Done():
		return nil, types.WrapError(ctx.Err(), "file read timeout")
	}
}

func (l *Loader) Defaults() *types.ServiceConfig {
	return Defaults()
}

func Defaults() *types.ServiceConfig {
	return &types.ServiceConfig{
		Server: &types.ServerConfig{
			HTTP: &types.HTTPConfig{
				Host:            "localhost",
				Port:            8080,
				ReadTimeout:     30,
				WriteTimeout:    30,
				IdleTimeout:     120,
				ShutdownTimeout: 5,
				MaxRequestBody:  4 * 1024 * 1024,
			},
		},
		Logger: &types.LoggerConfig{
			Level: "info",
		},
		Dispatch: &types.DispatchConfig{
			Timeout:          0,
			DefaultMediaType: "application/json",
		},
		Cache: &types.CacheConfig{
			Enabled:    false,
			Type:       "memory",
			DefaultTTL: time.Hour,
		},
		Docs: &types.DocsConfig{
			Enabled: false,
			Path:    "/docs",
		},
		Metrics: &types.MetricsConfig{
			Enabled: false,
			Type:    "prometheus",
			Path:    "/metrics",
		},
		Health: &types.HealthConfig{
			Enabled: false,
			Path:    "/health",
		},
		AuthProviders: &types.AuthProvidersConfig{
			Token: &types.TokenAuthConfig{Header: "Authorization"},
			Basic: &types.BasicAuthConfig{Realm: "Restricted"},
		},
		Middlewares: &types.MiddlewaresConfig{
			Enabled: true,
			Recovery: &types.MiddlewareItemConfig{
				Enabled: true,
				Params: map[string]interface{}{
					"stack_trace": true,
				},
				Weight: 10,
			},
			Metadata: &types.MiddlewareItemConfig{
				Enabled: true,
				Params: map[string]interface{}{
					"generate_request_id": true,
				},
				Weight: 20,
			},
			Logging: &types.MiddlewareItemConfig{
				Enabled: true,
				Params: map[string]interface{}{
					"log_level":   "info",
					"log_headers": false,
					"log_body":    false,
				},
				Weight: 30,
			},
			CORS: &types.MiddlewareItemConfig{
				Enabled: false,
				Params: map[string]interface{}{
					"allowed_origins": []string{"*"},
					"allowed_methods": []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
					"allowed_headers": []string{"Content-Type", "Authorization", "X-API-Key", "X-Request-ID"},
					"max_age":         86400,
				},
				Weight: 40,
			},
			RateLimit: &types.MiddlewareItemConfig{
				Enabled: false,
				Params: map[string]interface{}{
					"requests_per_minute": 100,
				},
				Weight: 50,
			},
			BodyLimit: &types.MiddlewareItemConfig{
				Enabled: false,
				Params: map[string]interface{}{
					"max_body_size": 10485760,
				},
				Weight: 60,
			},
			Compression: &types.MiddlewareItemConfig{
				Enabled: false,
				Params: map[string]interface{}{
					"threshold": 1024,
				},
				Weight: 70,
			},
			Cache: &types.MiddlewareItemConfig{
				Enabled: false,
				Weight:  80,
			},
		},
	}
}
