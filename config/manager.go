package config

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/saiset-co/sai-dispatch/types"
)

type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

type ConfigurationManager struct {
	config      atomic.Pointer[types.ServiceConfig]
	parser      atomic.Pointer[Parser]
	configPath  string
	loader      *Loader
	state       atomic.Int32
	loadTimeout time.Duration
}

// NewConfigurationManager loads configPath immediately.
func NewConfigurationManager(configPath string) (*ConfigurationManager, error) {
	cm := &ConfigurationManager{
		configPath:  configPath,
		loader:      NewLoader(),
		loadTimeout: 30 * time.Second,
	}

	if err := cm.Load(); err != nil {
		return nil, types.WrapError(err, "failed to load initial configuration")
	}

	return cm, nil
}

// NewFromConfig wraps an already-built config after validating it.
func NewFromConfig(config *types.ServiceConfig) (*ConfigurationManager, error) {
	cm := &ConfigurationManager{
		loader:      NewLoader(),
		loadTimeout: 30 * time.Second,
	}

	if err := cm.loader.Validate(config); err != nil {
		return nil, err
	}

	cm.config.Store(config)
	cm.parser.Store(NewParser(rawFromConfig(config)))

	return cm, nil
}

// NewFromBytes loads a YAML document held in memory.
func NewFromBytes(data []byte) (*ConfigurationManager, error) {
	cm := &ConfigurationManager{
		loader:      NewLoader(),
		loadTimeout: 30 * time.Second,
	}

	config, raw, err := cm.loader.LoadFromBytes(data)
	if err != nil {
		return nil, err
	}

	cm.config.Store(config)
	cm.parser.Store(NewParser(raw))

	return cm, nil
}

func (cm *ConfigurationManager) Start() error {
	if !cm.transitionState(StateStopped, StateStarting) {
		return types.ErrServerAlreadyRunning
	}
	cm.setState(StateRunning)
	return nil
}

func (cm *ConfigurationManager) Stop() error {
	if !cm.transitionState(StateRunning, StateStopping) {
		return types.ErrServerNotRunning
	}
	cm.setState(StateStopped)
	return nil
}

func (cm *ConfigurationManager) IsRunning() bool {
	return State(cm.state.Load()) == StateRunning
}

// Load reads the file again and swaps the config atomically.
func (cm *ConfigurationManager) Load() error {
	if cm.configPath == "" {
		return types.ErrConfigNotFound
	}

	loadCtx, cancel := context.WithTimeout(context.Background(), cm.loadTimeout)
	defer cancel()

	g, gCtx := errgroup.WithContext(loadCtx)

	var config *types.ServiceConfig
	var raw map[string]interface{}

	g.Go(func() error {
		var err error
		config, raw, err = cm.loader.LoadFromFile(gCtx, cm.configPath)
		if err != nil {
			return types.WrapError(err, "failed to load configuration from file")
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}

	cm.config.Store(config)
	cm.parser.Store(NewParser(raw))

	return nil
}

func (cm *ConfigurationManager) GetConfig() *types.ServiceConfig {
	return cm.config.Load()
}

func (cm *ConfigurationManager) GetValue(path string, defaultValue interface{}) interface{} {
	parser := cm.parser.Load()
	if parser == nil {
		return defaultValue
	}
	return parser.GetValue(path, defaultValue)
}

func (cm *ConfigurationManager) GetAs(path string, target interface{}) error {
	parser := cm.parser.Load()
	if parser == nil {
		return types.ErrConfigIsNil
	}
	return parser.GetAs(path, target)
}

func (cm *ConfigurationManager) GetRawData() map[string]interface{} {
	parser := cm.parser.Load()
	if parser == nil {
		return make(map[string]interface{})
	}
	return parser.Raw()
}

func (cm *ConfigurationManager) setState(newState State) {
	cm.state.Store(int32(newState))
}

func (cm *ConfigurationManager) transitionState(from, to State) bool {
	return cm.state.CompareAndSwap(int32(from), int32(to))
}
