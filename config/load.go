package config

import (
	"fmt"
	"strings"
	"sync"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix prefixes every environment variable the loader reads.
const EnvPrefix = "KERNELMCP_"

// Loader loads the configuration and optionally watches its file.
type Loader struct {
	path string

	mu      sync.Mutex
	file    *file.File
	current Config
}

// NewLoader returns a Loader for the YAML file at path. An empty path skips
// the file layer.
func NewLoader(path string) *Loader {
	l := &Loader{path: path}
	if path != "" {
		l.file = file.Provider(path)
	}
	return l
}

// Load reads every layer, validates the result and returns it.
func Load(path string) (Config, error) {
	return NewLoader(path).Load()
}

// Load reads every layer, validates the result and returns it.
func (l *Loader) Load() (Config, error) {
	cfg, err := l.load()
	if err != nil {
		return Config{}, err
	}
	l.mu.Lock()
	l.current = cfg
	l.mu.Unlock()
	return cfg, nil
}

// Current returns the last configuration loaded successfully.
func (l *Loader) Current() Config {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current
}

func (l *Loader) load() (Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaultsMap(), "."), nil); err != nil {
		return Config{}, fmt.Errorf("load defaults: %w", err)
	}
	if l.file != nil {
		if err := k.Load(l.file, yaml.Parser()); err != nil {
			return Config{}, fmt.Errorf("load config file %s: %w", l.path, err)
		}
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return Config{}, fmt.Errorf("load environment: %w", err)
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Watch reloads the configuration whenever the file changes and passes
// the result to onChange. A reload that fails to parse or validate is
// passed as an error and the previous configuration stays current.
// Without a file, Watch does nothing.
func (l *Loader) Watch(onChange func(Config, error)) error {
	if l.file == nil {
		return nil
	}
	return l.file.Watch(func(_ any, err error) {
		if err != nil {
			onChange(Config{}, fmt.Errorf("watch %s: %w", l.path, err))
			return
		}
		cfg, err := l.Load()
		onChange(cfg, err)
	})
}

// Close stops watching the file.
func (l *Loader) Close() error {
	if l.file == nil {
		return nil
	}
	return l.file.Unwatch()
}

// envKey maps KERNELMCP_EXECUTION__DEFAULT_TIMEOUT to
// execution.default_timeout.
func envKey(s string) string {
	s = strings.TrimPrefix(s, EnvPrefix)
	return strings.ReplaceAll(strings.ToLower(s), "__", ".")
}

func defaultsMap() map[string]any {
	d := Defaults()
	kernelEnv := make(map[string]any, len(d.Kernel.Env))
	for k, v := range d.Kernel.Env {
		kernelEnv[k] = v
	}
	return map[string]any{
		"kernel.command":            d.Kernel.Command,
		"kernel.work_dir":           d.Kernel.WorkDir,
		"kernel.env":                kernelEnv,
		"kernel.startup_timeout":    d.Kernel.StartupTimeout.String(),
		"kernel.shutdown_timeout":   d.Kernel.ShutdownTimeout.String(),
		"kernel.startup_code":       d.Kernel.StartupCode,
		"execution.default_timeout": d.Execution.DefaultTimeout.String(),
		"execution.max_timeout":     d.Execution.MaxTimeout.String(),
		"execution.interrupt_grace": d.Execution.InterruptGrace.String(),
		"install.timeout":           d.Install.Timeout.String(),
		"render.echo_code":          d.Render.EchoCode,
		"render.html":               d.Render.HTML,
		"journal.path":              d.Journal.Path,
		"log.file":                  d.Log.File,
		"log.level":                 d.Log.Level,
		"server.name":               d.Server.Name,
		"server.version":            d.Server.Version,
	}
}
