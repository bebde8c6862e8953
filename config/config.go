// Package config loads the offline-cache configuration.
// Values are taken from the defaults, then a YAML file, then the environment.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	offlinecache "github.com/always-cache/offline-cache"
	"github.com/always-cache/offline-cache/namespace"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Storage providers.
const (
	ProviderSQLite = "sqlite"
	ProviderBadger = "badger"
	ProviderMemory = "memory"
)

type Config struct {
	Port int `yaml:"port" env:"OFFLINE_CACHE_PORT"`
	// URL of the web application.
	Origin string `yaml:"origin" env:"OFFLINE_CACHE_ORIGIN"`
	// Hostname to use for passed through requests, e.g. if the origin is an IP address.
	Host string `yaml:"host" env:"OFFLINE_CACHE_HOST"`
	// Cache version. Changing it makes activation drop all namespaces of other versions.
	Version    string             `yaml:"version" env:"OFFLINE_CACHE_VERSION"`
	Namespaces namespace.Prefixes `yaml:"namespaces" envPrefix:"OFFLINE_CACHE_NAMESPACE_"`
	Storage    Storage            `yaml:"storage" envPrefix:"OFFLINE_CACHE_STORAGE_"`
	Fonts      Fonts              `yaml:"fonts" envPrefix:"OFFLINE_CACHE_FONTS_"`
	// Shell assets stored on install, relative to the origin.
	AppShell []string `yaml:"appShell" env:"OFFLINE_CACHE_APP_SHELL"`
	// Document served to offline navigations.
	RootDocument string        `yaml:"rootDocument" env:"OFFLINE_CACHE_ROOT_DOCUMENT"`
	FetchTimeout time.Duration `yaml:"fetchTimeout" env:"OFFLINE_CACHE_FETCH_TIMEOUT"`
	Log          Log           `yaml:"log" envPrefix:"OFFLINE_CACHE_LOG_"`
	// Serve Prometheus metrics on /metrics.
	Metrics bool                          `yaml:"metrics" env:"OFFLINE_CACHE_METRICS"`
	Push    offlinecache.PushNotification `yaml:"push"`
}

type Storage struct {
	// One of sqlite, badger or memory.
	Provider string `yaml:"provider" env:"PROVIDER"`
	// Database file (sqlite) or directory (badger).
	Path string `yaml:"path" env:"PATH"`
}

type Fonts struct {
	CSSHost  string `yaml:"cssHost" env:"CSS_HOST"`
	FileHost string `yaml:"fileHost" env:"FILE_HOST"`
	// Font resources stored on install.
	Assets []string `yaml:"assets" env:"ASSETS"`
}

type Log struct {
	// zerolog level name, e.g. debug or trace.
	Level string `yaml:"level" env:"LEVEL"`
	// Log file to use in addition to stdout.
	File string `yaml:"file" env:"FILE"`
}

// Default returns the configuration used when nothing else is specified.
func Default() Config {
	return Config{
		Port:    8080,
		Version: "v1.1",
		Namespaces: namespace.Prefixes{
			Static:  "panjika-static",
			Fonts:   "panjika-fonts",
			Generic: "panjika",
		},
		Storage: Storage{
			Provider: ProviderSQLite,
			Path:     "offline-cache.db",
		},
		Fonts: Fonts{
			CSSHost:  offlinecache.DefaultFontCSSHost,
			FileHost: offlinecache.DefaultFontFileHost,
			Assets: []string{
				"https://fonts.googleapis.com/css2?family=Noto+Sans+Bengali:wght@400;500;700&display=swap",
			},
		},
		AppShell: []string{
			"/",
			"/index.html",
			"/manifest.json",
			"/icons/icon-72x72.png",
			"/icons/icon-192x192.png",
			"/icons/icon-512x512.png",
		},
		RootDocument: offlinecache.DefaultRootDocument,
		FetchTimeout: offlinecache.DefaultFetchTimeout,
		Log: Log{
			Level: zerolog.LevelDebugValue,
		},
		Push: offlinecache.DefaultPushNotification(),
	}
}

// Load reads the configuration file, if given, on top of the defaults
// and then applies the environment. The result is validated.
func Load(filename string) (Config, error) {
	config := Default()
	if filename != "" {
		configBytes, err := os.ReadFile(filename)
		if err != nil {
			return config, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(configBytes, &config); err != nil {
			return config, fmt.Errorf("parse config %s: %w", filename, err)
		}
	}
	if err := env.Parse(&config); err != nil {
		return config, fmt.Errorf("parse env: %w", err)
	}
	return config, nil
}

// Validate checks that the configuration can be used to start the cache.
func (c Config) Validate() error {
	var errs []error
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid port %d", c.Port))
	}
	if _, err := c.OriginURL(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.Registry(); err != nil {
		errs = append(errs, err)
	}
	switch c.Storage.Provider {
	case ProviderSQLite, ProviderBadger, ProviderMemory:
	default:
		errs = append(errs, fmt.Errorf("unsupported storage provider %q", c.Storage.Provider))
	}
	if c.FetchTimeout < 0 {
		errs = append(errs, fmt.Errorf("fetch timeout must not be negative"))
	}
	if _, err := c.LogLevel(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// OriginURL parses the origin. It must be an absolute http(s) URL without a path.
func (c Config) OriginURL() (*url.URL, error) {
	if c.Origin == "" {
		return nil, fmt.Errorf("origin is required")
	}
	u, err := url.Parse(c.Origin)
	if err != nil {
		return nil, fmt.Errorf("parse origin: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("origin must be an absolute http(s) URL: %s", c.Origin)
	}
	if u.Path != "" && u.Path != "/" {
		return nil, fmt.Errorf("origins with paths are not supported: %s", c.Origin)
	}
	u.Path = ""
	return u, nil
}

func (c Config) Registry() (*namespace.Registry, error) {
	return namespace.NewRegistry(c.Version, c.Namespaces)
}

func (c Config) LogLevel() (zerolog.Level, error) {
	level, err := zerolog.ParseLevel(c.Log.Level)
	if err != nil {
		return zerolog.NoLevel, fmt.Errorf("log level: %w", err)
	}
	return level, nil
}
