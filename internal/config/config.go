// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"
	"sync"
	"text/template"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/autobrr/abbot/internal/domain"
)

var envPrefix = "ABBOT__"

const defaultTrackersFile = "trackers.json"

type AppConfig struct {
	Config  *domain.Config
	viper   *viper.Viper
	version string

	// configMu guards Config against the reload goroutine for readers outside startup.
	configMu sync.RWMutex

	listenersMu sync.RWMutex
	listeners   []func(*domain.Config)
}

func New(configDirOrPath string, versions ...string) (*AppConfig, error) {
	version := "dev"
	if len(versions) > 0 && strings.TrimSpace(versions[0]) != "" {
		version = versions[0]
	}

	c := &AppConfig{
		viper:   viper.New(),
		Config:  &domain.Config{},
		version: version,
	}

	c.defaults()

	if err := c.load(configDirOrPath); err != nil {
		return nil, err
	}

	c.loadFromEnv()

	if err := c.viper.Unmarshal(c.Config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	c.Config.Version = c.version

	c.watchConfig()

	return c, nil
}

func (c *AppConfig) defaults() {
	host := "localhost"
	if detectContainer() {
		host = "0.0.0.0"
	}

	c.viper.SetDefault("host", host)
	c.viper.SetDefault("port", 5078)
	c.viper.SetDefault("baseUrl", "/")
	c.viper.SetDefault("logLevel", "INFO")
	c.viper.SetDefault("logPath", "")
	c.viper.SetDefault("logMaxSize", 50)
	c.viper.SetDefault("logMaxBackups", 3)
	c.viper.SetDefault("metricsEnabled", true)

	c.viper.SetDefault("sourceHostname", "audiobookbay.lu")
	c.viper.SetDefault("sourceScheme", "https")
	c.viper.SetDefault("sourceMirrors", []string{})
	c.viper.SetDefault("useDefaultMirrors", true)
	c.viper.SetDefault("pageLimit", 3)
	c.viper.SetDefault("scraperConcurrency", 3)
	c.viper.SetDefault("scraperTimeout", 15)
	c.viper.SetDefault("scraperRateLimit", 0)
	c.viper.SetDefault("mirrorBackoff", 30)
	c.viper.SetDefault("magnetTrackers", []string{})
	c.viper.SetDefault("trackersFile", "")

	c.viper.SetDefault("clientType", "")
	c.viper.SetDefault("clientHost", "localhost")
	c.viper.SetDefault("clientPort", 0) // 0 picks the backend's default port
	c.viper.SetDefault("clientScheme", "http")
	c.viper.SetDefault("clientUrl", "")
	c.viper.SetDefault("clientUsername", "")
	c.viper.SetDefault("clientPassword", "")
	c.viper.SetDefault("clientTimeout", 30)
	c.viper.SetDefault("category", "abb-automated")
	c.viper.SetDefault("savePathBase", "")
}

func (c *AppConfig) load(configDirOrPath string) error {
	c.viper.SetConfigType("toml")

	if configDirOrPath != "" {
		configPath := c.resolveConfigPath(configDirOrPath)
		c.viper.SetConfigFile(configPath)

		if err := c.viper.ReadInConfig(); err != nil {
			// SetConfigFile reports a missing file as an fs error, not ConfigFileNotFoundError
			_, notFound := err.(viper.ConfigFileNotFoundError)
			if notFound || os.IsNotExist(err) {
				if err := c.writeDefaultConfig(configPath); err != nil {
					return err
				}
				if err := c.viper.ReadInConfig(); err != nil {
					return fmt.Errorf("failed to read newly created config: %w", err)
				}
				return nil
			}
			return fmt.Errorf("failed to read config: %w", err)
		}
		return nil
	}

	c.viper.SetConfigName("config")
	c.viper.AddConfigPath(".")
	c.viper.AddConfigPath(GetDefaultConfigDir())

	if err := c.viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			defaultConfigPath := filepath.Join(GetDefaultConfigDir(), "config.toml")
			if err := c.writeDefaultConfig(defaultConfigPath); err != nil {
				return err
			}
			c.viper.SetConfigFile(defaultConfigPath)
			if err := c.viper.ReadInConfig(); err != nil {
				return fmt.Errorf("failed to read newly created config: %w", err)
			}
			return nil
		}
		return fmt.Errorf("failed to read config: %w", err)
	}

	return nil
}

func (c *AppConfig) loadFromEnv() {
	// Explicit bindings only. AutomaticEnv picks up unrelated variables in container environments.
	c.viper.BindEnv("host", envPrefix+"HOST")
	c.viper.BindEnv("port", envPrefix+"PORT")
	c.viper.BindEnv("baseUrl", envPrefix+"BASE_URL")
	c.viper.BindEnv("logLevel", envPrefix+"LOG_LEVEL")
	c.viper.BindEnv("logPath", envPrefix+"LOG_PATH")
	c.viper.BindEnv("logMaxSize", envPrefix+"LOG_MAX_SIZE")
	c.viper.BindEnv("logMaxBackups", envPrefix+"LOG_MAX_BACKUPS")
	c.viper.BindEnv("metricsEnabled", envPrefix+"METRICS_ENABLED")

	c.viper.BindEnv("sourceHostname", envPrefix+"SOURCE_HOSTNAME")
	c.viper.BindEnv("sourceScheme", envPrefix+"SOURCE_SCHEME")
	c.viper.BindEnv("sourceMirrors", envPrefix+"SOURCE_MIRRORS")
	c.viper.BindEnv("useDefaultMirrors", envPrefix+"USE_DEFAULT_MIRRORS")
	c.viper.BindEnv("pageLimit", envPrefix+"PAGE_LIMIT")
	c.viper.BindEnv("scraperConcurrency", envPrefix+"SCRAPER_CONCURRENCY")
	c.viper.BindEnv("scraperTimeout", envPrefix+"SCRAPER_TIMEOUT")
	c.viper.BindEnv("scraperRateLimit", envPrefix+"SCRAPER_RATE_LIMIT")
	c.viper.BindEnv("mirrorBackoff", envPrefix+"MIRROR_BACKOFF")
	c.viper.BindEnv("magnetTrackers", envPrefix+"MAGNET_TRACKERS")
	c.viper.BindEnv("trackersFile", envPrefix+"TRACKERS_FILE")

	c.viper.BindEnv("clientType", envPrefix+"CLIENT_TYPE")
	c.viper.BindEnv("clientHost", envPrefix+"CLIENT_HOST")
	c.viper.BindEnv("clientPort", envPrefix+"CLIENT_PORT")
	c.viper.BindEnv("clientScheme", envPrefix+"CLIENT_SCHEME")
	c.viper.BindEnv("clientUrl", envPrefix+"CLIENT_URL")
	c.viper.BindEnv("clientUsername", envPrefix+"CLIENT_USERNAME")
	c.bindOrReadFromFile("clientPassword", envPrefix+"CLIENT_PASSWORD")
	c.viper.BindEnv("clientTimeout", envPrefix+"CLIENT_TIMEOUT")
	c.viper.BindEnv("category", envPrefix+"CATEGORY")
	c.viper.BindEnv("savePathBase", envPrefix+"SAVE_PATH_BASE")
}

func (c *AppConfig) watchConfig() {
	c.viper.WatchConfig()
	c.viper.OnConfigChange(func(e fsnotify.Event) {
		log.Info().Msgf("Config file changed: %s", e.Name)
		c.reload()
	})
}

func (c *AppConfig) reload() {
	c.configMu.Lock()
	err := c.viper.Unmarshal(c.Config)
	c.Config.Version = c.version
	c.configMu.Unlock()

	if err != nil {
		log.Error().Err(err).Msg("Failed to reload configuration")
		return
	}

	c.applyDynamicChanges()
}

func (c *AppConfig) applyDynamicChanges() {
	c.ApplyLogConfig()
	c.notifyListeners()
}

// RegisterReloadListener registers a callback that's invoked when the configuration file is reloaded.
func (c *AppConfig) RegisterReloadListener(fn func(*domain.Config)) {
	c.listenersMu.Lock()
	defer c.listenersMu.Unlock()
	c.listeners = append(c.listeners, fn)
}

func (c *AppConfig) notifyListeners() {
	c.listenersMu.RLock()
	listeners := append([]func(*domain.Config){}, c.listeners...)
	c.listenersMu.RUnlock()

	if len(listeners) == 0 {
		return
	}

	c.configMu.RLock()
	copied := *c.Config
	c.configMu.RUnlock()
	for _, listener := range listeners {
		listener(&copied)
	}
}

func (c *AppConfig) writeDefaultConfig(path string) error {
	if _, err := os.Stat(path); err == nil {
		log.Debug().Msgf("Config file already exists at: %s", path)
		return nil
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory %s: %w", dir, err)
	}
	log.Debug().Msgf("Created config directory: %s", dir)

	configTemplate := `# config.toml - Auto-generated on first run

# Hostname / IP of the API server
# Default: "localhost" (or "0.0.0.0" in containers)
host = "{{ .host }}"

# Port
# Default: 5078
port = {{ .port }}

# Log level
# Default: "INFO"
# Options: "ERROR", "DEBUG", "INFO", "WARN", "TRACE"
logLevel = "{{ .logLevel }}"

# Log file path
# If not defined, logs to stdout
#logPath = "log/abbot.log"

# Log rotation
# Default: {{ .logMaxSize }} MB, {{ .logMaxBackups }} backups
#logMaxSize = {{ .logMaxSize }}
#logMaxBackups = {{ .logMaxBackups }}

# Expose Prometheus metrics on /metrics
#metricsEnabled = true

## Listing source

# Primary hostname, tried first
sourceHostname = "{{ .sourceHostname }}"

# Extra mirrors, tried after the primary and before the built-in list
#sourceMirrors = ["audiobookbay.is"]

# Append the built-in mirror list after your own
#useDefaultMirrors = true

# Pages fetched per search
pageLimit = {{ .pageLimit }}

# Maximum simultaneous requests to the listing site
scraperConcurrency = {{ .scraperConcurrency }}

# Seconds a failed mirror is skipped before it is probed again
#mirrorBackoff = 30

# Extra trackers appended to every magnet link.
# A trackers.json (or YAML) list next to this file takes precedence.
#magnetTrackers = []
#trackersFile = "trackers.json"

## Torrent client

# One of "qbittorrent", "transmission", "deluge"
clientType = "{{ .clientType }}"
clientHost = "{{ .clientHost }}"
# 0 uses the backend default (8080, 9091, 8112)
#clientPort = 0
#clientScheme = "http"
# Full URL, overrides host, port and scheme
#clientUrl = ""
#clientUsername = ""
#clientPassword = ""

# Label or category applied to added torrents
category = "{{ .category }}"

# Downloads are saved to <savePathBase>/<book title>
#savePathBase = "/downloads/audiobooks"
`

	data := map[string]any{
		"host":               c.viper.GetString("host"),
		"port":               c.viper.GetInt("port"),
		"logLevel":           c.viper.GetString("logLevel"),
		"logMaxSize":         c.viper.GetInt("logMaxSize"),
		"logMaxBackups":      c.viper.GetInt("logMaxBackups"),
		"sourceHostname":     c.viper.GetString("sourceHostname"),
		"pageLimit":          c.viper.GetInt("pageLimit"),
		"scraperConcurrency": c.viper.GetInt("scraperConcurrency"),
		"clientType":         c.viper.GetString("clientType"),
		"clientHost":         c.viper.GetString("clientHost"),
		"category":           c.viper.GetString("category"),
	}

	tmpl, err := template.New("config").Parse(configTemplate)
	if err != nil {
		return fmt.Errorf("failed to parse config template: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	if err := tmpl.Execute(f, data); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	log.Info().Msgf("Created default config file: %s", path)
	return nil
}

// GetDefaultConfigDir returns the OS-specific config directory
func GetDefaultConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		if xdgConfig == "/config" {
			return xdgConfig
		}
		return filepath.Join(xdgConfig, "abbot")
	}

	switch runtime.GOOS {
	case "windows":
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "abbot")
		}
		home, _ := os.UserHomeDir()
		return filepath.Join(home, "AppData", "Roaming", "abbot")
	default:
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".config", "abbot")
	}
}

func detectContainer() bool {
	if _, err := os.Stat("/.dockerenv"); err == nil {
		return true
	}
	if _, err := os.Stat("/dev/.lxc-boot-id"); err == nil {
		return true
	}
	return os.Getpid() == 1
}

func (c *AppConfig) ApplyLogConfig() {
	zerolog.TimeFieldFormat = time.RFC3339

	setLogLevel(c.Config.LogLevel)

	writer := c.baseLogWriter()

	if c.Config.LogPath != "" {
		multiWriter, err := setupLogFile(c.Config.LogPath, writer, c.Config.LogMaxSize, c.Config.LogMaxBackups)
		if err != nil {
			log.Error().Err(err).Msg("Failed to setup log file")
		} else {
			writer = multiWriter
		}
	}

	log.Logger = log.Logger.Output(writer)
}

func setLogLevel(level string) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	log.Logger = log.Logger.Level(lvl)
}

func setupLogFile(path string, base io.Writer, maxSize, maxBackups int) (io.Writer, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	if maxSize <= 0 {
		maxSize = 50
	}

	if maxBackups < 0 {
		maxBackups = 0
	}

	rotator := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxSize,
		MaxBackups: maxBackups,
	}

	return io.MultiWriter(base, rotator), nil
}

func baseLogWriter(version string) io.Writer {
	if isDevBuild(version) {
		writer := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
		writer.PartsOrder = []string{zerolog.TimestampFieldName, zerolog.LevelFieldName, zerolog.MessageFieldName}
		return writer
	}
	return os.Stderr
}

func (c *AppConfig) baseLogWriter() io.Writer {
	return baseLogWriter(c.version)
}

// InitDefaultLogger configures zerolog with the default writer for this version.
// This is used by CLI entry points before a configuration file is loaded.
func InitDefaultLogger(version string) {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Logger.Output(baseLogWriter(version))
}

func isDevBuild(version string) bool {
	v := strings.ToLower(strings.TrimSpace(version))
	return v == "" || v == "dev" || strings.HasSuffix(v, "-dev")
}

// resolveConfigPath determines the actual config file path from the provided directory or file path
func (c *AppConfig) resolveConfigPath(configDirOrPath string) string {
	return ResolveConfigPath(configDirOrPath)
}

// ResolveConfigPath maps a --config-dir value to the config file it names. Empty means the
// OS default directory.
func ResolveConfigPath(configDirOrPath string) string {
	if configDirOrPath == "" {
		return filepath.Join(GetDefaultConfigDir(), "config.toml")
	}

	if strings.HasSuffix(strings.ToLower(configDirOrPath), ".toml") {
		return configDirOrPath
	}

	if info, err := os.Stat(configDirOrPath); err == nil && !info.IsDir() {
		return configDirOrPath
	}

	return filepath.Join(configDirOrPath, "config.toml")
}

// GetConfigDir returns the directory containing the config file
func (c *AppConfig) GetConfigDir() string {
	if c.viper != nil && c.viper.ConfigFileUsed() != "" {
		return filepath.Dir(c.viper.ConfigFileUsed())
	}
	return GetDefaultConfigDir()
}

// ExtraTrackers returns the operator tracker list. A tracker file wins over the inline list.
func (c *AppConfig) ExtraTrackers() []string {
	c.configMu.RLock()
	path := c.Config.TrackersFile
	inline := slices.Clone(c.Config.MagnetTrackers)
	c.configMu.RUnlock()

	explicit := path != ""
	if !explicit {
		path = defaultTrackersFile
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(c.GetConfigDir(), path)
	}

	trackers, err := LoadTrackerFile(path)
	switch {
	case err == nil:
		log.Info().Str("path", path).Int("count", len(trackers)).Msg("Loaded trackers from file")
		return trackers
	case explicit || !os.IsNotExist(err):
		log.Warn().Err(err).Str("path", path).Msg("Could not load tracker file, using inline trackers")
	}

	return cleanTrackers(inline)
}

func WriteDefaultConfig(path string) error {
	c := &AppConfig{
		viper: viper.New(),
	}

	c.defaults()

	return c.writeDefaultConfig(path)
}

// bindOrReadFromFile sets the viper key from the file named by <envVar>_FILE when present,
// otherwise binds the plain env var.
func (c *AppConfig) bindOrReadFromFile(viperVar string, envVar string) {
	if filePath := os.Getenv(envVar + "_FILE"); filePath != "" {
		content, err := os.ReadFile(filePath)
		if err != nil {
			log.Error().Err(err).Str("path", filePath).Msg("Could not read " + envVar + "_FILE")
			c.viper.BindEnv(viperVar, envVar)
			return
		}
		c.viper.Set(viperVar, strings.TrimSpace(string(content)))
		return
	}
	c.viper.BindEnv(viperVar, envVar)
}
