// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package domain

type Config struct {
	Version string `toml:"-" mapstructure:"-"`

	Host           string `toml:"host" mapstructure:"host"`
	Port           int    `toml:"port" mapstructure:"port"`
	BaseURL        string `toml:"baseUrl" mapstructure:"baseUrl"`
	LogLevel       string `toml:"logLevel" mapstructure:"logLevel"`
	LogPath        string `toml:"logPath" mapstructure:"logPath"`
	LogMaxSize     int    `toml:"logMaxSize" mapstructure:"logMaxSize"`
	LogMaxBackups  int    `toml:"logMaxBackups" mapstructure:"logMaxBackups"`
	MetricsEnabled bool   `toml:"metricsEnabled" mapstructure:"metricsEnabled"`

	// Listing source
	SourceHostname     string   `toml:"sourceHostname" mapstructure:"sourceHostname"`
	SourceScheme       string   `toml:"sourceScheme" mapstructure:"sourceScheme"`
	SourceMirrors      []string `toml:"sourceMirrors" mapstructure:"sourceMirrors"`
	UseDefaultMirrors  bool     `toml:"useDefaultMirrors" mapstructure:"useDefaultMirrors"`
	PageLimit          int      `toml:"pageLimit" mapstructure:"pageLimit"`
	ScraperConcurrency int      `toml:"scraperConcurrency" mapstructure:"scraperConcurrency"`
	ScraperTimeout     int      `toml:"scraperTimeout" mapstructure:"scraperTimeout"`
	ScraperRateLimit   float64  `toml:"scraperRateLimit" mapstructure:"scraperRateLimit"`
	MirrorBackoff      int      `toml:"mirrorBackoff" mapstructure:"mirrorBackoff"`
	MagnetTrackers     []string `toml:"magnetTrackers" mapstructure:"magnetTrackers"`
	TrackersFile       string   `toml:"trackersFile" mapstructure:"trackersFile"`

	// Torrent client backend
	ClientType     string `toml:"clientType" mapstructure:"clientType"`
	ClientHost     string `toml:"clientHost" mapstructure:"clientHost"`
	ClientPort     int    `toml:"clientPort" mapstructure:"clientPort"`
	ClientScheme   string `toml:"clientScheme" mapstructure:"clientScheme"`
	ClientURL      string `toml:"clientUrl" mapstructure:"clientUrl"`
	ClientUsername string `toml:"clientUsername" mapstructure:"clientUsername"`
	ClientPassword string `toml:"clientPassword" mapstructure:"clientPassword"`
	ClientTimeout  int    `toml:"clientTimeout" mapstructure:"clientTimeout"`
	Category       string `toml:"category" mapstructure:"category"`
	SavePathBase   string `toml:"savePathBase" mapstructure:"savePathBase"`
}
