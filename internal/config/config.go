/*
 * MIT License
 *
 * Copyright (c) 2020 Nicolas JUHEL
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 *
 */

// Package config loads the server's key=value configuration file (spec
// §6) via viper's "env" parser, which already implements exactly that
// grammar (KEY=value lines, "#" comments). Reload (SIGHUP) re-runs
// Load and the caller swaps the result in under its own mutex; config
// values are otherwise read-only after startup, per spec §3.
package config

import (
	"fmt"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Config is the read-only-after-startup configuration of spec §3,
// plus the ambient keys (log level, cache tuning) a complete ambient
// stack needs but spec.md's distilled table omits.
type Config struct {
	Port             int
	WorkerProcesses  int
	Root             string
	Log              string
	MaxConnections   int
	KeepAliveTimeout time.Duration

	LogLevel           string
	CacheTTL           time.Duration
	CacheCapacity      int
	CacheMaxEntryBytes int64
}

// defaults mirrors spec §6's configuration table plus the ambient
// additions documented in SPEC_FULL.md.
func defaults(v *viper.Viper) {
	v.SetDefault("port", 8080)
	v.SetDefault("worker_processes", 4)
	v.SetDefault("root", "./static")
	v.SetDefault("log", "./logs/access.log")
	v.SetDefault("max_connections", 10000)
	v.SetDefault("keep_alive_timeout", 60)
	v.SetDefault("log_level", "info")
	v.SetDefault("cache_ttl_seconds", 3600)
	v.SetDefault("cache_capacity", 10000)
	v.SetDefault("cache_max_entry_bytes", 1<<20)
}

// Load reads path (if non-empty) and returns a Config built from
// defaults overlaid by the file's key=value pairs. An unset or missing
// path is not an error: the server runs on defaults, matching spec §6's
// CLI contract of a single *optional* positional config path.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("env")
	defaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: load %q: %w", path, err)
		}
	}

	return fromViper(v), nil
}

func fromViper(v *viper.Viper) *Config {
	return &Config{
		Port:               v.GetInt("port"),
		WorkerProcesses:    v.GetInt("worker_processes"),
		Root:               v.GetString("root"),
		Log:                v.GetString("log"),
		MaxConnections:     v.GetInt("max_connections"),
		KeepAliveTimeout:   time.Duration(v.GetInt("keep_alive_timeout")) * time.Second,
		LogLevel:           v.GetString("log_level"),
		CacheTTL:           time.Duration(v.GetInt("cache_ttl_seconds")) * time.Second,
		CacheCapacity:      v.GetInt("cache_capacity"),
		CacheMaxEntryBytes: v.GetInt64("cache_max_entry_bytes"),
	}
}

// Watch loads path the same way Load does, then (when path is non-empty)
// arms viper's fsnotify-backed file watch so an external rewrite of the
// config file — a config-management tool, an operator's editor save —
// triggers onChange with the freshly reloaded Config, the same reload
// path SIGHUP drives. Returns the initial Config either way.
func Watch(path string, onChange func(*Config)) (*Config, error) {
	v := viper.New()
	v.SetConfigType("env")
	defaults(v)

	if path == "" {
		return fromViper(v), nil
	}

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: load %q: %w", path, err)
	}

	v.OnConfigChange(func(_ fsnotify.Event) {
		onChange(fromViper(v))
	})
	v.WatchConfig()

	return fromViper(v), nil
}
