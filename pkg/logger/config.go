/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package logger

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// envPrefix scopes the logging variables to edgeprobe. The bare names are
// still honored as a fallback.
const envPrefix = "EDGEPROBE_"

const (
	OutputStdout  = "stdout"
	OutputStderr  = "stderr"
	OutputConsole = "console"
)

var errInvalidOutput = errors.New("invalid log output")

// Config selects level, destination and timestamp layout.
type Config struct {
	Level      string `json:"level"`
	Debug      bool   `json:"debug"`
	Output     string `json:"output"`
	TimeFormat string `json:"time_format"`
}

// DefaultConfig reads LOG_LEVEL, DEBUG, LOG_OUTPUT and LOG_TIME_FORMAT,
// preferring the EDGEPROBE_ prefixed form of each.
func DefaultConfig() *Config {
	return &Config{
		Level:      envString("LOG_LEVEL", "info"),
		Debug:      envBool("DEBUG", false),
		Output:     envString("LOG_OUTPUT", OutputStdout),
		TimeFormat: envString("LOG_TIME_FORMAT", ""),
	}
}

func (c *Config) level() (zerolog.Level, error) {
	if c.Debug {
		return zerolog.DebugLevel, nil
	}

	if c.Level == "" {
		return zerolog.InfoLevel, nil
	}

	return zerolog.ParseLevel(strings.ToLower(c.Level))
}

func (c *Config) writer() (io.Writer, error) {
	switch c.Output {
	case "", OutputStdout:
		return os.Stdout, nil
	case OutputStderr:
		return os.Stderr, nil
	case OutputConsole:
		return zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}, nil
	default:
		return nil, fmt.Errorf("%w: %q", errInvalidOutput, c.Output)
	}
}

func lookupEnv(key string) (string, bool) {
	for _, name := range []string{envPrefix + key, key} {
		if value := os.Getenv(name); value != "" {
			return value, true
		}
	}

	return "", false
}

func envString(key, fallback string) string {
	if value, ok := lookupEnv(key); ok {
		return value
	}

	return fallback
}

func envBool(key string, fallback bool) bool {
	value, ok := lookupEnv(key)
	if !ok {
		return fallback
	}

	switch strings.ToLower(value) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}
