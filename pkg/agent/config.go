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

package agent

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/carverauto/edgeprobe/pkg/config"
	"github.com/carverauto/edgeprobe/pkg/frame"
	"github.com/carverauto/edgeprobe/pkg/logger"
	"github.com/carverauto/edgeprobe/pkg/natsutil"
	"github.com/carverauto/edgeprobe/pkg/probe"
	"github.com/carverauto/edgeprobe/pkg/worker"
)

const (
	DefaultControlURL        = "wss://10.3.158.111:3001/diagnostics"
	defaultResultQueueSize   = 1024
	defaultReconnectDelay    = 5 * time.Second
	defaultKeepaliveInterval = 30 * time.Second
	defaultWriteTimeout      = 10 * time.Second
	defaultHandshakeTimeout  = 15 * time.Second
	defaultShutdownGrace     = 30 * time.Second
	defaultONVIFPort         = 80
)

var (
	errInvalidControlURL = errors.New("control_url must be a ws:// or wss:// URL")
	errInvalidSize       = errors.New("must be greater than zero")
	errInvalidBackoff    = errors.New("max_reconnect_delay must not be below reconnect_delay")
	errInvalidSNMPPort   = errors.New("snmp port out of range")
)

// SNMPConfig tunes the snmp walk probe.
type SNMPConfig struct {
	Port    int             `json:"port"`
	Timeout config.Duration `json:"timeout"`
	Retries int             `json:"retries"`
	RootOID string          `json:"root_oid"`
}

// Config holds every knob of the edge agent.
type Config struct {
	FacilityConfig string `json:"facility_config"`
	ControlURL     string `json:"control_url"`

	MaxConcurrentCommands int `json:"max_concurrent_commands"`
	CommandBacklog        int `json:"command_backlog"`
	ResultQueueSize       int `json:"result_queue_size"`

	// MaxReconnectDelay above ReconnectDelay turns on exponential backoff.
	ReconnectDelay    config.Duration `json:"reconnect_delay"`
	MaxReconnectDelay config.Duration `json:"max_reconnect_delay"`
	KeepaliveInterval config.Duration `json:"keepalive_interval"`
	WriteTimeout      config.Duration `json:"write_timeout"`
	HandshakeTimeout  config.Duration `json:"handshake_timeout"`
	ShutdownGrace     config.Duration `json:"shutdown_grace"`
	// ProbeTimeout bounds each probe when set. Zero leaves probes unbounded.
	ProbeTimeout config.Duration `json:"probe_timeout"`

	TLS *config.TLSConfig `json:"tls,omitempty"`

	ONVIFPort       int             `json:"onvif_port"`
	ONVIFTimeout    config.Duration `json:"onvif_timeout"`
	HTTPTimeout     config.Duration `json:"http_timeout"`
	SNMP            SNMPConfig      `json:"snmp"`
	RTSPReadTimeout config.Duration `json:"rtsp_read_timeout"`
	FFmpegPath      string          `json:"ffmpeg_path"`
	FFprobePath     string          `json:"ffprobe_path"`
	PingPath        string          `json:"ping_path"`
	TraceroutePath  string          `json:"traceroute_path"`

	Logging *logger.Config   `json:"logging,omitempty"`
	NATS    *natsutil.Config `json:"nats,omitempty"`
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.FacilityConfig == "" {
		c.FacilityConfig = config.DefaultFacilityPath
	}

	if c.ControlURL == "" {
		c.ControlURL = DefaultControlURL
	}

	if c.MaxConcurrentCommands == 0 {
		c.MaxConcurrentCommands = worker.DefaultSize
	}

	if c.CommandBacklog == 0 {
		c.CommandBacklog = worker.DefaultBacklog
	}

	if c.ResultQueueSize == 0 {
		c.ResultQueueSize = defaultResultQueueSize
	}

	if c.ReconnectDelay == 0 {
		c.ReconnectDelay = config.Duration(defaultReconnectDelay)
	}

	if c.KeepaliveInterval == 0 {
		c.KeepaliveInterval = config.Duration(defaultKeepaliveInterval)
	}

	if c.WriteTimeout == 0 {
		c.WriteTimeout = config.Duration(defaultWriteTimeout)
	}

	if c.HandshakeTimeout == 0 {
		c.HandshakeTimeout = config.Duration(defaultHandshakeTimeout)
	}

	if c.ShutdownGrace == 0 {
		c.ShutdownGrace = config.Duration(defaultShutdownGrace)
	}

	if c.ONVIFPort == 0 {
		c.ONVIFPort = defaultONVIFPort
	}

	if c.Logging == nil {
		c.Logging = logger.DefaultConfig()
	}

	if c.NATS.Enabled() {
		c.NATS.ApplyDefaults()
	}
}

// Validate implements config.Validator.
func (c *Config) Validate() error {
	u, err := url.Parse(c.ControlURL)
	if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
		return fmt.Errorf("%w: %q", errInvalidControlURL, c.ControlURL)
	}

	sizes := []struct {
		name  string
		value int
	}{
		{"max_concurrent_commands", c.MaxConcurrentCommands},
		{"result_queue_size", c.ResultQueueSize},
		{"onvif_port", c.ONVIFPort},
	}

	for _, s := range sizes {
		if s.value <= 0 {
			return fmt.Errorf("%s %w", s.name, errInvalidSize)
		}
	}

	if c.CommandBacklog < 0 {
		return fmt.Errorf("command_backlog %w", errInvalidSize)
	}

	if c.ReconnectDelay <= 0 || c.KeepaliveInterval <= 0 || c.WriteTimeout <= 0 {
		return fmt.Errorf("reconnect_delay, keepalive_interval and write_timeout %w", errInvalidSize)
	}

	if c.MaxReconnectDelay != 0 && c.MaxReconnectDelay < c.ReconnectDelay {
		return errInvalidBackoff
	}

	if c.SNMP.Port < 0 || c.SNMP.Port > 65535 {
		return fmt.Errorf("%w: %d", errInvalidSNMPPort, c.SNMP.Port)
	}

	if c.TLS != nil {
		if err := c.TLS.Validate(); err != nil {
			return fmt.Errorf("tls: %w", err)
		}
	}

	if c.NATS.Enabled() {
		if err := c.NATS.Validate(); err != nil {
			return fmt.Errorf("nats: %w", err)
		}
	}

	return nil
}

// WorkerConfig sizes the worker pool.
func (c *Config) WorkerConfig() worker.Config {
	return worker.Config{Size: c.MaxConcurrentCommands, Backlog: c.CommandBacklog}
}

// ProbeOptions maps the probe settings onto the default registry.
func (c *Config) ProbeOptions() probe.Options {
	return probe.Options{
		PingPath:       c.PingPath,
		TraceroutePath: c.TraceroutePath,
		SNMP: probe.SNMPConfig{
			Port:    uint16(c.SNMP.Port), //nolint:gosec // range checked in Validate
			Timeout: c.SNMP.Timeout.Std(),
			Retries: c.SNMP.Retries,
			RootOID: c.SNMP.RootOID,
		},
		HTTPTimeout:  c.HTTPTimeout.Std(),
		ONVIFPort:    c.ONVIFPort,
		ONVIFTimeout: c.ONVIFTimeout.Std(),
		FFmpeg: frame.FFmpegConfig{
			FFmpegPath:    c.FFmpegPath,
			FFprobePath:   c.FFprobePath,
			SocketTimeout: c.RTSPReadTimeout.Std(),
		},
		RTSPReadTimeout: c.RTSPReadTimeout.Std(),
	}
}
