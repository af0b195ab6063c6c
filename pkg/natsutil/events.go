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

// Package natsutil mirrors command results to NATS JetStream as CloudEvents.
package natsutil

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/carverauto/edgeprobe/pkg/config"
	"github.com/carverauto/edgeprobe/pkg/logger"
	"github.com/carverauto/edgeprobe/pkg/models"
)

const (
	DefaultStream        = "EDGE_RESULTS"
	DefaultSubjectPrefix = "edgeprobe.results"
	defaultPublishWait   = 5 * time.Second

	resultEventType = "com.carverauto.edgeprobe.command.result"
)

var errMissingURL = errors.New("nats url is required")

// Config enables the result mirror when URL is set.
type Config struct {
	URL            string            `json:"url"`
	Domain         string            `json:"domain"`
	Stream         string            `json:"stream"`
	SubjectPrefix  string            `json:"subject_prefix"`
	PublishTimeout config.Duration   `json:"publish_timeout"`
	TLS            *config.TLSConfig `json:"tls,omitempty"`
}

func (c *Config) Enabled() bool {
	return c != nil && c.URL != ""
}

func (c *Config) ApplyDefaults() {
	if c.Stream == "" {
		c.Stream = DefaultStream
	}

	if c.SubjectPrefix == "" {
		c.SubjectPrefix = DefaultSubjectPrefix
	}

	if c.PublishTimeout <= 0 {
		c.PublishTimeout = config.Duration(defaultPublishWait)
	}
}

func (c *Config) Validate() error {
	if c.TLS != nil {
		return c.TLS.Validate()
	}

	return nil
}

// CloudEvent is the CloudEvents 1.0 JSON envelope.
type CloudEvent struct {
	SpecVersion     string     `json:"specversion"`
	ID              string     `json:"id"`
	Source          string     `json:"source"`
	Type            string     `json:"type"`
	DataContentType string     `json:"datacontenttype,omitempty"`
	Subject         string     `json:"subject,omitempty"`
	Time            *time.Time `json:"time,omitempty"`
	Data            any        `json:"data,omitempty"`
}

// Publisher is the subset of jetstream.JetStream used for publishing.
type Publisher interface {
	Publish(ctx context.Context, subject string, payload []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// ResultPublisher publishes each command result for one edge device.
type ResultPublisher struct {
	js      Publisher
	subject string
	source  string
	timeout time.Duration
	logger  logger.Logger
}

func NewResultPublisher(js Publisher, subjectPrefix, edgeDeviceID string, timeout time.Duration, log logger.Logger) *ResultPublisher {
	if subjectPrefix == "" {
		subjectPrefix = DefaultSubjectPrefix
	}

	if timeout <= 0 {
		timeout = defaultPublishWait
	}

	return &ResultPublisher{
		js:      js,
		subject: subjectPrefix + "." + subjectToken(edgeDeviceID),
		source:  "edgeprobe/" + edgeDeviceID,
		timeout: timeout,
		logger:  log,
	}
}

func (p *ResultPublisher) Subject() string {
	return p.subject
}

// Publish wraps r in a CloudEvent and waits for the JetStream ack.
func (p *ResultPublisher) Publish(ctx context.Context, r *models.Result) error {
	now := time.Now().UTC()

	event := CloudEvent{
		SpecVersion:     "1.0",
		ID:              uuid.New().String(),
		Source:          p.source,
		Type:            resultEventType,
		DataContentType: "application/json",
		Subject:         p.subject,
		Time:            &now,
		Data:            r,
	}

	eventBytes, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal result event: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	ack, err := p.js.Publish(ctx, p.subject, eventBytes, jetstream.WithMsgID(event.ID))
	if err != nil {
		return fmt.Errorf("failed to publish result event: %w", err)
	}

	p.logger.Debug().
		Str("event_id", event.ID).
		Str("subject", p.subject).
		Uint64("seq", ack.Sequence).
		Msg("Published result event")

	return nil
}

// Connect dials NATS with the TLS and reconnect settings used by the agent.
func Connect(cfg *Config, name string, log logger.Logger, extraOpts ...nats.Option) (*nats.Conn, error) {
	if !cfg.Enabled() {
		return nil, errMissingURL
	}

	opts := []nats.Option{
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			log.Warn().Err(err).Msg("NATS error")
		}),
		nats.ConnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("Connected to NATS")
		}),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	}

	if cfg.TLS != nil {
		tlsConf, err := cfg.TLS.ClientConfig()
		if err != nil {
			return nil, fmt.Errorf("failed to build NATS TLS config: %w", err)
		}

		opts = append(opts, nats.Secure(tlsConf))
	}

	opts = append(opts, extraOpts...)

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	return nc, nil
}

// NewJetStream returns a JetStream context for nc, honoring an optional domain.
func NewJetStream(nc *nats.Conn, domain string) (jetstream.JetStream, error) {
	if domain != "" {
		js, err := jetstream.NewWithDomain(nc, domain)
		if err != nil {
			return nil, fmt.Errorf("failed to create JetStream context with domain %s: %w", domain, err)
		}

		return js, nil
	}

	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	return js, nil
}

// EnsureStream creates streamName when it is missing and makes sure it
// captures subject.
func EnsureStream(ctx context.Context, js jetstream.JetStream, streamName, subject string) error {
	stream, err := js.Stream(ctx, streamName)
	if err != nil {
		if !isStreamMissingErr(err) {
			return fmt.Errorf("failed to look up stream %s: %w", streamName, err)
		}

		_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
			Name:     streamName,
			Subjects: []string{subject},
		})
		if err != nil {
			return fmt.Errorf("failed to create stream %s: %w", streamName, err)
		}

		return nil
	}

	info, err := stream.Info(ctx)
	if err != nil {
		return fmt.Errorf("failed to read stream %s: %w", streamName, err)
	}

	subjects := ensureSubjectList(info.Config.Subjects, subject)
	if len(subjects) == len(info.Config.Subjects) {
		return nil
	}

	cfg := info.Config
	cfg.Subjects = subjects

	if _, err := js.UpdateStream(ctx, cfg); err != nil {
		return fmt.Errorf("failed to add subject to stream %s: %w", streamName, err)
	}

	return nil
}

// Open connects, ensures the stream and returns a publisher for the device.
// The returned close function drains the connection.
func Open(ctx context.Context, cfg *Config, edgeDeviceID string, log logger.Logger) (*ResultPublisher, func(), error) {
	cfg.ApplyDefaults()

	nc, err := Connect(cfg, "edgeprobe-"+edgeDeviceID, log)
	if err != nil {
		return nil, nil, err
	}

	js, err := NewJetStream(nc, cfg.Domain)
	if err != nil {
		nc.Close()

		return nil, nil, err
	}

	pub := NewResultPublisher(js, cfg.SubjectPrefix, edgeDeviceID, cfg.PublishTimeout.Std(), log)

	if err := EnsureStream(ctx, js, cfg.Stream, pub.Subject()); err != nil {
		nc.Close()

		return nil, nil, err
	}

	closeFn := func() {
		if err := nc.Drain(); err != nil {
			log.Warn().Err(err).Msg("Failed to drain NATS connection")
		}
	}

	return pub, closeFn, nil
}

func isStreamMissingErr(err error) bool {
	return errors.Is(err, jetstream.ErrStreamNotFound) ||
		errors.Is(err, jetstream.ErrNoStreamResponse) ||
		errors.Is(err, nats.ErrStreamNotFound) ||
		errors.Is(err, nats.ErrNoStreamResponse) ||
		errors.Is(err, nats.ErrNoResponders)
}

func ensureSubjectList(subjects []string, subject string) []string {
	for _, s := range subjects {
		if matchesSubject(s, subject) {
			return subjects
		}
	}

	return append(subjects, subject)
}

// matchesSubject reports whether the NATS subject pattern covers subject.
func matchesSubject(pattern, subject string) bool {
	p := strings.Split(pattern, ".")
	s := strings.Split(subject, ".")

	for i, tok := range p {
		if tok == ">" {
			return len(s) > i
		}

		if i >= len(s) {
			return false
		}

		if tok != "*" && tok != s[i] {
			return false
		}
	}

	return len(p) == len(s)
}

// subjectToken makes id safe to use as a single subject token.
func subjectToken(id string) string {
	if id == "" {
		return "unknown"
	}

	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t':
			return '_'
		}

		return r
	}, id)
}
