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

// Package agent runs the edge command-dispatch engine: it keeps one control
// connection registered, hands commands to the worker pool and writes their
// results back over the same connection.
package agent

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/carverauto/edgeprobe/pkg/delivery"
	"github.com/carverauto/edgeprobe/pkg/logger"
	"github.com/carverauto/edgeprobe/pkg/models"
	"github.com/carverauto/edgeprobe/pkg/probe"
	"github.com/carverauto/edgeprobe/pkg/worker"
)

var (
	errNotAttached        = errors.New("no registered control connection")
	errStaleConn          = errors.New("control connection replaced")
	errIncompleteIdentity = errors.New("device identity is incomplete")
)

// State is the control channel state.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateRegistered
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateRegistered:
		return "registered"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Option customizes an Agent.
type Option func(*Agent)

func WithDialer(d Dialer) Option {
	return func(a *Agent) { a.dialer = d }
}

func WithRegistry(r *probe.Registry) Option {
	return func(a *Agent) { a.registry = r }
}

func WithMirror(m ResultMirror) Option {
	return func(a *Agent) { a.mirror = m }
}

// Agent owns the control connection, the worker pool and the result queue.
type Agent struct {
	config   *Config
	identity models.DeviceIdentity
	logger   logger.Logger
	dialer   Dialer
	registry *probe.Registry
	mirror   ResultMirror

	pool       *worker.Pool
	queue      *delivery.Queue[models.Result]
	dispatcher *Dispatcher

	// intake carries execute_protocol frames from the reader to the single
	// goroutine that submits them, so a full backlog never stalls reads.
	intake chan []byte

	state         atomic.Int32
	epoch         atomic.Uint64
	registrations atomic.Uint64

	// writeMu serializes every frame written to the control connection and
	// guards conn, connEpoch and ready.
	writeMu   sync.Mutex
	conn      Conn
	connEpoch uint64
	ready     chan struct{}
}

func NewAgent(cfg *Config, identity models.DeviceIdentity, log logger.Logger, opts ...Option) (*Agent, error) {
	if identity.EdgeDeviceID == "" || identity.FacilityID == "" || identity.MACAddress == "" {
		return nil, errIncompleteIdentity
	}

	a := &Agent{
		config:   cfg,
		identity: identity,
		logger:   log,
		ready:    make(chan struct{}),
	}

	for _, opt := range opts {
		opt(a)
	}

	if a.registry == nil {
		a.registry = probe.NewDefaultRegistry(log, cfg.ProbeOptions())
	}

	if a.dialer == nil {
		var tlsConfig *tls.Config

		if cfg.TLS != nil {
			var err error

			tlsConfig, err = cfg.TLS.ClientConfig()
			if err != nil {
				return nil, err
			}
		}

		a.dialer = NewWebsocketDialer(cfg.HandshakeTimeout.Std(), tlsConfig)
	}

	a.pool = worker.NewPool(cfg.WorkerConfig(), log)
	a.intake = make(chan []byte, max(cfg.CommandBacklog, 0))
	a.queue = delivery.New[models.Result](cfg.ResultQueueSize)
	a.dispatcher = NewDispatcher(a.registry, a.pool, a.queue, log)
	a.dispatcher.SetProbeTimeout(cfg.ProbeTimeout.Std())

	if a.mirror != nil {
		a.dispatcher.SetMirror(a.mirror)
	}

	return a, nil
}

func (a *Agent) State() State {
	return State(a.state.Load())
}

// Epoch is the sequence number of the latest connection attempt.
func (a *Agent) Epoch() uint64 {
	return a.epoch.Load()
}

// Registrations counts successful registration handshakes.
func (a *Agent) Registrations() uint64 {
	return a.registrations.Load()
}

func (a *Agent) setState(s State) {
	a.state.Store(int32(s))
}

// Run keeps the agent connected until ctx is cancelled, then shuts down
// the pool, flushes pending results and closes the connection.
func (a *Agent) Run(ctx context.Context) error {
	controlURL, err := ControlURL(a.config.ControlURL, a.identity)
	if err != nil {
		return err
	}

	a.pool.Start(ctx)

	senderCtx, stopSender := context.WithCancel(context.WithoutCancel(ctx))
	senderDone := make(chan struct{})

	go func() {
		defer close(senderDone)
		a.sender(senderCtx)
	}()

	intakeDone := make(chan struct{})

	go func() {
		defer close(intakeDone)
		a.submitLoop(ctx)
	}()

	base := a.config.ReconnectDelay.Std()
	delay := base

	for {
		registered, err := a.runEpoch(ctx, controlURL)
		if ctx.Err() != nil {
			break
		}

		if registered {
			delay = base
		}

		a.logger.Warn().Err(err).Dur("delay", delay).Msg("Control connection lost, reconnecting")

		select {
		case <-ctx.Done():
		case <-time.After(delay):
		}

		if ctx.Err() != nil {
			break
		}

		if limit := a.config.MaxReconnectDelay.Std(); limit > base {
			delay = min(delay*2, limit)
		}
	}

	close(a.intake)
	<-intakeDone

	a.shutdown(stopSender, senderDone)

	return nil
}

// submitLoop hands queued commands to the dispatcher in arrival order.
// Frames left over at shutdown still get a Result.
func (a *Agent) submitLoop(ctx context.Context) {
	for raw := range a.intake {
		_ = a.dispatcher.OnCommand(ctx, raw)
	}
}

// enqueueCommand passes raw to the submit loop. It blocks only when both
// the pool backlog and the intake are full.
func (a *Agent) enqueueCommand(ctx context.Context, raw []byte) {
	select {
	case a.intake <- raw:
	case <-ctx.Done():
		_ = a.dispatcher.OnCommand(ctx, raw)
	}
}

// runEpoch dials, registers and serves one connection. It reports whether
// registration succeeded. On cancellation the connection is left attached
// for shutdown to flush.
func (a *Agent) runEpoch(ctx context.Context, controlURL string) (bool, error) {
	seq := a.epoch.Add(1)
	log := a.logger.With().Uint64("epoch", seq).Str("session", uuid.New().String()).Logger()

	a.setState(StateConnecting)
	log.Info().Str("url", a.config.ControlURL).Msg("Connecting to control plane")

	dialCtx, cancel := context.WithTimeout(ctx, a.config.HandshakeTimeout.Std())
	conn, err := a.dialer.Dial(dialCtx, controlURL)

	cancel()

	if err != nil {
		a.setState(StateDisconnected)

		return false, fmt.Errorf("dial: %w", err)
	}

	if err := a.attach(conn, seq); err != nil {
		_ = conn.Close()

		a.setState(StateDisconnected)

		return false, fmt.Errorf("register: %w", err)
	}

	a.registrations.Add(1)
	a.setState(StateRegistered)
	a.pool.Resume()

	log.Info().
		Str("edge_device_id", a.identity.EdgeDeviceID).
		Str("facility_id", a.identity.FacilityID).
		Int("workers", a.config.MaxConcurrentCommands).
		Int("pending_results", a.queue.Len()).
		Msg("Registered with control plane")

	epochCtx, stop := context.WithCancel(ctx)

	go a.keepalive(epochCtx, conn, &log)

	stopWatch := context.AfterFunc(ctx, func() {
		_ = conn.SetReadDeadline(time.Now())
	})

	readErr := a.readLoop(ctx, conn, &log)

	stopWatch()
	stop()

	if ctx.Err() != nil {
		log.Info().Msg("Control loop stopping")

		return true, nil
	}

	cancelled := a.pool.Suspend()

	a.detach(conn)
	_ = conn.Close()
	a.setState(StateDisconnected)

	log.Warn().Err(readErr).
		Int("cancelled_commands", cancelled).
		Int64("running_commands", a.pool.Active()).
		Msg("Control connection closed")

	return true, readErr
}

// attach makes conn the current connection and writes the registration
// frame before any other writer can see it.
func (a *Agent) attach(conn Conn, seq uint64) error {
	payload, err := json.Marshal(models.NewRegistration(a.identity))
	if err != nil {
		return err
	}

	a.writeMu.Lock()
	defer a.writeMu.Unlock()

	if err := a.writeLocked(conn, websocket.TextMessage, payload); err != nil {
		return err
	}

	a.conn = conn
	a.connEpoch = seq
	close(a.ready)

	return nil
}

func (a *Agent) detach(conn Conn) {
	a.writeMu.Lock()
	defer a.writeMu.Unlock()

	if a.conn != conn {
		return
	}

	a.conn = nil
	a.ready = make(chan struct{})
}

// readyChan is closed while a registered connection is attached.
func (a *Agent) readyChan() <-chan struct{} {
	a.writeMu.Lock()
	defer a.writeMu.Unlock()

	return a.ready
}

func (a *Agent) readLoop(ctx context.Context, conn Conn, log *zerolog.Logger) error {
	readTimeout := 2 * a.config.KeepaliveInterval.Std()

	extend := func() {
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))

		if ctx.Err() != nil {
			_ = conn.SetReadDeadline(time.Now())
		}
	}

	conn.SetPongHandler(func(string) error {
		extend()

		return nil
	})

	extend()

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		extend()

		if msgType != websocket.TextMessage {
			continue
		}

		a.handleFrame(ctx, conn, data, log)

		// Handling may have waited on a full intake for longer than the
		// read timeout.
		extend()
	}
}

func (a *Agent) handleFrame(ctx context.Context, conn Conn, data []byte, log *zerolog.Logger) {
	var env models.Envelope

	if err := json.Unmarshal(data, &env); err != nil {
		log.Warn().Err(err).Int("bytes", len(data)).Msg("Dropping invalid JSON frame")

		return
	}

	switch env.Type {
	case models.MessageExecuteProtocol:
		a.enqueueCommand(ctx, data)
	case models.MessagePing:
		if err := a.send(conn, models.Pong{Type: models.MessagePong}); err != nil {
			log.Warn().Err(err).Msg("Failed to send pong")
		}
	case models.MessageConnectionEstablished, models.MessageRegistrationSuccess:
		log.Info().Str("type", env.Type).Str("message", env.Message).Msg("Control plane message")
	case models.MessageError:
		log.Warn().Str("message", env.Message).Msg("Control plane reported an error")
	default:
		log.Warn().Str("type", env.Type).Msg("Unhandled message")
	}
}

// keepalive writes websocket ping frames until ctx is done or a write fails.
func (a *Agent) keepalive(ctx context.Context, conn Conn, log *zerolog.Logger) {
	ticker := time.NewTicker(a.config.KeepaliveInterval.Std())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := a.ping(conn); err != nil {
				log.Warn().Err(err).Msg("Keepalive ping failed")

				return
			}
		}
	}
}

func (a *Agent) ping(conn Conn) error {
	a.writeMu.Lock()
	defer a.writeMu.Unlock()

	if a.conn != conn {
		return errStaleConn
	}

	return conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(a.config.WriteTimeout.Std()))
}

// send writes v to conn if conn is still the attached connection.
func (a *Agent) send(conn Conn, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}

	a.writeMu.Lock()
	defer a.writeMu.Unlock()

	if a.conn != conn {
		return errStaleConn
	}

	return a.writeLocked(conn, websocket.TextMessage, payload)
}

func (a *Agent) writeLocked(conn Conn, msgType int, payload []byte) error {
	if err := conn.SetWriteDeadline(time.Now().Add(a.config.WriteTimeout.Std())); err != nil {
		return err
	}

	return conn.WriteMessage(msgType, payload)
}

func (a *Agent) shutdown(stopSender context.CancelFunc, senderDone <-chan struct{}) {
	a.logger.Info().Dur("grace", a.config.ShutdownGrace.Std()).Msg("Shutting down edge agent")

	graceCtx, cancel := context.WithTimeout(context.Background(), a.config.ShutdownGrace.Std())
	defer cancel()

	if err := a.pool.Shutdown(graceCtx); err != nil {
		a.logger.Warn().Err(err).Msg("Probes still running at shutdown")
	}

	stopSender()
	<-senderDone

	sent := a.flush()

	a.writeMu.Lock()
	conn := a.conn
	a.conn = nil
	a.writeMu.Unlock()

	if conn != nil {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		if err := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(a.config.WriteTimeout.Std())); err != nil {
			a.logger.Debug().Err(err).Msg("Failed to write close frame")
		}

		_ = conn.Close()
	}

	a.setState(StateDisconnected)

	a.logger.Info().
		Int("flushed_results", sent).
		Int("undelivered_results", a.queue.Len()).
		Uint64("dropped_results", a.queue.Dropped()).
		Msg("Edge agent stopped")
}
