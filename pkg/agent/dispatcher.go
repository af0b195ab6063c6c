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
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/carverauto/edgeprobe/pkg/logger"
	"github.com/carverauto/edgeprobe/pkg/models"
	"github.com/carverauto/edgeprobe/pkg/probe"
	"github.com/carverauto/edgeprobe/pkg/worker"
)

var errMalformedCommand = errors.New("malformed command")

// Submitter accepts jobs for asynchronous execution.
type Submitter interface {
	Submit(ctx context.Context, job worker.Job) error
}

// ResultSink receives finished results. Push must not block.
type ResultSink interface {
	Push(r models.Result) bool
}

// ResultMirror gets a copy of every result. Failures are only logged.
type ResultMirror interface {
	Publish(ctx context.Context, r *models.Result) error
}

// Dispatcher turns execute_protocol frames into probe jobs and reports
// exactly one result per accepted command.
type Dispatcher struct {
	registry     *probe.Registry
	pool         Submitter
	sink         ResultSink
	mirror       ResultMirror
	probeTimeout time.Duration
	logger       logger.Logger

	accepted  atomic.Uint64
	completed atomic.Uint64
}

func NewDispatcher(registry *probe.Registry, pool Submitter, sink ResultSink, log logger.Logger) *Dispatcher {
	return &Dispatcher{
		registry: registry,
		pool:     pool,
		sink:     sink,
		logger:   log,
	}
}

// SetProbeTimeout bounds every probe run. Zero disables the bound.
func (d *Dispatcher) SetProbeTimeout(timeout time.Duration) {
	d.probeTimeout = timeout
}

func (d *Dispatcher) SetMirror(m ResultMirror) {
	d.mirror = m
}

// OnCommand decodes raw and hands it to the pool. It blocks only while the
// pool backlog is full. A command that cannot be queued is answered with a
// failure result right away.
func (d *Dispatcher) OnCommand(ctx context.Context, raw []byte) error {
	cmd := new(models.Command)

	if err := json.Unmarshal(raw, cmd); err != nil {
		var ref models.CommandRef
		if json.Unmarshal(raw, &ref) != nil || ref.CommandID.IsZero() {
			d.logger.Warn().Err(err).Int("bytes", len(raw)).Msg("Dropping malformed command")

			return fmt.Errorf("%w: %w", errMalformedCommand, err)
		}

		d.accepted.Add(1)
		d.logger.Warn().Err(err).Stringer("command_id", ref.CommandID).Msg("Command has invalid fields")
		d.complete(ref.Command(), probe.Failed(fmt.Sprintf("malformed command: %v", err)))

		return fmt.Errorf("%w: %w", errMalformedCommand, err)
	}

	d.accepted.Add(1)

	if redacted, err := models.Redact(cmd); err == nil {
		d.logger.Debug().Interface("command", redacted).Msg("Command received")
	}

	job := worker.Job{
		Name: cmd.Protocol,
		Run: func(ctx context.Context) {
			d.execute(ctx, cmd)
		},
		Cancel: func(err error) {
			d.complete(cmd, probe.Failed(fmt.Sprintf("command cancelled: %v", err)))
		},
	}

	if err := d.pool.Submit(ctx, job); err != nil {
		d.logger.Warn().Err(err).
			Str("protocol", cmd.Protocol).
			Stringer("command_id", cmd.CommandID).
			Msg("Command rejected")
		d.complete(cmd, probe.Failed(fmt.Sprintf("command rejected: %v", err)))

		return err
	}

	d.logger.Info().
		Str("protocol", cmd.Protocol).
		Stringer("camera_id", cmd.CameraID).
		Bool("scheduled", bool(cmd.IsScheduled)).
		Msg("Command dispatched")

	return nil
}

// Accepted and Completed count decoded commands and reported results.
func (d *Dispatcher) Accepted() uint64  { return d.accepted.Load() }
func (d *Dispatcher) Completed() uint64 { return d.completed.Load() }

func (d *Dispatcher) execute(ctx context.Context, cmd *models.Command) {
	start := time.Now()
	outcome := d.run(ctx, cmd)

	d.logger.Info().
		Str("protocol", cmd.Protocol).
		Stringer("camera_id", cmd.CameraID).
		Bool("success", outcome.Success).
		Dur("elapsed", time.Since(start)).
		Msg("Command completed")

	d.complete(cmd, outcome)
}

func (d *Dispatcher) run(ctx context.Context, cmd *models.Command) (outcome probe.Outcome) {
	handle, err := d.registry.Resolve(cmd.Protocol)
	if err != nil {
		return probe.Failed("Unknown protocol " + cmd.Protocol)
	}

	if d.probeTimeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, d.probeTimeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			d.logger.Error().
				Str("protocol", cmd.Protocol).
				Interface("panic", r).
				Msg("Probe panicked")

			outcome = probe.Failed(fmt.Sprint(r))
		}
	}()

	req := probe.BuildRequest(handle.Contract, cmd)

	outcome, err = handle.Prober.Probe(ctx, req)
	if err != nil {
		return probe.Failed(err.Error())
	}

	return outcome
}

func (d *Dispatcher) complete(cmd *models.Command, outcome probe.Outcome) {
	result := models.NewResult(cmd, outcome.Success, outcome.Payload)

	if d.sink.Push(result) {
		d.logger.Warn().Msg("Result queue full, oldest result dropped")
	}

	d.completed.Add(1)

	if d.mirror != nil {
		go d.mirrorResult(&result)
	}
}

func (d *Dispatcher) mirrorResult(result *models.Result) {
	if err := d.mirror.Publish(context.Background(), result); err != nil {
		d.logger.Warn().Err(err).Stringer("command_id", result.CommandID).Msg("Failed to mirror result")
	}
}
