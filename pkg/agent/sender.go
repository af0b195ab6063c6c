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
	"time"

	"github.com/gorilla/websocket"

	"github.com/carverauto/edgeprobe/pkg/models"
)

const senderPoll = time.Second

// sender is the only goroutine that writes results. It waits for a
// registered connection before taking anything off the queue.
func (a *Agent) sender(ctx context.Context) {
	for {
		select {
		case <-a.readyChan():
		case <-ctx.Done():
			return
		}

		result, ok := a.queue.Pop(ctx, senderPoll)
		if !ok {
			if ctx.Err() != nil {
				return
			}

			continue
		}

		_ = a.deliver(&result)
	}
}

// deliver writes one result. A result taken while no connection is attached
// goes back to the head of the queue. A result whose write fails is dropped
// and the connection is closed so the reader starts a new epoch.
func (a *Agent) deliver(result *models.Result) error {
	payload, err := json.Marshal(result)
	if err != nil {
		a.logger.Error().Err(err).Stringer("command_id", result.CommandID).Msg("Failed to encode result, dropping")

		return err
	}

	a.writeMu.Lock()

	conn, epoch := a.conn, a.connEpoch
	if conn == nil {
		a.writeMu.Unlock()
		a.queue.Requeue(*result)

		return errNotAttached
	}

	err = a.writeLocked(conn, websocket.TextMessage, payload)
	a.writeMu.Unlock()

	if err != nil {
		a.logger.Warn().Err(err).
			Uint64("epoch", epoch).
			Stringer("command_id", result.CommandID).
			Msg("Failed to send result, dropping")

		_ = conn.Close()

		return err
	}

	a.logger.Debug().
		Uint64("epoch", epoch).
		Stringer("command_id", result.CommandID).
		Bool("success", result.Success).
		Msg("Result sent")

	return nil
}

// flush writes queued results until the queue is empty or a write fails.
func (a *Agent) flush() int {
	sent := 0

	for {
		result, ok := a.queue.TryPop()
		if !ok {
			return sent
		}

		if err := a.deliver(&result); err != nil {
			if !errors.Is(err, errNotAttached) {
				a.logger.Warn().Err(err).Msg("Stopping result flush")
			}

			return sent
		}

		sent++
	}
}
