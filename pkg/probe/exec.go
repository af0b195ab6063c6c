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

package probe

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/carverauto/edgeprobe/pkg/logger"
)

// waitDelay bounds how long output pipes are drained after the tool is
// killed, since grandchildren may still hold them open.
const waitDelay = time.Second

// CommandProber runs an external tool against the request target. Exit
// status zero is success; the payload is trimmed stdout on success and
// trimmed stderr otherwise.
type CommandProber struct {
	Name   string
	Args   []string
	logger logger.Logger
}

// NewCommandProber returns a prober that runs name with args followed by
// the target.
func NewCommandProber(log logger.Logger, name string, args ...string) *CommandProber {
	return &CommandProber{Name: name, Args: args, logger: log}
}

func (p *CommandProber) Probe(ctx context.Context, req Request) (Outcome, error) {
	if req.Target == "" {
		return Outcome{}, errMissingTarget
	}

	// A leading dash would be parsed as an option by the tool.
	if strings.HasPrefix(req.Target, "-") {
		return Outcome{}, fmt.Errorf("%w: %q", errInvalidTarget, req.Target)
	}

	args := append(append([]string(nil), p.Args...), req.Target)

	var stdout, stderr bytes.Buffer

	cmd := exec.CommandContext(ctx, p.Name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = waitDelay

	err := cmd.Run()

	var exitErr *exec.ExitError

	switch {
	case err == nil:
		p.logger.Debug().Str("tool", p.Name).Str("target", req.Target).Msg("Probe command succeeded")

		return Succeeded(strings.TrimSpace(stdout.String())), nil
	case errors.As(err, &exitErr):
		p.logger.Debug().
			Str("tool", p.Name).
			Str("target", req.Target).
			Int("exit_code", exitErr.ExitCode()).
			Msg("Probe command failed")

		return Failed(strings.TrimSpace(stderr.String())), nil
	default:
		return Outcome{}, fmt.Errorf("failed to run %s: %w", p.Name, err)
	}
}
