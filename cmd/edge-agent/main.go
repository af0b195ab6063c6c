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

package main

import (
	"context"
	"flag"
	"fmt"
	"log"

	"github.com/carverauto/edgeprobe/pkg/agent"
	"github.com/carverauto/edgeprobe/pkg/config"
	"github.com/carverauto/edgeprobe/pkg/lifecycle"
	"github.com/carverauto/edgeprobe/pkg/natsutil"
	"github.com/carverauto/edgeprobe/pkg/version"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	configPath := flag.String("config", "/etc/edgeprobe/edge-agent.json", "Path to edge agent config file")
	facilityPath := flag.String("facility", "", "Path to facility config (overrides facility_config)")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.GetFullVersion())

		return nil
	}

	ctx, stop := lifecycle.SignalContext(context.Background())
	defer stop()

	var cfg agent.Config

	if err := config.NewConfig(nil).LoadOptional(ctx, *configPath, &cfg); err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if *facilityPath != "" {
		cfg.FacilityConfig = *facilityPath
	}

	agentLogger, err := lifecycle.CreateComponentLogger("edge-agent", cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	_, identity, err := config.LoadFacility(ctx, cfg.FacilityConfig)
	if err != nil {
		return err
	}

	var opts []agent.Option

	if cfg.NATS.Enabled() {
		publisher, closeNATS, err := natsutil.Open(ctx, cfg.NATS, identity.EdgeDeviceID, agentLogger)
		if err != nil {
			agentLogger.Warn().Err(err).Msg("Result mirror disabled")
		} else {
			defer closeNATS()

			opts = append(opts, agent.WithMirror(publisher))
		}
	}

	edgeAgent, err := agent.NewAgent(&cfg, identity, agentLogger, opts...)
	if err != nil {
		return fmt.Errorf("failed to create agent: %w", err)
	}

	agentLogger.Info().
		Str("edge_device_id", identity.EdgeDeviceID).
		Str("facility_id", identity.FacilityID).
		Str("version", version.GetFullVersion()).
		Int("max_concurrent_commands", cfg.MaxConcurrentCommands).
		Msg("Edge agent starting")

	return edgeAgent.Run(ctx)
}
