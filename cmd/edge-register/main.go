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
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/carverauto/edgeprobe/pkg/backend"
	"github.com/carverauto/edgeprobe/pkg/config"
	"github.com/carverauto/edgeprobe/pkg/inventory"
	"github.com/carverauto/edgeprobe/pkg/lifecycle"
	"github.com/carverauto/edgeprobe/pkg/logger"
)

const defaultDeviceConfigPath = "/home/metro/device_config.json"

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	registerURL := flag.String("register-url", backend.DefaultRegisterURL, "Edge device registration endpoint")
	devicePath := flag.String("device-config", defaultDeviceConfigPath, "Where to save the collected host inventory")
	facilityPath := flag.String("facility", config.DefaultFacilityPath, "Where to save the facility config returned by the backend")
	timeout := flag.Duration("timeout", 30*time.Second, "Registration request timeout")
	flag.Parse()

	ctx, stop := lifecycle.SignalContext(context.Background())
	defer stop()

	regLogger, err := lifecycle.CreateComponentLogger("edge-register", logger.DefaultConfig())
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	inv := inventory.Collect(ctx, regLogger)
	info := inv.HostInfo()

	deviceJSON, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode device config: %w", err)
	}

	if err := os.WriteFile(*devicePath, deviceJSON, 0o600); err != nil {
		regLogger.Error().Err(err).Str("path", *devicePath).Msg("Failed to save device config")
	} else {
		regLogger.Info().Str("path", *devicePath).Msg("Device configuration saved")
	}

	client, err := backend.NewClient(backend.Config{
		RegisterURL: *registerURL,
		Timeout:     config.Duration(*timeout),
	}, nil, regLogger)
	if err != nil {
		return err
	}

	body, err := client.RegisterEdgeDevice(ctx, info)
	if err != nil {
		return err
	}

	if err := os.WriteFile(*facilityPath, body, 0o600); err != nil {
		return fmt.Errorf("failed to save facility config: %w", err)
	}

	if _, identity, err := config.LoadFacility(ctx, *facilityPath); err != nil {
		regLogger.Warn().Err(err).Msg("Saved facility config is not usable by the edge agent yet")
	} else {
		regLogger.Info().
			Str("edge_device_id", identity.EdgeDeviceID).
			Str("facility_id", identity.FacilityID).
			Str("path", *facilityPath).
			Msg("Facility configuration saved")
	}

	return nil
}
