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
	"time"

	"github.com/carverauto/edgeprobe/pkg/backend"
	"github.com/carverauto/edgeprobe/pkg/config"
	"github.com/carverauto/edgeprobe/pkg/lifecycle"
	"github.com/carverauto/edgeprobe/pkg/logger"
	"github.com/carverauto/edgeprobe/pkg/models"
	"github.com/carverauto/edgeprobe/pkg/probe"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	facilityPath := flag.String("facility", config.DefaultFacilityPath, "Path to facility config")
	devicesURL := flag.String("devices-url", backend.DefaultDevicesURL, "Device status endpoint")
	readTimeout := flag.Duration("rtsp-timeout", 10*time.Second, "RTSP read timeout per camera")
	flag.Parse()

	ctx, stop := lifecycle.SignalContext(context.Background())
	defer stop()

	statusLogger, err := lifecycle.CreateComponentLogger("camera-status", logger.DefaultConfig())
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	facility, identity, err := config.LoadFacility(ctx, *facilityPath)
	if err != nil {
		return err
	}

	client, err := backend.NewClient(backend.Config{DevicesURL: *devicesURL}, nil, statusLogger)
	if err != nil {
		return err
	}

	registry := probe.NewDefaultRegistry(statusLogger, probe.Options{RTSPReadTimeout: *readTimeout})

	handle, err := registry.Resolve(probe.ProtocolRTSP)
	if err != nil {
		return err
	}

	statusLogger.Info().Str("facility_id", identity.FacilityID).Msg("Checking facility cameras")

	for _, cam := range facility.StreamCameras() {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		req := probe.BuildRequest(handle.Contract, &models.Command{Protocol: probe.ProtocolRTSP, RTSPLink: cam.RTSPLink})

		status := "offline"
		if outcome, err := handle.Prober.Probe(ctx, req); err == nil && outcome.Success {
			status = "online"
		}

		statusLogger.Info().
			Str("camera", cam.Name).
			Stringer("device_id", cam.ID).
			Str("status", status).
			Msg("Camera checked")

		if err := client.UpdateDeviceStatus(ctx, cam.ID.String(), status); err != nil {
			statusLogger.Warn().Err(err).Stringer("device_id", cam.ID).Msg("Failed to update device status")
		}
	}

	return nil
}
