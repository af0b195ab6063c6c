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
	"bytes"
	"context"
	"flag"
	"fmt"
	"image/jpeg"
	"log"
	"time"

	"github.com/carverauto/edgeprobe/pkg/backend"
	"github.com/carverauto/edgeprobe/pkg/config"
	"github.com/carverauto/edgeprobe/pkg/frame"
	"github.com/carverauto/edgeprobe/pkg/lifecycle"
	"github.com/carverauto/edgeprobe/pkg/logger"
	"github.com/carverauto/edgeprobe/pkg/models"
)

const jpegQuality = 90

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	facilityPath := flag.String("facility", config.DefaultFacilityPath, "Path to facility config")
	facilitiesURL := flag.String("facilities-url", backend.DefaultFacilitiesURL, "Facility lookup endpoint")
	snapshotURL := flag.String("snapshot-url", backend.DefaultSnapshotURL, "Snapshot upload endpoint")
	settle := flag.Duration("settle", 5*time.Second, "Wait after opening a stream before grabbing the frame")
	flag.Parse()

	ctx, stop := lifecycle.SignalContext(context.Background())
	defer stop()

	snapLogger, err := lifecycle.CreateComponentLogger("camera-snapshots", logger.DefaultConfig())
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	_, identity, err := config.LoadFacility(ctx, *facilityPath)
	if err != nil {
		return err
	}

	client, err := backend.NewClient(backend.Config{
		FacilitiesURL: *facilitiesURL,
		SnapshotURL:   *snapshotURL,
	}, nil, snapLogger)
	if err != nil {
		return err
	}

	cameras, err := client.FacilityCameras(ctx, identity.FacilityID)
	if err != nil {
		return err
	}

	if len(cameras) == 0 {
		snapLogger.Info().Msg("No devices found")

		return nil
	}

	grabber := frame.NewFFmpegGrabber(snapLogger, frame.FFmpegConfig{})

	for _, cam := range cameras {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if err := snapshot(ctx, grabber, client, cam, *settle); err != nil {
			snapLogger.Warn().Err(err).Stringer("device_id", cam.ID).Msg("Snapshot failed")
		}
	}

	return nil
}

func snapshot(ctx context.Context, g frame.Grabber, client *backend.Client, cam models.Camera, settle time.Duration) error {
	stream, err := g.Open(ctx, cam.RTSPLink)
	if err != nil {
		return fmt.Errorf("unable to open stream: %w", err)
	}
	defer func() { _ = stream.Close() }()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(settle):
	}

	img, err := stream.Next(ctx)
	if err != nil {
		return fmt.Errorf("couldn't read frame: %w", err)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return fmt.Errorf("jpeg encoding failed: %w", err)
	}

	return client.UploadSnapshot(ctx, cam.ID.String(), buf.Bytes())
}
