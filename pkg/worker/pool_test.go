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

package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/edgeprobe/pkg/logger"
)

func newStartedPool(t *testing.T, cfg Config) *Pool {
	t.Helper()

	p := NewPool(cfg, logger.NewTestLogger())
	p.Start(context.Background())
	p.Resume()

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()

		_ = p.Shutdown(ctx)
	})

	return p
}

func TestNewPoolDefaults(t *testing.T) {
	p := NewPool(Config{}, logger.NewTestLogger())

	assert.Equal(t, DefaultSize, p.config.Size)
	assert.Equal(t, 0, p.config.Backlog)

	p = NewPool(Config{Size: 2, Backlog: -1}, logger.NewTestLogger())
	assert.Equal(t, 2, p.config.Size)
	assert.Equal(t, DefaultBacklog, p.config.Backlog)
}

func TestSubmitRejectedBeforeStartAndResume(t *testing.T) {
	p := NewPool(Config{Size: 1, Backlog: 1}, logger.NewTestLogger())

	err := p.Submit(context.Background(), Job{Run: func(context.Context) {}})
	require.ErrorIs(t, err, ErrNotStarted)

	p.Start(context.Background())

	err = p.Submit(context.Background(), Job{Run: func(context.Context) {}})
	require.ErrorIs(t, err, ErrSuspended)

	require.NoError(t, p.Shutdown(context.Background()))

	err = p.Submit(context.Background(), Job{Run: func(context.Context) {}})
	require.ErrorIs(t, err, ErrClosed)
}

func TestConcurrencyNeverExceedsSize(t *testing.T) {
	const size = 3

	p := newStartedPool(t, Config{Size: size, Backlog: 16})

	release := make(chan struct{})

	var wg sync.WaitGroup

	var completed atomic.Int32

	for i := 0; i < 10; i++ {
		wg.Add(1)

		err := p.Submit(context.Background(), Job{
			Name: "block",
			Run: func(context.Context) {
				defer wg.Done()
				<-release
				completed.Add(1)
			},
			Cancel: func(error) { wg.Done() },
		})
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool { return p.Active() == size }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 7, p.Pending())

	close(release)
	wg.Wait()

	assert.Equal(t, int32(10), completed.Load())
	assert.Equal(t, int64(size), p.Peak())
	assert.Equal(t, int64(0), p.Active())
}

func TestSuspendCancelsBacklogOnly(t *testing.T) {
	p := newStartedPool(t, Config{Size: 1, Backlog: 4})

	started := make(chan struct{})
	release := make(chan struct{})
	finished := make(chan struct{})

	require.NoError(t, p.Submit(context.Background(), Job{
		Name: "running",
		Run: func(context.Context) {
			close(started)
			<-release
			close(finished)
		},
	}))

	<-started

	var mu sync.Mutex

	var cancelled []error

	for i := 0; i < 3; i++ {
		require.NoError(t, p.Submit(context.Background(), Job{
			Name: "queued",
			Run:  func(context.Context) { t.Error("queued job should not run") },
			Cancel: func(err error) {
				mu.Lock()
				cancelled = append(cancelled, err)
				mu.Unlock()
			},
		}))
	}

	assert.Equal(t, 3, p.Suspend())
	assert.Equal(t, 0, p.Suspend())

	mu.Lock()
	require.Len(t, cancelled, 3)

	for _, err := range cancelled {
		require.ErrorIs(t, err, ErrSuspended)
	}
	mu.Unlock()

	err := p.Submit(context.Background(), Job{Run: func(context.Context) {}})
	require.ErrorIs(t, err, ErrSuspended)

	close(release)

	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("running job was interrupted by suspend")
	}

	p.Resume()

	ran := make(chan struct{})
	require.NoError(t, p.Submit(context.Background(), Job{Run: func(context.Context) { close(ran) }}))

	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("job submitted after resume did not run")
	}
}

func TestSubmitBlocksWhenBacklogFull(t *testing.T) {
	p := newStartedPool(t, Config{Size: 1, Backlog: 1})

	started := make(chan struct{})
	release := make(chan struct{})

	defer close(release)

	require.NoError(t, p.Submit(context.Background(), Job{Run: func(context.Context) {
		close(started)
		<-release
	}}))

	<-started

	require.NoError(t, p.Submit(context.Background(), Job{Run: func(context.Context) {}}))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := p.Submit(ctx, Job{Run: func(context.Context) {}})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestBlockedSubmitReturnsOnSuspend(t *testing.T) {
	p := newStartedPool(t, Config{Size: 1, Backlog: 0})

	started := make(chan struct{})
	release := make(chan struct{})

	defer close(release)

	require.NoError(t, p.Submit(context.Background(), Job{Run: func(context.Context) {
		close(started)
		<-release
	}}))

	<-started

	errCh := make(chan error, 1)

	go func() {
		errCh <- p.Submit(context.Background(), Job{Run: func(context.Context) {}})
	}()

	time.Sleep(20 * time.Millisecond)
	p.Suspend()

	select {
	case err := <-errCh:
		require.ErrorIs(t, err, ErrSuspended)
	case <-time.After(time.Second):
		t.Fatal("blocked submit did not return after suspend")
	}
}

func TestPanicIsRecovered(t *testing.T) {
	p := newStartedPool(t, Config{Size: 1, Backlog: 2})

	require.NoError(t, p.Submit(context.Background(), Job{
		Name: "panics",
		Run:  func(context.Context) { panic("boom") },
	}))

	ran := make(chan struct{})
	require.NoError(t, p.Submit(context.Background(), Job{Run: func(context.Context) { close(ran) }}))

	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("worker did not survive a panicking job")
	}
}

func TestShutdownWaitsForRunningJobs(t *testing.T) {
	p := NewPool(Config{Size: 2, Backlog: 2}, logger.NewTestLogger())
	p.Start(context.Background())
	p.Resume()

	var done atomic.Bool

	started := make(chan struct{})

	require.NoError(t, p.Submit(context.Background(), Job{Run: func(context.Context) {
		close(started)
		time.Sleep(50 * time.Millisecond)
		done.Store(true)
	}}))

	<-started

	require.NoError(t, p.Shutdown(context.Background()))
	assert.True(t, done.Load())
	require.NoError(t, p.Shutdown(context.Background()))
}

func TestShutdownGraceExpiryCancelsJobs(t *testing.T) {
	p := NewPool(Config{Size: 1, Backlog: 1}, logger.NewTestLogger())
	p.Start(context.Background())
	p.Resume()

	started := make(chan struct{})
	stopped := make(chan error, 1)

	require.NoError(t, p.Submit(context.Background(), Job{Run: func(ctx context.Context) {
		close(started)
		<-ctx.Done()
		stopped <- ctx.Err()
	}}))

	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	err := p.Shutdown(ctx)
	require.ErrorIs(t, err, ErrClosed)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	select {
	case err := <-stopped:
		require.True(t, errors.Is(err, context.Canceled))
	case <-time.After(time.Second):
		t.Fatal("running job context was not cancelled")
	}
}
