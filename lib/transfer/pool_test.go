/*
Copyright 2025 WillIsback

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package transfer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/willisback/xsshend/lib/catalog"
	"github.com/willisback/xsshend/lib/sshutils"
	"github.com/willisback/xsshend/lib/utils"
)

func testTargets(n int) []catalog.Target {
	out := make([]catalog.Target, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, catalog.Target{
			Name:  fmt.Sprintf("Prod:Region-A:Public:HOST_%02d", i),
			Entry: catalog.Entry{Alias: fmt.Sprintf("app@host%02d", i), Env: "PROD"},
		})
	}
	return out
}

func testFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "10-byte.txt")
	require.NoError(t, os.WriteFile(path, []byte("0123456789"), 0o600))
	return path
}

// collectStatuses folds the event stream into per-target status sequences,
// deduplicating consecutive repeats of the same status.
func collectStatuses(sub *Subscription) map[string][]Status {
	out := make(map[string][]Status)
	for event := range sub.Events() {
		seq := out[event.Target]
		if len(seq) == 0 || seq[len(seq)-1] != event.Status {
			out[event.Target] = append(seq, event.Status)
		}
	}
	return out
}

func TestUploadBroadcast(t *testing.T) {
	t.Parallel()

	targets := testTargets(3)
	dialer := &sshutils.MockDialer{}
	pool, err := NewPool(PoolConfig{
		Selection: targets,
		Dial:      dialer.Dial,
		Log:       utils.NewLoggerForTests(),
	})
	require.NoError(t, err)
	sub := pool.Bus().Subscribe()

	result, err := pool.UploadFile(testFile(t), "/tmp/", "10-byte.txt")
	require.NoError(t, err)
	require.Len(t, result.Succeeded, 3)
	require.Empty(t, result.FailedTargets)
	pool.Stop()

	statuses := collectStatuses(sub)
	require.Len(t, statuses, 3)
	for target, seq := range statuses {
		require.Equal(t,
			[]Status{StatusPending, StatusConnecting, StatusTransferring, StatusCompleted},
			seq, "unexpected sequence for %v", target)
	}

	// Every session was dialed once and closed by Stop.
	require.Len(t, dialer.Sessions(), 3)
	for _, session := range dialer.Sessions() {
		require.Len(t, session.Uploads(), 1)
		require.False(t, session.Connected())
	}
}

func TestUploadPartialFailure(t *testing.T) {
	t.Parallel()

	targets := testTargets(3)
	dialer := &sshutils.MockDialer{
		Script: func(session *sshutils.MockSession) {
			if session.HostPort == "host01" {
				session.OnConnect = func(int) error {
					return &sshutils.DNSError{Host: session.HostPort, Err: fmt.Errorf("no such host")}
				}
			}
		},
	}
	pool, err := NewPool(PoolConfig{Selection: targets, Dial: dialer.Dial})
	require.NoError(t, err)
	defer pool.Stop()
	sub := pool.Bus().Subscribe()

	result, err := pool.UploadFile(testFile(t), "/tmp/", "10-byte.txt")
	// One target failing does not fail the broadcast.
	require.NoError(t, err)
	require.Len(t, result.Succeeded, 2)
	require.Len(t, result.FailedTargets, 1)
	failedErr := result.FailedTargets["Prod:Region-A:Public:HOST_01"]
	require.True(t, sshutils.IsDNSError(failedErr))
	pool.Stop()

	statuses := collectStatuses(sub)
	completed, failed := 0, 0
	for _, seq := range statuses {
		switch seq[len(seq)-1] {
		case StatusCompleted:
			completed++
		case StatusFailed:
			failed++
		}
	}
	require.Equal(t, 2, completed)
	require.Equal(t, 1, failed)
}

func TestUploadAllFailed(t *testing.T) {
	t.Parallel()

	dialer := &sshutils.MockDialer{
		Script: func(session *sshutils.MockSession) {
			session.OnConnect = func(int) error { return fmt.Errorf("refused") }
		},
	}
	pool, err := NewPool(PoolConfig{Selection: testTargets(2), Dial: dialer.Dial})
	require.NoError(t, err)
	defer pool.Stop()

	result, err := pool.UploadFile(testFile(t), "/tmp/", "10-byte.txt")
	require.Error(t, err)
	require.Empty(t, result.Succeeded)
	require.Len(t, result.FailedTargets, 2)
}

func TestConnectRetrySucceeds(t *testing.T) {
	t.Parallel()

	clock := clockwork.NewFakeClock()
	dialer := &sshutils.MockDialer{
		Script: func(session *sshutils.MockSession) {
			session.OnConnect = func(attempt int) error {
				if attempt == 1 {
					return fmt.Errorf("transient network error")
				}
				return nil
			}
		},
	}
	pool, err := NewPool(PoolConfig{Selection: testTargets(1), Dial: dialer.Dial, Clock: clock})
	require.NoError(t, err)
	defer pool.Stop()

	// Release the 1s backoff once the worker parks on it.
	go func() {
		clock.BlockUntil(1)
		clock.Advance(time.Second)
	}()

	result, err := pool.UploadFile(testFile(t), "/tmp/", "10-byte.txt")
	require.NoError(t, err)
	require.Len(t, result.Succeeded, 1)
	require.Equal(t, 2, dialer.Sessions()[0].Connects())
}

func TestConnectRetryExhausted(t *testing.T) {
	t.Parallel()

	clock := clockwork.NewFakeClock()
	dialer := &sshutils.MockDialer{
		Script: func(session *sshutils.MockSession) {
			session.OnConnect = func(int) error { return fmt.Errorf("refused") }
		},
	}
	pool, err := NewPool(PoolConfig{Selection: testTargets(1), Dial: dialer.Dial, Clock: clock})
	require.NoError(t, err)
	defer pool.Stop()

	go func() {
		clock.BlockUntil(1)
		clock.Advance(time.Second)
	}()

	result, err := pool.UploadFile(testFile(t), "/tmp/", "10-byte.txt")
	require.Error(t, err)
	require.Len(t, result.FailedTargets, 1)
	require.Equal(t, 2, dialer.Sessions()[0].Connects())
}

func TestTransientUploadErrorKeepsWorkerAlive(t *testing.T) {
	t.Parallel()

	failNext := true
	var mu sync.Mutex
	dialer := &sshutils.MockDialer{
		Script: func(session *sshutils.MockSession) {
			session.OnUpload = func(ctx context.Context, local, remote string, progress func(int64)) (int64, error) {
				mu.Lock()
				defer mu.Unlock()
				if failNext {
					failNext = false
					return 0, &sshutils.UploadError{Path: remote, Err: fmt.Errorf("broken pipe")}
				}
				return 10, nil
			}
		},
	}
	pool, err := NewPool(PoolConfig{Selection: testTargets(1), Dial: dialer.Dial})
	require.NoError(t, err)
	defer pool.Stop()

	file := testFile(t)
	result, err := pool.UploadFile(file, "/tmp/", "10-byte.txt")
	require.Error(t, err)
	require.Len(t, result.FailedTargets, 1)

	// The worker reopens its session for the next message.
	result, err = pool.UploadFile(file, "/tmp/", "10-byte.txt")
	require.NoError(t, err)
	require.Len(t, result.Succeeded, 1)
	require.Equal(t, 2, dialer.Sessions()[0].Connects())
}

func TestPoolCapsActiveTransfers(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	active, peak := 0, 0
	dialer := &sshutils.MockDialer{
		Script: func(session *sshutils.MockSession) {
			session.OnUpload = func(ctx context.Context, local, remote string, progress func(int64)) (int64, error) {
				mu.Lock()
				active++
				if active > peak {
					peak = active
				}
				mu.Unlock()
				time.Sleep(10 * time.Millisecond)
				mu.Lock()
				active--
				mu.Unlock()
				return 10, nil
			}
		},
	}
	pool, err := NewPool(PoolConfig{Selection: testTargets(25), Dial: dialer.Dial})
	require.NoError(t, err)
	defer pool.Stop()

	result, err := pool.UploadFile(testFile(t), "/tmp/", "10-byte.txt")
	require.NoError(t, err)
	require.Len(t, result.Succeeded, 25)

	mu.Lock()
	defer mu.Unlock()
	require.LessOrEqual(t, peak, 10)
	require.Greater(t, peak, 0)
}

func TestStopCancelsInflightTransfers(t *testing.T) {
	t.Parallel()

	started := make(chan struct{}, 16)
	dialer := &sshutils.MockDialer{
		Script: func(session *sshutils.MockSession) {
			session.OnUpload = func(ctx context.Context, local, remote string, progress func(int64)) (int64, error) {
				started <- struct{}{}
				<-ctx.Done()
				return 0, ctx.Err()
			}
		},
	}
	pool, err := NewPool(PoolConfig{Selection: testTargets(5), Dial: dialer.Dial})
	require.NoError(t, err)
	sub := pool.Bus().Subscribe()

	file := testFile(t)
	done := make(chan *UploadResult, 1)
	go func() {
		result, _ := pool.UploadFile(file, "/tmp/", "10-byte.txt")
		done <- result
	}()

	// Wait for every upload to be in flight, then pull the plug.
	for i := 0; i < 5; i++ {
		<-started
	}
	pool.Stop()

	result := <-done
	require.Empty(t, result.Succeeded)
	require.Len(t, result.FailedTargets, 5)
	for target, err := range result.FailedTargets {
		require.True(t, sshutils.IsPoolCancelled(err), "target %v got %v", target, err)
	}

	statuses := collectStatuses(sub)
	require.Len(t, statuses, 5)
	for target, seq := range statuses {
		require.Equal(t, StatusFailed, seq[len(seq)-1], "target %v", target)
	}

	// Every session was disconnected on the way out.
	for _, session := range dialer.Sessions() {
		require.False(t, session.Connected())
	}

	// Stop is idempotent.
	pool.Stop()
}

func TestSharedAliasReportsEachTarget(t *testing.T) {
	t.Parallel()

	// Two catalog leaves pointing at the same alias share one worker but
	// keep their own names in results and progress.
	targets := []catalog.Target{
		{Name: "Prod:Region-A:Public:WEB_01", Entry: catalog.Entry{Alias: "app@shared", Env: "PROD"}},
		{Name: "Prod:Region-B:Public:WEB_01", Entry: catalog.Entry{Alias: "app@shared", Env: "PROD"}},
	}
	dialer := &sshutils.MockDialer{}
	pool, err := NewPool(PoolConfig{Selection: targets, Dial: dialer.Dial})
	require.NoError(t, err)
	sub := pool.Bus().Subscribe()

	result, err := pool.UploadFile(testFile(t), "/tmp/", "10-byte.txt")
	require.NoError(t, err)
	require.ElementsMatch(t,
		[]string{"Prod:Region-A:Public:WEB_01", "Prod:Region-B:Public:WEB_01"},
		result.Succeeded)
	pool.Stop()

	require.Len(t, dialer.Sessions(), 1)
	require.Len(t, dialer.Sessions()[0].Uploads(), 2)

	statuses := collectStatuses(sub)
	require.Len(t, statuses, 2)
	for target, seq := range statuses {
		require.Equal(t, StatusCompleted, seq[len(seq)-1], "target %v", target)
	}
}

func TestDestinationExpandsPerTarget(t *testing.T) {
	t.Parallel()

	// Different logins and remote homes expand the same destination
	// differently on each target.
	targets := []catalog.Target{
		{Name: "Prod:Region-A:Public:WEB_01", Entry: catalog.Entry{Alias: "alice@host00", Env: "PROD"}},
		{Name: "Prod:Region-A:Public:WEB_02", Entry: catalog.Entry{Alias: "bob@host01", Env: "PROD"}},
	}
	dialer := &sshutils.MockDialer{
		Script: func(session *sshutils.MockSession) {
			if session.User == "alice" {
				session.Home = "/appli/002/alice"
			}
		},
	}
	pool, err := NewPool(PoolConfig{Selection: targets, Dial: dialer.Dial})
	require.NoError(t, err)
	defer pool.Stop()

	result, err := pool.UploadFile(testFile(t), "~/drop/", "10-byte.txt")
	require.NoError(t, err)
	require.Len(t, result.Succeeded, 2)

	alice := dialer.Session("alice@host00")
	require.Equal(t, "/appli/002/alice/drop/", alice.Uploads()[0].RemoteDir)
	bob := dialer.Session("bob@host01")
	require.Equal(t, "/home/bob/drop/", bob.Uploads()[0].RemoteDir)
}

func TestUploadAfterStopFails(t *testing.T) {
	t.Parallel()

	dialer := &sshutils.MockDialer{}
	pool, err := NewPool(PoolConfig{Selection: testTargets(1), Dial: dialer.Dial})
	require.NoError(t, err)
	pool.Stop()

	_, err = pool.UploadFile(testFile(t), "/tmp/", "10-byte.txt")
	require.Error(t, err)
}

func TestPoolValidation(t *testing.T) {
	t.Parallel()

	_, err := NewPool(PoolConfig{})
	require.Error(t, err)

	_, err = NewPool(PoolConfig{
		Selection: []catalog.Target{{Name: "x", Entry: catalog.Entry{Alias: "bad-alias"}}},
		Dial:      (&sshutils.MockDialer{}).Dial,
	})
	require.Error(t, err)
}
