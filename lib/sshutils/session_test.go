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

package sshutils

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSessionConfigDefaults(t *testing.T) {
	t.Parallel()

	cfg := SessionConfig{}
	require.Error(t, cfg.CheckAndSetDefaults())

	cfg = SessionConfig{User: "alice", HostPort: "host", Auth: &AuthResolver{}}
	require.NoError(t, cfg.CheckAndSetDefaults())
	require.NotZero(t, cfg.ConnectTimeout)
	require.NotNil(t, cfg.HostKeyCallback)
	require.NotNil(t, cfg.Log)
}

func TestJoinRemote(t *testing.T) {
	t.Parallel()

	require.Equal(t, "/tmp/file.txt", JoinRemote("/tmp/", "file.txt"))
	require.Equal(t, "/tmp/file.txt", JoinRemote("/tmp", "file.txt"))
}

func TestEnsurePortDefaultsSSH(t *testing.T) {
	t.Parallel()

	require.Equal(t, "example.com:22", EnsurePort("example.com"))
	require.Equal(t, "example.com:2200", EnsurePort("example.com:2200"))
}

func TestBoundedBuffer(t *testing.T) {
	t.Parallel()

	var buf boundedBuffer
	buf.limit = 8
	n, err := buf.Write([]byte("0123456789"))
	require.NoError(t, err)
	// Writers always see full progress, the buffer keeps the cap.
	require.Equal(t, 10, n)
	require.Equal(t, "01234567", string(buf.Bytes()))

	n, err = buf.Write([]byte("more"))
	require.NoError(t, err)
	require.Equal(t, 4, n)
	require.Equal(t, "01234567", string(buf.Bytes()))
}

func TestCancelWriter(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	w := &cancelWriter{ctx: ctx}
	_, err := w.Write([]byte("ok"))
	require.NoError(t, err)

	cancel()
	_, err = w.Write([]byte("nope"))
	require.Error(t, err)
}

func TestProgressWriterAccumulates(t *testing.T) {
	t.Parallel()

	var reported []int64
	w := &progressWriter{fn: func(n int64) { reported = append(reported, n) }}
	w.Write([]byte("abc"))
	w.Write([]byte("de"))
	require.Equal(t, []int64{3, 5}, reported)
}
