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
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExpandPath(t *testing.T) {
	t.Parallel()

	const user = "alice"
	const home = "/appli/002/alice"

	tests := []struct {
		path string
		want string
	}{
		{"~/work/tmp", "/appli/002/alice/work/tmp"},
		{"~", "/appli/002/alice"},
		{"~bob/files", "/home/bob/files"},
		{"~bob", "/home/bob"},
		{"$HOME/documents", "/appli/002/alice/documents"},
		{"$HOME", "/appli/002/alice"},
		{"$USER/data", "alice/data"},
		{"$USERNAME/data", "alice/data"},
		{"$WORK/tmp", "$WORK/tmp"},
		{"/absolute/path", "/absolute/path"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			require.Equal(t, tt.want, ExpandPath(tt.path, user, home))
		})
	}
}

func TestExpandPathFallbackHome(t *testing.T) {
	t.Parallel()

	// Without a known remote home the per-user convention applies.
	require.Equal(t, "/home/alice/work", ExpandPath("~/work", "alice", ""))
	require.Equal(t, "/home/alice/docs", ExpandPath("$HOME/docs", "alice", ""))
}
