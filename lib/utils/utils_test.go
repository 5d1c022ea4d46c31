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

package utils

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/gravitational/trace"
	"github.com/stretchr/testify/require"
)

func TestParseAlias(t *testing.T) {
	t.Parallel()

	tests := []struct {
		alias    string
		user     string
		hostport string
		wantErr  bool
	}{
		{alias: "user@example.com", user: "user", hostport: "example.com"},
		{alias: "deploy@server.local:2222", user: "deploy", hostport: "server.local:2222"},
		{alias: "a@b", user: "a", hostport: "b"},
		{alias: "nouser", wantErr: true},
		{alias: "@host", wantErr: true},
		{alias: "user@", wantErr: true},
		{alias: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.alias, func(t *testing.T) {
			user, hostport, err := ParseAlias(tt.alias)
			if tt.wantErr {
				require.Error(t, err)
				require.True(t, trace.IsBadParameter(err))
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.user, user)
			require.Equal(t, tt.hostport, hostport)
		})
	}
}

func TestHumanReadableSize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		bytes int64
		want  string
	}{
		{0, "0 B"},
		{1023, "1023 B"},
		{1024, "1.0 KB"},
		{1536, "1.5 KB"},
		{1048576, "1.0 MB"},
		{2 << 30, "2.0 GB"},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, HumanReadableSize(tt.bytes))
	}
}

func TestEnsurePort(t *testing.T) {
	t.Parallel()

	require.Equal(t, "host:22", EnsurePort("host", "22"))
	require.Equal(t, "host:2222", EnsurePort("host:2222", "22"))
}

func TestValidateLocalFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "payload")
	require.NoError(t, os.WriteFile(path, []byte("0123456789"), 0o600))

	require.NoError(t, ValidateLocalFile(path))
	require.Error(t, ValidateLocalFile(filepath.Join(dir, "missing")))
	require.Error(t, ValidateLocalFile(dir))
}
