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

// Package utils holds small helpers shared by the xsshend libraries and the
// CLI front end.
package utils

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/gravitational/trace"

	"github.com/willisback/xsshend"
)

// ParseAlias splits a catalog alias of the form "user@host[:port]" into the
// user and the hostport. The hostport is kept opaque: if the alias carries a
// port it stays attached to the host and is passed unmodified to dial.
func ParseAlias(alias string) (user, hostport string, err error) {
	at := strings.Index(alias, "@")
	if at <= 0 || at == len(alias)-1 {
		return "", "", trace.BadParameter("invalid alias %q, expected user@host", alias)
	}
	return alias[:at], alias[at+1:], nil
}

// HumanReadableSize renders a byte count with 1024-based units. Sub-KB
// values print as whole bytes, everything above with one decimal.
func HumanReadableSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	suffixes := []string{"KB", "MB", "GB", "TB", "PB"}
	size := float64(bytes)
	i := -1
	for size >= unit && i < len(suffixes)-1 {
		size /= unit
		i++
	}
	return fmt.Sprintf("%.1f %s", size, suffixes[i])
}

// ValidateLocalFile ensures path names an existing, readable regular file.
func ValidateLocalFile(path string) error {
	fi, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return trace.BadParameter("file not found: %v", path)
		}
		return trace.ConvertSystemError(err)
	}
	if fi.IsDir() {
		return trace.BadParameter("%v is a directory, not a file", path)
	}
	f, err := os.Open(path)
	if err != nil {
		return trace.BadParameter("file is not readable: %v", path)
	}
	return trace.Wrap(f.Close())
}

// EnsurePort appends the given default port to a hostport that carries
// none. Hostports that already name a port pass through unmodified.
func EnsurePort(hostport, defaultPort string) string {
	if strings.Contains(hostport, ":") {
		return hostport
	}
	return net.JoinHostPort(hostport, defaultPort)
}

// FileExists reports whether path exists.
func FileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// SSHDir returns the user's SSH directory.
func SSHDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", trace.ConvertSystemError(err)
	}
	return filepath.Join(home, xsshend.SSHDirName), nil
}
