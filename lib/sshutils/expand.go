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
	"strings"
)

// ExpandPath expands tildes and the well-known home variables in a remote
// destination, client-side. The remote home is used when known, otherwise
// /home/<targetUser>. Unknown $VARS are preserved verbatim.
//
//	~/work      -> <remoteHome>/work
//	~bob/files  -> /home/bob/files
//	~bob        -> /home/bob
//	$HOME/docs  -> <remoteHome>/docs
//	$WORK/tmp   -> $WORK/tmp
func ExpandPath(path, targetUser, remoteHome string) string {
	home := remoteHome
	if home == "" {
		home = "/home/" + targetUser
	}

	expanded := path
	switch {
	case expanded == "~" || strings.HasPrefix(expanded, "~/"):
		expanded = home + strings.TrimPrefix(expanded, "~")
	case strings.HasPrefix(expanded, "~"):
		// ~user or ~user/rest
		rest := expanded[1:]
		if slash := strings.Index(rest, "/"); slash >= 0 {
			expanded = "/home/" + rest[:slash] + rest[slash:]
		} else {
			expanded = "/home/" + rest
		}
	}

	if strings.Contains(expanded, "$") {
		replacements := []struct{ variable, value string }{
			{"$HOME", home},
			{"$USERNAME", targetUser},
			{"$USER", targetUser},
		}
		for _, repl := range replacements {
			if expanded == repl.variable {
				expanded = repl.value
			} else {
				expanded = strings.ReplaceAll(expanded, repl.variable+"/", repl.value+"/")
			}
		}
	}
	return expanded
}
