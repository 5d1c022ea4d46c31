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

package common

import (
	"fmt"
	"strings"

	"github.com/gravitational/kingpin"

	"github.com/willisback/xsshend/lib/catalog"
)

// ListCommand prints the catalog hierarchy.
type ListCommand struct {
	cmd *kingpin.CmdClause

	env string
}

// Initialize plugs the command into the parser.
func (c *ListCommand) Initialize(app *kingpin.Application, flags *GlobalFlags) {
	c.cmd = app.Command("list", "List every catalog target.")
	c.cmd.Flag("env", "Environment filter.").StringVar(&c.env)
}

// TryRun executes the command when selected.
func (c *ListCommand) TryRun(selected string) (bool, error) {
	if selected != c.cmd.FullCommand() {
		return false, nil
	}
	cat, err := catalog.Load()
	if err != nil {
		return true, &ExitCodeError{Code: ExitRuntime, Err: err}
	}
	var sb strings.Builder
	cat.Render(&sb, catalog.Filter{Env: c.env})
	fmt.Print(sb.String())
	fmt.Printf("%v host(s) total\n", cat.Count())
	return true, nil
}
