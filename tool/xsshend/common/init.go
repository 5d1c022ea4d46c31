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
	"os"
	"path/filepath"

	"github.com/gravitational/kingpin"
	"github.com/gravitational/trace"

	"github.com/willisback/xsshend/lib/catalog"
	"github.com/willisback/xsshend/lib/utils"
)

// InitCommand writes a starter catalog document.
type InitCommand struct {
	cmd *kingpin.CmdClause

	force bool
}

// Initialize plugs the command into the parser.
func (c *InitCommand) Initialize(app *kingpin.Application, flags *GlobalFlags) {
	c.cmd = app.Command("init", "Write a starter host catalog.")
	c.cmd.Flag("force", "Overwrite an existing catalog.").Short('f').BoolVar(&c.force)
}

// TryRun executes the command when selected.
func (c *InitCommand) TryRun(selected string) (bool, error) {
	if selected != c.cmd.FullCommand() {
		return false, nil
	}
	return true, c.run()
}

func (c *InitCommand) run() error {
	path, err := catalog.Path()
	if err != nil {
		return &ExitCodeError{Code: ExitRuntime, Err: err}
	}
	if utils.FileExists(path) && !c.force {
		return &ExitCodeError{Code: ExitValidation,
			Err: fmt.Errorf("%v already exists, pass --force to overwrite", path)}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return &ExitCodeError{Code: ExitRuntime, Err: trace.ConvertSystemError(err)}
	}
	if err := os.WriteFile(path, catalog.Sample(), 0o600); err != nil {
		return &ExitCodeError{Code: ExitRuntime, Err: trace.ConvertSystemError(err)}
	}
	fmt.Printf("Wrote starter catalog to %v, edit it to describe your fleet.\n", path)
	return nil
}
