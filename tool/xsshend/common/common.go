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

// Package common implements the xsshend CLI commands.
package common

import (
	"errors"
	"fmt"
	"os"

	"github.com/gravitational/kingpin"
	log "github.com/sirupsen/logrus"

	"github.com/willisback/xsshend"
	"github.com/willisback/xsshend/lib/catalog"
	"github.com/willisback/xsshend/lib/sshutils"
	"github.com/willisback/xsshend/lib/sshutils/keys"
	"github.com/willisback/xsshend/lib/utils"
)

// exit codes of the tool.
const (
	// ExitSuccess is returned when the operation achieved its goal.
	ExitSuccess = 0
	// ExitRuntime is returned on configuration or runtime failures.
	ExitRuntime = 1
	// ExitValidation is returned on argument or validation errors, before
	// any network activity.
	ExitValidation = 2
)

// ExitCodeError carries a process exit code through the command stack.
type ExitCodeError struct {
	// Code is the exit code to terminate with.
	Code int
	// Err is the underlying cause, may be nil for silent exits.
	Err error
}

func (e *ExitCodeError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit code %v", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitCodeError) Unwrap() error { return e.Err }

// GlobalFlags are shared by every command.
type GlobalFlags struct {
	// NonInteractive disables every prompt; missing arguments become
	// validation errors.
	NonInteractive bool
	// Yes answers every confirmation.
	Yes bool
	// KeyPath restricts authentication to one private key.
	KeyPath string
	// Verbose enables debug logging.
	Verbose bool
}

// CLICommand is implemented by every xsshend command.
type CLICommand interface {
	// Initialize plugs the command into the argument parser.
	Initialize(app *kingpin.Application, flags *GlobalFlags)
	// TryRun executes the command if selected matches it.
	TryRun(selected string) (match bool, err error)
}

// Run wires the commands into the parser and executes the selected one.
func Run(commands []CLICommand, args []string) error {
	var flags GlobalFlags
	app := utils.InitCLIParser("xsshend", "Multi-target SSH file broadcast and command fan-out.")
	app.Flag("non-interactive", "Disable prompts, fail on missing arguments.").BoolVar(&flags.NonInteractive)
	app.Flag("yes", "Answer yes to every confirmation.").Short('y').BoolVar(&flags.Yes)
	app.Flag("key", "Path of the private key to authenticate with.").StringVar(&flags.KeyPath)
	app.Flag("verbose", "Enable debug logging.").Short('v').BoolVar(&flags.Verbose)
	app.Version(xsshend.Version)

	for _, command := range commands {
		command.Initialize(app, &flags)
	}

	// Top-level -l/--list is shorthand for the list command.
	rewritten := make([]string, 0, len(args)+1)
	aliased := false
	for _, arg := range args {
		if !aliased && (arg == "-l" || arg == "--list") {
			aliased = true
			continue
		}
		rewritten = append(rewritten, arg)
	}
	if aliased {
		args = append([]string{"list"}, rewritten...)
	}
	if len(args) == 0 {
		app.Usage(args)
		return nil
	}

	selected, err := app.Parse(args)
	if err != nil {
		return &ExitCodeError{Code: ExitValidation, Err: err}
	}

	level := log.WarnLevel
	if flags.Verbose {
		level = log.DebugLevel
	}
	utils.InitLogger(utils.LoggingForCLI, level)

	for _, command := range commands {
		match, err := command.TryRun(selected)
		if err != nil {
			return err
		}
		if match {
			return nil
		}
	}
	return &ExitCodeError{Code: ExitValidation,
		Err: fmt.Errorf("unknown command %q", selected)}
}

// Main is the process entry point shared with tests.
func Main(args []string) int {
	err := Run([]CLICommand{
		&UploadCommand{},
		&ExecCommand{},
		&ListCommand{},
		&InitCommand{},
	}, args)
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitCodeError
	if errors.As(err, &exitErr) {
		if exitErr.Err != nil {
			fmt.Fprintln(os.Stderr, utils.UserMessageFromError(exitErr.Err))
		}
		return exitErr.Code
	}
	fmt.Fprintln(os.Stderr, utils.UserMessageFromError(err))
	return ExitRuntime
}

// newAuthResolver builds the resolver shared by every target of a run.
func newAuthResolver(flags *GlobalFlags) (*sshutils.AuthResolver, error) {
	store, err := keys.NewStore()
	if err != nil {
		return nil, err
	}
	resolver := &sshutils.AuthResolver{
		Store: store,
		Cache: keys.NewPassphraseCache(),
	}
	if !flags.NonInteractive {
		resolver.Prompt = promptPassphrase
	}
	if flags.KeyPath != "" {
		key, err := store.Find(flags.KeyPath)
		if err != nil {
			// A path outside the SSH directory is still usable.
			if !utils.FileExists(flags.KeyPath) {
				return nil, &ExitCodeError{Code: ExitValidation,
					Err: fmt.Errorf("key %v not found", flags.KeyPath)}
			}
			key = keys.Key{Name: flags.KeyPath, PrivatePath: flags.KeyPath}
		}
		resolver.Key = &key
	}
	return resolver, nil
}

// selectTargets loads the catalog and applies the CLI filters.
func selectTargets(env, region, serverType string) ([]catalog.Target, error) {
	cat, err := catalog.Load()
	if err != nil {
		return nil, &ExitCodeError{Code: ExitRuntime, Err: err}
	}
	targets := cat.Filter(catalog.Filter{Env: env, Region: region, Type: serverType})
	if len(targets) == 0 {
		return nil, &ExitCodeError{Code: ExitValidation,
			Err: fmt.Errorf("no hosts match the given filters")}
	}
	return targets, nil
}
