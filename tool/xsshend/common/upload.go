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
	"sort"
	"strings"

	"github.com/gravitational/kingpin"
	"github.com/gravitational/trace"
	"github.com/schollz/progressbar/v3"

	"github.com/willisback/xsshend/lib/catalog"
	"github.com/willisback/xsshend/lib/defaults"
	"github.com/willisback/xsshend/lib/sshutils"
	"github.com/willisback/xsshend/lib/transfer"
	"github.com/willisback/xsshend/lib/utils"
)

// UploadCommand broadcasts local files to the selected targets.
type UploadCommand struct {
	flags *GlobalFlags
	cmd   *kingpin.CmdClause

	files      []string
	env        string
	region     string
	serverType string
	dest       string
	dryRun     bool
}

// Initialize plugs the command into the parser.
func (c *UploadCommand) Initialize(app *kingpin.Application, flags *GlobalFlags) {
	c.flags = flags
	c.cmd = app.Command("upload", "Upload files to the selected targets over SFTP.")
	c.cmd.Arg("file", "Files to upload.").Required().StringsVar(&c.files)
	c.cmd.Flag("env", "Environment filter.").StringVar(&c.env)
	c.cmd.Flag("region", "Region filter.").StringVar(&c.region)
	c.cmd.Flag("server-type", "Server type filter.").Short('t').StringVar(&c.serverType)
	c.cmd.Flag("dest", "Destination directory on the targets.").Short('d').
		Default(defaults.DestinationDir).StringVar(&c.dest)
	c.cmd.Flag("dry-run", "Show the plan without transferring anything.").BoolVar(&c.dryRun)
}

// TryRun executes the command when selected.
func (c *UploadCommand) TryRun(selected string) (bool, error) {
	if selected != c.cmd.FullCommand() {
		return false, nil
	}
	return true, c.run()
}

func (c *UploadCommand) run() error {
	// All validation happens before any network I/O.
	for _, file := range c.files {
		if err := utils.ValidateLocalFile(file); err != nil {
			return &ExitCodeError{Code: ExitValidation, Err: err}
		}
	}
	if c.flags.NonInteractive {
		if c.env == "" {
			return &ExitCodeError{Code: ExitValidation,
				Err: fmt.Errorf("--env is required with --non-interactive")}
		}
		if !strings.HasPrefix(c.dest, "/") {
			return &ExitCodeError{Code: ExitValidation,
				Err: fmt.Errorf("an absolute destination is required with --non-interactive")}
		}
	}

	if !c.flags.NonInteractive && isInteractive() {
		if err := c.promptMissing(); err != nil {
			return err
		}
	}

	targets, err := selectTargets(c.env, c.region, c.serverType)
	if err != nil {
		return err
	}

	if c.dryRun {
		return c.printPlan(targets)
	}

	if !c.flags.Yes {
		if !isInteractive() || c.flags.NonInteractive {
			return &ExitCodeError{Code: ExitValidation,
				Err: fmt.Errorf("confirmation required, pass --yes to proceed")}
		}
		ok, err := confirm(fmt.Sprintf("Upload %v file(s) to %v target(s)?",
			len(c.files), len(targets)))
		if err != nil {
			return err
		}
		if !ok {
			fmt.Println("Upload cancelled.")
			return nil
		}
	}

	resolver, err := newAuthResolver(c.flags)
	if err != nil {
		return err
	}
	return c.broadcast(targets, resolver)
}

// promptMissing completes filters and destination interactively.
func (c *UploadCommand) promptMissing() error {
	cat, err := catalog.Load()
	if err != nil {
		return &ExitCodeError{Code: ExitRuntime, Err: err}
	}
	if c.env == "" {
		if c.env, err = promptChoice("Environment", cat.Environments()); err != nil {
			return &ExitCodeError{Code: ExitValidation, Err: err}
		}
	}
	if c.env != "" && c.region == "" {
		if c.region, err = promptChoice("Region", cat.Regions(c.env)); err != nil {
			return &ExitCodeError{Code: ExitValidation, Err: err}
		}
	}
	if c.env != "" && c.serverType == "" {
		if c.serverType, err = promptChoice("Server type", cat.Types(c.env, c.region)); err != nil {
			return &ExitCodeError{Code: ExitValidation, Err: err}
		}
	}
	if c.dest == defaults.DestinationDir {
		if c.dest, err = promptString("Destination directory", defaults.DestinationDir); err != nil {
			return &ExitCodeError{Code: ExitValidation, Err: err}
		}
	}
	return nil
}

// printPlan renders the dry-run report.
func (c *UploadCommand) printPlan(targets []catalog.Target) error {
	fmt.Println("Dry run, nothing will be transferred.")
	fmt.Println("Files:")
	for _, file := range c.files {
		fi, err := os.Stat(file)
		if err != nil {
			return &ExitCodeError{Code: ExitValidation, Err: trace.ConvertSystemError(err)}
		}
		fmt.Printf("  %v (%v)\n", file, utils.HumanReadableSize(fi.Size()))
	}
	fmt.Printf("Destination: %v\n", c.dest)
	fmt.Println("Targets:")
	for _, target := range targets {
		fmt.Printf("  would transfer to %v (%v)\n", target.Name, target.Entry.Alias)
	}
	return nil
}

// broadcast drives the pool over every file and prints the outcome.
func (c *UploadCommand) broadcast(targets []catalog.Target, resolver *sshutils.AuthResolver) error {
	pool, err := transfer.NewPool(transfer.PoolConfig{
		Selection: targets,
		Auth:      resolver,
	})
	if err != nil {
		return err
	}
	defer pool.Stop()

	sub := pool.Bus().Subscribe()
	rendererDone := make(chan struct{})
	go func() {
		defer close(rendererDone)
		renderProgress(sub, c.flags.Verbose, len(targets)*len(c.files))
	}()

	var failedFiles []string
	for _, file := range c.files {
		// Tilde and variable expansion happens per target inside the
		// pool, where each session knows its login and remote home.
		result, err := pool.UploadFile(file, c.dest, filepath.Base(file))
		if err != nil {
			failedFiles = append(failedFiles, file)
			fmt.Printf("%v: failed on every target\n", file)
			continue
		}
		fmt.Printf("%v: %v/%v targets, %v transferred\n",
			file, len(result.Succeeded), len(targets), utils.HumanReadableSize(result.Bytes))
		if len(result.FailedTargets) > 0 {
			names := make([]string, 0, len(result.FailedTargets))
			for name := range result.FailedTargets {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				fmt.Printf("  failed: %v: %v\n", name, result.FailedTargets[name])
			}
		}
	}
	pool.Stop()
	<-rendererDone

	if len(failedFiles) == len(c.files) {
		return &ExitCodeError{Code: ExitRuntime,
			Err: fmt.Errorf("every file failed on every target")}
	}
	return nil
}

// renderProgress consumes the bus until it closes. In verbose mode each
// event is printed; otherwise a single bar counts terminal transitions.
func renderProgress(sub *transfer.Subscription, verbose bool, total int) {
	var bar *progressbar.ProgressBar
	if !verbose && total > 0 {
		bar = progressbar.NewOptions(total,
			progressbar.OptionSetDescription("uploading"),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionShowCount(),
			progressbar.OptionSetRenderBlankState(true),
		)
	}
	for event := range sub.Events() {
		switch {
		case event.Status == transfer.StatusCompleted:
			if bar != nil {
				bar.Add(1)
			} else {
				fmt.Printf("  done: %v (%v)\n", event.Target, utils.HumanReadableSize(event.Bytes))
			}
		case event.Status == transfer.StatusFailed:
			if bar != nil {
				bar.Add(1)
			}
			fmt.Printf("  fail: %v: %v\n", event.Target, event.Err)
		case verbose:
			fmt.Printf("  %v: %v %v/%v\n", event.Target, event.Status,
				utils.HumanReadableSize(event.Bytes), utils.HumanReadableSize(event.Total))
		}
	}
	if bar != nil {
		bar.Finish()
		fmt.Fprintln(os.Stderr)
	}
}
