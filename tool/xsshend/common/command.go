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
	"context"
	"fmt"
	"os"
	"time"

	"github.com/gravitational/kingpin"
	"github.com/gravitational/trace"

	"github.com/willisback/xsshend/lib/defaults"
	"github.com/willisback/xsshend/lib/exec"
)

// ExecCommand runs one shell command across the selected targets.
type ExecCommand struct {
	flags *GlobalFlags
	cmd   *kingpin.CmdClause

	inline        string
	script        string
	env           string
	region        string
	serverType    string
	parallel      bool
	timeoutSecs   int
	captureStderr bool
	outputFormat  string
}

// Initialize plugs the command into the parser.
func (c *ExecCommand) Initialize(app *kingpin.Application, flags *GlobalFlags) {
	c.flags = flags
	c.cmd = app.Command("command", "Run a shell command on the selected targets.")
	c.cmd.Flag("inline", "Command to run.").StringVar(&c.inline)
	c.cmd.Flag("script", "Script file whose content is run.").StringVar(&c.script)
	c.cmd.Flag("env", "Environment filter.").StringVar(&c.env)
	c.cmd.Flag("region", "Region filter.").StringVar(&c.region)
	c.cmd.Flag("server-type", "Server type filter.").Short('t').StringVar(&c.serverType)
	c.cmd.Flag("parallel", "Run on several targets at once.").BoolVar(&c.parallel)
	c.cmd.Flag("timeout", "Per-host timeout in seconds.").
		Default(fmt.Sprintf("%d", int(defaults.CommandTimeout/time.Second))).IntVar(&c.timeoutSecs)
	c.cmd.Flag("capture-stderr", "Show stderr in text output.").BoolVar(&c.captureStderr)
	c.cmd.Flag("output-format", "Output format, text or json.").
		Default("text").EnumVar(&c.outputFormat, "text", "json")
}

// TryRun executes the command when selected.
func (c *ExecCommand) TryRun(selected string) (bool, error) {
	if selected != c.cmd.FullCommand() {
		return false, nil
	}
	return true, c.run()
}

func (c *ExecCommand) run() error {
	if c.inline != "" && c.script != "" {
		return &ExitCodeError{Code: ExitValidation,
			Err: fmt.Errorf("--inline and --script are mutually exclusive")}
	}
	if c.inline == "" && c.script == "" {
		return &ExitCodeError{Code: ExitValidation,
			Err: fmt.Errorf("one of --inline or --script is required")}
	}
	if c.flags.NonInteractive && c.env == "" {
		return &ExitCodeError{Code: ExitValidation,
			Err: fmt.Errorf("--env is required with --non-interactive")}
	}

	command := c.inline
	if c.script != "" {
		data, err := os.ReadFile(c.script)
		if err != nil {
			return &ExitCodeError{Code: ExitValidation,
				Err: trace.ConvertSystemError(err)}
		}
		command = string(data)
	}

	targets, err := selectTargets(c.env, c.region, c.serverType)
	if err != nil {
		return err
	}

	if !c.flags.Yes {
		if !isInteractive() || c.flags.NonInteractive {
			return &ExitCodeError{Code: ExitValidation,
				Err: fmt.Errorf("confirmation required, pass --yes to proceed")}
		}
		ok, err := confirm(fmt.Sprintf("Run the command on %v target(s)?", len(targets)))
		if err != nil {
			return err
		}
		if !ok {
			fmt.Println("Execution cancelled.")
			return nil
		}
	}

	resolver, err := newAuthResolver(c.flags)
	if err != nil {
		return err
	}

	cfg := exec.Config{
		Command:  command,
		Hosts:    targets,
		Parallel: c.parallel,
		Timeout:  time.Duration(c.timeoutSecs) * time.Second,
		Auth:     resolver,
	}
	if c.outputFormat == "text" && !c.parallel {
		// Sequential text mode streams each host as it completes.
		cfg.OnResult = func(r exec.Result) {
			switch {
			case r.TimedOut:
				fmt.Printf("%v: timed out\n", r.Host)
			case r.Err != nil:
				fmt.Printf("%v: %v\n", r.Host, r.Err)
			default:
				fmt.Printf("%v: exit %v (%.2fs)\n", r.Host, r.ExitCode, r.Duration.Seconds())
			}
		}
	}

	executor, err := exec.NewExecutor(cfg)
	if err != nil {
		return err
	}
	results, err := executor.Run(context.Background())
	if err != nil {
		return err
	}

	switch c.outputFormat {
	case "json":
		out, err := exec.FormatJSON(results)
		if err != nil {
			return err
		}
		fmt.Println(string(out))
	default:
		fmt.Print(exec.FormatText(results, c.captureStderr))
	}

	summary := exec.Summarize(results)
	if summary.Failed > 0 {
		return &ExitCodeError{Code: ExitRuntime}
	}
	return nil
}
