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
	"flag"
	"fmt"
	"io"
	"os"
	"testing"

	"github.com/gravitational/kingpin"
	"github.com/gravitational/trace"
	"github.com/sirupsen/logrus"
)

// LoggingPurpose distinguishes the CLI from long-running use when
// initializing the global logger.
type LoggingPurpose int

const (
	// LoggingForCLI only surfaces logs when debug logging was requested.
	LoggingForCLI LoggingPurpose = iota
	// LoggingForDaemon always writes formatted logs to stderr.
	LoggingForDaemon
)

// InitLogger configures the global logger for a given purpose and verbosity
// level.
func InitLogger(purpose LoggingPurpose, level logrus.Level) {
	logrus.StandardLogger().ReplaceHooks(make(logrus.LevelHooks))
	logrus.SetLevel(level)
	switch purpose {
	case LoggingForCLI:
		// If debug logging was asked for on the CLI, then write logs to
		// stderr. Otherwise, discard all logs.
		if level == logrus.DebugLevel {
			logrus.SetFormatter(&logrus.TextFormatter{})
			logrus.SetOutput(os.Stderr)
		} else {
			logrus.SetOutput(io.Discard)
		}
	case LoggingForDaemon:
		logrus.SetFormatter(&logrus.TextFormatter{})
		logrus.SetOutput(os.Stderr)
	}
}

// NewLoggerForTests creates a new logger for test environments.
func NewLoggerForTests() *logrus.Logger {
	flag.Parse()
	logger := logrus.New()
	logger.ReplaceHooks(make(logrus.LevelHooks))
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stderr)
	if testing.Verbose() {
		logger.SetLevel(logrus.DebugLevel)
		return logger
	}
	logger.SetLevel(logrus.WarnLevel)
	logger.SetOutput(io.Discard)
	return logger
}

// InitCLIParser configures a kingpin command line parser with defaults
// common to the xsshend CLI.
func InitCLIParser(appName, appHelp string) *kingpin.Application {
	app := kingpin.New(appName, appHelp)
	app.HelpFlag.Hidden()
	app.HelpFlag.NoEnvar()
	return app
}

// UserMessageFromError returns a user-friendly error message. With debug
// logging enabled the full trace report is returned instead.
func UserMessageFromError(err error) string {
	if err == nil {
		return ""
	}
	if logrus.GetLevel() == logrus.DebugLevel {
		return trace.DebugReport(err)
	}
	return fmt.Sprintf("ERROR: %v", trace.UserMessage(err))
}
