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
	"bufio"
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"
)

// isInteractive reports whether prompts can be shown at all.
func isInteractive() bool {
	return term.IsTerminal(int(os.Stdin.Fd())) && term.IsTerminal(int(os.Stderr.Fd()))
}

// promptPassphrase asks for a private key passphrase without echo.
func promptPassphrase(path string) (string, error) {
	fmt.Fprintf(os.Stderr, "Enter passphrase for %v: ", path)
	passphrase, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return string(passphrase), nil
}

// promptString reads one line, returning the fallback on empty input.
func promptString(question, fallback string) (string, error) {
	if fallback != "" {
		fmt.Fprintf(os.Stderr, "%v [%v]: ", question, fallback)
	} else {
		fmt.Fprintf(os.Stderr, "%v: ", question)
	}
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return fallback, nil
	}
	return line, nil
}

// promptChoice shows the options and reads one of them, or empty for all.
func promptChoice(question string, options []string) (string, error) {
	fmt.Fprintf(os.Stderr, "%v (empty for all):\n", question)
	for _, option := range options {
		fmt.Fprintf(os.Stderr, "  - %v\n", option)
	}
	answer, err := promptString("> ", "")
	if err != nil {
		return "", err
	}
	if answer == "" {
		return "", nil
	}
	for _, option := range options {
		if answer == option {
			return answer, nil
		}
	}
	return "", fmt.Errorf("%q is not one of the offered values", answer)
}

// confirm asks a yes/no question, defaulting to no.
func confirm(question string) (bool, error) {
	answer, err := promptString(question+" (y/N)", "n")
	if err != nil {
		return false, err
	}
	answer = strings.ToLower(answer)
	return answer == "y" || answer == "yes", nil
}
