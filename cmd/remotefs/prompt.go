package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/manifoldco/promptui"
	"golang.org/x/term"
)

var errNotInteractive = errors.New("no terminal to prompt on")

func interactive() bool {
	return term.IsTerminal(int(os.Stdin.Fd())) && term.IsTerminal(int(os.Stderr.Fd()))
}

// promptPassphrase asks for the passphrase of an encrypted key.
func promptPassphrase(source string) (string, error) {
	if !interactive() {
		return "", fmt.Errorf("passphrase for %s: %w", source, errNotInteractive)
	}

	prompt := promptui.Prompt{
		Label:  "Passphrase for " + source,
		Mask:   '*',
		Stdout: os.Stderr,
	}

	return prompt.Run()
}

// pickHost lets the user choose one of the configured hosts.
func pickHost(names []string) (string, error) {
	if len(names) == 0 {
		return "", errors.New("no hosts configured")
	}

	if !interactive() {
		return "", fmt.Errorf("host argument required: %w", errNotInteractive)
	}

	prompt := promptui.Select{
		Label:  "Host",
		Items:  names,
		Size:   10,
		Stdout: os.Stderr,
		Templates: &promptui.SelectTemplates{
			Label:    "{{ . }}",
			Active:   "▸ {{ . | cyan }}",
			Inactive: "  {{ . }}",
			Selected: "Host: {{ . }}",
		},
		HideHelp: true,
	}

	_, name, err := prompt.Run()

	return name, err
}
