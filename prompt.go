package main

import (
	"fmt"
	"os"

	"github.com/mattn/go-isatty"
	"golang.org/x/term"
)

// promptPassword reads a masked password from the controlling terminal when
// stdin is interactive. It returns "", nil when stdin is not a terminal
// (piped input, a daemon supervisor, a container) rather than blocking
// forever on a read that will never be answered.
func promptPassword() (string, error) {
	fd := int(os.Stdin.Fd())
	if !isatty.IsTerminal(fd) && !isatty.IsCygwinTerminal(fd) {
		return "", nil
	}

	fmt.Fprint(os.Stderr, "Apple ID password: ")

	raw, err := term.ReadPassword(fd)

	fmt.Fprintln(os.Stderr)

	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}

	return string(raw), nil
}
