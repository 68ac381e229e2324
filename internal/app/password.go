package app

import (
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/term"
)

// ErrNoPassword is returned when no password source is available: the
// named variable is unset and stdin is not a terminal.
var ErrNoPassword = errors.New("no password available")

// PasswordSource reads passwords from an environment variable or, failing
// that, from a hidden terminal prompt.
type PasswordSource struct {
	EnvVar string // consulted first when non-empty

	in       *os.File
	out      io.Writer
	getenv   func(string) (string, bool)
	isTerm   func(fd int) bool
	readPass func(fd int) ([]byte, error)
}

// NewPasswordSource prompts on stdin and writes prompts to stderr.
func NewPasswordSource(envVar string) *PasswordSource {
	return &PasswordSource{
		EnvVar:   envVar,
		in:       os.Stdin,
		out:      os.Stderr,
		getenv:   os.LookupEnv,
		isTerm:   term.IsTerminal,
		readPass: term.ReadPassword,
	}
}

// Read returns a password. With confirm set the prompt is repeated and the
// two entries must match; use it when the password protects new data.
func (p *PasswordSource) Read(prompt string, confirm bool) (string, error) {
	if p.EnvVar != "" {
		if v, ok := p.getenv(p.EnvVar); ok {
			if v == "" {
				return "", fmt.Errorf("environment variable %s is empty", p.EnvVar)
			}
			return v, nil
		}
	}

	fd := int(p.in.Fd())
	if !p.isTerm(fd) {
		if p.EnvVar != "" {
			return "", fmt.Errorf("%w: %s is not set and stdin is not a terminal", ErrNoPassword, p.EnvVar)
		}
		return "", fmt.Errorf("%w: stdin is not a terminal", ErrNoPassword)
	}

	first, err := p.prompt(fd, prompt)
	if err != nil {
		return "", err
	}
	if first == "" {
		return "", fmt.Errorf("password must not be empty")
	}
	if !confirm {
		return first, nil
	}
	second, err := p.prompt(fd, "Repeat "+prompt)
	if err != nil {
		return "", err
	}
	if first != second {
		return "", fmt.Errorf("passwords do not match")
	}
	return first, nil
}

func (p *PasswordSource) prompt(fd int, prompt string) (string, error) {
	fmt.Fprintf(p.out, "%s: ", prompt)
	b, err := p.readPass(fd)
	fmt.Fprintln(p.out)
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}
	return string(b), nil
}
