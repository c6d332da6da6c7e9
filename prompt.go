package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"golang.org/x/term"
)

// errNoInput is returned when stdin ends before an answer was read.
var errNoInput = errors.New("no input: stdin closed before a value was entered")

// prompter reads answers from stdin. On a terminal passwords are read
// without echo; otherwise every answer, passwords included, is one line,
// which lets scripts pipe credentials in.
type prompter struct {
	in     *bufio.Reader
	out    io.Writer
	fd     int
	isTerm bool
}

func newPrompter(in io.Reader, out io.Writer) *prompter {
	p := &prompter{in: bufio.NewReader(in), out: out, fd: -1}

	if f, ok := in.(*os.File); ok && isatty.IsTerminal(f.Fd()) {
		p.fd = int(f.Fd())
		p.isTerm = true
	}

	return p
}

// line prints label and reads one trimmed line.
func (p *prompter) line(label string) (string, error) {
	fmt.Fprint(p.out, label)

	s, err := p.readLine()
	if err != nil {
		return "", err
	}

	return strings.TrimSpace(s), nil
}

// secret reads a password. Surrounding whitespace is kept: it may be part of
// the password.
func (p *prompter) secret(label string) (string, error) {
	if !p.isTerm {
		fmt.Fprint(p.out, label)

		s, err := p.readLine()
		if err != nil {
			return "", err
		}

		return strings.TrimRight(s, "\r\n"), nil
	}

	fmt.Fprint(p.out, label)

	b, err := term.ReadPassword(p.fd)
	fmt.Fprintln(p.out)

	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}

	return string(b), nil
}

// readLine reads up to and including the next newline. A final line
// without one still counts.
func (p *prompter) readLine() (string, error) {
	s, err := p.in.ReadString('\n')
	if err == nil {
		return s, nil
	}

	if !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("reading input: %w", err)
	}

	if s == "" {
		return "", errNoInput
	}

	return s, nil
}

// confirm asks a yes/no question; only "y" and "yes" agree.
func (p *prompter) confirm(label string) (bool, error) {
	answer, err := p.line(label + " [y/N] ")
	if err != nil {
		return false, err
	}

	answer = strings.ToLower(answer)

	return answer == "y" || answer == "yes", nil
}

// prompts returns the shared stdin prompter, creating it on first use so
// buffered input is never split between two readers.
func (cc *CLIContext) prompts() *prompter {
	if cc.prompt == nil {
		cc.prompt = newPrompter(cc.In, cc.Err)
	}

	return cc.prompt
}

// valueOrPrompt returns flag when set, else asks for it.
func (cc *CLIContext) valueOrPrompt(flag, label string) (string, error) {
	if flag != "" {
		return strings.TrimSpace(flag), nil
	}

	return cc.prompts().line(label)
}
