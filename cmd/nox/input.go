package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/chzyer/readline"
	"golang.org/x/term"

	"nox/internal/dispatch"
	"nox/internal/engine"
	"nox/internal/i18n"
)

type lineInput interface {
	ReadLine(prompt string) (string, error)
	Close() error
}

type basicLineInput struct {
	reader *bufio.Reader
	out    io.Writer
}

func newBasicLineInput(in io.Reader, out io.Writer) *basicLineInput {
	return &basicLineInput{
		reader: bufio.NewReader(in),
		out:    out,
	}
}

func (b *basicLineInput) ReadLine(prompt string) (string, error) {
	if b.out != nil {
		fmt.Fprint(b.out, prompt)
	}
	line, err := b.reader.ReadString('\n')
	if err != nil {
		if errors.Is(err, io.EOF) && line != "" {
			return strings.TrimRight(line, "\r\n"), nil
		}
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func (b *basicLineInput) Close() error { return nil }

type readlineInput struct {
	instance *readline.Instance
}

func newReadlineInput(historyPath string) (*readlineInput, error) {
	if historyPath != "" {
		if err := os.MkdirAll(filepath.Dir(historyPath), 0o755); err != nil {
			return nil, fmt.Errorf("create history dir: %w", err)
		}
	}
	instance, err := readline.NewEx(&readline.Config{
		Prompt:            "> ",
		HistoryFile:       historyPath,
		HistorySearchFold: true,
		InterruptPrompt:   "^C",
		EOFPrompt:         "exit",
	})
	if err != nil {
		return nil, err
	}
	return &readlineInput{instance: instance}, nil
}

func (r *readlineInput) ReadLine(prompt string) (string, error) {
	r.instance.SetPrompt(prompt)
	return r.instance.Readline()
}

func (r *readlineInput) Close() error {
	if r == nil || r.instance == nil {
		return nil
	}
	return r.instance.Close()
}

// newLineInput uses readline on a terminal and plain buffered reads
// otherwise, so piped transcripts work.
func newLineInput(historyPath string, tty bool) (lineInput, error) {
	if !tty {
		return newBasicLineInput(os.Stdin, os.Stdout), nil
	}
	readlineReader, err := newReadlineInput(historyPath)
	if err == nil {
		return readlineReader, nil
	}
	return newBasicLineInput(os.Stdin, os.Stdout), err
}

func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

func terminalWidth() int {
	w, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || w <= 0 {
		return 80
	}
	return w
}

func isInterrupt(err error) bool {
	return errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF)
}

// confirmPrompt asks a yes/no question; interrupts count as "no".
func confirmPrompt(reader lineInput) engine.ConfirmFunc {
	return func(_ context.Context, prompt string) (bool, error) {
		line, err := reader.ReadLine(i18n.T("prompt.confirm", prompt))
		if err != nil {
			if isInterrupt(err) {
				return false, nil
			}
			return false, err
		}
		answer := strings.ToLower(strings.TrimSpace(line))
		return answer == "y" || answer == "yes", nil
	}
}

// selectorPrompt lets the operator pick an instrument for one request.
func selectorPrompt(reader lineInput, out io.Writer) dispatch.Selector {
	return func(_ context.Context, roster []string) (string, error) {
		fmt.Fprintln(out, i18n.T("prompt.select"))
		for i, label := range roster {
			fmt.Fprintf(out, "  %d. %s\n", i+1, label)
		}
		for {
			line, err := reader.ReadLine(i18n.T("prompt.select_in"))
			if err != nil {
				if isInterrupt(err) {
					return "", nil
				}
				return "", err
			}
			label, err := parseSelection(line, roster)
			if err == nil {
				return label, nil
			}
			fmt.Fprintln(out, err)
		}
	}
}

// parseSelection maps a 1-based number or a label (case-insensitive) to a
// roster entry. Empty input means unlabelled.
func parseSelection(input string, roster []string) (string, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return "", nil
	}
	if n, err := strconv.Atoi(input); err == nil {
		if n < 1 || n > len(roster) {
			return "", errors.New(i18n.T("select.range", len(roster)))
		}
		return roster[n-1], nil
	}
	for _, label := range roster {
		if strings.EqualFold(label, input) {
			return label, nil
		}
	}
	return "", errors.New(i18n.T("select.unknown", input))
}

// readPassphrase reads without echo on a terminal.
func readPassphrase(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	defer fmt.Fprintln(os.Stderr)
	if !isTerminal(os.Stdin) {
		return "", errors.New("passphrase prompt needs a terminal")
	}
	b, err := term.ReadPassword(int(os.Stdin.Fd()))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}
