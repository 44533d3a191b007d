// Package prompt is the synchronous channel to the operator running shipit.
package prompt

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/AlecAivazis/survey/v2"
	"github.com/mattn/go-isatty"

	shipiterrors "shipit.dev/shipit/internal/errors"
)

// Operator answers the questions a run cannot decide on its own. Calls block
// until the operator responds.
type Operator interface {
	// Confirm asks a yes/no question. An empty answer means yes.
	Confirm(message string) (bool, error)
	// Acknowledge waits until the operator reports a task as done
	Acknowledge(message string) error
	// Show displays text the operator needs to act, such as conflict output
	Show(text string)
}

// Terminal talks to the operator on the console. Interactive terminals get
// survey prompts; anything else is read line by line.
type Terminal struct {
	in          *bufio.Reader
	out         io.Writer
	interactive bool
}

// NewTerminal creates an operator on stdin/stdout
func NewTerminal() *Terminal {
	return &Terminal{
		in:          bufio.NewReader(os.Stdin),
		out:         os.Stdout,
		interactive: IsTTY(),
	}
}

// NewLineTerminal creates a non-interactive operator reading answers from in
func NewLineTerminal(in io.Reader, out io.Writer) *Terminal {
	return &Terminal{in: bufio.NewReader(in), out: out}
}

// IsTTY returns true if stdin and stdout are terminals
func IsTTY() bool {
	return (isatty.IsTerminal(os.Stdin.Fd()) || isatty.IsCygwinTerminal(os.Stdin.Fd())) &&
		(isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd()))
}

func (t *Terminal) Confirm(message string) (bool, error) {
	if t.interactive {
		answer := true
		prompt := &survey.Confirm{
			Message: message,
			Default: true,
		}
		if err := survey.AskOne(prompt, &answer); err != nil {
			return false, fmt.Errorf("%w: %w", shipiterrors.ErrResolutionAborted, err)
		}
		return answer, nil
	}

	_, _ = fmt.Fprintf(t.out, "%s [Y/n] ", message)
	line, err := t.readLine()
	if err != nil {
		return false, err
	}
	return line == "" || strings.ToUpper(line[:1]) == "Y", nil
}

func (t *Terminal) Acknowledge(message string) error {
	if t.interactive {
		var ignored string
		prompt := &survey.Input{Message: message}
		if err := survey.AskOne(prompt, &ignored); err != nil {
			return fmt.Errorf("%w: %w", shipiterrors.ErrResolutionAborted, err)
		}
		return nil
	}

	_, _ = fmt.Fprint(t.out, message)
	_, err := t.readLine()
	return err
}

func (t *Terminal) Show(text string) {
	_, _ = fmt.Fprintln(t.out, strings.TrimRight(text, "\n"))
}

func (t *Terminal) readLine() (string, error) {
	line, err := t.in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", fmt.Errorf("%w: no answer from operator", shipiterrors.ErrResolutionAborted)
	}
	return strings.TrimSpace(line), nil
}
