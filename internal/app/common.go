package app

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
)

// confirmer returns the prompt used by a command. --yes answers every
// question; a terminal gets an interactive prompt; anything else reads a
// y/N line from the command's input. All prompts of one confirmer share a
// reader so buffered answers are not lost between questions.
func confirmer(cmd *cobra.Command, yes bool) func(string) (bool, error) {
	var lines *bufio.Reader
	return func(prompt string) (bool, error) {
		if yes {
			return true, nil
		}
		if in, ok := cmd.InOrStdin().(*os.File); ok && isatty.IsTerminal(in.Fd()) && isatty.IsTerminal(os.Stdout.Fd()) {
			return confirmTerminal(prompt)
		}
		if lines == nil {
			lines = bufio.NewReader(cmd.InOrStdin())
		}
		return confirmLine(lines, cmd.OutOrStdout(), prompt), nil
	}
}

func confirmTerminal(prompt string) (bool, error) {
	title, description, _ := strings.Cut(prompt, "\n")
	var ok bool
	field := huh.NewConfirm().
		Title(title).
		Description(description).
		Affirmative("Yes").
		Negative("No").
		Value(&ok)
	err := huh.NewForm(huh.NewGroup(field)).Run()
	if errors.Is(err, huh.ErrUserAborted) {
		return false, nil
	}
	return ok, err
}

// confirmLine prompts with [y/N] and reads one line. Anything but y/yes
// declines.
func confirmLine(r *bufio.Reader, w io.Writer, prompt string) bool {
	fmt.Fprintf(w, "%s [y/N]: ", prompt)

	response, err := r.ReadString('\n')
	if err != nil && response == "" {
		return false
	}

	response = strings.TrimSpace(strings.ToLower(response))
	return response == "y" || response == "yes"
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	return nil
}
