package dispatch

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// SystemPromptFile is read from the vault path and prepended to every prompt.
const SystemPromptFile = "system-prompt.md"

const framingTemplate = "You are %s. Execute the following task. Write your full output in well-structured markdown.\n\n" +
	"Your previous responses appear in Obsidian callout blocks (lines starting with `>`). " +
	"The human's messages are plain text outside callouts. " +
	"Do NOT wrap your own response in a callout — that will be done for you.\n\n" +
	"IMPORTANT: You may only access files within these directories:\n" +
	"%s\n" +
	"Do not read, write, or execute anything outside these paths."

const iterationHintTemplate = "This is iteration %d. There may be previous output and " +
	"reviewer notes below. Pay attention to feedback and build on prior work."

// buildPrompt assembles the request text: the vault's system prompt when
// present, the task framing, an iteration hint for repeat runs, then body.
func (d *Dispatcher) buildPrompt(iteration int, body string) (string, error) {
	var parts []string

	system, err := os.ReadFile(filepath.Join(d.store.Root(), SystemPromptFile))
	switch {
	case err == nil:
		if s := strings.TrimSpace(string(system)); s != "" {
			parts = append(parts, s)
		}
	case errors.Is(err, fs.ErrNotExist):
	default:
		return "", fmt.Errorf("read %s: %w", SystemPromptFile, err)
	}

	paths := append([]string{d.store.Root()}, d.opts.AllowedPaths...)
	list := make([]string, len(paths))
	for i, p := range paths {
		list[i] = "- " + p
	}
	parts = append(parts, fmt.Sprintf(framingTemplate, d.opts.Name, strings.Join(list, "\n")))

	if iteration > 1 {
		parts = append(parts, fmt.Sprintf(iterationHintTemplate, iteration))
	}

	parts = append(parts, body)
	return strings.Join(parts, "\n\n"), nil
}
