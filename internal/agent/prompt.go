package agent

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"
)

// PromptPassword reads a password from the terminal without echo.
// Falls back to a plain line read when stdin is not a terminal, so
// scripted sessions still work.
func PromptPassword(label string) (string, error) {
	fmt.Print(label)
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		b, err := term.ReadPassword(fd)
		fmt.Println()
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		return string(b), nil
	}
	return PromptLine("")
}

// PromptLine reads one trimmed line from stdin.
func PromptLine(label string) (string, error) {
	if label != "" {
		fmt.Print(label)
	}
	scanner := bufio.NewScanner(os.Stdin)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return "", err
		}
		return "", fmt.Errorf("input closed")
	}
	return strings.TrimSpace(scanner.Text()), nil
}
