package llm

import (
	"errors"
	"strings"
)

const (
	FenceOpen  = "```json"
	FenceClose = "```"
)

var ErrNoFencedBlock = errors.New("no fenced json block in response")

// ExtractFenced returns the content of the first ```json ... ``` block in
// text. Trailing whitespace is normalized to a single newline. A missing or
// blank block is an error.
func ExtractFenced(text string) (string, error) {
	start := strings.Index(text, FenceOpen)
	if start < 0 {
		return "", ErrNoFencedBlock
	}
	rest := text[start+len(FenceOpen):]
	end := strings.Index(rest, FenceClose)
	if end < 0 {
		return "", ErrNoFencedBlock
	}

	body := strings.TrimRight(rest[:end], " \t\r\n")
	body = strings.TrimLeft(body, "\r\n")
	if strings.TrimSpace(body) == "" {
		return "", ErrEmptyResponse
	}
	return body + "\n", nil
}

// Fence wraps body in a ```json block.
func Fence(body string) string {
	return FenceOpen + "\n" + strings.TrimRight(body, "\n") + "\n" + FenceClose
}
