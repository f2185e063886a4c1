package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/kandev/acpbridge/internal/bridge/runtime"
)

type prompter interface {
	Prompt(ctx context.Context, text string) (runtime.PromptResult, error)
}

func joinPrompt(preamble, text string) string {
	if preamble == "" {
		return text
	}
	return preamble + "\n" + text
}

func sendOne(ctx context.Context, p prompter, text string, out io.Writer) error {
	result, err := p.Prompt(ctx, text)
	if err != nil {
		return err
	}
	printResult(out, result)
	return nil
}

func printResult(out io.Writer, result runtime.PromptResult) {
	fmt.Fprintln(out, result.Text)
	fmt.Fprintf(out, "[stop reason: %s]\n", result.StopReason)
}

// repl sends each non-empty input line as a prompt. preamble is attached to
// the first one only. Prompt errors are printed and the loop continues.
func repl(ctx context.Context, p prompter, preamble string, in io.Reader, out io.Writer) error {
	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- scanner.Err()
	}()

	fmt.Fprint(out, "> ")
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-readErr:
					return err
				default:
					return nil
				}
			}
			line = strings.TrimSpace(line)
			if line != "" {
				if err := sendOne(ctx, p, joinPrompt(preamble, line), out); err != nil {
					if ctx.Err() != nil {
						return nil
					}
					fmt.Fprintf(out, "error: %v\n", err)
				}
				preamble = ""
			}
			fmt.Fprint(out, "> ")
		}
	}
}
