package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"ragchat.dev/doc-chatbot/internal/chat"
)

const (
	prompt             = "> "
	continuationPrompt = "... "
	quitCommand        = "/quit"
)

// runREPL reads questions line by line until /quit, EOF or ctx is done. A line ending
// in a backslash continues the question on the next line.
func runREPL(ctx context.Context, in io.Reader, out io.Writer, session *chat.Session, opts ...chat.RenderOption) error {
	fmt.Fprintln(out, "Ask a question about your documents. End a line with \\ to continue it, /quit to exit.")

	scanner := bufio.NewScanner(in)
	var pending []string

	fmt.Fprint(out, prompt)
	for scanner.Scan() {
		line := scanner.Text()

		if len(pending) == 0 && strings.TrimSpace(line) == quitCommand {
			return nil
		}
		if strings.HasSuffix(line, `\`) {
			pending = append(pending, strings.TrimSuffix(line, `\`))
			fmt.Fprint(out, continuationPrompt)
			continue
		}

		input := strings.Join(append(pending, line), "\n")
		pending = nil

		if err := send(ctx, out, session, input, opts); err != nil {
			return err
		}
		if ctx.Err() != nil {
			return nil
		}
		fmt.Fprint(out, prompt)
	}
	fmt.Fprintln(out)
	return scanner.Err()
}

// send runs one exchange and prints the entries it appended.
func send(ctx context.Context, out io.Writer, session *chat.Session, input string, opts []chat.RenderOption) error {
	if strings.TrimSpace(input) == "" {
		return nil
	}

	before := len(session.Messages())
	fmt.Fprintln(out, "Thinking...")

	err := session.Send(ctx, input)
	if errors.Is(err, chat.ErrEmptyInput) || errors.Is(err, chat.ErrBusy) {
		return nil
	}

	msgs := session.Messages()
	if len(msgs) > before {
		if err := chat.RenderTranscript(out, msgs[before:], opts...); err != nil {
			return err
		}
	}
	if msg := session.Err(); msg != "" {
		fmt.Fprintln(out, msg)
	}
	return nil
}
