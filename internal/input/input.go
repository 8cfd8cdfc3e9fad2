// Package input reads interactive answers from a terminal with context
// cancellation, so Ctrl+C during a prompt aborts cleanly.
package input

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// ErrInputAborted signals that interactive input was interrupted (Ctrl+C or
// stdin closed). Callers map it to their own abort error.
var ErrInputAborted = errors.New("input aborted")

// IsAborted reports whether err comes from an interrupted prompt.
func IsAborted(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrInputAborted) || errors.Is(err, context.Canceled)
}

// MapInputError normalizes common stdin errors (EOF/closed fd) into ErrInputAborted.
func MapInputError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, io.EOF) || errors.Is(err, os.ErrClosed) {
		return ErrInputAborted
	}
	errStr := strings.ToLower(err.Error())
	if strings.Contains(errStr, "use of closed file") ||
		strings.Contains(errStr, "bad file descriptor") ||
		strings.Contains(errStr, "file already closed") {
		return ErrInputAborted
	}
	return err
}

// ReadLineWithContext reads a single line and supports cancellation. On ctx
// cancellation or stdin closure it returns ErrInputAborted; on a deadline it
// returns context.DeadlineExceeded.
func ReadLineWithContext(ctx context.Context, reader *bufio.Reader) (string, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	type result struct {
		line string
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		line, err := reader.ReadString('\n')
		if err != nil && line != "" && errors.Is(err, io.EOF) {
			// last line without newline
			err = nil
		}
		ch <- result{line: line, err: MapInputError(err)}
	}()
	select {
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", context.DeadlineExceeded
		}
		return "", ErrInputAborted
	case res := <-ch:
		return res.line, res.err
	}
}

// SelectIndex prints items as a numbered menu on w and loops until a valid
// number is entered. "0" aborts with ErrInputAborted.
func SelectIndex(ctx context.Context, reader *bufio.Reader, w io.Writer, title string, items []string) (int, error) {
	if len(items) == 0 {
		return 0, errors.New("nothing to select")
	}
	for {
		fmt.Fprintf(w, "\n%s:\n", title)
		for idx, item := range items {
			fmt.Fprintf(w, "  [%d] %s\n", idx+1, item)
		}
		fmt.Fprintln(w, "  [0] Exit")
		fmt.Fprint(w, "Choice: ")

		line, err := ReadLineWithContext(ctx, reader)
		if err != nil {
			return 0, err
		}
		trimmed := strings.TrimSpace(line)
		switch trimmed {
		case "0":
			return 0, ErrInputAborted
		case "":
			continue
		}
		idx, err := parseMenuIndex(trimmed, len(items))
		if err != nil {
			fmt.Fprintln(w, err)
			continue
		}
		return idx, nil
	}
}

func parseMenuIndex(s string, max int) (int, error) {
	idx, err := strconv.Atoi(s)
	if err != nil || idx < 1 || idx > max {
		return 0, fmt.Errorf("please enter a value between 1 and %d", max)
	}
	return idx - 1, nil
}
