package bridge

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/soyeahso/meshgate/internal/version"
)

// maxEventSize bounds a single SSE line.
const maxEventSize = 64 * 1024

// Stream opens GET /messages and writes one Frame per SSE event to out until
// the response ends, ctx is cancelled, or the connection fails. It returns
// ErrStreamClosed on a clean end of stream and ctx.Err() on cancellation.
// Stream never closes out.
func (c *Client) Stream(ctx context.Context, out chan<- Frame) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/messages", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := c.stream.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("bridge stream: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus("stream", resp); err != nil {
		return err
	}

	err = readEvents(resp.Body, func(data string, perr error) bool {
		f := Frame{Raw: data, Err: perr}
		if perr == nil {
			if jerr := json.Unmarshal([]byte(data), &f.Event); jerr != nil {
				f.Err = fmt.Errorf("malformed event: %w", jerr)
			}
		}
		select {
		case out <- f:
			return true
		case <-ctx.Done():
			return false
		}
	})
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err != nil {
		return fmt.Errorf("bridge stream: %w", err)
	}
	return ErrStreamClosed
}

// errEventTooLarge marks an event that carried a line over maxEventSize.
var errEventTooLarge = errors.New("malformed event: line exceeds 64 KiB")

// readEvents parses text/event-stream framing and calls emit with the data of
// each event. Comment lines (heartbeats) and non-data fields are skipped.
// Multi-line data is joined with "\n". A line longer than maxEventSize is
// discarded up to its newline and its event is emitted with errEventTooLarge,
// so one oversized event never ends the stream. Returns nil at EOF.
func readEvents(r io.Reader, emit func(data string, err error) bool) error {
	br := bufio.NewReaderSize(r, 4096)

	var data []string
	oversized := false
	flush := func() bool {
		if oversized {
			oversized = false
			data = data[:0]
			return emit("", errEventTooLarge)
		}
		if len(data) == 0 {
			return true
		}
		payload := strings.Join(data, "\n")
		data = data[:0]
		return emit(payload, nil)
	}

	for {
		line, tooLong, err := readLine(br)
		if err != nil && !errors.Is(err, io.EOF) {
			return err
		}
		atEOF := err != nil
		if atEOF && line == "" && !tooLong {
			break
		}
		switch {
		case tooLong:
			oversized = true
		case line == "":
			if !flush() {
				return nil
			}
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
		if atEOF {
			break
		}
	}
	flush()
	return nil
}

// readLine returns the next line without its terminator. Lines over
// maxEventSize are consumed but not kept, and reported with tooLong.
func readLine(br *bufio.Reader) (line string, tooLong bool, err error) {
	var buf []byte
	for {
		chunk, isPrefix, rerr := br.ReadLine()
		if rerr != nil {
			return string(buf), tooLong, rerr
		}
		if !tooLong {
			if len(buf)+len(chunk) > maxEventSize {
				tooLong, buf = true, nil
			} else {
				buf = append(buf, chunk...)
			}
		}
		if !isPrefix {
			if tooLong {
				return "", true, nil
			}
			return string(buf), false, nil
		}
	}
}
