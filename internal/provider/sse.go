package provider

import (
	"bufio"
	"context"
	"io"
	"strings"
)

// readSSE consumes a server-sent-event stream, extracting the text of
// each event via extract and sending it on the returned channel. The
// channel closes when the stream ends, errors, or ctx is cancelled; the
// response body is always closed.
func readSSE(ctx context.Context, body io.ReadCloser, extract func(data string) (string, bool)) <-chan string {
	out := make(chan string)

	go func() {
		defer close(out)
		defer func() { _ = body.Close() }()

		scanner := bufio.NewScanner(body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if data == "" || data == "[DONE]" {
				continue
			}

			chunk, ok := extract(data)
			if !ok || chunk == "" {
				continue
			}

			select {
			case out <- chunk:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out
}
