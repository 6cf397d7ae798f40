package relay

import (
	"bufio"
	"bytes"
	"io"
)

// Event is one Server-Sent Event as read off the upstream wire.
type Event struct {
	// Type is the SSE event name, empty for bare data events.
	Type string

	// Data is the event payload with the "data:" framing stripped.
	// Multi-line data is joined with newlines. Never re-serialized.
	Data []byte

	// Raw is the exact wire form of the event including framing and the
	// terminating blank line, suitable for verbatim forwarding.
	Raw []byte
}

// eventScanner reassembles SSE events from a byte stream. Events may span
// multiple reads; the scanner buffers until the blank-line terminator.
type eventScanner struct {
	reader *bufio.Reader
}

func newEventScanner(r io.Reader) *eventScanner {
	return &eventScanner{reader: bufio.NewReader(r)}
}

// next returns the next complete event, or io.EOF at end of stream. A
// partial event truncated by EOF is discarded.
func (s *eventScanner) next() (*Event, error) {
	var (
		raw       bytes.Buffer
		eventType string
		dataLines [][]byte
		sawField  bool
	)

	for {
		line, err := s.reader.ReadBytes('\n')
		if len(line) > 0 {
			raw.Write(line)
		}
		if err != nil {
			if err == io.EOF {
				return nil, io.EOF
			}
			return nil, err
		}

		trimmed := bytes.TrimRight(line, "\r\n")

		// Blank line terminates the event. Blocks holding only comments
		// or keep-alive blanks are skipped, not surfaced.
		if len(trimmed) == 0 {
			if !sawField {
				raw.Reset()
				continue
			}
			break
		}

		switch {
		case bytes.HasPrefix(trimmed, []byte("event:")):
			eventType = string(bytes.TrimPrefix(bytes.TrimPrefix(trimmed, []byte("event:")), []byte(" ")))
			sawField = true
		case bytes.HasPrefix(trimmed, []byte("data:")):
			dataLines = append(dataLines, bytes.TrimPrefix(bytes.TrimPrefix(trimmed, []byte("data:")), []byte(" ")))
			sawField = true
		case bytes.HasPrefix(trimmed, []byte(":")):
			// Comment line, carries nothing.
		}
	}

	return &Event{
		Type: eventType,
		Data: bytes.Join(dataLines, []byte("\n")),
		Raw:  raw.Bytes(),
	}, nil
}
