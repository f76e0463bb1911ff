package agent

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// maxScannerBuffer is the maximum JSONL line length the decoder accepts.
// Tool results can be large.
const maxScannerBuffer = 1 << 20

// StreamDecoder reads the process backend's JSONL event stream line by line.
// Each line is one Event; lines that are not JSON are surfaced as plain
// assistant text so a backend that mixes formats still produces a usable
// transcript.
type StreamDecoder struct {
	scanner *bufio.Scanner
}

// NewStreamDecoder creates a decoder reading JSONL from r.
func NewStreamDecoder(r io.Reader) *StreamDecoder {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxScannerBuffer)
	return &StreamDecoder{scanner: scanner}
}

// Next returns the next event, io.EOF at end of stream, or a read error.
// Empty lines are skipped.
func (d *StreamDecoder) Next() (*Event, error) {
	for d.scanner.Scan() {
		line := strings.TrimSpace(d.scanner.Text())
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "{") {
			return &Event{Type: EventAssistantText, Text: line}, nil
		}
		var ev Event
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			return &Event{Type: EventAssistantText, Text: line}, nil
		}
		if ev.Type == "" {
			return &Event{Type: EventAssistantText, Text: line}, nil
		}
		return &ev, nil
	}
	if err := d.scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading agent stream: %w", err)
	}
	return nil, io.EOF
}
