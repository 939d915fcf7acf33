package chat

import (
	"bufio"
	"encoding/json"
	"io"
	"log"
	"strings"
)

// doneSentinel terminates a streamed response. It is authoritative: anything
// after it, including trailing partial frames, is discarded.
const doneSentinel = "[DONE]"

type streamFrame struct {
	Delta struct {
		Content string `json:"content"`
	} `json:"delta"`
}

// readDeltas consumes server-sent-event frames from r and invokes emit with
// each non-empty delta. Frames may arrive split at arbitrary byte boundaries;
// bufio reassembles lines regardless of how the body was chunked. Individual
// malformed frames are skipped rather than aborting the stream.
func readDeltas(r io.Reader, emit func(string)) error {
	br := bufio.NewReader(r)
	for {
		line, err := br.ReadString('\n')
		payload, ok := parseEventLine(line)
		if ok {
			if payload == doneSentinel {
				return nil
			}
			if delta, dok := decodeDelta(payload); dok && delta != "" {
				emit(delta)
			}
		}
		if err != nil {
			if err == io.EOF {
				// Stream ended without a sentinel; treat what we have as final.
				return nil
			}
			return err
		}
	}
}

// parseEventLine extracts the data payload from one SSE line. Blank lines,
// comments and non-data fields carry no payload.
func parseEventLine(line string) (string, bool) {
	line = strings.TrimRight(line, "\r\n")
	if line == "" || strings.HasPrefix(line, ":") {
		return "", false
	}
	if !strings.HasPrefix(line, "data:") {
		return "", false
	}
	return strings.TrimSpace(strings.TrimPrefix(line, "data:")), true
}

func decodeDelta(payload string) (string, bool) {
	var f streamFrame
	if err := json.Unmarshal([]byte(payload), &f); err != nil {
		log.Printf("chat: skipping malformed stream frame: %v", err)
		return "", false
	}
	return f.Delta.Content, true
}
