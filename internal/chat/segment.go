package chat

import "strings"

// Segmenter accumulates streamed deltas and emits sentence-sized chunks.
// A chunk is emitted when the buffer ends with terminal punctuation and has
// reached minLen, or unconditionally once it reaches maxLen. The length
// ceiling bounds avatar latency when a reply contains no punctuation.
type Segmenter struct {
	minLen int
	maxLen int
	buf    strings.Builder
	emit   func(chunk string)
}

const (
	defaultMinChunkLen = 20
	defaultMaxChunkLen = 160
)

func NewSegmenter(emit func(string)) *Segmenter {
	return &Segmenter{minLen: defaultMinChunkLen, maxLen: defaultMaxChunkLen, emit: emit}
}

func isTerminal(r rune) bool {
	switch r {
	case '.', '!', '?':
		return true
	}
	return false
}

// Write feeds one delta into the segmenter, emitting any completed chunks.
func (s *Segmenter) Write(delta string) {
	for _, r := range delta {
		if r == '\n' || r == '\r' {
			s.flushIfAny()
			continue
		}
		s.buf.WriteRune(r)
		n := s.buf.Len()
		if (isTerminal(r) && n >= s.minLen) || n >= s.maxLen {
			s.flushIfAny()
		}
	}
}

// Flush emits whatever remains in the buffer, punctuated or not.
// Call it once the stream has ended.
func (s *Segmenter) Flush() { s.flushIfAny() }

func (s *Segmenter) flushIfAny() {
	chunk := strings.TrimSpace(s.buf.String())
	s.buf.Reset()
	if chunk == "" {
		return
	}
	if s.emit != nil {
		s.emit(chunk)
	}
}
