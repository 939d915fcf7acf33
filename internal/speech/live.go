package speech

import (
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// RecognitionError is a classified speech-recognition failure.
type RecognitionError struct {
	Code    string
	Message string
}

func (e *RecognitionError) Error() string {
	return fmt.Sprintf("speech: %s: %s", e.Code, e.Message)
}

// Benign reports whether the error is an expected no-input condition that
// must not surface to the visitor.
func (e *RecognitionError) Benign() bool {
	switch e.Code {
	case "no-speech", "no_speech_detected", "aborted":
		return true
	}
	return false
}

// Handlers receives recognition results. OnFinal fires exactly once per
// finalized utterance; the interim buffer is reset before it is called.
type Handlers struct {
	OnInterim func(text string)
	OnFinal   func(text string)
	OnError   func(err *RecognitionError)
}

// finalizeAfter is the inactivity fallback when the provider never flags
// end-of-turn itself.
const finalizeAfter = 900 * time.Millisecond

// Live streams microphone audio to the realtime recognition service and
// emits interim and final transcripts.
type Live struct {
	apiKey   string
	handlers Handlers

	mu        sync.RWMutex
	conn      *websocket.Conn
	connected bool
	audioCh   chan []byte
	stopCh    chan struct{}

	accMu     sync.Mutex
	interim   string
	committed string
	idleTimer *time.Timer
}

type liveMessage struct {
	Type       string `json:"type"`
	ID         string `json:"id,omitempty"`
	Transcript string `json:"transcript,omitempty"`
	EndOfTurn  bool   `json:"end_of_turn,omitempty"`
	Error      string `json:"error,omitempty"`
}

func NewLive(apiKey string, handlers Handlers) *Live {
	return &Live{apiKey: apiKey, handlers: handlers}
}

// Connect dials the streaming endpoint and starts the reader and writer
// loops. Calling Connect on a connected recognizer is a no-op.
func (l *Live) Connect() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.connected {
		return nil
	}
	if l.apiKey == "" {
		return fmt.Errorf("speech: recognition api key missing")
	}

	params := url.Values{}
	params.Set("sample_rate", "16000")
	params.Set("encoding", "pcm_s16le")
	wsURL := fmt.Sprintf("wss://streaming.assemblyai.com/v3/ws?%s", params.Encode())

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.Dial(wsURL, map[string][]string{"Authorization": {l.apiKey}})
	if err != nil {
		if resp != nil {
			return fmt.Errorf("speech: recognition dial failed with status %d: %w", resp.StatusCode, err)
		}
		return fmt.Errorf("speech: recognition dial failed: %w", err)
	}

	l.conn = conn
	l.connected = true
	l.audioCh = make(chan []byte, 512)
	l.stopCh = make(chan struct{})
	l.resetTranscript()
	go l.readLoop()
	go l.writeLoop()
	log.Println("speech: live recognition connected")
	return nil
}

// SendAudio queues one PCM buffer for the recognition stream.
func (l *Live) SendAudio(pcm []byte) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if !l.connected {
		return fmt.Errorf("speech: not connected")
	}
	select {
	case l.audioCh <- pcm:
	default:
		log.Println("speech: audio buffer full, dropping packet")
	}
	return nil
}

// Close terminates the stream, flushing any pending final transcript first.
func (l *Live) Close() error {
	l.mu.Lock()
	if !l.connected {
		l.mu.Unlock()
		return nil
	}
	close(l.stopCh)
	if l.conn != nil {
		_ = l.conn.WriteJSON(map[string]string{"type": "Terminate"})
		_ = l.conn.Close()
	}
	l.connected = false
	l.conn = nil
	l.mu.Unlock()

	l.accMu.Lock()
	if l.idleTimer != nil {
		l.idleTimer.Stop()
		l.idleTimer = nil
	}
	l.accMu.Unlock()
	l.finalize()
	return nil
}

func (l *Live) readLoop() {
	for {
		select {
		case <-l.stopCh:
			return
		default:
		}
		l.mu.RLock()
		conn := l.conn
		l.mu.RUnlock()
		if conn == nil {
			return
		}
		_, raw, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-l.stopCh:
			default:
				log.Printf("speech: read error: %v", err)
			}
			return
		}
		l.handleMessage(raw)
	}
}

func (l *Live) writeLoop() {
	for {
		select {
		case <-l.stopCh:
			return
		case pcm := <-l.audioCh:
			l.mu.RLock()
			conn := l.conn
			l.mu.RUnlock()
			if conn == nil {
				return
			}
			if err := conn.WriteMessage(websocket.BinaryMessage, pcm); err != nil {
				log.Printf("speech: write error: %v", err)
				return
			}
		}
	}
}

func (l *Live) handleMessage(raw []byte) {
	var msg liveMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		log.Printf("speech: skipping malformed message: %v", err)
		return
	}
	switch msg.Type {
	case "Begin":
		log.Printf("speech: recognition session %s began", msg.ID)
	case "Turn":
		l.onTurn(msg)
	case "Termination":
		l.finalize()
	case "Error":
		rerr := &RecognitionError{Code: classifyProviderError(msg.Error), Message: msg.Error}
		if rerr.Benign() {
			log.Printf("speech: benign recognition condition: %s", msg.Error)
			return
		}
		if l.handlers.OnError != nil {
			l.handlers.OnError(rerr)
		}
	default:
		log.Printf("speech: unknown message type %q", msg.Type)
	}
}

func (l *Live) onTurn(msg liveMessage) {
	if msg.Transcript == "" {
		return
	}
	l.accMu.Lock()
	l.interim = msg.Transcript
	if l.idleTimer == nil {
		l.idleTimer = time.AfterFunc(finalizeAfter, l.finalize)
	} else {
		l.idleTimer.Stop()
		l.idleTimer.Reset(finalizeAfter)
	}
	l.accMu.Unlock()

	if l.handlers.OnInterim != nil {
		l.handlers.OnInterim(msg.Transcript)
	}
	if msg.EndOfTurn {
		l.finalize()
	}
}

// resetTranscript clears accumulated transcript state so a fresh stream
// never diffs against text committed on an earlier connection.
func (l *Live) resetTranscript() {
	l.accMu.Lock()
	l.interim = ""
	l.committed = ""
	l.accMu.Unlock()
}

// finalize emits the uncommitted transcript delta exactly once and resets
// the interim buffer. Safe to call from the idle timer, end-of-turn
// handling, and Close; whichever runs first wins.
func (l *Live) finalize() {
	l.accMu.Lock()
	latest := l.interim
	delta := strings.TrimSpace(strings.TrimPrefix(latest, l.committed))
	l.committed = latest
	l.interim = latest
	if l.idleTimer != nil {
		l.idleTimer.Stop()
		l.idleTimer = nil
	}
	l.accMu.Unlock()

	if delta == "" {
		return
	}
	if l.handlers.OnFinal != nil {
		l.handlers.OnFinal(delta)
	}
}

// classifyProviderError maps provider error strings onto stable codes.
func classifyProviderError(msg string) string {
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "no speech"), strings.Contains(lower, "no audio"):
		return "no-speech"
	case strings.Contains(lower, "unauthorized"), strings.Contains(lower, "auth"):
		return "auth"
	case strings.Contains(lower, "rate"):
		return "rate-limited"
	}
	return "recognition-failed"
}
