package audio

import (
	"context"
	"log"
	"sync"
)

// Sink consumes synthesized audio frames and delivers them to the widget.
// Implementations buffer internally and pace delivery.
type Sink interface {
	WriteAudio(frame []byte)
	FlushTail()
	// Reset drops any queued frames immediately (used when playback is cut off).
	Reset()
}

// Synthesizer streams PCM audio for the given text.
type Synthesizer interface {
	StreamPCM48k(ctx context.Context, text string) (<-chan []byte, <-chan error)
}

// Player plays synthesized speech locally when no avatar video is used.
// Enqueued utterances play to completion in enqueue order, so the sentence
// chunks of one reply never cut each other off. Stop drops the queue and
// halts the current utterance before it returns; no frame of a stopped
// utterance reaches the sink afterwards.
type Player struct {
	synth Synthesizer
	sink  Sink

	mu      sync.Mutex
	gen     int
	queue   []string
	running bool
	cancel  context.CancelFunc
}

func NewPlayer(synth Synthesizer, sink Sink) *Player {
	return &Player{synth: synth, sink: sink}
}

// Enqueue appends an utterance to the playback queue and starts the worker
// if it is not already draining.
func (p *Player) Enqueue(ctx context.Context, text string) {
	if text == "" {
		return
	}
	p.mu.Lock()
	p.queue = append(p.queue, text)
	if !p.running {
		p.running = true
		go p.loop(ctx, p.gen)
	}
	p.mu.Unlock()
}

// Speak interrupts any current playback, drops the queue and starts the
// utterance immediately.
func (p *Player) Speak(ctx context.Context, text string) {
	if text == "" {
		return
	}
	p.mu.Lock()
	busy := p.running
	p.mu.Unlock()
	if busy {
		p.Stop()
	}
	p.Enqueue(ctx, text)
}

// loop drains the queue one utterance at a time. A Stop bumps the
// generation; a stale loop exits without touching the worker state so a
// fresh loop can take over.
func (p *Player) loop(ctx context.Context, gen int) {
	for {
		p.mu.Lock()
		if p.gen != gen {
			p.mu.Unlock()
			return
		}
		if len(p.queue) == 0 {
			p.running = false
			p.cancel = nil
			p.mu.Unlock()
			return
		}
		text := p.queue[0]
		p.queue = p.queue[1:]
		playCtx, cancel := context.WithCancel(ctx)
		p.cancel = cancel
		p.mu.Unlock()

		p.drainOne(playCtx, gen, text)
		cancel()
	}
}

func (p *Player) drainOne(ctx context.Context, gen int, text string) {
	pcmCh, errCh := p.synth.StreamPCM48k(ctx, text)
	openPCM, openErr := true, true
	interrupted := false
	for openPCM || openErr {
		select {
		case frame, ok := <-pcmCh:
			if !ok {
				openPCM = false
				continue
			}
			if len(frame) == 0 {
				continue
			}
			p.mu.Lock()
			live := p.gen == gen
			p.mu.Unlock()
			if live {
				p.sink.WriteAudio(frame)
			} else {
				interrupted = true
			}
		case err, ok := <-errCh:
			if ok && err != nil {
				log.Printf("audio: synth stream error: %v", err)
			}
			openErr = false
		case <-ctx.Done():
			openPCM, openErr = false, false
			interrupted = true
		}
	}

	p.mu.Lock()
	live := p.gen == gen
	p.mu.Unlock()
	if live && !interrupted {
		p.sink.FlushTail()
	}
}

// Stop halts playback synchronously and drops every queued utterance. After
// Stop returns, no frame from a stopped utterance is written.
func (p *Player) Stop() {
	p.mu.Lock()
	cancel := p.cancel
	p.cancel = nil
	p.queue = nil
	p.running = false
	p.gen++
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	p.sink.Reset()
}

// Playing reports whether an utterance is streaming or queued.
func (p *Player) Playing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}
