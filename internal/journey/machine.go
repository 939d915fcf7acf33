package journey

import (
	"context"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/LydiaD-source/solarclip-isabella-showcase-sub000/internal/card"
	"github.com/LydiaD-source/solarclip-isabella-showcase-sub000/internal/solar"
)

// State is the current position in the scripted presentation sequence.
type State string

const (
	StateIdle          State = "idle"
	StateAwaitingStart State = "awaiting_start"
	StateProductIntro  State = "step_product_intro"
	StateComparison    State = "step_comparison"
	StateInstallation  State = "step_installation"
	StateMapPrompt     State = "map_prompt"
	StateOpenChat      State = "open_chat"
)

// ActionFinished is the card action that advances the journey. Every other
// card action is ignored here and belongs to the conversation layer.
const ActionFinished = "finished"

// Narrator speaks scripted assistant lines without a gateway round trip.
type Narrator interface {
	Narrate(ctx context.Context, text string)
}

// CardSurface is the single-slot presentation surface the journey drives.
type CardSurface interface {
	Show(c card.Card, autoExit time.Duration) card.Card
	Close()
}

// Analyzer runs a rooftop solar analysis for an address.
type Analyzer interface {
	Analyze(ctx context.Context, address string) (solar.Summary, error)
}

// Step is one presentation beat: a narrated line plus a video card.
type Step struct {
	Narration string
	CardTitle string
	VideoURL  string
	AutoExit  time.Duration
}

// Script holds every scripted line and beat of the journey.
type Script struct {
	AskToStart   string
	Intro        Step
	Comparison   Step
	Installation Step
	MapPrompt    string
	MapFollowUp  string
	HandOff      string
	Reprompt     string
	AnalysisFail string
}

// DefaultScript is the SolarClip presentation sequence.
func DefaultScript() Script {
	return Script{
		AskToStart: "Would you like a quick walkthrough of SolarClip? Just say yes and we'll begin.",
		Intro: Step{
			Narration: "SolarClip is a clip-on solar mounting system that installs without roof penetration. Here's a quick look.",
			CardTitle: "SolarClip in 30 seconds",
			VideoURL:  "/media/journey/intro.mp4",
			AutoExit:  35 * time.Second,
		},
		Comparison: Step{
			Narration: "Compared to rail systems, SolarClip cuts installation time roughly in half. See the difference side by side.",
			CardTitle: "SolarClip vs. rails",
			VideoURL:  "/media/journey/comparison.mp4",
			AutoExit:  30 * time.Second,
		},
		Installation: Step{
			Narration: "Installation takes minutes per panel. Watch a full install from start to finish.",
			CardTitle: "Installation demo",
			VideoURL:  "/media/journey/installation.mp4",
			AutoExit:  40 * time.Second,
		},
		MapPrompt:    "Want to see what your own roof could produce? Tell me your address and I'll run a quick solar analysis.",
		MapFollowUp:  "Here's your rooftop estimate. Want me to put you in touch with an installer, or is there anything else you'd like to know?",
		HandOff:      "No problem. I'm here if you have any questions about SolarClip.",
		Reprompt:     "Just say yes to start the tour, or no to skip it.",
		AnalysisFail: "I couldn't analyze that address right now. Feel free to ask me anything else about SolarClip.",
	}
}

// "please" on its own is not an affirmative; "please don't" would match it.
// "yes please" is covered by the "yes" prefix.
var affirmatives = []string{
	"yes", "yeah", "yep", "sure", "ok", "okay", "go ahead",
	"of course", "absolutely", "start", "let's go", "lets go",
}

var negatives = []string{
	"no", "nope", "nah", "not now", "not really", "skip", "later", "maybe later",
}

// Machine is the scripted journey state machine. It sits in front of the
// conversation session: HandleUserInput must run on every piece of user
// input before the input reaches the chat transport.
type Machine struct {
	narrator Narrator
	cards    CardSurface
	analyzer Analyzer
	script   Script

	mu         sync.Mutex
	state      State
	reprompted bool
}

func NewMachine(narrator Narrator, cards CardSurface, analyzer Analyzer, script Script) *Machine {
	return &Machine{
		narrator: narrator,
		cards:    cards,
		analyzer: analyzer,
		script:   script,
		state:    StateIdle,
	}
}

// State returns the current journey state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Active reports whether the journey still intercepts input.
func (m *Machine) Active() bool {
	s := m.State()
	return s != StateIdle && s != StateOpenChat
}

// Start moves the journey from idle to awaiting_start and asks the opening
// yes/no question. No-op in any other state.
func (m *Machine) Start(ctx context.Context) {
	m.mu.Lock()
	if m.state != StateIdle {
		m.mu.Unlock()
		return
	}
	m.state = StateAwaitingStart
	m.mu.Unlock()

	m.narrator.Narrate(ctx, m.script.AskToStart)
}

// HandleUserInput classifies and possibly consumes one piece of user input.
// It returns true when the journey consumed the input; the caller must not
// also forward it to the chat transport. Ambiguous input in awaiting_start
// is re-prompted once; after that it falls through to open conversation.
func (m *Machine) HandleUserInput(ctx context.Context, text string) bool {
	text = strings.TrimSpace(text)
	if text == "" {
		return false
	}

	m.mu.Lock()
	state := m.state
	m.mu.Unlock()

	switch state {
	case StateAwaitingStart:
		return m.handleAwaitingStart(ctx, text)
	case StateMapPrompt:
		return m.handleMapPrompt(ctx, text)
	default:
		return false
	}
}

func (m *Machine) handleAwaitingStart(ctx context.Context, text string) bool {
	switch {
	case matchesAny(text, affirmatives):
		m.setState(StateProductIntro)
		m.runStep(ctx, m.script.Intro)
		return true
	case matchesAny(text, negatives):
		m.setState(StateOpenChat)
		m.narrator.Narrate(ctx, m.script.HandOff)
		return true
	default:
		m.mu.Lock()
		first := !m.reprompted
		m.reprompted = true
		m.mu.Unlock()
		if first {
			m.narrator.Narrate(ctx, m.script.Reprompt)
			return true
		}
		return false
	}
}

func (m *Machine) handleMapPrompt(ctx context.Context, text string) bool {
	if matchesAny(text, negatives) {
		m.setState(StateOpenChat)
		m.narrator.Narrate(ctx, m.script.HandOff)
		return true
	}

	// Anything non-negative here is treated as an address.
	m.setState(StateOpenChat)
	summary, err := m.analyzer.Analyze(ctx, text)
	if err != nil {
		log.Printf("journey: solar analysis for %q failed: %v", text, err)
		m.narrator.Narrate(ctx, m.script.AnalysisFail)
		return true
	}
	m.cards.Show(card.Card{
		Type:    card.TypeMap,
		Title:   "Your rooftop potential",
		Payload: summary,
	}, 0)
	m.narrator.Narrate(ctx, m.script.MapFollowUp)
	return true
}

// OnCardAction advances the journey when a step's card finishes. Every
// other action is ignored.
func (m *Machine) OnCardAction(ctx context.Context, action string) {
	if action != ActionFinished {
		return
	}

	m.mu.Lock()
	state := m.state
	m.mu.Unlock()

	switch state {
	case StateProductIntro:
		m.setState(StateComparison)
		m.runStep(ctx, m.script.Comparison)
	case StateComparison:
		m.setState(StateInstallation)
		m.runStep(ctx, m.script.Installation)
	case StateInstallation:
		m.setState(StateMapPrompt)
		m.narrator.Narrate(ctx, m.script.MapPrompt)
	}
}

func (m *Machine) runStep(ctx context.Context, s Step) {
	m.narrator.Narrate(ctx, s.Narration)
	m.cards.Show(card.Card{
		Type:    card.TypeVideo,
		Title:   s.CardTitle,
		Payload: map[string]string{"url": s.VideoURL},
	}, s.AutoExit)
}

func (m *Machine) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

// matchesAny reports whether the input starts with one of the patterns,
// anchored at a word boundary so "no" does not match "nowhere".
func matchesAny(text string, patterns []string) bool {
	lower := strings.ToLower(strings.TrimSpace(text))
	for _, p := range patterns {
		if !strings.HasPrefix(lower, p) {
			continue
		}
		if len(lower) == len(p) {
			return true
		}
		next := lower[len(p)]
		if next == ' ' || next == ',' || next == '.' || next == '!' || next == '?' {
			return true
		}
	}
	return false
}
