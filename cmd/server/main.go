package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/LydiaD-source/solarclip-isabella-showcase-sub000/internal/audio"
	"github.com/LydiaD-source/solarclip-isabella-showcase-sub000/internal/avatar"
	"github.com/LydiaD-source/solarclip-isabella-showcase-sub000/internal/chat"
	"github.com/LydiaD-source/solarclip-isabella-showcase-sub000/internal/config"
	"github.com/LydiaD-source/solarclip-isabella-showcase-sub000/internal/httpserver"
	"github.com/LydiaD-source/solarclip-isabella-showcase-sub000/internal/leads"
	"github.com/LydiaD-source/solarclip-isabella-showcase-sub000/internal/live"
	"github.com/LydiaD-source/solarclip-isabella-showcase-sub000/internal/solar"
	"github.com/LydiaD-source/solarclip-isabella-showcase-sub000/internal/speech"
	"github.com/LydiaD-source/solarclip-isabella-showcase-sub000/internal/store"
	"github.com/LydiaD-source/solarclip-isabella-showcase-sub000/internal/tts"
)

func main() {
	// Include sub-second precision in all log timestamps
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)

	cfg := config.Load()

	sessions, err := store.NewSessions(cfg.SessionCacheSize)
	if err != nil {
		log.Fatalf("session store: %v", err)
	}

	chatClient := chat.NewClient(cfg.ChatGatewayURL, cfg.ChatAPIKey, cfg.ChatClientID, cfg.ChatPersonaID)

	var avatarGen avatar.Generator
	if cfg.AvatarAPIURL != "" {
		avatarGen = avatar.NewClient(cfg.AvatarAPIURL, cfg.AvatarAPIKey, cfg.AvatarSourceImage)
	}

	var synth audio.Synthesizer
	switch {
	case cfg.DeepgramKey != "":
		synth = tts.NewDeepgramSynth(cfg.DeepgramKey, cfg.DeepgramVoice)
	case cfg.ElevenLabsKey != "":
		synth = tts.NewElevenLabsSynth(cfg.ElevenLabsKey, cfg.ElevenLabsVoice)
	default:
		log.Println("Warning: no speech synthesis key set - local audio playback disabled")
	}

	var transcriber *speech.Transcriber
	if cfg.TranscribeURL != "" {
		transcriber = speech.NewTranscriber(cfg.TranscribeURL, cfg.AssemblyAIKey)
	}

	var solarClient *solar.Client
	if cfg.SolarAPIURL != "" {
		solarClient = solar.NewClient(cfg.SolarAPIURL)
	}

	var notifier leads.Notifier
	if cfg.AMQPURL != "" {
		n, err := leads.NewAMQPNotifier(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			log.Printf("Warning: lead event publishing disabled: %v", err)
		} else {
			defer n.Close()
			notifier = n
		}
	}
	var leadsClient *leads.Client
	if cfg.LeadsURL != "" {
		leadsClient = leads.NewClient(cfg.LeadsURL, notifier)
	}

	liveDeps := live.Deps{
		Transport:     chatClient,
		Store:         sessions,
		Avatar:        avatarGen,
		Synth:         synth,
		AssemblyAIKey: cfg.AssemblyAIKey,
		Transcriber:   transcriber,
		Streaming:     cfg.ChatStreaming,
		Persona:       map[string]string{"persona": cfg.ChatPersonaID},
	}
	if solarClient != nil {
		liveDeps.Solar = solarClient
	} else {
		liveDeps.Solar = unavailableAnalyzer{}
	}

	handlers := httpserver.Handlers{
		Chat:  chatClient,
		Store: sessions,
		Live:  live.NewHandler(liveDeps),
	}
	if transcriber != nil {
		handlers.Transcriber = transcriber
	}
	if solarClient != nil {
		handlers.Solar = solarClient
	}
	if leadsClient != nil {
		handlers.Leads = leadsClient
	}

	e := httpserver.New()
	handlers.Register(e)

	server := &http.Server{
		Addr:              cfg.HTTPAddress,
		Handler:           e,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Printf("server listening on %s", cfg.HTTPAddress)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Println("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("graceful shutdown failed: %v", err)
			return server.Close()
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

// unavailableAnalyzer answers journey address prompts when no solar
// collaborator is configured.
type unavailableAnalyzer struct{}

func (unavailableAnalyzer) Analyze(ctx context.Context, address string) (solar.Summary, error) {
	return solar.Summary{}, errors.New("solar analysis not configured")
}
