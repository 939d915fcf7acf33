package config

import (
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	HTTPAddress string

	// Chat gateway (conversational AI upstream)
	ChatGatewayURL string
	ChatAPIKey     string
	ChatClientID   string
	ChatPersonaID  string
	ChatStreaming  bool

	// Avatar video (talking-head) service
	AvatarAPIURL      string
	AvatarAPIKey      string
	AvatarSourceImage string

	// Speech providers
	AssemblyAIKey   string
	DeepgramKey     string
	DeepgramVoice   string
	ElevenLabsKey   string
	ElevenLabsVoice string
	TranscribeURL   string

	// Collaborators
	SolarAPIURL string
	LeadsURL    string

	// Lead event publishing (optional)
	AMQPURL      string
	AMQPExchange string

	// Session store
	SessionCacheSize int
}

// Load reads environment variables and returns Config with sane defaults.
func Load() Config {
	if err := godotenv.Load(); err != nil {
		log.Println("config: no .env file loaded")
	}

	addr := os.Getenv("HTTP_ADDRESS")
	if addr == "" {
		addr = ":8080"
	}

	gateway := os.Getenv("CHAT_GATEWAY_URL")
	if gateway == "" {
		log.Println("Warning: CHAT_GATEWAY_URL not set - conversation will not work")
	}
	persona := os.Getenv("CHAT_PERSONA_ID")
	if persona == "" {
		persona = "isabella"
	}
	clientID := os.Getenv("CHAT_CLIENT_ID")
	if clientID == "" {
		clientID = "solarclip"
	}

	avatarURL := os.Getenv("AVATAR_API_URL")
	if avatarURL == "" {
		log.Println("Warning: AVATAR_API_URL not set - avatar video generation disabled")
	}
	if os.Getenv("AVATAR_API_KEY") == "" && avatarURL != "" {
		log.Println("Warning: AVATAR_API_KEY not set - avatar requests will be rejected upstream")
	}

	if os.Getenv("ASSEMBLYAI_API_KEY") == "" {
		log.Println("Warning: ASSEMBLYAI_API_KEY not set - live speech capture disabled, record-and-transcribe fallback only")
	}

	cacheSize := 256
	if v := os.Getenv("SESSION_CACHE_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cacheSize = n
		} else {
			log.Printf("config: invalid SESSION_CACHE_SIZE %q, using %d", v, cacheSize)
		}
	}

	deepgramVoice := os.Getenv("DEEPGRAM_VOICE")
	if deepgramVoice == "" {
		deepgramVoice = "aura-2-thalia-en"
	}

	log.Printf("config: HTTP_ADDRESS=%s", addr)
	return Config{
		HTTPAddress:       addr,
		ChatGatewayURL:    gateway,
		ChatAPIKey:        os.Getenv("CHAT_API_KEY"),
		ChatClientID:      clientID,
		ChatPersonaID:     persona,
		ChatStreaming:     os.Getenv("CHAT_STREAMING") != "false",
		AvatarAPIURL:      avatarURL,
		AvatarAPIKey:      os.Getenv("AVATAR_API_KEY"),
		AvatarSourceImage: os.Getenv("AVATAR_SOURCE_IMAGE"),
		AssemblyAIKey:     os.Getenv("ASSEMBLYAI_API_KEY"),
		DeepgramKey:       os.Getenv("DEEPGRAM_API_KEY"),
		DeepgramVoice:     deepgramVoice,
		ElevenLabsKey:     os.Getenv("ELEVENLABS_API_KEY"),
		ElevenLabsVoice:   os.Getenv("ELEVENLABS_VOICE_ID"),
		TranscribeURL:     os.Getenv("TRANSCRIBE_URL"),
		SolarAPIURL:       os.Getenv("SOLAR_API_URL"),
		LeadsURL:          os.Getenv("LEADS_URL"),
		AMQPURL:           os.Getenv("AMQP_URL"),
		AMQPExchange:      os.Getenv("AMQP_EXCHANGE"),
		SessionCacheSize:  cacheSize,
	}
}
