// /internal/config/config.go
package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config is the process configuration, read from the environment (and an
// optional .env file in the working directory).
type Config struct {
	DiscordToken   string   `env:"DISCORD_TOKEN,required"`
	GuildBlacklist []string `env:"DISCORD_GUILD_BLACKLIST" envSeparator:","`
	InitCommands   bool     `env:"INIT_SLASH_COMMANDS" envDefault:"true"`

	DataDir     string `env:"DATA_DIR" envDefault:"data"`
	StoragePath string `env:"STORAGE_PATH"`

	WakeWord     string   `env:"WAKE_WORD" envDefault:"Mina"`
	WakeVariants []string `env:"WAKE_VARIANTS" envSeparator:"," envDefault:"meena,nina,mena,minae"`

	CaptureSilence time.Duration `env:"CAPTURE_SILENCE" envDefault:"1s"`
	TranscriberCmd []string      `env:"TRANSCRIBER_CMD" envSeparator:" " envDefault:"python3 transcribe.py"`
	FFmpeg         string        `env:"FFMPEG_PATH" envDefault:"ffmpeg"`

	TTSVoice   string `env:"TTS_VOICE" envDefault:"en-US"`
	TTSBaseURL string `env:"TTS_BASE_URL"`

	AIProvider      string `env:"AI_PROVIDER" envDefault:"openrouter"`
	AIBaseURL       string `env:"AI_BASE_URL" envDefault:"https://openrouter.ai/api/v1"`
	AIKey           string `env:"AI_API_KEY"`
	AIModel         string `env:"AI_MODEL" envDefault:"google/gemini-2.5-flash"`
	AIFallbackModel string `env:"AI_FALLBACK_MODEL" envDefault:"meta-llama/llama-3.3-70b-instruct:free"`
	AIPersonaFile   string `env:"AI_PERSONA_FILE" envDefault:"ai_config.txt"`

	SatelliteAddr         string        `env:"SATELLITE_ADDR" envDefault:":3001"`
	SatelliteToken        string        `env:"SATELLITE_TOKEN"`
	SatelliteQueryTimeout time.Duration `env:"SATELLITE_QUERY_TIMEOUT" envDefault:"3s"`

	ThinkingSound string `env:"THINKING_SOUND"`
	ResponsesFile string `env:"CHATTER_RESPONSES"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
	LogFile  string `env:"LOG_FILE"`
}

// Load reads .env (if present) and parses the environment into a Config.
func Load() (*Config, error) {
	// a missing .env is fine, the environment may already be populated
	_ = godotenv.Load()

	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.applyDerived()
	return &cfg, nil
}

func (c *Config) applyDerived() {
	if c.StoragePath == "" {
		c.StoragePath = filepath.Join(c.DataDir, "datastore.json")
	}
	if c.ResponsesFile == "" {
		c.ResponsesFile = filepath.Join(c.DataDir, "responses.json")
	}
}

// TranscriptDir is where per-day transcript logs are written.
func (c *Config) TranscriptDir() string {
	return filepath.Join(c.DataDir, "transcripts")
}

// TempDir holds synthesized speech files until they are played.
func (c *Config) TempDir() string {
	return filepath.Join(c.DataDir, "temp_tts")
}
