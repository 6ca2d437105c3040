package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel       string `yaml:"log_level"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
	PrometheusBind string `yaml:"prometheus_bind"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type Config struct {
	RuntimeName string           `yaml:"runtime_name"`
	Environment string           `yaml:"environment"`
	HTTP        HTTPConfig       `yaml:"http"`
	Telemetry   TelemetryConfig  `yaml:"telemetry"`
	Bus         BusConfig        `yaml:"bus"`
	EventStore  EventStoreConfig `yaml:"event_store"`
	Agent       AgentConfig      `yaml:"agent"`
	STT         STTConfig        `yaml:"stt"`
	TTS         TTSConfig        `yaml:"tts"`
	Playback    PlaybackConfig   `yaml:"playback"`
	Registry    RegistryConfig   `yaml:"registry"`
	Gateway     GatewayConfig    `yaml:"gateway"`
}

type BusConfig struct {
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type EventStoreConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxSessions   int    `yaml:"max_sessions"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
	PrivacyScope  string `yaml:"privacy_scope"`
}

// AgentConfig locates the conversational agent and the optional emergency
// classifier behind it.
type AgentConfig struct {
	BaseURL          string `yaml:"base_url"`
	Endpoint         string `yaml:"endpoint"`
	TimeoutMS        int    `yaml:"timeout_ms"`
	ClassifyEndpoint string `yaml:"classify_endpoint"`
}

type STTConfig struct {
	Enabled   bool   `yaml:"enabled"`
	BaseURL   string `yaml:"base_url"`
	Endpoint  string `yaml:"endpoint"`
	Language  string `yaml:"language"`
	TimeoutMS int    `yaml:"timeout_ms"`
}

// TTSProvider is one remote synthesis backend, tried in configured order.
type TTSProvider struct {
	Name     string `yaml:"name"`
	BaseURL  string `yaml:"base_url"`
	Endpoint string `yaml:"endpoint"`
}

type TTSConfig struct {
	Providers     []TTSProvider `yaml:"providers"`
	Voice         string        `yaml:"voice"`
	Rate          string        `yaml:"rate"`
	Volume        string        `yaml:"volume"`
	Mode          string        `yaml:"mode"`
	TimeoutMS     int           `yaml:"timeout_ms"`
	MinAudioBytes int           `yaml:"min_audio_bytes"`
	SecureOrigin  bool          `yaml:"secure_origin"`
	LocalCommand  string        `yaml:"local_command"`
}

type PlaybackConfig struct {
	Command      string `yaml:"command"`
	ReleaseGrace int    `yaml:"release_grace_ms"`
}

type RegistryConfig struct {
	Enabled         bool `yaml:"enabled"`
	ProbeIntervalMS int  `yaml:"probe_interval_ms"`
	ProbeTimeoutMS  int  `yaml:"probe_timeout_ms"`
}

type GatewayConfig struct {
	Enabled      bool     `yaml:"enabled"`
	AllowOrigins []string `yaml:"allow_origins"`
}

// DefaultVoices is the closed set of supported Nigerian voice tags. The tags
// are passed through to providers opaquely; this list exists only so the
// widget config can advertise them.
var DefaultVoices = []string{
	"en-NG-EzinneNeural",
	"en-NG-AbeoNeural",
	"yo-NG-AdunniNeural",
	"ig-NG-EbelechukwuNeural",
	"ha-NG-SalmaNeural",
}

func Default() Config {
	return Config{
		RuntimeName: "pronto-voice",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			OTLPEndpoint:   "",
			OTLPInsecure:   true,
			PrometheusBind: ":9091",
		},
		Bus: BusConfig{
			Embedded:       true,
			Port:           4222,
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		EventStore: EventStoreConfig{
			Path:          "./data/pronto-events.db",
			RetentionMode: "session",
			RetentionDays: 30,
			MaxSessions:   10000,
			PrivacyScope:  "redacted",
		},
		Agent: AgentConfig{
			BaseURL:   "",
			Endpoint:  "/api/reply",
			TimeoutMS: 20000,
		},
		STT: STTConfig{
			Enabled:   true,
			BaseURL:   "",
			Endpoint:  "/api/transcribe",
			Language:  "en-NG",
			TimeoutMS: 15000,
		},
		TTS: TTSConfig{
			Providers: []TTSProvider{
				{Name: "odia", BaseURL: "https://odia-tts.onrender.com", Endpoint: "/speak"},
			},
			Voice:         "en-NG-EzinneNeural",
			Rate:          "+0%",
			Volume:        "+0%",
			Mode:          "file",
			TimeoutMS:     15000,
			MinAudioBytes: 1024,
			SecureOrigin:  true,
		},
		Playback: PlaybackConfig{
			Command:      "",
			ReleaseGrace: 30000,
		},
		Registry: RegistryConfig{
			Enabled:         true,
			ProbeIntervalMS: 30000,
			ProbeTimeoutMS:  5000,
		},
		Gateway: GatewayConfig{
			Enabled:      true,
			AllowOrigins: []string{"*"},
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "PRONTO_RUNTIME_NAME")
	overrideString(&cfg.Environment, "PRONTO_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "PRONTO_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "PRONTO_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "PRONTO_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "PRONTO_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "PRONTO_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "PRONTO_TELEMETRY_PROMETHEUS_BIND")
	overrideBool(&cfg.Bus.Embedded, "PRONTO_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "PRONTO_BUS_PORT")
	overrideStringSlice(&cfg.Bus.Servers, "PRONTO_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "PRONTO_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "PRONTO_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "PRONTO_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "PRONTO_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "PRONTO_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.EventStore.Path, "PRONTO_EVENT_STORE_PATH")
	overrideString(&cfg.EventStore.RetentionMode, "PRONTO_EVENT_STORE_RETENTION_MODE")
	overrideInt(&cfg.EventStore.RetentionDays, "PRONTO_EVENT_STORE_RETENTION_DAYS")
	overrideInt(&cfg.EventStore.MaxSessions, "PRONTO_EVENT_STORE_MAX_SESSIONS")
	overrideBool(&cfg.EventStore.VacuumOnStart, "PRONTO_EVENT_STORE_VACUUM_ON_START")
	overrideString(&cfg.EventStore.PrivacyScope, "PRONTO_EVENT_STORE_PRIVACY_SCOPE")
	overrideString(&cfg.Agent.BaseURL, "PRONTO_AGENT_BASE_URL")
	overrideString(&cfg.Agent.Endpoint, "PRONTO_AGENT_ENDPOINT")
	overrideInt(&cfg.Agent.TimeoutMS, "PRONTO_AGENT_TIMEOUT_MS")
	overrideString(&cfg.Agent.ClassifyEndpoint, "PRONTO_AGENT_CLASSIFY_ENDPOINT")
	overrideBool(&cfg.STT.Enabled, "PRONTO_STT_ENABLED")
	overrideString(&cfg.STT.BaseURL, "PRONTO_STT_BASE_URL")
	overrideString(&cfg.STT.Endpoint, "PRONTO_STT_ENDPOINT")
	overrideString(&cfg.STT.Language, "PRONTO_STT_LANGUAGE")
	overrideInt(&cfg.STT.TimeoutMS, "PRONTO_STT_TIMEOUT_MS")
	overrideString(&cfg.TTS.Voice, "PRONTO_TTS_VOICE")
	overrideString(&cfg.TTS.Rate, "PRONTO_TTS_RATE")
	overrideString(&cfg.TTS.Volume, "PRONTO_TTS_VOLUME")
	overrideString(&cfg.TTS.Mode, "PRONTO_TTS_MODE")
	overrideInt(&cfg.TTS.TimeoutMS, "PRONTO_TTS_TIMEOUT_MS")
	overrideInt(&cfg.TTS.MinAudioBytes, "PRONTO_TTS_MIN_AUDIO_BYTES")
	overrideBool(&cfg.TTS.SecureOrigin, "PRONTO_TTS_SECURE_ORIGIN")
	overrideString(&cfg.TTS.LocalCommand, "PRONTO_TTS_LOCAL_COMMAND")
	overrideTTSProviders(&cfg.TTS.Providers, "PRONTO_TTS_PROVIDERS")
	overrideString(&cfg.Playback.Command, "PRONTO_PLAYBACK_COMMAND")
	overrideInt(&cfg.Playback.ReleaseGrace, "PRONTO_PLAYBACK_RELEASE_GRACE_MS")
	overrideBool(&cfg.Registry.Enabled, "PRONTO_REGISTRY_ENABLED")
	overrideInt(&cfg.Registry.ProbeIntervalMS, "PRONTO_REGISTRY_PROBE_INTERVAL_MS")
	overrideInt(&cfg.Registry.ProbeTimeoutMS, "PRONTO_REGISTRY_PROBE_TIMEOUT_MS")
	overrideBool(&cfg.Gateway.Enabled, "PRONTO_GATEWAY_ENABLED")
	overrideStringSlice(&cfg.Gateway.AllowOrigins, "PRONTO_GATEWAY_ALLOW_ORIGINS")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

// overrideTTSProviders accepts a comma-separated list of name=url pairs, e.g.
// "odia=https://odia-tts.onrender.com/speak,backup=https://tts.example.com/api/speak".
// The URL is split at the last path segment into base and endpoint.
func overrideTTSProviders(target *[]TTSProvider, envKey string) {
	value, ok := os.LookupEnv(envKey)
	if !ok || strings.TrimSpace(value) == "" {
		return
	}
	var providers []TTSProvider
	for _, entry := range strings.Split(value, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		name, rawURL, found := strings.Cut(entry, "=")
		if !found || rawURL == "" || !strings.Contains(rawURL, "://") {
			continue
		}
		base, endpoint := splitEndpoint(rawURL)
		providers = append(providers, TTSProvider{Name: strings.TrimSpace(name), BaseURL: base, Endpoint: endpoint})
	}
	if len(providers) > 0 {
		*target = providers
	}
}

func splitEndpoint(rawURL string) (string, string) {
	schemeEnd := strings.Index(rawURL, "://")
	if schemeEnd < 0 {
		return rawURL, "/speak"
	}
	pathStart := strings.Index(rawURL[schemeEnd+3:], "/")
	if pathStart < 0 {
		return rawURL, "/speak"
	}
	cut := schemeEnd + 3 + pathStart
	return rawURL[:cut], rawURL[cut:]
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Bus.Embedded {
		if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
			return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
		}
	} else {
		if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	if cfg.EventStore.Path == "" {
		return errors.New("event_store.path must not be empty")
	}
	switch cfg.EventStore.RetentionMode {
	case "ephemeral", "session", "persistent":
		// ok
	default:
		return errors.New("event_store.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.EventStore.RetentionDays < 0 {
		return errors.New("event_store.retention_days must be >= 0")
	}
	switch cfg.EventStore.PrivacyScope {
	case "redacted", "full":
	default:
		return errors.New("event_store.privacy_scope must be one of redacted|full")
	}
	if cfg.Telemetry.PrometheusBind == "" {
		return errors.New("telemetry.prometheus_bind must not be empty")
	}
	if cfg.Agent.Endpoint == "" {
		return errors.New("agent.endpoint must not be empty")
	}
	if cfg.Agent.TimeoutMS <= 0 {
		return errors.New("agent.timeout_ms must be positive")
	}
	if cfg.STT.Enabled {
		if cfg.STT.Endpoint == "" {
			return errors.New("stt.endpoint must not be empty when stt is enabled")
		}
		if cfg.STT.Language == "" {
			return errors.New("stt.language must not be empty when stt is enabled")
		}
		if cfg.STT.TimeoutMS <= 0 {
			return errors.New("stt.timeout_ms must be positive")
		}
	}
	if len(cfg.TTS.Providers) == 0 {
		return errors.New("tts.providers must not be empty")
	}
	for _, p := range cfg.TTS.Providers {
		if p.Name == "" {
			return errors.New("tts provider name must not be empty")
		}
		if p.BaseURL == "" {
			return fmt.Errorf("tts provider %q base_url must not be empty", p.Name)
		}
	}
	if cfg.TTS.Voice == "" {
		return errors.New("tts.voice must not be empty")
	}
	if cfg.TTS.MinAudioBytes < 0 {
		return errors.New("tts.min_audio_bytes must be >= 0")
	}
	if cfg.TTS.TimeoutMS <= 0 {
		return errors.New("tts.timeout_ms must be positive")
	}
	if cfg.Playback.ReleaseGrace < 0 {
		return errors.New("playback.release_grace_ms must be >= 0")
	}
	if cfg.Registry.Enabled {
		if cfg.Registry.ProbeIntervalMS <= 0 {
			return errors.New("registry.probe_interval_ms must be positive")
		}
		if cfg.Registry.ProbeTimeoutMS <= 0 {
			return errors.New("registry.probe_timeout_ms must be positive")
		}
	}
	return nil
}
