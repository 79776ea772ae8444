package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/voxbridge/voxbridge/pkg/vad"
)

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	// AllowedOrigins lists the browser origins accepted during the
	// WebSocket handshake. Empty means any origin.
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type UpstreamConfig struct {
	URL            string        `mapstructure:"url"`
	APIKey         string        `mapstructure:"api_key"`
	Model          string        `mapstructure:"model"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

type AudioConfig struct {
	InputSampleRate  int `mapstructure:"input_sample_rate"`
	OutputSampleRate int `mapstructure:"output_sample_rate"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
	Required  bool   `mapstructure:"required"`
}

type DBConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	PoolSize int    `mapstructure:"pool_size"`
}

func (d DBConfig) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		d.Username, d.Password, d.Host, d.Port, d.Name)
}

// Enabled reports whether transcript persistence was configured at all.
func (d DBConfig) Enabled() bool {
	return d.Host != "" && d.Name != ""
}

type STTConfig struct {
	WhisperURL string `mapstructure:"whisper_url"`
}

type Settings struct {
	Server   ServerConfig   `mapstructure:"server"`
	Upstream UpstreamConfig `mapstructure:"upstream"`
	Audio    AudioConfig    `mapstructure:"audio"`
	VAD      vad.Config     `mapstructure:"vad"`
	Auth     AuthConfig     `mapstructure:"auth"`
	DB       DBConfig       `mapstructure:"database"`
	STT      STTConfig      `mapstructure:"stt"`
	Env      string         `mapstructure:"env"`
	Debug    bool           `mapstructure:"debug" default:"false"`
}

func Load() (*Settings, error) {
	// Load settings from a configuration file or environment variables
	viper.SetConfigName("config_" + genEnv())
	viper.AddConfigPath(".")
	viper.SetConfigType("yaml")

	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("upstream.connect_timeout", 10*time.Second)
	viper.SetDefault("audio.input_sample_rate", 16000)
	viper.SetDefault("audio.output_sample_rate", 24000)

	defaults := vad.DefaultConfig()
	viper.SetDefault("vad.silence_threshold", defaults.SilenceThreshold)
	viper.SetDefault("vad.min_silence_frames", defaults.MinSilenceFrames)
	viper.SetDefault("vad.min_voice_frames", defaults.MinVoiceFrames)

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var settings Settings
	if err := viper.Unmarshal(&settings); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if settings.Upstream.URL == "" {
		return nil, fmt.Errorf("upstream.url is required")
	}

	return &settings, nil
}

func genEnv() string {
	env := viper.GetString("ENV")
	if env == "" {
		return "dev"
	}
	return env
}
