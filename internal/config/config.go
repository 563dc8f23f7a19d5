// Package config loads runtime configuration for the speechd binary:
// cache directory, keepalive durations, model catalog path, default
// language/model, sample rate, and VAD aggressiveness. godotenv loads a
// local .env first (mirroring the common pattern for API
// keys), then viper binds environment variables and an optional YAML
// file on top, in the style of CWBudde-go-pocket-tts's internal/config.
package config

import (
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config is the demo binary's process-wide configuration. It is not part
// of the core orchestrator's contract (that takes a models.Resolver and
// explicit durations at construction) — it only exists to wire the
// core together into something runnable.
type Config struct {
	CacheDir       string
	CatalogPath    string
	SampleRate     int
	Channels       int
	VADAggressiveness int
	DefaultSttLang string
	DefaultTtsLang string
	PunctuationRestore bool

	ServiceKeepalive time.Duration
	TaskKeepalive    time.Duration

	STTProvider string
	TTSProvider string

	// stt_whisper
	WhisperServerURL string
	WhisperModel     string

	// stt_ds (cloud)
	CloudSTTEndpoint string
	CloudSTTAPIKey   string
	CloudSTTModel    string

	// stt_vosk (sherpa-onnx)
	SherpaEncoderPath string
	SherpaDecoderPath string
	SherpaTokensPath  string
	SherpaVADModelPath string

	// tts_coqui
	CoquiHost string

	// tts_piper
	OnnxLibraryPath string

	// ttt_hftc
	HFTCAPIKey string
	HFTCModel  string
}

// Load reads .env (if present), then environment variables prefixed
// SPEECHD_, then an optional YAML config file, in that precedence order
// (file < env, matching viper's own AutomaticEnv precedence rules).
func Load(configFile string) (Config, error) {
	if err := godotenv.Load(); err != nil {
		// absence of a .env file is not an error; this mirrors the
		// cmd/agent/main.go, which only logs a note and continues.
		_ = err
	}

	v := viper.New()
	v.SetEnvPrefix("SPEECHD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("cache_dir", "./.cache/speechd")
	v.SetDefault("catalog_path", "./models.yaml")
	v.SetDefault("sample_rate", 16000)
	v.SetDefault("channels", 1)
	v.SetDefault("vad_aggressiveness", 2)
	v.SetDefault("default_stt_lang", "en")
	v.SetDefault("default_tts_lang", "en")
	v.SetDefault("punctuation_restore", false)
	v.SetDefault("service_keepalive_seconds", 60)
	v.SetDefault("task_keepalive_seconds", 30)
	v.SetDefault("stt_provider", "stt_vosk")
	v.SetDefault("tts_provider", "tts_piper")
	v.SetDefault("whisper_server_url", "http://localhost:8090")
	v.SetDefault("whisper_model", "")
	v.SetDefault("cloud_stt_endpoint", "")
	v.SetDefault("cloud_stt_api_key", "")
	v.SetDefault("cloud_stt_model", "whisper-large-v3-turbo")
	v.SetDefault("sherpa_encoder_path", "")
	v.SetDefault("sherpa_decoder_path", "")
	v.SetDefault("sherpa_tokens_path", "")
	v.SetDefault("sherpa_vad_model_path", "")
	v.SetDefault("coqui_host", "localhost:5002")
	v.SetDefault("onnx_library_path", "./libonnxruntime.so")
	v.SetDefault("hftc_api_key", "")
	v.SetDefault("hftc_model", "gpt-4o-mini")

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, err
			}
		}
	}

	return Config{
		CacheDir:           v.GetString("cache_dir"),
		CatalogPath:        v.GetString("catalog_path"),
		SampleRate:         v.GetInt("sample_rate"),
		Channels:           v.GetInt("channels"),
		VADAggressiveness:  v.GetInt("vad_aggressiveness"),
		DefaultSttLang:     v.GetString("default_stt_lang"),
		DefaultTtsLang:     v.GetString("default_tts_lang"),
		PunctuationRestore: v.GetBool("punctuation_restore"),
		ServiceKeepalive:   time.Duration(v.GetInt("service_keepalive_seconds")) * time.Second,
		TaskKeepalive:      time.Duration(v.GetInt("task_keepalive_seconds")) * time.Second,
		STTProvider:        v.GetString("stt_provider"),
		TTSProvider:        v.GetString("tts_provider"),

		WhisperServerURL: v.GetString("whisper_server_url"),
		WhisperModel:     v.GetString("whisper_model"),

		CloudSTTEndpoint: v.GetString("cloud_stt_endpoint"),
		CloudSTTAPIKey:   v.GetString("cloud_stt_api_key"),
		CloudSTTModel:    v.GetString("cloud_stt_model"),

		SherpaEncoderPath:  v.GetString("sherpa_encoder_path"),
		SherpaDecoderPath:  v.GetString("sherpa_decoder_path"),
		SherpaTokensPath:   v.GetString("sherpa_tokens_path"),
		SherpaVADModelPath: v.GetString("sherpa_vad_model_path"),

		CoquiHost: v.GetString("coqui_host"),

		OnnxLibraryPath: v.GetString("onnx_library_path"),

		HFTCAPIKey: v.GetString("hftc_api_key"),
		HFTCModel:  v.GetString("hftc_model"),
	}, nil
}
