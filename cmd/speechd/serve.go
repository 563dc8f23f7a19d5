package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	sherpa "github.com/k2-fsa/sherpa-onnx-go-linux/sherpa_onnx"
	"github.com/spf13/cobra"

	"github.com/lokutor-ai/speechd/internal/config"
	"github.com/lokutor-ai/speechd/pkg/backends/stt"
	"github.com/lokutor-ai/speechd/pkg/backends/tts"
	"github.com/lokutor-ai/speechd/pkg/backends/ttt"
	"github.com/lokutor-ai/speechd/pkg/models"
	"github.com/lokutor-ai/speechd/pkg/orchestrator"
	"github.com/lokutor-ai/speechd/pkg/speechd"
	"github.com/lokutor-ai/speechd/pkg/sttengine"
	"github.com/lokutor-ai/speechd/pkg/ttsengine"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the speechd orchestrator, processing requests until keepalive expiry or signal",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(ctx context.Context) error {
	catalog, err := speechd.LoadCatalog(activeCfg.CatalogPath)
	if err != nil {
		return err
	}
	resolver := models.NewResolver(catalog)

	cfg := orchestrator.DefaultConfig()
	cfg.SampleRate = activeCfg.SampleRate
	cfg.Channels = activeCfg.Channels
	cfg.VADAggressiveness = activeCfg.VADAggressiveness
	cfg.DefaultSTTLang = activeCfg.DefaultSttLang
	cfg.DefaultTTSLang = activeCfg.DefaultTtsLang
	cfg.PunctuationRestore = activeCfg.PunctuationRestore
	cfg.ServiceKeepalive = activeCfg.ServiceKeepalive
	cfg.TaskKeepalive = activeCfg.TaskKeepalive

	orch := orchestrator.New(cfg, resolver, sttBackendFactory(), ttsBackendFactory(), tttBackendFactory(), logger)
	svc := speechd.New(orch)
	svc.Start()
	defer svc.Close()

	runCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		for sig := range svc.Events() {
			logEvent(sig)
		}
	}()

	<-runCtx.Done()
	logger.Info("shutting down")
	return nil
}

func logEvent(sig orchestrator.Signal) {
	switch sig.Kind {
	case orchestrator.SigStateChanged:
		logger.Info("state changed", "state", sig.State.String())
	case orchestrator.SigSttTextDecoded:
		logger.Info("final text", "task", sig.Task, "text", sig.Text)
	case orchestrator.SigSttIntermediateTextDecoded:
		logger.Debug("intermediate text", "task", sig.Task, "text", sig.Text)
	case orchestrator.SigErrorOccured:
		logger.Error("engine error", "code", sig.Code)
	case orchestrator.SigTtsPlaySpeechFinished:
		logger.Info("playback finished", "task", sig.Task)
	case orchestrator.SigSttFileFinished:
		logger.Info("file transcription finished", "task", sig.Task)
	}
}

// sttBackendFactory dispatches on the resolved config's engine_kind to
// build the matching concrete Backend, the Go analog of the teacher's
// provider-name switch in cmd/agent/main.go.
func sttBackendFactory() orchestrator.STTBackendFactory {
	return func(cfg models.Config) (sttengine.Backend, error) {
		switch cfg.EngineKind {
		case models.EngineSTTWhisper:
			return stt.NewWhisper(activeCfg.WhisperServerURL, cfg.LangID, activeCfg.WhisperModel, activeCfg.SampleRate, activeCfg.VADAggressiveness), nil
		case models.EngineSTTVosk:
			modelCfg := sherpa.OfflineModelConfig{
				Whisper: sherpa.OfflineWhisperModelConfig{
					Encoder: activeCfg.SherpaEncoderPath,
					Decoder: activeCfg.SherpaDecoderPath,
				},
				Tokens:     activeCfg.SherpaTokensPath,
				NumThreads: 1,
			}
			vadCfg := sherpa.VadModelConfig{
				SileroVad: sherpa.SileroVadModelConfig{
					Model:              activeCfg.SherpaVADModelPath,
					Threshold:          0.5,
					MinSilenceDuration: 0.5,
					MinSpeechDuration:  0.25,
				},
				NumThreads: 1,
			}
			return stt.NewSherpa(modelCfg, vadCfg, activeCfg.SampleRate), nil
		case models.EngineSTTDeepSpeech:
			return stt.NewCloud(activeCfg.CloudSTTEndpoint, activeCfg.CloudSTTAPIKey, activeCfg.CloudSTTModel, cfg.LangID, activeCfg.SampleRate, activeCfg.VADAggressiveness), nil
		default:
			return nil, fmt.Errorf("speechd: no stt backend for engine_kind %q", cfg.EngineKind)
		}
	}
}

func ttsBackendFactory() orchestrator.TTSBackendFactory {
	return func(cfg models.Config) (ttsengine.Backend, error) {
		switch cfg.EngineKind {
		case models.EngineTTSCoqui:
			return tts.NewCoqui(activeCfg.CoquiHost), nil
		case models.EngineTTSPiper:
			return tts.NewPiper(activeCfg.OnnxLibraryPath, cfg.ModelFile, activeCfg.SampleRate), nil
		default:
			return nil, fmt.Errorf("speechd: no tts backend for engine_kind %q", cfg.EngineKind)
		}
	}
}

func tttBackendFactory() orchestrator.TTTBackendFactory {
	return func(cfg models.Config) (orchestrator.TTTRestorer, error) {
		switch cfg.TTTEngineKind {
		case models.EngineTTTHFTC:
			if activeCfg.HFTCAPIKey == "" {
				return nil, fmt.Errorf("speechd: ttt_hftc requires an API key")
			}
			return ttt.NewHFTC(activeCfg.HFTCAPIKey, activeCfg.HFTCModel), nil
		default:
			return nil, fmt.Errorf("speechd: no ttt backend for engine_kind %q", cfg.TTTEngineKind)
		}
	}
}
