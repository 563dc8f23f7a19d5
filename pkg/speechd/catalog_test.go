package speechd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lokutor-ai/speechd/pkg/models"
)

func TestLoadCatalogMissingFileReturnsEmpty(t *testing.T) {
	entries, err := LoadCatalog(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestLoadCatalogParsesEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "models.yaml")
	yaml := `
models:
  - id: stt-en-vosk
    lang_id: en
    engine_kind: stt_vosk
    name: English Vosk
    model_file: /models/en.onnx
    default_for_lang: true
  - id: tts-en-coqui
    lang_id: en
    engine_kind: tts_coqui
    name: English Coqui
    speaker: p225
    score: 5
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	entries, err := LoadCatalog(path)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, models.Descriptor{
		ID: "stt-en-vosk", LangID: "en", EngineKind: models.EngineSTTVosk,
		Name: "English Vosk", ModelFile: "/models/en.onnx", DefaultForLang: true,
	}, entries[0])

	assert.Equal(t, "tts-en-coqui", entries[1].ID)
	assert.Equal(t, models.EngineTTSCoqui, entries[1].EngineKind)
	assert.Equal(t, "p225", entries[1].Speaker)
	assert.Equal(t, 5, entries[1].Score)
}

func TestLoadCatalogMalformedYAMLReturnsError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("models: [this is not a list of maps"), 0o644))

	_, err := LoadCatalog(path)
	assert.Error(t, err)
}
