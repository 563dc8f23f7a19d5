// Package speechd is the external surface (C7): a thin wrapper around
// pkg/orchestrator exposing the request methods and signal stream that
// would sit behind a speech-dispatcher-style IPC boundary, were one
// wired up. It owns nothing the orchestrator doesn't already own; its
// only independent responsibility is loading the model catalog the
// resolver is built from.
package speechd

import (
	"fmt"
	"os"

	"github.com/lokutor-ai/speechd/pkg/models"
	"gopkg.in/yaml.v3"
)

// catalogFile is the on-disk shape of a model catalog YAML file, kept
// separate from models.Descriptor so the wire format can evolve (field
// renames, optional sections) without touching the core data model.
type catalogFile struct {
	Models []catalogEntry `yaml:"models"`
}

type catalogEntry struct {
	ID             string `yaml:"id"`
	LangID         string `yaml:"lang_id"`
	EngineKind     string `yaml:"engine_kind"`
	Name           string `yaml:"name"`
	ModelFile      string `yaml:"model_file"`
	ScorerFile     string `yaml:"scorer_file"`
	Speaker        string `yaml:"speaker"`
	Score          int    `yaml:"score"`
	DefaultForLang bool   `yaml:"default_for_lang"`
}

// LoadCatalog reads a YAML catalog file into a Descriptor slice. A
// missing file is not an error: it returns an empty catalog, which
// resolves to not_configured rather than failing the process to start.
func LoadCatalog(path string) ([]models.Descriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("speechd: read catalog %q: %w", path, err)
	}

	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("speechd: parse catalog %q: %w", path, err)
	}

	out := make([]models.Descriptor, 0, len(file.Models))
	for _, e := range file.Models {
		out = append(out, models.Descriptor{
			ID:             e.ID,
			LangID:         e.LangID,
			EngineKind:     models.EngineKind(e.EngineKind),
			Name:           e.Name,
			ModelFile:      e.ModelFile,
			ScorerFile:     e.ScorerFile,
			Speaker:        e.Speaker,
			Score:          e.Score,
			DefaultForLang: e.DefaultForLang,
		})
	}
	return out, nil
}
