package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func catalogS5() []Descriptor {
	return []Descriptor{
		{ID: "de_x", LangID: "de", EngineKind: EngineSTTVosk, Name: "De X", Score: 1},
		{ID: "de_y", LangID: "de", EngineKind: EngineSTTVosk, Name: "De Y", Score: 3, DefaultForLang: true},
		{ID: "en_z", LangID: "en", EngineKind: EngineSTTVosk, Name: "En Z", Score: 5},
	}
}

func TestResolverDefaultForLangWinsOverScore(t *testing.T) {
	r := NewResolver(catalogS5())
	cfg, ok := r.Resolve(RoleSTT, "de", "", false)
	require.True(t, ok)
	assert.Equal(t, "de_y", cfg.ModelID)
}

func TestResolverFallsBackToFirstSeen(t *testing.T) {
	r := NewResolver(catalogS5())
	cfg, ok := r.Resolve(RoleSTT, "fr", "", false)
	require.True(t, ok)
	// sorted by id: de_x, de_y, en_z -> first STT model is de_x
	assert.Equal(t, "de_x", cfg.ModelID)
}

func TestResolverExactIDMatch(t *testing.T) {
	catalog := catalogS5()
	r := NewResolver(catalog)
	for _, m := range catalog {
		cfg, ok := r.Resolve(m.Role(), m.ID, "", false)
		require.True(t, ok)
		assert.Equal(t, m.ID, cfg.ModelID)
	}
}

func TestResolverEmptyKeyUsesDefault(t *testing.T) {
	r := NewResolver(catalogS5())
	cfg, ok := r.Resolve(RoleSTT, "", "en_z", false)
	require.True(t, ok)
	assert.Equal(t, "en_z", cfg.ModelID)
}

func TestResolverAttachesTTTOnlyWhenEnabled(t *testing.T) {
	catalog := append(catalogS5(), Descriptor{
		ID: "punct_en", LangID: "en", EngineKind: EngineTTTHFTC, Name: "Punct",
	})
	r := NewResolver(catalog)

	cfg, ok := r.Resolve(RoleSTT, "en_z", "", false)
	require.True(t, ok)
	assert.Empty(t, cfg.TTTModelID)

	cfg, ok = r.Resolve(RoleSTT, "en_z", "", true)
	require.True(t, ok)
	assert.Equal(t, "punct_en", cfg.TTTModelID)
}

func TestResolverNoModelsReturnsFalse(t *testing.T) {
	r := NewResolver(nil)
	_, ok := r.Resolve(RoleSTT, "anything", "", false)
	assert.False(t, ok)
}

func TestTestDefaultModel(t *testing.T) {
	catalog := catalogS5()
	assert.Equal(t, "de_y", TestDefaultModel("de_y", catalog)) // id itself present
	assert.Equal(t, "de_x", TestDefaultModel("de", catalog))   // first by lang, sorted
	assert.Equal(t, "de_x", TestDefaultModel("xx", catalog))   // fallback: first overall
	assert.Equal(t, "", TestDefaultModel("xx", nil))
}

func TestAvailableLangsFirstSeenDeterministic(t *testing.T) {
	r := NewResolver(catalogS5())
	langs := r.AvailableLangs(RoleSTT)
	// "de" must map to de_x (first by sorted id), not de_y.
	assert.Equal(t, "De X / de", langs["de"])
}
