package models

import (
	"sort"
	"strings"
)

// Resolver picks a Config from a catalog of Descriptors for a requested
// role and an optional id-or-language key. It is stateless aside from
// the catalog it was built from; callers rebuild it on Reload().
type Resolver struct {
	sttByID map[string]Descriptor
	ttsByID map[string]Descriptor
	tttByID map[string]Descriptor

	sorted []Descriptor // all descriptors, sorted by ID, for deterministic scans
}

// NewResolver builds the by-role lookup tables from the catalog. The
// catalog is sorted by ID once here; the original source's backing table
// is a std::map<QString,...>, which iterates in sorted-key order, making
// "first-seen" scans deterministic rather than merely "whatever order the
// catalog loader returned." This replicates that determinism on a Go
// slice/map instead of relying on Go's intentionally-unordered map
// iteration.
func NewResolver(catalog []Descriptor) *Resolver {
	sorted := make([]Descriptor, len(catalog))
	copy(sorted, catalog)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	r := &Resolver{
		sttByID: map[string]Descriptor{},
		ttsByID: map[string]Descriptor{},
		tttByID: map[string]Descriptor{},
		sorted:  sorted,
	}
	for _, d := range sorted {
		switch d.Role() {
		case RoleSTT:
			r.sttByID[d.ID] = d
		case RoleTTS:
			r.ttsByID[d.ID] = d
		case RoleTTT:
			r.tttByID[d.ID] = d
		}
	}
	return r
}

func (r *Resolver) tableFor(role Role) map[string]Descriptor {
	switch role {
	case RoleSTT:
		return r.sttByID
	case RoleTTS:
		return r.ttsByID
	case RoleTTT:
		return r.tttByID
	default:
		return nil
	}
}

// Resolve implements the full algorithm: exact-id pass, language pass,
// fallback to first-seen, and (STT only, when punctuationRestore is
// enabled) TTT attachment.
func (r *Resolver) Resolve(roleWanted Role, key string, defaultKey string, punctuationRestore bool) (Config, bool) {
	if key == "" {
		key = defaultKey
	}

	var firstConfig *Config
	var exact *Config

	for _, d := range r.sorted {
		if d.Role() != roleWanted {
			continue
		}
		cfg := fromDescriptor(d)
		if firstConfig == nil {
			firstConfig = &cfg
		}
		if key != "" && d.idEquals(key) && exact == nil {
			exact = &cfg
		}
	}

	var chosen *Config
	if exact != nil {
		chosen = exact
	} else if key != "" {
		chosen = r.languagePass(roleWanted, key)
	}
	if chosen == nil {
		chosen = firstConfig
	}
	if chosen == nil {
		return Config{}, false
	}

	out := *chosen
	if roleWanted == RoleSTT && punctuationRestore {
		r.attachTTT(&out)
	}
	return out, true
}

// languagePass finds role-matching descriptors whose LangID equals key,
// preferring the first default_for_lang=true hit, else the max-score one.
func (r *Resolver) languagePass(roleWanted Role, key string) *Config {
	var best *Descriptor
	for i := range r.sorted {
		d := r.sorted[i]
		if d.Role() != roleWanted || !d.langEquals(key) {
			continue
		}
		if d.DefaultForLang {
			cfg := fromDescriptor(d)
			return &cfg
		}
		if best == nil || d.Score > best.Score {
			dCopy := d
			best = &dCopy
		}
	}
	if best == nil {
		return nil
	}
	cfg := fromDescriptor(*best)
	return &cfg
}

// attachTTT finds the first TTT model whose LangID matches the chosen
// config's LangID and attaches its id/file/engine-kind triplet.
func (r *Resolver) attachTTT(cfg *Config) {
	for _, d := range r.sorted {
		if d.Role() != RoleTTT {
			continue
		}
		if strings.EqualFold(d.LangID, cfg.LangID) {
			cfg.TTTModelID = d.ID
			cfg.TTTModelFile = d.ModelFile
			cfg.TTTEngineKind = d.EngineKind
			return
		}
	}
}

// TestDefaultModel resolves a default id for a role's table when
// settings change: if lang is itself a key in the table, return it; else
// return the first entry (by sorted id) whose LangID matches; else return
// any first entry (sorted by id); else empty.
func TestDefaultModel(lang string, table []Descriptor) string {
	if len(table) == 0 {
		return ""
	}
	sorted := make([]Descriptor, len(table))
	copy(sorted, table)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	for _, d := range sorted {
		if strings.EqualFold(d.ID, lang) {
			return d.ID
		}
	}
	for _, d := range sorted {
		if strings.EqualFold(d.LangID, lang) {
			return d.ID
		}
	}
	return sorted[0].ID
}

// AvailableModels projects id -> "<name> / <lang_id>" for the given role
// table, keyed by model id.
func (r *Resolver) AvailableModels(role Role) map[string]string {
	out := map[string]string{}
	for _, d := range r.sorted {
		if d.Role() != role {
			continue
		}
		out[d.ID] = d.Name + " / " + d.LangID
	}
	return out
}

// AvailableLangs projects lang_id -> "<name> / <lang_id>" of the
// first-seen model for that language, scanning in sorted-by-id order so
// "first-seen" is deterministic rather than map-iteration-order dependent.
func (r *Resolver) AvailableLangs(role Role) map[string]string {
	out := map[string]string{}
	for _, d := range r.sorted {
		if d.Role() != role {
			continue
		}
		if _, seen := out[d.LangID]; seen {
			continue
		}
		out[d.LangID] = d.Name + " / " + d.LangID
	}
	return out
}
