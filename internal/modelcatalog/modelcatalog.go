// Package modelcatalog loads the normalized model metadata snapshot,
// with its version and SHA-256 content fingerprint, and resolves a
// config's model_slug to a provider for routing. The run pipeline does
// not load a catalog, so manifest.json's model_catalog_version and
// model_catalog_sha256 stay unset.
//
// Grounded on the teacher's internal/attractor/modeldb package: same
// OpenRouter /api/v1/models payload shape, same content-hash-on-load
// pattern, trimmed to the fields Arbiter's manifest and routing actually
// need.
package modelcatalog

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/arbiterlab/arbiter/internal/providerspec"
)

// Entry is the metadata the catalog retains for one model ID.
type Entry struct {
	Provider           string
	ContextWindow      int
	MaxOutputTokens    int
	SupportsTools      bool
	SupportsVision     bool
	SupportsReasoning  bool
	InputCostPerToken  *float64
	OutputCostPerToken *float64
}

// Catalog is the loaded, content-hashed model roster.
type Catalog struct {
	Path    string
	SHA256  string
	Version string
	Models  map[string]Entry
}

type openRouterPayload struct {
	Data []openRouterModel `json:"data"`
}

type openRouterModel struct {
	ID                  string   `json:"id"`
	ContextLength       int      `json:"context_length"`
	SupportedParameters []string `json:"supported_parameters"`
	Architecture        struct {
		InputModalities  []string `json:"input_modalities"`
		OutputModalities []string `json:"output_modalities"`
	} `json:"architecture"`
	Pricing struct {
		Prompt     string `json:"prompt"`
		Completion string `json:"completion"`
	} `json:"pricing"`
	TopProvider struct {
		ContextLength       int `json:"context_length"`
		MaxCompletionTokens int `json:"max_completion_tokens"`
	} `json:"top_provider"`
}

// Load reads an OpenRouter-shaped model metadata snapshot from path and
// computes its SHA-256 content fingerprint. Version is the basename of
// path.
func Load(path string) (*Catalog, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("modelcatalog: read %s: %w", path, err)
	}
	sum := sha256.Sum256(b)

	var payload openRouterPayload
	if err := json.Unmarshal(b, &payload); err != nil {
		return nil, fmt.Errorf("modelcatalog: parse %s: %w", path, err)
	}

	models := make(map[string]Entry, len(payload.Data))
	for _, m := range payload.Data {
		id := strings.TrimSpace(m.ID)
		if id == "" {
			continue
		}
		ctxWindow := m.ContextLength
		if ctxWindow == 0 {
			ctxWindow = m.TopProvider.ContextLength
		}
		models[id] = Entry{
			Provider:           providerFromID(id),
			ContextWindow:      ctxWindow,
			MaxOutputTokens:    m.TopProvider.MaxCompletionTokens,
			SupportsTools:      containsFold(m.SupportedParameters, "tools"),
			SupportsReasoning:  containsFold(m.SupportedParameters, "reasoning") || containsFold(m.SupportedParameters, "include_reasoning"),
			SupportsVision:     containsFold(m.Architecture.InputModalities, "image") || containsFold(m.Architecture.OutputModalities, "image"),
			InputCostPerToken:  parseFloatPtr(m.Pricing.Prompt),
			OutputCostPerToken: parseFloatPtr(m.Pricing.Completion),
		}
	}
	if len(models) == 0 {
		return nil, fmt.Errorf("modelcatalog: no models in %s", path)
	}

	return &Catalog{
		Path:    path,
		SHA256:  hex.EncodeToString(sum[:]),
		Version: versionFromPath(path),
		Models:  models,
	}, nil
}

// Resolve reports whether slug names a known model and, if so, its
// normalized provider key.
func (c *Catalog) Resolve(slug string) (provider string, ok bool) {
	if c == nil {
		return "", false
	}
	slug = strings.TrimSpace(slug)
	if e, found := c.Models[slug]; found {
		return e.Provider, true
	}
	for id, e := range c.Models {
		if strings.EqualFold(id, slug) {
			return e.Provider, true
		}
	}
	return "", false
}

func providerFromID(id string) string {
	parts := strings.SplitN(id, "/", 2)
	if len(parts) < 2 {
		return ""
	}
	return providerspec.CanonicalProviderKey(parts[0])
}

func containsFold(values []string, target string) bool {
	target = strings.ToLower(strings.TrimSpace(target))
	for _, v := range values {
		if strings.ToLower(strings.TrimSpace(v)) == target {
			return true
		}
	}
	return false
}

func parseFloatPtr(v string) *float64 {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return nil
	}
	return &f
}

func versionFromPath(path string) string {
	i := strings.LastIndexAny(path, "/\\")
	if i >= 0 {
		return path[i+1:]
	}
	return path
}
