// Package providers is the read-only catalog of banks reachable over FinTS
// PIN/TAN. A bundled seed list is merged with an optional user file.
package providers

import (
	"bytes"
	_ "embed"
	"encoding/json"
	stderrors "errors"
	"io/fs"
	"os"
	"sort"
	"strings"

	"fints-agent/internal/config"
	"fints-agent/internal/errors"
)

//go:embed providers.json
var seedCatalog []byte

type Provider struct {
	ID       string            `json:"id"`
	Name     string            `json:"name"`
	Country  string            `json:"country,omitempty"`
	BLZ      string            `json:"blz,omitempty"`
	BIC      string            `json:"bic,omitempty"`
	FinTSURL string            `json:"fints_url,omitempty"`
	AuthMode string            `json:"auth_mode,omitempty"`
	Source   string            `json:"source,omitempty"`
	Supports map[string]string `json:"supports,omitempty"`
}

// Query filters List. Zero values match everything.
type Query struct {
	// Search matches case-insensitively against id and name, and against the bank code.
	Search  string
	Country string
	Limit   int
}

type Registry struct {
	providers []Provider
}

// Load returns the seed catalog merged with the user file at userPath. A
// missing user file is not an error.
func Load(userPath string) (*Registry, error) {
	seed, err := Parse(seedCatalog)
	if err != nil {
		return nil, errors.Wrap(errors.InternalError, "bundled provider catalog is corrupt", err)
	}

	lists := [][]Provider{seed}
	if userPath != "" {
		data, err := os.ReadFile(userPath)
		switch {
		case err == nil:
			user, err := Parse(data)
			if err != nil {
				return nil, errors.Wrap(errors.ConfigError, "failed to parse provider file "+userPath, err)
			}
			lists = append(lists, user)
		case !stderrors.Is(err, fs.ErrNotExist):
			return nil, errors.Wrap(errors.ConfigError, "failed to read provider file "+userPath, err)
		}
	}

	return New(Merge(lists...)), nil
}

func New(providers []Provider) *Registry {
	return &Registry{providers: providers}
}

// Parse accepts either a bare JSON array or an object with a "providers" array.
func Parse(data []byte) ([]Provider, error) {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		var list []Provider
		if err := json.Unmarshal(data, &list); err != nil {
			return nil, err
		}
		return list, nil
	}

	var file struct {
		Providers []Provider `json:"providers"`
	}
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, err
	}
	return file.Providers, nil
}

// Merge overlays later lists onto earlier ones field by field, keyed by id.
// Entries without a FinTS endpoint are dropped.
func Merge(lists ...[]Provider) []Provider {
	merged := make(map[string]Provider)
	for _, list := range lists {
		for _, p := range list {
			if p.ID == "" {
				continue
			}
			merged[p.ID] = overlay(merged[p.ID], p)
		}
	}

	out := make([]Provider, 0, len(merged))
	for _, p := range merged {
		if p.FinTSURL == "" {
			continue
		}
		// canonical short label regardless of imported data
		if p.ID == "dkb" {
			p.Name = "DKB"
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func overlay(base, over Provider) Provider {
	pick := func(a, b string) string {
		if b != "" {
			return b
		}
		return a
	}
	base.ID = over.ID
	base.Name = pick(base.Name, over.Name)
	base.Country = pick(base.Country, over.Country)
	base.BLZ = pick(base.BLZ, over.BLZ)
	base.BIC = pick(base.BIC, over.BIC)
	base.FinTSURL = pick(base.FinTSURL, over.FinTSURL)
	base.AuthMode = pick(base.AuthMode, over.AuthMode)
	base.Source = pick(base.Source, over.Source)
	if len(over.Supports) > 0 {
		supports := make(map[string]string, len(base.Supports)+len(over.Supports))
		for k, v := range base.Supports {
			supports[k] = v
		}
		for k, v := range over.Supports {
			supports[k] = v
		}
		base.Supports = supports
	}
	return base
}

func (r *Registry) All() []Provider {
	return append([]Provider(nil), r.providers...)
}

func (r *Registry) List(q Query) []Provider {
	needle := strings.ToLower(strings.TrimSpace(q.Search))
	var out []Provider
	for _, p := range r.providers {
		if needle != "" &&
			!strings.Contains(strings.ToLower(p.Name), needle) &&
			!strings.Contains(strings.ToLower(p.ID), needle) &&
			!strings.Contains(p.BLZ, needle) {
			continue
		}
		if q.Country != "" && !strings.EqualFold(p.Country, q.Country) {
			continue
		}
		out = append(out, p)
		if q.Limit > 0 && len(out) == q.Limit {
			break
		}
	}
	return out
}

// Resolve finds a provider by exact id, then bank code, then a unique
// case-insensitive name substring.
func (r *Registry) Resolve(ref string) (Provider, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return Provider{}, errors.NewAppError(errors.InvalidInput, "missing provider")
	}

	for _, p := range r.providers {
		if p.ID == ref {
			return p, nil
		}
	}
	for _, p := range r.providers {
		if p.BLZ == ref {
			return p, nil
		}
	}

	low := strings.ToLower(ref)
	var matches []Provider
	for _, p := range r.providers {
		if strings.Contains(strings.ToLower(p.Name), low) {
			matches = append(matches, p)
		}
	}
	switch len(matches) {
	case 1:
		return matches[0], nil
	case 0:
		return Provider{}, errors.NewAppErrorf(errors.ProviderNotFound, "provider not found: %s", ref).
			WithDetails("try providers-list --search <name>")
	}

	if len(matches) > 8 {
		matches = matches[:8]
	}
	names := make([]string, 0, len(matches))
	for _, m := range matches {
		names = append(names, m.ID+" ("+m.Name+")")
	}
	return Provider{}, errors.NewAppErrorf(errors.InvalidInput, "ambiguous provider: %s", ref).
		WithDetails("matches: " + strings.Join(names, ", "))
}

// ApplyTo points cfg at the provider's endpoint.
func (p Provider) ApplyTo(cfg *config.Config) error {
	if p.FinTSURL == "" {
		return errors.NewAppErrorf(errors.ConfigError, "provider %s has no FinTS endpoint", p.ID).
			WithDetails("only FinTS/HBCI PIN/TAN is supported")
	}
	cfg.Provider.ID = p.ID
	cfg.Provider.Name = p.Name
	if p.BLZ != "" {
		cfg.Bank.BLZ = p.BLZ
	}
	cfg.Bank.Server = p.FinTSURL
	return nil
}
