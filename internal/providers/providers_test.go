package providers

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fints-agent/internal/config"
	"fints-agent/internal/errors"
)

func seedRegistry(t *testing.T) *Registry {
	t.Helper()
	reg, err := Load("")
	require.NoError(t, err)
	return reg
}

func TestLoad_Seed(t *testing.T) {
	reg := seedRegistry(t)

	all := reg.All()
	require.Len(t, all, 5)
	// sorted by name; upper case sorts first
	assert.Equal(t, []string{"consorsbank", "dkb", "ing", "comdirect", "norisbank"}, ids(all))

	dkb, err := reg.Resolve("dkb")
	require.NoError(t, err)
	assert.Equal(t, "12030000", dkb.BLZ)
	assert.Equal(t, "https://fints.dkb.de/fints", dkb.FinTSURL)
	assert.Equal(t, "yes", dkb.Supports["transfer"])
}

func TestLoad_UserFileOverridesAndExtends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "providers.json")
	require.NoError(t, os.WriteFile(path, []byte(`[
		{"id": "ing", "fints_url": "https://fints.example.test/ing"},
		{"id": "de-76050101", "name": "Sparkasse Nürnberg", "country": "DE", "blz": "76050101", "fints_url": "https://banking-by1.s-fints-pt-by.de/fints30"},
		{"id": "de-00000000", "name": "No Endpoint"}
	]`), 0o600))

	reg, err := Load(path)
	require.NoError(t, err)

	ing, err := reg.Resolve("ing")
	require.NoError(t, err)
	assert.Equal(t, "https://fints.example.test/ing", ing.FinTSURL)
	assert.Equal(t, "50010517", ing.BLZ)
	assert.Equal(t, "ING", ing.Name)

	spk, err := reg.Resolve("76050101")
	require.NoError(t, err)
	assert.Equal(t, "de-76050101", spk.ID)

	_, err = reg.Resolve("de-00000000")
	assert.True(t, errors.HasCode(err, errors.ProviderNotFound))
	assert.Len(t, reg.All(), 6)
}

func TestLoad_UserFileObjectForm(t *testing.T) {
	path := filepath.Join(t.TempDir(), "providers.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"generated_at": "2026-01-01T00:00:00", "providers": [{"id": "dkb", "name": "Deutsche Kreditbank", "fints_url": "https://fints.dkb.de/fints"}]}`), 0o600))

	reg, err := Load(path)
	require.NoError(t, err)

	dkb, err := reg.Resolve("dkb")
	require.NoError(t, err)
	assert.Equal(t, "DKB", dkb.Name)
}

func TestLoad_CorruptUserFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "providers.json")
	require.NoError(t, os.WriteFile(path, []byte(`{not json`), 0o600))

	_, err := Load(path)
	assert.True(t, errors.HasCode(err, errors.ConfigError))
}

func TestResolve(t *testing.T) {
	reg := seedRegistry(t)

	tests := []struct {
		ref  string
		want string
		code errors.ErrorCode
	}{
		{ref: "comdirect", want: "comdirect"},
		{ref: "70120400", want: "consorsbank"},
		{ref: "noris", want: "norisbank"},
		{ref: "  ING ", want: "ing"},
		{ref: "bank", code: errors.InvalidInput},
		{ref: "volksbank", code: errors.ProviderNotFound},
		{ref: "", code: errors.InvalidInput},
	}

	for _, tt := range tests {
		t.Run(tt.ref, func(t *testing.T) {
			p, err := reg.Resolve(tt.ref)
			if tt.code != "" {
				assert.True(t, errors.HasCode(err, tt.code), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, p.ID)
		})
	}
}

func TestList(t *testing.T) {
	reg := seedRegistry(t)

	assert.Equal(t, []string{"consorsbank", "comdirect"}, ids(reg.List(Query{Search: "co"})))
	assert.Equal(t, []string{"dkb"}, ids(reg.List(Query{Search: "1203"})))
	assert.Len(t, reg.List(Query{Country: "de"}), 5)
	assert.Empty(t, reg.List(Query{Country: "AT"}))
	assert.Len(t, reg.List(Query{Limit: 2}), 2)
}

func TestApplyTo(t *testing.T) {
	reg := seedRegistry(t)
	cfg := config.DefaultConfig()

	ing, err := reg.Resolve("ing")
	require.NoError(t, err)
	require.NoError(t, ing.ApplyTo(cfg))

	assert.Equal(t, "ing", cfg.Provider.ID)
	assert.Equal(t, "ING", cfg.Provider.Name)
	assert.Equal(t, "50010517", cfg.Bank.BLZ)
	assert.Equal(t, "https://fints.ing.de/fints/", cfg.Bank.Server)

	err = Provider{ID: "x"}.ApplyTo(cfg)
	assert.True(t, errors.HasCode(err, errors.ConfigError))
}

func ids(ps []Provider) []string {
	out := make([]string, 0, len(ps))
	for _, p := range ps {
		out = append(out, p.ID)
	}
	return out
}
