package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/subscription-copilot/internal/common"
)

func TestSetValues(t *testing.T) {
	tests := []struct {
		values   map[string]any
		name     string
		existing string
		want     []string
		keep     []string
	}{
		{
			name:   "creates file",
			values: map[string]any{"plaid.access_token": "access-1", "plaid.environment": "sandbox"},
			want:   []string{"plaid:", "access_token: access-1", "environment: sandbox"},
		},
		{
			name:     "replaces nested key and keeps comments",
			existing: "# my settings\nplaid:\n  # from the dashboard\n  client_id: abc\n  access_token: old\n",
			values:   map[string]any{"plaid.access_token": "new"},
			want:     []string{"access_token: new"},
			keep:     []string{"# my settings", "# from the dashboard", "client_id: abc"},
		},
		{
			name:     "adds a section",
			existing: "logging:\n  level: debug\n",
			values:   map[string]any{"nordigen.requisition_id": "req-1"},
			want:     []string{"nordigen:", "requisition_id: req-1"},
			keep:     []string{"level: debug"},
		},
		{
			name:     "replaces scalar with mapping",
			existing: "sheets: off\n",
			values:   map[string]any{"sheets.spreadsheet_id": "sheet-1"},
			want:     []string{"spreadsheet_id: sheet-1"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "nested", "config.yaml")
			if tt.existing != "" {
				require.NoError(t, os.MkdirAll(filepath.Dir(path), 0750))
				require.NoError(t, os.WriteFile(path, []byte(tt.existing), 0600))
			}

			require.NoError(t, SetValues(path, tt.values))

			data, err := os.ReadFile(path)
			require.NoError(t, err)
			for _, w := range append(tt.want, tt.keep...) {
				assert.Contains(t, string(data), w)
			}

			info, err := os.Stat(path)
			require.NoError(t, err)
			assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
		})
	}
}

func TestSetValues_RoundTripsThroughLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, SetValues(path, map[string]any{
		"database.path":           filepath.Join(t.TempDir(), "subs.db"),
		"gmail.max_messages":      50,
		"server.addr":             ":4000",
		"server.allowed_origins":  []string{"http://localhost:5173"},
		"nordigen.requisition_id": "req-9",
		"logging.format":          "json",
	}))

	cfg, err := Load(viper.New(), path)
	require.NoError(t, err)
	assert.Equal(t, 50, cfg.Gmail.MaxMessages)
	assert.Equal(t, "req-9", cfg.Nordigen.RequisitionID)
	assert.Equal(t, []string{"http://localhost:5173"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, ":4000", cfg.Server.Addr)
}

func TestSetValues_RejectsNonMapping(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("- a\n- b\n"), 0600))

	err := SetValues(path, map[string]any{"plaid.secret": "x"})
	assert.ErrorIs(t, err, common.ErrInvalidConfig)
}
