package pool

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antigravity/cloudcode-gateway/internal/config"
)

func TestTriggerBackup_WritesPairedAccountsAndConfigFiles(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(filepath.Join(dir, "accounts.json"), 5, zerolog.Nop())
	defer s.Close()

	cfg := config.DefaultConfig()
	info, err := s.TriggerBackup([]*Account{{Email: "a@example.com"}}, 0, testSettings(), cfg, "pre-migration")
	require.NoError(t, err)
	assert.Contains(t, info.Name, "pre-migration")

	backupDir := filepath.Join(dir, "backups")
	entries, err := os.ReadDir(backupDir)
	require.NoError(t, err)

	var sawAccounts, sawConfig bool
	for _, e := range entries {
		if filepath.Ext(e.Name()) != ".json" {
			continue
		}
		switch {
		case len(e.Name()) > 9 && e.Name()[:9] == "accounts-":
			sawAccounts = true
		case len(e.Name()) > 7 && e.Name()[:7] == "config-":
			sawConfig = true
		}
	}
	assert.True(t, sawAccounts, "expected an accounts-*.json backup file")
	assert.True(t, sawConfig, "expected a paired config-*.json backup file")
}

func TestTriggerBackup_NilConfigWritesAccountsOnly(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(filepath.Join(dir, "accounts.json"), 5, zerolog.Nop())
	defer s.Close()

	_, err := s.TriggerBackup([]*Account{{Email: "a@example.com"}}, 0, testSettings(), nil, "")
	require.NoError(t, err)

	entries, err := os.ReadDir(filepath.Join(dir, "backups"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
}
