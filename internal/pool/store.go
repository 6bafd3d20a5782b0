package pool

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/antigravity/cloudcode-gateway/internal/config"
	"github.com/antigravity/cloudcode-gateway/internal/utils"
)

// document is the on-disk shape of the Credential Store (spec §4.1): all
// accounts, pool settings, and the persisted sticky index in one file.
type document struct {
	Accounts     []*Account `json:"accounts"`
	ActiveIndex  int        `json:"activeIndex"`
	Settings     Settings   `json:"settings"`
}

// Store is the Credential Store: loads/saves the document, keeps rolling
// backups, and serializes writes through a single background goroutine so
// concurrent mutations never interleave file contents (spec §4.1, §5).
type Store struct {
	path       string
	backupDir  string
	maxBackups int
	log        zerolog.Logger

	writes chan writeRequest
	done   chan struct{}
}

type writeRequest struct {
	accounts     []*Account
	activeIndex  int
	settings     Settings
}

// NewStore starts the Store's single-writer persistence chain. Call Close
// to drain pending writes before process exit.
func NewStore(path string, maxBackups int, log zerolog.Logger) *Store {
	if maxBackups < 1 {
		maxBackups = 5
	}
	s := &Store{
		path:       path,
		backupDir:  filepath.Join(filepath.Dir(path), "backups"),
		maxBackups: maxBackups,
		log:        log,
		writes:     make(chan writeRequest, 32),
		done:       make(chan struct{}),
	}
	go s.writerLoop()
	return s
}

// Close stops accepting new writes and waits for the queue to drain.
func (s *Store) Close() {
	close(s.writes)
	<-s.done
}

func (s *Store) writerLoop() {
	defer close(s.done)
	for req := range s.writes {
		if err := s.writeDocument(req); err != nil {
			s.log.Warn().Err(err).Msg("credential store write failed")
		}
	}
}

func (s *Store) writeDocument(req writeRequest) error {
	doc := document{
		Accounts:    req.accounts,
		ActiveIndex: req.activeIndex,
		Settings:    req.settings,
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}

	if err := utils.EnsureParentDir(s.path); err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return err
	}

	s.backup(data)
	return nil
}

func (s *Store) backup(data []byte) {
	if err := utils.EnsureDir(s.backupDir); err != nil {
		s.log.Warn().Err(err).Msg("credential store backup dir create failed")
		return
	}
	stamp := time.Now().Format("20060102-150405.000000000")
	backupPath := filepath.Join(s.backupDir, fmt.Sprintf("accounts-%s.json", stamp))
	if err := os.WriteFile(backupPath, data, 0o600); err != nil {
		s.log.Warn().Err(err).Msg("credential store backup write failed")
		return
	}
	s.pruneBackups()
}

// pruneBackups keeps at most maxBackups backups, each backup being the
// accounts.json file plus its optional same-stamped config.json sibling
// (TriggerBackup's pair); both files of an evicted backup are removed
// together so accounts.json/config.json stay paired on disk.
func (s *Store) pruneBackups() {
	entries, err := os.ReadDir(s.backupDir)
	if err != nil {
		return
	}
	groups := make(map[string][]string)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		stamp := strings.TrimSuffix(strings.TrimPrefix(strings.TrimPrefix(name, "accounts-"), "config-"), ".json")
		groups[stamp] = append(groups[stamp], name)
	}
	stamps := make([]string, 0, len(groups))
	for stamp := range groups {
		stamps = append(stamps, stamp)
	}
	sort.Strings(stamps)
	for len(stamps) > s.maxBackups {
		for _, name := range groups[stamps[0]] {
			_ = os.Remove(filepath.Join(s.backupDir, name))
		}
		stamps = stamps[1:]
	}
}

// Enqueue schedules a write-behind persist of the given state. Non-blocking
// up to the channel buffer; a full queue drops the write with a warning
// rather than blocking the caller (spec §4.1: "writes are best-effort").
func (s *Store) Enqueue(accounts []*Account, activeIndex int, settings Settings) {
	select {
	case s.writes <- writeRequest{accounts: accounts, activeIndex: activeIndex, settings: settings}:
	default:
		s.log.Warn().Msg("credential store write queue full, dropping a persist")
	}
}

// Load reads the document from disk. A missing file returns (nil, 0,
// Settings{}, nil) so callers can fall back to database-extracted defaults.
func (s *Store) Load() ([]*Account, int, Settings, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, 0, Settings{}, nil
	}
	if err != nil {
		return nil, 0, Settings{}, fmt.Errorf("read credential store: %w", err)
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, 0, Settings{}, fmt.Errorf("parse credential store: %w", err)
	}

	for _, acc := range doc.Accounts {
		if acc.Source == "" {
			acc.Source = SourceManual
		}
	}

	activeIndex := doc.ActiveIndex
	if activeIndex < 0 || activeIndex >= len(doc.Accounts) {
		activeIndex = 0
	}

	return doc.Accounts, activeIndex, doc.Settings, nil
}

// BackupInfo describes one stored backup file, for GET /api/admin/backups
// (spec §6).
type BackupInfo struct {
	Name      string    `json:"name"`
	Label     string    `json:"label,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	SizeBytes int64     `json:"sizeBytes"`
}

// TriggerBackup writes an immediate, labeled snapshot outside the regular
// write-behind chain, for POST /api/admin/backup. Unlike Enqueue this
// blocks until the file is written, since an admin explicitly asked for a
// descriptor back. cfg is bundled alongside the accounts document (spec §6:
// a backup is a config.json+accounts.json pair) so restoring a backup
// restores the tunables that were in effect at the time, not just the
// credentials; cfg may be nil, in which case only accounts.json is written.
func (s *Store) TriggerBackup(accounts []*Account, activeIndex int, settings Settings, cfg *config.Config, label string) (BackupInfo, error) {
	doc := document{Accounts: accounts, ActiveIndex: activeIndex, Settings: settings}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return BackupInfo{}, err
	}
	if err := utils.EnsureDir(s.backupDir); err != nil {
		return BackupInfo{}, err
	}

	stamp := time.Now().Format("20060102-150405.000000000")
	suffix := stamp
	if label != "" {
		suffix = fmt.Sprintf("%s-%s", stamp, sanitizeBackupLabel(label))
	}
	name := fmt.Sprintf("accounts-%s.json", suffix)
	path := filepath.Join(s.backupDir, name)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return BackupInfo{}, err
	}

	size := int64(len(data))
	if cfg != nil {
		configPath := filepath.Join(s.backupDir, fmt.Sprintf("config-%s.json", suffix))
		if err := cfg.Save(configPath); err != nil {
			s.log.Warn().Err(err).Msg("backup config snapshot write failed")
		} else if info, err := os.Stat(configPath); err == nil {
			size += info.Size()
		}
	}

	s.pruneBackups()

	return BackupInfo{Name: name, Label: label, CreatedAt: time.Now(), SizeBytes: size}, nil
}

// ListBackups enumerates stored backups, newest first, for
// GET /api/admin/backups.
func (s *Store) ListBackups() ([]BackupInfo, error) {
	entries, err := os.ReadDir(s.backupDir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	out := make([]BackupInfo, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, BackupInfo{Name: e.Name(), CreatedAt: info.ModTime(), SizeBytes: info.Size()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func sanitizeBackupLabel(label string) string {
	var b strings.Builder
	for _, r := range label {
		switch {
		case r == ' ' || r == '/' || r == '\\':
			b.WriteByte('-')
		case r == '.' || r == '_' || r == '-' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'):
			b.WriteRune(r)
		}
	}
	return b.String()
}

// DefaultAccountFromDatabase builds a single fallback Account sourced from a
// local Antigravity credential database (spec §4.1). The server's startup
// path does not call it: a missing Credential Store document starts an
// empty pool.
func DefaultAccountFromDatabase(ctx context.Context, dbPath, email string) *Account {
	return &Account{
		Email:        email,
		Source:       SourceDatabase,
		DatabasePath: dbPath,
	}
}
