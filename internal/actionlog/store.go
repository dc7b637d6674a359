// Package actionlog persists per-player block mutation logs used for
// post-match rollback. Each active match player owns one append-only CSV
// file keyed by UUID; the file is created at match start, appended on
// flush, and deleted once the player's rollback has fully drained.
package actionlog

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ernie/fortcore/internal/domain"
	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"
)

const (
	filePrefix = "rollback_"
	fileSuffix = ".csv"
)

var header = []string{"timestamp", "action", "x", "y", "z", "block_type"}

// Store owns the rollback log directory and the file lifecycle within it
type Store struct {
	dir        string
	archiveDir string // empty disables archiving of drained logs

	mu sync.Mutex // serializes file operations
}

// New creates a Store rooted at dir, creating directories as needed
func New(dir, archiveDir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating rollback dir: %w", err)
	}
	if archiveDir != "" {
		if err := os.MkdirAll(archiveDir, 0755); err != nil {
			return nil, fmt.Errorf("creating archive dir: %w", err)
		}
	}
	return &Store{dir: dir, archiveDir: archiveDir}, nil
}

func (s *Store) path(player uuid.UUID) string {
	return filepath.Join(s.dir, filePrefix+player.String()+fileSuffix)
}

// Create starts a fresh log file for a player, truncating any leftover
func (s *Store) Create(player uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Create(s.path(player))
	if err != nil {
		return fmt.Errorf("creating rollback log for %s: %w", player, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		return fmt.Errorf("writing rollback log header: %w", err)
	}
	w.Flush()
	return w.Error()
}

// Append writes actions to the player's log in the order given. The log is
// strictly append-only; chronological order on disk equals append order.
func (s *Store) Append(player uuid.UUID, actions []domain.Action) error {
	if len(actions) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.path(player), os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("opening rollback log for %s: %w", player, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	for _, a := range actions {
		ts := float64(a.Timestamp.UnixMilli()) / 1000.0
		record := []string{
			strconv.FormatFloat(ts, 'f', 3, 64),
			string(a.Kind),
			strconv.Itoa(a.Pos.X),
			strconv.Itoa(a.Pos.Y),
			strconv.Itoa(a.Pos.Z),
			a.BlockType,
		}
		if err := w.Write(record); err != nil {
			return fmt.Errorf("writing rollback record: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flushing rollback log for %s: %w", player, err)
	}
	return f.Sync()
}

// ReadReversed loads the player's full action history newest-first. Reversal
// happens here so the rollback engine can pop from the front of the slice.
func (s *Store) ReadReversed(player uuid.UUID) ([]domain.Action, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.path(player))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening rollback log for %s: %w", player, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = len(header)

	var actions []domain.Action
	first := true
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading rollback log for %s: %w", player, err)
		}
		if first {
			first = false
			continue // header row
		}
		a, err := parseRecord(record)
		if err != nil {
			return nil, fmt.Errorf("parsing rollback log for %s: %w", player, err)
		}
		actions = append(actions, a)
	}

	for i, j := 0, len(actions)-1; i < j; i, j = i+1, j-1 {
		actions[i], actions[j] = actions[j], actions[i]
	}
	return actions, nil
}

func parseRecord(record []string) (domain.Action, error) {
	ts, err := strconv.ParseFloat(record[0], 64)
	if err != nil {
		return domain.Action{}, fmt.Errorf("bad timestamp %q: %w", record[0], err)
	}
	x, err := strconv.Atoi(record[2])
	if err != nil {
		return domain.Action{}, fmt.Errorf("bad x %q: %w", record[2], err)
	}
	y, err := strconv.Atoi(record[3])
	if err != nil {
		return domain.Action{}, fmt.Errorf("bad y %q: %w", record[3], err)
	}
	z, err := strconv.Atoi(record[4])
	if err != nil {
		return domain.Action{}, fmt.Errorf("bad z %q: %w", record[4], err)
	}
	return domain.Action{
		Timestamp: time.UnixMilli(int64(math.Round(ts * 1000))),
		Kind:      domain.ActionKind(record[1]),
		Pos:       domain.Position{X: x, Y: y, Z: z},
		BlockType: record[5],
	}, nil
}

// Exists reports whether a log file exists for the player
func (s *Store) Exists(player uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := os.Stat(s.path(player))
	return err == nil
}

// Remove deletes the player's log, archiving it first when an archive dir is
// configured. Called only after the full reversed sequence has drained.
func (s *Store) Remove(player uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.path(player)
	if s.archiveDir != "" {
		if err := s.archive(player, path); err != nil {
			return fmt.Errorf("archiving rollback log for %s: %w", player, err)
		}
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("deleting rollback log for %s: %w", player, err)
	}
	return nil
}

// archive gzips the drained log into the archive dir before deletion
func (s *Store) archive(player uuid.UUID, path string) error {
	src, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer src.Close()

	name := fmt.Sprintf("%s%s_%d%s.gz", filePrefix, player, time.Now().Unix(), fileSuffix)
	dst, err := os.Create(filepath.Join(s.archiveDir, name))
	if err != nil {
		return err
	}
	defer dst.Close()

	gw := gzip.NewWriter(dst)
	if _, err := io.Copy(gw, src); err != nil {
		gw.Close()
		return err
	}
	return gw.Close()
}

// List returns the players that still have a log file on disk. Used at
// startup to resume rollbacks interrupted by a restart.
func (s *Store) List() ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("listing rollback dir: %w", err)
	}

	var players []uuid.UUID
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, fileSuffix) {
			continue
		}
		raw := strings.TrimSuffix(strings.TrimPrefix(name, filePrefix), fileSuffix)
		id, err := uuid.Parse(raw)
		if err != nil {
			continue
		}
		players = append(players, id)
	}
	return players, nil
}
