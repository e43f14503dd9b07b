// Package store persists converted motion clips, one container file per
// record, and keeps the authoritative creation-time index.
package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/humanoid-lab/motion-bridge/internal/motion"
	mogencodec "github.com/humanoid-lab/motion-bridge/internal/transport/mogen/codec"
)

var (
	// ErrNotFound marks a lookup for an id the store does not hold.
	ErrNotFound = errors.New("motion record not found")

	// ErrUnavailable marks a failure of the backing medium. Fatal for the
	// current operation, not for the process.
	ErrUnavailable = errors.New("motion store unavailable")
)

const (
	idPrefix     = "gen_"
	idTimeLayout = "20060102_150405"
	fileExt      = ".npz"
)

var safeIDPattern = regexp.MustCompile(`^[A-Za-z0-9_\-]+$`)

// Record represents a record.
type Record struct {
	ID        string
	Clip      motion.DeployClip
	CreatedAt time.Time
}

// Info is an index entry: id plus creation time.
type Info struct {
	ID        string
	CreatedAt time.Time
}

// Store represents a store.
type Store struct {
	dir    string
	logger *zap.Logger

	mu    sync.Mutex
	index []Info // ascending by CreatedAt
}

// Open scans dir and rebuilds the creation-time index. Directory
// enumeration order carries no meaning; ids and file mtimes do.
func Open(dir string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("%w: store dir is empty", ErrUnavailable)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	s := &Store{dir: dir, logger: logger}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), fileExt) {
			continue
		}
		id := strings.TrimSuffix(entry.Name(), fileExt)
		if !safeIDPattern.MatchString(id) {
			continue
		}
		createdAt, ok := timeFromID(id)
		if !ok {
			info, err := entry.Info()
			if err != nil {
				continue
			}
			createdAt = info.ModTime()
		}
		s.index = append(s.index, Info{ID: id, CreatedAt: createdAt})
	}
	sort.Slice(s.index, func(i, j int) bool {
		if s.index[i].CreatedAt.Equal(s.index[j].CreatedAt) {
			return s.index[i].ID < s.index[j].ID
		}
		return s.index[i].CreatedAt.Before(s.index[j].CreatedAt)
	})

	logger.Info("motion store opened", zap.String("dir", dir), zap.Int("records", len(s.index)))
	return s, nil
}

// Save assigns a fresh id, writes the clip container, and indexes it.
func (s *Store) Save(clip motion.DeployClip) (Record, error) {
	now := time.Now()
	id := newID(now)

	payload, err := mogencodec.EncodeDeploy(clip)
	if err != nil {
		return Record{}, fmt.Errorf("%w: encode clip: %v", ErrUnavailable, err)
	}
	path := filepath.Join(s.dir, id+fileExt)
	if err := os.WriteFile(path, payload, 0o644); err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	s.mu.Lock()
	s.index = append(s.index, Info{ID: id, CreatedAt: now})
	s.mu.Unlock()

	s.logger.Info("motion record saved",
		zap.String("id", id),
		zap.Int("frames", clip.Frames),
		zap.Float64("duration_sec", clip.Duration()),
	)
	return Record{ID: id, Clip: clip, CreatedAt: now}, nil
}

// Get executes the get method.
func (s *Store) Get(id string) (Record, error) {
	info, ok := s.lookup(id)
	if !ok {
		return Record{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	payload, err := os.ReadFile(filepath.Join(s.dir, id+fileExt))
	if err != nil {
		if os.IsNotExist(err) {
			return Record{}, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return Record{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	clip, err := mogencodec.DecodeDeploy(payload)
	if err != nil {
		return Record{}, fmt.Errorf("%w: decode %s: %v", ErrUnavailable, id, err)
	}
	return Record{ID: id, Clip: clip, CreatedAt: info.CreatedAt}, nil
}

// Has executes the has method.
func (s *Store) Has(id string) bool {
	_, ok := s.lookup(id)
	return ok
}

// List returns index entries in ascending creation order.
func (s *Store) List() []Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Info, len(s.index))
	copy(out, s.index)
	return out
}

// Retain deletes the oldest records beyond maxCount, skipping any id in
// keep. Returns the number of records removed.
func (s *Store) Retain(maxCount int, keep ...string) (int, error) {
	if maxCount < 0 {
		maxCount = 0
	}
	protected := make(map[string]struct{}, len(keep))
	for _, id := range keep {
		if id != "" {
			protected[id] = struct{}{}
		}
	}

	s.mu.Lock()
	excess := len(s.index) - maxCount
	var victims []Info
	if excess > 0 {
		for _, info := range s.index {
			if len(victims) == excess {
				break
			}
			if _, ok := protected[info.ID]; ok {
				continue
			}
			victims = append(victims, info)
		}
	}
	s.mu.Unlock()

	removed := 0
	for _, victim := range victims {
		path := filepath.Join(s.dir, victim.ID+fileExt)
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			s.logger.Warn("motion record delete failed", zap.String("id", victim.ID), zap.Error(err))
			continue
		}
		s.drop(victim.ID)
		removed++
	}

	if removed > 0 {
		s.logger.Info("motion store retention", zap.Int("removed", removed), zap.Int("max_count", maxCount))
	}
	return removed, nil
}

func (s *Store) lookup(id string) (Info, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, info := range s.index {
		if info.ID == id {
			return info, true
		}
	}
	return Info{}, false
}

func (s *Store) drop(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, info := range s.index {
		if info.ID == id {
			s.index = append(s.index[:i], s.index[i+1:]...)
			return
		}
	}
}

// newID derives an id from the creation timestamp plus a random fragment so
// two clips saved within the same second never collide.
func newID(now time.Time) string {
	fragment := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return idPrefix + now.Format(idTimeLayout) + "_" + fragment
}

func timeFromID(id string) (time.Time, bool) {
	if !strings.HasPrefix(id, idPrefix) {
		return time.Time{}, false
	}
	rest := strings.TrimPrefix(id, idPrefix)
	if len(rest) < len(idTimeLayout) {
		return time.Time{}, false
	}
	ts, err := time.ParseInLocation(idTimeLayout, rest[:len(idTimeLayout)], time.Local)
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}
