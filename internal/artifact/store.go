package artifact

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"ramad/internal/common/fsutil"
)

const (
	payloadName = "model.tar.gz"
	digestName  = "digest"
	portsName   = "ports"
)

// Version identifies one immutable uploaded artifact. Versions are never
// mutated; a newer upload supersedes an older one under a new id.
type Version struct {
	Model     string
	ID        string
	Digest    string
	Path      string
	CreatedAt time.Time
}

// Store persists uploaded model artifacts under one versioned directory
// per model name:
//
//	<root>/<model>/versions/<id>/model.tar.gz
//	<root>/<model>/versions/<id>/digest
//	<root>/<model>/slot-a -> versions/<id>   (staged per slot)
type Store struct {
	root string
}

// NewStore creates the artifact root if needed.
func NewStore(root string) (*Store, error) {
	expanded, err := fsutil.ExpandHome(root)
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(expanded)
	if err != nil {
		return nil, fmt.Errorf("abs path: %w", err)
	}
	if err := fsutil.EnsureDir(abs); err != nil {
		return nil, fmt.Errorf("create artifact root: %w", err)
	}
	return &Store{root: abs}, nil
}

// Save reads the payload, content-addresses it with SHA-256 and persists it
// as a new version. If a version with the same digest already exists, that
// version is returned with reused=true and nothing is written.
func (s *Store) Save(model string, r io.Reader) (Version, bool, error) {
	versionsDir := filepath.Join(s.root, model, "versions")
	if err := fsutil.EnsureDir(versionsDir); err != nil {
		return Version{}, false, fmt.Errorf("create versions dir: %w", err)
	}

	tmp, err := os.CreateTemp(versionsDir, ".upload-*")
	if err != nil {
		return Version{}, false, fmt.Errorf("temp file: %w", err)
	}
	tmpPath := tmp.Name()
	h := sha256.New()
	_, copyErr := io.Copy(tmp, io.TeeReader(r, h))
	closeErr := tmp.Close()
	if copyErr != nil || closeErr != nil {
		_ = os.Remove(tmpPath)
		if copyErr != nil {
			return Version{}, false, fmt.Errorf("write payload: %w", copyErr)
		}
		return Version{}, false, fmt.Errorf("write payload: %w", closeErr)
	}
	digest := hex.EncodeToString(h.Sum(nil))

	// Identical content short-circuits: no new version, no restart.
	if existing, ok := s.findDigest(model, digest); ok {
		_ = os.Remove(tmpPath)
		return existing, true, nil
	}

	id := time.Now().UTC().Format("20060102T150405") + "-" + uuid.NewString()[:8]
	dir := filepath.Join(versionsDir, id)
	if err := os.Mkdir(dir, 0o755); err != nil {
		_ = os.Remove(tmpPath)
		return Version{}, false, fmt.Errorf("create version dir: %w", err)
	}
	dst := filepath.Join(dir, payloadName)
	if err := os.Rename(tmpPath, dst); err != nil {
		_ = os.Remove(tmpPath)
		return Version{}, false, fmt.Errorf("place payload: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, digestName), []byte(digest+"\n"), 0o644); err != nil {
		return Version{}, false, fmt.Errorf("write digest: %w", err)
	}
	return Version{Model: model, ID: id, Digest: digest, Path: dst, CreatedAt: time.Now()}, false, nil
}

// Latest returns the newest version for a model, if any. Version ids sort
// lexically by creation time.
func (s *Store) Latest(model string) (Version, bool) {
	ids := s.versionIDs(model)
	if len(ids) == 0 {
		return Version{}, false
	}
	return s.load(model, ids[len(ids)-1])
}

// Get returns a specific version by id.
func (s *Store) Get(model, id string) (Version, bool) {
	return s.load(model, id)
}

// StageSlot points the slot's runtime directory at the given version via a
// symlink, so the supervised worker process for that slot picks it up on
// its next start. Returns the staged path.
func (s *Store) StageSlot(model, slot string, v Version) (string, error) {
	link := filepath.Join(s.root, model, "slot-"+slot)
	target := filepath.Dir(v.Path)
	tmp := link + ".next"
	_ = os.Remove(tmp)
	if err := os.Symlink(target, tmp); err != nil {
		return "", fmt.Errorf("stage slot %s: %w", slot, err)
	}
	if err := os.Rename(tmp, link); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("stage slot %s: %w", slot, err)
	}
	return link, nil
}

// SlotPortBase returns the worker port base persisted for a model by an
// earlier run, if any.
func (s *Store) SlotPortBase(model string) (int, bool) {
	b, err := os.ReadFile(filepath.Join(s.root, model, portsName))
	if err != nil {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSpace(string(b)))
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

// SaveSlotPortBase records the worker port base assigned to a model. The
// supervisor's program entries bind each group to fixed ports, so the
// assignment has to survive daemon restarts.
func (s *Store) SaveSlotPortBase(model string, port int) error {
	dir := filepath.Join(s.root, model)
	if err := fsutil.EnsureDir(dir); err != nil {
		return fmt.Errorf("create model dir: %w", err)
	}
	return os.WriteFile(filepath.Join(dir, portsName), []byte(strconv.Itoa(port)+"\n"), 0o644)
}

// SlotPortBases lists every persisted model port assignment.
func (s *Store) SlotPortBases() map[string]int {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil
	}
	out := make(map[string]int)
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if p, ok := s.SlotPortBase(e.Name()); ok {
			out[e.Name()] = p
		}
	}
	return out
}

// Models lists model names that have at least one stored version, sorted.
func (s *Store) Models() []string {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if len(s.versionIDs(e.Name())) > 0 {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names
}

func (s *Store) versionIDs(model string) []string {
	entries, err := os.ReadDir(filepath.Join(s.root, model, "versions"))
	if err != nil {
		return nil
	}
	var ids []string
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		ids = append(ids, e.Name())
	}
	sort.Strings(ids)
	return ids
}

func (s *Store) load(model, id string) (Version, bool) {
	dir := filepath.Join(s.root, model, "versions", id)
	payload := filepath.Join(dir, payloadName)
	if !fsutil.PathExists(payload) {
		return Version{}, false
	}
	digest := ""
	if b, err := os.ReadFile(filepath.Join(dir, digestName)); err == nil {
		digest = strings.TrimSpace(string(b))
	}
	created := time.Time{}
	if fi, err := os.Stat(payload); err == nil {
		created = fi.ModTime()
	}
	return Version{Model: model, ID: id, Digest: digest, Path: payload, CreatedAt: created}, true
}

func (s *Store) findDigest(model, digest string) (Version, bool) {
	for _, id := range s.versionIDs(model) {
		if v, ok := s.load(model, id); ok && v.Digest == digest {
			return v, true
		}
	}
	return Version{}, false
}
