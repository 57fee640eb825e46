package memolib

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"sync"

	"github.com/spf13/afero"

	"github.com/memobox/memobox/pkg/logger"
)

// Backend identifies the storage medium a StorageRoot ended up on.
type Backend int

const (
	// BackendPrimary is the removable card the device prefers.
	BackendPrimary Backend = iota
	// BackendFallback is the internal medium used when the primary
	// fails to initialize.
	BackendFallback
)

// String returns a human-readable backend name.
func (b Backend) String() string {
	if b == BackendPrimary {
		return "primary"
	}
	return "fallback"
}

// StorageConfig selects the media a StorageRoot mounts.
type StorageConfig struct {
	// PrimaryPath is the mount point of the primary medium.
	PrimaryPath string
	// FallbackPath is the mount point of the fallback medium. When empty,
	// a memory-backed filesystem is used and nothing survives a restart.
	FallbackPath string
}

// StagedWrite is the handle of an in-flight staged write. At most one
// exists per StorageRoot.
type StagedWrite struct {
	name   string // final filename declared at open time
	tmp    string // in-root path of the staged file
	f      afero.File
	closed bool
}

// StorageRoot is the durable file namespace of the device. It holds two
// logical namespaces, binary audio assets and structured records, on
// whichever medium mounted successfully. Staged writes make committed
// files all-or-nothing: a file is either fully visible under its final
// name or absent.
type StorageRoot struct {
	mu       sync.Mutex
	fs       afero.Fs
	backend  Backend
	basePath string // OS path of the active root; empty when memory-backed
	stage    *StagedWrite
	log      logger.Logger
}

// Mount initializes a StorageRoot on the primary medium, falling back
// permanently to the fallback medium if the primary cannot be probed.
// There is no retry: the selected backend holds for the process lifetime.
func Mount(cfg StorageConfig, log logger.Logger) *StorageRoot {
	if log == nil {
		log = logger.NewNopLogger()
	}
	s := &StorageRoot{log: log}
	if err := probeMedium(cfg.PrimaryPath); err == nil {
		s.fs = afero.NewBasePathFs(afero.NewOsFs(), cfg.PrimaryPath)
		s.backend = BackendPrimary
		s.basePath = cfg.PrimaryPath
		log.Info("storage: primary medium mounted at %s", cfg.PrimaryPath)
		return s
	} else {
		log.Warning("storage: primary medium unavailable: %v", err)
	}
	s.backend = BackendFallback
	if cfg.FallbackPath != "" {
		if err := probeMedium(cfg.FallbackPath); err == nil {
			s.fs = afero.NewBasePathFs(afero.NewOsFs(), cfg.FallbackPath)
			s.basePath = cfg.FallbackPath
			log.Info("storage: fallback medium mounted at %s", cfg.FallbackPath)
			return s
		} else {
			log.Warning("storage: fallback medium unavailable: %v", err)
		}
	}
	s.fs = afero.NewMemMapFs()
	log.Warning("storage: no medium available, running memory-backed")
	return s
}

// NewMemStorage returns a memory-backed StorageRoot with its layout in
// place. Intended for tests and degraded operation.
func NewMemStorage() *StorageRoot {
	s := &StorageRoot{
		fs:      afero.NewMemMapFs(),
		backend: BackendFallback,
		log:     logger.NewNopLogger(),
	}
	_ = s.EnsureLayout()
	return s
}

// probeMedium verifies a medium is present and writable by creating and
// removing a marker file under its mount point.
func probeMedium(mount string) error {
	if mount == "" {
		return fmt.Errorf("%w: no mount point configured", ErrMediumUnavailable)
	}
	if err := os.MkdirAll(mount, os.FileMode(DefaultDirMode)); err != nil {
		return fmt.Errorf("%w: mkdir %s: %v", ErrMediumUnavailable, mount, err)
	}
	marker := path.Join(mount, StagingPrefix+"probe")
	f, err := os.OpenFile(marker, os.O_RDWR|os.O_CREATE|os.O_TRUNC, os.FileMode(DefaultFileMode))
	if err != nil {
		return fmt.Errorf("%w: probe %s: %v", ErrMediumUnavailable, mount, err)
	}
	f.Close()
	return os.Remove(marker)
}

// Backend reports which medium the root is operating on.
func (s *StorageRoot) Backend() Backend {
	return s.backend
}

// EnsureLayout idempotently creates the asset and record namespaces.
func (s *StorageRoot) EnsureLayout() error {
	for _, dir := range []string{AudioDir, RecordDir} {
		if err := s.fs.MkdirAll(dir, os.FileMode(DefaultDirMode)); err != nil {
			return fmt.Errorf("ensure layout %s: %w", dir, err)
		}
	}
	return nil
}

// PurgeOrphans removes staging-prefixed files left behind by an
// ungraceful shutdown mid-transfer or mid-rewrite. Called at startup.
func (s *StorageRoot) PurgeOrphans() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, dir := range []string{AudioDir, RecordDir} {
		entries, err := afero.ReadDir(s.fs, dir)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if e.IsDir() || !strings.HasPrefix(e.Name(), StagingPrefix) {
				continue
			}
			orphan := path.Join(dir, e.Name())
			if err := s.fs.Remove(orphan); err != nil {
				return fmt.Errorf("purge %s: %w", orphan, err)
			}
			s.log.Info("storage: purged orphaned staged file %s", orphan)
		}
	}
	return nil
}

// ResolveAssetPath composes the in-root path of a named audio asset.
// Pure path composition, no I/O.
func (s *StorageRoot) ResolveAssetPath(name string) string {
	return path.Join(AudioDir, name)
}

// ResolveRecordPath composes the in-root path of a named structured
// record. Pure path composition, no I/O.
func (s *StorageRoot) ResolveRecordPath(name string) string {
	return path.Join(RecordDir, name)
}

// SaveAsset writes a complete binary asset in one step, overwriting any
// previous content. Used for small one-shot writes; transfers go through
// the staged-write protocol instead.
func (s *StorageRoot) SaveAsset(name string, data []byte) error {
	if strings.HasPrefix(name, StagingPrefix) {
		return fmt.Errorf("save asset %s: %w", name, ErrStagedName)
	}
	p := s.ResolveAssetPath(name)
	if err := afero.WriteFile(s.fs, p, data, os.FileMode(DefaultFileMode)); err != nil {
		return fmt.Errorf("save asset %s: %w", name, err)
	}
	return nil
}

// AssetExists reports whether a named asset is present.
func (s *StorageRoot) AssetExists(name string) bool {
	ok, err := afero.Exists(s.fs, s.ResolveAssetPath(name))
	return err == nil && ok
}

// OpenAsset opens a named asset for sequential reading.
func (s *StorageRoot) OpenAsset(name string) (afero.File, error) {
	return s.fs.Open(s.ResolveAssetPath(name))
}

// OpenPath opens an arbitrary in-root path for reading. Callers that
// already hold a resolved asset path use this instead of OpenAsset.
func (s *StorageRoot) OpenPath(p string) (io.ReadCloser, error) {
	return s.fs.Open(p)
}

// ListAssets returns the names of all completed assets.
func (s *StorageRoot) ListAssets() ([]string, error) {
	entries, err := afero.ReadDir(s.fs, AudioDir)
	if err != nil {
		return nil, fmt.Errorf("list assets: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), StagingPrefix) {
			continue
		}
		names = append(names, e.Name())
	}
	return names, nil
}

// targetDir places a declared filename in its namespace: records by
// suffix, everything else under the audio namespace.
func targetDir(name string) string {
	if strings.HasSuffix(name, RecordSuffix) {
		return RecordDir
	}
	return AudioDir
}

// BeginStagedWrite opens the staging slot for an incoming file declared
// under name. Fails with ErrStagingConflict while another staged write
// is in flight; callers must finalize or abandon first.
func (s *StorageRoot) BeginStagedWrite(name string) (*StagedWrite, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if strings.HasPrefix(name, StagingPrefix) {
		return nil, fmt.Errorf("stage %s: %w", name, ErrStagedName)
	}
	if s.stage != nil && !s.stage.closed {
		return nil, ErrStagingConflict
	}
	tmp := path.Join(targetDir(name), StagingPrefix+name)
	f, err := s.fs.OpenFile(tmp, os.O_RDWR|os.O_CREATE|os.O_TRUNC, os.FileMode(DefaultFileMode))
	if err != nil {
		return nil, fmt.Errorf("stage %s: %w", name, err)
	}
	s.stage = &StagedWrite{name: name, tmp: tmp, f: f}
	return s.stage, nil
}

// AppendStaged appends data to the open staged file.
func (s *StorageRoot) AppendStaged(h *StagedWrite, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if h == nil || h != s.stage || h.closed {
		return ErrNoActiveStage
	}
	if _, err := h.f.Write(data); err != nil {
		return fmt.Errorf("append staged %s: %w", h.name, err)
	}
	return nil
}

// AbandonStaged closes and removes an in-flight staged write, freeing the
// staging slot. Removing the staged file is best-effort; an unremovable
// file is picked up by PurgeOrphans at next startup.
func (s *StorageRoot) AbandonStaged(h *StagedWrite) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if h == nil || h != s.stage {
		return
	}
	if !h.closed {
		h.f.Close()
		h.closed = true
	}
	_ = s.fs.Remove(h.tmp)
	s.stage = nil
}

// FinalizeStaged commits the open staged write. It hashes the staged
// bytes with a full sequential read, then either rewrites a structured
// record through the atomic record path or renames the staged file to
// its final name. Returns the hex digest of the committed content for
// the caller to compare against the sender's declared hash.
func (s *StorageRoot) FinalizeStaged(h *StagedWrite, declaredName string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if h == nil || h != s.stage || h.closed {
		return "", ErrNoActiveStage
	}
	if strings.HasPrefix(declaredName, StagingPrefix) {
		return "", fmt.Errorf("finalize %s: %w", declaredName, ErrStagedName)
	}
	if err := h.f.Close(); err != nil {
		return "", fmt.Errorf("finalize %s: close: %w", declaredName, err)
	}
	h.closed = true

	digest, err := s.hashFile(h.tmp)
	if err != nil {
		return "", fmt.Errorf("finalize %s: %w", declaredName, err)
	}

	if strings.HasSuffix(declaredName, RecordSuffix) {
		// Structured record: parse, then rewrite atomically. The staged
		// file doubles as the rewrite slot, so the rename below is the
		// moment it both commits and disappears as a staged file.
		raw, err := afero.ReadFile(s.fs, h.tmp)
		if err != nil {
			return "", fmt.Errorf("finalize %s: read staged: %w", declaredName, err)
		}
		if err := validateRecord(declaredName, raw); err != nil {
			return "", fmt.Errorf("finalize %s: %w", declaredName, err)
		}
		final := path.Join(RecordDir, declaredName)
		if err := s.renameOver(h.tmp, final); err != nil {
			return "", fmt.Errorf("finalize %s: commit record: %w", declaredName, err)
		}
	} else {
		final := path.Join(AudioDir, declaredName)
		if err := s.renameOver(h.tmp, final); err != nil {
			return "", fmt.Errorf("finalize %s: rename: %w", declaredName, err)
		}
	}
	s.stage = nil
	return digest, nil
}

// validateRecord checks that incoming record bytes parse before they are
// allowed to commit. The schedule record is held to its schema; other
// records only need to be well-formed JSON.
func validateRecord(name string, raw []byte) error {
	if name == MemoRecordName {
		_, err := ParseMemoFile(raw)
		return err
	}
	if !json.Valid(raw) {
		return fmt.Errorf("record is not valid JSON")
	}
	return nil
}

// hashFile computes the SHA-256 hex digest of a file by sequential read.
func (s *StorageRoot) hashFile(p string) (string, error) {
	f, err := s.fs.Open(p)
	if err != nil {
		return "", fmt.Errorf("hash: %w", err)
	}
	defer f.Close()
	hash := sha256.New()
	if _, err := io.Copy(hash, f); err != nil {
		return "", fmt.Errorf("hash: %w", err)
	}
	return hex.EncodeToString(hash.Sum(nil)), nil
}

// WriteRecord atomically rewrites a structured record: the value is
// serialized to a staging-prefixed file in the record namespace and
// renamed over the final name, so readers never observe a torn record.
func (s *StorageRoot) WriteRecord(name string, v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("write record %s: marshal: %w", name, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeRecordBytes(name, raw)
}

// writeRecordBytes is the atomic record path. Callers hold s.mu.
func (s *StorageRoot) writeRecordBytes(name string, raw []byte) error {
	if strings.HasPrefix(name, StagingPrefix) {
		return fmt.Errorf("write record %s: %w", name, ErrStagedName)
	}
	tmp := path.Join(RecordDir, StagingPrefix+name)
	if err := afero.WriteFile(s.fs, tmp, raw, os.FileMode(DefaultFileMode)); err != nil {
		return fmt.Errorf("write record %s: stage: %w", name, err)
	}
	if err := s.renameOver(tmp, path.Join(RecordDir, name)); err != nil {
		_ = s.fs.Remove(tmp)
		return fmt.Errorf("write record %s: commit: %w", name, err)
	}
	return nil
}

// renameOver renames old to new, replacing new if present. On the OS
// medium the rename itself replaces atomically; the memory backend
// refuses to clobber, so the target is removed first there.
func (s *StorageRoot) renameOver(old, new string) error {
	if err := s.fs.Rename(old, new); err == nil {
		return nil
	}
	if err := s.fs.Remove(new); err != nil && !os.IsNotExist(err) {
		return err
	}
	return s.fs.Rename(old, new)
}

// ReadRecord deserializes a structured record into v.
func (s *StorageRoot) ReadRecord(name string, v interface{}) error {
	raw, err := afero.ReadFile(s.fs, s.ResolveRecordPath(name))
	if err != nil {
		return fmt.Errorf("read record %s: %w", name, err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("read record %s: parse: %w", name, err)
	}
	return nil
}

// ReadRecordOrDefault deserializes a structured record, absorbing every
// I/O or parse failure into the supplied default. A missing or corrupt
// schedule record degrades to "no memos" instead of crashing a reader.
func ReadRecordOrDefault[T any](s *StorageRoot, name string, def T) T {
	var v T
	if err := s.ReadRecord(name, &v); err != nil {
		return def
	}
	return v
}
