// Package readerreg implements cross-process reader coordination (spec
// §4.9 / C10): one small file per live reader naming its pinned epoch, plus
// the database's *.lock writer-exclusivity file. GC consults the registry
// to avoid reclaiming a page a reader still has pinned; stale entries (dead
// pid or excessive age) are reclaimed opportunistically.
package readerreg

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	json "github.com/goccy/go-json"

	"github.com/gofrs/flock"
)

const readersDirName = "readers"

// Entry is one reader's registration.
type Entry struct {
	PID         int    `json:"pid"`
	PinnedEpoch uint64 `json:"pinnedEpoch"`
	Timestamp   int64  `json:"timestamp"`
}

// Registry manages the readers/ subdirectory of the pages directory.
type Registry struct {
	dir string // <pages dir>/readers
}

// Open returns a Registry rooted at pagesDir/readers, creating it if needed.
func Open(pagesDir string) (*Registry, error) {
	dir := filepath.Join(pagesDir, readersDirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("readerreg: creating %s: %w", dir, err)
	}
	return &Registry{dir: dir}, nil
}

// Dir returns the registry's backing directory, for GC's before/after
// entry-count comparison around a Live call.
func (r *Registry) Dir() string { return r.dir }

// Count returns the number of reader entry files currently on disk,
// without pruning anything (unlike Live).
func (r *Registry) Count() (int, error) {
	ents, err := os.ReadDir(r.dir)
	if err != nil {
		return 0, fmt.Errorf("readerreg: listing %s: %w", r.dir, err)
	}
	n := 0
	for _, de := range ents {
		if strings.HasSuffix(de.Name(), ".json") {
			n++
		}
	}
	return n, nil
}

func entryPath(dir string, pid int) string {
	return filepath.Join(dir, strconv.Itoa(pid)+".json")
}

// Register publishes this process's pinned epoch, overwriting any prior
// registration for the same pid.
func (r *Registry) Register(pid int, pinnedEpoch uint64, now time.Time) error {
	e := Entry{PID: pid, PinnedEpoch: pinnedEpoch, Timestamp: now.Unix()}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("readerreg: encoding entry: %w", err)
	}
	tmp := entryPath(r.dir, pid) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("readerreg: writing %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, entryPath(r.dir, pid)); err != nil {
		return fmt.Errorf("readerreg: renaming %s: %w", tmp, err)
	}
	return nil
}

// Unregister removes this process's registration on close.
func (r *Registry) Unregister(pid int) error {
	err := os.Remove(entryPath(r.dir, pid))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("readerreg: removing entry: %w", err)
	}
	return nil
}

// Live lists every currently-registered reader, pruning (and removing from
// disk) entries whose process is dead or whose age exceeds staleAfter.
func (r *Registry) Live(staleAfter time.Duration, now time.Time) ([]Entry, error) {
	ents, err := os.ReadDir(r.dir)
	if err != nil {
		return nil, fmt.Errorf("readerreg: listing %s: %w", r.dir, err)
	}
	var out []Entry
	for _, de := range ents {
		name := de.Name()
		if !strings.HasSuffix(name, ".json") {
			continue
		}
		full := filepath.Join(r.dir, name)
		data, err := os.ReadFile(full)
		if err != nil {
			continue
		}
		var e Entry
		if err := json.Unmarshal(data, &e); err != nil {
			_ = os.Remove(full)
			continue
		}
		if isStale(e, staleAfter, now) {
			_ = os.Remove(full)
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func isStale(e Entry, staleAfter time.Duration, now time.Time) bool {
	if staleAfter > 0 && now.Sub(time.Unix(e.Timestamp, 0)) > staleAfter {
		return true
	}
	return !processAlive(e.PID)
}

func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// On Unix, FindProcess always succeeds; signal 0 probes liveness
	// without actually sending a signal.
	err = proc.Signal(syscall.Signal(0))
	return err == nil
}

// MinPinnedEpoch returns the lowest pinnedEpoch among live readers, or
// (0, false) if there are none - GC and compaction must not reclaim any
// page still reachable from an epoch at or after this value.
func (r *Registry) MinPinnedEpoch(staleAfter time.Duration, now time.Time) (uint64, bool, error) {
	live, err := r.Live(staleAfter, now)
	if err != nil {
		return 0, false, err
	}
	if len(live) == 0 {
		return 0, false, nil
	}
	min := live[0].PinnedEpoch
	for _, e := range live[1:] {
		if e.PinnedEpoch < min {
			min = e.PinnedEpoch
		}
	}
	return min, true, nil
}

// WriterLock wraps the database's *.lock file exclusivity check.
type WriterLock struct {
	fl *flock.Flock
}

// LockPath returns the *.lock file path for a database at name.
func LockPath(name string) string {
	return name + ".synapsedb.lock"
}

// AcquireWriterLock attempts to take the exclusive writer lock, creating the
// lock file if needed. The enableLock:false open-time rule (spec §4.9) is
// enforced by Store.Open, which refuses to open while the lock file exists.
func AcquireWriterLock(name string) (*WriterLock, error) {
	fl := flock.New(LockPath(name))
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("readerreg: acquiring writer lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("readerreg: database %s is already open for writing", name)
	}
	return &WriterLock{fl: fl}, nil
}

// Release unlocks and removes the lock file.
func (w *WriterLock) Release() error {
	if err := w.fl.Unlock(); err != nil {
		return fmt.Errorf("readerreg: releasing writer lock: %w", err)
	}
	if err := os.Remove(w.fl.Path()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("readerreg: removing lock file: %w", err)
	}
	return nil
}
