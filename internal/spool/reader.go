package spool

import (
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// Reader consumes completed spool files from base/new, oldest-mtime
// first, acknowledging by unlink (spec §4.6 "Read protocol"). A Reader is
// single-instance per spool directory but independent of the Writer and
// may run in a different process (spec §5).
type Reader struct {
	newDir string

	mu      sync.Mutex
	unacked map[string]struct{}
}

// NewReader opens a reader over an existing spool directory.
func NewReader(baseDir string) *Reader {
	return &Reader{
		newDir:  filepath.Join(baseDir, "new"),
		unacked: make(map[string]struct{}),
	}
}

type fileStat struct {
	path    string
	modTime int64
}

func (r *Reader) candidates() ([]fileStat, error) {
	entries, err := os.ReadDir(r.newDir)
	if err != nil {
		return nil, err
	}
	out := make([]fileStat, 0, len(entries))
	for _, ent := range entries {
		if ent.IsDir() {
			continue
		}
		info, err := ent.Info()
		if err != nil {
			continue
		}
		out = append(out, fileStat{path: filepath.Join(r.newDir, ent.Name()), modTime: info.ModTime().UnixNano()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].modTime < out[j].modTime })
	return out, nil
}

// NextMessagePath returns the oldest unacked spool file, or "" if none.
func (r *Reader) NextMessagePath() (string, error) {
	paths, err := r.BatchMessagePaths(1)
	if err != nil || len(paths) == 0 {
		return "", err
	}
	return paths[0], nil
}

// BatchMessagePaths returns up to n unacked spool file paths, oldest
// first.
func (r *Reader) BatchMessagePaths(n int) ([]string, error) {
	all, err := r.candidates()
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var out []string
	for _, fs := range all {
		if _, acked := r.unacked[fs.path]; acked {
			continue
		}
		r.unacked[fs.path] = struct{}{}
		out = append(out, fs.path)
		if len(out) >= n {
			break
		}
	}
	return out, nil
}

// Ack removes the spool file (when unlink is true) and forgets it,
// freeing the writer's size budget on its next Refresh.
func (r *Reader) Ack(path string, unlink bool) error {
	var err error
	if unlink {
		err = os.Remove(path)
		if os.IsNotExist(err) {
			err = nil
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.unacked, path)
	return err
}
