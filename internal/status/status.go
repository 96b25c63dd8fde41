// Package status is the controller's introspection surface: a snapshot of
// every mounted unit's activity, without a TUI or admin/token machinery.
package status

import (
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/djherbis/times"

	"cpmfif/internal/engine"
	"cpmfif/internal/fsops"
)

// UnitStatus is one unit's JSON-serializable snapshot.
type UnitStatus struct {
	Unit       int       `json:"unit"`
	Kind       string    `json:"kind"`
	Path       string    `json:"path,omitempty"`
	LastTrack  int       `json:"last_track"`
	SessionID  string    `json:"session_id"`
	MountedAt  time.Time `json:"mounted_at"`
	FreeBytes  uint64    `json:"free_bytes,omitempty"`
	TotalBytes uint64    `json:"total_bytes,omitempty"`
}

// Snapshot reports status for every currently mounted unit, ordered by
// unit number so repeated calls produce a stable diff.
func Snapshot(e *engine.Engine) []UnitStatus {
	nums := e.Units()
	sort.Ints(nums)

	out := make([]UnitStatus, 0, len(nums))
	for _, n := range nums {
		u, ok := e.Snapshot(n)
		if !ok {
			continue
		}
		s := UnitStatus{
			Unit:      u.Number,
			Kind:      u.Kind.String(),
			Path:      u.RootPath,
			LastTrack: u.LastTrack,
			SessionID: u.SessionID.String(),
			MountedAt: u.MountedAt,
		}
		if u.RootPath != "" {
			if total, free, err := fsops.DiskUsage(u.RootPath); err == nil {
				s.FreeBytes, s.TotalBytes = free, total
			}
		}
		out = append(out, s)
	}
	return out
}

// NativeFileEntry describes one file backing a directory-backed unit's
// user area, enriched with its native birth time where djherbis/times can
// read one from the OS (the modification time otherwise).
type NativeFileEntry struct {
	Name    string    `json:"name"`
	Size    int64     `json:"size"`
	Created time.Time `json:"created"`
}

// ListUserArea lists the native files backing one user area of a
// directory-backed unit's root, for the describe endpoint's file listing.
func ListUserArea(rootPath string, user int) ([]NativeFileEntry, error) {
	dir := filepath.Join(rootPath, strconv.Itoa(user))
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	out := make([]NativeFileEntry, 0, len(entries))
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		created := info.ModTime()
		if ts, err := times.Stat(filepath.Join(dir, e.Name())); err == nil && ts.HasBirthTime() {
			created = ts.BirthTime()
		}
		out = append(out, NativeFileEntry{Name: e.Name(), Size: info.Size(), Created: created})
	}
	return out, nil
}

