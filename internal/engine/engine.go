// Package engine owns the controller's per-unit state, the FIF descriptor
// table, and the single serialization point: every HTTP callback is
// dispatched through one worker goroutine so the descriptor state machine
// and backing operations see a strict FIFO command order regardless of how
// many HTTP requests arrive concurrently.
package engine

import (
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"cpmfif/internal/bridge"
	"cpmfif/internal/cpm"
	"cpmfif/internal/dirbacking"
	"cpmfif/internal/diskmap"
	"cpmfif/internal/fif"
	"cpmfif/internal/imageio"
)

// Kind is a mounted unit's storage backing.
type Kind int

const (
	// KindLocal means the host handles this unit itself; the controller
	// never services its commands.
	KindLocal Kind = iota
	KindImage
	KindDir
)

func (k Kind) String() string {
	switch k {
	case KindImage:
		return "IMG"
	case KindDir:
		return "DIR"
	default:
		return "LOCAL"
	}
}

// Unit is one mounted drive's live state.
type Unit struct {
	Number    int
	Kind      Kind
	RootPath  string
	DPB       cpm.DPB
	Image     *imageio.Image
	Drive     *dirbacking.Drive
	LastTrack int
	SessionID uuid.UUID
	MountedAt time.Time
}

// Engine dispatches every FIF descriptor byte and bulk descriptor through
// one worker, keeping the protocol cooperatively single-threaded. The HTTP
// server's accept loop (many goroutines) only ever calls
// HandleWrite/HandleBulk, which block until the worker has fully processed
// the request — per-request handling stays synchronous from callback entry
// to HTTP response.
type Engine struct {
	units       map[int]*Unit
	table       fif.Table
	client      *bridge.Client
	log         zerolog.Logger
	allowFormat bool

	jobs chan job
	quit chan struct{}
}

type job struct {
	fn   func()
	done chan struct{}
}

// New returns an Engine with no units mounted. allowFormat gates the
// flagged destructive FORMAT rewrite; it is off by default, matching the
// original always replying 0xA1 to FORMAT.
func New(client *bridge.Client, log zerolog.Logger, allowFormat bool) *Engine {
	return &Engine{
		units:       make(map[int]*Unit),
		client:      client,
		log:         log,
		allowFormat: allowFormat,
		jobs:        make(chan job),
		quit:        make(chan struct{}),
	}
}

// Run processes queued jobs until Stop is called. Callers run this in its
// own goroutine; it is the one worker every backing operation executes on.
func (e *Engine) Run() {
	for {
		select {
		case j := <-e.jobs:
			j.fn()
			close(j.done)
		case <-e.quit:
			return
		}
	}
}

// Stop ends Run's loop. Any job already submitted via submit has already
// completed by the time Stop is called by convention (callers stop after
// draining their own request handling).
func (e *Engine) Stop() {
	close(e.quit)
}

func (e *Engine) submit(fn func()) {
	done := make(chan struct{})
	e.jobs <- job{fn: fn, done: done}
	<-done
}

// Mount opens path as unit number, inferring IMG vs DIR from whether path
// is a regular file or a directory (matching process_diskmap's
// S_ISREG/S_ISDIR dispatch); dpb is the geometry to apply, since a single
// path doesn't self-describe floppy vs HDD shape.
func (e *Engine) Mount(number int, path string, dpb cpm.DPB) error {
	var outerErr error
	e.submit(func() {
		fi, err := os.Stat(path)
		if err != nil {
			outerErr = errors.Wrapf(err, "engine: stat %s", path)
			return
		}

		u := &Unit{Number: number, RootPath: path, DPB: dpb, SessionID: uuid.New(), MountedAt: nowFunc()}
		switch {
		case fi.Mode().IsRegular():
			img, err := imageio.Open(path, dpb)
			if err != nil {
				outerErr = err
				return
			}
			u.Kind = KindImage
			u.Image = img
		case fi.IsDir():
			drv, err := dirbacking.Open(path, dpb, e.log)
			if err != nil {
				outerErr = err
				return
			}
			u.Kind = KindDir
			u.Drive = drv
		default:
			outerErr = errors.Errorf("engine: %s is neither a regular file nor a directory", path)
			return
		}

		if old, ok := e.units[number]; ok {
			closeUnit(old)
		}
		e.units[number] = u
		e.log.Info().Int("unit", number).Str("kind", u.Kind.String()).Str("path", path).Msg("mounted")
	})
	return outerErr
}

// MountLocal marks unit as host-handled: the controller returns 0 (not
// handled) for any command addressed to it, matching the original leaving
// a diskmap-absent drive letter at type LOCAL.
func (e *Engine) MountLocal(number int) {
	e.submit(func() {
		if old, ok := e.units[number]; ok {
			closeUnit(old)
		}
		e.units[number] = &Unit{Number: number, Kind: KindLocal, SessionID: uuid.New(), MountedAt: nowFunc()}
	})
}

// Unmount drops unit back to an unmounted (absent) state without
// restarting the process, supplementing the original's `^U` keypress.
func (e *Engine) Unmount(number int) {
	e.submit(func() {
		if u, ok := e.units[number]; ok {
			closeUnit(u)
			delete(e.units, number)
		}
	})
}

func closeUnit(u *Unit) {
	if u.Drive != nil {
		u.Drive.Close()
	}
}

// Snapshot returns a shallow copy of a unit's state for read-only
// introspection (internal/status), taken inside the worker so it never
// races a concurrent mount/unmount/command.
func (e *Engine) Snapshot(number int) (Unit, bool) {
	var u Unit
	var ok bool
	e.submit(func() {
		if existing, found := e.units[number]; found {
			u, ok = *existing, true
		}
	})
	return u, ok
}

// Units returns every currently mounted unit number, for iteration by
// internal/status.
func (e *Engine) Units() []int {
	var nums []int
	e.submit(func() {
		for n := range e.units {
			nums = append(nums, n)
		}
	})
	return nums
}

// ReloadDiskmap remounts every drive letter's unit against dm, supplementing
// the original's `^R` hot-reload keypress: a letter with a backing path is
// (re)mounted against it, a letter absent from dm falls back to LOCAL.
// dpbFor resolves a backing path to the geometry to mount it with. Returns
// the first mount error encountered, after attempting every letter.
func (e *Engine) ReloadDiskmap(dm diskmap.Map, dpbFor func(path string) cpm.DPB) error {
	var firstErr error
	for _, letter := range diskmap.Letters {
		unit := diskmap.UnitOf[letter]
		backing, ok := dm[letter]
		if !ok {
			e.MountLocal(unit)
			continue
		}
		if err := e.Mount(unit, backing, dpbFor(backing)); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// CurrentDiskmap reconstructs the drive-letter map from currently mounted
// units, supplementing the original's `^P` hot-save keypress: Save(path,
// eng.CurrentDiskmap()) persists exactly what is live right now, not
// whatever diskmap.json said at the last load.
func (e *Engine) CurrentDiskmap() diskmap.Map {
	dm := diskmap.Map{}
	for _, letter := range diskmap.Letters {
		unit := diskmap.UnitOf[letter]
		u, ok := e.Snapshot(unit)
		if !ok || u.Kind == KindLocal {
			continue
		}
		dm[letter] = u.RootPath
	}
	return dm
}

// nowFunc exists so tests can stub the clock; production uses time.Now.
var nowFunc = time.Now
