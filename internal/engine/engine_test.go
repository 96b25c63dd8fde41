package engine

import (
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"cpmfif/internal/bridge"
	"cpmfif/internal/cpm"
	"cpmfif/internal/cpmlog"
	"cpmfif/internal/diskmap"
	"cpmfif/internal/fif"
	"cpmfif/internal/imageio"
)

// fakeHost stands in for the host emulator's /dma endpoint: a flat byte
// array addressable the same way bridge.Client's GET/PUT /dma calls are.
type fakeHost struct {
	mu  sync.Mutex
	mem [0x10000]byte
}

func (h *fakeHost) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	addr, err := strconv.ParseUint(q.Get("m"), 16, 16)
	if err != nil {
		http.Error(w, "bad addr", http.StatusBadRequest)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	switch r.Method {
	case http.MethodGet:
		n, err := strconv.ParseUint(q.Get("n"), 16, 16)
		if err != nil {
			http.Error(w, "bad length", http.StatusBadRequest)
			return
		}
		_, _ = w.Write(h.mem[addr : addr+n])
	case http.MethodPut:
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "bad body", http.StatusBadRequest)
			return
		}
		copy(h.mem[addr:], body)
		w.WriteHeader(http.StatusOK)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func newFakeHost(t *testing.T) (*fakeHost, *bridge.Client) {
	h := &fakeHost{}
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return h, bridge.New(srv.URL)
}

func newEngineForTest(t *testing.T) (*Engine, *fakeHost) {
	host, client := newFakeHost(t)
	eng := New(client, cpmlog.Default(), false)
	go eng.Run()
	t.Cleanup(eng.Stop)
	return eng, host
}

func mountFreshImage(t *testing.T, eng *Engine, unit int, dpb cpm.DPB) string {
	path := filepath.Join(t.TempDir(), "unit.dsk")
	require.NoError(t, imageio.Format(path, dpb))
	require.NoError(t, eng.Mount(unit, path, dpb))
	return path
}

func TestMountImageSnapshotUnmount(t *testing.T) {
	eng, _ := newEngineForTest(t)
	path := mountFreshImage(t, eng, 1, cpm.Floppy8)

	u, ok := eng.Snapshot(1)
	require.True(t, ok)
	require.Equal(t, KindImage, u.Kind)
	require.Equal(t, path, u.RootPath)
	require.NotEmpty(t, u.SessionID.String())

	eng.Unmount(1)
	_, ok = eng.Snapshot(1)
	require.False(t, ok)
}

func TestMountDirBacked(t *testing.T) {
	eng, _ := newEngineForTest(t)
	root := t.TempDir()
	require.NoError(t, eng.Mount(2, root, cpm.Floppy8))

	u, ok := eng.Snapshot(2)
	require.True(t, ok)
	require.Equal(t, KindDir, u.Kind)
}

func TestMountLocal(t *testing.T) {
	eng, _ := newEngineForTest(t)
	eng.MountLocal(3)

	u, ok := eng.Snapshot(3)
	require.True(t, ok)
	require.Equal(t, KindLocal, u.Kind)
}

func TestUnitsListsAllMounted(t *testing.T) {
	eng, _ := newEngineForTest(t)
	mountFreshImage(t, eng, 1, cpm.Floppy8)
	eng.MountLocal(2)

	nums := eng.Units()
	require.ElementsMatch(t, []int{1, 2}, nums)
}

func TestHandleWriteDispatchesReadCommand(t *testing.T) {
	eng, host := newEngineForTest(t)
	path := mountFreshImage(t, eng, 1, cpm.Floppy8)

	want := make([]byte, cpm.SectorSize)
	for i := range want {
		want[i] = byte(i)
	}
	img, err := imageio.Open(path, cpm.Floppy8)
	require.NoError(t, err)
	require.NoError(t, img.WriteSector(2, 1, want))

	const cbAddr = 0x0100
	const dmaAddr = 0x0200
	host.mu.Lock()
	cb := []byte{
		byte(1) | byte(fif.CmdRead)<<4,
		0,
		0,
		2, // track
		1, // sector
		byte(dmaAddr & 0xFF),
		byte(dmaAddr >> 8),
	}
	copy(host.mem[cbAddr:], cb)
	host.mu.Unlock()

	// Program descriptor 0 to cbAddr, then execute it.
	eng.HandleWrite(0x10) // load descriptor 0
	eng.HandleWrite(byte(cbAddr & 0xFF))
	eng.HandleWrite(byte(cbAddr >> 8))
	executed := eng.HandleWrite(0x00) // execute descriptor 0
	require.True(t, executed)

	host.mu.Lock()
	defer host.mu.Unlock()
	require.Equal(t, byte(fif.ResultOK), host.mem[cbAddr+1])
	gotData := make([]byte, cpm.SectorSize)
	copy(gotData, host.mem[dmaAddr:dmaAddr+cpm.SectorSize])
	require.Equal(t, want, gotData)
}

func TestHandleWriteIgnoresUnmountedUnit(t *testing.T) {
	eng, host := newEngineForTest(t)

	const cbAddr = 0x0300
	host.mu.Lock()
	cb := []byte{byte(9) | byte(fif.CmdRead)<<4, 0, 0, 0, 1, 0, 0}
	copy(host.mem[cbAddr:], cb)
	host.mu.Unlock()

	eng.HandleWrite(0x10)
	eng.HandleWrite(byte(cbAddr & 0xFF))
	eng.HandleWrite(byte(cbAddr >> 8))
	executed := eng.HandleWrite(0x00)

	require.False(t, executed)
}

func TestReloadDiskmapMountsAndFallsBackToLocal(t *testing.T) {
	eng, _ := newEngineForTest(t)
	imgPath := filepath.Join(t.TempDir(), "a.dsk")
	require.NoError(t, imageio.Format(imgPath, cpm.Floppy8))

	dm := diskmap.Map{"A": imgPath}
	require.NoError(t, eng.ReloadDiskmap(dm, func(string) cpm.DPB { return cpm.Floppy8 }))

	a, ok := eng.Snapshot(diskmap.UnitOf["A"])
	require.True(t, ok)
	require.Equal(t, KindImage, a.Kind)

	b, ok := eng.Snapshot(diskmap.UnitOf["B"])
	require.True(t, ok)
	require.Equal(t, KindLocal, b.Kind)
}

func TestCurrentDiskmapReflectsLiveMounts(t *testing.T) {
	eng, _ := newEngineForTest(t)
	imgPath := mountFreshImage(t, eng, diskmap.UnitOf["C"], cpm.Floppy8)
	eng.MountLocal(diskmap.UnitOf["A"])

	dm := eng.CurrentDiskmap()
	require.Equal(t, imgPath, dm["C"])
	_, hasA := dm["A"]
	require.False(t, hasA)
}

func TestHandleBulkProgramsAndExecutesDirectly(t *testing.T) {
	eng, host := newEngineForTest(t)
	path := mountFreshImage(t, eng, 4, cpm.Floppy8)

	data := make([]byte, cpm.SectorSize)
	for i := range data {
		data[i] = 0xAA
	}
	img, err := imageio.Open(path, cpm.Floppy8)
	require.NoError(t, err)
	require.NoError(t, img.WriteSector(3, 2, data))

	const cbAddr = 0x0400
	const dmaAddr = 0x0500
	host.mu.Lock()
	cb := []byte{
		byte(4) | byte(fif.CmdRead)<<4,
		0, 0,
		3, // track
		2, // sector
		byte(dmaAddr & 0xFF), byte(dmaAddr >> 8),
	}
	copy(host.mem[cbAddr:], cb)
	host.mu.Unlock()

	var mem [10]byte
	mem[7] = byte(cbAddr & 0xFF)
	mem[8] = byte(cbAddr >> 8)
	mem[9] = 0x00 // descriptor slot 0
	eng.HandleBulk(mem)

	host.mu.Lock()
	defer host.mu.Unlock()
	require.Equal(t, byte(fif.ResultOK), host.mem[cbAddr+1])
}
