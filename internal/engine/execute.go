package engine

import (
	"cpmfif/internal/cpm"
	"cpmfif/internal/fif"
	"cpmfif/internal/imageio"
)

// HandleWrite implements bridge.IOWriteHandler: one byte written on the FIF
// port, fed through the descriptor state machine, executing a command
// block if the byte triggered one.
func (e *Engine) HandleWrite(data byte) bool {
	var executed bool
	e.submit(func() {
		addr, exec := e.table.Feed(data)
		if exec {
			executed = e.executeAt(addr)
		}
	})
	return executed
}

// HandleBulk implements bridge.BulkHandler: the alternate 10-byte entry
// point programs one descriptor slot directly, then always executes it.
func (e *Engine) HandleBulk(mem [bridgeBulkSize]byte) {
	e.submit(func() {
		cur := int(mem[9] & 0x0F)
		e.table.Addrs[cur] = uint16(mem[7]) | uint16(mem[8])<<8
		e.executeAt(e.table.Addrs[cur])
	})
}

// bridgeBulkSize mirrors bridge.BulkSize (both are 10), so HandleBulk has
// the same signature as bridge.BulkHandler.
const bridgeBulkSize = 10

// executeAt runs one command block: DMA-fetch the 7-byte command block,
// decode it, dispatch to the unit's backing, and DMA-put the single result
// byte. Must run on the worker goroutine.
func (e *Engine) executeAt(addr uint16) bool {
	mem, err := e.client.DMARead(addr, fif.CommandBlockSize)
	if err != nil {
		e.log.Warn().Err(err).Uint16("addr", addr).Msg("command block DMA read failed")
		return false
	}
	cb, err := fif.DecodeCommandBlock(mem)
	if err != nil {
		e.log.Warn().Err(err).Msg("bad command block, resetting descriptor state")
		e.table.Reset()
		return false
	}

	u, ok := e.units[cb.Unit]
	if !ok {
		e.log.Debug().Int("unit", cb.Unit).Msg("command for unmounted unit")
		return false
	}
	if u.Kind == KindLocal {
		return false
	}

	u.LastTrack = cb.Track

	var result byte
	switch cb.Cmd {
	case fif.CmdWrite:
		result = e.doWrite(u, cb)
	case fif.CmdRead:
		result = e.doRead(u, cb)
	case fif.CmdFormat:
		result = e.doFormat(u)
	default:
		result = fif.ResultUnsupported
	}

	if err := e.client.DMAWrite(addr+1, []byte{result}); err != nil {
		e.log.Warn().Err(err).Msg("result byte DMA write failed")
	}
	return true
}

func (e *Engine) doWrite(u *Unit, cb fif.CommandBlock) byte {
	data, err := e.client.DMARead(cb.DMAAddr, cpm.SectorSize)
	if err != nil {
		e.log.Warn().Err(err).Int("unit", u.Number).Msg("sector payload DMA read failed")
		return fif.ResultUnsupported
	}
	if err := e.writeSector(u, cb.Track, cb.Sector, data); err != nil {
		e.log.Warn().Err(err).Int("unit", u.Number).Int("track", cb.Track).Int("sector", cb.Sector).Msg("write_sector failed")
	}
	return fif.ResultOK
}

func (e *Engine) doRead(u *Unit, cb fif.CommandBlock) byte {
	data, err := e.readSector(u, cb.Track, cb.Sector)
	if err != nil {
		e.log.Warn().Err(err).Int("unit", u.Number).Int("track", cb.Track).Int("sector", cb.Sector).Msg("read_sector failed")
		return fif.ResultUnsupported
	}
	if err := e.client.DMAWrite(cb.DMAAddr, data); err != nil {
		e.log.Warn().Err(err).Int("unit", u.Number).Msg("sector payload DMA write failed")
	}
	return fif.ResultOK
}

// doFormat only rewrites the unit when allowFormat was set at construction;
// otherwise it is accepted and ignored like the original, which always
// answers 0xA1.
func (e *Engine) doFormat(u *Unit) byte {
	if !e.allowFormat {
		return fif.ResultUnsupported
	}
	switch u.Kind {
	case KindImage:
		if err := imageio.Format(u.RootPath, u.DPB); err != nil {
			e.log.Warn().Err(err).Int("unit", u.Number).Msg("format failed")
			return fif.ResultUnsupported
		}
		img, err := imageio.Open(u.RootPath, u.DPB)
		if err != nil {
			e.log.Warn().Err(err).Int("unit", u.Number).Msg("reopen after format failed")
			return fif.ResultUnsupported
		}
		u.Image = img
		return fif.ResultOK
	default:
		// Directory-backed and local units have no flat image to rewrite.
		return fif.ResultUnsupported
	}
}

func (e *Engine) writeSector(u *Unit, track, sector int, data []byte) error {
	switch u.Kind {
	case KindImage:
		return u.Image.WriteSector(track, sector, data)
	case KindDir:
		return u.Drive.WriteSector(track, sector, data)
	default:
		return nil
	}
}

func (e *Engine) readSector(u *Unit, track, sector int) ([]byte, error) {
	switch u.Kind {
	case KindImage:
		return u.Image.ReadSector(track, sector)
	case KindDir:
		return u.Drive.ReadSector(track, sector)
	default:
		return nil, nil
	}
}
