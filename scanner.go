package zipcore

import (
	"fmt"
)

// LastVolume is the sentinel disk number passed to VolumeReader.Open to
// mean "the highest-numbered volume".
const LastVolume = -1

const eocdSearchWindow = 128 * 1024

// Scanner is the directory scanner: it locates the EOCD
// (and its optional Zip64 extensions), walks the central directory
// possibly across volumes, and builds the entry table.
type Scanner struct {
	vr   VolumeReader
	cfg  *Config
	diag DiagnosticsFunc
}

// NewScanner builds a Scanner over vr using cfg (nil means DefaultConfig).
func NewScanner(vr VolumeReader, cfg *Config, diag DiagnosticsFunc) *Scanner {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Scanner{vr: vr, cfg: cfg, diag: diag}
}

// eocdInfo is the decoded EOCD plus whatever the Zip64 extensions
// overrode.
type eocdInfo struct {
	diskNumber    uint32
	cdStartDisk   uint32
	cdEntriesHere uint64
	cdEntries     uint64
	cdSize        uint64
	cdOffset      uint64
	comment       []byte

	zip64 bool

	// physical offset of the EOCD signature on its disk, and the disk
	// it was found on, used for the SFX-prefix adjustment.
	eocdDisk   int
	eocdOffset int64
	// physical offset of the Zip64 EOCD record, if any.
	zip64RecordDisk   int
	zip64RecordOffset int64
}

// ScanRegular locates the EOCD and walks the central directory, the
// normal read path for an intact archive.
func (s *Scanner) ScanRegular() (*Table, error) {
	// openDiskWithRetry loops on VolumeRetry and reports VolumeMissing for
	// both VolumeAbort and VolumeSkip: regular mode has no way to skip over
	// an unreadable disk and keep the central-directory walk consistent,
	// so Skip is converted to Abort here.
	lastHandle, err := openDiskWithRetry(s.vr, LastVolume)
	if err != nil {
		return nil, err
	}

	eocd, err := s.findEOCD(lastHandle, LastVolume)
	if err != nil {
		return nil, err
	}

	var sfxDelta int64
	singleVolume := eocd.diskNumber == 0 && eocd.cdStartDisk == 0
	if singleVolume && s.cfg.AdjustSFXPrefix {
		// Single-volume archives only: compute the SFX-prefix delta.
		actualStart := eocd.eocdOffset - int64(eocd.cdSize)
		if eocd.zip64 {
			actualStart = eocd.zip64RecordOffset - int64(eocd.cdSize)
		}
		sfxDelta = actualStart - int64(eocd.cdOffset)
	}

	table := &Table{}
	cur := newVolumeCursor(s.vr, s.diag)
	defer cur.close()
	// The nominal CD offset is measured from the first local header; with
	// an SFX stub in front, the physical position is delta bytes later.
	cdOffset := int64(eocd.cdOffset)
	if singleVolume {
		cdOffset += sfxDelta
	}
	if err := cur.seek(int(eocd.cdStartDisk), cdOffset); err != nil {
		return table, err
	}

	var count uint64
	for {
		sigBuf, err := cur.peek(4)
		if err != nil {
			return table, err
		}
		if leUint32(sigBuf) != centralHeaderSignature {
			break
		}
		e, err := s.readOneCentralEntry(cur, sfxDelta)
		if err != nil {
			return table, wrapErr(FormatError, "", err)
		}
		table.Add(e)
		count++
	}

	if count != eocd.cdEntries && (count%(1<<16)) != (eocd.cdEntries%(1<<16)) {
		return table, &Error{Kind: FormatError, cause: fmt.Errorf("central directory entry count mismatch: got %d, want %d", count, eocd.cdEntries)}
	}

	if err := s.reconcileUnicode(table, false); err != nil {
		return table, err
	}
	table.Reindex(nil)
	return table, nil
}

func (s *Scanner) readOneCentralEntry(cur *volumeCursor, sfxDelta int64) (*Entry, error) {
	fixedBuf, err := cur.read(centralHeaderLen)
	if err != nil {
		return nil, err
	}
	fixed, err := parseCentralFixed(fixedBuf)
	if err != nil {
		return nil, err
	}
	name, err := cur.read(int(fixed.nameLen))
	if err != nil {
		return nil, err
	}
	extra, err := cur.read(int(fixed.extraLen))
	if err != nil {
		return nil, err
	}
	comment, err := cur.read(int(fixed.commentLen))
	if err != nil {
		return nil, err
	}
	e := entryFromCentral(fixed, name, extra, comment)
	if err := e.AdjustZip64FromCentral(); err != nil {
		return nil, err
	}
	if sfxDelta != 0 && e.DiskStart == 0 {
		e.LocalOffset = uint64(int64(e.LocalOffset) + sfxDelta)
	}
	return e, nil
}

// reconcileUnicode runs the Unicode-Path reconciliation over every
// entry, applying s.cfg.UnicodePolicy. In salvage mode the error policy
// is demoted to a per-entry warning, like every other structural failure.
func (s *Scanner) reconcileUnicode(table *Table, salvage bool) error {
	if s.cfg.UnicodePolicy == UnicodeMismatchDisable {
		for _, e := range table.Entries {
			e.UTF8Name = nil
		}
		return nil
	}
	for _, e := range table.Entries {
		valid, present := e.CheckUnicodePath()
		if !present || valid {
			continue
		}
		name := e.DisplayName(s.cfg.codec())
		switch s.cfg.UnicodePolicy {
		case UnicodeMismatchWarn:
			s.diag.emit(UnicodeMismatch, name, fmt.Errorf("unicode path CRC mismatch"))
		case UnicodeMismatchSilent:
			// no diagnostic
		default: // UnicodeMismatchError
			if !salvage {
				return &Error{Kind: UnicodeMismatch, Entry: name, cause: fmt.Errorf("unicode path CRC mismatch")}
			}
			s.diag.emit(UnicodeMismatch, name, fmt.Errorf("unicode path CRC mismatch"))
		}
	}
	return nil
}

// findEOCD locates the EOCD on the given volume, along with the Zip64
// locator and record when present.
func (s *Scanner) findEOCD(h ReaderAtSize, disk int) (*eocdInfo, error) {
	size := h.Size()
	windowStart := size - eocdSearchWindow
	if windowStart < 0 {
		windowStart = 0
	}
	buf := make([]byte, size-windowStart)
	if _, err := h.ReadAt(buf, windowStart); err != nil {
		return nil, wrapErr(IOError, "", err)
	}

	pos := lastEOCDSignature(buf)
	if pos < 0 {
		return nil, &Error{Kind: FormatError, cause: fmt.Errorf("EOCD signature not found")}
	}
	eocdOffset := windowStart + int64(pos)
	fixed := buf[pos:]
	if len(fixed) < eocdLen {
		return nil, &Error{Kind: ShortData}
	}

	b := readBuf(fixed[4:eocdLen])
	info := &eocdInfo{
		eocdDisk:   disk,
		eocdOffset: eocdOffset,
	}
	info.diskNumber = uint32(b.uint16())
	info.cdStartDisk = uint32(b.uint16())
	info.cdEntriesHere = uint64(b.uint16())
	info.cdEntries = uint64(b.uint16())
	info.cdSize = uint64(b.uint32())
	info.cdOffset = uint64(b.uint32())
	commentLen := b.uint16()
	rest := fixed[eocdLen:]
	if len(rest) >= int(commentLen) {
		info.comment = append([]byte(nil), rest[:commentLen]...)
	}

	zip64Expected := info.cdEntriesHere == uint16max || info.cdEntries == uint16max ||
		info.cdSize == uint32max || info.cdOffset == uint32max

	// A Zip64 locator, when present, sits 20 bytes before the EOCD and is
	// tried unconditionally: a forced-Zip64 archive may carry one even
	// though no EOCD field overflowed. Absence is only worth a diagnostic
	// when the sentinels promised one.
	if locOffset := eocdOffset - zip64EOCDLocLen; locOffset >= 0 {
		var locBuf []byte
		if locOffset >= windowStart {
			locBuf = buf[locOffset-windowStart : eocdOffset-windowStart]
		} else {
			locBuf = make([]byte, zip64EOCDLocLen)
			if _, err := h.ReadAt(locBuf, locOffset); err != nil {
				locBuf = nil
			}
		}
		switch {
		case locBuf != nil && leUint32(locBuf[:4]) == zip64EOCDLocSignature:
			if err := s.readZip64Locator(locBuf, info); err != nil {
				return nil, err
			}
		case zip64Expected:
			s.diag.emit(FormatError, "", fmt.Errorf("EOCD carries Zip64 sentinels but no Zip64 locator precedes it"))
		}
	}

	return info, nil
}

func (s *Scanner) readZip64Locator(locBuf []byte, info *eocdInfo) error {
	b := readBuf(locBuf)
	if !b.needBytes(4) || b.uint32() != zip64EOCDLocSignature {
		return &Error{Kind: FormatError, cause: fmt.Errorf("expected Zip64 locator signature")}
	}
	recDisk := b.uint32()
	recOffset := b.uint64()
	_ = b.uint32() // total number of disks

	h, ok, err := s.vr.Open(int(recDisk))
	if err != nil {
		return wrapErr(IOError, "", err)
	}
	if !ok {
		return &Error{Kind: VolumeMissing}
	}
	recBuf := make([]byte, zip64EOCDLen)
	if _, err := h.ReadAt(recBuf, int64(recOffset)); err != nil {
		return wrapErr(FormatError, "", err)
	}
	rb := readBuf(recBuf)
	if rb.uint32() != zip64EOCDRecordSignature {
		return &Error{Kind: FormatError, cause: fmt.Errorf("expected Zip64 EOCD record signature")}
	}
	rb.uint64() // record size
	rb.uint16() // version made by
	rb.uint16() // version needed
	info.diskNumber = rb.uint32()
	info.cdStartDisk = rb.uint32()
	info.cdEntriesHere = rb.uint64()
	info.cdEntries = rb.uint64()
	info.cdSize = rb.uint64()
	info.cdOffset = rb.uint64()
	info.zip64 = true
	info.zip64RecordDisk = int(recDisk)
	info.zip64RecordOffset = int64(recOffset)
	return nil
}

// lastEOCDSignature returns the offset of the last occurrence of the EOCD
// signature in buf.
func lastEOCDSignature(buf []byte) int {
	last := -1
	for i := 0; i+4 <= len(buf); i++ {
		if buf[i] == 'P' && buf[i+1] == 'K' && buf[i+2] == 0x05 && buf[i+3] == 0x06 {
			last = i
		}
	}
	return last
}

// volumeCursor is a sequential reader over a VolumeReader's disks, used by
// the central directory walk.
// Handles are random access (ReaderAtSize), so peek is implemented as a
// read followed by a rewind rather than a separate buffered path.
type volumeCursor struct {
	vr   VolumeReader
	diag DiagnosticsFunc

	disk   int
	offset int64
	handle ReaderAtSize
}

func newVolumeCursor(vr VolumeReader, diag DiagnosticsFunc) *volumeCursor {
	return &volumeCursor{vr: vr, diag: diag}
}

func (c *volumeCursor) seek(disk int, offset int64) error {
	if c.handle == nil || c.disk != disk {
		h, err := c.open(disk)
		if err != nil {
			return err
		}
		c.handle = h
	}
	c.disk = disk
	c.offset = offset
	return nil
}

func (c *volumeCursor) open(disk int) (ReaderAtSize, error) {
	return openDiskWithRetry(c.vr, disk)
}

// read consumes and returns the next n bytes, opening subsequent volumes
// as the current one is exhausted.
func (c *volumeCursor) read(n int) ([]byte, error) {
	out := make([]byte, 0, n)
	for len(out) < n {
		if c.handle == nil {
			h, err := c.open(c.disk)
			if err != nil {
				return nil, err
			}
			c.handle = h
		}
		avail := c.handle.Size() - c.offset
		if avail <= 0 {
			c.disk++
			c.offset = 0
			c.handle = nil
			continue
		}
		want := int64(n - len(out))
		if want > avail {
			want = avail
		}
		buf := make([]byte, want)
		if _, err := c.handle.ReadAt(buf, c.offset); err != nil {
			return nil, wrapErr(IOError, "", err)
		}
		out = append(out, buf...)
		c.offset += want
	}
	return out, nil
}

// peek returns the next n bytes without consuming them.
func (c *volumeCursor) peek(n int) ([]byte, error) {
	disk, offset, handle := c.disk, c.offset, c.handle
	out, err := c.read(n)
	c.disk, c.offset, c.handle = disk, offset, handle
	return out, err
}

func (c *volumeCursor) close() {}

// --- salvage mode ---

// sigState walks the 3-state signature matcher of salvage mode: look
// for 0x50 ('P'), then 0x4B ('K'), then two bytes each < 16 (the two
// signature-kind bytes every PKZIP record signature shares).
type sigState int

const (
	sigLookFor50 sigState = iota
	sigLookFor4B
	sigConsumeKind
)

// ScanSalvage is the recovery path: every volume is scanned from byte 0
// for local and central header signatures regardless of what any
// directory says, since the directory itself may be damaged. A volume
// that cannot be opened goes to the MissingVolume callback: Retry
// re-probes, Skip marks the entries whose payload reaches into the
// skipped disk unreadable and moves on, Abort stops the scan. Only a
// probe past the reader's known final disk ends the scan without
// consulting the callback, so readers should implement FinalDisk (as
// FileVolumeSet does) or answer through the callback.
func (s *Scanner) ScanSalvage() (*Table, error) {
	table := &Table{}
	byName := map[string]*Entry{}
	volSizes := map[int]int64{}

scan:
	for disk := 0; ; disk++ {
		var h ReaderAtSize
		for {
			handle, ok, err := s.vr.Open(disk)
			if err != nil {
				return table, wrapErr(IOError, "", err)
			}
			if ok {
				h = handle
				break
			}
			if pastFinalDisk(s.vr, disk) {
				break scan
			}
			switch s.vr.MissingVolume(disk) {
			case VolumeRetry:
				// re-probe
			case VolumeSkip:
				s.markUnreadable(table, volSizes, disk)
				continue scan
			default:
				return table, &Error{Kind: VolumeMissing}
			}
		}
		volSizes[disk] = h.Size()
		if err := s.salvageVolume(h, disk, table, byName); err != nil {
			s.diag.emit(FormatError, "", err)
		}
	}

	_ = s.reconcileUnicode(table, true)
	table.Reindex(nil)
	return table, nil
}

// markUnreadable flags every harvested entry whose payload demonstrably
// reaches into the skipped disk. Payload runs contiguously across
// volumes, so an entry overrunning its own volume end spans every disk
// up to wherever its compressed bytes stop.
func (s *Scanner) markUnreadable(table *Table, volSizes map[int]int64, skipped int) {
	for _, e := range table.Entries {
		if e.Unreadable || !payloadReachesDisk(e, volSizes, skipped) {
			continue
		}
		e.Unreadable = true
		s.diag.emit(VolumeMissing, e.DisplayName(s.cfg.codec()), fmt.Errorf("payload continues on skipped volume %d", skipped))
	}
}

func payloadReachesDisk(e *Entry, volSizes map[int]int64, target int) bool {
	end := int64(e.LocalOffset) + localHeaderLen +
		int64(len(e.StoredName)) + int64(len(e.LocalExtras)) + int64(e.CompressedSize)
	for disk := int(e.DiskStart); disk < target; disk++ {
		size, ok := volSizes[disk]
		if !ok || end <= size {
			return false
		}
		end -= size
	}
	return end > 0
}

// salvageVolume runs the signature scanner over one volume, harvesting
// local headers as partial entries and merging in central-only fields
// (external attributes, comment) when a name match is found.
func (s *Scanner) salvageVolume(h ReaderAtSize, disk int, table *Table, byName map[string]*Entry) error {
	size := h.Size()
	const chunk = 256 * 1024
	buf := make([]byte, 0, chunk+4)
	var pos int64
	state := sigLookFor50
	var kindByte0 byte

	for pos < size {
		n := chunk
		if int64(n) > size-pos {
			n = int(size - pos)
		}
		window := make([]byte, n)
		if _, err := h.ReadAt(window, pos); err != nil {
			return wrapErr(IOError, "", err)
		}
		buf = buf[:0]
		buf = append(buf, window...)

		for i := 0; i < len(buf); i++ {
			c := buf[i]
			switch state {
			case sigLookFor50:
				if c == 'P' {
					state = sigLookFor4B
				}
			case sigLookFor4B:
				if c == 'K' {
					state = sigConsumeKind
				} else if c != 'P' {
					state = sigLookFor50
				}
			case sigConsumeKind:
				switch {
				case c < 16:
					kindByte0 = c
					// need one more kind byte; peek ahead across the
					// chunk boundary by just reading the absolute file
					// offset directly, since this is rare.
					next := make([]byte, 1)
					if _, err := h.ReadAt(next, pos+int64(i)+1); err == nil && next[0] < 16 {
						sigOffset := pos + int64(i) - 2
						s.trySalvageRecord(h, disk, sigOffset, kindByte0, next[0], table, byName)
					}
					state = sigLookFor50
				case c == 'P':
					// a failed kind byte may itself start a new signature
					state = sigLookFor4B
				default:
					state = sigLookFor50
				}
			}
		}
		pos += int64(n)
	}
	return nil
}

// trySalvageRecord attempts to parse a local or central header at
// sigOffset, having already matched "PK" + two kind bytes < 16.
func (s *Scanner) trySalvageRecord(h ReaderAtSize, disk int, sigOffset int64, k0, k1 byte, table *Table, byName map[string]*Entry) {
	switch {
	case k0 == 0x03 && k1 == 0x04:
		s.trySalvageLocal(h, disk, sigOffset, table, byName)
	case k0 == 0x01 && k1 == 0x02:
		s.trySalvageCentral(h, sigOffset, byName)
	case k0 == 0x03 && k1 == 0x03, k0 == 0x07 && k1 == 0x08:
		// span markers carry no entry data; recognized so they don't
		// trip the matcher, nothing to harvest
	}
}

func (s *Scanner) trySalvageLocal(h ReaderAtSize, disk int, sigOffset int64, table *Table, byName map[string]*Entry) {
	fixedBuf := make([]byte, localHeaderLen)
	if _, err := h.ReadAt(fixedBuf, sigOffset); err != nil {
		return
	}
	fixed, err := parseLocalFixed(fixedBuf)
	if err != nil {
		return
	}
	varBuf := make([]byte, int(fixed.nameLen)+int(fixed.extraLen))
	if _, err := h.ReadAt(varBuf, sigOffset+localHeaderLen); err != nil {
		return
	}
	name := varBuf[:fixed.nameLen]
	extra := varBuf[fixed.nameLen:]

	e := &Entry{
		VersionNeeded:    fixed.versionNeeded,
		FlagsLocal:       fixed.flags,
		FlagsCentral:     fixed.flags,
		Method:           fixed.method,
		DOSTime:          uint32(fixed.modDate)<<16 | uint32(fixed.modTime),
		CRC32:            fixed.crc32,
		CompressedSize:   uint64(fixed.compressedSize),
		UncompressedSize: uint64(fixed.uncompressedSize),
		LocalOffset:      uint64(sigOffset),
		DiskStart:        uint32(disk),
		StoredName:       append([]byte(nil), name...),
		LocalExtras:      append([]byte(nil), extra...),
		SizeKnown:        fixed.flags&flagDataDescriptor == 0,
	}
	if fixed.flags&flagUTF8 != 0 {
		e.UTF8Name = append([]byte(nil), name...)
	}
	table.Add(e)
	byName[string(name)] = e
}

func (s *Scanner) trySalvageCentral(h ReaderAtSize, sigOffset int64, byName map[string]*Entry) {
	fixedBuf := make([]byte, centralHeaderLen)
	if _, err := h.ReadAt(fixedBuf, sigOffset); err != nil {
		return
	}
	fixed, err := parseCentralFixed(fixedBuf)
	if err != nil {
		return
	}
	varBuf := make([]byte, int(fixed.nameLen)+int(fixed.extraLen)+int(fixed.commentLen))
	if _, err := h.ReadAt(varBuf, sigOffset+centralHeaderLen); err != nil {
		return
	}
	name := varBuf[:fixed.nameLen]
	comment := varBuf[int(fixed.nameLen)+int(fixed.extraLen):]

	e, ok := byName[string(name)]
	if !ok {
		return
	}
	// Central-only fields a local header never carries.
	e.VersionMadeBy = fixed.versionMadeBy
	e.InternalAttr = fixed.internalAttr
	e.ExternalAttr = fixed.externalAttr
	e.Comment = append([]byte(nil), comment...)
	e.CentralExtras = append([]byte(nil), varBuf[fixed.nameLen:int(fixed.nameLen)+int(fixed.extraLen)]...)
	if fixed.uncompressedSize != 0 || fixed.compressedSize != 0 {
		e.UncompressedSize = uint64(fixed.uncompressedSize)
		e.CompressedSize = uint64(fixed.compressedSize)
		e.SizeKnown = true
	}
	if err := e.AdjustZip64FromCentral(); err != nil {
		s.diag.emit(FormatError, string(name), err)
	}
}
