// Copyright 2010 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package zipcore

import (
	"hash/crc32"
	"os"
	"time"
	"unicode/utf8"
)

// SelectionMark records what the writer should do with an entry.
type SelectionMark int

const (
	Unseen SelectionMark = iota
	Keep
	Replace
	Delete
	CopyEntry
)

// Entry is the in-memory representation of one archive member. It owns
// its names, extras and comment, and carries no reference to the archive
// it came from or will be written to.
type Entry struct {
	VersionMadeBy uint16
	VersionNeeded uint16
	FlagsCentral  uint16
	FlagsLocal    uint16
	Method        uint16
	DOSTime       uint32
	CRC32         uint32

	CompressedSize   uint64
	UncompressedSize uint64
	LocalOffset      uint64
	DiskStart        uint32

	InternalAttr  uint16
	ExternalAttr  uint32
	StoredName    []byte
	UTF8Name      []byte // nil if no UTF-8 name is known
	Comment       []byte
	LocalExtras   []byte
	CentralExtras []byte

	Selection SelectionMark

	// SizeKnown is false for streaming entries whose final size isn't
	// known until payload emission completes.
	SizeKnown bool

	// Unreadable is set by the salvage scan when a volume holding part
	// of the entry's payload was skipped; the payload cannot be copied.
	Unreadable bool

	placeholderReserved bool
}

// DisplayName derives the human-facing name: the UTF-8 name if known,
// otherwise StoredName decoded through codec. It is never itself
// serialized.
func (e *Entry) DisplayName(codec PathCodec) string {
	if e.UTF8Name != nil {
		return string(e.UTF8Name)
	}
	if codec == nil {
		codec = CP437
	}
	name, err := codec.Decode(e.StoredName)
	if err != nil {
		return string(e.StoredName)
	}
	return name
}

// IsDir reports whether the entry's stored name ends in a slash, the
// format's only directory marker.
func (e *Entry) IsDir() bool {
	return len(e.StoredName) > 0 && e.StoredName[len(e.StoredName)-1] == '/'
}

// requiresZip64 is the authoritative promotion check: any of the
// four candidate fields reaching its classic sentinel value (0xFFFFFFFF,
// or 0xFFFF for the disk number) or beyond forces a Zip64 extra in both
// local and central extras.
func (e *Entry) requiresZip64() bool {
	return e.UncompressedSize > uint32max-1 ||
		e.CompressedSize > uint32max-1 ||
		e.LocalOffset > uint32max-1 ||
		e.DiskStart > uint16max-1
}

// margin is the method-specific worst-case expansion a codec can add to
// uncompressed data. The exact figures are the codec
// collaborator's to document; these are the conservative constants the
// collaborator is expected to supply (store: none; everything else: one
// worst-case block of expansion).
func margin(method uint16) uint64 {
	switch method {
	case Store:
		return 0
	case Deflate:
		// one stored-block fallback per 65535 input bytes, plus 5 bytes
		// of per-block header overhead.
		return 5
	case BZip2, LZMA, PPMd:
		return 1024
	default:
		return 1024
	}
}

// zip64Threshold is the size above which an entry is promoted to Zip64
// before its payload is written: the 4 GiB format limit (halved when EOL
// translation may expand text) minus the method's worst-case expansion.
func zip64Threshold(method uint16, translateEOL bool) uint64 {
	base := uint64(4) << 30
	if translateEOL {
		base = uint64(2) << 30
	}
	m := margin(method)
	if m >= base {
		return 0
	}
	return base - m
}

// PrepareLocalHeader runs the Zip64 promotion policy at
// the moment the local header is about to be emitted. seekable indicates
// whether the output sink can later be rewritten; translateEOL and
// forceZip64 come from the writer Config. It returns whether the local
// header must make room for Zip64 and, if so, whether a Placeholder (as
// opposed to a final Zip64 record) should be reserved because the final
// sizes aren't certain yet. The size slots carry Zip64 sentinels only when
// a real Zip64 record is committed, not while a Placeholder stands in.
func (e *Entry) PrepareLocalHeader(cfg *Config, seekable bool) (useZip64, reservePlaceholder bool, err error) {
	streaming := !e.SizeKnown
	threshold := zip64Threshold(e.ActualMethod(), cfg.TranslateEOL)

	forced := false
	switch cfg.ForceZip64 {
	case ForceZip64Always:
		useZip64, forced = true, true
	case ForceZip64Never:
		if e.requiresZip64() || (!streaming && e.UncompressedSize >= threshold) {
			return false, false, &Error{Kind: EntryTooBig, Entry: e.DisplayName(nil)}
		}
		// A streamed entry is admitted on the hope that it stays small; the
		// writer re-checks after payload emission and fails the entry then
		// if it overflowed.
		return false, false, nil
	default: // ForceZip64Auto
		useZip64 = streaming || e.UncompressedSize >= threshold || e.requiresZip64()
		if !seekable && !useZip64 {
			// A non-seekable sink cannot rewrite a header once written, so
			// the threshold is bypassed: the entry must commit to Zip64 up
			// front.
			useZip64 = true
		}
	}

	if useZip64 {
		// A Placeholder (rather than a committed Zip64 record) is reserved
		// only when the final sizes may still change and the header can be
		// rewritten afterwards. Forced emission and non-seekable sinks both
		// commit the real record immediately.
		reservePlaceholder = seekable && !forced && !e.requiresZip64()
		e.VersionNeeded = maxUint16(e.VersionNeeded, zipVersion45)
	}
	return useZip64, reservePlaceholder, nil
}

func maxUint16(a, b uint16) uint16 {
	if a > b {
		return a
	}
	return b
}

// ReserveZip64Placeholder inserts the Placeholder extra field (tag
// 0x9999) in local extras, the same byte length as a Zip64 local record
// (20 bytes total).
func (e *Entry) ReserveZip64Placeholder() {
	payload := make([]byte, placeholderPayloadLen)
	e.LocalExtras = insertOrReplaceExtra(e.LocalExtras, tagPlaceholder, payload, positionFront)
	e.placeholderReserved = true
}

// zip64LocalPayload returns the local Zip64 extra field payload: just
// uncompressed_size and compressed_size, in that order.
func zip64LocalPayload(uncompressed, compressed uint64) []byte {
	var buf [16]byte
	b := writeBuf(buf[:])
	b.uint64(uncompressed)
	b.uint64(compressed)
	return buf[:]
}

// FinalizeLocalHeader is called after payload emission completes: if a
// Placeholder was reserved, it is replaced in place either by
// the real Zip64 record (if a size reached 2^32-1 or beyond) or by an
// identical-size Placeholder (if they did not — "other consumers must
// ignore it").
func (e *Entry) FinalizeLocalHeader() {
	if e.placeholderReserved {
		if e.requiresZip64() {
			payload := zip64LocalPayload(e.UncompressedSize, e.CompressedSize)
			e.LocalExtras = insertOrReplaceExtra(e.LocalExtras, tagPlaceholder, payload, positionFront)
			// Rename tag 0x9999 -> 0x0001 in place: same offset, same size.
			renameExtraTag(e.LocalExtras, tagPlaceholder, tagZip64)
		}
		e.placeholderReserved = false
		return
	}
	// A Zip64 record committed at header time (forced mode, or a
	// non-seekable sink) may have been written before the final sizes were
	// known; refresh its payload in place. Same payload length, so the
	// block layout is untouched.
	if _, ok := findExtra(e.LocalExtras, tagZip64); ok {
		payload := zip64LocalPayload(e.UncompressedSize, e.CompressedSize)
		e.LocalExtras = insertOrReplaceExtra(e.LocalExtras, tagZip64, payload, positionFront)
	}
}

// renameExtraTag rewrites the first occurrence of oldTag's 2-byte tag
// field to newTag, without touching size or payload. Used only for the
// Placeholder -> Zip64 in-place promotion, where both tags occupy an
// identical record shape.
func renameExtraTag(block []byte, oldTag, newTag uint16) {
	b := readBuf(block)
	for b.needBytes(4) {
		start := len(block) - len(b)
		t := b.uint16()
		size := int(b.uint16())
		if !b.needBytes(size) {
			return
		}
		b.bytes(size)
		if t == oldTag {
			wb := writeBuf(block[start : start+2])
			wb.uint16(newTag)
			return
		}
	}
}

// AdjustZip64FromCentral merges the Zip64 overrides on read: for each
// of the four Zip64 candidate fields whose primary slot holds the
// sentinel, consume the next value from the Zip64 extra's payload, in the
// fixed order {uncompressed, compressed, offset, diskStart}.
func (e *Entry) AdjustZip64FromCentral() error {
	rec, ok := findExtra(e.CentralExtras, tagZip64)
	if !ok {
		return nil
	}
	b := readBuf(rec.data)
	if e.UncompressedSize == uint32max {
		if !b.needBytes(8) {
			return &Error{Kind: ShortData, Entry: e.DisplayName(nil)}
		}
		e.UncompressedSize = b.uint64()
	}
	if e.CompressedSize == uint32max {
		if !b.needBytes(8) {
			return &Error{Kind: ShortData, Entry: e.DisplayName(nil)}
		}
		e.CompressedSize = b.uint64()
	}
	if e.LocalOffset == uint32max {
		if !b.needBytes(8) {
			return &Error{Kind: ShortData, Entry: e.DisplayName(nil)}
		}
		e.LocalOffset = b.uint64()
	}
	if e.DiskStart == uint16max {
		if !b.needBytes(4) {
			return &Error{Kind: ShortData, Entry: e.DisplayName(nil)}
		}
		e.DiskStart = b.uint32()
	}
	return nil
}

// ApplyZip64CentralExtra installs (or refreshes) the central Zip64 extra
// field and bumps version_needed, called by the writer right before
// central-directory serialization once final offsets are known. The
// payload holds exactly those of {uncompressed, compressed, offset,
// diskStart} whose primary slot will carry the sentinel, in that
// order. force emits the size fields even when nothing
// overflows, for a forced-Zip64 archive whose local headers already
// carry the record.
func (e *Entry) ApplyZip64CentralExtra(force bool) {
	if !force && !e.requiresZip64() {
		return
	}
	var g growBuf
	if force || e.UncompressedSize >= uint32max {
		g.writeUint64(e.UncompressedSize)
	}
	if force || e.CompressedSize >= uint32max {
		g.writeUint64(e.CompressedSize)
	}
	if e.LocalOffset >= uint32max {
		g.writeUint64(e.LocalOffset)
	}
	if uint32(e.DiskStart) >= uint16max {
		g.writeUint32(e.DiskStart)
	}
	e.CentralExtras = insertOrReplaceExtra(e.CentralExtras, tagZip64, g.Bytes(), positionFront)
	e.VersionNeeded = maxUint16(e.VersionNeeded, zipVersion45)
}

// SetUnicodePath installs a Unicode-Path extra field (tag 0x7075) on both
// local and central extras when storedName cannot itself carry name as
// UTF-8: version byte 1, CRC-32 of stored_name,
// then the UTF-8 bytes.
func (e *Entry) SetUnicodePath(name string) {
	e.UTF8Name = []byte(name)
	var g growBuf
	g.buf = append(g.buf, 1)
	crc := crc32.ChecksumIEEE(e.StoredName)
	var crcBuf [4]byte
	wb := writeBuf(crcBuf[:])
	wb.uint32(crc)
	g.writeBytes(crcBuf[:])
	g.writeString(name)
	e.LocalExtras = insertOrReplaceExtra(e.LocalExtras, tagUnicodePath, g.Bytes(), positionBack)
	e.CentralExtras = insertOrReplaceExtra(e.CentralExtras, tagUnicodePath, g.Bytes(), positionBack)
}

// CheckUnicodePath validates the Unicode-Path extra field: if
// Unicode-Path extra is present, its embedded CRC-32 must match
// crc32(stored_name); otherwise the name was renamed externally and the
// UTF-8 name is stale.
func (e *Entry) CheckUnicodePath() (valid bool, present bool) {
	rec, ok := findExtra(e.CentralExtras, tagUnicodePath)
	if !ok {
		rec, ok = findExtra(e.LocalExtras, tagUnicodePath)
	}
	if !ok {
		return true, false
	}
	if len(rec.data) < 5 || rec.data[0] != 1 {
		return false, true
	}
	wantCRC := crc32.ChecksumIEEE(e.StoredName)
	gotCRC := leUint32(rec.data[1:5])
	if wantCRC == gotCRC {
		e.UTF8Name = append([]byte(nil), rec.data[5:]...)
		return true, true
	}
	return false, true
}

// ---- AES-WG (WinZip AES encryption metadata, tag 0x9901) ----
// Method id 99 means AES-wrapped, with the real codec id living in this
// extra field instead of the method slot.

// AESStrength is the WinZip AES-WG key-size code.
type AESStrength byte

const (
	AES128 AESStrength = 1
	AES192 AESStrength = 2
	AES256 AESStrength = 3
)

// AESInfo is the decoded AES-WG extra field payload: version (1 = AE-1,
// 2 = AE-2), key strength, and the actual compression method the AES
// layer wraps (method 99 on the entry itself is just "AES-wrapped").
type AESInfo struct {
	Version      uint16
	Strength     AESStrength
	ActualMethod uint16
}

// SetAESInfo marks e AES-encrypted (flag bit 0) and installs the AES-WG
// extra field in both local and central extras: version(2), vendor id(2,
// "AE"), strength(1), actual method(2).
func (e *Entry) SetAESInfo(info AESInfo) {
	e.Method = AESWrap
	e.FlagsLocal |= flagEncrypted
	e.FlagsCentral |= flagEncrypted

	var buf [aesWGPayloadLen]byte
	b := writeBuf(buf[:])
	b.uint16(info.Version)
	b.uint16(aesVendorID)
	b.uint8(byte(info.Strength))
	b.uint16(info.ActualMethod)
	e.LocalExtras = insertOrReplaceExtra(e.LocalExtras, tagAESWG, buf[:], positionBack)
	e.CentralExtras = insertOrReplaceExtra(e.CentralExtras, tagAESWG, buf[:], positionBack)
}

// AESInfo reports the decoded AES-WG extra field, if present (central
// extras checked first, then local, the authoritative-source convention
// used throughout this file).
func (e *Entry) AESInfo() (AESInfo, bool) {
	rec, ok := findExtra(e.CentralExtras, tagAESWG)
	if !ok {
		rec, ok = findExtra(e.LocalExtras, tagAESWG)
	}
	if !ok || len(rec.data) < aesWGPayloadLen {
		return AESInfo{}, false
	}
	b := readBuf(rec.data)
	version := b.uint16()
	b.uint16() // vendor id ("AE"); not re-validated on read
	strength := AESStrength(b.uint8())
	actualMethod := b.uint16()
	return AESInfo{Version: version, Strength: strength, ActualMethod: actualMethod}, true
}

// ActualMethod returns the method the Zip64 margin/threshold math should
// key on: the AES-wrapped entry's real codec id when an AES-WG extra is
// present, otherwise e.Method itself.
func (e *Entry) ActualMethod() uint16 {
	if e.Method == AESWrap {
		if info, ok := e.AESInfo(); ok {
			return info.ActualMethod
		}
	}
	return e.Method
}

// IsAE2 reports whether e uses the AE-2 vendor version, which stores
// crc32 = 0 in both headers by design (integrity is checked via the AES
// authentication tag, not a stored CRC).
func (e *Entry) IsAE2() bool {
	info, ok := e.AESInfo()
	return ok && info.Version == 2
}

// leUint32 reads a little-endian uint32 without consuming a readBuf cursor,
// for the one-off reads inside extra-field payloads that don't warrant a
// whole cursor.
func leUint32(b []byte) uint32 {
	_ = b[3]
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

// ---- MS-DOS time, file mode, UTF-8 detection ----

func timeToMsDosTime(t time.Time) (fDate uint16, fTime uint16) {
	fDate = uint16(t.Day() + int(t.Month())<<5 + (t.Year()-1980)<<9)
	fTime = uint16(t.Second()/2 + t.Minute()<<5 + t.Hour()<<11)
	return
}

func msDosTimeToTime(date, dtime uint16) time.Time {
	return time.Date(
		int(date>>9)+1980,
		time.Month(date>>5&0xf),
		int(date&0x1f),

		int(dtime>>11),
		int(dtime>>5&0x3f),
		int(dtime&0x1f)*2,
		0,
		time.UTC,
	)
}

// ModTime decodes DOSTime, preferring the Extended-Timestamp extra field
// (tag 0x5455) when present.
func (e *Entry) ModTime() time.Time {
	if rec, ok := findExtra(e.CentralExtras, tagExtendedTime); ok {
		if t, ok := decodeExtendedTime(rec.data); ok {
			return t
		}
	}
	if rec, ok := findExtra(e.LocalExtras, tagExtendedTime); ok {
		if t, ok := decodeExtendedTime(rec.data); ok {
			return t
		}
	}
	if t, ok := e.legacyUnixModTime(); ok {
		return t
	}
	return msDosTimeToTime(uint16(e.DOSTime>>16), uint16(e.DOSTime))
}

// decodeExtendedTime reads only the modification time out of an
// Extended-Timestamp payload: flags byte then up to three little-endian
// uint32 seconds-since-epoch values (modification, access, creation, in
// that order), gated by the flags bits. The central header is documented to carry
// only modification time, but some archives carry all three; both shapes
// are accepted.
func decodeExtendedTime(data []byte) (time.Time, bool) {
	if len(data) < 5 {
		return time.Time{}, false
	}
	flags := data[0]
	if flags&0x1 == 0 {
		return time.Time{}, false
	}
	sec := int64(leUint32(data[1:5]))
	return time.Unix(sec, 0).UTC(), true
}

// legacyUnixModTime falls back to the legacy Info-ZIP Unix extra fields
// (0x7855, then 0x5855), consulted only when 0x5455 is absent: both
// tags carry atime(4)+mtime(4) as their leading
// payload when present at all (uid/gid/variable data, if any, follow and
// are of no interest here), so the same decoder serves both tags.
func (e *Entry) legacyUnixModTime() (time.Time, bool) {
	for _, block := range [][]byte{e.CentralExtras, e.LocalExtras} {
		for _, tag := range [...]uint16{tagInfoZipUnix2, tagInfoZipUnix1} {
			if rec, ok := findExtra(block, tag); ok {
				if t, ok := decodeLegacyUnixTime(rec.data); ok {
					return t, true
				}
			}
		}
	}
	return time.Time{}, false
}

// decodeLegacyUnixTime reads mtime out of a legacy Info-ZIP Unix extra
// field payload. The full local payload is atime(4)+mtime(4)+uid(2)+gid(2)
// (+ optional variable data); central headers commonly omit everything
// after the two timestamps, or carry only mtime. Both shapes are accepted.
func decodeLegacyUnixTime(data []byte) (time.Time, bool) {
	switch {
	case len(data) >= 8:
		return time.Unix(int64(leUint32(data[4:8])), 0).UTC(), true
	case len(data) >= 4:
		return time.Unix(int64(leUint32(data[0:4])), 0).UTC(), true
	default:
		return time.Time{}, false
	}
}

// SetModTime stamps DOSTime and appends an Extended-Timestamp extra
// (modification time only), the shape Info-ZIP tools understand.
func (e *Entry) SetModTime(t time.Time) {
	date, dtime := timeToMsDosTime(t)
	e.DOSTime = uint32(date)<<16 | uint32(dtime)

	var payload [5]byte
	payload[0] = 1 // flags: modtime present
	wb := writeBuf(payload[1:])
	wb.uint32(uint32(t.Unix()))
	e.LocalExtras = insertOrReplaceExtra(e.LocalExtras, tagExtendedTime, payload[:], positionBack)
	e.CentralExtras = insertOrReplaceExtra(e.CentralExtras, tagExtendedTime, payload[:], positionBack)
}

// DOS/Unix external attribute translation, the convention zip tools have
// agreed on since Info-ZIP.

func (e *Entry) Mode() (mode os.FileMode) {
	switch e.VersionMadeBy >> 8 {
	case creatorUnix, creatorMacOSX:
		mode = unixModeToFileMode(e.ExternalAttr >> 16)
	case creatorNTFS, creatorVFAT, creatorFAT:
		mode = msdosModeToFileMode(e.ExternalAttr)
	}
	if e.IsDir() {
		mode |= os.ModeDir
	}
	return mode
}

func (e *Entry) SetMode(mode os.FileMode) {
	e.VersionMadeBy = e.VersionMadeBy&0xff | creatorUnix<<8
	e.ExternalAttr = fileModeToUnixMode(mode) << 16
	if mode&os.ModeDir != 0 {
		e.ExternalAttr |= msdosDir
	}
	if mode&0200 == 0 {
		e.ExternalAttr |= msdosReadOnly
	}
}

func msdosModeToFileMode(m uint32) (mode os.FileMode) {
	if m&msdosDir != 0 {
		mode = os.ModeDir | 0777
	} else {
		mode = 0666
	}
	if m&msdosReadOnly != 0 {
		mode &^= 0222
	}
	return mode
}

func fileModeToUnixMode(mode os.FileMode) uint32 {
	var m uint32
	switch mode & os.ModeType {
	default:
		m = sIFREG
	case os.ModeDir:
		m = sIFDIR
	case os.ModeSymlink:
		m = sIFLNK
	case os.ModeNamedPipe:
		m = sIFIFO
	case os.ModeSocket:
		m = sIFSOCK
	case os.ModeDevice:
		if mode&os.ModeCharDevice != 0 {
			m = sIFCHR
		} else {
			m = sIFBLK
		}
	}
	if mode&os.ModeSetuid != 0 {
		m |= sISUID
	}
	if mode&os.ModeSetgid != 0 {
		m |= sISGID
	}
	if mode&os.ModeSticky != 0 {
		m |= sISVTX
	}
	return m | uint32(mode&0777)
}

func unixModeToFileMode(m uint32) os.FileMode {
	mode := os.FileMode(m & 0777)
	switch m & sIFMT {
	case sIFBLK:
		mode |= os.ModeDevice
	case sIFCHR:
		mode |= os.ModeDevice | os.ModeCharDevice
	case sIFDIR:
		mode |= os.ModeDir
	case sIFIFO:
		mode |= os.ModeNamedPipe
	case sIFLNK:
		mode |= os.ModeSymlink
	case sIFREG:
	case sIFSOCK:
		mode |= os.ModeSocket
	}
	if m&sISGID != 0 {
		mode |= os.ModeSetgid
	}
	if m&sISUID != 0 {
		mode |= os.ModeSetuid
	}
	if m&sISVTX != 0 {
		mode |= os.ModeSticky
	}
	return mode
}

// detectUTF8 reports whether s is a valid UTF-8 string, and whether it
// must be considered UTF-8 (i.e. incompatible with CP-437/ASCII).
func detectUTF8(s string) (valid, require bool) {
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		i += size
		if r < 0x20 || r > 0x7d || r == 0x5c {
			if !utf8.ValidRune(r) || (r == utf8.RuneError && size == 1) {
				return false, false
			}
			require = true
		}
	}
	return true, require
}
