// Copyright 2011 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package zipcore

import (
	"bytes"
	"hash/crc32"
	"io"
	"strings"
)

// volumeBudget is an optional capability a VolumeWriter may implement to
// report how many bytes remain in the current volume, so the Writer can
// decide when to roll over. A
// VolumeWriter that doesn't implement it is treated as unbounded, i.e.
// single-volume output.
type volumeBudget interface {
	RemainingBudget() int64 // -1 means unbounded
}

// Writer emits archives: local headers,
// payload, optional data descriptors, the central directory and the EOCD
// (with its Zip64 extensions), against a VolumeWriter it otherwise knows
// nothing about.
type Writer struct {
	vw   VolumeWriter
	cfg  *Config
	diag DiagnosticsFunc

	disk    int
	entries []*Entry

	anyZip64 bool
}

// NewWriter wraps vw, which must already have its first volume open
// (vw.OpenVolume(0)) before the first entry is begun.
func NewWriter(vw VolumeWriter, cfg *Config, diag DiagnosticsFunc) *Writer {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Writer{vw: vw, cfg: cfg, diag: diag}
}

func (w *Writer) budget() int64 {
	if b, ok := w.vw.(volumeBudget); ok {
		return b.RemainingBudget()
	}
	return -1
}

// rollIfNeeded advances to the next volume when fewer than need bytes
// remain in the current one. A local header is indivisible: it never
// straddles a volume boundary, unlike payload bytes.
func (w *Writer) rollIfNeeded(need int) error {
	remaining := w.budget()
	if remaining < 0 || remaining >= int64(need) {
		return nil
	}
	w.disk++
	return w.vw.OpenVolume(w.disk)
}

// EntryWriter streams one entry's already-compressed payload bytes,
// tracking CRC-32 and compressed size as it goes (the codec itself, and
// therefore the uncompressed byte count, is an external collaborator's
// responsibility).
type EntryWriter struct {
	w    *Writer
	e    *Entry
	crc  uint32
	size uint64

	// header location and the values it was emitted with, for the
	// seek-back rewrite after payload emission.
	headerDisk         int
	headerOffset       int64
	headerCRC          uint32
	headerCompressed   uint64
	headerUncompressed uint64
	streamed           bool

	done bool
}

// BeginEntry writes e's local header (reserving a Zip64 placeholder if
// the promotion policy calls for one) and returns an EntryWriter for the
// payload bytes. e.UncompressedSize, e.Method and e.StoredName/extras
// must already be set by the caller; e.SizeKnown decides whether a data
// descriptor follows the payload. The entry joins the central directory
// only once its EntryWriter is Closed successfully.
func (w *Writer) BeginEntry(e *Entry) (*EntryWriter, error) {
	applyNamingPolicy(e, w.cfg)
	seekable := w.vw.Seekable()
	if e.VersionNeeded == 0 {
		e.VersionNeeded = zipVersion20
	}

	useZip64, reservePlaceholder, err := e.PrepareLocalHeader(w.cfg, seekable)
	if err != nil {
		return nil, err
	}
	zip64Record := useZip64 && !reservePlaceholder
	switch {
	case reservePlaceholder:
		e.ReserveZip64Placeholder()
	case useZip64:
		e.LocalExtras = insertOrReplaceExtra(e.LocalExtras, tagZip64, zip64LocalPayload(e.UncompressedSize, e.CompressedSize), positionFront)
	default:
		// A stale Zip64 record carried over from a scanned source would
		// contradict the non-sentinel size slots about to be written.
		if _, ok := findExtra(e.LocalExtras, tagZip64); ok {
			e.LocalExtras = removeExtra(e.LocalExtras, tagZip64)
		}
	}
	if !e.SizeKnown {
		e.FlagsLocal |= flagDataDescriptor
	}
	if w.cfg.IncludeStreamInfo {
		e.LocalExtras = insertOrReplaceExtra(e.LocalExtras, tagStreamInfo, streamInfoPayload(e), positionBack)
	}

	headerLen := localHeaderLen + len(e.StoredName) + len(e.LocalExtras)
	if err := w.rollIfNeeded(headerLen); err != nil {
		return nil, wrapErr(IOError, e.DisplayName(nil), err)
	}

	e.LocalOffset = uint64(w.vw.PositionInCurrentVolume())
	e.DiskStart = uint32(w.disk)

	buf := make([]byte, localHeaderLen)
	var compressedSize, uncompressedSize uint32
	switch {
	case zip64Record:
		compressedSize, uncompressedSize = uint32max, uint32max
	case e.SizeKnown:
		compressedSize = uint32(e.CompressedSize)
		uncompressedSize = uint32(e.UncompressedSize)
	}
	// Streaming with a reserved placeholder leaves the slots zero; the
	// seek-back rewrite after payload emission fills them in.
	writeLocalFixed(buf, e, compressedSize, uncompressedSize)
	if err := w.writeAll(buf); err != nil {
		return nil, err
	}
	if err := w.writeAll(e.StoredName); err != nil {
		return nil, err
	}
	if err := w.writeAll(e.LocalExtras); err != nil {
		return nil, err
	}

	return &EntryWriter{
		w:                  w,
		e:                  e,
		headerDisk:         int(e.DiskStart),
		headerOffset:       int64(e.LocalOffset),
		headerCRC:          e.CRC32,
		headerCompressed:   e.CompressedSize,
		headerUncompressed: e.UncompressedSize,
		streamed:           !e.SizeKnown,
	}, nil
}

// applyNamingPolicy applies the PathPrefix/CaseFold knobs at
// the moment an entry's local header is emitted: PathPrefixAll applies to
// every entry that flows back through the writer, PathPrefixNewOnly and
// CaseFold apply only to entries that aren't carried over from an
// existing archive (Keep and CopyEntry both mark a surviving entry,
// whether or not its bytes are re-emitted verbatim).
func applyNamingPolicy(e *Entry, cfg *Config) {
	isNew := e.Selection != CopyEntry && e.Selection != Keep

	if len(cfg.PathPrefix) > 0 && (cfg.PathPrefixMode == PathPrefixAll || isNew) {
		if !bytes.HasPrefix(e.StoredName, cfg.PathPrefix) {
			e.StoredName = append(append([]byte(nil), cfg.PathPrefix...), e.StoredName...)
		}
	}

	if isNew && cfg.CaseFold != CaseFoldNone {
		codec := cfg.codec()
		name, err := codec.Decode(e.StoredName)
		if err != nil {
			return
		}
		switch cfg.CaseFold {
		case CaseFoldUpper:
			name = strings.ToUpper(name)
		case CaseFoldLower:
			name = strings.ToLower(name)
		}
		if encoded, ok := codec.Encode(name); ok {
			e.StoredName = encoded
		}
	}
}

func (w *Writer) writeAll(p []byte) error {
	if len(p) == 0 {
		return nil
	}
	if _, err := w.vw.Append(p); err != nil {
		return wrapErr(IOError, "", err)
	}
	return nil
}

// Write streams already-compressed payload bytes, rolling to a new
// volume mid-payload when the budget runs out (payload, unlike the
// header, is freely splittable).
func (ew *EntryWriter) Write(p []byte) (int, error) {
	ew.crc = crc32.Update(ew.crc, crc32.IEEETable, p)
	ew.size += uint64(len(p))

	total := 0
	for len(p) > 0 {
		remaining := ew.w.budget()
		chunk := p
		if remaining >= 0 && remaining < int64(len(p)) {
			if remaining == 0 {
				ew.w.disk++
				if err := ew.w.vw.OpenVolume(ew.w.disk); err != nil {
					return total, wrapErr(IOError, ew.e.DisplayName(nil), err)
				}
				continue
			}
			chunk = p[:remaining]
		}
		n, err := ew.w.vw.Append(chunk)
		total += n
		if err != nil {
			return total, wrapErr(IOError, ew.e.DisplayName(nil), err)
		}
		p = p[n:]
	}
	return total, nil
}

// Close finalizes e's sizes/CRC, promotes or drops the Zip64 placeholder,
// writes the data descriptor if flag bit 3 is set, and rewrites the local
// header in place when the one emitted by BeginEntry carried provisional
// values and the sink is seekable. Only on success does e join the
// central directory.
func (ew *EntryWriter) Close(uncompressedSize uint64) error {
	if ew.done {
		return nil
	}
	e := ew.e
	e.CompressedSize = ew.size
	e.UncompressedSize = uncompressedSize
	// The CRC tracked here covers the bytes as written, which are the
	// uncompressed bytes only for a stored, unencrypted entry; for
	// everything else the codec collaborator owns e.CRC32 and it is left
	// alone (the copier relies on this to preserve the central CRC).
	if e.ActualMethod() == Store && e.FlagsLocal&flagEncrypted == 0 {
		e.CRC32 = ew.crc
	}
	e.FinalizeLocalHeader()

	if ew.w.cfg.ForceZip64 == ForceZip64Never && e.requiresZip64() {
		return &Error{Kind: EntryTooBig, Entry: e.DisplayName(nil)}
	}

	if e.FlagsLocal&flagDataDescriptor != 0 {
		if err := ew.w.writeAll(makeDataDescriptor(e)); err != nil {
			return err
		}
	}

	changed := ew.streamed ||
		e.CRC32 != ew.headerCRC ||
		e.CompressedSize != ew.headerCompressed ||
		e.UncompressedSize != ew.headerUncompressed
	if changed && ew.w.vw.Seekable() {
		if err := ew.w.rewriteLocalHeader(e, ew.headerDisk, ew.headerOffset); err != nil {
			return err
		}
	}

	ew.done = true
	if _, ok := findExtra(e.LocalExtras, tagZip64); ok {
		ew.w.anyZip64 = true
	}
	ew.w.entries = append(ew.w.entries, e)
	return nil
}

// Abort abandons the entry: it is not added to the central directory and,
// on a seekable sink, the output cursor is moved back to the entry's
// start offset so the caller can retry or skip.
func (ew *EntryWriter) Abort() {
	if ew.done {
		return
	}
	ew.done = true
	if ew.w.vw.Seekable() {
		if err := ew.w.vw.SeekTo(ew.headerDisk, ew.headerOffset); err == nil {
			ew.w.disk = ew.headerDisk
		}
	}
}

// rewriteLocalHeader re-emits the fixed portion, name and extras of a
// local header whose provisional values have since been finalized, then
// restores the output cursor. Never called on a non-seekable sink.
func (w *Writer) rewriteLocalHeader(e *Entry, disk int, offset int64) error {
	endDisk, endOffset := w.disk, w.vw.PositionInCurrentVolume()
	if err := w.vw.SeekTo(disk, offset); err != nil {
		return wrapErr(IOError, e.DisplayName(nil), err)
	}

	var compressedSize, uncompressedSize uint32
	if _, ok := findExtra(e.LocalExtras, tagZip64); ok {
		compressedSize, uncompressedSize = uint32max, uint32max
	} else {
		compressedSize = uint32(e.CompressedSize)
		uncompressedSize = uint32(e.UncompressedSize)
	}
	buf := make([]byte, localHeaderLen)
	writeLocalFixed(buf, e, compressedSize, uncompressedSize)
	if err := w.writeAll(buf); err != nil {
		return err
	}
	if err := w.writeAll(e.StoredName); err != nil {
		return err
	}
	if err := w.writeAll(e.LocalExtras); err != nil {
		return err
	}

	if err := w.vw.SeekTo(endDisk, endOffset); err != nil {
		return wrapErr(IOError, e.DisplayName(nil), err)
	}
	return nil
}

// streamInfoPayload builds the Stream-info (0x6C78) local extra field
// payload for streaming consumers that can't wait for the central
// directory: version_made_by(2), external_attr(4), then comment_len(2) and
// the comment bytes if any.
func streamInfoPayload(e *Entry) []byte {
	var g growBuf
	g.writeUint16(e.VersionMadeBy)
	g.writeUint32(e.ExternalAttr)
	g.writeUint16(uint16(len(e.Comment)))
	g.writeBytes(e.Comment)
	return g.Bytes()
}

// makeDataDescriptor builds the optional trailer written after a
// streamed entry's payload: 8-byte size fields iff the
// entry's local extras carry a real Zip64 record, 4-byte fields
// otherwise (a Placeholder does not count).
func makeDataDescriptor(e *Entry) []byte {
	_, zip64 := findExtra(e.LocalExtras, tagZip64)
	var buf []byte
	if zip64 {
		buf = make([]byte, dataDescriptor64Len)
	} else {
		buf = make([]byte, dataDescriptorLen)
	}
	b := writeBuf(buf)
	b.uint32(dataDescriptorSignature)
	b.uint32(e.CRC32)
	if zip64 {
		b.uint64(e.CompressedSize)
		b.uint64(e.UncompressedSize)
	} else {
		b.uint32(uint32(e.CompressedSize))
		b.uint32(uint32(e.UncompressedSize))
	}
	return buf
}

// WriteCentralDirectoryAndEOCD finalizes the archive: the central
// directory, in entry order, followed by the Zip64 EOCD record and
// locator (if any entry needed Zip64, the count overflows uint16, or the
// directory itself overflows uint32), followed by the EOCD.
func (w *Writer) WriteCentralDirectoryAndEOCD(comment []byte) error {
	if w.cfg.CentralDirOnNewVolume && w.vw.PositionInCurrentVolume() > 0 {
		w.disk++
		if err := w.vw.OpenVolume(w.disk); err != nil {
			return wrapErr(IOError, "", err)
		}
	}
	cdStartDisk := w.disk
	cdStart := uint64(w.vw.PositionInCurrentVolume())

	forceZip64 := w.cfg.ForceZip64 == ForceZip64Always
	var cdSize uint64
	for _, e := range w.entries {
		e.ApplyZip64CentralExtra(forceZip64)

		headerLen := centralHeaderLen + len(e.StoredName) + len(e.CentralExtras) + len(e.Comment)
		if err := w.rollIfNeeded(headerLen); err != nil {
			return wrapErr(IOError, e.DisplayName(nil), err)
		}

		buf := make([]byte, centralHeaderLen)
		var compressedSize, uncompressedSize uint32
		var localOffset uint32
		if forceZip64 || e.CompressedSize >= uint32max {
			compressedSize = uint32max
		} else {
			compressedSize = uint32(e.CompressedSize)
		}
		if forceZip64 || e.UncompressedSize >= uint32max {
			uncompressedSize = uint32max
		} else {
			uncompressedSize = uint32(e.UncompressedSize)
		}
		if e.LocalOffset >= uint32max {
			localOffset = uint32max
		} else {
			localOffset = uint32(e.LocalOffset)
		}
		diskStart := uint16(e.DiskStart)
		if e.DiskStart >= uint16max {
			diskStart = uint16max
		}
		writeCentralFixed(buf, e, compressedSize, uncompressedSize, localOffset, diskStart)
		if err := w.writeAll(buf); err != nil {
			return err
		}
		if err := w.writeAll(e.StoredName); err != nil {
			return err
		}
		if err := w.writeAll(e.CentralExtras); err != nil {
			return err
		}
		if err := w.writeAll(e.Comment); err != nil {
			return err
		}
		cdSize += uint64(len(buf) + len(e.StoredName) + len(e.CentralExtras) + len(e.Comment))
	}

	count := uint64(len(w.entries))
	// Entry count forces Zip64 only past 2^16-1: an archive of exactly
	// 65535 entries is still classic.
	needZip64EOCD := w.anyZip64 || count > uint16max || cdSize >= uint32max || cdStart >= uint32max

	// The Zip64 EOCD record, locator and EOCD are one indivisible block on
	// the final volume.
	trailerLen := eocdLen + len(comment)
	if needZip64EOCD {
		trailerLen += zip64EOCDLen + zip64EOCDLocLen
	}
	if err := w.rollIfNeeded(trailerLen); err != nil {
		return wrapErr(IOError, "", err)
	}

	if needZip64EOCD {
		recordDisk := w.disk
		recordOffset := uint64(w.vw.PositionInCurrentVolume())

		var buf [zip64EOCDLen]byte
		b := writeBuf(buf[:])
		b.uint32(zip64EOCDRecordSignature)
		b.uint64(zip64EOCDLen - 12)
		b.uint16(zipVersion45)
		b.uint16(zipVersion45)
		b.uint32(uint32(w.disk))
		b.uint32(uint32(cdStartDisk))
		b.uint64(count)
		b.uint64(count)
		b.uint64(cdSize)
		b.uint64(cdStart)
		if err := w.writeAll(buf[:]); err != nil {
			return err
		}

		var locBuf [zip64EOCDLocLen]byte
		lb := writeBuf(locBuf[:])
		lb.uint32(zip64EOCDLocSignature)
		lb.uint32(uint32(recordDisk))
		lb.uint64(recordOffset)
		lb.uint32(uint32(w.disk) + 1)
		if err := w.writeAll(locBuf[:]); err != nil {
			return err
		}
	}

	// Sentinels appear in the EOCD only for the fields that actually
	// overflow; the rest carry their true values even in a Zip64 archive.
	eocdCount := count
	if eocdCount > uint16max {
		eocdCount = uint16max
	}
	eocdSize := cdSize
	if eocdSize >= uint32max {
		eocdSize = uint32max
	}
	eocdStart := cdStart
	if eocdStart >= uint32max {
		eocdStart = uint32max
	}

	var buf [eocdLen]byte
	b := writeBuf(buf[:])
	b.uint32(eocdSignature)
	b.uint16(uint16(w.disk))
	b.uint16(uint16(cdStartDisk))
	b.uint16(uint16(eocdCount))
	b.uint16(uint16(eocdCount))
	b.uint32(uint32(eocdSize))
	b.uint32(uint32(eocdStart))
	b.uint16(uint16(len(comment)))
	if err := w.writeAll(buf[:]); err != nil {
		return err
	}
	return w.writeAll(comment)
}

// --- Copier ---

// Copier re-emits an existing entry's local header and payload verbatim
// into a new archive, cross-checking local against central fields and
// stripping a now-unnecessary data descriptor when the sizes are already
// known.
type Copier struct {
	src  VolumeReader
	diag DiagnosticsFunc
}

func NewCopier(src VolumeReader, diag DiagnosticsFunc) *Copier {
	return &Copier{src: src, diag: diag}
}

// Copy streams e's payload from the source archive into w, updating e's
// LocalOffset/DiskStart to the new position. strictNames aborts on a
// local/central name mismatch rather than just warning.
func (c *Copier) Copy(w *Writer, e *Entry, strictNames bool) error {
	if e.Unreadable {
		// A salvage scan skipped a volume holding part of this payload.
		return &Error{Kind: VolumeMissing, Entry: e.DisplayName(nil)}
	}
	srcDisk := e.DiskStart
	h, ok, err := c.open(srcDisk)
	if err != nil {
		return err
	}
	if !ok {
		return &Error{Kind: VolumeMissing, Entry: e.DisplayName(nil)}
	}

	// A local header never straddles a volume boundary, so a
	// single ReadAt on the start disk covers the fixed portion and name.
	fixedBuf := make([]byte, localHeaderLen)
	if _, err := h.ReadAt(fixedBuf, int64(e.LocalOffset)); err != nil {
		return wrapErr(IOError, e.DisplayName(nil), err)
	}
	fixed, err := parseLocalFixed(fixedBuf)
	if err != nil {
		return wrapErr(FormatError, e.DisplayName(nil), err)
	}
	name := make([]byte, fixed.nameLen)
	if _, err := h.ReadAt(name, int64(e.LocalOffset)+localHeaderLen); err != nil {
		return wrapErr(IOError, e.DisplayName(nil), err)
	}
	stripDescriptor, err := c.crossCheck(e, fixed, name, strictNames, w.vw.Seekable())
	if err != nil {
		return err
	}

	e.Selection = CopyEntry
	e.SizeKnown = true // the central sizes and CRC are authoritative
	e.FlagsLocal = fixed.flags
	if stripDescriptor {
		e.FlagsLocal &^= flagDataDescriptor
		e.FlagsCentral &^= flagDataDescriptor
	}

	payloadOffset := int64(e.LocalOffset) + localHeaderLen + int64(fixed.nameLen) + int64(fixed.extraLen)

	ew, err := w.BeginEntry(e)
	if err != nil {
		return err
	}
	// Payload, unlike the header, may straddle source volumes: when the
	// current disk runs out, the next one continues at offset 0.
	remaining := e.CompressedSize
	const copyChunk = 64 * 1024
	buf := make([]byte, copyChunk)
	for remaining > 0 {
		avail := h.Size() - payloadOffset
		if avail <= 0 {
			srcDisk++
			h, ok, err = c.open(srcDisk)
			if err != nil {
				ew.Abort()
				return err
			}
			if !ok {
				ew.Abort()
				return &Error{Kind: VolumeMissing, Entry: e.DisplayName(nil)}
			}
			payloadOffset = 0
			continue
		}
		n := int64(len(buf))
		if n > avail {
			n = avail
		}
		if n > int64(remaining) {
			n = int64(remaining)
		}
		if _, err := h.ReadAt(buf[:n], payloadOffset); err != nil {
			ew.Abort()
			return wrapErr(IOError, e.DisplayName(nil), err)
		}
		if _, err := ew.Write(buf[:n]); err != nil {
			ew.Abort()
			return err
		}
		payloadOffset += n
		remaining -= uint64(n)
	}
	if err := ew.Close(e.UncompressedSize); err != nil {
		ew.Abort()
		return err
	}
	return nil
}

// crossCheck: before re-emitting, the copier cross-checks the
// source local header against the entry's (authoritative) central fields
// before re-emitting — version, flags (masking out bit 3 whenever the
// source carried a data descriptor), CRC (skipped when the source used a data descriptor, and
// when the entry is AE-2 encrypted, whose stored crc32 is zero), and
// name. Mismatches warn except a name mismatch in strict mode, which
// aborts. It returns whether the local header's data descriptor should be
// stripped on re-emission: the source carried one, the entry isn't
// encrypted (bit 0 must retain bit 3 verbatim, since the descriptor may
// encode the password check), and the destination is seekable.
func (c *Copier) crossCheck(e *Entry, fixed localFixed, name []byte, strictNames, seekable bool) (stripDescriptor bool, err error) {
	if !bytesEqual(name, e.StoredName) {
		if strictNames {
			return false, &Error{Kind: FormatError, Entry: e.DisplayName(nil)}
		}
		c.diag.emit(FormatError, e.DisplayName(nil), errMismatch("local/central name mismatch"))
	}

	if fixed.versionNeeded != e.VersionNeeded {
		c.diag.emit(FormatError, e.DisplayName(nil), errMismatch("local/central version_needed mismatch"))
	}

	hadDescriptor := fixed.flags&flagDataDescriptor != 0
	encrypted := fixed.flags&flagEncrypted != 0

	localFlags, centralFlags := fixed.flags, e.FlagsCentral
	if hadDescriptor {
		// Bit 3 may legitimately differ once the descriptor is dropped on
		// re-emission; exclude it from the comparison.
		localFlags &^= flagDataDescriptor
		centralFlags &^= flagDataDescriptor
	}
	if localFlags&flagReservedMask != centralFlags&flagReservedMask {
		c.diag.emit(FormatError, e.DisplayName(nil), errMismatch("local/central flags mismatch"))
	}

	if !hadDescriptor && !e.IsAE2() && fixed.crc32 != e.CRC32 {
		c.diag.emit(FormatError, e.DisplayName(nil), errMismatch("local/central CRC mismatch"))
	}

	stripDescriptor = hadDescriptor && !encrypted && seekable
	return stripDescriptor, nil
}

func (c *Copier) open(disk uint32) (ReaderAtSize, bool, error) {
	h, err := openDiskWithRetry(c.src, int(disk))
	if err != nil {
		if e, ok := err.(*Error); ok && e.Kind == VolumeMissing {
			return nil, false, nil
		}
		return nil, false, err
	}
	return h, true, nil
}

type mismatchError string

func (e mismatchError) Error() string { return string(e) }

func errMismatch(s string) error { return mismatchError(s) }

var _ io.Writer = (*EntryWriter)(nil)
