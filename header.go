package zipcore

// This file holds the fixed-portion (de)serializers for local headers,
// central headers and the on-disk data descriptor, shared by the scanner
// (reads) and the writer (writes). Variable-length fields (name, extra,
// comment) are handled by the caller, which knows where the bytes live
// (inline buffer vs. volume).

// centralFixed is the decoded 46-byte fixed portion of a central
// header, before name/extra/comment are attached.
type centralFixed struct {
	versionMadeBy  uint16
	versionNeeded  uint16
	flags          uint16
	method         uint16
	modTime        uint16
	modDate        uint16
	crc32          uint32
	compressedSize uint32
	uncompressedSize uint32
	nameLen        uint16
	extraLen       uint16
	commentLen     uint16
	diskStart      uint16
	internalAttr   uint16
	externalAttr   uint32
	localOffset    uint32
}

func parseCentralFixed(buf []byte) (centralFixed, error) {
	if len(buf) < centralHeaderLen {
		return centralFixed{}, &Error{Kind: ShortData}
	}
	b := readBuf(buf)
	sig := b.uint32()
	if sig != centralHeaderSignature {
		return centralFixed{}, &Error{Kind: FormatError}
	}
	var c centralFixed
	c.versionMadeBy = b.uint16()
	c.versionNeeded = b.uint16()
	c.flags = b.uint16()
	c.method = b.uint16()
	c.modTime = b.uint16()
	c.modDate = b.uint16()
	c.crc32 = b.uint32()
	c.compressedSize = b.uint32()
	c.uncompressedSize = b.uint32()
	c.nameLen = b.uint16()
	c.extraLen = b.uint16()
	c.commentLen = b.uint16()
	c.diskStart = b.uint16()
	c.internalAttr = b.uint16()
	c.externalAttr = b.uint32()
	c.localOffset = b.uint32()
	return c, nil
}

// entryFromCentral builds an Entry from the fixed portion plus the
// variable-length blocks the caller already sliced out.
func entryFromCentral(c centralFixed, name, extra, comment []byte) *Entry {
	e := &Entry{
		VersionMadeBy:    c.versionMadeBy,
		VersionNeeded:    c.versionNeeded,
		FlagsCentral:     c.flags,
		FlagsLocal:       c.flags,
		Method:           c.method,
		DOSTime:          uint32(c.modDate)<<16 | uint32(c.modTime),
		CRC32:            c.crc32,
		CompressedSize:   uint64(c.compressedSize),
		UncompressedSize: uint64(c.uncompressedSize),
		LocalOffset:      uint64(c.localOffset),
		DiskStart:        uint32(c.diskStart),
		InternalAttr:     c.internalAttr,
		ExternalAttr:     c.externalAttr,
		StoredName:       append([]byte(nil), name...),
		CentralExtras:    append([]byte(nil), extra...),
		Comment:          append([]byte(nil), comment...),
		SizeKnown:        true,
	}
	if c.flags&flagUTF8 != 0 {
		e.UTF8Name = append([]byte(nil), name...)
	}
	return e
}

// writeCentralFixed serializes the 46-byte fixed portion into buf (which
// must be centralHeaderLen bytes), given the already-resolved 32-bit
// primary slot values (sentinel substitution is the caller's job, since
// it depends on the Zip64 decision made earlier).
func writeCentralFixed(buf []byte, e *Entry, compressedSize, uncompressedSize, localOffset uint32, diskStart uint16) {
	b := writeBuf(buf)
	b.uint32(centralHeaderSignature)
	b.uint16(e.VersionMadeBy)
	b.uint16(e.VersionNeeded)
	b.uint16(e.FlagsCentral)
	b.uint16(e.Method)
	b.uint16(uint16(e.DOSTime))
	b.uint16(uint16(e.DOSTime >> 16))
	b.uint32(e.CRC32)
	b.uint32(compressedSize)
	b.uint32(uncompressedSize)
	b.uint16(uint16(len(e.StoredName)))
	b.uint16(uint16(len(e.CentralExtras)))
	b.uint16(uint16(len(e.Comment)))
	b.uint16(diskStart)
	b.uint16(e.InternalAttr)
	b.uint32(e.ExternalAttr)
	b.uint32(localOffset)
}

// localFixed mirrors centralFixed for the 30-byte local header.
type localFixed struct {
	versionNeeded    uint16
	flags            uint16
	method           uint16
	modTime          uint16
	modDate          uint16
	crc32            uint32
	compressedSize   uint32
	uncompressedSize uint32
	nameLen          uint16
	extraLen         uint16
}

func parseLocalFixed(buf []byte) (localFixed, error) {
	if len(buf) < localHeaderLen {
		return localFixed{}, &Error{Kind: ShortData}
	}
	b := readBuf(buf)
	sig := b.uint32()
	if sig != localHeaderSignature {
		return localFixed{}, &Error{Kind: FormatError}
	}
	var l localFixed
	l.versionNeeded = b.uint16()
	l.flags = b.uint16()
	l.method = b.uint16()
	l.modTime = b.uint16()
	l.modDate = b.uint16()
	l.crc32 = b.uint32()
	l.compressedSize = b.uint32()
	l.uncompressedSize = b.uint32()
	l.nameLen = b.uint16()
	l.extraLen = b.uint16()
	return l, nil
}

func writeLocalFixed(buf []byte, e *Entry, compressedSize, uncompressedSize uint32) {
	b := writeBuf(buf)
	b.uint32(localHeaderSignature)
	b.uint16(e.VersionNeeded)
	b.uint16(e.FlagsLocal)
	b.uint16(e.Method)
	b.uint16(uint16(e.DOSTime))
	b.uint16(uint16(e.DOSTime >> 16))
	b.uint32(e.CRC32)
	b.uint32(compressedSize)
	b.uint32(uncompressedSize)
	b.uint16(uint16(len(e.StoredName)))
	b.uint16(uint16(len(e.LocalExtras)))
}
