// Copyright 2011 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package zipcore

// Compression methods. The core only cares about the numeric identifiers;
// the codecs themselves are external collaborators.
const (
	Store   uint16 = 0  // no compression
	Deflate uint16 = 8  // DEFLATE compressed
	BZip2   uint16 = 12
	LZMA    uint16 = 14
	PPMd    uint16 = 98
	AESWrap uint16 = 99 // WinZip AES encryption wraps the real method, see AES-WG extra
)

const (
	localHeaderSignature     = 0x04034b50
	centralHeaderSignature   = 0x02014b50
	eocdSignature            = 0x06054b50
	zip64EOCDLocSignature    = 0x07064b50
	zip64EOCDRecordSignature = 0x06064b50
	dataDescriptorSignature  = 0x08074b50
	spanMarkerSignature      = 0x08074b50 // PK\x07\x08, shared with the data descriptor form
	oldSpanMarkerSignature   = 0x03034b50 // PK\x03\x03, split-archive first-volume marker

	localHeaderLen   = 30 // + name + extra
	centralHeaderLen = 46 // + name + extra + comment
	eocdLen          = 22 // + comment
	zip64EOCDLocLen  = 20
	zip64EOCDLen     = 56 // version-1 fixed portion, no extensible data

	dataDescriptorLen   = 16 // sig + crc32 + compressed32 + uncompressed32
	dataDescriptor64Len = 24 // sig + crc32 + compressed64 + uncompressed64

	// Version numbers (version_needed / version_made_by low byte, ×10).
	zipVersion20 = 20 // 2.0
	zipVersion45 = 45 // 4.5, zip64

	uint16max = 1<<16 - 1
	uint32max = 1<<32 - 1

	// Constants for the high byte of version_made_by.
	creatorFAT    = 0
	creatorUnix   = 3
	creatorNTFS   = 11
	creatorVFAT   = 14
	creatorMacOSX = 19

	// Flag bits.
	flagEncrypted      = 1 << 0
	flagDataDescriptor = 1 << 3
	flagUTF8           = 1 << 11
	// The authoritative reserved-bits mask; any other high bit is
	// advisory, not fatal.
	flagReservedMask = 0x001F | flagUTF8
)

// Extra field tags.
const (
	tagZip64           uint16 = 0x0001
	tagExtendedTime    uint16 = 0x5455
	tagInfoZipUnix2    uint16 = 0x7855 // legacy Info-ZIP Unix, 2nd generation
	tagInfoZipUnix1    uint16 = 0x5855 // legacy Info-ZIP Unix, 1st generation
	tagUnicodePath     uint16 = 0x7075
	tagAESWG           uint16 = 0x9901
	tagStreamInfo      uint16 = 0x6C78
	tagPlaceholder     uint16 = 0x9999
)

// placeholderPayloadLen is the size of a Zip64 local extra field payload
// (two 8-byte fields), so the Placeholder record reserves the identical
// 20 bytes (4-byte tag+size header + 16-byte payload).
const placeholderPayloadLen = 16

// aesVendorID is the literal ASCII bytes "AE" read as a little-endian
// uint16, the fixed vendor id every WinZip AES-WG (tag 0x9901) extra field
// carries.
const aesVendorID uint16 = 0x4541

// aesWGPayloadLen is the fixed size of an AES-WG extra field payload:
// version(2) + vendor id(2) + strength(1) + actual method(2).
const aesWGPayloadLen = 7

// unixFileType constants, agreed upon by tools though not in APPNOTE.
const (
	sIFMT   = 0xf000
	sIFSOCK = 0xc000
	sIFLNK  = 0xa000
	sIFREG  = 0x8000
	sIFBLK  = 0x6000
	sIFDIR  = 0x4000
	sIFCHR  = 0x2000
	sIFIFO  = 0x1000
	sISUID  = 0x800
	sISGID  = 0x400
	sISVTX  = 0x200

	msdosDir      = 0x10
	msdosReadOnly = 0x01
)
