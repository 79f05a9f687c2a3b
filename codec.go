// Copyright 2011 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package zipcore

import (
	"encoding/binary"
)

// readBuf is a little-endian cursor over a fixed byte slice, the leaf
// primitive the directory scanner and copier use to pull fixed-width fields
// out of a header without any allocation. It panics on short reads the same
// way a slice out-of-bounds index would; callers are expected to have
// checked length first (see needBytes).
type readBuf []byte

func (b *readBuf) uint8() uint8 {
	v := (*b)[0]
	*b = (*b)[1:]
	return v
}

func (b *readBuf) uint16() uint16 {
	v := binary.LittleEndian.Uint16(*b)
	*b = (*b)[2:]
	return v
}

func (b *readBuf) uint32() uint32 {
	v := binary.LittleEndian.Uint32(*b)
	*b = (*b)[4:]
	return v
}

func (b *readBuf) uint64() uint64 {
	v := binary.LittleEndian.Uint64(*b)
	*b = (*b)[8:]
	return v
}

// bytes consumes and returns the next n bytes.
func (b *readBuf) bytes(n int) []byte {
	v := (*b)[:n:n]
	*b = (*b)[n:]
	return v
}

// needBytes reports whether at least n bytes remain, the guard every
// variable-length field read must pass before calling bytes/uint*,
// since the source may be exhausted mid-field.
func (b readBuf) needBytes(n int) bool {
	return len(b) >= n
}

// writeBuf is the fixed-size mirror of readBuf, used to lay out local
// headers, central headers, EOCD records and extra-field payloads of known
// size with no allocation.
type writeBuf []byte

func (b *writeBuf) uint8(v uint8) {
	(*b)[0] = v
	*b = (*b)[1:]
}

func (b *writeBuf) uint16(v uint16) {
	binary.LittleEndian.PutUint16(*b, v)
	*b = (*b)[2:]
}

func (b *writeBuf) uint32(v uint32) {
	binary.LittleEndian.PutUint32(*b, v)
	*b = (*b)[4:]
}

func (b *writeBuf) uint64(v uint64) {
	binary.LittleEndian.PutUint64(*b, v)
	*b = (*b)[8:]
}

func (b *writeBuf) bytes(v []byte) {
	n := copy(*b, v)
	*b = (*b)[n:]
}

// growBuf is a growable little-endian byte buffer, used to build variable
// length blocks (extra-field blocks, in-memory headers) whose final size
// isn't known up front. It enlarges in 1 KiB increments, or more when a
// single append would otherwise require more than one increment.
type growBuf struct {
	buf []byte
}

const growBufIncrement = 1024

func (g *growBuf) ensure(extra int) {
	need := len(g.buf) + extra
	if cap(g.buf) >= need {
		return
	}
	newCap := cap(g.buf) + growBufIncrement
	for newCap < need {
		newCap += growBufIncrement
	}
	next := make([]byte, len(g.buf), newCap)
	copy(next, g.buf)
	g.buf = next
}

func (g *growBuf) Bytes() []byte { return g.buf }

func (g *growBuf) Len() int { return len(g.buf) }

func (g *growBuf) writeUint16(v uint16) {
	g.ensure(2)
	n := len(g.buf)
	g.buf = g.buf[:n+2]
	binary.LittleEndian.PutUint16(g.buf[n:], v)
}

func (g *growBuf) writeUint32(v uint32) {
	g.ensure(4)
	n := len(g.buf)
	g.buf = g.buf[:n+4]
	binary.LittleEndian.PutUint32(g.buf[n:], v)
}

func (g *growBuf) writeUint64(v uint64) {
	g.ensure(8)
	n := len(g.buf)
	g.buf = g.buf[:n+8]
	binary.LittleEndian.PutUint64(g.buf[n:], v)
}

// writeString appends exactly len(s) bytes, with no terminator.
func (g *growBuf) writeString(s string) {
	g.ensure(len(s))
	g.buf = append(g.buf, s...)
}

func (g *growBuf) writeBytes(p []byte) {
	g.ensure(len(p))
	g.buf = append(g.buf, p...)
}
