package zipcore

// extraRecord is one {tag, data} pair inside an extra-field block, as read
// back out of it by find(). The block itself never holds decoded records;
// this is a view into it: the entry owns the block, the registry never
// does.
type extraRecord struct {
	tag  uint16
	data []byte
}

// positionPolicy controls where insertOrReplace places a freshly allocated
// record. Zip64 requires front, everything else goes to the back.
type positionPolicy int

const (
	positionBack positionPolicy = iota
	positionFront
)

// findExtra scans block for the first record matching tag. The scan
// stops safely as soon as fewer than 4 bytes remain;
// malformed trailing bytes are ignored rather than erroring, since they
// cannot form a complete tag+size header.
func findExtra(block []byte, tag uint16) (extraRecord, bool) {
	b := readBuf(block)
	for b.needBytes(4) {
		t := b.uint16()
		size := int(b.uint16())
		if !b.needBytes(size) {
			break
		}
		data := b.bytes(size)
		if t == tag {
			return extraRecord{tag: t, data: data}, true
		}
	}
	return extraRecord{}, false
}

// removeExtra splices the record matching tag out of block, along with its
// 4-byte header, shrinking the block.
func removeExtra(block []byte, tag uint16) []byte {
	out := make([]byte, 0, len(block))
	b := readBuf(block)
	for b.needBytes(4) {
		start := len(block) - len(b)
		t := b.uint16()
		size := int(b.uint16())
		if !b.needBytes(size) {
			// malformed trailing bytes: keep them verbatim, scan ends
			out = append(out, block[start:]...)
			return out
		}
		data := b.bytes(size)
		if t == tag {
			continue
		}
		out = append(out, block[start:start+4]...)
		out = append(out, data...)
	}
	// any unconsumed malformed tail (< 4 bytes) is preserved verbatim
	out = append(out, []byte(b)...)
	return out
}

// insertOrReplaceExtra replaces or inserts one tagged record: if a
// record with the same tag and the same payload length already exists, it
// is overwritten in place (preserving its position); otherwise the old
// record (if any) is deleted and the new one is placed per policy. Zip64
// callers must pass positionFront: a documented consumer bug expects the
// Zip64 record to be the first one in the block.
func insertOrReplaceExtra(block []byte, tag uint16, payload []byte, policy positionPolicy) []byte {
	if existing, ok := findExtra(block, tag); ok && len(existing.data) == len(payload) {
		out := make([]byte, len(block))
		copy(out, block)
		idx := indexOfSlice(block, existing.data)
		copy(out[idx:idx+len(payload)], payload)
		return out
	}

	without := removeExtra(block, tag)
	record := make([]byte, 0, 4+len(payload))
	var hdr [4]byte
	wb := writeBuf(hdr[:])
	wb.uint16(tag)
	wb.uint16(uint16(len(payload)))
	record = append(record, hdr[:]...)
	record = append(record, payload...)

	switch policy {
	case positionFront:
		out := make([]byte, 0, len(without)+len(record))
		out = append(out, record...)
		out = append(out, without...)
		return out
	default:
		out := make([]byte, 0, len(without)+len(record))
		out = append(out, without...)
		out = append(out, record...)
		return out
	}
}

// indexOfSlice returns the byte offset of needle within haystack, assuming
// needle is a sub-slice of haystack (as produced by findExtra). Falls back
// to a linear byte-compare if the slice headers don't alias (defensive;
// findExtra always returns an aliased sub-slice of block in practice).
func indexOfSlice(haystack, needle []byte) int {
	if len(needle) == 0 {
		return 0
	}
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if &haystack[i] == &needle[0] {
			return i
		}
	}
	// fallback: find by content (first match)
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if bytesEqual(haystack[i:i+len(needle)], needle) {
			return i
		}
	}
	return 0
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// mergeNonDup merges two extra-field blocks: every record of
// newBlock, followed by every record of oldBlock whose tag is absent from
// newBlock. Idempotent: merging the same old block into an already
// merged result changes nothing, since the result never contains an
// old-tag that new already supplies.
func mergeNonDup(oldBlock, newBlock []byte) []byte {
	newTags := map[uint16]bool{}
	b := readBuf(newBlock)
	for b.needBytes(4) {
		t := b.uint16()
		size := int(b.uint16())
		if !b.needBytes(size) {
			break
		}
		b.bytes(size)
		newTags[t] = true
	}

	out := make([]byte, 0, len(newBlock)+len(oldBlock))
	out = append(out, newBlock...)

	ob := readBuf(oldBlock)
	for ob.needBytes(4) {
		start := len(oldBlock) - len(ob)
		t := ob.uint16()
		size := int(ob.uint16())
		if !ob.needBytes(size) {
			break
		}
		data := ob.bytes(size)
		if newTags[t] {
			continue
		}
		out = append(out, oldBlock[start:start+4]...)
		out = append(out, data...)
	}
	return out
}
