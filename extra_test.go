package zipcore

import (
	"bytes"
	"testing"
)

func record(tag uint16, payload []byte) []byte {
	var hdr [4]byte
	wb := writeBuf(hdr[:])
	wb.uint16(tag)
	wb.uint16(uint16(len(payload)))
	return append(hdr[:], payload...)
}

func TestFindExtra(t *testing.T) {
	block := append(record(0x0001, []byte{1, 2, 3, 4}), record(0x7075, []byte("abc"))...)

	rec, ok := findExtra(block, 0x7075)
	if !ok {
		t.Fatal("findExtra(0x7075) not found")
	}
	if !bytes.Equal(rec.data, []byte("abc")) {
		t.Fatalf("data = %q, want %q", rec.data, "abc")
	}

	if _, ok := findExtra(block, 0x9999); ok {
		t.Fatal("findExtra(0x9999) found, want not found")
	}
}

func TestFindExtraStopsOnShortTrailer(t *testing.T) {
	block := append(record(0x0001, []byte{1, 2}), 0x01, 0x02)
	if _, ok := findExtra(block, 0x0001); !ok {
		t.Fatal("findExtra should still find the well-formed leading record")
	}
}

func TestRemoveExtraPreservesOthers(t *testing.T) {
	block := append(record(0x0001, []byte{1, 2}), record(0x7075, []byte("name"))...)
	out := removeExtra(block, 0x0001)

	if _, ok := findExtra(out, 0x0001); ok {
		t.Fatal("0x0001 still present after removeExtra")
	}
	rec, ok := findExtra(out, 0x7075)
	if !ok || !bytes.Equal(rec.data, []byte("name")) {
		t.Fatalf("0x7075 lost or corrupted: %+v ok=%v", rec, ok)
	}
}

func TestRemoveExtraKeepsMalformedTail(t *testing.T) {
	tail := []byte{0x01, 0x02}
	block := append(record(0x0001, []byte{1, 2}), tail...)
	out := removeExtra(block, 0x0001)
	if !bytes.HasSuffix(out, tail) {
		t.Fatalf("malformed tail dropped: out=%x, want suffix %x", out, tail)
	}
}

func TestInsertOrReplaceExtraOverwritesSameSize(t *testing.T) {
	block := record(0x0001, []byte{1, 2, 3, 4})
	out := insertOrReplaceExtra(block, 0x0001, []byte{9, 9, 9, 9}, positionFront)

	rec, ok := findExtra(out, 0x0001)
	if !ok || !bytes.Equal(rec.data, []byte{9, 9, 9, 9}) {
		t.Fatalf("got %+v, ok=%v", rec, ok)
	}
	if len(out) != len(block) {
		t.Fatalf("same-size overwrite changed block length: %d -> %d", len(block), len(out))
	}
}

func TestInsertOrReplaceExtraFrontVsBack(t *testing.T) {
	existing := record(0x7075, []byte("name"))

	front := insertOrReplaceExtra(existing, 0x0001, []byte{1, 2, 3, 4}, positionFront)
	rFront := readBuf(front)
	if tag := rFront.uint16(); tag != 0x0001 {
		t.Fatalf("positionFront put tag %#x first, want 0x0001", tag)
	}

	back := insertOrReplaceExtra(existing, 0x0001, []byte{1, 2, 3, 4}, positionBack)
	rBack := readBuf(back)
	if tag := rBack.uint16(); tag != 0x7075 {
		t.Fatalf("positionBack moved tag %#x first, want 0x7075 to stay first", tag)
	}
}

func TestMergeNonDupPrefersNew(t *testing.T) {
	oldBlock := append(record(0x0001, []byte{1, 1, 1, 1}), record(0x5455, []byte{1, 2, 3, 4, 5})...)
	newBlock := record(0x0001, []byte{2, 2, 2, 2})

	merged := mergeNonDup(oldBlock, newBlock)

	rec, ok := findExtra(merged, 0x0001)
	if !ok || !bytes.Equal(rec.data, []byte{2, 2, 2, 2}) {
		t.Fatalf("0x0001 = %+v, want new payload", rec)
	}
	if _, ok := findExtra(merged, 0x5455); !ok {
		t.Fatal("0x5455 from oldBlock dropped, want kept")
	}
}

func TestMergeNonDupIdempotent(t *testing.T) {
	oldBlock := record(0x5455, []byte{1, 2, 3, 4, 5})
	newBlock := record(0x0001, []byte{2, 2, 2, 2})

	once := mergeNonDup(oldBlock, newBlock)
	twice := mergeNonDup(oldBlock, once)
	if !bytes.Equal(once, twice) {
		t.Fatalf("mergeNonDup not idempotent: once=%x twice=%x", once, twice)
	}
}
