package zipcore

import (
	"bytes"
	"testing"
)

func TestReadWriteBufRoundTrip(t *testing.T) {
	var buf [19]byte
	w := writeBuf(buf[:])
	w.uint8(0x42)
	w.uint16(0x1234)
	w.uint32(0xdeadbeef)
	w.uint64(0x0102030405060708)
	w.bytes([]byte("xx"))

	r := readBuf(buf[:])
	if got := r.uint8(); got != 0x42 {
		t.Fatalf("uint8 = %#x, want 0x42", got)
	}
	if got := r.uint16(); got != 0x1234 {
		t.Fatalf("uint16 = %#x, want 0x1234", got)
	}
	if got := r.uint32(); got != 0xdeadbeef {
		t.Fatalf("uint32 = %#x, want 0xdeadbeef", got)
	}
	if got := r.uint64(); got != 0x0102030405060708 {
		t.Fatalf("uint64 = %#x, want 0x0102030405060708", got)
	}
	if got := r.bytes(2); !bytes.Equal(got, []byte("xx")) {
		t.Fatalf("bytes = %q, want %q", got, "xx")
	}
}

func TestReadBufNeedBytes(t *testing.T) {
	b := readBuf([]byte{1, 2, 3})
	if !b.needBytes(3) {
		t.Fatal("needBytes(3) = false, want true")
	}
	if b.needBytes(4) {
		t.Fatal("needBytes(4) = true, want false")
	}
}

func TestGrowBufGrowsInIncrements(t *testing.T) {
	var g growBuf
	for i := 0; i < growBufIncrement+1; i++ {
		g.writeUint16(uint16(i))
	}
	if g.Len() != 2*(growBufIncrement+1) {
		t.Fatalf("Len() = %d, want %d", g.Len(), 2*(growBufIncrement+1))
	}
	r := readBuf(g.Bytes())
	for i := 0; i < growBufIncrement+1; i++ {
		if got := r.uint16(); got != uint16(i) {
			t.Fatalf("entry %d = %d, want %d", i, got, i)
		}
	}
}

func TestGrowBufWriteString(t *testing.T) {
	var g growBuf
	g.writeString("hello")
	g.writeBytes([]byte(" world"))
	if string(g.Bytes()) != "hello world" {
		t.Fatalf("Bytes() = %q, want %q", g.Bytes(), "hello world")
	}
}
