package zipcore

import "testing"

func TestCP437RoundTripASCII(t *testing.T) {
	want := "hello/world.txt"
	encoded, ok := CP437.Encode(want)
	if !ok {
		t.Fatalf("Encode(%q) reported not representable", want)
	}
	got, err := CP437.Decode(encoded)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got != want {
		t.Fatalf("round trip = %q, want %q", got, want)
	}
}

func TestCP437DecodesExtendedBytes(t *testing.T) {
	// 0x80 is 'C' with cedilla (Ç) in code page 437.
	got, err := CP437.Decode([]byte{0x80})
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got != "Ç" {
		t.Fatalf("Decode(0x80) = %q, want %q", got, "Ç")
	}
}

func TestUTF8PathCodecIsPassThrough(t *testing.T) {
	want := "héllo.txt"
	encoded, ok := UTF8PathCodec.Encode(want)
	if !ok {
		t.Fatalf("Encode(%q) reported not representable", want)
	}
	got, err := UTF8PathCodec.Decode(encoded)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got != want {
		t.Fatalf("round trip = %q, want %q", got, want)
	}
}
