package zipcore

import (
	"testing"
	"time"
)

func TestPrepareLocalHeaderAutoBelowThreshold(t *testing.T) {
	e := &Entry{Method: Store, UncompressedSize: 1024, CompressedSize: 1024, SizeKnown: true}
	cfg := DefaultConfig()

	useZip64, reserve, err := e.PrepareLocalHeader(cfg, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if useZip64 || reserve {
		t.Fatalf("small entry promoted to zip64: useZip64=%v reserve=%v", useZip64, reserve)
	}
}

func TestPrepareLocalHeaderAutoAboveThreshold(t *testing.T) {
	e := &Entry{Method: Store, UncompressedSize: zip64Threshold(Store, false) + 1, CompressedSize: 10, SizeKnown: true}
	cfg := DefaultConfig()

	useZip64, reserve, err := e.PrepareLocalHeader(cfg, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !useZip64 {
		t.Fatal("large entry not promoted to zip64")
	}
	if reserve {
		t.Fatal("entry already past 4 GiB should commit a real zip64 record, not reserve a placeholder")
	}
}

func TestPrepareLocalHeaderStreamingReservesPlaceholder(t *testing.T) {
	e := &Entry{Method: Deflate, SizeKnown: false}
	cfg := DefaultConfig()

	useZip64, reserve, err := e.PrepareLocalHeader(cfg, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !useZip64 || !reserve {
		t.Fatalf("streaming entry should reserve a placeholder: useZip64=%v reserve=%v", useZip64, reserve)
	}
}

func TestPrepareLocalHeaderForceNeverRejectsOversize(t *testing.T) {
	e := &Entry{Method: Store, UncompressedSize: zip64Threshold(Store, false) + 1, SizeKnown: true}
	cfg := &Config{ForceZip64: ForceZip64Never, PathCodec: CP437}

	_, _, err := e.PrepareLocalHeader(cfg, true)
	zerr, ok := err.(*Error)
	if !ok || zerr.Kind != EntryTooBig {
		t.Fatalf("err = %v, want *Error{Kind: EntryTooBig}", err)
	}
}

func TestPrepareLocalHeaderNonSeekableBypassesThreshold(t *testing.T) {
	e := &Entry{Method: Store, UncompressedSize: 10, SizeKnown: true}
	cfg := DefaultConfig()

	useZip64, _, err := e.PrepareLocalHeader(cfg, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !useZip64 {
		t.Fatal("non-seekable sink must always commit to zip64 up front")
	}
}

func TestZip64PlaceholderPromotionRoundTrip(t *testing.T) {
	e := &Entry{Method: Deflate, SizeKnown: false}
	cfg := DefaultConfig()

	_, reserve, err := e.PrepareLocalHeader(cfg, true)
	if err != nil || !reserve {
		t.Fatalf("setup: reserve=%v err=%v", reserve, err)
	}
	e.ReserveZip64Placeholder()
	before := len(e.LocalExtras)

	e.UncompressedSize = uint32max + 10
	e.CompressedSize = 10
	e.FinalizeLocalHeader()

	if len(e.LocalExtras) != before {
		t.Fatalf("placeholder promotion changed block length: %d -> %d", before, len(e.LocalExtras))
	}
	rec, ok := findExtra(e.LocalExtras, tagZip64)
	if !ok {
		t.Fatal("tag 0x0001 not present after promotion")
	}
	r := readBuf(rec.data)
	if got := r.uint64(); got != e.UncompressedSize {
		t.Fatalf("promoted uncompressed size = %d, want %d", got, e.UncompressedSize)
	}
}

func TestZip64PlaceholderStaysPlaceholderWhenSmall(t *testing.T) {
	e := &Entry{Method: Deflate, SizeKnown: false}
	cfg := DefaultConfig()
	if _, reserve, err := e.PrepareLocalHeader(cfg, true); err != nil || !reserve {
		t.Fatalf("setup: reserve=%v err=%v", reserve, err)
	}
	e.ReserveZip64Placeholder()

	e.UncompressedSize = 100
	e.CompressedSize = 50
	e.FinalizeLocalHeader()

	if _, ok := findExtra(e.LocalExtras, tagZip64); ok {
		t.Fatal("small entry should not be promoted to a real zip64 record")
	}
	if _, ok := findExtra(e.LocalExtras, tagPlaceholder); !ok {
		t.Fatal("placeholder tag should remain for an unpromoted small entry")
	}
}

func TestCheckUnicodePathDetectsExternalRename(t *testing.T) {
	e := &Entry{StoredName: []byte("hello.txt")}
	e.SetUnicodePath("hello.txt")

	if valid, present := e.CheckUnicodePath(); !valid || !present {
		t.Fatalf("valid=%v present=%v, want true,true", valid, present)
	}

	e.StoredName = []byte("renamed.txt")
	valid, present := e.CheckUnicodePath()
	if valid || !present {
		t.Fatalf("after rename: valid=%v present=%v, want false,true", valid, present)
	}
}

func TestModTimePrefersExtendedTimestamp(t *testing.T) {
	e := &Entry{}
	want := time.Date(2020, time.March, 15, 12, 30, 0, 0, time.UTC)
	e.SetModTime(want)

	got := e.ModTime()
	if !got.Equal(want) {
		t.Fatalf("ModTime() = %v, want %v", got, want)
	}
}

func TestModeRoundTripUnix(t *testing.T) {
	e := &Entry{}
	e.SetMode(0o755)
	if got := e.Mode().Perm(); got != 0o755 {
		t.Fatalf("Mode().Perm() = %v, want 0755", got)
	}
}

func TestIsDir(t *testing.T) {
	dir := &Entry{StoredName: []byte("a/b/")}
	file := &Entry{StoredName: []byte("a/b")}
	if !dir.IsDir() {
		t.Fatal("trailing-slash name not detected as dir")
	}
	if file.IsDir() {
		t.Fatal("non-trailing-slash name detected as dir")
	}
}
