package zipcore

import (
	"bytes"
	"testing"
)

func TestApplyNamingPolicyPathPrefixNewOnly(t *testing.T) {
	cfg := &Config{PathPrefix: []byte("out/"), PathPrefixMode: PathPrefixNewOnly, PathCodec: CP437}

	fresh := &Entry{StoredName: []byte("a.txt")}
	applyNamingPolicy(fresh, cfg)
	if string(fresh.StoredName) != "out/a.txt" {
		t.Fatalf("new entry StoredName = %q, want %q", fresh.StoredName, "out/a.txt")
	}

	kept := &Entry{StoredName: []byte("b.txt"), Selection: Keep}
	applyNamingPolicy(kept, cfg)
	if string(kept.StoredName) != "b.txt" {
		t.Fatalf("PathPrefixNewOnly modified a kept entry: %q", kept.StoredName)
	}

	copied := &Entry{StoredName: []byte("c.txt"), Selection: CopyEntry}
	applyNamingPolicy(copied, cfg)
	if string(copied.StoredName) != "c.txt" {
		t.Fatalf("PathPrefixNewOnly modified a copied entry: %q", copied.StoredName)
	}
}

func TestApplyNamingPolicyPathPrefixAllAppliesToCopies(t *testing.T) {
	cfg := &Config{PathPrefix: []byte("out/"), PathPrefixMode: PathPrefixAll, PathCodec: CP437}

	kept := &Entry{StoredName: []byte("b.txt"), Selection: Keep}
	applyNamingPolicy(kept, cfg)
	if string(kept.StoredName) != "out/b.txt" {
		t.Fatalf("PathPrefixAll left a kept entry unprefixed: %q", kept.StoredName)
	}

	// Already-prefixed names aren't doubled up on a second pass.
	applyNamingPolicy(kept, cfg)
	if string(kept.StoredName) != "out/b.txt" {
		t.Fatalf("prefix applied twice: %q", kept.StoredName)
	}
}

func TestApplyNamingPolicyCaseFoldNewEntriesOnly(t *testing.T) {
	cfg := &Config{CaseFold: CaseFoldUpper, PathCodec: CP437}

	fresh := &Entry{StoredName: []byte("hello.txt")}
	applyNamingPolicy(fresh, cfg)
	if string(fresh.StoredName) != "HELLO.TXT" {
		t.Fatalf("new entry StoredName = %q, want %q", fresh.StoredName, "HELLO.TXT")
	}

	copied := &Entry{StoredName: []byte("hello.txt"), Selection: CopyEntry}
	applyNamingPolicy(copied, cfg)
	if string(copied.StoredName) != "hello.txt" {
		t.Fatalf("CaseFold modified a copied entry: %q", copied.StoredName)
	}
}

func TestBeginEntryWritesStreamInfoPayload(t *testing.T) {
	dir := t.TempDir()
	fv := NewFileVolumeSet(dir, "stream", nil)
	if err := fv.OpenVolume(0); err != nil {
		t.Fatalf("OpenVolume: %v", err)
	}

	cfg := DefaultConfig()
	cfg.IncludeStreamInfo = true
	w := NewWriter(fv, cfg, nil)

	e := &Entry{
		Method:           Store,
		StoredName:       []byte("a.txt"),
		UncompressedSize: 3,
		CompressedSize:   3,
		SizeKnown:        true,
		VersionMadeBy:    zipVersion20,
		ExternalAttr:     0o644 << 16,
		Comment:          []byte("hi"),
	}
	ew, err := w.BeginEntry(e)
	if err != nil {
		t.Fatalf("BeginEntry: %v", err)
	}
	if _, err := ew.Write([]byte("abc")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := ew.Close(3); err != nil {
		t.Fatalf("Close: %v", err)
	}

	rec, ok := findExtra(e.LocalExtras, tagStreamInfo)
	if !ok {
		t.Fatal("stream-info extra field missing")
	}
	b := readBuf(rec.data)
	if v := b.uint16(); v != e.VersionMadeBy {
		t.Fatalf("version_made_by = %d, want %d", v, e.VersionMadeBy)
	}
	if a := b.uint32(); a != e.ExternalAttr {
		t.Fatalf("external_attr = %#x, want %#x", a, e.ExternalAttr)
	}
	commentLen := b.uint16()
	gotComment := b.bytes(int(commentLen))
	if !bytes.Equal(gotComment, e.Comment) {
		t.Fatalf("comment = %q, want %q", gotComment, e.Comment)
	}
}
