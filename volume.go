package zipcore

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// MissingVolumeAction is the caller's answer to a MissingVolume callback.
type MissingVolumeAction int

const (
	VolumeRetry MissingVolumeAction = iota
	VolumeAbort
	VolumeSkip
)

// VolumeReader is the read side of the split-volume contract. Disk
// numbers are 0-based; the last disk holds the .zip extension, earlier
// disks .z01..zNN.
type VolumeReader interface {
	// Open returns a handle for disk, or ok=false if the volume is
	// missing (the caller should then consult MissingVolume).
	Open(disk int) (handle ReaderAtSize, ok bool, err error)
	// MissingVolume is invoked when a required volume cannot be opened.
	// It may block indefinitely on user input.
	MissingVolume(disk int) MissingVolumeAction
}

// ReaderAtSize is a volume handle: seekable in the sense of ReadAt, with a
// known size.
type ReaderAtSize interface {
	io.ReaderAt
	Size() int64
}

// VolumeWriter is the write side of the split-volume contract. Seek is
// optional; a writer that cannot support it must report non-seekable at
// open time via Seekable(), and the core then suppresses all header
// rewrites.
type VolumeWriter interface {
	OpenVolume(disk int) error
	Append(p []byte) (int, error)
	CloseVolume() error
	PositionInCurrentVolume() int64
	Seekable() bool
	// SeekTo repositions within an already-written volume. Only called
	// when Seekable() is true.
	SeekTo(disk int, offset int64) error
}

// finalDiskReporter is an optional capability a VolumeReader may
// implement to report which disk number is the archive's final volume,
// once known. The salvage scan uses it to tell a probe past the end of
// the archive apart from a genuinely missing volume: only the latter is
// put to the MissingVolume callback.
type finalDiskReporter interface {
	FinalDisk() (int, bool)
}

// pastFinalDisk reports whether disk lies beyond the archive's known
// final volume. Without the capability nothing is known and every
// missing disk is treated as required.
func pastFinalDisk(vr VolumeReader, disk int) bool {
	if r, ok := vr.(finalDiskReporter); ok {
		if last, known := r.FinalDisk(); known && disk > last {
			return true
		}
	}
	return false
}

// openDiskWithRetry opens disk via vr, looping on VolumeRetry from
// MissingVolume since the callback may block indefinitely on user input
// before answering. Any other action is reported as VolumeMissing.
// Shared by every call site that needs to open a volume and survive a
// caller-driven retry.
func openDiskWithRetry(vr VolumeReader, disk int) (ReaderAtSize, error) {
	for {
		h, ok, err := vr.Open(disk)
		if err != nil {
			return nil, wrapErr(IOError, "", err)
		}
		if ok {
			return h, nil
		}
		switch vr.MissingVolume(disk) {
		case VolumeRetry:
			continue
		default:
			return nil, &Error{Kind: VolumeMissing}
		}
	}
}

// --- default filesystem-backed implementation ---

// FileVolumeSet is the default VolumeReader/VolumeWriter pair backed by
// plain os.Files on disk, named base.zip, base.z01, base.z02 and so on.
// It is the opaque volume reader/writer the core
// treats as an external collaborator, provided here only as a convenience
// default so the core is usable stand-alone.
type FileVolumeSet struct {
	Dir  string
	Base string // archive base name, without extension

	onMissing func(disk int) MissingVolumeAction

	current     *os.File
	currentDisk int
	budget      int64 // max bytes per volume for writing; 0 = unbounded

	// resolvedFinalDisk is the disk index the .zip (as opposed to .zNN)
	// file was last matched against, or -2 if not yet resolved. Since the
	// final volume's name carries no disk number, nothing stops every
	// disk >= the true last one from also matching ".zip"; once one disk
	// claims it, higher disk numbers must fall back to the .zNN form and
	// fail if that doesn't exist, or every probe past the end of the
	// archive would falsely succeed forever.
	resolvedFinalDisk int
}

// NewFileVolumeSet creates a volume set rooted at dir/base.
func NewFileVolumeSet(dir, base string, onMissing func(disk int) MissingVolumeAction) *FileVolumeSet {
	return &FileVolumeSet{Dir: dir, Base: base, onMissing: onMissing, resolvedFinalDisk: -2}
}

func (fv *FileVolumeSet) volumePath(disk int, lastDisk bool) string {
	if lastDisk {
		return filepath.Join(fv.Dir, fv.Base+".zip")
	}
	return filepath.Join(fv.Dir, fmt.Sprintf("%s.z%02d", fv.Base, disk+1))
}

// Open implements VolumeReader. The .zNN name for disk is tried first,
// then the bare .zip name, unless a different disk number has already
// claimed the .zip file. For disk = LastVolume (-1) the .zip name is
// always among the candidates and no disk claim is recorded.
func (fv *FileVolumeSet) Open(disk int) (ReaderAtSize, bool, error) {
	candidates := []string{fv.volumePath(disk, false)}
	// The .zip candidate has no disk number of its own: once some disk
	// has claimed it, it must not also satisfy a query for a later disk,
	// or probing past the end of the archive never terminates.
	if disk < 0 || fv.resolvedFinalDisk < 0 || disk == fv.resolvedFinalDisk {
		candidates = append(candidates, fv.volumePath(disk, true))
	}
	var lastErr error
	for i, p := range candidates {
		f, err := os.Open(p)
		if err == nil {
			info, statErr := f.Stat()
			if statErr != nil {
				f.Close()
				return nil, false, wrapErr(IOError, "", statErr)
			}
			if i == 1 && disk >= 0 {
				fv.resolvedFinalDisk = disk
			}
			return &fileHandle{f: f, size: info.Size()}, true, nil
		}
		lastErr = err
	}
	if os.IsNotExist(lastErr) {
		return nil, false, nil
	}
	return nil, false, wrapErr(IOError, "", lastErr)
}

func (fv *FileVolumeSet) MissingVolume(disk int) MissingVolumeAction {
	if fv.onMissing != nil {
		return fv.onMissing(disk)
	}
	return VolumeAbort
}

// FinalDisk reports the disk number the bare .zip name resolved to, once
// some Open has claimed it. Until then the archive's extent is unknown.
func (fv *FileVolumeSet) FinalDisk() (int, bool) {
	if fv.resolvedFinalDisk >= 0 {
		return fv.resolvedFinalDisk, true
	}
	return 0, false
}

type fileHandle struct {
	f    *os.File
	size int64
}

func (h *fileHandle) ReadAt(p []byte, off int64) (int, error) { return h.f.ReadAt(p, off) }
func (h *fileHandle) Size() int64                             { return h.size }

// SetBudget configures the per-volume byte budget used when writing a
// split archive. 0 means unbounded (single-volume output).
func (fv *FileVolumeSet) SetBudget(n int64) { fv.budget = n }

func (fv *FileVolumeSet) OpenVolume(disk int) error {
	if fv.current != nil {
		if err := fv.CloseVolume(); err != nil {
			return err
		}
	}
	// Volume numbers below the final one always get the .zNN name; the
	// writer doesn't know in advance which disk is final, so it always
	// names non-final volumes .zNN and only renames the last one to .zip
	// when the archive finishes (left to the caller's Finalize step).
	p := fv.volumePath(disk, false)
	f, err := os.Create(p)
	if err != nil {
		return wrapErr(IOError, "", err)
	}
	fv.current = f
	fv.currentDisk = disk
	return nil
}

func (fv *FileVolumeSet) Append(p []byte) (int, error) {
	if fv.current == nil {
		return 0, wrapErr(IOError, "", fmt.Errorf("no volume open"))
	}
	n, err := fv.current.Write(p)
	if err != nil {
		return n, wrapErr(IOError, "", err)
	}
	return n, nil
}

func (fv *FileVolumeSet) CloseVolume() error {
	if fv.current == nil {
		return nil
	}
	err := fv.current.Close()
	fv.current = nil
	if err != nil {
		return wrapErr(IOError, "", err)
	}
	return nil
}

func (fv *FileVolumeSet) PositionInCurrentVolume() int64 {
	if fv.current == nil {
		return 0
	}
	off, err := fv.current.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0
	}
	return off
}

func (fv *FileVolumeSet) Seekable() bool { return true }

func (fv *FileVolumeSet) SeekTo(disk int, offset int64) error {
	if fv.current == nil || fv.currentDisk != disk {
		// Reopen without truncating: SeekTo targets a volume that already
		// holds written data (OpenVolume would create it afresh).
		if err := fv.CloseVolume(); err != nil {
			return err
		}
		f, err := os.OpenFile(fv.volumePath(disk, false), os.O_RDWR, 0)
		if err != nil {
			return wrapErr(IOError, "", err)
		}
		fv.current = f
		fv.currentDisk = disk
	}
	if _, err := fv.current.Seek(offset, io.SeekStart); err != nil {
		return wrapErr(IOError, "", err)
	}
	return nil
}

// RemainingBudget reports how many more bytes may be appended to the
// current volume before the writer must roll over, or -1 if unbounded.
func (fv *FileVolumeSet) RemainingBudget() int64 {
	if fv.budget <= 0 {
		return -1
	}
	return fv.budget - fv.PositionInCurrentVolume()
}

// FinalizeLastVolume renames the highest-numbered written volume to the
// .zip extension, since the writer doesn't learn which disk is final
// until the archive is complete.
func (fv *FileVolumeSet) FinalizeLastVolume(lastDisk int) error {
	oldPath := fv.volumePath(lastDisk, false)
	newPath := fv.volumePath(lastDisk, true)
	if oldPath == newPath {
		return nil
	}
	if err := os.Rename(oldPath, newPath); err != nil {
		return wrapErr(IOError, "", err)
	}
	return nil
}

// MultiVolumeReaderAt joins every disk of a VolumeReader into a single
// flat io.ReaderAt, for callers that want to treat a whole split archive
// as one addressable blob (e.g. handing it to a generic byte-range
// server) instead of working volume-by-volume.
type MultiVolumeReaderAt struct {
	parts []volumePart
	size  int64
}

type volumePart struct {
	offset int64
	handle ReaderAtSize
}

// OpenMultiVolumeReaderAt opens every disk 0..n-1 from vr, where n is the
// first disk Open reports missing, and joins them into one flat reader.
func OpenMultiVolumeReaderAt(vr VolumeReader) (*MultiVolumeReaderAt, error) {
	m := &MultiVolumeReaderAt{}
	for disk := 0; ; disk++ {
		h, ok, err := vr.Open(disk)
		if err != nil {
			return nil, wrapErr(IOError, "", err)
		}
		if !ok {
			break
		}
		m.parts = append(m.parts, volumePart{offset: m.size, handle: h})
		m.size += h.Size()
	}
	return m, nil
}

func (m *MultiVolumeReaderAt) Size() int64 { return m.size }

func (m *MultiVolumeReaderAt) ReadAt(p []byte, off int64) (int, error) {
	if off >= m.size {
		return 0, io.EOF
	}
	i := sort.Search(len(m.parts), func(i int) bool {
		return m.endOffset(i) > off
	})
	var n int
	for ; i < len(m.parts) && len(p) > 0; i++ {
		local := off - m.parts[i].offset
		want := m.endOffset(i) - off
		if int64(len(p)) < want {
			want = int64(len(p))
		}
		got, err := m.parts[i].handle.ReadAt(p[:want], local)
		n += got
		if err != nil && err != io.EOF {
			return n, err
		}
		p = p[got:]
		off += int64(got)
	}
	if len(p) > 0 {
		return n, io.EOF
	}
	return n, nil
}

func (m *MultiVolumeReaderAt) endOffset(i int) int64 {
	if i == len(m.parts)-1 {
		return m.size
	}
	return m.parts[i+1].offset
}

// splitExtension reports whether name looks like a split-volume member
// (".z01".."z99") as opposed to the final ".zip", used by callers wiring
// their own VolumeReader around a directory listing.
func splitExtension(name string) (disk int, ok bool) {
	ext := filepath.Ext(name)
	if len(ext) != 4 || !strings.HasPrefix(ext, ".z") {
		return 0, false
	}
	n := 0
	for _, c := range ext[2:] {
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + int(c-'0')
	}
	return n - 1, true
}
