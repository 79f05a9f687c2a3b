/*
Package zipcore implements the PKZIP directory model: a scanner that
recovers the entry table from an existing archive (regular or salvage
mode), a writer/copier that emits a new one, and the Zip64, Unicode-path
and multi-volume extensions that sit on top of the classic format.

See: https://www.pkware.com/appnote
*/
package zipcore

import "errors"

// Archive is the archive-context value: the entry
// table, configuration, volume collaborators and diagnostics channel,
// passed explicitly rather than kept as package-level state. Every
// scanner/writer operation is a method on this type or takes one as an
// argument; there is no hidden global.
type Archive struct {
	Table *Table
	Cfg   *Config
	Diag  DiagnosticsFunc

	Reader VolumeReader
	Writer VolumeWriter
}

// Open scans an existing archive in regular mode, falling back to
// salvage mode on a structural failure — a damaged or truncated
// directory. OpenRegular and OpenSalvage are exposed separately for
// callers that want to choose the mode directly.
func Open(vr VolumeReader, cfg *Config, diag DiagnosticsFunc) (*Archive, error) {
	ar := &Archive{Cfg: cfg, Diag: diag, Reader: vr}
	table, err := NewScanner(vr, cfg, diag).ScanRegular()
	if err != nil {
		var zerr *Error
		if errors.As(err, &zerr) && (zerr.Kind == FormatError || zerr.Kind == ShortData) {
			diag.emit(zerr.Kind, zerr.Entry, err)
			table, err = NewScanner(vr, cfg, diag).ScanSalvage()
		}
	}
	if err != nil {
		return ar, err
	}
	ar.Table = table
	return ar, nil
}

// OpenRegular scans in regular mode only, with no salvage fallback.
func OpenRegular(vr VolumeReader, cfg *Config, diag DiagnosticsFunc) (*Archive, error) {
	ar := &Archive{Cfg: cfg, Diag: diag, Reader: vr}
	table, err := NewScanner(vr, cfg, diag).ScanRegular()
	if err != nil {
		return ar, err
	}
	ar.Table = table
	return ar, nil
}

// OpenSalvage runs the signature-scanning recovery scan instead of
// trusting the central directory, for archives too damaged for Open.
func OpenSalvage(vr VolumeReader, cfg *Config, diag DiagnosticsFunc) (*Archive, error) {
	ar := &Archive{Cfg: cfg, Diag: diag, Reader: vr}
	table, err := NewScanner(vr, cfg, diag).ScanSalvage()
	if err != nil {
		return ar, err
	}
	ar.Table = table
	return ar, nil
}

// NewArchive creates an empty archive-context ready to receive new
// entries via a Writer.
func NewArchive(vw VolumeWriter, cfg *Config, diag DiagnosticsFunc) *Archive {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Archive{Table: &Table{}, Cfg: cfg, Diag: diag, Writer: vw}
}

// NewWriter binds a Writer to ar.Writer using ar.Cfg/ar.Diag. Callers
// add new entries with w.BeginEntry/Write/Close and copy surviving
// entries with a Copier bound to ar.Reader, then call
// w.WriteCentralDirectoryAndEOCD once every entry in ar.Table has been
// emitted.
func (ar *Archive) NewWriter() *Writer {
	return NewWriter(ar.Writer, ar.Cfg, ar.Diag)
}

// Save is the convenience path for a pure copy/prune/rename pass: every
// entry in ar.Table must already be marked Keep or CopyEntry (no new
// content to emit), and Save streams each one from ar.Reader through a
// Copier before writing the central directory and EOCD. Archives that
// add or replace entries should drive a Writer directly instead.
func (ar *Archive) Save(comment []byte) error {
	w := ar.NewWriter()
	copier := NewCopier(ar.Reader, ar.Diag)
	for _, e := range ar.Table.Entries {
		if e.Selection == Delete {
			continue
		}
		if err := copier.Copy(w, e, false); err != nil {
			return err
		}
	}
	return w.WriteCentralDirectoryAndEOCD(comment)
}
