package vbmeta

import (
	"fmt"
	"io"
	"os"

	"github.com/golang/glog"
	"github.com/hashicorp/go-multierror"
)

// Result of a patch: the flags byte before and after.
type Result struct {
	Old Flags
	New Flags
}

// Patch sets the bits of mask in the flags byte of the vbmeta image behind rws.
// rws must be positioned at the start of the image. Bits are only ever set,
// never cleared, so patching twice with the same mask is a no-op.
//
// A short read or wrong magic is reported as ErrNotVBMeta, and nothing is
// written in that case. Any later I/O failure is reported as ErrPatch.
func Patch(rws io.ReadWriteSeeker, mask Flags) (*Result, error) {
	magic := make([]byte, MagicLen)
	if _, err := io.ReadFull(rws, magic); err != nil {
		return nil, fmt.Errorf("%w: could not read magic: %w", ErrNotVBMeta, err)
	}
	if string(magic) != Magic {
		return nil, fmt.Errorf("%w: bad magic %q", ErrNotVBMeta, magic)
	}

	if _, err := rws.Seek(FlagsOffset, io.SeekStart); err != nil {
		return nil, fmt.Errorf("%w: could not seek to flags: %w", ErrPatch, err)
	}
	buf := make([]byte, 1)
	if _, err := io.ReadFull(rws, buf); err != nil {
		return nil, fmt.Errorf("%w: could not read flags: %w", ErrPatch, err)
	}

	res := &Result{
		Old: Flags(buf[0]),
		New: Flags(buf[0]) | mask,
	}
	glog.V(1).Infof("Flags at 0x%x: %02x -> %02x", FlagsOffset, uint8(res.Old), uint8(res.New))

	// Write back.
	buf[0] = byte(res.New)
	if _, err := rws.Seek(FlagsOffset, io.SeekStart); err != nil {
		return nil, fmt.Errorf("%w: could not seek back to flags: %w", ErrPatch, err)
	}
	if _, err := rws.Write(buf); err != nil {
		return nil, fmt.Errorf("%w: could not write flags: %w", ErrPatch, err)
	}
	return res, nil
}

// PatchFile opens the image at path for reading and writing and patches it
// in place. The file must already exist.
func PatchFile(path string, mask Flags) (res *Result, err error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("%w %q: %w", ErrAccess, path, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil {
			err = multierror.Append(err, fmt.Errorf("%w: could not close image: %w", ErrPatch, cerr))
		}
	}()

	if glog.V(1) {
		if h, err := ReadHeader(f); err == nil {
			glog.Infof("%s: libavb %d.%d, algorithm %d, rollback index %d, flags 0x%08x (%s)",
				path, h.RequiredLibavbVersionMajor, h.RequiredLibavbVersionMinor,
				h.AlgorithmType, h.RollbackIndex, h.Flags, h.VerificationFlags())
		} else {
			glog.Infof("%s: could not decode header: %v", path, err)
		}
	}

	return Patch(f, mask)
}
