// Package vbmeta implements in-place patching of the flags word of Android
// Verified Boot 'vbmeta' images.
//
// Only the fixed header is ever looked at: the magic at offset 0 is used as a
// sanity check, and the low byte of the big-endian flags word (offset 123) is
// OR-ed with the requested disable bits. Hash trees, descriptors and
// signatures are left alone.
//
// Reference: https://android.googlesource.com/platform/external/avb/+/master/libavb/avb_vbmeta_image.h
package vbmeta

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"
)

const (
	// Magic at the start of every vbmeta image.
	Magic    = "AVB0"
	MagicLen = 4

	// FlagsOffset is the offset of the least significant byte of the
	// big-endian flags word in the vbmeta header.
	FlagsOffset = 123
)

// Flags is the low byte of the vbmeta header flags word. Bits other than the
// ones defined here are carried through untouched.
type Flags uint8

const (
	// Disables dm-verity (hashtree verification) on boot.
	FlagDisableVerity Flags = 0x01
	// Disables verification of the descriptor chain altogether.
	FlagDisableVerification Flags = 0x02
)

var flagNames = []struct {
	flag Flags
	name string
}{
	{FlagDisableVerity, "dm-verity"},
	{FlagDisableVerification, "dm-verification"},
}

// String names the known bits that are set, verity first.
func (f Flags) String() string {
	var parts []string
	for _, fn := range flagNames {
		if f&fn.flag != 0 {
			parts = append(parts, fn.name)
		}
	}
	if rest := f &^ (FlagDisableVerity | FlagDisableVerification); rest != 0 {
		parts = append(parts, fmt.Sprintf("0x%02x", uint8(rest)))
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, " ")
}

var (
	ErrAccess    = errors.New("unable to access image")
	ErrNotVBMeta = errors.New("not a valid vbmeta image")
	ErrPatch     = errors.New("failed when patching the vbmeta image")
)

// Header is the fixed-size prefix of an AvbVBMetaImageHeader, up to and
// including the flags word. Everything is stored big-endian.
type Header struct {
	Magic                       [MagicLen]byte
	RequiredLibavbVersionMajor  uint32
	RequiredLibavbVersionMinor  uint32
	AuthenticationDataBlockSize uint64
	AuxiliaryDataBlockSize      uint64
	AlgorithmType               uint32
	HashOffset                  uint64
	HashSize                    uint64
	SignatureOffset             uint64
	SignatureSize               uint64
	PublicKeyOffset             uint64
	PublicKeySize               uint64
	PublicKeyMetadataOffset     uint64
	PublicKeyMetadataSize       uint64
	DescriptorsOffset           uint64
	DescriptorsSize             uint64
	RollbackIndex               uint64
	Flags                       uint32
}

// HeaderSize is the number of bytes ReadHeader consumes.
var HeaderSize = binary.Size(Header{})

// VerificationFlags returns the patchable low byte of the flags word.
func (h *Header) VerificationFlags() Flags {
	return Flags(h.Flags & 0xff)
}

// ReadHeader decodes the header prefix at the start of r. It checks the magic
// but does not otherwise validate anything.
func ReadHeader(r io.ReaderAt) (*Header, error) {
	var h Header
	if err := binary.Read(io.NewSectionReader(r, 0, int64(HeaderSize)), binary.BigEndian, &h); err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	if string(h.Magic[:]) != Magic {
		return nil, ErrNotVBMeta
	}
	return &h, nil
}
