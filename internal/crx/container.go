package crx

import (
	"encoding/binary"
	"fmt"

	sharedErrors "github.com/crxlens/crxlens/internal/shared/errors"
)

// CRX containers start with the "Cr24" magic, a little-endian version, and a
// version-dependent header that wraps the ZIP payload.
var magic = []byte{'C', 'r', '2', '4'}

const (
	// crx2PayloadOffset is where the ZIP payload begins in a version-2
	// container: magic, version, and two length fields, 4 bytes each.
	crx2PayloadOffset = 16
	// crx3FixedPrefix covers magic, version, and header-length fields.
	crx3FixedPrefix = 12
	// crx3TrailerSize is the fixed hash field that follows the CRX3 header.
	crx3TrailerSize = 32
)

// DecodeContainer strips the CRX header from raw package bytes and returns
// the ZIP payload. Both the legacy version-2 layout and the self-describing
// version-3 layout are supported. The header length in a version-3 container
// is untrusted network input, so the computed payload offset is bounds-checked
// before any slicing.
func DecodeContainer(raw []byte) ([]byte, error) {
	if len(raw) < crx3FixedPrefix {
		return nil, fmt.Errorf("%w: %d bytes", sharedErrors.ErrTruncated, len(raw))
	}

	if string(raw[:4]) != string(magic) {
		return nil, fmt.Errorf("%w: missing Cr24 magic", sharedErrors.ErrUnknownFormat)
	}

	version := binary.LittleEndian.Uint32(raw[4:8])
	switch {
	case version == 2:
		if len(raw) < crx2PayloadOffset {
			return nil, fmt.Errorf("%w: %d bytes for CRX2 header", sharedErrors.ErrTruncated, len(raw))
		}
		return raw[crx2PayloadOffset:], nil

	case version >= 3:
		headerLen := binary.LittleEndian.Uint32(raw[8:12])
		offset := int64(crx3FixedPrefix) + int64(headerLen) + int64(crx3TrailerSize)
		if offset < 0 || offset > int64(^uint(0)>>1) {
			return nil, fmt.Errorf("%w: header length %d", sharedErrors.ErrUnknownFormat, headerLen)
		}
		if int64(len(raw)) < offset {
			return nil, fmt.Errorf("%w: need %d bytes, have %d", sharedErrors.ErrTruncated, offset, len(raw))
		}
		return raw[offset:], nil

	default:
		return nil, fmt.Errorf("%w: CRX version %d", sharedErrors.ErrUnknownFormat, version)
	}
}
