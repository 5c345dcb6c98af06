package polish

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

// KF8 layouts reported by mobiHeader.kf8Type.
const (
	kf8None       = ""
	kf8Standalone = "standalone"
	kf8Joint      = "joint"
)

const (
	palmDBHeaderLen = 78
	exthKF8Boundary = 121
	exthFlagPresent = 0x40
	noRecord        = 0xffffffff
)

// mobiHeader is the subset of the PalmDB/MOBI headers needed to decide
// whether a book can be edited.
type mobiHeader struct {
	encryptionType uint16
	mobiVersion    uint32
	kf8Boundary    uint32
	kf8Type        string
}

// readMobiHeader parses the PalmDB record table, record 0 and its EXTH
// block. Only the first record and the record before the KF8 boundary are
// read.
func readMobiHeader(r io.ReaderAt) (*mobiHeader, error) {
	var head [palmDBHeaderLen]byte
	n, err := r.ReadAt(head[:], 0)
	if bytes.HasPrefix(head[:n], []byte("TPZ")) {
		return nil, fmt.Errorf("%w: this is not a MOBI file, it is a Topaz file", ErrInvalidMobi)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: this is not a MOBI file: %w", ErrInvalidMobi, err)
	}
	if string(head[60:68]) != "BOOKMOBI" {
		return nil, fmt.Errorf("%w: this is not a MOBI file", ErrInvalidMobi)
	}
	numRecords := int(binary.BigEndian.Uint16(head[76:]))
	if numRecords == 0 {
		return nil, fmt.Errorf("%w: this is not a MOBI file: no records", ErrInvalidMobi)
	}
	table := make([]byte, numRecords*8)
	if _, err := r.ReadAt(table, palmDBHeaderLen); err != nil {
		return nil, fmt.Errorf("%w: truncated record table: %w", ErrInvalidMobi, err)
	}
	recordOffset := func(i int) int64 { return int64(binary.BigEndian.Uint32(table[i*8:])) }
	recordLen := func(i int) int64 {
		if i+1 < numRecords {
			return recordOffset(i+1) - recordOffset(i)
		}
		return -1
	}

	rec0Len := recordLen(0)
	if rec0Len < 0 || rec0Len > 1<<20 {
		rec0Len = 1 << 16
	}
	rec0 := make([]byte, rec0Len)
	n, err = r.ReadAt(rec0, recordOffset(0))
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("%w: read record 0: %w", ErrInvalidMobi, err)
	}
	rec0 = rec0[:n]
	if len(rec0) < 0x84 || string(rec0[16:20]) != "MOBI" {
		return nil, fmt.Errorf("%w: this is not a MOBI file: missing MOBI header", ErrInvalidMobi)
	}

	h := &mobiHeader{
		encryptionType: binary.BigEndian.Uint16(rec0[12:]),
		mobiVersion:    binary.BigEndian.Uint32(rec0[0x24:]),
		kf8Boundary:    noRecord,
	}
	mobiLen := int(binary.BigEndian.Uint32(rec0[20:]))
	if binary.BigEndian.Uint32(rec0[0x80:])&exthFlagPresent != 0 {
		parseEXTH(rec0, 16+mobiLen, func(typ uint32, data []byte) {
			if typ == exthKF8Boundary && len(data) >= 4 {
				h.kf8Boundary = binary.BigEndian.Uint32(data)
			}
		})
	}

	switch {
	case h.mobiVersion == 8:
		h.kf8Type = kf8Standalone
	case h.kf8Boundary != noRecord && h.kf8Boundary > 0 && int(h.kf8Boundary) < numRecords:
		i := int(h.kf8Boundary) - 1
		var marker [8]byte
		if _, err := r.ReadAt(marker[:], recordOffset(i)); err == nil && string(marker[:]) == "BOUNDARY" {
			h.kf8Type = kf8Joint
		}
	}
	return h, nil
}

// parseEXTH walks the EXTH records starting at off in rec0.
func parseEXTH(rec0 []byte, off int, fn func(typ uint32, data []byte)) {
	if off < 0 || off+12 > len(rec0) || string(rec0[off:off+4]) != "EXTH" {
		return
	}
	count := int(binary.BigEndian.Uint32(rec0[off+8:]))
	pos := off + 12
	for i := 0; i < count && pos+8 <= len(rec0); i++ {
		typ := binary.BigEndian.Uint32(rec0[pos:])
		size := int(binary.BigEndian.Uint32(rec0[pos+4:]))
		if size < 8 || pos+size > len(rec0) {
			return
		}
		fn(typ, rec0[pos+8:pos+size])
		pos += size
	}
}

// checkEditableMobi rejects every MOBI variant that cannot be exploded into
// an editable book: Topaz, DRM-locked, non-KF8 and joint KF8+MOBI6 files.
func checkEditableMobi(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("polish: open %s: %w", path, err)
	}
	defer f.Close()
	h, err := readMobiHeader(f)
	if err != nil {
		return err
	}
	if h.encryptionType != 0 {
		return fmt.Errorf("polish: MOBI encryption type %d: %w", h.encryptionType, ErrDRMProtected)
	}
	switch h.kf8Type {
	case kf8None:
		return fmt.Errorf("%w: this MOBI file does not contain a KF8 format book; only MOBI files that contain KF8 books can be edited", ErrInvalidMobi)
	case kf8Joint:
		return fmt.Errorf("%w: this MOBI file contains both KF8 and older Mobi6 data; only MOBI files that contain only KF8 data can be edited", ErrInvalidMobi)
	}
	return nil
}
