package polish

import (
	"archive/zip"
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/flate"
	"golang.org/x/text/unicode/norm"
)

// maxDecompressSize is the maximum allowed decompressed size for a single ZIP entry.
// This guards against zip bomb attacks. Defaults to 256 MB.
const maxDecompressSize int64 = 256 * 1024 * 1024

// Files never written into a rebuilt EPUB.
var zipExcludedFiles = map[string]bool{
	".DS_Store":            true,
	"mimetype":             true,
	"iTunesMetadata.plist": true,
}

// isSafePath checks whether p is a safe ZIP-internal path that does not
// escape the archive root via path traversal (e.g., "../../../etc/passwd").
func isSafePath(p string) bool {
	cleaned := path.Clean(p)
	if strings.HasPrefix(cleaned, "/") {
		return false
	}
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return false
	}
	return true
}

// stripBOM removes a leading UTF-8 BOM (0xEF 0xBB 0xBF) from data, if present.
func stripBOM(data []byte) []byte {
	if len(data) >= 3 && data[0] == 0xEF && data[1] == 0xBB && data[2] == 0xBF {
		return data[3:]
	}
	return data
}

func newFlateReader(r io.Reader) io.ReadCloser { return flate.NewReader(r) }

// extractZip unpacks the archive at src into dest. Entries with unsafe
// paths abort the extraction.
func extractZip(src, dest string) error {
	zr, err := zip.OpenReader(src)
	if err != nil {
		return err
	}
	defer zr.Close()
	zr.RegisterDecompressor(zip.Deflate, newFlateReader)
	for _, f := range zr.File {
		if strings.HasSuffix(f.Name, "/") {
			continue
		}
		if err := extractZipEntry(f, dest, maxDecompressSize); err != nil {
			return err
		}
	}
	return nil
}

// extractZipEntry writes one entry below dest. It enforces limit to guard
// against zip bombs and validates that the entry path is safe.
func extractZipEntry(f *zip.File, dest string, limit int64) error {
	if !isSafePath(f.Name) {
		return fmt.Errorf("polish: unsafe zip entry path: %s", f.Name)
	}
	if f.UncompressedSize64 > uint64(limit) {
		return fmt.Errorf("polish: zip entry %s too large: %d bytes (max %d)", f.Name, f.UncompressedSize64, limit)
	}
	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("polish: open zip entry %s: %w", f.Name, err)
	}
	defer rc.Close()
	return writeEntry(dest, f.Name, rc, limit)
}

// writeEntry copies at most limit bytes of r to dest/name. Reading one byte
// past the limit detects entries whose declared size is forged.
func writeEntry(dest, name string, r io.Reader, limit int64) error {
	target := filepath.Join(dest, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	out, err := os.Create(target)
	if err != nil {
		return err
	}
	n, err := io.Copy(out, io.LimitReader(r, limit+1))
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("polish: read zip entry %s: %w", name, err)
	}
	if n > limit {
		return fmt.Errorf("polish: zip entry %s decompressed size exceeds limit (%d bytes)", name, limit)
	}
	return nil
}

const (
	localHeaderSig   = 0x04034b50
	centralHeaderSig = 0x02014b50
	dataDescSig      = 0x08074b50
	flagDataDesc     = 0x0008
)

// extractForgiving unpacks an archive by walking its local file headers,
// ignoring the central directory. It recovers books whose central
// directory is truncated or inconsistent.
func extractForgiving(src, dest string) error {
	f, err := os.Open(src)
	if err != nil {
		return err
	}
	defer f.Close()
	br := bufio.NewReader(f)
	var hdr [30]byte
	for {
		if _, err := io.ReadFull(br, hdr[:4]); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil
			}
			return err
		}
		if sig := binary.LittleEndian.Uint32(hdr[:4]); sig != localHeaderSig {
			if sig == centralHeaderSig {
				return nil
			}
			return fmt.Errorf("polish: bad local header signature %#x", sig)
		}
		if _, err := io.ReadFull(br, hdr[4:]); err != nil {
			return err
		}
		flags := binary.LittleEndian.Uint16(hdr[6:])
		method := binary.LittleEndian.Uint16(hdr[8:])
		csize := int64(binary.LittleEndian.Uint32(hdr[18:]))
		nameLen := int(binary.LittleEndian.Uint16(hdr[26:]))
		extraLen := int64(binary.LittleEndian.Uint16(hdr[28:]))
		nameBuf := make([]byte, nameLen)
		if _, err := io.ReadFull(br, nameBuf); err != nil {
			return err
		}
		if _, err := br.Discard(int(extraLen)); err != nil {
			return err
		}
		name := string(nameBuf)
		if !isSafePath(name) {
			return fmt.Errorf("polish: unsafe zip entry path: %s", name)
		}
		streamed := flags&flagDataDesc != 0 && csize == 0

		raw := &io.LimitedReader{R: br, N: csize}
		var body io.Reader
		switch method {
		case zip.Store:
			if streamed {
				data, err := readStoredStreamed(br, maxDecompressSize)
				if err != nil {
					return fmt.Errorf("polish: recover stored entry %s: %w", name, err)
				}
				body = bytes.NewReader(data)
				flags &^= flagDataDesc
			} else {
				body = raw
			}
		case zip.Deflate:
			if streamed {
				body = flate.NewReader(br)
			} else {
				body = flate.NewReader(raw)
			}
		default:
			return fmt.Errorf("polish: unsupported compression method %d for %s", method, name)
		}
		if !strings.HasSuffix(name, "/") {
			if err := writeEntry(dest, name, body, maxDecompressSize); err != nil {
				return err
			}
		}
		if !streamed {
			// Skip whatever the decompressor left unread.
			if _, err := io.Copy(io.Discard, raw); err != nil {
				return err
			}
		}
		if flags&flagDataDesc != 0 {
			if err := skipDataDescriptor(br); err != nil {
				return err
			}
		}
	}
}

// readStoredStreamed reads an uncompressed entry of unknown size up to and
// including its data descriptor. The end is the first descriptor signature
// whose recorded size matches the bytes read so far.
func readStoredStreamed(br *bufio.Reader, limit int64) ([]byte, error) {
	var buf bytes.Buffer
	for {
		b, err := br.ReadByte()
		if err != nil {
			return nil, err
		}
		buf.WriteByte(b)
		if int64(buf.Len()) > limit+4 {
			return nil, fmt.Errorf("entry exceeds limit (%d bytes)", limit)
		}
		n := buf.Len()
		if n < 4 || binary.LittleEndian.Uint32(buf.Bytes()[n-4:]) != dataDescSig {
			continue
		}
		desc, err := br.Peek(12)
		if err != nil {
			continue
		}
		if int(binary.LittleEndian.Uint32(desc[4:])) == n-4 {
			if _, err := br.Discard(12); err != nil {
				return nil, err
			}
			return buf.Bytes()[:n-4], nil
		}
	}
}

// skipDataDescriptor consumes the optional-signature data descriptor that
// follows a streamed entry.
func skipDataDescriptor(br *bufio.Reader) error {
	peek, err := br.Peek(4)
	if err != nil {
		return err
	}
	n := 12
	if binary.LittleEndian.Uint32(peek) == dataDescSig {
		n = 16
	}
	_, err = br.Discard(n)
	return err
}

// rebuildZip packs root into an EPUB archive at outPath: the mimetype entry
// first and uncompressed, every other file deflated, names NFC-normalized.
// The archive is written to a temporary file and renamed into place.
func rebuildZip(root, outPath string, modified time.Time) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(outPath), ".polish-*.tmp")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	zw := zip.NewWriter(tmp)
	zw.RegisterCompressor(zip.Deflate, func(w io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(w, flate.BestCompression)
	})
	modified = modified.UTC().Truncate(time.Second)
	w, err := zw.CreateHeader(&zip.FileHeader{Name: "mimetype", Method: zip.Store, Modified: modified})
	if err != nil {
		return err
	}
	if _, err := io.WriteString(w, MediaTypeEPUB); err != nil {
		return err
	}

	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || zipExcludedFiles[d.Name()] {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		w, err := zw.CreateHeader(&zip.FileHeader{
			Name:     norm.NFC.String(filepath.ToSlash(rel)),
			Method:   zip.Deflate,
			Modified: modified,
		})
		if err != nil {
			return err
		}
		src, err := os.Open(p)
		if err != nil {
			return err
		}
		defer src.Close()
		_, err = io.Copy(w, src)
		return err
	})
	if err != nil {
		return err
	}
	if err := zw.Close(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	// CreateTemp makes the file 0600; keep the mode of the book being
	// replaced.
	mode := fs.FileMode(0o644)
	if fi, statErr := os.Stat(outPath); statErr == nil {
		mode = fi.Mode().Perm()
	}
	if err := os.Chmod(tmp.Name(), mode); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), outPath)
}
