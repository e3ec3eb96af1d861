// Package bdfa implements the copy-down archive format used by the
// policy master to ship a filesystem tree down to an agent: a
// concatenation of fixed-size header records (hex-encoded mode/uid/gid/
// mtime/size/namesize) each followed by a padded name and, for regular
// files, raw content.
package bdfa

import (
	"fmt"
	"io"

	"github.com/clockwork-mesh/clockwork/internal/errdefs"
)

// headerSize is 4 (magic) + 4 (flags) + 8*6 (mode,uid,gid,mtime,size,namesize)
// bytes = 56.
const headerSize = 56

var magic = [4]byte{'B', 'D', 'F', 'A'}

// Flags values. A terminator record carries flags "0001"; a regular entry
// carries "0000".
const (
	FlagEntry      = 0x0000
	FlagTerminator = 0x0001
)

// Entry is one decoded BDFA record.
type Entry struct {
	Flags   uint32
	Mode    uint32
	UID     uint32
	GID     uint32
	Mtime   int64
	Name    string
	Content []byte // nil for directories/terminator
}

func hex8(v uint64) string  { return fmt.Sprintf("%08x", v) }
func hex4(v uint32) string  { return fmt.Sprintf("%04x", v) }

func padLen(n int) int {
	if r := n % 4; r != 0 {
		return n + (4 - r)
	}
	return n
}

// WriteEntry appends one archive record to w.
func WriteEntry(w io.Writer, e Entry) error {
	name := []byte(e.Name)
	padded := make([]byte, padLen(len(name)+1)) // +1 for NUL terminator, per spec padding to a 4-byte multiple
	copy(padded, name)

	header := fmt.Sprintf("%s%s%s%s%s%s%s",
		string(magic[:]),
		hex4(e.Flags),
		hex8(uint64(e.Mode)),
		hex8(uint64(e.UID)),
		hex8(uint64(e.GID)),
		hex8(uint64(e.Mtime)),
		hex8(uint64(len(e.Content))),
	)
	header += hex8(uint64(len(name)))
	if len(header) != headerSize {
		return fmt.Errorf("%w: internal header size mismatch: %d", errdefs.ErrInvalidArgument, len(header))
	}
	if _, err := io.WriteString(w, header); err != nil {
		return err
	}
	if _, err := w.Write(padded); err != nil {
		return err
	}
	if len(e.Content) > 0 {
		if _, err := w.Write(e.Content); err != nil {
			return err
		}
	}
	return nil
}

// WriteTerminator appends the archive's terminator record.
func WriteTerminator(w io.Writer) error {
	return WriteEntry(w, Entry{Flags: FlagTerminator})
}

// ReadEntry reads one record from r. io.EOF is only returned for a clean
// end of stream before any bytes of the next header were read; a
// truncated header or body is reported as ErrInvalidArgument.
func ReadEntry(r io.Reader) (Entry, bool, error) {
	header := make([]byte, headerSize)
	n, err := io.ReadFull(r, header)
	if err == io.EOF && n == 0 {
		return Entry{}, false, io.EOF
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("%w: truncated bdfa header: %v", errdefs.ErrInvalidArgument, err)
	}
	if string(header[:4]) != string(magic[:]) {
		return Entry{}, false, fmt.Errorf("%w: bad bdfa magic %q", errdefs.ErrInvalidArgument, header[:4])
	}
	flags, err := parseHex(header[4:8])
	if err != nil {
		return Entry{}, false, err
	}
	mode, err := parseHex(header[8:16])
	if err != nil {
		return Entry{}, false, err
	}
	uid, err := parseHex(header[16:24])
	if err != nil {
		return Entry{}, false, err
	}
	gid, err := parseHex(header[24:32])
	if err != nil {
		return Entry{}, false, err
	}
	mtime, err := parseHex(header[32:40])
	if err != nil {
		return Entry{}, false, err
	}
	size, err := parseHex(header[40:48])
	if err != nil {
		return Entry{}, false, err
	}
	namesize, err := parseHex(header[48:56])
	if err != nil {
		return Entry{}, false, err
	}

	if flags == FlagTerminator {
		return Entry{Flags: uint32(flags)}, true, nil
	}

	namebuf := make([]byte, padLen(int(namesize)+1))
	if _, err := io.ReadFull(r, namebuf); err != nil {
		return Entry{}, false, fmt.Errorf("%w: truncated bdfa name: %v", errdefs.ErrInvalidArgument, err)
	}
	name := string(namebuf[:namesize])

	var content []byte
	if size > 0 {
		content = make([]byte, size)
		if _, err := io.ReadFull(r, content); err != nil {
			return Entry{}, false, fmt.Errorf("%w: truncated bdfa content: %v", errdefs.ErrInvalidArgument, err)
		}
	}

	return Entry{
		Flags:   uint32(flags),
		Mode:    uint32(mode),
		UID:     uint32(uid),
		GID:     uint32(gid),
		Mtime:   int64(mtime),
		Name:    name,
		Content: content,
	}, false, nil
}

func parseHex(b []byte) (uint64, error) {
	var v uint64
	for _, c := range b {
		v <<= 4
		switch {
		case c >= '0' && c <= '9':
			v |= uint64(c - '0')
		case c >= 'a' && c <= 'f':
			v |= uint64(c-'a') + 10
		case c >= 'A' && c <= 'F':
			v |= uint64(c-'A') + 10
		default:
			return 0, fmt.Errorf("%w: bad hex digit %q in bdfa header", errdefs.ErrInvalidArgument, c)
		}
	}
	return v, nil
}

// ReadAll reads an entire archive up to and including its terminator
// record and returns the non-terminator entries in order.
func ReadAll(r io.Reader) ([]Entry, error) {
	var entries []Entry
	for {
		e, terminator, err := ReadEntry(r)
		if err == io.EOF {
			return nil, fmt.Errorf("%w: bdfa stream ended without a terminator record", errdefs.ErrInvalidArgument)
		}
		if err != nil {
			return nil, err
		}
		if terminator {
			return entries, nil
		}
		entries = append(entries, e)
	}
}
