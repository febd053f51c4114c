package source

// reader.go holds the byte-level readers applied to text sources before
// parsing:
//
//   - bomReader drops a leading UTF-8 byte order mark
//   - utf8Reader replaces invalid UTF-8 bytes with '?' without buffering
//     the whole input
//   - limitReader fails with ErrFileTooLarge past a byte cap
//
// wrapText applies all three in that order.

import (
	"bytes"
	"fmt"
	"io"
	"unicode/utf8"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

type bomReader struct {
	r       io.Reader
	checked bool
	head    []byte
}

func newBOMReader(r io.Reader) *bomReader {
	return &bomReader{r: r}
}

func (b *bomReader) Read(p []byte) (int, error) {
	if !b.checked {
		b.checked = true
		buf := make([]byte, len(utf8BOM))
		n, err := io.ReadFull(b.r, buf)
		switch {
		case err == io.ErrUnexpectedEOF || err == io.EOF:
			// Short input: keep whatever was read.
		case err != nil:
			return 0, err
		}
		if n == len(utf8BOM) && bytes.Equal(buf, utf8BOM) {
			n = 0
		}
		b.head = buf[:n]
	}

	if len(b.head) > 0 {
		n := copy(p, b.head)
		b.head = b.head[n:]
		return n, nil
	}
	return b.r.Read(p)
}

type utf8Reader struct {
	r       io.Reader
	pending []byte
	eof     bool
}

func newUTF8Reader(r io.Reader) *utf8Reader {
	return &utf8Reader{r: r, pending: make([]byte, 0, utf8.UTFMax)}
}

func (u *utf8Reader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	off := copy(p, u.pending)
	u.pending = u.pending[:0]

	var err error
	n := off
	if !u.eof && off < len(p) {
		var m int
		m, err = u.r.Read(p[off:])
		n += m
		if err == io.EOF {
			u.eof = true
		}
	} else if u.eof {
		err = io.EOF
	}
	if n == 0 {
		return 0, err
	}

	data := p[:n]
	if !u.eof {
		// Hold back a possibly split rune for the next call.
		if tail := splitRuneTail(data); tail > 0 {
			u.pending = append(u.pending, data[len(data)-tail:]...)
			data = data[:len(data)-tail]
		}
	}
	if utf8.Valid(data) {
		return len(data), err
	}

	w := 0
	for i := 0; i < len(data); {
		r, size := utf8.DecodeRune(data[i:])
		if r == utf8.RuneError && size == 1 {
			data[w] = '?'
			w++
			i++
			continue
		}
		copy(data[w:], data[i:i+size])
		w += size
		i += size
	}
	return w, err
}

// splitRuneTail returns how many trailing bytes start a multi-byte rune that
// is not complete yet.
func splitRuneTail(data []byte) int {
	for i := 1; i <= utf8.UTFMax-1 && i <= len(data); i++ {
		c := data[len(data)-i]
		if c&0xC0 == 0x80 {
			continue
		}
		if c >= 0xC0 && runeWidth(c) > i {
			return i
		}
		return 0
	}
	return 0
}

func runeWidth(lead byte) int {
	switch {
	case lead < 0x80:
		return 1
	case lead < 0xE0:
		return 2
	case lead < 0xF0:
		return 3
	}
	return 4
}

type limitReader struct {
	r     io.Reader
	limit int64
	read  int64
}

func (l *limitReader) Read(p []byte) (int, error) {
	n, err := l.r.Read(p)
	l.read += int64(n)
	if l.limit > 0 && l.read > l.limit {
		return n, fmt.Errorf("%w: exceeds %d bytes", ErrFileTooLarge, l.limit)
	}
	return n, err
}

// wrapText prepares a text source for parsing.
func wrapText(r io.Reader, maxBytes int64) io.Reader {
	return newUTF8Reader(newBOMReader(&limitReader{r: r, limit: maxBytes}))
}
