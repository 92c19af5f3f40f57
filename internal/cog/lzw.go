package cog

// TIFF LZW differs from the GIF flavour in Go's compress/lzw: the code
// width grows one code early ("early change"). This decoder follows the
// TIFF 6.0 description with MSB-first bit order.

import "errors"

const (
	lzwMaxWidth  = 12
	lzwClearCode = 256
	lzwEOICode   = 257
	lzwFirstCode = 258
	lzwTableSize = 1 << lzwMaxWidth
)

var errLZWInvalidCode = errors.New("lzw: invalid code")

// lzwEntry is one string in the code table, stored as a back-linked list.
type lzwEntry struct {
	prefix int32 // previous entry, -1 for literals
	suffix byte
	length int32
}

// decompressTIFFLZW decompresses a TIFF LZW stream. A stream that ends
// without an EOI code returns what was decoded so far.
func decompressTIFFLZW(src []byte) ([]byte, error) {
	if len(src) == 0 {
		return nil, nil
	}

	var table [lzwTableSize + 1]lzwEntry
	for i := 0; i < 256; i++ {
		table[i] = lzwEntry{prefix: -1, suffix: byte(i), length: 1}
	}

	out := make([]byte, 0, len(src)*3)
	var (
		bits     uint32 // bit buffer, MSB aligned to nbits
		nbits    uint
		pos      int
		width    uint = 9
		next          = lzwFirstCode
		prev          = -1
		sawClear      = false
	)

	// appendString writes the string of code to out and returns its first byte.
	appendString := func(code int) byte {
		n := int(table[code].length)
		start := len(out)
		out = append(out, make([]byte, n)...)
		for i := start + n - 1; code >= 0; i-- {
			out[i] = table[code].suffix
			code = int(table[code].prefix)
		}
		return out[start]
	}

	for {
		for nbits < width {
			if pos >= len(src) {
				return out, nil
			}
			bits = bits<<8 | uint32(src[pos])
			pos++
			nbits += 8
		}
		code := int(bits>>(nbits-width)) & (1<<width - 1)
		nbits -= width

		switch {
		case code == lzwClearCode:
			sawClear = true
			width = 9
			next = lzwFirstCode
			prev = -1
			continue
		case code == lzwEOICode:
			return out, nil
		case !sawClear:
			return nil, errors.New("lzw: first code is not clear code")
		}

		if prev == -1 {
			if code >= 256 {
				return nil, errors.New("lzw: first code after clear is not literal")
			}
			appendString(code)
			prev = code
			continue
		}

		var first byte
		switch {
		case code < next:
			first = appendString(code)
		case code == next:
			// KwKwK: the string is prev's string plus its own first byte.
			first = appendString(prev)
			out = append(out, first)
		default:
			return nil, errLZWInvalidCode
		}

		if next <= lzwTableSize {
			table[next] = lzwEntry{prefix: int32(prev), suffix: first, length: table[prev].length + 1}
			next++
		}
		if next+1 >= 1<<width && width < lzwMaxWidth {
			width++
		}
		prev = code
	}
}
