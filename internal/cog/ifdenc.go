package cog

import (
	"encoding/binary"
	"math"
	"sort"
)

// ifdEntry is a directory entry ready to be encoded (little-endian).
type ifdEntry struct {
	tag      uint16
	dataType uint16
	count    uint32
	value    []byte
}

func shortEntry(tag uint16, vals ...uint16) ifdEntry {
	b := make([]byte, 2*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint16(b[i*2:], v)
	}
	return ifdEntry{tag: tag, dataType: dtShort, count: uint32(len(vals)), value: b}
}

func longEntry(tag uint16, vals ...uint32) ifdEntry {
	b := make([]byte, 4*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint32(b[i*4:], v)
	}
	return ifdEntry{tag: tag, dataType: dtLong, count: uint32(len(vals)), value: b}
}

func doubleEntry(tag uint16, vals ...float64) ifdEntry {
	b := make([]byte, 8*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint64(b[i*8:], math.Float64bits(v))
	}
	return ifdEntry{tag: tag, dataType: dtDouble, count: uint32(len(vals)), value: b}
}

func asciiEntry(tag uint16, s string) ifdEntry {
	b := append([]byte(s), 0)
	return ifdEntry{tag: tag, dataType: dtASCII, count: uint32(len(b)), value: b}
}

// ifdEncoder lays out a classic little-endian TIFF with one IFD at offset 8
// followed by the values that do not fit in the 4-byte entry field.
type ifdEncoder struct {
	entries []ifdEntry
}

func newIFDEncoder(entries []ifdEntry) *ifdEncoder {
	sorted := append([]ifdEntry(nil), entries...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].tag < sorted[j].tag })
	return &ifdEncoder{entries: sorted}
}

// set replaces the entry with the same tag. The value size must not change,
// otherwise offsets computed from size() become stale.
func (e *ifdEncoder) set(entry ifdEntry) {
	for i := range e.entries {
		if e.entries[i].tag == entry.tag {
			e.entries[i] = entry
			return
		}
	}
}

func (e *ifdEncoder) directorySize() int64 {
	return 2 + 12*int64(len(e.entries)) + 4
}

// size returns the encoded length, which is also the first free offset.
func (e *ifdEncoder) size() int64 {
	n := 8 + e.directorySize()
	for _, entry := range e.entries {
		if len(entry.value) > 4 {
			n += int64(len(entry.value) + len(entry.value)%2)
		}
	}
	return n
}

func (e *ifdEncoder) encode() []byte {
	bo := binary.LittleEndian
	buf := make([]byte, e.size())
	copy(buf, "II")
	bo.PutUint16(buf[2:], 42)
	bo.PutUint32(buf[4:], 8)

	bo.PutUint16(buf[8:], uint16(len(e.entries)))
	overflow := 8 + e.directorySize()
	for i, entry := range e.entries {
		p := buf[10+12*i:]
		bo.PutUint16(p[0:], entry.tag)
		bo.PutUint16(p[2:], entry.dataType)
		bo.PutUint32(p[4:], entry.count)
		if len(entry.value) <= 4 {
			copy(p[8:12], entry.value)
			continue
		}
		bo.PutUint32(p[8:], uint32(overflow))
		copy(buf[overflow:], entry.value)
		overflow += int64(len(entry.value) + len(entry.value)%2)
	}
	// The next-IFD offset after the entries stays zero.
	return buf
}
