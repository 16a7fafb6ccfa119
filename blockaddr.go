package cants

import (
	"bytes"
	"encoding/binary"
)

// encodeStartAddress little-endian-encodes addr and trims trailing zero
// bytes down to a minimum length of 1, per §6's wire-format rule for SB/GB
// start addresses.
func encodeStartAddress(addr uint64) []byte {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], addr)
	n := 8
	for n > 1 && buf[n-1] == 0 {
		n--
	}
	return append([]byte(nil), buf[:n]...)
}

func bytesEqual(a, b []byte) bool {
	return bytes.Equal(a, b)
}

// dataChunk returns the 8-byte-or-shorter slice of data belonging to block
// seq (the last block may be shorter than 8 bytes).
func dataChunk(data []byte, seq byte) []byte {
	start := int(seq) * 8
	end := start + 8
	if end > len(data) {
		end = len(data)
	}
	if start > len(data) {
		start = len(data)
	}
	return data[start:end]
}

// firstClearSeq scans bitmap for the first clear bit below blocks, used by
// SB's burst sender and its report-driven retransmission.
func firstClearSeq(bitmap Bitmap, blocks byte) (byte, bool) {
	for i := 0; i < int(blocks); i++ {
		if !bitmap.IsBitSet(i) {
			return byte(i), true
		}
	}
	return 0, false
}
