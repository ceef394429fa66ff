package streams

import (
	"encoding/binary"
	"hash/crc32"
)

// Hash is the PDB name hash used by the TPI hash stream and the globals
// index, reduced modulo mod.
func Hash(name string, mod uint32) uint32 {
	b := []byte(name)
	var h uint32
	i := 0
	for ; i+4 <= len(b); i += 4 {
		h ^= binary.LittleEndian.Uint32(b[i:])
	}
	if len(b)&2 != 0 {
		h ^= uint32(binary.LittleEndian.Uint16(b[i:]))
		i += 2
	}
	if len(b)&1 != 0 {
		h ^= uint32(b[i])
	}
	h |= 0x20202020
	h ^= h >> 11
	h ^= h >> 16
	return h % mod
}

// Sig is the raw CRC-32 of b: reflected IEEE polynomial, no initial or final
// inversion.
func Sig(b []byte, seed uint32) uint32 {
	h := seed
	for _, c := range b {
		h = crc32.IEEETable[byte(h)^c] ^ h>>8
	}
	return h
}
