package datafmt

import "encoding/binary"

// Strings live inside fixed-size slots: a length prefix, the UTF-8 bytes,
// and zero padding up to the slot size. Field and event strings use a 1-byte
// prefix, table cell values a 2-byte little-endian prefix.

// PutStringSlot8 writes s into slot with a u8 length prefix, truncating to
// what fits, and zero-fills the remainder.
func PutStringSlot8(slot []byte, s string) {
	b := []byte(s)
	max := len(slot) - 1
	if max > 255 {
		max = 255
	}
	if len(b) > max {
		b = b[:max]
	}
	slot[0] = byte(len(b))
	n := copy(slot[1:], b)
	for i := 1 + n; i < len(slot); i++ {
		slot[i] = 0
	}
}

// GetStringSlot8 reads a string written by PutStringSlot8. A length prefix
// larger than the slot is clamped rather than rejected.
func GetStringSlot8(slot []byte) string {
	if len(slot) == 0 {
		return ""
	}
	n := int(slot[0])
	if n > len(slot)-1 {
		n = len(slot) - 1
	}
	return string(slot[1 : 1+n])
}

// PutStringSlot16 writes s into slot with a u16 length prefix.
func PutStringSlot16(slot []byte, s string) {
	b := []byte(s)
	if len(b) > len(slot)-2 {
		b = b[:len(slot)-2]
	}
	binary.LittleEndian.PutUint16(slot, uint16(len(b)))
	n := copy(slot[2:], b)
	for i := 2 + n; i < len(slot); i++ {
		slot[i] = 0
	}
}

// GetStringSlot16 reads a string written by PutStringSlot16.
func GetStringSlot16(slot []byte) string {
	if len(slot) < 2 {
		return ""
	}
	n := int(binary.LittleEndian.Uint16(slot))
	if n > len(slot)-2 {
		n = len(slot) - 2
	}
	return string(slot[2 : 2+n])
}
