package qris

import "fmt"

const (
	crcPolynomial = 0x1021
	crcInitial    = 0xFFFF
)

// CRC16 computes CRC-16/CCITT-FALSE over s. Each character contributes its
// low byte, which is all an EMV payload (plain ASCII) ever carries.
func CRC16(s string) uint16 {
	crc := uint16(crcInitial)
	for _, r := range s {
		crc ^= uint16(byte(r)) << 8
		for i := 0; i < 8; i++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ crcPolynomial
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}

// Checksum renders CRC16(s) the way tag 63 carries it.
func Checksum(s string) string {
	return fmt.Sprintf("%04X", CRC16(s))
}
