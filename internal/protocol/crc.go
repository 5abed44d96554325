// internal/protocol/crc.go
package protocol

// CRC16 computes the Modbus CRC16 of data.
// Polynomial 0xA001, initial value 0xFFFF, LSB-first.
// Returns (low, high); the low byte goes on the wire first.
func CRC16(data []byte) (lo, hi byte) {
	crc := uint16(0xFFFF)
	for _, b := range data {
		crc ^= uint16(b)
		for i := 0; i < 8; i++ {
			if crc&0x0001 != 0 {
				crc = (crc >> 1) ^ 0xA001
			} else {
				crc >>= 1
			}
		}
	}
	return byte(crc & 0xFF), byte(crc >> 8)
}
