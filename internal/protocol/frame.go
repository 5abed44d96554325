// internal/protocol/frame.go
package protocol

// BuildReadRequest builds a Modbus RTU read-request frame.
//
// Layout:
//
//	[deviceID, fc, regHi, regLo, wordsHi, wordsLo, crcLo, crcHi]
//
// There is no error path: the argument types already bound every field
// to its wire range. Callers own the geometry.
func BuildReadRequest(deviceID, functionCode byte, register, words uint16) []byte {
	frame := make([]byte, 8)
	frame[0] = deviceID
	frame[1] = functionCode
	frame[2] = byte(register >> 8)
	frame[3] = byte(register & 0xFF)
	frame[4] = byte(words >> 8)
	frame[5] = byte(words & 0xFF)

	lo, hi := CRC16(frame[:6])
	frame[6] = lo
	frame[7] = hi
	return frame
}
