// internal/protocol/response.go
package protocol

import (
	"errors"
	"fmt"
)

// Validation errors. The session treats all of them as "command failed,
// keep going"; the distinctions exist for logs and tests.
var (
	ErrEmptyResponse = errors.New("protocol: empty response")
	ErrShortResponse = errors.New("protocol: response shorter than minimum frame")
)

// ExceptionError is a Modbus exception response: the request reached the
// device and the device refused it.
type ExceptionError struct {
	FunctionCode byte
	Code         byte
}

func (e *ExceptionError) Error() string {
	return fmt.Sprintf("protocol: modbus exception: fc=0x%02x code=%d", e.FunctionCode, e.Code)
}

// minResponseLen is device id + function code + byte count + 2 CRC bytes.
const minResponseLen = 5

// ValidateResponse checks the shape and error flags of a raw response.
//
// It does NOT reject on CRC mismatch: responses ride a framed GATT
// notification stream and the devices are known to emit frames the
// strict check would drop. Use CRCMismatch separately to log.
func ValidateResponse(raw []byte) error {
	if len(raw) == 0 {
		return ErrEmptyResponse
	}
	if len(raw) < minResponseLen {
		return fmt.Errorf("%w: %d bytes", ErrShortResponse, len(raw))
	}
	if raw[1]&0x80 != 0 {
		return &ExceptionError{FunctionCode: raw[1], Code: raw[2]}
	}
	return nil
}

// CRCMismatch recomputes the trailing CRC of a validated response and
// reports whether it disagrees with the received bytes. Callers log the
// mismatch; they never reject on it.
func CRCMismatch(raw []byte) bool {
	if len(raw) < minResponseLen {
		return false
	}
	lo, hi := CRC16(raw[:len(raw)-2])
	return raw[len(raw)-2] != lo || raw[len(raw)-1] != hi
}
