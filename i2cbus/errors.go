package i2cbus

import (
	"errors"
	"fmt"
)

var (
	// ErrTransfer matches any *TransferError
	ErrTransfer = errors.New("i2c transfer failed")
	// ErrValidation is wrapped by driver errors for values rejected before touching the bus
	ErrValidation = errors.New("invalid value")
)

// TransferError reports a write or read that did not move the expected number of bytes.
// It covers a disconnected device, an address mismatch and electrical faults alike.
type TransferError struct {
	Addr uint16
	Op   string
	Want int
	Got  int
	Err  error
}

func (e *TransferError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("i2c %s at 0x%02X: %d of %d bytes: %v", e.Op, e.Addr, e.Got, e.Want, e.Err)
	}
	return fmt.Sprintf("i2c %s at 0x%02X: %d of %d bytes", e.Op, e.Addr, e.Got, e.Want)
}

func (e *TransferError) Is(target error) bool { return target == ErrTransfer }

func (e *TransferError) Unwrap() error { return e.Err }

// StepError is returned by composite sequences that abort at their first failing step.
// Steps that already succeeded are not undone.
type StepError struct {
	Device string
	Step   string
	Err    error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Device, e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }
