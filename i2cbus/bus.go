package i2cbus

/*
 * i2cbus - Synchronous I2C transport shared by the sensor drivers.
 *
 * Ref:
 * https://pkg.go.dev/golang.org/x/exp/io/i2c
 *
 */

import (
	"fmt"
	"sync"

	"golang.org/x/exp/io/i2c"
)

// Bus is a synchronous request/response primitive on a two-wire bus.
// Addresses are 7-bit. Implementations do not retry or queue.
type Bus interface {
	// Write sends w to addr and returns how many bytes were accepted.
	Write(addr uint16, w []byte) (int, error)

	// WriteRead optionally writes w, then reads n bytes. When hold is true the
	// bus is not released between the two phases (repeated start).
	// An empty w performs a bare read.
	WriteRead(addr uint16, w []byte, n int, hold bool) ([]byte, error)
}

// Devfs is a Bus backed by a Linux /dev/i2c-N character device.
// One handle is opened per address, on first use.
type Devfs struct {
	Path    string
	devices map[uint16]*i2c.Device
	*sync.Mutex
}

// Open a Linux I2C bus. The device nodes are not touched until the first transfer.
func NewDevfs(path string) *Devfs {
	if path == "" {
		// i2c-1 is the default I2C bus for the Raspberry Pi
		path = "/dev/i2c-1"
	}
	return &Devfs{
		Path:    path,
		devices: make(map[uint16]*i2c.Device),
		Mutex:   &sync.Mutex{},
	}
}

func (b *Devfs) device(addr uint16) (*i2c.Device, error) {
	if d, ok := b.devices[addr]; ok {
		return d, nil
	}
	d, err := i2c.Open(&i2c.Devfs{Dev: b.Path}, int(addr))
	if err != nil {
		return nil, fmt.Errorf("failed to open %s at 0x%02X: %w", b.Path, addr, err)
	}
	b.devices[addr] = d
	return d, nil
}

func (b *Devfs) Write(addr uint16, w []byte) (int, error) {
	b.Lock()
	defer b.Unlock()

	d, err := b.device(addr)
	if err != nil {
		return 0, err
	}
	if err := d.Write(w); err != nil {
		return 0, err
	}
	l.Debugf("i2c write 0x%02X: % X", addr, w)
	return len(w), nil
}

func (b *Devfs) WriteRead(addr uint16, w []byte, n int, hold bool) ([]byte, error) {
	b.Lock()
	defer b.Unlock()

	d, err := b.device(addr)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, n)
	switch {
	case len(w) == 0:
		err = d.Read(buf)
	case hold && len(w) == 1:
		// ReadReg issues both messages in one I2C_RDWR call, so no STOP is sent in between
		err = d.ReadReg(w[0], buf)
	default:
		if err = d.Write(w); err == nil {
			err = d.Read(buf)
		}
	}
	if err != nil {
		return nil, err
	}
	l.Debugf("i2c read 0x%02X (% X): % X", addr, w, buf)
	return buf, nil
}

// Close every handle opened on the bus
func (b *Devfs) Close() error {
	b.Lock()
	defer b.Unlock()

	var firstErr error
	for addr, d := range b.devices {
		if err := d.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(b.devices, addr)
	}
	return firstErr
}

// WriteExact writes w and fails with a *TransferError unless every byte was accepted.
func WriteExact(b Bus, addr uint16, w []byte) error {
	n, err := b.Write(addr, w)
	if err != nil || n != len(w) {
		return &TransferError{Addr: addr, Op: "write", Want: len(w), Got: n, Err: err}
	}
	return nil
}

// ReadExact performs WriteRead and fails with a *TransferError unless exactly n bytes came back.
func ReadExact(b Bus, addr uint16, w []byte, n int, hold bool) ([]byte, error) {
	buf, err := b.WriteRead(addr, w, n, hold)
	if err != nil || len(buf) != n {
		return nil, &TransferError{Addr: addr, Op: "read", Want: n, Got: len(buf), Err: err}
	}
	return buf, nil
}
