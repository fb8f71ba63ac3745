package i2cbus

import (
	"errors"
	"sync"
)

// ErrNack is what Fake reports for an injected fault without its own error.
var ErrNack = errors.New("no acknowledge")

// Tx is one transaction observed by Fake.
type Tx struct {
	Addr uint16
	W    []byte
	N    int
	Hold bool
}

// Fault replaces the outcome of a single transaction: Got bytes are transferred and Err is returned.
// A nil Err is reported as ErrNack, the device stopped acknowledging after Got bytes.
type Fault struct {
	Got int
	Err error
}

// Fake is a scripted Bus. It records every transaction and serves queued
// read payloads per address, zero filled when the queue is empty.
type Fake struct {
	Txs    []Tx
	Faults map[int]Fault

	reads map[uint16][][]byte
	mu    sync.Mutex
}

func NewFake() *Fake {
	return &Fake{
		Faults: make(map[int]Fault),
		reads:  make(map[uint16][][]byte),
	}
}

// QueueRead appends a payload returned by the next read from addr.
func (f *Fake) QueueRead(addr uint16, payload ...byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads[addr] = append(f.reads[addr], payload)
}

// FailAt injects a fault into the i-th transaction, counting from zero.
func (f *Fake) FailAt(i int, fault Fault) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if fault.Err == nil {
		fault.Err = ErrNack
	}
	f.Faults[i] = fault
}

// Writes returns the payloads of all write-only transactions to addr, in order.
func (f *Fake) Writes(addr uint16) [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out [][]byte
	for _, tx := range f.Txs {
		if tx.Addr == addr && tx.N == 0 {
			out = append(out, tx.W)
		}
	}
	return out
}

func (f *Fake) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Txs = nil
	f.Faults = make(map[int]Fault)
	f.reads = make(map[uint16][][]byte)
}

func (f *Fake) Write(addr uint16, w []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	i := len(f.Txs)
	f.Txs = append(f.Txs, Tx{Addr: addr, W: append([]byte(nil), w...)})
	if fault, ok := f.Faults[i]; ok {
		return fault.Got, fault.Err
	}
	return len(w), nil
}

func (f *Fake) WriteRead(addr uint16, w []byte, n int, hold bool) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	i := len(f.Txs)
	f.Txs = append(f.Txs, Tx{Addr: addr, W: append([]byte(nil), w...), N: n, Hold: hold})

	buf := make([]byte, n)
	if q := f.reads[addr]; len(q) > 0 {
		copy(buf, q[0])
		f.reads[addr] = q[1:]
	}
	if fault, ok := f.Faults[i]; ok {
		if fault.Got < n {
			buf = buf[:fault.Got]
		}
		return buf, fault.Err
	}
	return buf, nil
}
