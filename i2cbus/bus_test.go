package i2cbus

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteExact(t *testing.T) {
	bus := NewFake()
	require.NoError(t, WriteExact(bus, 0x23, []byte{0x01}))

	bus.FailAt(1, Fault{Got: 1})
	err := WriteExact(bus, 0x29, []byte{0x80, 0x03})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTransfer)
	assert.ErrorIs(t, err, ErrNack)

	var te *TransferError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, uint16(0x29), te.Addr)
	assert.Equal(t, 2, te.Want)
	assert.Equal(t, 1, te.Got)
	assert.Equal(t, "write", te.Op)
}

func TestReadExact(t *testing.T) {
	bus := NewFake()
	bus.QueueRead(0x29, 0x10, 0x27)

	buf, err := ReadExact(bus, 0x29, []byte{0x94}, 2, true)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x10, 0x27}, buf)
	assert.True(t, bus.Txs[0].Hold)

	bus.FailAt(1, Fault{Got: 1})
	_, err = ReadExact(bus, 0x29, []byte{0x94}, 2, true)
	assert.ErrorIs(t, err, ErrTransfer)
	assert.ErrorIs(t, err, ErrNack)

	var te *TransferError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, 2, te.Want)
	assert.Equal(t, 1, te.Got)

	// an explicit cause is kept
	cause := errors.New("arbitration lost")
	bus.FailAt(2, Fault{Got: 1, Err: cause})
	_, err = ReadExact(bus, 0x29, []byte{0x94}, 2, true)
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, ErrNack)
}

func TestReadExactZeroFill(t *testing.T) {
	bus := NewFake()
	buf, err := ReadExact(bus, 0x23, nil, 2, false)
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 0}, buf)
}

func TestStepError(t *testing.T) {
	cause := &TransferError{Addr: 0x23, Op: "write", Want: 1}
	err := &StepError{Device: "bh1750", Step: "power on", Err: cause}
	assert.Equal(t, "bh1750: power on: i2c write at 0x23: 0 of 1 bytes", err.Error())
	assert.ErrorIs(t, err, ErrTransfer)
}

func TestFakeWrites(t *testing.T) {
	bus := NewFake()
	_, _ = bus.Write(0x23, []byte{0x01})
	_, _ = bus.WriteRead(0x23, nil, 2, false)
	_, _ = bus.Write(0x29, []byte{0x80, 0x01})
	_, _ = bus.Write(0x23, []byte{0x10})
	assert.Equal(t, [][]byte{{0x01}, {0x10}}, bus.Writes(0x23))

	bus.Reset()
	assert.Empty(t, bus.Txs)
}
