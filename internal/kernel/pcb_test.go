package kernel

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
)

func TestIsPCBDistinguishesStampedMemoryFromForeignBytes(t *testing.T) {
	buf := make([]byte, pcbSize)
	p := unsafe.Pointer(&buf[0])

	assert.False(t, isPCB(p), "zeroed, never-initialized memory must not look like a PCB")

	initPCB(p, 7, stateReady, nil, 0)
	assert.True(t, isPCB(p))
}
