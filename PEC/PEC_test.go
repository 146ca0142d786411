package PEC

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCalculateMatchesDatasheet(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want uint16
	}{
		{name: "WRCFGA", data: []byte{0x00, 0x01}, want: 0x3D6E},
		{name: "RDCFGA", data: []byte{0x00, 0x02}, want: 0x2B0A},
		{name: "RDCVA", data: []byte{0x00, 0x04}, want: 0x07C2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Calculate(tt.data))
		})
	}
}

func TestCalculateLSBIsZero(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	for i := 0; i < 200; i++ {
		data := make([]byte, r.Intn(16))
		r.Read(data)
		assert.Zero(t, Calculate(data)&1)
	}
}

func TestValidateRoundTrip(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	for i := 0; i < 500; i++ {
		data := make([]byte, 1+r.Intn(32))
		r.Read(data)
		assert.True(t, Validate(data, Calculate(data)))
		assert.False(t, Validate(data, Calculate(data)^0x0002))
	}
}

func TestPutAndCheck(t *testing.T) {
	frame := []byte{0x10, 0x27, 0x20, 0x4E, 0x00, 0x00, 0x00, 0x00}
	Put(frame)
	assert.True(t, Check(frame))

	frame[3] ^= 0x01
	assert.False(t, Check(frame))
	assert.False(t, Check([]byte{0x01}))
}

func TestEmptyDataIsSeed(t *testing.T) {
	assert.Equal(t, uint16(seed*2), Calculate(nil))
}
