package sntp

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimestampRoundTrip(t *testing.T) {
	values := []int64{
		0, 1, 999, 1_000, 1_001,
		1_537_000_000_123,
		1_700_000_000_000,
		1_700_000_000_999,
		2_085_978_495_999, // last millisecond of NTP era 0
	}
	for ms := int64(1_700_000_000_000); ms < 1_700_000_002_000; ms += 7 {
		values = append(values, ms)
	}

	buf := make([]byte, 8)
	for _, ms := range values {
		for _, pad := range []byte{0x00, 0x7f, 0xff} {
			PutTimestamp(buf, ms, pad)
			got := ReadTimestamp(buf)
			assert.InDelta(t, ms, got, 1, "ms=%d pad=%#x", ms, pad)
			assert.Equal(t, ms, got, "ms=%d pad=%#x", ms, pad)
		}
	}
}

func TestToNTPEpoch(t *testing.T) {
	sec, frac := ToNTP(0)
	assert.Equal(t, uint32(2_208_988_800), sec)
	assert.Equal(t, uint32(0), frac)

	sec, frac = ToNTP(1_500)
	assert.Equal(t, uint32(2_208_988_801), sec)
	assert.Equal(t, uint32(1<<31), frac)

	assert.Equal(t, int64(1_500), FromNTP(sec, frac))
}

func TestNewRequestLayout(t *testing.T) {
	const wall = int64(1_700_000_000_250)
	req, err := NewRequest(wall)
	require.NoError(t, err)
	require.Len(t, req, PacketSize)

	assert.Equal(t, byte(0x1b), req[0], "mode 3, version 3")
	assert.Equal(t, uint8(ModeClient), req[0]&0x7)
	assert.Equal(t, uint8(Version), req[0]>>3&0x7)
	for i := 1; i < indexTransmitTime; i++ {
		assert.Zero(t, req[i], "byte %d", i)
	}
	assert.Equal(t, wall, ReadTimestamp(req[indexTransmitTime:]))

	sec, frac := ToNTP(wall)
	assert.Equal(t, sec, binary.BigEndian.Uint32(req[40:44]))
	assert.Equal(t, frac&^0xff, binary.BigEndian.Uint32(req[44:48])&^0xff,
		"only the low fraction byte is padding")
}

func TestParsePacket(t *testing.T) {
	in := &Packet{
		Leap:           1,
		Version:        4,
		Mode:           ModeServer,
		Stratum:        2,
		Poll:           6,
		Precision:      -20,
		RootDelay:      5,
		RootDispersion: 7.5,
		ReferenceID:    0x47505300,
		ReferenceTime:  1_700_000_000_000,
		OriginateTime:  1_700_000_000_100,
		ReceiveTime:    1_700_000_000_200,
		TransmitTime:   1_700_000_000_201,
	}
	out, err := ParsePacket(in.Marshal())
	require.NoError(t, err)

	assert.Equal(t, in.Leap, out.Leap)
	assert.Equal(t, in.Version, out.Version)
	assert.Equal(t, in.Mode, out.Mode)
	assert.Equal(t, in.Stratum, out.Stratum)
	assert.Equal(t, in.Poll, out.Poll)
	assert.Equal(t, in.Precision, out.Precision)
	assert.InDelta(t, in.RootDelay, out.RootDelay, 0.02)
	assert.InDelta(t, in.RootDispersion, out.RootDispersion, 0.02)
	assert.Equal(t, in.ReferenceID, out.ReferenceID)
	assert.Equal(t, in.ReceiveTime, out.ReceiveTime)
	assert.Equal(t, in.TransmitTime, out.TransmitTime)
}

func TestParsePacketShort(t *testing.T) {
	_, err := ParsePacket(make([]byte, PacketSize-1))
	assert.ErrorIs(t, err, ErrShortPacket)
}

// Root delay and dispersion are signed 16.16 seconds; 65.536 units per ms.
func TestShortFormatIsSigned(t *testing.T) {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, 0x00010000)
	assert.InDelta(t, 1000.0, shortMillis(b), 0.001)

	binary.BigEndian.PutUint32(b, 0xffff0000)
	assert.InDelta(t, -1000.0, shortMillis(b), 0.001)
}
