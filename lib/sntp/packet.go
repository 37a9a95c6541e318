package sntp

import (
	"encoding/binary"

	"github.com/go-i2p/crypto/rand"
	"github.com/samber/oops"
)

const (
	// PacketSize is the length of an SNTP packet without extensions.
	PacketSize = 48
	// Port is the well-known NTP port.
	Port = 123

	ModeClient    = 3
	ModeServer    = 4
	ModeBroadcast = 5
	Version       = 3

	// LeapNotInSync is the leap indicator of an unsynchronized server.
	LeapNotInSync = 3

	// EpochOffset is the number of seconds between 1900-01-01 and 1970-01-01:
	// 70 years plus 17 leap days.
	EpochOffset int64 = (70*365 + 17) * 24 * 60 * 60
)

const (
	indexFlags          = 0
	indexStratum        = 1
	indexPoll           = 2
	indexPrecision      = 3
	indexRootDelay      = 4
	indexRootDispersion = 8
	indexReferenceID    = 12
	indexReferenceTime  = 16
	indexOriginateTime  = 24
	indexReceiveTime    = 32
	indexTransmitTime   = 40
)

// Packet is a decoded SNTP packet. Timestamps are Unix milliseconds; root
// delay and dispersion are milliseconds.
type Packet struct {
	Leap           uint8
	Version        uint8
	Mode           uint8
	Stratum        uint8
	Poll           int8
	Precision      int8
	RootDelay      float64
	RootDispersion float64
	ReferenceID    uint32
	ReferenceTime  int64
	OriginateTime  int64
	ReceiveTime    int64
	TransmitTime   int64
}

// NewRequest returns a client request whose transmit timestamp is wall.
// Every other field is zero.
func NewRequest(wall int64) ([]byte, error) {
	buf := make([]byte, PacketSize)
	buf[indexFlags] = ModeClient | Version<<3

	var pad [1]byte
	if _, err := rand.Read(pad[:]); err != nil {
		return nil, oops.Wrapf(err, "sntp: reading timestamp padding")
	}
	PutTimestamp(buf[indexTransmitTime:], wall, pad[0])
	return buf, nil
}

// ParsePacket decodes the first PacketSize bytes of b.
func ParsePacket(b []byte) (*Packet, error) {
	if len(b) < PacketSize {
		return nil, oops.Wrapf(ErrShortPacket, "got %d bytes, want %d", len(b), PacketSize)
	}
	flags := b[indexFlags]
	return &Packet{
		Leap:           flags >> 6 & 0x3,
		Version:        flags >> 3 & 0x7,
		Mode:           flags & 0x7,
		Stratum:        b[indexStratum],
		Poll:           int8(b[indexPoll]),
		Precision:      int8(b[indexPrecision]),
		RootDelay:      shortMillis(b[indexRootDelay:]),
		RootDispersion: shortMillis(b[indexRootDispersion:]),
		ReferenceID:    binary.BigEndian.Uint32(b[indexReferenceID:]),
		ReferenceTime:  ReadTimestamp(b[indexReferenceTime:]),
		OriginateTime:  ReadTimestamp(b[indexOriginateTime:]),
		ReceiveTime:    ReadTimestamp(b[indexReceiveTime:]),
		TransmitTime:   ReadTimestamp(b[indexTransmitTime:]),
	}, nil
}

// Marshal encodes p. It is the inverse of ParsePacket up to timestamp and
// short-format precision, and is what a server side would put on the wire.
func (p *Packet) Marshal() []byte {
	buf := make([]byte, PacketSize)
	buf[indexFlags] = p.Leap<<6 | (p.Version&0x7)<<3 | p.Mode&0x7
	buf[indexStratum] = p.Stratum
	buf[indexPoll] = byte(p.Poll)
	buf[indexPrecision] = byte(p.Precision)
	putShortMillis(buf[indexRootDelay:], p.RootDelay)
	putShortMillis(buf[indexRootDispersion:], p.RootDispersion)
	binary.BigEndian.PutUint32(buf[indexReferenceID:], p.ReferenceID)
	PutTimestamp(buf[indexReferenceTime:], p.ReferenceTime, 0)
	PutTimestamp(buf[indexOriginateTime:], p.OriginateTime, 0)
	PutTimestamp(buf[indexReceiveTime:], p.ReceiveTime, 0)
	PutTimestamp(buf[indexTransmitTime:], p.TransmitTime, 0)
	return buf
}

// ToNTP converts Unix milliseconds to NTP seconds and fraction.
func ToNTP(ms int64) (seconds, fraction uint32) {
	sec := floorDiv(ms, 1000)
	rem := ms - sec*1000
	return uint32(sec + EpochOffset), uint32(rem << 32 / 1000)
}

// FromNTP converts NTP seconds and fraction to Unix milliseconds. The
// fraction is rounded to the nearest millisecond.
func FromNTP(seconds, fraction uint32) int64 {
	ms := (int64(fraction)*1000 + 1<<31) >> 32
	return (int64(seconds)-EpochOffset)*1000 + ms
}

// PutTimestamp writes ms as an 8-byte NTP timestamp. Only the top three
// bytes of the fraction carry time; the low byte is set to pad.
func PutTimestamp(b []byte, ms int64, pad byte) {
	sec, frac := ToNTP(ms)
	binary.BigEndian.PutUint32(b[0:4], sec)
	binary.BigEndian.PutUint32(b[4:8], frac&^0xff|uint32(pad))
}

// ReadTimestamp reads an 8-byte NTP timestamp as Unix milliseconds.
func ReadTimestamp(b []byte) int64 {
	return FromNTP(binary.BigEndian.Uint32(b[0:4]), binary.BigEndian.Uint32(b[4:8]))
}

// shortMillis reads NTP short format (signed 16.16 seconds) as milliseconds.
func shortMillis(b []byte) float64 {
	return float64(int32(binary.BigEndian.Uint32(b))) / 65.536
}

func putShortMillis(b []byte, ms float64) {
	binary.BigEndian.PutUint32(b, uint32(int32(ms*65.536)))
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
