// Package sntp implements one Simple Network Time Protocol exchange: it
// builds the 48-byte client request, reads the server's reply on the same
// UDP socket, checks the reply against a trust policy and turns it into an
// offset.Sample carrying one offset per local clock.
//
// Two engines satisfy Exchanger. Client speaks the wire format directly and
// measures both local clocks around the round trip. LibraryClient delegates
// the exchange to github.com/beevik/ntp and derives the uptime offset from
// the library's clock offset.
//
// Trust policy, in the order it is checked:
//   - root delay and root dispersion at or under their limits (100ms)
//   - mode is server (4) or broadcast (5)
//   - stratum within [1,15]
//   - leap indicator is not 3 (server unsynchronized)
//   - |round-trip delay| under the response delay limit (200ms)
//   - less than 10s of wall time since the request was written
//   - the two offsets agree with the live clocks within offset.Tolerance
package sntp
