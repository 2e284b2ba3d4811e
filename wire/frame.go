// Package wire defines the voicelink on-the-wire formats: the
// length-prefixed JSON control-plane framing, the action registry shared
// by server dispatch and client retry policy, and the UDP relay datagram
// codec.
package wire

import (
	"encoding/binary"
	"errors"
	"io"
	"net"
	"time"
)

const (
	// MaxFrameBytes caps a single control-plane request/response.
	MaxFrameBytes = 10_000_000

	// legacyIdle is how long a legacy (unprefixed) JSON request may stay
	// silent before we treat the body as complete.
	legacyIdle = 400 * time.Millisecond
)

var (
	ErrFrameTooLarge = errors.New("wire: frame exceeds size limit")
	ErrEmptyFrame    = errors.New("wire: empty frame")
	ErrLegacyFraming = errors.New("wire: legacy raw-json framing not enabled")
	ErrShortFrame    = errors.New("wire: short frame")
)

// EncodeFrame prepends the 4-byte big-endian length header.
func EncodeFrame(payload []byte) []byte {
	out := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(out[:4], uint32(len(payload)))
	copy(out[4:], payload)
	return out
}

// WriteFrame writes one length-prefixed frame.
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) > MaxFrameBytes {
		return ErrFrameTooLarge
	}
	_, err := w.Write(EncodeFrame(payload))
	return err
}

// ReadFrame reads one strictly length-prefixed frame.
func ReadFrame(r io.Reader, maxBytes int) ([]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if n == 0 {
		return nil, ErrEmptyFrame
	}
	if int(n) > maxBytes {
		return nil, ErrFrameTooLarge
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, ErrShortFrame
	}
	return payload, nil
}

// ReadRequest reads one request from a control-plane connection. The
// primary format is the 4-byte length prefix. If the first byte is '{'
// or '[' the peer is a legacy client sending a bare JSON body; that path
// is only taken when allowLegacy is set, and drains the connection until
// it goes idle.
func ReadRequest(conn net.Conn, maxBytes int, allowLegacy bool) ([]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(conn, hdr[:]); err != nil {
		return nil, err
	}
	if hdr[0] == '{' || hdr[0] == '[' {
		if !allowLegacy {
			return nil, ErrLegacyFraming
		}
		return readLegacyBody(conn, hdr[:], maxBytes)
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if n == 0 {
		return nil, ErrEmptyFrame
	}
	if int(n) > maxBytes {
		return nil, ErrFrameTooLarge
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(conn, payload); err != nil {
		return nil, ErrShortFrame
	}
	return payload, nil
}

// readLegacyBody collects an unframed JSON body. Legacy clients close or
// go quiet after sending, so a short read deadline marks the end.
func readLegacyBody(conn net.Conn, head []byte, maxBytes int) ([]byte, error) {
	data := append([]byte{}, head...)
	buf := make([]byte, 65536)
	for len(data) < maxBytes {
		conn.SetReadDeadline(time.Now().Add(legacyIdle))
		n, err := conn.Read(buf)
		if n > 0 {
			data = append(data, buf[:n]...)
		}
		if err != nil {
			break
		}
	}
	conn.SetReadDeadline(time.Time{})
	return data, nil
}
