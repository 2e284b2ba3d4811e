package wire

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
)

// Relay datagram tags. Every datagram starts with the tag byte followed
// by '|'. Audio payloads are raw PCM after the last header delimiter;
// everything else is UTF-8 fields separated by '|'.
const (
	TagJoin      = 'J' // J|login[|token]
	TagRoomJoin  = 'C' // C|login|token|room_id
	TagRoomLeave = 'L' // L|login|room_id
	TagPair      = 'S' // S|sender|token|user_a|user_b|flag  (legacy: S|user_a|user_b|flag)
	TagPing      = 'P' // P|seq|send_time
	TagPong      = 'Q' // Q|seq|send_time
	TagAudio     = 'A' // A|from_login|<raw pcm>
	TagRelayed   = 'R' // R|from_login|<raw pcm>
)

var ErrMalformedDatagram = errors.New("wire: malformed datagram")

// Datagram is one parsed relay message. Audio is only set for TagAudio
// and TagRelayed; Fields carries the header fields for every tag.
type Datagram struct {
	Tag    byte
	Fields []string
	Audio  []byte
}

// ParseDatagram splits a raw relay datagram. Audio payload bytes are not
// copied; they alias the input buffer.
func ParseDatagram(b []byte) (Datagram, error) {
	if len(b) < 3 || b[1] != '|' {
		return Datagram{}, ErrMalformedDatagram
	}
	tag := b[0]
	switch tag {
	case TagAudio, TagRelayed:
		sep := bytes.IndexByte(b[2:], '|')
		if sep < 0 {
			return Datagram{}, ErrMalformedDatagram
		}
		from := string(b[2 : 2+sep])
		if from == "" {
			return Datagram{}, ErrMalformedDatagram
		}
		return Datagram{Tag: tag, Fields: []string{from}, Audio: b[2+sep+1:]}, nil
	case TagJoin, TagRoomJoin, TagRoomLeave, TagPair, TagPing, TagPong:
		fields := strings.Split(string(b[2:]), "|")
		if len(fields) == 0 || fields[0] == "" {
			return Datagram{}, ErrMalformedDatagram
		}
		return Datagram{Tag: tag, Fields: fields}, nil
	default:
		return Datagram{}, ErrMalformedDatagram
	}
}

// From returns the sender login field for audio datagrams.
func (d Datagram) From() string {
	if len(d.Fields) == 0 {
		return ""
	}
	return d.Fields[0]
}

func JoinDatagram(login, token string) []byte {
	if token == "" {
		return []byte(fmt.Sprintf("J|%s", login))
	}
	return []byte(fmt.Sprintf("J|%s|%s", login, token))
}

func RoomJoinDatagram(login, token, roomID string) []byte {
	return []byte(fmt.Sprintf("C|%s|%s|%s", login, token, roomID))
}

func RoomLeaveDatagram(login, roomID string) []byte {
	return []byte(fmt.Sprintf("L|%s|%s", login, roomID))
}

func PairDatagram(sender, token, userA, userB string, active bool) []byte {
	flag := "0"
	if active {
		flag = "1"
	}
	return []byte(fmt.Sprintf("S|%s|%s|%s|%s|%s", sender, token, userA, userB, flag))
}

// LegacyPairDatagram is the token-less 3-field pairing form, accepted
// only when the relay runs in open (insecure) mode.
func LegacyPairDatagram(userA, userB string, active bool) []byte {
	flag := "0"
	if active {
		flag = "1"
	}
	return []byte(fmt.Sprintf("S|%s|%s|%s", userA, userB, flag))
}

func PingDatagram(seq int, sendTime float64) []byte {
	return []byte(fmt.Sprintf("P|%d|%.6f", seq, sendTime))
}

func AudioDatagram(from string, pcm []byte) []byte {
	head := []byte(fmt.Sprintf("A|%s|", from))
	return append(head, pcm...)
}

func RelayedDatagram(from string, pcm []byte) []byte {
	head := []byte(fmt.Sprintf("R|%s|", from))
	return append(head, pcm...)
}
