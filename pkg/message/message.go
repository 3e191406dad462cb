// Package message defines the XChain community messages: the half block
// envelopes used for dissemination and the crawl request/response payloads.
//
// On the wire every message is one identifier byte followed by its payload.
package message

import (
	"errors"
	"fmt"
)

// ID identifies a message type at the transport boundary.
type ID byte

// Message identifiers.
const (
	HalfBlock              ID = 1
	CrawlRequest           ID = 2
	CrawlResponse          ID = 3
	HalfBlockBroadcast     ID = 5
	HalfBlockPair          ID = 6
	HalfBlockPairBroadcast ID = 7
	EmptyCrawlResponse     ID = 8
)

var idNames = map[ID]string{
	HalfBlock:              "HALF_BLOCK",
	CrawlRequest:           "CRAWL_REQUEST",
	CrawlResponse:          "CRAWL_RESPONSE",
	HalfBlockBroadcast:     "HALF_BLOCK_BROADCAST",
	HalfBlockPair:          "HALF_BLOCK_PAIR",
	HalfBlockPairBroadcast: "HALF_BLOCK_PAIR_BROADCAST",
	EmptyCrawlResponse:     "EMPTY_CRAWL_RESPONSE",
}

func (id ID) String() string {
	if s, ok := idNames[id]; ok {
		return s
	}
	return fmt.Sprintf("ID(%d)", byte(id))
}

// Known reports whether id is a defined message type.
func (id ID) Known() bool {
	_, ok := idNames[id]
	return ok
}

var (
	ErrEmptyFrame = errors.New("empty message frame")
	ErrUnknownID  = errors.New("unknown message id")
)

// Payload is any message body that can be serialized.
type Payload interface {
	ID() ID
	Encode() []byte
}

// Frame prefixes the payload with its identifier.
func Frame(p Payload) []byte {
	body := p.Encode()
	out := make([]byte, 0, 1+len(body))
	out = append(out, byte(p.ID()))
	return append(out, body...)
}

// SplitFrame separates the identifier from the payload bytes.
func SplitFrame(frame []byte) (ID, []byte, error) {
	if len(frame) == 0 {
		return 0, nil, ErrEmptyFrame
	}
	id := ID(frame[0])
	if !id.Known() {
		return id, nil, fmt.Errorf("%w: %d", ErrUnknownID, frame[0])
	}
	return id, frame[1:], nil
}
