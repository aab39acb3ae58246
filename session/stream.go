// Copyright 2026 The RobustIRC Authors. All rights reserved.
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package session

import (
	json "github.com/segmentio/encoding/json"
)

// frame is one JSON object in the GetMessages response stream (ยง6). Id and
// Session carry 64-bit counters and are decoded straight into uint64
// fields rather than interface{}, so large values never round-trip
// through float64 and lose precision (ยง4.C).
type frame struct {
	Id struct {
		Id    uint64 `json:"Id"`
		Reply uint64 `json:"Reply"`
	} `json:"Id"`
	Session struct {
		Id    uint64 `json:"Id"`
		Reply uint64 `json:"Reply"`
	} `json:"Session"`
	Type    int      `json:"Type"`
	Data    string   `json:"Data"`
	Servers []string `json:"Servers"`
}

const (
	frameTypeIRCToClient = 3
	frameTypeRobustPing  = 4
)

// frameReader incrementally frames GetMessages' unbounded stream of
// concatenated JSON objects (no enclosing array) into discrete frame
// values. It is a push-style reader: Feed accepts arbitrary chunk
// boundaries -- a frame may straddle any number of Feed calls -- and
// returns every frame that became complete as a result of the new bytes.
//
// Framing is done by tracking brace depth over the raw bytes (quote- and
// escape-aware so braces inside string data don't confuse it); each
// complete top-level object is then decoded on its own with
// segmentio/encoding/json.Unmarshal. This is the byte-depth-tracking
// fallback design ยง9 calls out explicitly for when only a DOM-style
// Unmarshal, not a true streaming tokenizer, is available.
//
// A malformed frame is reported through onParseError, if set, and then
// discarded; the reader resyncs at the next top-level '{' rather than
// tearing down the whole stream (ยง4.C).
type frameReader struct {
	buf        []byte
	depth      int
	inString   bool
	escaped    bool
	frameStart int

	onParseError func(raw []byte, err error)
}

func newFrameReader() *frameReader {
	return &frameReader{frameStart: -1}
}

// Feed appends chunk to the reader's internal buffer and returns every
// frame that completed as a result.
func (r *frameReader) Feed(chunk []byte) []frame {
	// Bytes already in r.buf were scanned by earlier calls; only the new
	// chunk is scanned here, continuing from the saved depth/string state.
	start := len(r.buf)
	r.buf = append(r.buf, chunk...)

	var frames []frame
	consumed := 0
	for i := start; i < len(r.buf); i++ {
		b := r.buf[i]

		if r.inString {
			switch {
			case r.escaped:
				r.escaped = false
			case b == '\\':
				r.escaped = true
			case b == '"':
				r.inString = false
			}
			continue
		}

		switch b {
		case '"':
			r.inString = true
		case '{':
			if r.depth == 0 {
				r.frameStart = i
			}
			r.depth++
		case '}':
			if r.depth == 0 {
				continue
			}
			r.depth--
			if r.depth == 0 && r.frameStart >= 0 {
				raw := r.buf[r.frameStart : i+1]
				var f frame
				if err := json.Unmarshal(raw, &f); err == nil {
					frames = append(frames, f)
				} else if r.onParseError != nil {
					r.onParseError(append([]byte(nil), raw...), err)
				}
				consumed = i + 1
				r.frameStart = -1
			}
		}
	}

	if consumed > 0 {
		r.buf = append([]byte(nil), r.buf[consumed:]...)
		if r.frameStart >= 0 {
			r.frameStart -= consumed
		}
	}
	return frames
}
