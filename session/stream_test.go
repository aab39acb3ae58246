// Copyright 2026 The RobustIRC Authors. All rights reserved.
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package session

import (
	"testing"
)

func TestFrameReaderWholeObjectsInOneChunk(t *testing.T) {
	r := newFrameReader()
	input := `{"Id":{"Id":1,"Reply":0},"Session":{"Id":1,"Reply":0},"Type":3,"Data":"hello"}` +
		`{"Id":{"Id":2,"Reply":0},"Session":{"Id":1,"Reply":0},"Type":4,"Servers":["a:1","b:2"]}`

	frames := r.Feed([]byte(input))
	if len(frames) != 2 {
		t.Fatalf("got %d frames, want 2", len(frames))
	}
	if frames[0].Type != frameTypeIRCToClient || frames[0].Data != "hello" {
		t.Fatalf("frame 0 = %+v", frames[0])
	}
	if frames[1].Type != frameTypeRobustPing || len(frames[1].Servers) != 2 {
		t.Fatalf("frame 1 = %+v", frames[1])
	}
}

func TestFrameReaderSplitAcrossChunks(t *testing.T) {
	r := newFrameReader()
	input := `{"Id":{"Id":7,"Reply":0},"Session":{"Id":1,"Reply":0},"Type":3,"Data":"split me"}`

	var got []frame
	for i := 0; i < len(input); i++ {
		got = append(got, r.Feed([]byte{input[i]})...)
	}
	if len(got) != 1 {
		t.Fatalf("got %d frames, want 1", len(got))
	}
	if got[0].Data != "split me" {
		t.Fatalf("Data = %q, want %q", got[0].Data, "split me")
	}
}

func TestFrameReaderBracesInsideStringDoNotConfuseDepth(t *testing.T) {
	r := newFrameReader()
	input := `{"Id":{"Id":1,"Reply":0},"Session":{"Id":1,"Reply":0},"Type":3,"Data":"x{y}z\"}\""}`
	frames := r.Feed([]byte(input))
	if len(frames) != 1 {
		t.Fatalf("got %d frames, want 1", len(frames))
	}
	if frames[0].Data != `x{y}z"}"` {
		t.Fatalf("Data = %q", frames[0].Data)
	}
}

func TestFrameReaderMalformedFrameIsDiscardedAndReported(t *testing.T) {
	r := newFrameReader()
	var reported []byte
	r.onParseError = func(raw []byte, err error) {
		reported = raw
	}
	// "Type":"oops" fails to unmarshal into an int; a well-formed frame
	// follows and must still be parsed.
	input := `{"Type":"oops"}{"Id":{"Id":9,"Reply":0},"Session":{"Id":1,"Reply":0},"Type":3,"Data":"ok"}`
	frames := r.Feed([]byte(input))
	if len(frames) != 1 || frames[0].Data != "ok" {
		t.Fatalf("frames = %+v, want one frame with Data=ok", frames)
	}
	if reported == nil {
		t.Fatal("expected onParseError to be called for the malformed frame")
	}
}

func TestFrameReaderLargeIdsDoNotTruncate(t *testing.T) {
	r := newFrameReader()
	// Larger than 2^53, where float64 round-tripping would lose precision.
	input := `{"Id":{"Id":9223372036854775807,"Reply":1},"Session":{"Id":1,"Reply":0},"Type":3,"Data":"x"}`
	frames := r.Feed([]byte(input))
	if len(frames) != 1 {
		t.Fatalf("got %d frames, want 1", len(frames))
	}
	if frames[0].Id.Id != 9223372036854775807 {
		t.Fatalf("Id.Id = %d, want 9223372036854775807", frames[0].Id.Id)
	}
}
