// Copyright (c) 2025 the project contributors.
// Use of this source code is governed by a license found in the LICENSE file.

package echoproto

import (
	"testing"

	"github.com/kadirov-dev/fiberchan/internal/codec"
	"github.com/kadirov-dev/fiberchan/internal/rpcmsg"
	"github.com/kadirov-dev/fiberchan/internal/wire"
)

func encodeAll(t *testing.T, out rpcmsg.OutgoingMessage) []byte {
	t.Helper()
	var buf []byte
	for {
		chunk := make([]byte, 64)
		n, err := out.Payload.Encode(chunk, true)
		if err != nil {
			t.Fatalf("Encode: %v", err)
		}
		buf = append(buf, chunk[:n]...)
		if out.Payload.IsIdle() {
			break
		}
	}
	return buf
}

func TestNewOutgoingDecodeRoundTripSingleFrame(t *testing.T) {
	for _, mode := range []codec.Mode{codec.None, codec.Gzip, codec.Zstd} {
		header := rpcmsg.MessageHeader{Id: 42, Procedure: ProcedureEcho, Priority: 2}
		out, err := NewOutgoing(header, mode, "hello, echo")
		if err != nil {
			t.Fatalf("mode %v: NewOutgoing: %v", mode, err)
		}
		body := encodeAll(t, out)

		dec := NewDecoder(mode)
		msg, ok, err := dec.Decode(wire.Frame{SeqNo: 1, EndOfMessage: true, Data: body})
		if err != nil {
			t.Fatalf("mode %v: Decode: %v", mode, err)
		}
		if !ok {
			t.Fatalf("mode %v: expected a complete message from a single end-of-message frame", mode)
		}
		if msg.Text != "hello, echo" {
			t.Errorf("mode %v: Text = %q, want %q", mode, msg.Text, "hello, echo")
		}
		if msg.Header.Id != 42 || msg.Header.Procedure != ProcedureEcho || msg.Header.Priority != 2 {
			t.Errorf("mode %v: unexpected header: %+v", mode, msg.Header)
		}
	}
}

func TestDecodeReassemblesAcrossMultipleFrames(t *testing.T) {
	header := rpcmsg.MessageHeader{Id: 7, Procedure: ProcedureEcho}
	out, err := NewOutgoing(header, codec.None, "split across frames")
	if err != nil {
		t.Fatalf("NewOutgoing: %v", err)
	}
	body := encodeAll(t, out)

	if len(body) < 6 {
		t.Fatalf("body too short to split meaningfully: %d bytes", len(body))
	}
	mid := len(body) / 2

	dec := NewDecoder(codec.None)
	_, ok, err := dec.Decode(wire.Frame{SeqNo: 9, EndOfMessage: false, Data: body[:mid]})
	if err != nil {
		t.Fatalf("Decode first fragment: %v", err)
	}
	if ok {
		t.Fatal("did not expect a complete message from a non-terminal fragment")
	}

	msg, ok, err := dec.Decode(wire.Frame{SeqNo: 9, EndOfMessage: true, Data: body[mid:]})
	if err != nil {
		t.Fatalf("Decode final fragment: %v", err)
	}
	if !ok {
		t.Fatal("expected a complete message on the end-of-message fragment")
	}
	if msg.Text != "split across frames" {
		t.Errorf("Text = %q, want %q", msg.Text, "split across frames")
	}
	if msg.Header.Id != 7 {
		t.Errorf("Header.Id = %d, want 7", msg.Header.Id)
	}
}

func TestDecodeTracksIndependentSeqnosConcurrently(t *testing.T) {
	outA, err := NewOutgoing(rpcmsg.MessageHeader{Id: 1}, codec.None, "first")
	if err != nil {
		t.Fatalf("NewOutgoing: %v", err)
	}
	outB, err := NewOutgoing(rpcmsg.MessageHeader{Id: 2}, codec.None, "second")
	if err != nil {
		t.Fatalf("NewOutgoing: %v", err)
	}
	bodyA := encodeAll(t, outA)
	bodyB := encodeAll(t, outB)

	dec := NewDecoder(codec.None)
	if _, ok, err := dec.Decode(wire.Frame{SeqNo: 1, Data: bodyA[:rpcmsg.HeaderSize]}); err != nil || ok {
		t.Fatalf("Decode partial A: ok=%v err=%v", ok, err)
	}
	if _, ok, err := dec.Decode(wire.Frame{SeqNo: 2, EndOfMessage: true, Data: bodyB}); err != nil || !ok {
		t.Fatalf("Decode complete B: ok=%v err=%v", ok, err)
	}
	msgA, ok, err := dec.Decode(wire.Frame{SeqNo: 1, EndOfMessage: true, Data: bodyA[rpcmsg.HeaderSize:]})
	if err != nil || !ok {
		t.Fatalf("Decode complete A: ok=%v err=%v", ok, err)
	}
	if msgA.Text != "first" {
		t.Errorf("msgA.Text = %q, want %q", msgA.Text, "first")
	}
}

func TestDecodeRejectsFrameShorterThanHeader(t *testing.T) {
	dec := NewDecoder(codec.None)
	_, _, err := dec.Decode(wire.Frame{SeqNo: 3, Data: []byte{1, 2, 3}})
	if err == nil {
		t.Fatal("expected an error for a first frame shorter than the header")
	}
}
