// Copyright (c) 2025 the project contributors.
// Use of this source code is governed by a license found in the LICENSE file.

package rpcmsg

import (
	"bytes"
	"errors"
	"testing"
)

func drainEncoder(t *testing.T, enc Encoder) []byte {
	t.Helper()
	var out []byte
	buf := make([]byte, 3)
	for !enc.IsIdle() {
		n, err := enc.Encode(buf, true)
		if err != nil {
			t.Fatalf("Encode: %v", err)
		}
		out = append(out, buf[:n]...)
		if n == 0 {
			break
		}
	}
	return out
}

func TestReaderEncoder(t *testing.T) {
	payload := []byte("hello world, this is a longer payload")
	enc := NewReaderEncoder(bytes.NewReader(payload))

	got := drainEncoder(t, enc)
	if !bytes.Equal(got, payload) {
		t.Errorf("got %q, want %q", got, payload)
	}
	if !enc.IsIdle() {
		t.Error("encoder should be idle once fully drained")
	}
}

func TestReaderEncoderRequiringBytes(t *testing.T) {
	payload := []byte("abc")
	enc := NewReaderEncoder(bytes.NewReader(payload))
	if rb := enc.RequiringBytes(); rb != RequiredBytes(len(payload)) {
		t.Errorf("RequiringBytes before draining = %v, want %d", rb, len(payload))
	}
	drainEncoder(t, enc)
	if rb := enc.RequiringBytes(); rb != 0 {
		t.Errorf("RequiringBytes after draining = %v, want 0", rb)
	}
}

func TestLazyEncoderDefersStart(t *testing.T) {
	started := false
	var inner Encoder
	lazy := NewLazyEncoder(nil, func(e Encoder) error {
		started = true
		return nil
	})
	_ = inner

	if lazy.IsIdle() {
		t.Error("lazy encoder should not be idle before start runs")
	}
	if started {
		t.Error("start should not run before the first Encode call")
	}
}

func TestLazyEncoderPropagatesStartError(t *testing.T) {
	wantErr := errors.New("boom")
	lazy := NewLazyEncoder(NewReaderEncoder(bytes.NewReader(nil)), func(e Encoder) error {
		return wantErr
	})

	buf := make([]byte, 4)
	_, err := lazy.Encode(buf, true)
	if !errors.Is(err, wantErr) {
		t.Fatalf("Encode error = %v, want %v", err, wantErr)
	}

	_, err = lazy.Encode(buf, true)
	if !errors.Is(err, wantErr) {
		t.Errorf("Encode should keep returning the start error, got %v", err)
	}
}

func TestLazyEncoderDelegatesAfterStart(t *testing.T) {
	payload := []byte("delegated")
	lazy := NewLazyEncoder(NewReaderEncoder(bytes.NewReader(payload)), func(e Encoder) error {
		return nil
	})

	got := drainEncoder(t, lazy)
	if !bytes.Equal(got, payload) {
		t.Errorf("got %q, want %q", got, payload)
	}
}
