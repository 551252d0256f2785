// Copyright (c) 2025 the project contributors.
// Use of this source code is governed by a license found in the LICENSE file.

package rpcchannel

import "github.com/kadirov-dev/fiberchan/internal/rpcmsg"

// overflowChunk bounds a single Encode call while draining a message
// for spillover; it has no relation to the wire frame size.
const overflowChunk = 32 * 1024

// drainEncoder fully exhausts enc into a byte slice. It is only used
// on the overflow path, where a message is spilled to durable storage
// instead of being framed over the wire — after this call enc is idle
// and must not be reused as part of a normal send.
func drainEncoder(enc rpcmsg.Encoder) ([]byte, error) {
	var out []byte
	buf := make([]byte, overflowChunk)
	for !enc.IsIdle() {
		n, err := enc.Encode(buf, true)
		if err != nil {
			return nil, err
		}
		out = append(out, buf[:n]...)
		if n == 0 && !enc.IsIdle() {
			// Encoder reported idle==false but produced nothing; avoid
			// spinning forever on a misbehaving encoder.
			break
		}
	}
	return out, nil
}
