// Copyright (c) 2025 the project contributors.
// Use of this source code is governed by a license found in the LICENSE file.

package rpcstream

import (
	"github.com/kadirov-dev/fiberchan/internal/rpcerr"
	"github.com/kadirov-dev/fiberchan/internal/rpcmsg"
)

// errInvalidInput builds the error emitted for a frame the peer marked
// as an error.
func errInvalidInput(seqno rpcmsg.MessageSeqNo) error {
	return rpcerr.Newf(rpcerr.InvalidInput, "seqno %d: peer marked message as error", seqno)
}
