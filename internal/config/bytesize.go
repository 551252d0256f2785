// Copyright (c) 2025 the project contributors.
// Use of this source code is governed by a license found in the LICENSE file.

package config

import (
	"fmt"

	"github.com/docker/go-units"
)

// ParseByteSize converts a human-readable size string like "256mb" or
// "1gb" into a byte count, using units.RAMInBytes for the actual
// suffix table (binary multiples: kb/mb/gb are 1024-based). Every
// caller in this package feeds it a field that gates a buffer size,
// frame cap or throughput limit, so zero and negative results — which
// RAMInBytes happily returns for inputs like "0" or "-1mb" — are
// rejected here rather than at each call site.
func ParseByteSize(s string) (int64, error) {
	n, err := units.RAMInBytes(s)
	if err != nil {
		return 0, fmt.Errorf("parsing byte size %q: %w", s, err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("byte size %q must be positive", s)
	}
	return n, nil
}
