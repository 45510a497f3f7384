package aqmbench

//
// Bandwidth-delay product
//

import (
	"fmt"
	"math"
)

// MinBDP is the default buffer allocated when applications create a TCP
// socket. [ComputeBDP] never returns less than this.
const MinBDP = 87380

// AssumedMSS is the maximum segment size assumed when converting
// byte-sized queue limits into packet counts. This is a reasonable
// network default, not a value negotiated by the actual connections.
const AssumedMSS = 1500

// ComputeBDP returns the bandwidth-delay product in bytes for the given
// bandwidth and one-way delay. The product is rounded up to the next
// multiple of 1024 and never smaller than [MinBDP].
func ComputeBDP(bandwidth int, unit RateUnit, delayMs int) (int64, error) {
	if bandwidth <= 0 {
		return 0, fmt.Errorf("%w: %d", ErrInvalidBandwidth, bandwidth)
	}
	if delayMs <= 0 || delayMs > MaxDelayMs {
		return 0, fmt.Errorf("%w: %d", ErrInvalidDelay, delayMs)
	}

	// BDP (byte) = BW (bit/s) x delay (s) / 8
	bdp := unit.BitsPerSecond(bandwidth) * float64(delayMs) / 1000 / 8

	// make the BDP divisible by 1024
	bytes := int64(math.Ceil(bdp/1024)) * 1024

	// the clamp keeps the 1024 alignment
	if bytes < MinBDP {
		bytes = int64(math.Ceil(MinBDP/1024.0)) * 1024
	}
	return bytes, nil
}

// DefaultBufferMax returns the host socket buffer ceiling derived
// from the BDP.
func DefaultBufferMax(bdp int64) int64 {
	return 20 * bdp
}

// DefaultQueueLimit returns the default shaping queue-size limit in
// bytes derived from the BDP.
func DefaultQueueLimit(bdp int64) int64 {
	return 10 * bdp
}

// QueueLimitPackets converts the default byte-sized queue limit into a
// packet count assuming [AssumedMSS]-sized segments, rounding up.
func QueueLimitPackets(bdp int64) int64 {
	return int64(math.Ceil(float64(DefaultQueueLimit(bdp)) / AssumedMSS))
}
