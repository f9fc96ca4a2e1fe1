// Package router computes which internal log partition owns a given
// consumer group or transactional id. Routing must be stable across
// restarts and across every broker in the cluster, so both hashes are
// hand-rolled to match the exact bit patterns a Kafka-compatible client
// library expects rather than delegating to a generic hash package.
package router

const (
	murmurC1 uint32 = 0xcc9e2d51
	murmurC2 uint32 = 0x1b873593
)

// murmur32 is the 32-bit Murmur3 hash with seed 0, matching the hash
// Kafka's own partitioner uses for keyed routing.
func murmur32(data []byte) uint32 {
	length := len(data)
	nblocks := length / 4

	var h1 uint32

	for i := 0; i < nblocks; i++ {
		k1 := uint32(data[i*4]) |
			uint32(data[i*4+1])<<8 |
			uint32(data[i*4+2])<<16 |
			uint32(data[i*4+3])<<24

		k1 *= murmurC1
		k1 = rotl32(k1, 15)
		k1 *= murmurC2

		h1 ^= k1
		h1 = rotl32(h1, 13)
		h1 = h1*5 + 0xe6546b64
	}

	tail := data[nblocks*4:]
	var k1 uint32
	switch len(tail) {
	case 3:
		k1 ^= uint32(tail[2]) << 16
		fallthrough
	case 2:
		k1 ^= uint32(tail[1]) << 8
		fallthrough
	case 1:
		k1 ^= uint32(tail[0])
		k1 *= murmurC1
		k1 = rotl32(k1, 15)
		k1 *= murmurC2
		h1 ^= k1
	}

	h1 ^= uint32(length)
	return fmix32(h1)
}

func rotl32(x uint32, r int) uint32 {
	return (x << r) | (x >> (32 - r))
}

func fmix32(h uint32) uint32 {
	h ^= h >> 16
	h *= 0x85ebca6b
	h ^= h >> 13
	h *= 0xc2b2ae35
	h ^= h >> 16
	return h
}

// signSafeMod reproduces Kafka's MathUtils.signSafeMod: it treats n as a
// signed 32-bit integer and folds a negative remainder back into range,
// so the result is always in [0, m).
func signSafeMod(n int32, m int32) int32 {
	mod := n % m
	if mod < 0 {
		mod += m
	}
	return mod
}

// RouteGroup returns the index, in [0, numPartitions), of the internal
// partition that owns the given consumer group id.
func RouteGroup(groupID string, numPartitions int) int {
	h := int32(murmur32([]byte(groupID)))
	return int(signSafeMod(h, int32(numPartitions)))
}

// javaStringHashCode reproduces java.lang.String.hashCode(): the
// transaction log's routing key was defined against that hash, not
// Murmur3, so transaction routing must match it bit for bit.
func javaStringHashCode(s string) int32 {
	var h int32
	for _, r := range s {
		h = 31*h + int32(r)
	}
	return h
}

// RouteTxn returns the index, in [0, numPartitions), of the internal
// partition that owns the given transactional id.
//
// The original implementation computes Utils.abs(hashCode) as a bitmask
// (hashCode & 0x7fffffff), not Math.abs — the two disagree exactly once,
// on math.MinInt32, where Math.abs would overflow back to a negative
// number but the mask correctly yields 0.
func RouteTxn(transactionalID string, numPartitions int) int {
	h := javaStringHashCode(transactionalID)
	abs := h & 0x7fffffff
	return int(abs % int32(numPartitions))
}
