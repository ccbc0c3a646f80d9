package memory

import "hash/fnv"

// shardCount is the number of lock stripes. Tenants hash onto stripes,
// so two tenants contend only when they share one.
const shardCount = 64

func shardIndex(key string) int {
	h := fnv.New32a()
	h.Write([]byte(key))
	return int(h.Sum32() % shardCount)
}
