package account

import "github.com/cespare/xxhash/v2"

func xxhashString(s string) uint64 {
	return xxhash.Sum64String(s)
}
