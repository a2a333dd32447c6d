package jobstore

import "fmt"

// Badger key layout.
//
// Jobs are stored under a direct id key. A secondary pending index is kept
// per kind, keyed by creation time so that Badger's native key ordering
// gives us "oldest pending first" for free during claim_next_pending.

func jobKey(id string) []byte {
	return []byte("job:" + id)
}

// pendingKey is ordered lexicographically by the zero-padded creation-time
// nanosecond, which sorts jobs within a kind from oldest to newest.
func pendingKey(kind string, createdAtNano int64, id string) []byte {
	return []byte(fmt.Sprintf("pending:%s:%020d:%s", kind, createdAtNano, id))
}

func pendingPrefix(kind string) []byte {
	return []byte("pending:" + kind + ":")
}

func runningKey(id string) []byte {
	return []byte("running:" + id)
}

func runningPrefix() []byte {
	return []byte("running:")
}
