package filter

import (
	"encoding/binary"
	"encoding/hex"
	"hash"

	"lukechampine.com/blake3"
)

// hashDomain separates rule identities from any other BLAKE3 use and lets
// the layout change without colliding with old digests.
const hashDomain = "protonfusion/rule/v1"

// ContentHash identifies what a rule does: its name, logic, conditions and
// actions. Status and priority are excluded so that a rule keeps its identity
// across enable/disable/archive transitions.
func (r Rule) ContentHash() string {
	h := blake3.New(32, nil)
	writeField(h, hashDomain)
	writeField(h, r.Name)
	writeField(h, string(r.Logic))

	writeCount(h, len(r.Conditions))
	for _, c := range r.Conditions {
		writeField(h, string(c.Type))
		writeField(h, string(c.Operator))
		writeField(h, c.Value)
	}

	writeCount(h, len(r.Actions))
	for _, a := range r.Actions {
		writeField(h, string(a.Type))
		keys := a.SortedParamKeys()
		writeCount(h, len(keys))
		for _, k := range keys {
			writeField(h, k)
			writeField(h, a.Parameters[k])
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Length-prefixed fields keep ("ab","c") and ("a","bc") apart.
func writeField(h hash.Hash, s string) {
	writeCount(h, len(s))
	h.Write([]byte(s))
}

func writeCount(h hash.Hash, n int) {
	var buf [binary.MaxVarintLen64]byte
	l := binary.PutUvarint(buf[:], uint64(n))
	h.Write(buf[:l])
}

// HashSet builds the set of content hashes of rules.
func HashSet(rules []Rule) map[string]struct{} {
	set := make(map[string]struct{}, len(rules))
	for _, r := range rules {
		set[r.ContentHash()] = struct{}{}
	}
	return set
}
