package compiler

import (
	"fmt"
	"sort"
	"sync"
)

// ---------------------------------------------------------------------------
// Keyword recognition by minimal perfect hashing
//
// Keywords are placed with hash-and-displace: every key first hashes with
// seed 0 into a bucket, then each bucket searches for a seed that sends all
// of its keys to free slots of a table exactly as large as the key set.
// Lookup is two hashes and one string comparison.
// ---------------------------------------------------------------------------

const maxSeed = 1 << 20

// KeywordTable maps reserved words to token types. It is immutable once
// built and safe for concurrent use.
type KeywordTable struct {
	seeds []uint32
	keys  []string
	types []TokenType
}

func hashKey(seed uint32, s string) uint32 {
	h := uint32(2166136261) ^ (seed * 0x9e3779b9)
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= 16777619
	}
	h ^= h >> 16
	h *= 0x85ebca6b
	h ^= h >> 13
	return h
}

// NewKeywordTable builds a perfect hash over words.
func NewKeywordTable(words map[string]TokenType) (*KeywordTable, error) {
	n := len(words)
	kt := &KeywordTable{keys: make([]string, n), types: make([]TokenType, n)}
	if n == 0 {
		return kt, nil
	}
	nb := n/2 + 1
	kt.seeds = make([]uint32, nb)
	buckets := make([][]string, nb)
	for w := range words {
		b := hashKey(0, w) % uint32(nb)
		buckets[b] = append(buckets[b], w)
	}
	order := make([]int, nb)
	for i := range order {
		order[i] = i
		sort.Strings(buckets[i])
	}
	sort.SliceStable(order, func(i, j int) bool { return len(buckets[order[i]]) > len(buckets[order[j]]) })

	used := make([]bool, n)
	slots := make([]uint32, 0, 8)
	for _, b := range order {
		bucket := buckets[b]
		if len(bucket) == 0 {
			continue
		}
		placed := false
	search:
		for seed := uint32(1); seed < maxSeed; seed++ {
			slots = slots[:0]
			for _, w := range bucket {
				s := hashKey(seed, w) % uint32(n)
				if used[s] {
					continue search
				}
				for _, t := range slots {
					if t == s {
						continue search
					}
				}
				slots = append(slots, s)
			}
			for i, w := range bucket {
				used[slots[i]] = true
				kt.keys[slots[i]] = w
				kt.types[slots[i]] = words[w]
			}
			kt.seeds[b] = seed
			placed = true
			break
		}
		if !placed {
			return nil, fmt.Errorf("compiler: no perfect hash for keyword bucket %v", bucket)
		}
	}
	return kt, nil
}

// Lookup returns the token type of word if it is a keyword.
func (kt *KeywordTable) Lookup(word string) (TokenType, bool) {
	if len(kt.keys) == 0 {
		return 0, false
	}
	b := hashKey(0, word) % uint32(len(kt.seeds))
	i := hashKey(kt.seeds[b], word) % uint32(len(kt.keys))
	if kt.keys[i] != word {
		return 0, false
	}
	return kt.types[i], true
}

// Words returns the keywords in sorted order.
func (kt *KeywordTable) Words() []string {
	out := append([]string(nil), kt.keys...)
	sort.Strings(out)
	return out
}

var (
	defaultKeywordsOnce sync.Once
	defaultKeywords     *KeywordTable
)

// DefaultKeywords returns the table of the language's reserved words.
func DefaultKeywords() *KeywordTable {
	defaultKeywordsOnce.Do(func() {
		words := make(map[string]TokenType)
		for t := TokAnd; t < numTokenTypes; t++ {
			words[t.String()] = t
		}
		kt, err := NewKeywordTable(words)
		if err != nil {
			panic(err)
		}
		defaultKeywords = kt
	})
	return defaultKeywords
}
