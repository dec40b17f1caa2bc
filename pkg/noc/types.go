// Package noc implements the Named-Object Cache: access-checked storage
// and retrieval of owner-signed objects, split into a durable Storage
// category and an evictable Cache category, with Last-Writer-Wins body
// merges on conflicting concurrent puts.
package noc

import "github.com/cyfs-dev/cyfs-core/pkg/objcodec"

// StorageCategory selects durability: Storage objects are never evicted
// under memory pressure, Cache objects may be (spec §4.6).
type StorageCategory uint8

const (
	CategoryStorage StorageCategory = iota
	CategoryCache
)

// PutResult reports what a put actually did.
type PutResult uint8

const (
	ResultAccept PutResult = iota
	ResultAlreadyExists
	ResultUpdated
	ResultMerged
)

func (r PutResult) String() string {
	switch r {
	case ResultAccept:
		return "Accept"
	case ResultAlreadyExists:
		return "AlreadyExists"
	case ResultUpdated:
		return "Updated"
	case ResultMerged:
		return "Merged"
	default:
		return "Unknown"
	}
}

// Object is the caller-facing view of a named object being stored: its
// content-addressed id, its owner, its encoded body, and the bookkeeping
// the NOC's merge rule operates over.
type Object struct {
	Id         objcodec.ObjectId
	Owner      objcodec.ObjectId
	OwnerDecId *objcodec.ObjectId // the dec this object belongs to, if any (spec §3, §8 S6)
	Body       []byte
	UpdateTime uint64
	ExpiresAt  uint64 // 0 means never expires
	Signatures [][]byte
	Access     AccessString
	Category   StorageCategory
}

func cloneSignatures(sigs [][]byte) [][]byte {
	out := make([][]byte, len(sigs))
	copy(out, sigs)
	return out
}

// PutOutcome is everything put() reports back (spec §4.6: "put(...) ->
// {Accept|AlreadyExists|Updated|Merged} and the effective update/expires
// times").
type PutOutcome struct {
	Result    PutResult
	UpdateAt  uint64
	ExpiresAt uint64
}

// ExistsResult answers whether an object's metadata and/or body are
// present, distinguishing a cache entry whose body was evicted but whose
// metadata header survives.
type ExistsResult struct {
	Meta   bool
	Object bool
}

// Stat summarizes the NOC's current contents.
type Stat struct {
	Count       int
	StorageSize int
}
