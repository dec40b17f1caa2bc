package noc

import (
	"bytes"
	"strings"
)

// compareObjects implements the same Last-Writer-Wins rule honeytag's
// CompareNameRecords uses for conflicting records: higher update_time
// wins; ties break on the lexicographically smaller owner id string.
// Returns -1 if a should be preferred over b, 1 if b should be preferred,
// 0 if neither differs in a way the rule orders.
func compareObjects(a, b *Object) int {
	if a.UpdateTime > b.UpdateTime {
		return -1
	}
	if b.UpdateTime > a.UpdateTime {
		return 1
	}
	cmp := strings.Compare(a.Owner.String(), b.Owner.String())
	if cmp < 0 {
		return -1
	}
	if cmp > 0 {
		return 1
	}
	return 0
}

// unionSignatures merges two signature sets, preserving order and
// dropping exact duplicates.
func unionSignatures(a, b [][]byte) [][]byte {
	out := cloneSignatures(a)
	for _, sig := range b {
		found := false
		for _, existing := range out {
			if bytes.Equal(existing, sig) {
				found = true
				break
			}
		}
		if !found {
			out = append(out, sig)
		}
	}
	return out
}

// mergeObjects combines an incoming write with the currently stored
// object, implementing spec §4.6's "body merges preserve monotonic
// update_time and the union of signatures":
//   - identical body: union the signature sets, keep the higher
//     update_time; signature sets equal afterward means no real change
//     (AlreadyExists), a larger union means Merged.
//   - different body: the LWW rule above picks the winning body, and the
//     loser's signatures still join the union.
func mergeObjects(existing, incoming *Object) (merged *Object, result PutResult) {
	sameBody := bytes.Equal(existing.Body, incoming.Body)
	sigs := unionSignatures(existing.Signatures, incoming.Signatures)

	if sameBody {
		updateTime := existing.UpdateTime
		if incoming.UpdateTime > updateTime {
			updateTime = incoming.UpdateTime
		}
		out := *existing
		out.UpdateTime = updateTime
		out.Signatures = sigs
		if len(sigs) == len(existing.Signatures) {
			return &out, ResultAlreadyExists
		}
		return &out, ResultMerged
	}

	winner := existing
	if compareObjects(incoming, existing) < 0 {
		winner = incoming
	}
	out := *winner
	out.Signatures = sigs
	if winner == incoming && incoming.UpdateTime > existing.UpdateTime {
		return &out, ResultUpdated
	}
	return &out, ResultMerged
}
