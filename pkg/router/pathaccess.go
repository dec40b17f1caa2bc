package router

import (
	"sort"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/cyfs-dev/cyfs-core/pkg/noc"
	"github.com/cyfs-dev/cyfs-core/pkg/objcodec"
)

// PathAccessCategory selects which root a path access table governs
// (spec §4.7).
type PathAccessCategory uint8

const (
	CategoryRootState PathAccessCategory = iota
	CategoryLocalCache
)

// AccessAction is what an ACL event handler (or a plain access-string
// entry) decides for a request against a path.
type AccessAction uint8

const (
	ActionAccept AccessAction = iota
	ActionReject
	ActionPass
)

// ZoneRequirement is the zone-proximity precondition a permission-scoped
// PathAccessItem can require of the request source.
type ZoneRequirement uint8

const (
	ZoneAny   ZoneRequirement = iota
	ZoneLocal                 // the object owner's own device or zone
)

// DecRequirement is the dec_id precondition a permission-scoped
// PathAccessItem can require of the request source.
type DecRequirement uint8

const (
	DecAny DecRequirement = iota
	DecSystem
)

// PathAccessItem is one entry of a path access table. Handler=true fires
// an ACL event and uses its response's action. Permission != 0 scopes a
// grant to a Zone/Dec precondition: Lookup skips the item (falling
// through to the next, less specific prefix) when source doesn't satisfy
// the precondition, rather than terminating the search (spec §4.7's
// GlobalStatePathAccessItem, generalized to per-permission, per-zone,
// per-dec entries for spec §8 scenario S6). Otherwise it is a fixed
// AccessAction applied unconditionally to any matching source.
type PathAccessItem struct {
	Path       string
	Handler    bool
	Action     AccessAction
	Zone       ZoneRequirement
	Dec        DecRequirement
	Permission noc.Permission
}

// matchesSource reports whether source satisfies item's Zone/Dec
// precondition. An item with no precondition (ZoneAny/DecAny) always
// matches.
func (item PathAccessItem) matchesSource(source *noc.Source) bool {
	if item.Zone == ZoneLocal {
		if source == nil || !(source.SameZone || source.SameDevice) {
			return false
		}
	}
	if item.Dec == DecSystem {
		if source == nil {
			return false
		}
		dec := source.EffectiveDecId()
		if dec == nil || *dec != noc.SystemDecId {
			return false
		}
	}
	return true
}

// ACLHandler resolves a Handler-kind PathAccessItem's action for a given
// request path.
type ACLHandler func(path string) AccessAction

// PathAccessTable is the ordered-by-specificity list of access items for
// one category; Lookup picks the longest matching prefix whose
// precondition, if any, source satisfies.
type PathAccessTable struct {
	category PathAccessCategory
	items    []PathAccessItem
	acl      ACLHandler
}

// NewPathAccessTable builds an empty table for category; acl resolves
// Handler items (nil is fine if none are registered).
func NewPathAccessTable(category PathAccessCategory, acl ACLHandler) *PathAccessTable {
	return &PathAccessTable{category: category, acl: acl}
}

// normalizePath NFC-normalizes a request path before matching, the same
// normalization honeytag's resolver applies to name queries.
func normalizePath(path string) string {
	return norm.NFC.String(path)
}

// Add registers an access item, keeping the table sorted by path length
// descending so Lookup's first match is always the longest prefix.
func (t *PathAccessTable) Add(item PathAccessItem) {
	item.Path = normalizePath(item.Path)
	t.items = append(t.items, item)
	sort.SliceStable(t.items, func(i, j int) bool {
		return len(t.items[i].Path) > len(t.items[j].Path)
	})
}

// Lookup resolves the access action for path and perm against source,
// falling back to fallback (the object's own access string, translated
// by the caller) when no item's prefix matches or every matching item's
// precondition goes unsatisfied (spec §4.7: "Absence of a match falls
// back to the object's access string").
func (t *PathAccessTable) Lookup(path string, perm noc.Permission, source *noc.Source, fallback AccessAction) AccessAction {
	normalized := normalizePath(path)
	for _, item := range t.items {
		if !strings.HasPrefix(normalized, item.Path) {
			continue
		}
		if item.Permission != 0 {
			if !item.matchesSource(source) {
				continue
			}
			if item.Permission&perm != 0 {
				return ActionAccept
			}
			return ActionReject
		}
		if !item.Handler {
			return item.Action
		}
		if t.acl == nil {
			return fallback
		}
		return t.acl(normalized)
	}
	return fallback
}

// FallbackFromAccess translates a noc.AccessString check into the
// AccessAction a path table lookup would have returned, so the two
// enforcement layers compose without the caller juggling two vocabularies.
func FallbackFromAccess(access noc.AccessString, source *noc.Source, perm noc.Permission, objectOwner objcodec.ObjectId, objectOwnerDec *objcodec.ObjectId) AccessAction {
	if access.AllowsFor(source, perm, objectOwner, objectOwnerDec) {
		return ActionAccept
	}
	return ActionReject
}
