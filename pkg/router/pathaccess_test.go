package router

import (
	"testing"

	"github.com/cyfs-dev/cyfs-core/pkg/noc"
	"github.com/cyfs-dev/cyfs-core/pkg/objcodec"
)

func TestPathAccessTableLongestPrefixWins(t *testing.T) {
	table := NewPathAccessTable(CategoryRootState, nil)
	table.Add(PathAccessItem{Path: "/a", Action: ActionAccept})
	table.Add(PathAccessItem{Path: "/a/b", Action: ActionReject})

	if got := table.Lookup("/a/b/c", noc.PermRead, nil, ActionAccept); got != ActionReject {
		t.Fatalf("expected the longer /a/b prefix to win, got %v", got)
	}
	if got := table.Lookup("/a/x", noc.PermRead, nil, ActionAccept); got != ActionAccept {
		t.Fatalf("expected the /a prefix to win for a path outside /a/b, got %v", got)
	}
}

func TestPathAccessTableFallsBackWithoutMatch(t *testing.T) {
	table := NewPathAccessTable(CategoryRootState, nil)
	table.Add(PathAccessItem{Path: "/only", Action: ActionReject})
	if got := table.Lookup("/elsewhere", noc.PermRead, nil, ActionAccept); got != ActionAccept {
		t.Fatalf("expected fallback action for an unmatched path, got %v", got)
	}
}

func TestPathAccessTableHandlerFiresACL(t *testing.T) {
	var seenPath string
	acl := func(path string) AccessAction {
		seenPath = path
		return ActionReject
	}
	table := NewPathAccessTable(CategoryRootState, acl)
	table.Add(PathAccessItem{Path: "/watched", Handler: true})

	got := table.Lookup("/watched/child", noc.PermRead, nil, ActionAccept)
	if got != ActionReject {
		t.Fatalf("expected the ACL handler's verdict, got %v", got)
	}
	if seenPath != "/watched/child" {
		t.Fatalf("expected the ACL handler to see the normalized path, got %q", seenPath)
	}
}

func TestFallbackFromAccessReflectsGroup(t *testing.T) {
	owner := testId(1)
	access := noc.DefaultAccessString()

	if got := FallbackFromAccess(access, &noc.Source{Owner: owner}, noc.PermWrite, owner, nil); got != ActionAccept {
		t.Fatalf("expected the owner to be granted write, got %v", got)
	}
	if got := FallbackFromAccess(access, &noc.Source{Owner: testId(9)}, noc.PermWrite, owner, nil); got != ActionReject {
		t.Fatalf("expected a stranger to be denied write, got %v", got)
	}
}

// TestPathAccessTableZoneLocalSystemDecVsAnyDec reproduces spec §8
// scenario S6 at the table level: /a/b grants Read/Call only to a
// zone-local system-dec caller; /a grants Read to any zone-local dec.
// A non-matching precondition falls through to the next, less specific
// item instead of terminating the search.
func TestPathAccessTableZoneLocalSystemDecVsAnyDec(t *testing.T) {
	table := NewPathAccessTable(CategoryRootState, nil)
	table.Add(PathAccessItem{Path: "/a/b", Zone: ZoneLocal, Dec: DecSystem, Permission: noc.PermRead | noc.PermCall})
	table.Add(PathAccessItem{Path: "/a", Zone: ZoneLocal, Dec: DecAny, Permission: noc.PermRead})

	someDec := objcodec.ObjectId{9}
	nonSystem := &noc.Source{SameZone: true, DecId: &someDec}
	system := &noc.Source{SameZone: true, DecId: &noc.SystemDecId}

	if got := table.Lookup("/a/b/c", noc.PermCall, nonSystem, ActionReject); got != ActionReject {
		t.Fatalf("expected a call from a non-system dec to be denied, got %v", got)
	}
	if got := table.Lookup("/a/b/c", noc.PermRead, nonSystem, ActionReject); got != ActionAccept {
		t.Fatalf("expected a read from the same non-system dec to fall through to /a and be accepted, got %v", got)
	}
	if got := table.Lookup("/a/b/c", noc.PermCall, system, ActionReject); got != ActionAccept {
		t.Fatalf("expected a call from the system dec to be accepted, got %v", got)
	}
}
