package noc

import "github.com/cyfs-dev/cyfs-core/pkg/objcodec"

// AccessGroup is one of the six buckets an access string's bits are
// addressed by: the caller's zone proximity to the object's owner, and
// the caller's dec_id relationship to the object's owning dec. These are
// independent axes of one request source, not alternatives (spec §3).
type AccessGroup uint8

const (
	GroupCurrentDevice AccessGroup = iota
	GroupCurrentZone
	GroupFriendsZone
	GroupOthersZone
	GroupOwnerDec
	GroupOthersDec
	groupCount
)

// Permission is a single right an access string can grant per group.
type Permission uint8

const (
	PermRead Permission = 1 << iota
	PermWrite
	PermCall
)

// AccessString packs Read/Write/Call permissions for each of the six
// AccessGroups into a 32-bit bitfield, three bits per group, in the same
// spirit as a Unix mode mask (spec §3).
type AccessString uint32

// NewAccessString builds an access string from explicit per-group grants.
func NewAccessString(currentDevice, currentZone, friendsZone, othersZone, ownerDec, othersDec Permission) AccessString {
	grants := [groupCount]Permission{currentDevice, currentZone, friendsZone, othersZone, ownerDec, othersDec}
	var a AccessString
	for i, p := range grants {
		a |= AccessString(p) << uint(i*3)
	}
	return a
}

// DefaultAccessString is applied when put omits an access string: full
// read/write/call for the owner's own device and zone and for the
// owning dec, read-only for the rest of the zone, nothing for strangers
// (spec §3: "the full default grants read/write to same-dec-same-zone
// and read-only to others in the zone").
func DefaultAccessString() AccessString {
	full := PermRead | PermWrite | PermCall
	return NewAccessString(full, full, PermRead, 0, full, 0)
}

// Allows reports whether group holds perm under this access string.
func (a AccessString) Allows(group AccessGroup, perm Permission) bool {
	shift := uint(group) * 3
	return Permission(perm)&Permission((a>>shift)&0x7) != 0
}

// AllowsFor reports whether source holds perm against an object owned by
// objectOwner/objectOwnerDec, granting access if ANY AccessGroup the
// source simultaneously qualifies for carries perm — the zone-proximity
// axis and the dec-identity axis are independent, so a single request
// can satisfy both at once (spec §3, §8 scenario S6).
func (a AccessString) AllowsFor(source *Source, perm Permission, objectOwner objcodec.ObjectId, objectOwnerDec *objcodec.ObjectId) bool {
	for _, group := range classify(objectOwner, objectOwnerDec, source) {
		if a.Allows(group, perm) {
			return true
		}
	}
	return false
}

// SystemDecId is the reserved, well-known dec identity spec §8 scenario
// S6 distinguishes from "any dec": a path access item scoped to the
// system dec matches only a source whose effective dec id is this value.
var SystemDecId = objcodec.ObjectId{}

// Source identifies the caller of a NOC operation: the requesting
// device's owning identity, its zone proximity to the object owner
// (SameDevice implies SameZone), and the calling dec — both the
// caller-asserted DecId and, when the transport verified it, the
// stronger VerifiedDecId (spec §3, §4.7). A nil Source is treated as the
// most restrictive, unclassified caller.
type Source struct {
	DeviceId      objcodec.ObjectId
	Owner         objcodec.ObjectId
	SameDevice    bool // this request originates from the object owner's own device
	SameZone      bool
	FriendZone    bool // not SameZone, but the zone is a known friend's zone
	DecId         *objcodec.ObjectId
	VerifiedDecId *objcodec.ObjectId
}

// EffectiveDecId prefers a transport-verified dec id over a caller-
// asserted one for access decisions (spec §4.7: verified_dec_id, when
// present, supersedes the asserted dec_id).
func (s *Source) EffectiveDecId() *objcodec.ObjectId {
	if s == nil {
		return nil
	}
	if s.VerifiedDecId != nil {
		return s.VerifiedDecId
	}
	return s.DecId
}

// classify returns every AccessGroup source belongs to for an object
// owned by objectOwner/objectOwnerDec: one zone-proximity group and one
// dec-identity group, since the two axes are independent (spec §3).
func classify(objectOwner objcodec.ObjectId, objectOwnerDec *objcodec.ObjectId, source *Source) []AccessGroup {
	if source == nil {
		return []AccessGroup{GroupOthersZone, GroupOthersDec}
	}

	var groups []AccessGroup
	switch {
	case source.Owner == objectOwner && source.SameDevice:
		groups = append(groups, GroupCurrentDevice, GroupCurrentZone)
	case source.Owner == objectOwner || source.SameZone:
		groups = append(groups, GroupCurrentZone)
	case source.FriendZone:
		groups = append(groups, GroupFriendsZone)
	default:
		groups = append(groups, GroupOthersZone)
	}

	dec := source.EffectiveDecId()
	if objectOwnerDec != nil && dec != nil && *dec == *objectOwnerDec {
		groups = append(groups, GroupOwnerDec)
	} else {
		groups = append(groups, GroupOthersDec)
	}
	return groups
}

// checkAccess enforces perm against an object's access string for
// source, called on every NOC operation (spec §4.6).
func checkAccess(access AccessString, objectOwner objcodec.ObjectId, objectOwnerDec *objcodec.ObjectId, source *Source, perm Permission) error {
	if !access.AllowsFor(source, perm, objectOwner, objectOwnerDec) {
		return objcodec.NewPermissionDenied("source not permitted for this operation")
	}
	return nil
}
