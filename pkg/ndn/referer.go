package ndn

import "github.com/cyfs-dev/cyfs-core/pkg/objcodec"

// FileReferer is the minimal File object content a referer check
// inspects: a flat chunk list. Requesting any chunk in this list through
// the file as referer is legitimate (ndn_api/acl/verifier.rs's
// FileVerifier.verify: "target_chunk_id in file.body.content.chunk_list").
type FileReferer struct {
	ChunkList []objcodec.ChunkId
}

// contains reports whether id appears anywhere in f's chunk list.
func (f FileReferer) contains(id objcodec.ChunkId) bool {
	for _, c := range f.ChunkList {
		if c == id {
			return true
		}
	}
	return false
}

// DirReferer is the minimal Dir object content a referer check inspects:
// an optional parent chunk (the directory packed whole into one chunk)
// and an object list mapping entry names to the chunk each resolves to
// (ndn_api/acl/verifier.rs's DirVerifier.verify).
type DirReferer struct {
	ParentChunk *objcodec.ChunkId
	ObjectList  map[string]objcodec.ChunkId
}

// contains reports whether id is dir's parent chunk or appears in its
// object list.
func (d DirReferer) contains(id objcodec.ChunkId) bool {
	if d.ParentChunk != nil && *d.ParentChunk == id {
		return true
	}
	for _, c := range d.ObjectList {
		if c == id {
			return true
		}
	}
	return false
}

// Referer is a decoded referer object: exactly one of File or Dir is
// set, matching the File/Dir object type split
// ndn_api/acl/verifier.rs's NDNRefererVerifier.verify_referer switches
// on.
type Referer struct {
	Id   objcodec.ObjectId
	File *FileReferer
	Dir  *DirReferer
}

// Verify checks chunkId's membership in this referer's content,
// defaulting to deny (spec §4.4: "default to deny on a File/Dir
// mismatch").
func (r Referer) Verify(chunkId objcodec.ChunkId) error {
	switch {
	case r.File != nil:
		if r.File.contains(chunkId) {
			return nil
		}
		return objcodec.NewPermissionDenied("chunk %s not found in file %s's chunk list", chunkId.String(), r.Id.String())
	case r.Dir != nil:
		if r.Dir.contains(chunkId) {
			return nil
		}
		return objcodec.NewPermissionDenied("chunk %s not found in dir %s's parent chunk or object list", chunkId.String(), r.Id.String())
	default:
		return objcodec.NewUnSupport("referer %s has neither file nor dir content", r.Id.String())
	}
}
