package router

import (
	"context"

	"github.com/cyfs-dev/cyfs-core/pkg/noc"
	"github.com/cyfs-dev/cyfs-core/pkg/objcodec"
)

// BuiltinHandler executes a request locally once every chain and access
// check has passed.
type BuiltinHandler func(ctx context.Context, req Request) (interface{}, error)

// Forwarder ships a request to a remote device's HTTP-over-BDT service
// and returns its reconstructed response (spec §4.7's "Forwarding"
// paragraph). A production Forwarder opens a pkg/bdt Stream per attempt;
// tests can substitute a fake.
type Forwarder interface {
	Forward(ctx context.Context, device objcodec.ObjectId, req Request) (interface{}, error)
}

// Router ties zone resolution, path access meta, and the three handler
// chains together into one Dispatch entry point (spec §4.7).
type Router struct {
	self       objcodec.ObjectId
	zones      *ZoneResolver
	chains     *Chains
	rootState  *PathAccessTable
	localCache *PathAccessTable
	builtin    BuiltinHandler
	forwarder  Forwarder
	maxRetries int
}

// NewRouter builds a Router for a device identified by self.
func NewRouter(self objcodec.ObjectId, zones *ZoneResolver, builtin BuiltinHandler, forwarder Forwarder, maxRetries int) *Router {
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &Router{
		self:       self,
		zones:      zones,
		chains:     NewChains(),
		rootState:  NewPathAccessTable(CategoryRootState, nil),
		localCache: NewPathAccessTable(CategoryLocalCache, nil),
		builtin:    builtin,
		forwarder:  forwarder,
		maxRetries: maxRetries,
	}
}

// Chains exposes the handler registry for callers to Register against.
func (r *Router) Chains() *Chains { return r.chains }

// PathAccessTable returns the table governing category, for callers to
// populate with GlobalStatePathAccessItem entries.
func (r *Router) PathAccessTable(category PathAccessCategory) *PathAccessTable {
	if category == CategoryLocalCache {
		return r.localCache
	}
	return r.rootState
}

// Dispatch resolves target's zone, enforces path access meta, then runs
// the four ordered stages spec §4.8 names: PreForward, the built-in
// operation (local or forwarded), Acl, and PostForward. Acl runs after
// the operation executes so it can still veto the result before it
// reaches the caller.
func (r *Router) Dispatch(ctx context.Context, req Request, target objcodec.ObjectId, category PathAccessCategory, fallback AccessAction, source *noc.Source) (interface{}, error) {
	table := r.rootState
	if category == CategoryLocalCache {
		table = r.localCache
	}
	if table.Lookup(req.Path, opPermission(req.Op), source, fallback) == ActionReject {
		return nil, objcodec.NewPermissionDenied("path %q denied by access meta", req.Path)
	}

	if payload, done, err := r.runChain(ChainPreForward, req); done {
		return payload, err
	}

	device, _ := r.zones.Resolve(target)

	var result interface{}
	var err error
	if device == r.self {
		if r.builtin == nil {
			return nil, objcodec.NewUnSupport("no builtin handler registered for this router")
		}
		result, err = r.builtin(ctx, req)
	} else {
		result, err = r.forwardWithRetries(ctx, device, req)
	}
	if err != nil {
		return nil, err
	}

	if payload, done, err := r.runChain(ChainAcl, req); done {
		return payload, err
	}

	if payload, done, perr := r.runChain(ChainPostForward, req); done {
		return payload, perr
	}
	return result, nil
}

// opPermission maps an operation to the noc.Permission a path access
// check enforces for it (spec §3: Read/Write/Call are the three rights
// an access string's groups can grant).
func opPermission(op OpKind) noc.Permission {
	switch op {
	case OpPutObject, OpPutData, OpDeleteData:
		return noc.PermWrite
	case OpPostObject:
		return noc.PermCall
	default:
		return noc.PermRead
	}
}

// runChain runs chain against req and translates its Verdict into
// Dispatch's (payload, done, err) control flow: Pass-exhausted and
// Default both mean "not done"; Reject/Drop terminate with
// PermissionDenied; Response short-circuits with its payload.
func (r *Router) runChain(chain ChainKind, req Request) (interface{}, bool, error) {
	result := r.chains.Run(chain, req)
	switch result.Verdict {
	case VerdictReject, VerdictDrop:
		return nil, true, objcodec.NewPermissionDenied("request rejected by %v chain", chain)
	case VerdictResponse:
		return result.Payload, true, nil
	default:
		return nil, false, nil
	}
}

// forwardWithRetries ships req to device, retrying on failure up to
// maxRetries additional attempts before surfacing ConnectionAborted
// (spec §4.7: "On tunnel failure the router MAY retry ... up to a
// configured cap, then surface ConnectionAborted").
func (r *Router) forwardWithRetries(ctx context.Context, device objcodec.ObjectId, req Request) (interface{}, error) {
	if r.forwarder == nil {
		return nil, objcodec.NewUnSupport("no forwarder configured for cross-zone requests")
	}
	var lastErr error
	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		result, err := r.forwarder.Forward(ctx, device, req)
		if err == nil {
			return result, nil
		}
		lastErr = err
	}
	return nil, objcodec.NewConnectionAborted("forwarding to %s failed after %d attempts: %v", device.String(), r.maxRetries+1, lastErr)
}
