package router

import (
	glob "github.com/ryanuber/go-glob"
)

// ChainKind names one of the three ordered handler chains (spec §4.7).
type ChainKind uint8

const (
	ChainPreForward ChainKind = iota
	ChainAcl
	ChainPostForward
)

// OpKind is the operation a request performs, the other axis handlers
// are registered against.
type OpKind uint8

const (
	OpGetObject OpKind = iota
	OpPutObject
	OpPostObject
	OpGetData
	OpPutData
	OpDeleteData
	OpSignObject
	OpVerifyObject
	OpEncryptData
	OpDecryptData
	OpInterest
)

// Verdict is what a handler decides for a request (spec §4.7).
type Verdict uint8

const (
	VerdictPass Verdict = iota
	VerdictReject
	VerdictDrop
	VerdictResponse
	VerdictDefault
)

// Request is the generic shape handlers inspect and operations dispatch
// over; Fields carries whatever operation-specific data a filter pattern
// might match against (e.g. "req_path" or an object id string).
type Request struct {
	Op     OpKind
	Path   string
	Fields map[string]string
}

// Result is what a handler returns: a Verdict, and for VerdictResponse a
// caller-supplied payload that short-circuits the chain.
type Result struct {
	Verdict Verdict
	Payload interface{}
}

// HandlerFunc is a registered handler's logic.
type HandlerFunc func(req Request) Result

// Handler is one registered chain entry: an id unique within its
// chain+op, a priority (lower fires first), an optional filter pattern
// matched against req.Fields via glob, and an optional exact req_path
// constraint.
type Handler struct {
	Id       string
	Priority int
	Filter   map[string]string
	ReqPath  string
	Fn       HandlerFunc
}

func (h *Handler) matches(req Request) bool {
	if h.ReqPath != "" && h.ReqPath != req.Path {
		return false
	}
	for field, pattern := range h.Filter {
		value, ok := req.Fields[field]
		if !ok || !glob.Glob(pattern, value) {
			return false
		}
	}
	return true
}

// Chains holds every registered handler, keyed by (ChainKind, OpKind).
type Chains struct {
	handlers map[ChainKind]map[OpKind][]*Handler
}

func NewChains() *Chains {
	return &Chains{handlers: make(map[ChainKind]map[OpKind][]*Handler)}
}

// Register adds h to chain for op, keeping the op's handler list sorted
// by ascending priority, then by registration order for ties.
func (c *Chains) Register(chain ChainKind, op OpKind, h *Handler) {
	if c.handlers[chain] == nil {
		c.handlers[chain] = make(map[OpKind][]*Handler)
	}
	list := c.handlers[chain][op]
	list = append(list, h)
	insertionSortByPriority(list)
	c.handlers[chain][op] = list
}

func insertionSortByPriority(list []*Handler) {
	for i := 1; i < len(list); i++ {
		for j := i; j > 0 && list[j].Priority < list[j-1].Priority; j-- {
			list[j], list[j-1] = list[j-1], list[j]
		}
	}
}

// Unregister removes the handler with id from chain+op, if present.
func (c *Chains) Unregister(chain ChainKind, op OpKind, id string) {
	list := c.handlers[chain][op]
	for i, h := range list {
		if h.Id == id {
			c.handlers[chain][op] = append(list[:i], list[i+1:]...)
			return
		}
	}
}

// Run walks chain's handlers for req.Op in priority order, stopping at
// the first non-Pass verdict. VerdictDefault and an exhausted chain both
// mean "fall through to the next stage"; the caller distinguishes them
// only if it cares (both carry Verdict value, exhaustion is reported as
// VerdictDefault with a nil payload).
func (c *Chains) Run(chain ChainKind, req Request) Result {
	for _, h := range c.handlers[chain][req.Op] {
		if !h.matches(req) {
			continue
		}
		result := h.Fn(req)
		if result.Verdict == VerdictPass {
			continue
		}
		return result
	}
	return Result{Verdict: VerdictDefault}
}
