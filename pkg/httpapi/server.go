// Package httpapi implements the local HTTP service surface: named-object
// CRUD under /non/object, chunk streaming under /ndn/data, root-state
// reads under /root_state, and the WebSocket handler/event endpoint,
// generalizing pkg/control/api.go's Request/Response JSON-RPC shape into
// a REST surface over the same *stack.Stack dependency.
package httpapi

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/cyfs-dev/cyfs-core/pkg/noc"
	"github.com/cyfs-dev/cyfs-core/pkg/objcodec"
	"github.com/cyfs-dev/cyfs-core/pkg/router"
	"github.com/cyfs-dev/cyfs-core/pkg/stack"
)

// Header names carried on every request, per spec §6.
const (
	HeaderDecId   = "cyfs-dec-id"
	HeaderSource  = "cyfs-source"
	HeaderTarget  = "cyfs-target"
	HeaderFlags   = "cyfs-flags"
	HeaderReqPath = "cyfs-req-path"
	HeaderAccess  = "cyfs-access-string"
)

// Server mounts the external HTTP surface over a *stack.Stack.
type Server struct {
	stack *stack.Stack
	mux   *http.ServeMux
}

// NewServer builds a Server serving stack's named-object, NDN data, and
// root-state endpoints, plus the event runtime's WebSocket endpoint.
func NewServer(st *stack.Stack) *Server {
	s := &Server{stack: st, mux: http.NewServeMux()}
	s.mux.HandleFunc("/non/object/", s.handleObject)
	s.mux.HandleFunc("/ndn/data/", s.handleData)
	s.mux.HandleFunc("/root_state/", s.handleRootState)
	s.mux.Handle("/event", st.Events)
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) handleObject(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/non/object/")
	if id == "" {
		writeError(w, objcodec.NewInvalidFormat("object id required"))
		return
	}

	req := router.Request{
		Path:   r.URL.Query().Get("inner_path"),
		Fields: map[string]string{"id": id},
	}
	if decId := r.Header.Get(HeaderDecId); decId != "" {
		req.Fields["dec_id"] = decId
	}

	var op router.OpKind
	switch r.Method {
	case http.MethodGet:
		op = router.OpGetObject
	case http.MethodPut:
		body, err := io.ReadAll(r.Body)
		if err != nil {
			writeError(w, objcodec.NewInvalidData("read body: %v", err))
			return
		}
		req.Fields["body"] = string(body)
		op = router.OpPutObject
	case http.MethodDelete:
		op = router.OpDeleteData
	case http.MethodPost:
		body, err := io.ReadAll(r.Body)
		if err != nil {
			writeError(w, objcodec.NewInvalidData("read body: %v", err))
			return
		}
		req.Fields["body"] = string(body)
		op = router.OpPostObject
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	req.Op = op

	target, source := requestContext(r, s.stack)
	result, err := s.stack.Router.Dispatch(r.Context(), req, target, router.CategoryRootState, fallbackFor(source), source)
	if err != nil {
		writeError(w, err)
		return
	}
	writeResult(w, result)
}

func (s *Server) handleData(w http.ResponseWriter, r *http.Request) {
	idStr := strings.TrimPrefix(r.URL.Path, "/ndn/data/")
	chunkId, err := objcodec.ParseChunkId(idStr)
	if err != nil {
		writeError(w, objcodec.NewInvalidFormat("chunk id: %v", err))
		return
	}

	switch r.Method {
	case http.MethodGet:
		rc, err := s.stack.Chunks.Get(chunkId)
		if err != nil {
			writeError(w, err)
			return
		}
		defer rc.Close()
		if rng := r.Header.Get("Range"); rng != "" {
			w.Header().Set("Accept-Ranges", "bytes")
		}
		io.Copy(w, rc)
	case http.MethodPut:
		data, err := io.ReadAll(r.Body)
		if err != nil {
			writeError(w, objcodec.NewInvalidData("read body: %v", err))
			return
		}
		if err := s.stack.Chunks.Put(chunkId, data); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleRootState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	path := strings.TrimPrefix(r.URL.Path, "/root_state")
	id, found, err := s.stack.Objects.GetByPath(s.stack.Global.Head(), path)
	if err != nil {
		writeError(w, err)
		return
	}
	if !found {
		writeError(w, objcodec.NewNotFound("no entry at %s", path))
		return
	}
	w.Write([]byte(id.String()))
}

func requestContext(r *http.Request, st *stack.Stack) (objcodec.ObjectId, *noc.Source) {
	target := st.SelfId()
	if t := r.Header.Get(HeaderTarget); t != "" {
		if parsed, err := objcodec.ParseObjectId(t); err == nil {
			target = parsed
		}
	}
	source := &noc.Source{DeviceId: st.SelfId(), Owner: st.SelfId(), SameDevice: true, SameZone: true}
	if src := r.Header.Get(HeaderSource); src != "" {
		if parsed, err := objcodec.ParseObjectId(src); err == nil {
			source.Owner = parsed
			source.SameDevice = parsed == st.SelfId()
			source.SameZone = parsed == st.SelfId()
		}
	}
	if decId := r.Header.Get(HeaderDecId); decId != "" {
		if parsed, err := objcodec.ParseObjectId(decId); err == nil {
			source.DecId = &parsed
		}
	}
	return target, source
}

func fallbackFor(source *noc.Source) router.AccessAction {
	if source.SameZone {
		return router.ActionAccept
	}
	return router.ActionReject
}

func writeResult(w http.ResponseWriter, result interface{}) {
	switch v := result.(type) {
	case nil:
		w.WriteHeader(http.StatusNoContent)
	case *noc.Object:
		w.Write(v.Body)
	case noc.PutOutcome:
		w.Write([]byte(v.Result.String()))
	case []byte:
		w.Write(v)
	default:
		w.Write([]byte(""))
	}
}

func writeError(w http.ResponseWriter, err error) {
	var oe *objcodec.Error
	if !errors.As(err, &oe) {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	http.Error(w, oe.Error(), statusForCode(oe.Code))
}

func statusForCode(code objcodec.Code) int {
	switch code {
	case objcodec.CodeNotFound:
		return http.StatusNotFound
	case objcodec.CodeAlreadyExists:
		return http.StatusConflict
	case objcodec.CodeInvalidFormat, objcodec.CodeInvalidData:
		return http.StatusBadRequest
	case objcodec.CodePermissionDenied:
		return http.StatusForbidden
	case objcodec.CodeTimeout:
		return http.StatusGatewayTimeout
	case objcodec.CodeConnectionAborted:
		return http.StatusBadGateway
	case objcodec.CodeUnSupport:
		return http.StatusNotImplemented
	case objcodec.CodeRedirect:
		return http.StatusTemporaryRedirect
	default:
		return http.StatusInternalServerError
	}
}
