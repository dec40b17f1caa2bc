package events

import (
	"fmt"

	"github.com/cyfs-dev/cyfs-core/pkg/router"
)

// ClientMessage is one frame sent by an external process to a Session,
// decoded straight off the WebSocket connection.
type ClientMessage struct {
	Type      string            `json:"type"`
	DecId     string            `json:"dec_id,omitempty"`
	Chain     string            `json:"chain,omitempty"`
	Op        string            `json:"op,omitempty"`
	Id        string            `json:"id,omitempty"`
	Priority  int               `json:"priority,omitempty"`
	Filter    map[string]string `json:"filter,omitempty"`
	ReqPath   string            `json:"req_path,omitempty"`
	Topic     string            `json:"topic,omitempty"`
	RequestId string            `json:"request_id,omitempty"`
	Verdict   string            `json:"verdict,omitempty"`
	Payload   interface{}       `json:"payload,omitempty"`
}

// Client message types.
const (
	msgAuthenticate = "authenticate"
	msgAddHandler   = "add_handler"
	msgAddEvent     = "add_event"
	msgResponse     = "response"
)

// ServerMessage is one frame a Session sends to its external process,
// either to invoke a registered handler or to deliver an event bus
// notification.
type ServerMessage struct {
	Type      string            `json:"type"`
	RequestId string            `json:"request_id,omitempty"`
	Op        string            `json:"op,omitempty"`
	Path      string            `json:"path,omitempty"`
	Fields    map[string]string `json:"fields,omitempty"`
	Topic     string            `json:"topic,omitempty"`
	Payload   interface{}       `json:"payload,omitempty"`
	Error     string            `json:"error,omitempty"`
}

// Server message types.
const (
	msgInvoke = "invoke"
	msgEvent  = "event"
	msgAck    = "ack"
	msgError  = "error"
)

var chainNames = map[string]router.ChainKind{
	"pre_forward":  router.ChainPreForward,
	"acl":          router.ChainAcl,
	"post_forward": router.ChainPostForward,
}

func chainName(chain router.ChainKind) string {
	for name, k := range chainNames {
		if k == chain {
			return name
		}
	}
	return ""
}

var opNames = map[string]router.OpKind{
	"get_object":    router.OpGetObject,
	"put_object":    router.OpPutObject,
	"post_object":   router.OpPostObject,
	"get_data":      router.OpGetData,
	"put_data":      router.OpPutData,
	"delete_data":   router.OpDeleteData,
	"sign_object":   router.OpSignObject,
	"verify_object": router.OpVerifyObject,
	"encrypt_data":  router.OpEncryptData,
	"decrypt_data":  router.OpDecryptData,
	"interest":      router.OpInterest,
}

func opName(op router.OpKind) string {
	for name, k := range opNames {
		if k == op {
			return name
		}
	}
	return ""
}

var verdictNames = map[string]router.Verdict{
	"pass":     router.VerdictPass,
	"reject":   router.VerdictReject,
	"drop":     router.VerdictDrop,
	"response": router.VerdictResponse,
	"default":  router.VerdictDefault,
}

func verdictName(v router.Verdict) string {
	for name, k := range verdictNames {
		if k == v {
			return name
		}
	}
	return ""
}

func parseChain(s string) (router.ChainKind, error) {
	if k, ok := chainNames[s]; ok {
		return k, nil
	}
	return 0, fmt.Errorf("unknown chain %q", s)
}

func parseOp(s string) (router.OpKind, error) {
	if k, ok := opNames[s]; ok {
		return k, nil
	}
	return 0, fmt.Errorf("unknown op %q", s)
}

func parseVerdict(s string) (router.Verdict, error) {
	if k, ok := verdictNames[s]; ok {
		return k, nil
	}
	return 0, fmt.Errorf("unknown verdict %q", s)
}
