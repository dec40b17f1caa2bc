// Package identity implements CYFS device/owner key material: Ed25519
// signing keys and X25519 key-agreement keys, plus persistence to disk
// under the data root's etc/ directory (spec §6 "Persisted state layout").
package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/crypto/curve25519"

	"github.com/cyfs-dev/cyfs-core/pkg/objcodec"
)

// Identity represents one device or owner's key pairs: an Ed25519 signing
// key that determines its ObjectId, and an X25519 key-agreement key used
// to derive the symmetric key during a BDT tunnel handshake (spec §4.3).
type Identity struct {
	SigningPublicKey  ed25519.PublicKey  `json:"signing_public_key"`
	SigningPrivateKey ed25519.PrivateKey `json:"signing_private_key"`

	KeyAgreementPublicKey  [32]byte `json:"key_agreement_public_key"`
	KeyAgreementPrivateKey [32]byte `json:"key_agreement_private_key"`

	// id caches the device desc's ObjectId; recomputed lazily since it is
	// a pure function of SigningPublicKey.
	id objcodec.ObjectId
}

// Generate creates a new identity with fresh key pairs.
func Generate() (*Identity, error) {
	sigPub, sigPriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, objcodec.NewInternalError("generate Ed25519 key pair: %v", err)
	}

	var kaPriv, kaPub [32]byte
	if _, err := rand.Read(kaPriv[:]); err != nil {
		return nil, objcodec.NewInternalError("generate X25519 private key: %v", err)
	}
	curve25519.ScalarBaseMult(&kaPub, &kaPriv)

	id := &Identity{
		SigningPublicKey:       sigPub,
		SigningPrivateKey:      sigPriv,
		KeyAgreementPublicKey:  kaPub,
		KeyAgreementPrivateKey: kaPriv,
	}
	id.id = id.computeId()
	return id, nil
}

// computeId derives the device desc's ObjectId from the canonical desc
// encoding of the public-key material, following the same calculate_id
// rule as every other object kind (spec §4.1).
func (id *Identity) computeId() objcodec.ObjectId {
	desc := objcodec.Desc{
		ObjType:   descTypeDevice,
		PublicKey: append([]byte(nil), id.SigningPublicKey...),
		Payload:   append([]byte(nil), id.KeyAgreementPublicKey[:]...),
	}
	objId, err := objcodec.CalculateObjectId(desc)
	if err != nil {
		// Encoding a fixed-shape desc of raw key bytes cannot fail; a
		// failure here indicates a codec invariant violation.
		panic(fmt.Sprintf("identity: calculate device id: %v", err))
	}
	return objId
}

const descTypeDevice uint16 = 1

// Id returns the device's ObjectId, computing it on first use.
func (id *Identity) Id() objcodec.ObjectId {
	if id.id.IsZero() {
		id.id = id.computeId()
	}
	return id.id
}

// Sign signs arbitrary canonical bytes with the device's signing key.
func (id *Identity) Sign(data []byte) []byte {
	return ed25519.Sign(id.SigningPrivateKey, data)
}

// Verify checks a signature produced by the public key matching this
// identity's device id.
func (id *Identity) Verify(data, sig []byte) bool {
	return ed25519.Verify(id.SigningPublicKey, data, sig)
}

// SaveToFile persists the identity as JSON under the given path,
// restricting permissions since it carries private key material.
func (id *Identity) SaveToFile(filename string) error {
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return objcodec.NewInternalError("create identity directory: %v", err)
	}

	data, err := json.MarshalIndent(id, "", "  ")
	if err != nil {
		return objcodec.NewInternalError("marshal identity: %v", err)
	}

	if err := os.WriteFile(filename, data, 0600); err != nil {
		return objcodec.NewInternalError("write identity file: %v", err)
	}
	return nil
}

// LoadFromFile loads an identity previously written by SaveToFile.
func LoadFromFile(filename string) (*Identity, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, objcodec.NewNotFound("read identity file: %v", err)
	}

	var id Identity
	if err := json.Unmarshal(data, &id); err != nil {
		return nil, objcodec.NewInvalidFormat("unmarshal identity: %v", err)
	}
	id.id = id.computeId()
	return &id, nil
}
