package executorproxy

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/webhacking/statesync/types"
)

// SignatureVerifier signs and checks LedgerInfoWithSignatures quorum
// certificates. This package ships only a test-only HMAC-based
// implementation (TestVerifier); production deployments supply a real
// BLS/ed25519-backed one through Config.Verifier.
type SignatureVerifier interface {
	// Sign replaces li's signatures with one per configured validator.
	Sign(li *types.LedgerInfoWithSignatures)
	// Verify checks that li carries signatures from a quorum of the
	// configured validator set over its own (Epoch, Ver).
	Verify(li types.LedgerInfoWithSignatures) error
}

// TestVerifier signs with HMAC-SHA256 under a fixed, well-known
// per-validator key derived from the validator's PeerID. It is not
// cryptographically meaningful; it exists so the reference proxy can
// exercise ValidateLedgerInfo's quorum-counting logic in tests and the
// cmd/statesync demo without a real signature scheme.
type TestVerifier struct {
	validators []types.PeerID
	keys       map[types.PeerID][]byte
}

// NewTestVerifier builds a TestVerifier over the given validator set.
func NewTestVerifier(validators []types.PeerID) *TestVerifier {
	keys := make(map[types.PeerID][]byte, len(validators))
	for _, v := range validators {
		keys[v] = []byte("test-key-" + string(v))
	}
	return &TestVerifier{validators: validators, keys: keys}
}

func signedMessage(epoch uint64, ver types.Version) []byte {
	var buf [16]byte
	binary.BigEndian.PutUint64(buf[0:8], epoch)
	binary.BigEndian.PutUint64(buf[8:16], uint64(ver))
	return buf[:]
}

func (v *TestVerifier) Sign(li *types.LedgerInfoWithSignatures) {
	msg := signedMessage(li.Epoch, li.Ver)
	li.Signatures = li.Signatures[:0]
	for _, signer := range v.validators {
		mac := hmac.New(sha256.New, v.keys[signer])
		mac.Write(msg)
		li.Signatures = append(li.Signatures, types.ValidatorSignature{
			Signer: signer,
			Sig:    mac.Sum(nil),
		})
	}
}

// Verify requires strictly more than two-thirds of the configured
// validator set to have produced a matching signature, the standard
// BFT quorum threshold.
func (v *TestVerifier) Verify(li types.LedgerInfoWithSignatures) error {
	msg := signedMessage(li.Epoch, li.Ver)
	valid := 0
	for _, sig := range li.Signatures {
		key, ok := v.keys[sig.Signer]
		if !ok {
			continue
		}
		mac := hmac.New(sha256.New, key)
		mac.Write(msg)
		if hmac.Equal(mac.Sum(nil), sig.Sig) {
			valid++
		}
	}
	need := 2*len(v.validators)/3 + 1
	if valid < need {
		return errors.Errorf("ledger info for version %d has %d valid signatures, need %d of %d validators", li.Ver, valid, need, len(v.validators))
	}
	return nil
}
