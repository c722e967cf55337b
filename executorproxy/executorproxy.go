// Package executorproxy is a concrete, in-memory/bbolt-backed reference
// implementation of the ExecutorProxy interface (types.ExecutorProxy):
// the out-of-scope execution/storage collaborator the coordinator
// drives. It exists so the coordinator is runnable end to end in tests
// and the cmd/statesync demo without a real ledger.
//
// Grounded on the teacher's storage.go (a ReaderAt-style sequential
// access pattern over piece storage, here generalized to sequential
// access over a versioned transaction log) and storage/bolt-piece_test.go
// (the teacher's own embedded-bbolt storage backend).
package executorproxy

import (
	"context"
	"encoding/binary"
	"sort"

	"github.com/pkg/errors"
	"go.etcd.io/bbolt"

	"github.com/webhacking/statesync/types"
)

var txnBucket = []byte("transactions")

// Config configures the reference proxy.
type Config struct {
	// EpochLength is the number of versions per epoch in this reference
	// implementation's fixed epoch schedule; real deployments derive
	// epoch boundaries from validator-set-change transactions instead.
	EpochLength uint64
	// Validators is the fixed validator set used to "sign" ledger infos
	// and to check quorum in ValidateLedgerInfo.
	Validators []types.PeerID
	// Verifier signs and checks LedgerInfo signatures. Defaults to
	// NewTestVerifier(Validators) if nil.
	Verifier SignatureVerifier
}

// Proxy is the reference types.ExecutorProxy implementation.
type Proxy struct {
	db       *bbolt.DB
	cfg      Config
	verifier SignatureVerifier
}

var _ types.ExecutorProxy = (*Proxy)(nil)

// Open opens (creating if needed) a bbolt-backed proxy at path. Use
// ":memory:"-style temp files in tests; bbolt has no true in-memory
// mode, so tests should point path at a t.TempDir() file.
func Open(path string, cfg Config) (*Proxy, error) {
	db, err := bbolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, errors.Wrap(err, "opening bbolt db")
	}
	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(txnBucket)
		return err
	}); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "creating transactions bucket")
	}
	verifier := cfg.Verifier
	if verifier == nil {
		verifier = NewTestVerifier(cfg.Validators)
	}
	return &Proxy{db: db, cfg: cfg, verifier: verifier}, nil
}

// Close releases the underlying bbolt handle.
func (p *Proxy) Close() error {
	return p.db.Close()
}

// Seed writes a batch of already-committed transactions directly into
// the log (bypassing ExecuteChunk's validation), for test/demo setup.
func (p *Proxy) Seed(txns []types.Transaction) error {
	return p.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(txnBucket)
		for _, t := range txns {
			if err := b.Put(versionKey(t.Version), t.Payload); err != nil {
				return err
			}
		}
		return nil
	})
}

func versionKey(v types.Version) []byte {
	var k [8]byte
	binary.BigEndian.PutUint64(k[:], uint64(v))
	return k[:]
}

func versionFromKey(k []byte) types.Version {
	return types.Version(binary.BigEndian.Uint64(k))
}

func (p *Proxy) GetLatestVersion(ctx context.Context) (types.Version, error) {
	var latest types.Version
	err := p.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(txnBucket).Cursor()
		k, _ := c.Last()
		if k == nil {
			latest = 0
			return nil
		}
		latest = versionFromKey(k)
		return nil
	})
	return latest, err
}

func (p *Proxy) epoch(v types.Version) uint64 {
	if p.cfg.EpochLength == 0 {
		return 0
	}
	return uint64(v) / p.cfg.EpochLength
}

func (p *Proxy) GetLatestLedgerInfo(ctx context.Context) (types.LedgerInfoWithSignatures, error) {
	v, err := p.GetLatestVersion(ctx)
	if err != nil {
		return types.LedgerInfoWithSignatures{}, err
	}
	li := types.LedgerInfoWithSignatures{Ver: v, Epoch: p.epoch(v)}
	p.verifier.Sign(&li)
	return li, nil
}

func (p *Proxy) GetChunk(ctx context.Context, knownVersion types.Version, limit uint64, target types.LedgerInfoWithSignatures) (types.TransactionListWithProof, error) {
	var out types.TransactionListWithProof
	err := p.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(txnBucket).Cursor()
		start := knownVersion + 1
		for k, v := c.Seek(versionKey(start)); k != nil; k, v = c.Next() {
			ver := versionFromKey(k)
			if ver > target.Ver {
				break
			}
			if uint64(len(out.Transactions)) >= limit {
				break
			}
			payload := append([]byte(nil), v...)
			out.Transactions = append(out.Transactions, types.Transaction{Version: ver, Payload: payload})
		}
		return nil
	})
	if err != nil {
		return types.TransactionListWithProof{}, err
	}
	if len(out.Transactions) > 0 {
		out.FirstVersion.Ok = true
		out.FirstVersion.Value = out.Transactions[0].Version
	}
	return out, nil
}

func (p *Proxy) ValidateLedgerInfo(ctx context.Context, li types.LedgerInfoWithSignatures) error {
	return p.verifier.Verify(li)
}

func (p *Proxy) ExecuteChunk(ctx context.Context, chunk types.TransactionListWithProof, target types.LedgerInfoWithSignatures) error {
	if chunk.Empty() {
		return nil
	}
	latest, err := p.GetLatestVersion(ctx)
	if err != nil {
		return err
	}
	txns := append([]types.Transaction(nil), chunk.Transactions...)
	sort.Slice(txns, func(i, j int) bool { return txns[i].Version < txns[j].Version })
	for i, t := range txns {
		want := latest + types.Version(i) + 1
		if t.Version != want {
			return errors.Errorf("executing chunk: expected version %d, got %d", want, t.Version)
		}
	}
	return p.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(txnBucket)
		for _, t := range txns {
			if err := b.Put(versionKey(t.Version), t.Payload); err != nil {
				return err
			}
		}
		return nil
	})
}

func (p *Proxy) GetEpochProof(ctx context.Context, startEpoch uint64) (types.ValidatorChangeProof, error) {
	latest, err := p.GetLatestVersion(ctx)
	if err != nil {
		return types.ValidatorChangeProof{}, err
	}
	currentEpoch := p.epoch(latest)
	proof := types.ValidatorChangeProof{StartEpoch: types.Version(startEpoch)}
	if p.cfg.EpochLength == 0 {
		return proof, nil
	}
	for e := startEpoch; e <= currentEpoch; e++ {
		v := types.Version(e * p.cfg.EpochLength)
		li := types.LedgerInfoWithSignatures{Ver: v, Epoch: e}
		p.verifier.Sign(&li)
		proof.LedgerInfos = append(proof.LedgerInfos, li)
	}
	return proof, nil
}
