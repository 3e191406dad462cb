package chain

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Klingon-tech/xchain/internal/registry"
	"github.com/Klingon-tech/xchain/internal/storage"
	"github.com/Klingon-tech/xchain/pkg/block"
	"github.com/Klingon-tech/xchain/pkg/crypto"
	"github.com/Klingon-tech/xchain/pkg/types"
)

func newChain(t *testing.T, key crypto.Signer) *Chain {
	t.Helper()
	c, err := New(storage.NewMemory(), key)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	c.now = func() time.Time { return testTime }
	return c
}

func TestNew_Errors(t *testing.T) {
	if _, err := New(nil, testKey(t)); err == nil {
		t.Error("New(nil db) should fail")
	}
	if _, err := New(storage.NewMemory(), nil); !errors.Is(err, block.ErrNilSigner) {
		t.Errorf("New(nil key) error = %v, want ErrNilSigner", err)
	}
}

func TestChain_CreateProposal(t *testing.T) {
	c := newChain(t, testKey(t))
	ctx := context.Background()

	var notified []*block.Block
	c.Listeners.Add(registry.AnyType, registry.ListenerFunc(func(b *block.Block) {
		notified = append(notified, b)
	}))

	first, err := c.CreateProposal(ctx, "test", block.Transaction{"n": 1}, types.PublicKey{})
	if err != nil {
		t.Fatalf("CreateProposal() error: %v", err)
	}
	second, err := c.CreateProposal(ctx, "test", nil, types.PublicKey{})
	if err != nil {
		t.Fatalf("CreateProposal() error: %v", err)
	}

	if !first.IsGenesis() {
		t.Errorf("first block %s is not genesis", first.ID())
	}
	if second.Seq != 2 || second.PrevHash != first.Hash() {
		t.Errorf("second block does not chain: seq=%d prev=%s", second.Seq, second.PrevHash)
	}
	if first.LinkPublicKey != types.AnyCounterparty {
		t.Error("zero counterparty should address any peer")
	}
	latest, err := c.Latest()
	if err != nil || !latest.Equal(second) {
		t.Errorf("Latest() = %v, %v", latest, err)
	}
	if len(notified) != 2 {
		t.Errorf("listeners notified %d times, want 2", len(notified))
	}
}

func TestChain_CreateCanceled(t *testing.T) {
	c := newChain(t, testKey(t))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := c.CreateProposal(ctx, "test", nil, types.PublicKey{}); !errors.Is(err, context.Canceled) {
		t.Errorf("CreateProposal(canceled) error = %v", err)
	}
}

func TestChain_ConcurrentCreateChainsSerially(t *testing.T) {
	c := newChain(t, testKey(t))
	const n = 20

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := c.CreateProposal(context.Background(), "test", block.Transaction{"i": i}, types.PublicKey{}); err != nil {
				t.Errorf("CreateProposal() error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	blocks, err := c.Store().GetRange(c.PublicKey(), 1, n, 0)
	if err != nil {
		t.Fatalf("GetRange() error: %v", err)
	}
	if len(blocks) != n {
		t.Fatalf("chain has %d blocks, want %d", len(blocks), n)
	}
	for i := 1; i < n; i++ {
		if blocks[i].PrevHash != blocks[i-1].Hash() {
			t.Fatalf("block %d does not link to block %d", blocks[i].Seq, blocks[i-1].Seq)
		}
	}
}

func TestChain_ProcessBlock(t *testing.T) {
	remote := buildBlocks(t, testKey(t), 3)
	c := newChain(t, testKey(t))

	var accepted int
	c.Listeners.Add("test", registry.ListenerFunc(func(*block.Block) { accepted++ }))

	// Out of order arrival is accepted at a partial level.
	for _, i := range []int{2, 0, 1} {
		outcome, err := c.ProcessBlock(remote[i])
		if err != nil || outcome != Accepted {
			t.Fatalf("ProcessBlock(%s) = %s, %v", remote[i].ID(), outcome, err)
		}
	}
	outcome, err := c.ProcessBlock(remote[1])
	if err != nil || outcome != Duplicate {
		t.Errorf("ProcessBlock(again) = %s, %v; want duplicate", outcome, err)
	}
	if accepted != 3 {
		t.Errorf("listener called %d times, want 3", accepted)
	}
}

func TestChain_ProcessBlock_Invalid(t *testing.T) {
	remote := buildBlocks(t, testKey(t), 1)[0]
	tampered := *remote
	tampered.Type = "other"

	c := newChain(t, testKey(t))
	outcome, err := c.ProcessBlock(&tampered)
	if outcome != Rejected || !errors.Is(err, ErrInvalidBlock) {
		t.Errorf("ProcessBlock(tampered) = %s, %v", outcome, err)
	}
	if got, _ := c.Store().Get(remote.PublicKey, remote.Seq); got != nil {
		t.Error("invalid block was stored")
	}
}

func TestChain_ProcessBlock_Conflict(t *testing.T) {
	key := testKey(t)
	a := buildBlocks(t, key, 1)[0]
	b := buildBlocks(t, key, 1)[0]
	b.Type = "fork"
	if err := b.Sign(key); err != nil {
		t.Fatalf("Sign() error: %v", err)
	}

	c := newChain(t, testKey(t))
	if outcome, err := c.ProcessBlock(a); outcome != Accepted {
		t.Fatalf("ProcessBlock(a) = %s, %v", outcome, err)
	}
	outcome, err := c.ProcessBlock(b)
	if outcome != Rejected || !errors.Is(err, ErrConflict) {
		t.Errorf("ProcessBlock(fork) = %s, %v", outcome, err)
	}
}

func TestChain_ProcessBlock_ValidatorRejects(t *testing.T) {
	remote := buildBlocks(t, testKey(t), 1)[0]
	c := newChain(t, testKey(t))

	var seen block.Transaction
	c.Validators.Register("test", registry.ValidatorFunc(func(_ *block.Block, tx block.Transaction) error {
		seen = tx
		return errors.New("nope")
	}))

	outcome, err := c.ProcessBlock(remote)
	if outcome != Rejected || !errors.Is(err, registry.ErrRejected) {
		t.Errorf("ProcessBlock() = %s, %v", outcome, err)
	}
	if _, ok := seen["i"]; !ok {
		t.Errorf("validator saw transaction %v", seen)
	}
}

func TestChain_ProcessBlock_UndecodableTransaction(t *testing.T) {
	key := testKey(t)
	b := buildBlocks(t, key, 1)[0]
	b.RawTx = []byte("not json")
	if err := b.Sign(key); err != nil {
		t.Fatalf("Sign() error: %v", err)
	}

	c := newChain(t, testKey(t))
	var seen block.Transaction
	c.Validators.Register("test", registry.ValidatorFunc(func(_ *block.Block, tx block.Transaction) error {
		seen = tx
		return nil
	}))

	outcome, err := c.ProcessBlock(b)
	if err != nil || outcome != Accepted {
		t.Fatalf("ProcessBlock() = %s, %v", outcome, err)
	}
	if seen == nil || len(seen) != 0 {
		t.Errorf("validator saw %v, want empty transaction", seen)
	}
}

func TestChain_AnswerProposal(t *testing.T) {
	alice, bob := newChain(t, testKey(t)), newChain(t, testKey(t))
	ctx := context.Background()

	proposal, err := alice.CreateProposal(ctx, "ack", block.Transaction{"q": "hi"}, bob.PublicKey())
	if err != nil {
		t.Fatalf("CreateProposal() error: %v", err)
	}
	if outcome, err := bob.ProcessBlock(proposal); outcome != Accepted {
		t.Fatalf("ProcessBlock() = %s, %v", outcome, err)
	}

	ok, err := bob.IsSignatureRequest(proposal)
	if err != nil || !ok {
		t.Fatalf("IsSignatureRequest() = %v, %v", ok, err)
	}
	if ok, _ := alice.IsSignatureRequest(proposal); ok {
		t.Error("own proposal is not a signature request")
	}

	if _, err := bob.AnswerProposal(ctx, proposal); !errors.Is(err, ErrNoSigner) {
		t.Errorf("AnswerProposal(no signer) error = %v", err)
	}

	bob.Signers.Register("ack", registry.SignerFunc(func(p *block.Block, tx block.Transaction) (block.Transaction, bool) {
		return block.Transaction{"a": tx["q"]}, true
	}))
	agreement, err := bob.AnswerProposal(ctx, proposal)
	if err != nil {
		t.Fatalf("AnswerProposal() error: %v", err)
	}
	if agreement.LinkPublicKey != alice.PublicKey() || agreement.LinkSeq != proposal.Seq || agreement.Type != "ack" {
		t.Errorf("agreement links %s type %q", agreement.LinkedID(), agreement.Type)
	}
	tx, _ := agreement.Transaction()
	if tx["a"] != "hi" {
		t.Errorf("agreement transaction = %v", tx)
	}

	if _, err := bob.AnswerProposal(ctx, proposal); !errors.Is(err, ErrAnswered) {
		t.Errorf("second AnswerProposal() error = %v, want ErrAnswered", err)
	}
	if ok, _ := bob.IsSignatureRequest(proposal); ok {
		t.Error("answered proposal is still a signature request")
	}
}

func TestChain_AnswerProposal_Declined(t *testing.T) {
	alice, bob := newChain(t, testKey(t)), newChain(t, testKey(t))
	ctx := context.Background()

	proposal, _ := alice.CreateProposal(ctx, "ack", nil, types.PublicKey{})
	bob.ProcessBlock(proposal)
	bob.Signers.Register("ack", registry.SignerFunc(func(*block.Block, block.Transaction) (block.Transaction, bool) {
		return nil, false
	}))

	if _, err := bob.AnswerProposal(ctx, proposal); !errors.Is(err, ErrDeclined) {
		t.Errorf("AnswerProposal() error = %v, want ErrDeclined", err)
	}
	if latest, _ := bob.Latest(); latest != nil {
		t.Error("declined proposal produced a block")
	}
}

func TestChain_AnswerProposal_NotAddressed(t *testing.T) {
	alice, bob, carol := newChain(t, testKey(t)), newChain(t, testKey(t)), newChain(t, testKey(t))
	proposal, _ := alice.CreateProposal(context.Background(), "ack", nil, carol.PublicKey())

	if ok, _ := bob.IsSignatureRequest(proposal); ok {
		t.Error("proposal for carol is a request for bob")
	}
	if _, err := bob.AnswerProposal(context.Background(), proposal); !errors.Is(err, ErrNotOurs) {
		t.Errorf("AnswerProposal() error = %v, want ErrNotOurs", err)
	}
}

func TestChain_ProcessBlock_ConcurrentChainsCount(t *testing.T) {
	db, err := storage.NewBadgerInMemory()
	if err != nil {
		t.Fatalf("NewBadgerInMemory() error: %v", err)
	}
	defer db.Close()
	c, err := New(db, testKey(t))
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	const n = 40
	genesis := make([]*block.Block, n)
	for i := range genesis {
		genesis[i] = buildBlocks(t, testKey(t), 1)[0]
	}

	var wg sync.WaitGroup
	for _, b := range genesis {
		wg.Add(1)
		go func(b *block.Block) {
			defer wg.Done()
			if outcome, err := c.ProcessBlock(b); outcome != Accepted {
				t.Errorf("ProcessBlock(%s) = %s, %v", b.ID(), outcome, err)
			}
		}(b)
	}
	wg.Wait()

	count, err := c.Store().Count()
	if err != nil {
		t.Fatalf("Count() error: %v", err)
	}
	if count != n {
		t.Errorf("Count() = %d, want %d", count, n)
	}
}

func TestChain_CreateProposal_ValidatorRejects(t *testing.T) {
	c := newChain(t, testKey(t))
	c.Validators.Register("guarded", registry.ValidatorFunc(func(_ *block.Block, tx block.Transaction) error {
		if tx["ok"] != true {
			return errors.New("not ok")
		}
		return nil
	}))

	_, err := c.CreateProposal(context.Background(), "guarded", block.Transaction{"ok": false}, types.PublicKey{})
	if !errors.Is(err, registry.ErrRejected) {
		t.Fatalf("CreateProposal() error = %v, want ErrRejected", err)
	}
	if latest, _ := c.Latest(); latest != nil {
		t.Error("rejected proposal was stored")
	}

	if _, err := c.CreateProposal(context.Background(), "guarded", block.Transaction{"ok": true}, types.PublicKey{}); err != nil {
		t.Errorf("CreateProposal(accepted) error: %v", err)
	}
}
