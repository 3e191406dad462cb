package block

import (
	"errors"
	"strings"
	"testing"

	"github.com/Klingon-tech/xchain/pkg/types"
	"github.com/Klingon-tech/xchain/pkg/wire"
)

func TestBuild_GenesisOnEmptyStore(t *testing.T) {
	key := testKey(t)
	b, err := Build(newMemStore(), key, Proposal{Type: "test"}, testNow)
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}
	if b.Seq != GenesisSeq || b.PrevHash != types.GenesisHash {
		t.Errorf("got seq=%d prev=%s, want genesis", b.Seq, b.PrevHash)
	}
	if b.PublicKey != key.PublicKey() {
		t.Error("block should carry the signer's key")
	}
	if b.Timestamp != uint64(testNow.UnixMilli()) {
		t.Errorf("Timestamp = %d", b.Timestamp)
	}
	if !b.VerifySignature() {
		t.Error("built block should be signed")
	}
	if b.LinkPublicKey != types.AnyCounterparty || b.LinkSeq != UnknownSeq {
		t.Error("proposal without counterparty should link any counterparty at seq 0")
	}
}

func TestBuild_ChainsOntoLatest(t *testing.T) {
	store := newMemStore()
	chain := buildChain(t, store, testKey(t), 3)
	for i := 1; i < len(chain); i++ {
		if chain[i].Seq != chain[i-1].Seq+1 {
			t.Errorf("block %d: seq %d after %d", i, chain[i].Seq, chain[i-1].Seq)
		}
		if chain[i].PrevHash != chain[i-1].Hash() {
			t.Errorf("block %d: previous hash does not match", i)
		}
	}
}

func TestBuild_Proposal(t *testing.T) {
	key := testKey(t)
	counterparty := testKey(t).PublicKey()
	b, err := Build(newMemStore(), key, Proposal{
		Type:         "transfer",
		Transaction:  Transaction{"amount": 5},
		Counterparty: counterparty,
	}, testNow)
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}
	if b.Type != "transfer" || b.LinkPublicKey != counterparty || !b.IsProposal() {
		t.Errorf("unexpected proposal %v", b)
	}
	tx, err := b.Transaction()
	if err != nil {
		t.Fatalf("Transaction() error: %v", err)
	}
	if tx["amount"].(interface{ String() string }).String() != "5" {
		t.Errorf("amount = %v", tx["amount"])
	}
}

func TestBuild_Agreement(t *testing.T) {
	alice, bob := testKey(t), testKey(t)
	proposal, err := Build(newMemStore(), alice, Proposal{
		Type:         "transfer",
		Counterparty: bob.PublicKey(),
	}, testNow)
	if err != nil {
		t.Fatalf("Build(proposal) error: %v", err)
	}

	store := newMemStore()
	buildChain(t, store, bob, 2)
	agreement, err := Build(store, bob, Agreement{Link: proposal, Transaction: Transaction{"ok": true}}, testNow)
	if err != nil {
		t.Fatalf("Build(agreement) error: %v", err)
	}
	if agreement.LinkPublicKey != proposal.PublicKey || agreement.LinkSeq != proposal.Seq {
		t.Error("agreement should link the proposal's key and sequence number")
	}
	if agreement.Type != proposal.Type {
		t.Error("agreement should copy the proposal's type")
	}
	if !agreement.IsAgreement() || agreement.Seq != 3 {
		t.Errorf("got seq %d agreement=%v", agreement.Seq, agreement.IsAgreement())
	}
	if agreement.LinkedID() != proposal.ID() {
		t.Errorf("LinkedID() = %s, want %s", agreement.LinkedID(), proposal.ID())
	}
}

func TestBuild_Errors(t *testing.T) {
	key := testKey(t)
	proposal := validBlock(t)
	agreement, err := Build(newMemStore(), key, Agreement{Link: proposal}, testNow)
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}

	tests := []struct {
		name    string
		variant Variant
		want    error
	}{
		{"proposal without type", Proposal{}, ErrMissingType},
		{"agreement without link", Agreement{}, ErrMissingLink},
		{"agreement to agreement", Agreement{Link: agreement}, ErrLinkNotPropose},
		{"nil variant", nil, ErrNilVariant},
		{"unencodable tx", Proposal{Type: "x", Transaction: Transaction{"f": func() {}}}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := Build(newMemStore(), key, tt.variant, testNow)
			if err == nil {
				t.Fatal("Build() should fail")
			}
			if b != nil {
				t.Error("failed Build() must not return a block")
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want %v", err, tt.want)
			}
		})
	}

	if _, err := Build(newMemStore(), nil, Proposal{Type: "x"}, testNow); !errors.Is(err, ErrNilSigner) {
		t.Errorf("nil signer: error = %v", err)
	}
}

func TestBuild_StoreError(t *testing.T) {
	store := newMemStore()
	store.err = errors.New("closed")
	if _, err := Build(store, testKey(t), Proposal{Type: "x"}, testNow); err == nil {
		t.Error("store failure should abort Build")
	}
}

func TestBuild_FieldTooLarge(t *testing.T) {
	big := strings.Repeat("x", wire.MaxVarlen)
	store := newMemStore()
	key := testKey(t)

	_, err := Build(store, key, Proposal{Type: "test", Transaction: Transaction{"blob": big}}, testNow)
	if !errors.Is(err, ErrFieldTooLarge) {
		t.Errorf("oversized transaction error = %v, want ErrFieldTooLarge", err)
	}
	_, err = Build(store, key, Proposal{Type: big + "x"}, testNow)
	if !errors.Is(err, ErrFieldTooLarge) {
		t.Errorf("oversized type error = %v, want ErrFieldTooLarge", err)
	}

	// Just under the limit still round-trips through the codec.
	fits := strings.Repeat("y", wire.MaxVarlen-64)
	b, err := Build(store, key, Proposal{Type: "test", Transaction: Transaction{"blob": fits}}, testNow)
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}
	decoded, err := Decode(b.Encode())
	if err != nil {
		t.Fatalf("Decode() error: %v", err)
	}
	if !decoded.Equal(b) {
		t.Error("decoded block differs")
	}
}

func TestBuild_UnencodableTransaction(t *testing.T) {
	_, err := Build(newMemStore(), testKey(t), Proposal{Type: "test", Transaction: Transaction{"c": make(chan int)}}, testNow)
	if !errors.Is(err, ErrBadTransaction) {
		t.Errorf("error = %v, want ErrBadTransaction", err)
	}
}
