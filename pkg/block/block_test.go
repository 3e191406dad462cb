package block

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/Klingon-tech/xchain/pkg/types"
)

func TestBlock_DerivedFields(t *testing.T) {
	b := validBlock(t)

	if !b.IsGenesis() {
		t.Error("first block should be genesis")
	}
	if !b.IsProposal() || b.IsAgreement() {
		t.Error("LinkSeq 0 should be a proposal")
	}
	if b.IsSelfSigned() {
		t.Error("proposal to any counterparty is not self signed")
	}
	if want := b.PublicKey.String() + ".1"; b.ID() != want {
		t.Errorf("ID() = %s, want %s", b.ID(), want)
	}
	if want := types.AnyCounterparty.String() + ".0"; b.LinkedID() != want {
		t.Errorf("LinkedID() = %s, want %s", b.LinkedID(), want)
	}
	if b.Time().UnixMilli() != int64(b.Timestamp) {
		t.Error("Time() should match Timestamp")
	}
}

func TestBlock_IsGenesis_RequiresBoth(t *testing.T) {
	b := validBlock(t)
	b.PrevHash = types.Hash{0x01}
	if b.IsGenesis() {
		t.Error("seq 1 without genesis hash is not genesis")
	}
	b.PrevHash = types.GenesisHash
	b.Seq = 2
	if b.IsGenesis() {
		t.Error("genesis hash at seq 2 is not genesis")
	}
}

func TestBlock_HashIgnoresSignature(t *testing.T) {
	b := validBlock(t)
	signed := b.Hash()

	unsigned := *b
	unsigned.Signature = types.EmptySignature
	if unsigned.Hash() != signed {
		t.Error("hash must not depend on the signature")
	}

	unsigned.Signature = types.Signature{0x01}
	if unsigned.Hash() != signed {
		t.Error("hash must not depend on the signature")
	}
}

func TestBlock_HashCoversContent(t *testing.T) {
	base := validBlock(t)
	mutations := map[string]func(b *Block){
		"type":      func(b *Block) { b.Type = "other" },
		"tx":        func(b *Block) { b.RawTx = []byte(`{"x":1}`) },
		"seq":       func(b *Block) { b.Seq++ },
		"link seq":  func(b *Block) { b.LinkSeq = 7 },
		"prev hash": func(b *Block) { b.PrevHash = types.Hash{0x02} },
		"timestamp": func(b *Block) { b.Timestamp++ },
		"link key":  func(b *Block) { b.LinkPublicKey = b.PublicKey },
	}
	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			c := *base
			mutate(&c)
			if c.Hash() == base.Hash() {
				t.Error("mutation should change the hash")
			}
			if c.Equal(base) {
				t.Error("mutated block should not be Equal")
			}
		})
	}
}

func TestBlock_SignVerify(t *testing.T) {
	b := validBlock(t)
	if !b.VerifySignature() {
		t.Fatal("built block should verify")
	}

	other := testKey(t)
	b2 := *b
	if err := b2.Sign(other); err != nil {
		t.Fatalf("Sign() error: %v", err)
	}
	if b2.VerifySignature() {
		t.Error("signature by a different key should not verify under PublicKey")
	}

	b3 := *b
	b3.Signature = types.EmptySignature
	if b3.VerifySignature() {
		t.Error("unsigned block should not verify")
	}
}

func TestBlock_Equal(t *testing.T) {
	b := validBlock(t)
	decoded, err := Decode(b.Encode())
	if err != nil {
		t.Fatalf("Decode() error: %v", err)
	}
	if !b.Equal(decoded) {
		t.Error("decoded block should equal the original")
	}
	var nilBlock *Block
	if b.Equal(nil) || !nilBlock.Equal(nil) {
		t.Error("nil handling mismatch")
	}
}

func TestBlock_HashNumber(t *testing.T) {
	b := validBlock(t)
	if n := b.HashNumber(); n >= 100_000_000 {
		t.Errorf("HashNumber() = %d, want < 10^8", n)
	}
	if b.HashNumber() != b.HashNumber() {
		t.Error("HashNumber() is not deterministic")
	}
}

func TestBlock_JSON(t *testing.T) {
	b := validBlock(t)
	data, err := json.Marshal(b)
	if err != nil {
		t.Fatalf("Marshal error: %v", err)
	}
	if !strings.Contains(string(data), b.Hash().String()) {
		t.Error("JSON should carry the block hash")
	}

	var got Block
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal error: %v", err)
	}
	if !got.Equal(b) || got.Signature != b.Signature {
		t.Error("JSON round trip mismatch")
	}
}
