package block

import (
	"fmt"
	"strings"

	"github.com/Klingon-tech/xchain/pkg/crypto"
	"github.com/Klingon-tech/xchain/pkg/types"
)

// Level is the outcome of validating a block against what the local store
// knows about its neighbours.
type Level int

// Validation levels. Everything but Invalid is accepted and persisted.
const (
	NoInfo Level = iota
	Partial
	PartialPrevious
	PartialNext
	Valid
	Invalid
)

var levelNames = [...]string{"NoInfo", "Partial", "PartialPrevious", "PartialNext", "Valid", "Invalid"}

func (l Level) String() string {
	if l < 0 || int(l) >= len(levelNames) {
		return fmt.Sprintf("Level(%d)", int(l))
	}
	return levelNames[l]
}

// ErrorKind is one validation finding.
type ErrorKind int

// Block invariant and chain consistency findings.
const (
	InvalidSeqNumber ErrorKind = iota + 1
	InvalidPublicKey
	InvalidLinkPublicKey
	InvalidSignature
	InvalidGenesisHash
	InvalidGenesisSeqNumber
	PrevPublicKeyMismatch
	PrevSeqNumberMismatch
	PrevHashMismatch
	NextPublicKeyMismatch
	NextSeqNumberMismatch
	NextHashMismatch
)

var errorKindNames = map[ErrorKind]string{
	InvalidSeqNumber:        "invalid sequence number",
	InvalidPublicKey:        "invalid public key",
	InvalidLinkPublicKey:    "invalid link public key",
	InvalidSignature:        "invalid signature",
	InvalidGenesisHash:      "invalid genesis hash",
	InvalidGenesisSeqNumber: "genesis hash with non-genesis sequence number",
	PrevPublicKeyMismatch:   "previous block public key mismatch",
	PrevSeqNumberMismatch:   "previous block sequence number mismatch",
	PrevHashMismatch:        "previous block hash mismatch",
	NextPublicKeyMismatch:   "next block public key mismatch",
	NextSeqNumberMismatch:   "next block sequence number mismatch",
	NextHashMismatch:        "next block hash mismatch",
}

func (k ErrorKind) String() string {
	if s, ok := errorKindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("ErrorKind(%d)", int(k))
}

// Result is a validation outcome. Errors is non-empty exactly when Level is
// Invalid; each kind appears at most once, in the order it was found.
type Result struct {
	Level  Level
	Errors []ErrorKind
}

// IsInvalid reports whether the block must be rejected.
func (r Result) IsInvalid() bool {
	return r.Level == Invalid
}

// Has reports whether kind was found.
func (r Result) Has(kind ErrorKind) bool {
	for _, k := range r.Errors {
		if k == kind {
			return true
		}
	}
	return false
}

func (r Result) String() string {
	if len(r.Errors) == 0 {
		return r.Level.String()
	}
	names := make([]string, len(r.Errors))
	for i, k := range r.Errors {
		names[i] = k.String()
	}
	return "Invalid(" + strings.Join(names, ", ") + ")"
}

// ChainStore is the read side of block persistence used during validation
// and block construction. A nil block with a nil error means unknown.
type ChainStore interface {
	// GetLatest returns the highest known block of pk's chain.
	GetLatest(pk types.PublicKey) (*Block, error)
	// GetBlockBefore returns the closest known block of b's chain with a
	// lower sequence number.
	GetBlockBefore(b *Block) (*Block, error)
	// GetBlockAfter returns the closest known block of b's chain with a
	// higher sequence number.
	GetBlockAfter(b *Block) (*Block, error)
}

// Validate checks b against its known neighbours in store. The returned
// error reports store failures only; validation findings are in the Result.
func Validate(b *Block, store ChainStore) (Result, error) {
	prev, err := store.GetBlockBefore(b)
	if err != nil {
		return Result{}, fmt.Errorf("validate %s: block before: %w", b.ID(), err)
	}
	next, err := store.GetBlockAfter(b)
	if err != nil {
		return Result{}, fmt.Errorf("validate %s: block after: %w", b.ID(), err)
	}
	return ValidateWith(b, prev, next), nil
}

// ValidateWith validates b given its already fetched neighbours; prev and
// next may be nil.
func ValidateWith(b, prev, next *Block) Result {
	ceiling := maxLevel(b, prev, next)

	var errs errorSet
	checkInvariants(b, &errs)
	checkConsistency(b, prev, next, &errs)

	if len(errs) > 0 {
		return Result{Level: Invalid, Errors: errs}
	}
	return Result{Level: ceiling}
}

// maxLevel is the best achievable level given neighbour availability. It is
// fixed before any finding so errors only ever lower it.
func maxLevel(b, prev, next *Block) Level {
	prevGap := prev == nil || prev.Seq != b.Seq-1
	nextGap := next == nil || next.Seq != b.Seq+1
	genesis := b.IsGenesis()

	switch {
	case prev == nil && next == nil && !genesis:
		return NoInfo
	case prevGap && nextGap && !genesis:
		return Partial
	case nextGap:
		return PartialNext
	case prevGap && !genesis:
		return PartialPrevious
	default:
		return Valid
	}
}

type errorSet []ErrorKind

func (s *errorSet) add(k ErrorKind) {
	for _, have := range *s {
		if have == k {
			return
		}
	}
	*s = append(*s, k)
}

func checkInvariants(b *Block, errs *errorSet) {
	if b.Seq < GenesisSeq {
		errs.add(InvalidSeqNumber)
	}
	if !crypto.IsValidPublicKey(b.PublicKey) {
		errs.add(InvalidPublicKey)
	}
	if !b.LinkPublicKey.IsEmpty() && !crypto.IsValidPublicKey(b.LinkPublicKey) {
		errs.add(InvalidLinkPublicKey)
	}
	if !b.VerifySignature() {
		errs.add(InvalidSignature)
	}
	if b.Seq == GenesisSeq && b.PrevHash != types.GenesisHash {
		errs.add(InvalidGenesisHash)
	}
	if b.Seq != GenesisSeq && b.PrevHash == types.GenesisHash {
		errs.add(InvalidGenesisSeqNumber)
	}
}

func checkConsistency(b, prev, next *Block, errs *errorSet) {
	if prev != nil {
		if prev.PublicKey != b.PublicKey {
			errs.add(PrevPublicKeyMismatch)
		}
		if prev.Seq >= b.Seq {
			errs.add(PrevSeqNumberMismatch)
		}
		if prev.Seq == b.Seq-1 && prev.Hash() != b.PrevHash {
			errs.add(PrevHashMismatch)
		}
	}
	if next != nil {
		if next.PublicKey != b.PublicKey {
			errs.add(NextPublicKeyMismatch)
		}
		if next.Seq <= b.Seq {
			errs.add(NextSeqNumberMismatch)
		}
		if next.Seq == b.Seq+1 && next.PrevHash != b.Hash() {
			errs.add(NextHashMismatch)
		}
	}
}
