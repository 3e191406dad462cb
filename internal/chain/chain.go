// Package chain stores the chains of every known peer and runs the local
// peer's block creation and the incoming block pipeline.
package chain

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Klingon-tech/xchain/internal/log"
	"github.com/Klingon-tech/xchain/internal/registry"
	"github.com/Klingon-tech/xchain/internal/storage"
	"github.com/Klingon-tech/xchain/pkg/block"
	"github.com/Klingon-tech/xchain/pkg/crypto"
	"github.com/Klingon-tech/xchain/pkg/types"
)

// Pipeline errors.
var (
	ErrInvalidBlock = errors.New("invalid block")
	ErrNotOurs      = errors.New("proposal is not addressed to this peer")
	ErrAnswered     = errors.New("proposal already has an agreement")
	ErrNoSigner     = errors.New("no signer for block type")
	ErrDeclined     = errors.New("signer declined proposal")
	ErrConflict     = errors.New("different block already stored at sequence number")
)

// Outcome is the result of processing an incoming block.
type Outcome int

const (
	Accepted Outcome = iota
	Duplicate
	Rejected
)

func (o Outcome) String() string {
	switch o {
	case Accepted:
		return "accepted"
	case Duplicate:
		return "duplicate"
	case Rejected:
		return "rejected"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// Chain is the local view of all chains plus the local signer.
type Chain struct {
	blocks *BlockStore
	key    crypto.Signer

	Listeners  *registry.Listeners
	Validators *registry.Validators
	Signers    *registry.Signers

	mu    sync.Mutex
	locks map[types.PublicKey]*sync.Mutex

	now func() time.Time
}

// New creates a chain over db signing with key. The registries start empty.
func New(db storage.DB, key crypto.Signer) (*Chain, error) {
	if db == nil {
		return nil, fmt.Errorf("storage db is nil")
	}
	if key == nil {
		return nil, block.ErrNilSigner
	}
	return &Chain{
		blocks:     NewBlockStore(db),
		key:        key,
		Listeners:  registry.NewListeners(),
		Validators: registry.NewValidators(),
		Signers:    registry.NewSigners(),
		locks:      make(map[types.PublicKey]*sync.Mutex),
		now:        time.Now,
	}, nil
}

// Store returns the underlying block store.
func (c *Chain) Store() *BlockStore { return c.blocks }

// PublicKey returns the local signer's public key.
func (c *Chain) PublicKey() types.PublicKey { return c.key.PublicKey() }

// Key returns the local signer.
func (c *Chain) Key() crypto.Signer { return c.key }

// lockFor returns the creation lock of pk's chain.
func (c *Chain) lockFor(pk types.PublicKey) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.locks[pk]
	if !ok {
		l = &sync.Mutex{}
		c.locks[pk] = l
	}
	return l
}

// CreateProposal appends a proposal to the local chain. A zero
// counterparty addresses any peer.
func (c *Chain) CreateProposal(ctx context.Context, blockType string, tx block.Transaction, counterparty types.PublicKey) (*block.Block, error) {
	return c.create(ctx, block.Proposal{Type: blockType, Transaction: tx, Counterparty: counterparty})
}

// CreateAgreement appends an agreement co-signing proposal to the local chain.
func (c *Chain) CreateAgreement(ctx context.Context, proposal *block.Block, tx block.Transaction) (*block.Block, error) {
	return c.create(ctx, block.Agreement{Link: proposal, Transaction: tx})
}

func (c *Chain) create(ctx context.Context, v block.Variant) (*block.Block, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l := c.lockFor(c.key.PublicKey())
	l.Lock()
	b, err := c.createLocked(v)
	l.Unlock()
	if err != nil {
		return nil, err
	}
	c.Listeners.Notify(b)
	return b, nil
}

// createLocked must be called with the local chain's creation lock held.
func (c *Chain) createLocked(v block.Variant) (*block.Block, error) {
	b, err := block.Build(c.blocks, c.key, v, c.now())
	if err != nil {
		return nil, fmt.Errorf("build block: %w", err)
	}
	// Never sign what we would reject from a peer.
	if err := c.Validators.Validate(b, c.transactionOrEmpty(b)); err != nil {
		return nil, err
	}
	if err := c.blocks.Put(b); err != nil {
		return nil, fmt.Errorf("store block: %w", err)
	}

	log.Chain.Info().
		Str("block_id", b.ID()).
		Str("type", b.Type).
		Str("link", b.LinkedID()).
		Msg("Block created")
	return b, nil
}

// ProcessBlock runs an incoming block through validation, the transaction
// validator of its type, storage and listener notification. Rejected blocks
// come with an error wrapping ErrInvalidBlock or registry.ErrRejected.
// Blocks of one chain are admitted one at a time.
func (c *Chain) ProcessBlock(b *block.Block) (Outcome, error) {
	l := c.lockFor(b.PublicKey)
	l.Lock()
	outcome, err := c.admitLocked(b)
	l.Unlock()
	if outcome == Accepted {
		c.Listeners.Notify(b)
	}
	return outcome, err
}

func (c *Chain) admitLocked(b *block.Block) (Outcome, error) {
	known, err := c.blocks.Contains(b)
	if err != nil {
		return Rejected, fmt.Errorf("lookup block: %w", err)
	}
	if known {
		return Duplicate, nil
	}
	stored, err := c.blocks.Get(b.PublicKey, b.Seq)
	if err != nil {
		return Rejected, fmt.Errorf("lookup block: %w", err)
	}
	if stored != nil {
		log.Chain.Warn().Str("block_id", b.ID()).Msg("Conflicting block for known sequence number")
		return Rejected, fmt.Errorf("%w %s", ErrConflict, b.ID())
	}

	res, err := block.Validate(b, c.blocks)
	if err != nil {
		return Rejected, fmt.Errorf("validate %s: %w", b.ID(), err)
	}
	if res.IsInvalid() {
		return Rejected, fmt.Errorf("%w %s: %s", ErrInvalidBlock, b.ID(), res)
	}

	tx := c.transactionOrEmpty(b)
	if err := c.Validators.Validate(b, tx); err != nil {
		return Rejected, err
	}

	if err := c.blocks.Put(b); err != nil {
		return Rejected, fmt.Errorf("store block: %w", err)
	}

	log.Chain.Debug().
		Str("block_id", b.ID()).
		Str("type", b.Type).
		Stringer("level", res.Level).
		Msg("Block accepted")
	return Accepted, nil
}

// transactionOrEmpty decodes b's transaction, logging a payload that does
// not decode.
func (c *Chain) transactionOrEmpty(b *block.Block) block.Transaction {
	tx, err := b.TransactionOrEmpty()
	if err != nil {
		log.Chain.Warn().Err(err).Str("block_id", b.ID()).Msg("Undecodable transaction, using empty")
	}
	return tx
}

// IsSignatureRequest reports whether b is a proposal this peer should be
// asked to answer: addressed to us (or to anyone, from someone else) and not
// answered yet.
func (c *Chain) IsSignatureRequest(b *block.Block) (bool, error) {
	if err := c.checkRequest(b); err != nil {
		if errors.Is(err, ErrNotOurs) || errors.Is(err, ErrAnswered) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (c *Chain) checkRequest(b *block.Block) error {
	me := c.key.PublicKey()
	if !b.IsProposal() || b.PublicKey == me {
		return ErrNotOurs
	}
	if b.LinkPublicKey != me && b.LinkPublicKey != types.AnyCounterparty {
		return ErrNotOurs
	}
	linked, err := c.blocks.GetLinked(b)
	if err != nil {
		return err
	}
	if linked != nil {
		return ErrAnswered
	}
	return nil
}

// AnswerProposal asks the signer registered for the proposal's type to
// co-sign it and, on approval, appends the agreement to the local chain. The
// check and the agreement happen under the local creation lock, so a
// proposal is answered at most once.
func (c *Chain) AnswerProposal(ctx context.Context, proposal *block.Block) (*block.Block, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l := c.lockFor(c.key.PublicKey())
	l.Lock()
	b, err := c.answerLocked(proposal)
	l.Unlock()
	if err != nil {
		return nil, err
	}
	c.Listeners.Notify(b)
	return b, nil
}

func (c *Chain) answerLocked(proposal *block.Block) (*block.Block, error) {
	if err := c.checkRequest(proposal); err != nil {
		return nil, err
	}
	signer, ok := c.Signers.Get(proposal.Type)
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrNoSigner, proposal.Type)
	}
	agreementTx, ok := signer.OnSignatureRequest(proposal, c.transactionOrEmpty(proposal))
	if !ok {
		return nil, fmt.Errorf("%w %s", ErrDeclined, proposal.ID())
	}
	return c.createLocked(block.Agreement{Link: proposal, Transaction: agreementTx})
}

// Latest returns the head of the local chain, or nil before genesis.
func (c *Chain) Latest() (*block.Block, error) {
	return c.blocks.GetLatest(c.key.PublicKey())
}
