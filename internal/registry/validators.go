package registry

import (
	"errors"
	"fmt"
	"sync"

	"github.com/Klingon-tech/xchain/pkg/block"
)

// ErrRejected wraps every validator verdict against a block.
var ErrRejected = errors.New("transaction rejected")

// TransactionValidator checks the application payload of an incoming block.
// tx is the decoded transaction, or empty when the payload did not decode.
type TransactionValidator interface {
	Validate(b *block.Block, tx block.Transaction) error
}

// ValidatorFunc adapts a function to TransactionValidator.
type ValidatorFunc func(b *block.Block, tx block.Transaction) error

// Validate calls f.
func (f ValidatorFunc) Validate(b *block.Block, tx block.Transaction) error { return f(b, tx) }

// Validators maps a block type to its single validator.
type Validators struct {
	mu sync.RWMutex
	m  map[string]TransactionValidator
}

// NewValidators returns an empty registry.
func NewValidators() *Validators {
	return &Validators{m: make(map[string]TransactionValidator)}
}

// Register sets the validator for blockType, replacing any previous one.
func (r *Validators) Register(blockType string, v TransactionValidator) {
	r.mu.Lock()
	r.m[blockType] = v
	r.mu.Unlock()
}

// Unregister removes the validator for blockType.
func (r *Validators) Unregister(blockType string) {
	r.mu.Lock()
	delete(r.m, blockType)
	r.mu.Unlock()
}

// Get returns the validator for blockType, if any.
func (r *Validators) Get(blockType string) (TransactionValidator, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.m[blockType]
	return v, ok
}

// Validate runs the validator registered for b.Type. Blocks of types
// without a validator pass.
func (r *Validators) Validate(b *block.Block, tx block.Transaction) error {
	v, ok := r.Get(b.Type)
	if !ok {
		return nil
	}
	if err := v.Validate(b, tx); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrRejected, b.Type, err)
	}
	return nil
}
