package block

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Transaction is the application payload of a block. Keys are encoded in
// sorted order so equal transactions encode to equal bytes.
type Transaction map[string]any

var ErrBadTransaction = errors.New("malformed transaction payload")

// EncodeTransaction returns the canonical encoding of tx. A nil tx encodes as
// an empty object.
func EncodeTransaction(tx Transaction) ([]byte, error) {
	if tx == nil {
		tx = Transaction{}
	}
	b, err := json.Marshal(tx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadTransaction, err)
	}
	return b, nil
}

// DecodeTransaction parses a transaction payload. An empty payload decodes to
// an empty transaction.
func DecodeTransaction(raw []byte) (Transaction, error) {
	if len(raw) == 0 {
		return Transaction{}, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var tx Transaction
	if err := dec.Decode(&tx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadTransaction, err)
	}
	if dec.More() {
		return nil, fmt.Errorf("%w: trailing data", ErrBadTransaction)
	}
	if tx == nil {
		// "null"
		tx = Transaction{}
	}
	return tx, nil
}

// Transaction decodes the block's payload.
func (b *Block) Transaction() (Transaction, error) {
	return DecodeTransaction(b.RawTx)
}

// TransactionOrEmpty decodes the block's payload and never returns a nil
// Transaction: a payload that does not decode yields an empty one, with the
// decode error for the caller to log.
func (b *Block) TransactionOrEmpty() (Transaction, error) {
	tx, err := b.Transaction()
	if err != nil {
		return Transaction{}, err
	}
	return tx, nil
}
