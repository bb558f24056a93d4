package stub

import (
	"bytes"
	"context"
	"errors"
	"sync"

	"github.com/mr-tron/base58"

	"buymax/internal/solana"
)

// ErrNotFound is returned when an account balance is not known to the stub.
var ErrNotFound = errors.New("not found")

// testBlockhash is a valid 32-byte base58 blockhash.
var testBlockhash = base58.Encode(bytes.Repeat([]byte{7}, 32))

// RPCClient implements solana.RPCClient for testing.
// Sent transactions are recorded and confirmed on the first status poll
// unless FailStatus is set.
type RPCClient struct {
	mu sync.Mutex

	Transactions map[string]*solana.Transaction
	Balances     map[string]uint64

	BalanceErr   error
	BlockhashErr error
	SendErr      error
	FailStatus   interface{}

	Blockhash   string
	BlockHeight uint64
	LastValid   uint64

	sent []SentTransaction
}

// SentTransaction is a transaction captured by SendTransaction.
type SentTransaction struct {
	Raw       []byte
	Signature string
}

// Compile-time interface check.
var _ solana.RPCClient = (*RPCClient)(nil)

// NewRPCClient creates a new stub RPC client.
func NewRPCClient() *RPCClient {
	return &RPCClient{
		Transactions: make(map[string]*solana.Transaction),
		Balances:     make(map[string]uint64),
		Blockhash:    testBlockhash,
		BlockHeight:  100,
		LastValid:    250,
	}
}

// GetTransaction retrieves a transaction by signature from the stub store.
// Unknown signatures return nil, nil like the real node.
func (c *RPCClient) GetTransaction(_ context.Context, signature string) (*solana.Transaction, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Transactions[signature], nil
}

// GetBalance returns the configured balance of pubkey.
func (c *RPCClient) GetBalance(_ context.Context, pubkey string) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.BalanceErr != nil {
		return 0, c.BalanceErr
	}
	bal, ok := c.Balances[pubkey]
	if !ok {
		return 0, ErrNotFound
	}
	return bal, nil
}

// GetLatestBlockhash returns the configured blockhash.
func (c *RPCClient) GetLatestBlockhash(_ context.Context) (*solana.Blockhash, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.BlockhashErr != nil {
		return nil, c.BlockhashErr
	}
	return &solana.Blockhash{Hash: c.Blockhash, LastValidBlockHeight: c.LastValid}, nil
}

// SendTransaction records rawTx and returns the base58 of its first signature.
func (c *RPCClient) SendTransaction(_ context.Context, rawTx []byte) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.SendErr != nil {
		return "", c.SendErr
	}
	// compact-u16 count of 1, then the 64-byte signature
	if len(rawTx) < 65 {
		return "", errors.New("transaction too short")
	}
	sig := base58.Encode(rawTx[1:65])
	c.sent = append(c.sent, SentTransaction{Raw: append([]byte(nil), rawTx...), Signature: sig})
	return sig, nil
}

// GetSignatureStatuses reports sent signatures as confirmed (or failed when FailStatus is set).
func (c *RPCClient) GetSignatureStatuses(_ context.Context, signatures []string) ([]*solana.SignatureStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]*solana.SignatureStatus, len(signatures))
	for i, sig := range signatures {
		for _, s := range c.sent {
			if s.Signature != sig {
				continue
			}
			out[i] = &solana.SignatureStatus{
				Slot:               1,
				Err:                c.FailStatus,
				ConfirmationStatus: solana.CommitmentConfirmed,
			}
		}
	}
	return out, nil
}

// GetBlockHeight returns the configured block height.
func (c *RPCClient) GetBlockHeight(_ context.Context) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.BlockHeight, nil
}

// AddTransaction adds a transaction to the stub store.
func (c *RPCClient) AddTransaction(tx *solana.Transaction) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Transactions[tx.Signature] = tx
}

// SetBalance sets the lamport balance of pubkey.
func (c *RPCClient) SetBalance(pubkey string, lamports uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Balances[pubkey] = lamports
}

// Sent returns the transactions submitted so far.
func (c *RPCClient) Sent() []SentTransaction {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]SentTransaction(nil), c.sent...)
}
