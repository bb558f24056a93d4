package solana

import "context"

// RPCClient defines the Solana RPC HTTP interface used by the engine.
type RPCClient interface {
	// GetTransaction retrieves a transaction by signature.
	// Returns nil, nil if the transaction is not (yet) known to the node.
	GetTransaction(ctx context.Context, signature string) (*Transaction, error)

	// GetBalance returns the lamport balance of an account.
	GetBalance(ctx context.Context, pubkey string) (uint64, error)

	// GetLatestBlockhash returns a recent blockhash for transaction construction.
	GetLatestBlockhash(ctx context.Context) (*Blockhash, error)

	// SendTransaction submits a signed, serialized transaction and returns its signature.
	SendTransaction(ctx context.Context, rawTx []byte) (string, error)

	// GetSignatureStatuses returns the status of each signature (nil entries are unknown).
	GetSignatureStatuses(ctx context.Context, signatures []string) ([]*SignatureStatus, error)

	// GetBlockHeight returns the current block height.
	GetBlockHeight(ctx context.Context) (uint64, error)
}

// Transaction represents a Solana transaction.
type Transaction struct {
	Slot      int64
	Signature string
	BlockTime int64 // Unix timestamp (seconds)
	Meta      *TransactionMeta
	Message   *TransactionMessage
}

// TransactionMeta contains transaction metadata.
type TransactionMeta struct {
	Err               interface{}
	LogMessages       []string
	InnerInstructions []InnerInstructionSet
	LoadedAddresses   LoadedAddresses
}

// TransactionMessage contains the transaction message.
type TransactionMessage struct {
	AccountKeys  []string
	Instructions []CompiledInstruction
}

// CompiledInstruction references accounts by index into the full account list.
type CompiledInstruction struct {
	ProgramIDIndex int
	Accounts       []int
	Data           string // base58
}

// InnerInstructionSet groups CPI instructions under the outer instruction index.
type InnerInstructionSet struct {
	Index        int
	Instructions []CompiledInstruction
}

// LoadedAddresses lists accounts loaded through address lookup tables (v0 transactions).
type LoadedAddresses struct {
	Writable []string
	Readonly []string
}

// AllAccountKeys returns static keys followed by writable and readonly loaded keys,
// which is the order compiled instruction indexes refer to.
func (tx *Transaction) AllAccountKeys() []string {
	if tx == nil || tx.Message == nil {
		return nil
	}
	keys := make([]string, 0, len(tx.Message.AccountKeys))
	keys = append(keys, tx.Message.AccountKeys...)
	if tx.Meta != nil {
		keys = append(keys, tx.Meta.LoadedAddresses.Writable...)
		keys = append(keys, tx.Meta.LoadedAddresses.Readonly...)
	}
	return keys
}

// FeePayer returns the first static account key.
func (tx *Transaction) FeePayer() string {
	if tx == nil || tx.Message == nil || len(tx.Message.AccountKeys) == 0 {
		return ""
	}
	return tx.Message.AccountKeys[0]
}
