package solana

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/mr-tron/base58"
)

// systemTransferIndex is the System program instruction discriminator for Transfer.
const systemTransferIndex = 2

// Transfer errors.
var (
	ErrSelfTransfer      = errors.New("source and destination are the same account")
	ErrZeroAmount        = errors.New("transfer amount must be positive")
	ErrBlockhashExpired  = errors.New("blockhash expired before confirmation")
	ErrTransactionFailed = errors.New("transaction failed on chain")
)

// BuildTransferMessage serializes a legacy transaction message holding a single
// System transfer of lamports from -> to.
func BuildTransferMessage(from, to []byte, lamports uint64, recentBlockhash string) ([]byte, error) {
	if len(from) != PublicKeySize || len(to) != PublicKeySize {
		return nil, fmt.Errorf("%w: bad key length", ErrInvalidAddress)
	}
	if bytes.Equal(from, to) {
		return nil, ErrSelfTransfer
	}
	if lamports == 0 {
		return nil, ErrZeroAmount
	}
	blockhash, err := base58.Decode(recentBlockhash)
	if err != nil || len(blockhash) != 32 {
		return nil, fmt.Errorf("invalid blockhash %q", recentBlockhash)
	}
	// SystemProgramID decodes to 32 zero bytes.
	systemProgram := make([]byte, PublicKeySize)

	var buf bytes.Buffer
	// Header: 1 signer, 0 readonly signed, 1 readonly unsigned (system program).
	buf.Write([]byte{1, 0, 1})

	writeCompactU16(&buf, 3)
	buf.Write(from)
	buf.Write(to)
	buf.Write(systemProgram)

	buf.Write(blockhash)

	data := make([]byte, 12)
	binary.LittleEndian.PutUint32(data[0:4], systemTransferIndex)
	binary.LittleEndian.PutUint64(data[4:12], lamports)

	writeCompactU16(&buf, 1) // instruction count
	buf.WriteByte(2)         // program id index
	writeCompactU16(&buf, 2)
	buf.Write([]byte{0, 1})
	writeCompactU16(&buf, len(data))
	buf.Write(data)

	return buf.Bytes(), nil
}

// SignTransaction wraps message with the signer's signature and returns the
// wire transaction together with its base58 signature (the transaction id).
func SignTransaction(signer *Keypair, message []byte) ([]byte, string) {
	sig := signer.Sign(message)

	var buf bytes.Buffer
	writeCompactU16(&buf, 1)
	buf.Write(sig)
	buf.Write(message)

	return buf.Bytes(), base58.Encode(sig)
}

// writeCompactU16 writes the shortvec length encoding.
func writeCompactU16(buf *bytes.Buffer, n int) {
	v := uint16(n)
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v == 0 {
			buf.WriteByte(b)
			return
		}
		buf.WriteByte(b | 0x80)
	}
}

// DecodeSystemTransfer returns the lamports of a System Transfer instruction
// payload (base58 data). ok is false for any other System instruction.
func DecodeSystemTransfer(data string) (lamports uint64, ok bool) {
	raw, err := base58.Decode(data)
	if err != nil || len(raw) < 12 {
		return 0, false
	}
	if binary.LittleEndian.Uint32(raw[0:4]) != systemTransferIndex {
		return 0, false
	}
	return binary.LittleEndian.Uint64(raw[4:12]), true
}

// Sender submits System transfers and waits for confirmation.
type Sender struct {
	rpc          RPCClient
	pollInterval time.Duration
	logger       *log.Logger
}

// SenderOption configures Sender.
type SenderOption func(*Sender)

// WithPollInterval sets the confirmation polling interval.
func WithPollInterval(d time.Duration) SenderOption {
	return func(s *Sender) {
		s.pollInterval = d
	}
}

// WithSenderLogger sets the logger.
func WithSenderLogger(l *log.Logger) SenderOption {
	return func(s *Sender) {
		s.logger = l
	}
}

// NewSender creates a transfer sender over rpc.
func NewSender(rpc RPCClient, opts ...SenderOption) *Sender {
	s := &Sender{
		rpc:          rpc,
		pollInterval: 500 * time.Millisecond,
		logger:       log.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Transfer sends lamports from the signer to dest and blocks until the
// transaction reaches confirmed commitment, fails, or its blockhash expires.
// Returns the transaction signature.
func (s *Sender) Transfer(ctx context.Context, from *Keypair, dest string, lamports uint64) (string, error) {
	to, err := ParseAddress(dest)
	if err != nil {
		return "", fmt.Errorf("destination: %w", err)
	}

	bh, err := s.rpc.GetLatestBlockhash(ctx)
	if err != nil {
		return "", fmt.Errorf("get latest blockhash: %w", err)
	}

	msg, err := BuildTransferMessage(from.PublicKey(), to, lamports, bh.Hash)
	if err != nil {
		return "", fmt.Errorf("build transfer: %w", err)
	}

	rawTx, signature := SignTransaction(from, msg)

	sent, err := s.rpc.SendTransaction(ctx, rawTx)
	if err != nil {
		return "", fmt.Errorf("send transaction: %w", err)
	}
	if sent != "" && sent != signature {
		s.logger.Printf("[solana] node returned signature %s, expected %s", sent, signature)
	}

	if err := s.awaitConfirmation(ctx, signature, bh.LastValidBlockHeight); err != nil {
		return signature, err
	}
	return signature, nil
}

// awaitConfirmation polls signature status until confirmed or the blockhash
// is no longer valid.
func (s *Sender) awaitConfirmation(ctx context.Context, signature string, lastValidBlockHeight uint64) error {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		statuses, err := s.rpc.GetSignatureStatuses(ctx, []string{signature})
		if err != nil {
			s.logger.Printf("[solana] signature status %s: %v", signature, err)
		} else if len(statuses) > 0 && statuses[0] != nil {
			st := statuses[0]
			if st.Err != nil {
				return fmt.Errorf("%w: %v", ErrTransactionFailed, st.Err)
			}
			if st.Confirmed() {
				return nil
			}
		}

		height, err := s.rpc.GetBlockHeight(ctx)
		if err == nil && lastValidBlockHeight > 0 && height > lastValidBlockHeight {
			return fmt.Errorf("%w: %s", ErrBlockhashExpired, signature)
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("await confirmation %s: %w", signature, ctx.Err())
		case <-ticker.C:
		}
	}
}
