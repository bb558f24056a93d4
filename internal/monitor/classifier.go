package monitor

import (
	"strings"

	"buymax/internal/solana"
)

// PumpFunProgramID is the bonding-curve program most buys of a fresh token go through.
const PumpFunProgramID = "6EF8rrecthR5Dkzon8Nwu78hRvfCKubJ14M5uBEwF6P"

// Classifier decides whether a confirmed transaction is a buy of asset and
// returns the buyer's wallet.
type Classifier interface {
	Classify(tx *solana.Transaction, asset string) (buyer string, ok bool)
}

// ClassifierFunc adapts a function to Classifier.
type ClassifierFunc func(tx *solana.Transaction, asset string) (string, bool)

// Classify calls f.
func (f ClassifierFunc) Classify(tx *solana.Transaction, asset string) (string, bool) {
	return f(tx, asset)
}

// DefaultClassifier is the heuristic buy detector:
//
//	(program present OR buy keyword in logs) AND SOL left the fee payer
//
// The buyer is the fee payer. Log keywords can match sells too; the
// heuristic is kept as is.
type DefaultClassifier struct {
	// ProgramIDs whose presence among the account keys marks a trade.
	ProgramIDs []string
}

// NewDefaultClassifier returns the classifier keyed on the pump.fun program.
func NewDefaultClassifier() *DefaultClassifier {
	return &DefaultClassifier{ProgramIDs: []string{PumpFunProgramID}}
}

// Classify implements Classifier.
func (c *DefaultClassifier) Classify(tx *solana.Transaction, _ string) (string, bool) {
	if tx == nil || tx.Message == nil || tx.Meta == nil {
		return "", false
	}
	if tx.Meta.Err != nil {
		return "", false
	}

	feePayer := tx.FeePayer()
	if feePayer == "" {
		return "", false
	}

	keys := tx.AllAccountKeys()
	if !c.programPresent(keys) && !hasBuyKeyword(tx.Meta.LogMessages) {
		return "", false
	}
	if !solOutflowFrom(tx, keys, feePayer) {
		return "", false
	}
	return feePayer, true
}

func (c *DefaultClassifier) programPresent(keys []string) bool {
	for _, k := range keys {
		for _, p := range c.ProgramIDs {
			if k == p {
				return true
			}
		}
	}
	return false
}

// hasBuyKeyword reports whether any log line looks like a buy or swap.
func hasBuyKeyword(logs []string) bool {
	for _, line := range logs {
		if strings.Contains(line, "Buy") ||
			strings.Contains(line, "swap") ||
			strings.Contains(line, "Swap") {
			return true
		}
		if strings.Contains(line, "Program log:") && strings.Contains(line, "amount") {
			return true
		}
	}
	return false
}

// solOutflowFrom reports whether an inner System transfer moved lamports out of source.
func solOutflowFrom(tx *solana.Transaction, keys []string, source string) bool {
	for _, set := range tx.Meta.InnerInstructions {
		for _, ix := range set.Instructions {
			if ix.ProgramIDIndex < 0 || ix.ProgramIDIndex >= len(keys) {
				continue
			}
			if keys[ix.ProgramIDIndex] != solana.SystemProgramID {
				continue
			}
			if len(ix.Accounts) < 2 {
				continue
			}
			from := ix.Accounts[0]
			if from < 0 || from >= len(keys) || keys[from] != source {
				continue
			}
			if lamports, ok := solana.DecodeSystemTransfer(ix.Data); ok && lamports > 0 {
				return true
			}
		}
	}
	return false
}
