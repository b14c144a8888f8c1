package ledger

import (
	"bytes"
	"crypto/ed25519"
	"crypto/sha256"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/mr-tron/base58"
)

// Transaction is an ordered list of instructions executed atomically. Every
// account flagged as signer, plus the fee payer, must sign the message.
type Transaction struct {
	FeePayer     solana.PublicKey
	Nonce        uint64
	Instructions []solana.Instruction
	Signatures   map[solana.PublicKey]solana.Signature
}

// NewTransaction builds an unsigned transaction. The nonce distinguishes
// otherwise identical messages.
func NewTransaction(feePayer solana.PublicKey, nonce uint64, instructions ...solana.Instruction) *Transaction {
	return &Transaction{
		FeePayer:     feePayer,
		Nonce:        nonce,
		Instructions: instructions,
		Signatures:   make(map[solana.PublicKey]solana.Signature),
	}
}

type wireMeta struct {
	Key      solana.PublicKey
	Signer   bool
	Writable bool
}

type wireInstruction struct {
	Program  solana.PublicKey
	Accounts []wireMeta
	Data     []byte
}

type wireMessage struct {
	FeePayer     solana.PublicKey
	Nonce        uint64
	Instructions []wireInstruction
}

// Message returns the canonical borsh encoding that signers sign.
func (tx *Transaction) Message() ([]byte, error) {
	msg := wireMessage{FeePayer: tx.FeePayer, Nonce: tx.Nonce}
	for i, ix := range tx.Instructions {
		data, err := ix.Data()
		if err != nil {
			return nil, fmt.Errorf("instruction %d data: %w", i, err)
		}
		wi := wireInstruction{Program: ix.ProgramID(), Data: data}
		for _, meta := range ix.Accounts() {
			wi.Accounts = append(wi.Accounts, wireMeta{Key: meta.PublicKey, Signer: meta.IsSigner, Writable: meta.IsWritable})
		}
		msg.Instructions = append(msg.Instructions, wi)
	}
	var buf bytes.Buffer
	if err := bin.NewBorshEncoder(&buf).Encode(msg); err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	return buf.Bytes(), nil
}

// MessageHash returns the base58 sha256 digest of the message.
func (tx *Transaction) MessageHash() (string, error) {
	msg, err := tx.Message()
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(msg)
	return base58.Encode(sum[:]), nil
}

// RequiredSigners lists the fee payer followed by every signer meta in
// first-seen order.
func (tx *Transaction) RequiredSigners() []solana.PublicKey {
	seen := map[solana.PublicKey]bool{tx.FeePayer: true}
	out := []solana.PublicKey{tx.FeePayer}
	for _, ix := range tx.Instructions {
		for _, meta := range ix.Accounts() {
			if meta.IsSigner && !seen[meta.PublicKey] {
				seen[meta.PublicKey] = true
				out = append(out, meta.PublicKey)
			}
		}
	}
	return out
}

// Sign signs the message with each key.
func (tx *Transaction) Sign(keys ...solana.PrivateKey) error {
	msg, err := tx.Message()
	if err != nil {
		return err
	}
	if tx.Signatures == nil {
		tx.Signatures = make(map[solana.PublicKey]solana.Signature)
	}
	for _, key := range keys {
		sig, err := key.Sign(msg)
		if err != nil {
			return fmt.Errorf("sign with %s: %w", key.PublicKey(), err)
		}
		tx.Signatures[key.PublicKey()] = sig
	}
	return nil
}

// Signature returns the fee payer's signature, which identifies the
// transaction.
func (tx *Transaction) Signature() solana.Signature {
	return tx.Signatures[tx.FeePayer]
}

// verify checks every required signature against the message and returns the
// verified signer set.
func (tx *Transaction) verify() (map[solana.PublicKey]bool, error) {
	msg, err := tx.Message()
	if err != nil {
		return nil, err
	}
	signed := make(map[solana.PublicKey]bool)
	for _, key := range tx.RequiredSigners() {
		sig, ok := tx.Signatures[key]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingSignature, key)
		}
		if !ed25519.Verify(ed25519.PublicKey(key[:]), msg, sig[:]) {
			return nil, fmt.Errorf("%w: %s", ErrInvalidSignature, key)
		}
		signed[key] = true
	}
	return signed, nil
}
