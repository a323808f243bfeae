// Package vrf provides randomness providers for the raffle: a local mock of the
// VRF coordinator used on development chains, and a keyed oracle that signs
// every response so consumers can verify where the randomness came from.
package vrf

import (
	"context"
	"encoding/binary"
	"errors"
	"math/big"

	"golang.org/x/crypto/sha3"
)

// MaxNumWords bounds a single request.
const MaxNumWords = 500

var (
	ErrNonexistentRequest  = errors.New("nonexistent request")
	ErrInvalidSubscription = errors.New("invalid subscription")
	ErrInvalidConsumer     = errors.New("invalid consumer")
	ErrInsufficientBalance = errors.New("insufficient subscription balance")
	ErrInvalidNumWords     = errors.New("invalid number of words")
	ErrQueueFull           = errors.New("request queue full")
	ErrNotRunning          = errors.New("provider not running")
)

// Consumer receives random words for requests it made.
type Consumer interface {
	// Address identifies the consumer to the provider.
	Address() string
	// FulfillRandomWords delivers the words for requestID. An error means the
	// consumer did not accept them.
	FulfillRandomWords(ctx context.Context, requestID uint64, words []*big.Int) error
}

// Request describes a randomness request.
type Request struct {
	KeyHash                     string
	SubscriptionID              uint64
	MinimumRequestConfirmations uint16
	CallbackGasLimit            uint32
	NumWords                    uint32
	Consumer                    Consumer
}

func (r Request) validate() error {
	if r.Consumer == nil {
		return ErrInvalidConsumer
	}
	if r.NumWords == 0 || r.NumWords > MaxNumWords {
		return ErrInvalidNumWords
	}
	return nil
}

// Keccak256 hashes the concatenation of data.
func Keccak256(data ...[]byte) []byte {
	h := sha3.NewLegacyKeccak256()
	for _, d := range data {
		h.Write(d)
	}
	return h.Sum(nil)
}

// uint256 encodes v as a 32 byte big-endian word.
func uint256(v uint64) []byte {
	out := make([]byte, 32)
	binary.BigEndian.PutUint64(out[24:], v)
	return out
}

// DeriveWords expands seed into n words, word i being keccak256(seed, i).
func DeriveWords(seed []byte, n uint32) []*big.Int {
	words := make([]*big.Int, n)
	for i := uint32(0); i < n; i++ {
		words[i] = new(big.Int).SetBytes(Keccak256(seed, uint256(uint64(i))))
	}
	return words
}
