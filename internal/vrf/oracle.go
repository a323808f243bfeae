package vrf

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"math/big"
	"sync"
	"time"

	"golang.org/x/crypto/hkdf"

	"github.com/R3E-Network/raffle/internal/events"
	"github.com/R3E-Network/raffle/pkg/logger"
)

// RequestStatus is the lifecycle state of an oracle request.
type RequestStatus string

const (
	StatusPending   RequestStatus = "pending"
	StatusFulfilled RequestStatus = "fulfilled"
	StatusFailed    RequestStatus = "failed"
)

const signingKeyInfo = "raffle-vrf-signing"

// OracleConfig configures an Oracle.
type OracleConfig struct {
	// MasterSecret seeds the signing key. An empty secret generates an
	// ephemeral key.
	MasterSecret []byte
	QueueSize    int
	MaxAttempts  int
	RetryDelay   time.Duration
	Events       events.Publisher
	Logger       *logger.Logger
}

// OracleRequest is the oracle's record of a request.
type OracleRequest struct {
	ID          uint64        `json:"id"`
	KeyHash     string        `json:"key_hash"`
	Consumer    string        `json:"consumer"`
	NumWords    uint32        `json:"num_words"`
	Seed        string        `json:"seed"`
	Status      RequestStatus `json:"status"`
	Attempts    int           `json:"attempts"`
	Proof       string        `json:"proof,omitempty"`
	Output      string        `json:"output,omitempty"`
	Words       []*big.Int    `json:"words,omitempty"`
	Error       string        `json:"error,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	FulfilledAt time.Time     `json:"fulfilled_at,omitempty"`

	consumer Consumer
	seed     []byte
}

// Oracle answers randomness requests asynchronously from a worker goroutine.
// Each answer carries an ed25519 proof over the request, and the words are
// derived from the hash of that proof.
type Oracle struct {
	mu       sync.Mutex
	priv     ed25519.PrivateKey
	pub      ed25519.PublicKey
	keyHash  string
	nextID   uint64
	requests map[uint64]*OracleRequest

	pending     chan uint64
	stopCh      chan struct{}
	wg          sync.WaitGroup
	running     bool
	maxAttempts int
	retryDelay  time.Duration

	events events.Publisher
	log    *logger.Logger
}

// NewOracle derives the signing key and prepares the request queue.
func NewOracle(cfg OracleConfig) (*Oracle, error) {
	if cfg.Logger == nil {
		cfg.Logger = logger.NewDefault("vrf-oracle")
	}
	if cfg.Events == nil {
		cfg.Events = events.Discard{}
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 100
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}

	priv, err := deriveSigningKey(cfg.MasterSecret)
	if err != nil {
		return nil, fmt.Errorf("derive signing key: %w", err)
	}
	if len(cfg.MasterSecret) == 0 {
		cfg.Logger.Warn("VRF master secret not configured; using ephemeral signing key")
	}
	pub := priv.Public().(ed25519.PublicKey)

	return &Oracle{
		priv:        priv,
		pub:         pub,
		keyHash:     "0x" + hex.EncodeToString(Keccak256(pub)),
		requests:    make(map[uint64]*OracleRequest),
		pending:     make(chan uint64, cfg.QueueSize),
		maxAttempts: cfg.MaxAttempts,
		retryDelay:  cfg.RetryDelay,
		events:      cfg.Events,
		log:         cfg.Logger,
	}, nil
}

func deriveSigningKey(master []byte) (ed25519.PrivateKey, error) {
	seed := make([]byte, ed25519.SeedSize)
	if len(master) == 0 {
		if _, err := io.ReadFull(rand.Reader, seed); err != nil {
			return nil, err
		}
		return ed25519.NewKeyFromSeed(seed), nil
	}
	kdf := hkdf.New(sha256.New, master, nil, []byte(signingKeyInfo))
	if _, err := io.ReadFull(kdf, seed); err != nil {
		return nil, err
	}
	return ed25519.NewKeyFromSeed(seed), nil
}

// PublicKey returns the key proofs verify against.
func (o *Oracle) PublicKey() ed25519.PublicKey { return o.pub }

// KeyHash identifies the oracle key, keccak256 of the public key.
func (o *Oracle) KeyHash() string { return o.keyHash }

// Start launches the worker.
func (o *Oracle) Start(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.running {
		return nil
	}
	o.stopCh = make(chan struct{})
	o.running = true

	o.wg.Add(1)
	go o.run(ctx, o.stopCh)

	o.log.WithField("key_hash", o.keyHash).Info("VRF oracle started")
	return nil
}

// Stop halts the worker and waits for in-flight work.
func (o *Oracle) Stop() {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return
	}
	o.running = false
	close(o.stopCh)
	o.mu.Unlock()

	o.wg.Wait()
	o.log.Info("VRF oracle stopped")
}

// RequestRandomWords queues a request and returns its id without waiting.
func (o *Oracle) RequestRandomWords(ctx context.Context, req Request) (uint64, error) {
	if err := req.validate(); err != nil {
		return 0, err
	}

	seed := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, seed); err != nil {
		return 0, fmt.Errorf("generate seed: %w", err)
	}

	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return 0, ErrNotRunning
	}
	o.nextID++
	id := o.nextID
	keyHash := req.KeyHash
	if keyHash == "" {
		keyHash = o.keyHash
	}
	record := &OracleRequest{
		ID:        id,
		KeyHash:   keyHash,
		Consumer:  req.Consumer.Address(),
		NumWords:  req.NumWords,
		Seed:      hex.EncodeToString(seed),
		Status:    StatusPending,
		CreatedAt: time.Now().UTC(),
		consumer:  req.Consumer,
		seed:      seed,
	}
	o.requests[id] = record

	select {
	case o.pending <- id:
	default:
		delete(o.requests, id)
		o.mu.Unlock()
		return 0, ErrQueueFull
	}
	o.mu.Unlock()

	o.events.Log(events.Event{
		Type:      events.EventVRFWordsRequested,
		Source:    "vrf-oracle",
		RequestID: id,
		Metadata:  map[string]string{"consumer": record.Consumer},
	})
	return id, nil
}

// Request returns a copy of the request record.
func (o *Oracle) Request(id uint64) (OracleRequest, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	r, ok := o.requests[id]
	if !ok {
		return OracleRequest{}, false
	}
	out := *r
	out.Words = append([]*big.Int(nil), r.Words...)
	return out, true
}

func (o *Oracle) run(ctx context.Context, stop chan struct{}) {
	defer o.wg.Done()
	for {
		select {
		case <-ctx.Done():
			o.halt(stop)
			return
		case <-stop:
			return
		case id := <-o.pending:
			o.fulfill(ctx, id, stop)
		}
	}
}

// halt marks the oracle stopped when its context ends, so new requests are
// refused instead of queueing with no worker. Pending retries see stop close.
func (o *Oracle) halt(stop chan struct{}) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.running || o.stopCh != stop {
		return
	}
	o.running = false
	close(stop)
	o.log.Info("VRF oracle context done; worker stopped")
}

func (o *Oracle) fulfill(ctx context.Context, id uint64, stop <-chan struct{}) {
	o.mu.Lock()
	r, ok := o.requests[id]
	if !ok || r.Status != StatusPending {
		o.mu.Unlock()
		return
	}
	r.Attempts++
	attempt := r.Attempts
	consumer := r.consumer
	msg := proofMessage(r.KeyHash, id, r.Consumer, r.seed)
	numWords := r.NumWords
	o.mu.Unlock()

	proof := ed25519.Sign(o.priv, msg)
	output := Keccak256(proof)
	words := DeriveWords(output, numWords)

	err := consumer.FulfillRandomWords(ctx, id, words)

	o.mu.Lock()
	if err == nil {
		r.Status = StatusFulfilled
		proofHex := hex.EncodeToString(proof)
		r.Proof = proofHex
		r.Output = hex.EncodeToString(output)
		r.Words = words
		r.Error = ""
		r.FulfilledAt = time.Now().UTC()
		o.mu.Unlock()

		o.events.Log(events.Event{
			Type:      events.EventVRFWordsFulfilled,
			Source:    "vrf-oracle",
			RequestID: id,
			Metadata:  map[string]string{"consumer": consumer.Address(), "proof": proofHex},
		})
		return
	}

	r.Error = err.Error()
	retry := attempt < o.maxAttempts
	if !retry {
		r.Status = StatusFailed
	}
	o.mu.Unlock()

	entry := o.log.WithError(err).WithField("request_id", id).WithField("attempt", attempt)
	if retry {
		entry.Warn("consumer rejected random words; retrying")
		o.scheduleRetry(id, stop)
		return
	}
	entry.Warn("consumer rejected random words; giving up")
	o.events.Log(events.Event{
		Type:      events.EventVRFFulfillmentFailed,
		Source:    "vrf-oracle",
		RequestID: id,
		Error:     err.Error(),
	})
}

func (o *Oracle) scheduleRetry(id uint64, stop <-chan struct{}) {
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		timer := time.NewTimer(o.retryDelay)
		defer timer.Stop()
		select {
		case <-stop:
			return
		case <-timer.C:
		}
		select {
		case o.pending <- id:
		case <-stop:
		}
	}()
}

func proofMessage(keyHash string, id uint64, consumer string, seed []byte) []byte {
	return Keccak256([]byte(keyHash), uint256(id), []byte(consumer), seed)
}

// Verify checks that proof answers the request and returns the words it
// yields.
func Verify(pub ed25519.PublicKey, keyHash string, id uint64, consumer string, seed, proof []byte, numWords uint32) ([]*big.Int, bool) {
	if len(pub) != ed25519.PublicKeySize {
		return nil, false
	}
	if !ed25519.Verify(pub, proofMessage(keyHash, id, consumer, seed), proof) {
		return nil, false
	}
	return DeriveWords(Keccak256(proof), numWords), true
}
