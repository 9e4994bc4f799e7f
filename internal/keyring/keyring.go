package keyring

import (
	"errors"
	"math/rand/v2"
	"strings"

	"keywarden/internal/storage"

	"go.uber.org/zap"
)

// RedemptionResult classifies what a submitted key text turned out to be.
type RedemptionResult int

const (
	Rejected RedemptionResult = iota
	OneTimeAccepted
	MasterAccepted
)

const (
	keyLetters     = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	keyDigits      = "0123456789"
	keyLetterCount = 5
	keyDigitCount  = 4

	// generate retries on a pending-set collision; with the token space this
	// large the loop is all but guaranteed to exit on the first pass.
	maxGenerateAttempts = 100
)

// ErrKeySpaceExhausted is returned when every generation attempt collided
// with a pending key. With 26^5 * 10^4 tokens this indicates something is
// badly wrong, never normal operation.
var ErrKeySpaceExhausted = errors.New("key generation exhausted retry attempts")

// Authority owns key issuance and redemption. All durable state lives in the
// StateFile; the master key is configuration and never persisted.
type Authority struct {
	state  *storage.StateFile
	master string
	logger *zap.Logger
	newKey func() string
}

func New(state *storage.StateFile, masterKey string, logger *zap.Logger) *Authority {
	return &Authority{
		state:  state,
		master: strings.ToUpper(strings.TrimSpace(masterKey)),
		logger: logger,
		newKey: randomKey,
	}
}

// Generate issues a fresh one-time key, inserts it into the pending set, and
// persists. Tokens are short alphanumeric identifiers, not security secrets.
// A pending-set collision triggers a regenerate; running out of attempts is
// an error rather than a silent duplicate.
func (a *Authority) Generate() (string, error) {
	for attempt := 0; attempt < maxGenerateAttempts; attempt++ {
		key := a.newKey()
		if a.state.HasKey(key) {
			continue
		}
		a.state.AddKey(key)
		a.persist()
		return key, nil
	}
	a.logger.Error("key generation failed", zap.Error(ErrKeySpaceExhausted))
	return "", ErrKeySpaceExhausted
}

// Redeem classifies raw text from a private message. The master key wins over
// the pending set and grants master status idempotently; a pending one-time
// key grants standard authorization and is consumed exactly once. Anything
// else is rejected without touching state.
func (a *Authority) Redeem(userID, raw string) RedemptionResult {
	text := strings.ToUpper(strings.TrimSpace(raw))
	if text == "" {
		return Rejected
	}

	if a.master != "" && text == a.master {
		a.state.GrantMaster(userID)
		a.persist()
		return MasterAccepted
	}

	if a.state.ConsumeKey(text) {
		a.state.Authorize(userID)
		a.persist()
		return OneTimeAccepted
	}

	return Rejected
}

func (a *Authority) IsAuthorized(userID string) bool {
	return a.state.IsAuthorized(userID)
}

func (a *Authority) IsMaster(userID string) bool {
	return a.state.IsMaster(userID)
}

// MasterUsers lists every master-authorized user, for acknowledgment
// broadcasts.
func (a *Authority) MasterUsers() []string {
	return a.state.MasterUsers()
}

func (a *Authority) persist() {
	if err := a.state.Save(); err != nil {
		a.logger.Error("state save failed", zap.Error(err))
	}
}

func randomKey() string {
	var b strings.Builder
	b.Grow(keyLetterCount + keyDigitCount)
	for i := 0; i < keyLetterCount; i++ {
		b.WriteByte(keyLetters[rand.IntN(len(keyLetters))])
	}
	for i := 0; i < keyDigitCount; i++ {
		b.WriteByte(keyDigits[rand.IntN(len(keyDigits))])
	}
	return b.String()
}
