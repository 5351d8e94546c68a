package settings

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/pbkdf2"
	"golang.org/x/time/rate"

	"github.com/kyleseneker/pinguard/internal/config"
	"github.com/kyleseneker/pinguard/internal/kvstore"
	"github.com/kyleseneker/pinguard/internal/logging"
)

const (
	saltSize    = 16
	dataKeySize = 32
	maxBackoff  = 24 * time.Hour

	lockKeySuffix     = "lock_v2"
	documentKeySuffix = "settings_v2"
)

// lockRecord holds the wrapped data key and the unlock failure counter.
type lockRecord struct {
	SaltBase64  string `json:"saltBase64"`
	Iterations  int    `json:"iterations"`
	WrapIV      string `json:"wrapIv"`
	WrappedKey  string `json:"wrappedKey"`
	Fails       int    `json:"fails"`
	LastFailUTC int64  `json:"lastFailUtc"`
}

type sealedRecord struct {
	IV   string `json:"iv"`
	Data string `json:"data"`
}

// Store persists the admin document encrypted under a random data key, which
// is itself wrapped by a key derived from the admin passphrase.
type Store struct {
	store   *kvstore.Adapter
	cfg     config.SettingsConfig
	limiter *rate.Limiter
	logger  logging.Logger
}

// NewStore creates a Store over the local area of store.
func NewStore(store *kvstore.Adapter, cfg config.SettingsConfig, logger logging.Logger) *Store {
	if logger == nil {
		logger = logging.Get()
	}
	return &Store{
		store:   store,
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.UnlockAttemptsPerSecond), 1),
		logger:  logger.Named("settings"),
	}
}

func (s *Store) lockKey() string     { return s.cfg.KeyPrefix + lockKeySuffix }
func (s *Store) documentKey() string { return s.cfg.KeyPrefix + documentKeySuffix }

func (s *Store) readLock(ctx context.Context) (*lockRecord, error) {
	var rec lockRecord
	found, err := s.store.GetJSON(ctx, kvstore.Local, s.lockKey(), &rec)
	if err != nil {
		return nil, fmt.Errorf("failed to read lock record: %w", err)
	}
	if !found || rec.WrappedKey == "" {
		return nil, nil
	}
	return &rec, nil
}

// HasLock reports whether a passphrase has been enrolled.
func (s *Store) HasLock(ctx context.Context) (bool, error) {
	rec, err := s.readLock(ctx)
	if err != nil {
		return false, err
	}
	return rec != nil, nil
}

// Enroll sets the admin passphrase and leaves sess unlocked.
func (s *Store) Enroll(ctx context.Context, sess *Session, passphrase string) error {
	if passphrase == "" {
		return errors.New("passphrase cannot be empty")
	}
	existing, err := s.readLock(ctx)
	if err != nil {
		return err
	}
	if existing != nil {
		return ErrAlreadyEnrolled
	}

	salt, err := randomBytes(saltSize)
	if err != nil {
		return err
	}
	dataKey, err := randomBytes(dataKeySize)
	if err != nil {
		return err
	}

	kek := deriveKey(passphrase, salt, s.cfg.PBKDF2Iterations)
	iv, wrapped, err := seal(kek, dataKey)
	if err != nil {
		return fmt.Errorf("failed to wrap data key: %w", err)
	}

	rec := lockRecord{
		SaltBase64: base64.StdEncoding.EncodeToString(salt),
		Iterations: s.cfg.PBKDF2Iterations,
		WrapIV:     base64.StdEncoding.EncodeToString(iv),
		WrappedKey: base64.StdEncoding.EncodeToString(wrapped),
	}
	if err := s.store.Set(ctx, kvstore.Local, s.lockKey(), rec); err != nil {
		return fmt.Errorf("failed to persist lock record: %w", err)
	}

	sess.Unlock(dataKey)
	s.logger.Info("Admin passphrase enrolled", "iterations", rec.Iterations)
	return nil
}

// backoffUntil returns when the next attempt is permitted, or the zero time.
func (s *Store) backoffUntil(rec *lockRecord) time.Time {
	if rec.Fails < s.cfg.MaxFailedUnlocks || rec.LastFailUTC == 0 {
		return time.Time{}
	}
	wait := s.cfg.UnlockBackoff
	for i := s.cfg.MaxFailedUnlocks; i < rec.Fails && wait < maxBackoff; i++ {
		wait *= 2
	}
	if wait > maxBackoff {
		wait = maxBackoff
	}
	return time.UnixMilli(rec.LastFailUTC).Add(wait)
}

// Unlock verifies passphrase and moves sess to Unlocked. Repeated failures
// trigger an exponential backoff persisted with the lock record.
func (s *Store) Unlock(ctx context.Context, sess *Session, passphrase string) error {
	rec, err := s.readLock(ctx)
	if err != nil {
		return err
	}
	if rec == nil {
		return ErrNotEnrolled
	}

	now := s.store.Clock().Now()
	if until := s.backoffUntil(rec); now.Before(until) {
		return fmt.Errorf("%w: retry in %s", ErrBackoff, until.Sub(now).Round(time.Second))
	}
	if !s.limiter.AllowN(now, 1) {
		return ErrRateLimited
	}

	dataKey, err := s.unwrap(rec, passphrase)
	if err != nil {
		rec.Fails++
		rec.LastFailUTC = now.UnixMilli()
		if werr := s.store.Set(ctx, kvstore.Local, s.lockKey(), rec); werr != nil {
			s.logger.Warn("Failed to persist unlock failure", "error", werr)
		}
		s.logger.Warn("Rejected admin unlock attempt", "fails", rec.Fails)
		return ErrWrongPassphrase
	}

	if rec.Fails > 0 {
		rec.Fails = 0
		rec.LastFailUTC = 0
		if err := s.store.Set(ctx, kvstore.Local, s.lockKey(), rec); err != nil {
			s.logger.Warn("Failed to reset unlock failure counter", "error", err)
		}
	}
	sess.Unlock(dataKey)
	s.logger.Debug("Admin settings unlocked")
	return nil
}

func (s *Store) unwrap(rec *lockRecord, passphrase string) ([]byte, error) {
	salt, err := base64.StdEncoding.DecodeString(rec.SaltBase64)
	if err != nil {
		return nil, fmt.Errorf("corrupt salt: %w", err)
	}
	iv, err := base64.StdEncoding.DecodeString(rec.WrapIV)
	if err != nil {
		return nil, fmt.Errorf("corrupt wrap iv: %w", err)
	}
	wrapped, err := base64.StdEncoding.DecodeString(rec.WrappedKey)
	if err != nil {
		return nil, fmt.Errorf("corrupt wrapped key: %w", err)
	}
	iterations := rec.Iterations
	if iterations < 1 {
		iterations = s.cfg.PBKDF2Iterations
	}
	return open(deriveKey(passphrase, salt, iterations), iv, wrapped)
}

// Load decrypts the stored document. It returns nil when none has been saved.
func (s *Store) Load(ctx context.Context, sess *Session) (*Document, error) {
	key, err := sess.Key()
	if err != nil {
		return nil, err
	}
	var sealed sealedRecord
	found, err := s.store.GetJSON(ctx, kvstore.Local, s.documentKey(), &sealed)
	if err != nil {
		return nil, fmt.Errorf("failed to read settings: %w", err)
	}
	if !found || sealed.Data == "" {
		return nil, nil
	}

	iv, err := base64.StdEncoding.DecodeString(sealed.IV)
	if err != nil {
		return nil, fmt.Errorf("corrupt settings iv: %w", err)
	}
	data, err := base64.StdEncoding.DecodeString(sealed.Data)
	if err != nil {
		return nil, fmt.Errorf("corrupt settings data: %w", err)
	}
	plain, err := open(key, iv, data)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt settings: %w", err)
	}

	doc := DefaultDocument()
	if err := json.Unmarshal(plain, doc); err != nil {
		return nil, fmt.Errorf("failed to decode settings: %w", err)
	}
	return doc, nil
}

// Save validates doc and stores it encrypted under the session key.
func (s *Store) Save(ctx context.Context, sess *Session, doc *Document) error {
	key, err := sess.Key()
	if err != nil {
		return err
	}
	if err := doc.Validate(); err != nil {
		return fmt.Errorf("invalid settings: %w", err)
	}
	plain, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}
	iv, data, err := seal(key, plain)
	if err != nil {
		return fmt.Errorf("failed to encrypt settings: %w", err)
	}
	sealed := sealedRecord{
		IV:   base64.StdEncoding.EncodeToString(iv),
		Data: base64.StdEncoding.EncodeToString(data),
	}
	if err := s.store.Set(ctx, kvstore.Local, s.documentKey(), sealed); err != nil {
		return fmt.Errorf("failed to persist settings: %w", err)
	}
	return nil
}

func deriveKey(passphrase string, salt []byte, iterations int) []byte {
	return pbkdf2.Key([]byte(passphrase), salt, iterations, dataKeySize, sha256.New)
}

func randomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("failed to read random bytes: %w", err)
	}
	return b, nil
}

func seal(key, plain []byte) (iv, ciphertext []byte, err error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, nil, err
	}
	iv, err = randomBytes(gcm.NonceSize())
	if err != nil {
		return nil, nil, err
	}
	return iv, gcm.Seal(nil, iv, plain, nil), nil
}

func open(key, iv, ciphertext []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(iv) != gcm.NonceSize() {
		return nil, errors.New("invalid nonce length")
	}
	return gcm.Open(nil, iv, ciphertext, nil)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
