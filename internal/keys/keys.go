// Package keys manages the local signing identity: a secp256k1 secret key
// stored on disk, optionally encrypted at rest with a passphrase.
//
// Encrypted keystores use argon2id to derive an AES-256-GCM key from the
// passphrase; the file layout is salt || nonce || ciphertext. An empty
// passphrase selects plaintext mode: the hex secret key with a trailing
// newline, relying on 0600 permissions alone.
package keys

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/nbd-wtf/go-nostr"
	"golang.org/x/crypto/argon2"

	"github.com/jeletor/ai-wot/internal/event"
)

const (
	argonTime    = 3
	argonMemory  = 64 * 1024 // 64 MB
	argonThreads = 4
	keyLen       = 32 // 256 bits
	saltLen      = 32
	nonceLen     = 12
)

// ErrPassphraseRequired is returned when Load encounters an encrypted
// keystore but was given an empty passphrase.
var ErrPassphraseRequired = errors.New("keystore is encrypted, passphrase required")

// Keystore holds a decrypted signing keypair. It satisfies event.Signer.
type Keystore struct {
	secretKey string
	publicKey string
}

// Generate creates a new random keypair.
func Generate() (*Keystore, error) {
	sk := nostr.GeneratePrivateKey()
	return FromSecretKey(sk)
}

// FromSecretKey builds a Keystore from a 64-hex secret key.
func FromSecretKey(sk string) (*Keystore, error) {
	sk = strings.ToLower(strings.TrimSpace(sk))
	if !event.IsValidKey(sk) {
		return nil, fmt.Errorf("invalid secret key: want 64 hex characters")
	}
	pk, err := nostr.GetPublicKey(sk)
	if err != nil {
		return nil, fmt.Errorf("derive public key: %w", err)
	}
	return &Keystore{secretKey: sk, publicKey: pk}, nil
}

// PublicKey returns the lowercase hex public key.
func (k *Keystore) PublicKey() string {
	return k.publicKey
}

// Sign sets the event's pubkey, computes its id and signs it.
func (k *Keystore) Sign(ev *nostr.Event) error {
	return ev.Sign(k.secretKey)
}

// Fingerprint returns a short display form of the public key.
func (k *Keystore) Fingerprint() string {
	return k.publicKey[:8] + "…" + k.publicKey[len(k.publicKey)-8:]
}

// Save writes the keystore to path with 0600 permissions. A non-empty
// passphrase encrypts the secret; an empty one stores it as plain hex.
func (k *Keystore) Save(path, passphrase string) error {
	var data []byte
	if passphrase == "" {
		data = []byte(k.secretKey + "\n")
	} else {
		secret, err := hex.DecodeString(k.secretKey)
		if err != nil {
			return fmt.Errorf("decode secret key: %w", err)
		}
		data, err = seal(secret, passphrase)
		if err != nil {
			return fmt.Errorf("encrypt keystore: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write key file: %w", err)
	}
	return nil
}

// Load reads a keystore written by Save. The passphrase must match the
// mode the file was saved in.
func Load(path, passphrase string) (*Keystore, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read key file: %w", err)
	}

	if passphrase == "" {
		sk := strings.ToLower(strings.TrimSpace(string(data)))
		if event.IsValidKey(sk) {
			return FromSecretKey(sk)
		}
		if len(data) >= saltLen+nonceLen+1 {
			return nil, ErrPassphraseRequired
		}
		return nil, fmt.Errorf("invalid key file: expected 64 hex characters")
	}

	secret, err := open(data, passphrase)
	if err != nil {
		return nil, fmt.Errorf("decrypt keystore: %w", err)
	}
	return FromSecretKey(hex.EncodeToString(secret))
}

// LoadOrGenerate loads the keystore at path, or generates and saves a new
// one if the file does not exist.
func LoadOrGenerate(path, passphrase string) (*Keystore, bool, error) {
	k, err := Load(path, passphrase)
	if err == nil {
		return k, false, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, false, err
	}

	k, err = Generate()
	if err != nil {
		return nil, false, fmt.Errorf("generate keypair: %w", err)
	}
	if err := k.Save(path, passphrase); err != nil {
		return nil, false, err
	}
	return k, true, nil
}

// --- At-rest encryption ---

func deriveKey(passphrase string, salt []byte) []byte {
	return argon2.IDKey([]byte(passphrase), salt, argonTime, argonMemory, argonThreads, keyLen)
}

func generateSalt() []byte {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return salt
}

// seal encrypts plaintext under the passphrase and returns the keystore
// file body: salt || nonce || ciphertext.
func seal(plaintext []byte, passphrase string) ([]byte, error) {
	salt := generateSalt()
	key := deriveKey(passphrase, salt)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("new gcm: %w", err)
	}

	nonce := make([]byte, nonceLen)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	out := make([]byte, 0, saltLen+nonceLen+len(plaintext)+gcm.Overhead())
	out = append(out, salt...)
	out = append(out, nonce...)
	out = gcm.Seal(out, nonce, plaintext, nil)
	return out, nil
}

// open inverts seal.
func open(data []byte, passphrase string) ([]byte, error) {
	if len(data) < saltLen+nonceLen+1 {
		return nil, fmt.Errorf("key file too short: %d bytes", len(data))
	}
	salt := data[:saltLen]
	nonce := data[saltLen : saltLen+nonceLen]
	ciphertext := data[saltLen+nonceLen:]

	key := deriveKey(passphrase, salt)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("new gcm: %w", err)
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypt: %w", err)
	}
	return plaintext, nil
}
