// Package keyring provides secure storage for the tunnel credentials.
// It uses the system keyring when available, falling back to an
// encrypted local file when not (root sessions often have no secret
// service on the bus).
package keyring

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/zalando/go-keyring"

	"github.com/yllada/vpn-rotator/common"
)

const (
	// serviceName is the identifier used in the system keyring.
	serviceName = "vpn-rotator"
	// credentialKey is the single entry holding the credential pair.
	credentialKey = "tunnel-auth"
)

// Credentials is the username/password pair written to the tunnel
// client's auth file.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Store saves and loads the tunnel credentials.
type Store struct {
	fallbackPath string
	useFallback  bool
	key          []byte
}

// New creates a credential store. fallbackPath is where the encrypted
// local file lives when the system keyring is unavailable.
func New(fallbackPath string) *Store {
	s := &Store{fallbackPath: fallbackPath}

	// Probe the system keyring once; fall back for the whole session
	// if it is unreachable.
	testKey := serviceName + "-probe"
	if err := keyring.Set(serviceName, testKey, "probe"); err != nil {
		s.useFallback = true
		s.key = deriveKey()
	} else {
		_ = keyring.Delete(serviceName, testKey)
	}

	return s
}

// Save stores the credential pair.
func (s *Store) Save(c Credentials) error {
	if c.Username == "" || c.Password == "" {
		return errors.New("username and password must not be empty")
	}

	data, err := json.Marshal(c)
	if err != nil {
		return err
	}

	if s.useFallback {
		return s.saveLocal(data)
	}

	if err := keyring.Set(serviceName, credentialKey, string(data)); err != nil {
		// Keyring went away mid-session; switch to the local file.
		s.useFallback = true
		s.key = deriveKey()
		return s.saveLocal(data)
	}
	return nil
}

// Load retrieves the credential pair. Returns
// common.ErrCredentialsNotFound when nothing is stored.
func (s *Store) Load() (Credentials, error) {
	var raw []byte

	if s.useFallback {
		data, err := s.loadLocal()
		if err != nil {
			return Credentials{}, err
		}
		raw = data
	} else {
		data, err := keyring.Get(serviceName, credentialKey)
		if err != nil {
			if errors.Is(err, keyring.ErrNotFound) {
				return Credentials{}, common.ErrCredentialsNotFound
			}
			return Credentials{}, err
		}
		raw = []byte(data)
	}

	var c Credentials
	if err := json.Unmarshal(raw, &c); err != nil {
		return Credentials{}, fmt.Errorf("corrupt stored credentials: %w", err)
	}
	if c.Username == "" || c.Password == "" {
		return Credentials{}, common.ErrCredentialsNotFound
	}
	return c, nil
}

// Delete removes the stored credential pair from both backends.
func (s *Store) Delete() error {
	if !s.useFallback {
		_ = keyring.Delete(serviceName, credentialKey)
	}
	if s.fallbackPath != "" {
		if err := os.Remove(s.fallbackPath); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}

// WriteAuthFile materializes the stored credentials as the tunnel
// client's two-line auth file with owner-only permissions.
func (s *Store) WriteAuthFile(path string) error {
	c, err := s.Load()
	if err != nil {
		return err
	}

	content := c.Username + "\n" + c.Password + "\n"
	return os.WriteFile(path, []byte(content), 0600)
}

// Local encrypted-file fallback.

func (s *Store) saveLocal(plaintext []byte) error {
	encrypted, err := encrypt(s.key, plaintext)
	if err != nil {
		return err
	}
	return os.WriteFile(s.fallbackPath, encrypted, 0600)
}

func (s *Store) loadLocal() ([]byte, error) {
	data, err := os.ReadFile(s.fallbackPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, common.ErrCredentialsNotFound
		}
		return nil, err
	}
	return decrypt(s.key, data)
}

// deriveKey builds the fallback encryption key from machine-specific
// data so the file is only readable on the host that wrote it.
func deriveKey() []byte {
	hostname, _ := os.Hostname()
	keyData := fmt.Sprintf("%s-%s-%s-%d", serviceName, hostname, machineID(), os.Getuid())
	hash := sha256.Sum256([]byte(keyData))
	return hash[:]
}

func machineID() string {
	data, err := os.ReadFile("/etc/machine-id")
	if err == nil {
		return strings.TrimSpace(string(data))
	}
	return "default-machine-id"
}

func encrypt(key, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}

	ciphertext := gcm.Seal(nonce, nonce, plaintext, nil)
	return []byte(base64.StdEncoding.EncodeToString(ciphertext)), nil
}

func decrypt(key, data []byte) ([]byte, error) {
	ciphertext, err := base64.StdEncoding.DecodeString(string(data))
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	if len(ciphertext) < gcm.NonceSize() {
		return nil, errors.New("ciphertext too short")
	}

	nonce, ciphertext := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]
	return gcm.Open(nil, nonce, ciphertext, nil)
}
