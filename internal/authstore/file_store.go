package authstore

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// hkdfInfo binds derived keys to this store so a secret shared with another
// component cannot unseal token files.
const hkdfInfo = "dialer/authstore/v1"

// FileStore keeps the token triple in a single sealed file. The triple is
// marshaled as one JSON document and encrypted with ChaCha20-Poly1305, so a
// save is atomic at the file level: either the whole new triple lands via
// rename or the previous content survives.
type FileStore struct {
	path string
	key  []byte

	mu sync.Mutex
}

// NewFileStore derives the sealing key from secret via HKDF-SHA256.
func NewFileStore(path, secret string) (*FileStore, error) {
	if path == "" {
		return nil, fmt.Errorf("token file path is required")
	}
	if secret == "" {
		return nil, fmt.Errorf("storage secret is required")
	}

	key := make([]byte, chacha20poly1305.KeySize)
	kdf := hkdf.New(sha256.New, []byte(secret), nil, []byte(hkdfInfo))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("deriving storage key: %w", err)
	}

	return &FileStore{path: path, key: key}, nil
}

func (f *FileStore) Save(ctx context.Context, tok Token) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	plaintext, err := json.Marshal(tok)
	if err != nil {
		return fmt.Errorf("marshaling token: %w", err)
	}

	aead, err := chacha20poly1305.NewX(f.key)
	if err != nil {
		return fmt.Errorf("creating cipher: %w", err)
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("generating nonce: %w", err)
	}

	sealed := aead.Seal(nonce, nonce, plaintext, nil)

	tmp := f.path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return fmt.Errorf("creating token dir: %w", err)
	}
	if err := os.WriteFile(tmp, sealed, 0o600); err != nil {
		return fmt.Errorf("writing token file: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return fmt.Errorf("committing token file: %w", err)
	}
	return nil
}

func (f *FileStore) Load(ctx context.Context) (Token, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	sealed, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return Token{}, false, nil
	}
	if err != nil {
		return Token{}, false, fmt.Errorf("reading token file: %w", err)
	}

	aead, err := chacha20poly1305.NewX(f.key)
	if err != nil {
		return Token{}, false, fmt.Errorf("creating cipher: %w", err)
	}
	if len(sealed) < aead.NonceSize() {
		return Token{}, false, fmt.Errorf("token file truncated")
	}

	nonce, ciphertext := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return Token{}, false, fmt.Errorf("unsealing token file: %w", err)
	}

	var tok Token
	if err := json.Unmarshal(plaintext, &tok); err != nil {
		return Token{}, false, fmt.Errorf("unmarshaling token: %w", err)
	}
	return tok, true, nil
}

func (f *FileStore) Clear(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing token file: %w", err)
	}
	return nil
}
