package credstore

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/crypto/nacl/secretbox"
)

// recordFile is the single entry of the persisted namespace.
const recordFile = "app_prefs.json"

const nonceSize = 24

// Ensure FileStore implements Store
var _ Store = (*FileStore)(nil)

// FileStore keeps the credential record in a 0600 file inside the
// state directory. Writes go through a temp file and rename so a
// crash never leaves a partial record. With an encryption key the
// record is sealed with NaCl secretbox before hitting disk.
type FileStore struct {
	mu   sync.Mutex
	path string
	key  *[32]byte // nil means plaintext record
}

// NewFileStore creates the state directory if needed. encryptionKey
// must be empty or exactly 32 bytes.
func NewFileStore(dir string, encryptionKey string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("%w: creating state dir: %v", ErrUnavailable, err)
	}

	s := &FileStore{path: filepath.Join(dir, recordFile)}
	if encryptionKey != "" {
		if len(encryptionKey) != 32 {
			return nil, fmt.Errorf("encryption key must be 32 bytes, got %d", len(encryptionKey))
		}
		var key [32]byte
		copy(key[:], encryptionKey)
		s.key = &key
	}
	return s, nil
}

func (s *FileStore) Load(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("%w: reading record: %v", ErrUnavailable, err)
	}

	if s.key != nil {
		data, err = s.open(data)
		if err != nil {
			return "", fmt.Errorf("%w: unsealing record: %v", ErrUnavailable, err)
		}
	}

	var record credentialRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return "", fmt.Errorf("%w: parsing record: %v", ErrUnavailable, err)
	}
	return record.AuthToken, nil
}

func (s *FileStore) Save(ctx context.Context, token string) error {
	if token == "" {
		return ErrEmptyToken
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(credentialRecord{AuthToken: token})
	if err != nil {
		return fmt.Errorf("%w: encoding record: %v", ErrUnavailable, err)
	}

	if s.key != nil {
		data, err = s.seal(data)
		if err != nil {
			return fmt.Errorf("%w: sealing record: %v", ErrUnavailable, err)
		}
	}

	if err := writeFileAtomic(s.path, data); err != nil {
		return fmt.Errorf("%w: writing record: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *FileStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("%w: removing record: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *FileStore) seal(plaintext []byte) ([]byte, error) {
	var nonce [nonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, err
	}
	return secretbox.Seal(nonce[:], plaintext, &nonce, s.key), nil
}

func (s *FileStore) open(sealed []byte) ([]byte, error) {
	if len(sealed) < nonceSize {
		return nil, fmt.Errorf("sealed record too short")
	}
	var nonce [nonceSize]byte
	copy(nonce[:], sealed[:nonceSize])
	plaintext, ok := secretbox.Open(nil, sealed[nonceSize:], &nonce, s.key)
	if !ok {
		return nil, fmt.Errorf("record does not authenticate")
	}
	return plaintext, nil
}

// writeFileAtomic makes the write durable before the rename so a
// stored token survives a crash immediately after Save returns.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".app_prefs-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
