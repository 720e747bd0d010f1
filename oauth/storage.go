package oauth

import (
	"context"
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/go-json-experiment/json"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/oauth2"

	"github.com/zephyrtronium/switchboard/store"
)

// Storage is a secure means to store OAuth2 credentials.
type Storage interface {
	// Load returns the current token. If the result is nil, the caller should
	// acquire a new token.
	Load(ctx context.Context) (*oauth2.Token, error)
	// Store sets a new token. If tok is nil, the storage should be cleared.
	Store(ctx context.Context, tok *oauth2.Token) error
}

// file is the interface used by a FileStorage.
type file interface {
	io.ReaderAt
	io.WriterAt
	Truncate(int64) error
}

// FileStorage is an encrypted file storage for OAuth2 credentials.
type FileStorage struct {
	mu   sync.Mutex
	f    file
	enc  cipher.AEAD
	rand io.Reader
}

// KeySize is the size of the key used to encrypt the token file.
const KeySize = chacha20poly1305.KeySize

const (
	nonceSize = chacha20poly1305.NonceSize
	totalOH   = chacha20poly1305.NonceSize + chacha20poly1305.Overhead
	// maxToken is the largest encoded token we expect to store.
	maxToken = 4096
)

// NewFileAt creates a FileStorage at path p.
func NewFileAt(p string, key [KeySize]byte) (*FileStorage, error) {
	f, err := os.OpenFile(p, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, fmt.Errorf("couldn't open token file: %w", err)
	}
	enc, err := chacha20poly1305.New(key[:])
	if err != nil {
		panic(err)
	}
	return &FileStorage{f: f, enc: enc, rand: rand.Reader}, nil
}

// Load decrypts the token. If there is no token, the result is nil with a nil
// error.
func (f *FileStorage) Load(ctx context.Context) (*oauth2.Token, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, p, err := f.parts()
	if err != nil {
		return nil, err
	}
	if len(p) == 0 {
		return nil, nil
	}
	var tok oauth2.Token
	if err := json.Unmarshal(p, &tok); err != nil {
		return nil, fmt.Errorf("couldn't decode stored token: %w", err)
	}
	return &tok, nil
}

// Store sets a new token. If the token file contains data that is not a valid
// token encrypted with the key passed to NewFileAt, Store returns an error.
func (f *FileStorage) Store(ctx context.Context, tok *oauth2.Token) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if tok == nil {
		if err := f.f.Truncate(0); err != nil {
			return fmt.Errorf("couldn't clear token: %w", err)
		}
		return nil
	}
	text, err := json.Marshal(tok)
	if err != nil {
		return fmt.Errorf("couldn't encode token: %w", err)
	}
	if len(text) > maxToken {
		return errors.New("token is too large to store")
	}
	b, _, err := f.parts()
	if err != nil {
		return err
	}
	if len(b) == 0 {
		// File is empty. We'll be initializing it.
		b = initialNonce(text, f.rand)
	}
	v := binary.LittleEndian.Uint64(b)
	v++
	binary.LittleEndian.PutUint64(b, v)
	r := f.enc.Seal(b, b, text, nil)
	// The new token may be shorter than the old one.
	if err := f.f.Truncate(0); err != nil {
		return fmt.Errorf("couldn't clear old token: %w", err)
	}
	if _, err := f.f.WriteAt(r, 0); err != nil {
		return fmt.Errorf("couldn't save token: %w", err)
	}
	return nil
}

func (f *FileStorage) parts() (nonce, ptxt []byte, err error) {
	b := make([]byte, totalOH+maxToken)
	n, err := f.f.ReadAt(b, 0)
	switch err {
	case nil, io.EOF:
		// Do nothing.
	default:
		return nil, nil, fmt.Errorf("couldn't read token file contents: %w", err)
	}
	b = b[:n]
	if len(b) == 0 {
		return nil, nil, nil
	}
	if len(b) < totalOH {
		return nil, nil, errors.New("stored data is too short")
	}
	nonce = b[:nonceSize:nonceSize]
	text := b[nonceSize:]
	ptxt, err = f.enc.Open(text[:0], nonce, text, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("couldn't decrypt token: %w", err)
	}
	return nonce, ptxt, nil
}

func initialNonce(text []byte, rand io.Reader) []byte {
	b := make([]byte, nonceSize, totalOH+len(text))
	pad := b[8:nonceSize]
	_, err := io.ReadFull(rand, pad)
	if err != nil {
		panic(fmt.Errorf("couldn't read nonce padding: %w", err))
	}
	return b
}

// NamespaceStorage is a Storage which keeps an encrypted token in a store
// namespace, so that each adapter's credentials stay with its own data.
type NamespaceStorage struct {
	ns   *store.Namespace
	enc  cipher.AEAD
	rand io.Reader
}

// tokenKey is the key under which a NamespaceStorage keeps its token.
const tokenKey = "oauth2.token"

// NewNamespaceStorage creates a Storage in a store namespace.
func NewNamespaceStorage(ns *store.Namespace, key [KeySize]byte) *NamespaceStorage {
	enc, err := chacha20poly1305.New(key[:])
	if err != nil {
		panic(err)
	}
	return &NamespaceStorage{ns: ns, enc: enc, rand: rand.Reader}
}

// Load decrypts the token. If there is no token, the result is nil with a nil
// error.
func (s *NamespaceStorage) Load(ctx context.Context) (*oauth2.Token, error) {
	b, err := s.ns.Get(ctx, tokenKey)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("couldn't load token: %w", err)
	}
	if len(b) < totalOH {
		return nil, errors.New("stored data is too short")
	}
	p, err := s.enc.Open(nil, b[:nonceSize], b[nonceSize:], []byte(s.ns.Name()))
	if err != nil {
		return nil, fmt.Errorf("couldn't decrypt token: %w", err)
	}
	var tok oauth2.Token
	if err := json.Unmarshal(p, &tok); err != nil {
		return nil, fmt.Errorf("couldn't decode stored token: %w", err)
	}
	return &tok, nil
}

// Store encrypts and saves a token, or removes it if tok is nil.
// Each token is sealed with a fresh random nonce bound to the namespace name.
func (s *NamespaceStorage) Store(ctx context.Context, tok *oauth2.Token) error {
	if tok == nil {
		if err := s.ns.Delete(ctx, tokenKey); err != nil {
			return fmt.Errorf("couldn't clear token: %w", err)
		}
		return nil
	}
	text, err := json.Marshal(tok)
	if err != nil {
		return fmt.Errorf("couldn't encode token: %w", err)
	}
	if len(text) > maxToken {
		return errors.New("token is too large to store")
	}
	b := make([]byte, nonceSize, totalOH+len(text))
	if _, err := io.ReadFull(s.rand, b); err != nil {
		return fmt.Errorf("couldn't read nonce: %w", err)
	}
	b = s.enc.Seal(b, b, text, []byte(s.ns.Name()))
	if err := s.ns.Set(ctx, tokenKey, b); err != nil {
		return fmt.Errorf("couldn't save token: %w", err)
	}
	return nil
}

// MemoryStorage is a Storage which keeps its token in memory.
type MemoryStorage struct {
	mu  sync.Mutex
	tok *oauth2.Token
}

func (s *MemoryStorage) Load(ctx context.Context) (*oauth2.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tok, nil
}

func (s *MemoryStorage) Store(ctx context.Context, tok *oauth2.Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tok = tok
	return nil
}
