// Package roomcrypto implements the at-rest encryption for chat messages and
// notification content. Keys are derived deterministically from a master
// secret and a room (or user) identifier, so nothing is ever stored: the key
// is recomputed on every use. Live broadcast always carries plaintext; this
// layer protects persisted payloads only.
package roomcrypto

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"io"
	"sync"

	"golang.org/x/crypto/hkdf"
)

const KeySize = 32

var (
	randMu        sync.RWMutex
	randomnessSrc io.Reader = randReader{}
)

// randReader wraps crypto/rand.Reader but keeps the type unexported so tests
// can substitute deterministic sources.
type randReader struct{}

func (randReader) Read(p []byte) (int, error) {
	return rand.Read(p)
}

// UseDeterministicRandom swaps the randomness source for deterministic
// testing and returns a restore function that must be called when the test
// completes.
func UseDeterministicRandom(r io.Reader) func() {
	randMu.Lock()
	prev := randomnessSrc
	randomnessSrc = r
	randMu.Unlock()
	return func() {
		randMu.Lock()
		randomnessSrc = prev
		randMu.Unlock()
	}
}

func readRandom(b []byte) error {
	randMu.RLock()
	src := randomnessSrc
	randMu.RUnlock()
	_, err := io.ReadFull(src, b)
	return err
}

// DeriveRoomKey produces the 256-bit symmetric key for a room. HKDF-SHA256
// over the master secret with the room id as info keeps the derivation
// deterministic while binding each key to exactly one room.
func DeriveRoomKey(masterSecret []byte, roomID string) [KeySize]byte {
	var key [KeySize]byte
	kdf := hkdf.New(sha256.New, masterSecret, nil, []byte("room:"+roomID))
	// Reader is length-bounded well above 32 bytes; a failure here would
	// mean a broken hash implementation.
	if _, err := io.ReadFull(kdf, key[:]); err != nil {
		panic("roomcrypto: hkdf read failed: " + err.Error())
	}
	return key
}

// DeriveUserKey produces the key for per-user content such as encrypted
// notifications. Same construction as DeriveRoomKey under a distinct label.
func DeriveUserKey(masterSecret []byte, userID string) [KeySize]byte {
	var key [KeySize]byte
	kdf := hkdf.New(sha256.New, masterSecret, nil, []byte("user:"+userID))
	if _, err := io.ReadFull(kdf, key[:]); err != nil {
		panic("roomcrypto: hkdf read failed: " + err.Error())
	}
	return key
}

// Encrypt seals plaintext with AES-256-CBC under a fresh random IV and
// returns base64(IV || ciphertext), the persisted payload form.
func Encrypt(plaintext string, key [KeySize]byte) (string, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return "", err
	}
	iv := make([]byte, aes.BlockSize)
	if err := readRandom(iv); err != nil {
		return "", err
	}
	padded := pkcs7Pad([]byte(plaintext), aes.BlockSize)
	out := make([]byte, aes.BlockSize+len(padded))
	copy(out, iv)
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out[aes.BlockSize:], padded)
	return base64.StdEncoding.EncodeToString(out), nil
}

// Decrypt reverses Encrypt. Any malformed payload, wrong key, or corrupt
// padding yields ErrDecryptionFailed; callers skip the affected record
// rather than failing a batch read.
func Decrypt(payload string, key [KeySize]byte) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", ErrDecryptionFailed
	}
	if len(raw) < 2*aes.BlockSize || len(raw)%aes.BlockSize != 0 {
		return "", ErrDecryptionFailed
	}
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return "", err
	}
	iv, ct := raw[:aes.BlockSize], raw[aes.BlockSize:]
	plain := make([]byte, len(ct))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plain, ct)
	unpadded, ok := pkcs7Unpad(plain, aes.BlockSize)
	if !ok {
		return "", ErrDecryptionFailed
	}
	return string(unpadded), nil
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	pad := blockSize - len(data)%blockSize
	return append(data, bytes.Repeat([]byte{byte(pad)}, pad)...)
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, bool) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, false
	}
	pad := int(data[len(data)-1])
	if pad == 0 || pad > blockSize || pad > len(data) {
		return nil, false
	}
	for _, b := range data[len(data)-pad:] {
		if int(b) != pad {
			return nil, false
		}
	}
	return data[:len(data)-pad], true
}
