// Package cryptox implements the hybrid message encryption used by the
// messaging core: payloads are encrypted with a fresh AES-256-CBC key,
// and the AES key is wrapped with the recipient's RSA public key using
// OAEP (SHA-256). The server only ever sees the resulting opaque blob.
package cryptox

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"strings"

	"github.com/hirewire/messaging/internal/common"
)

// Undisplayable is returned by Decrypt when a blob cannot be decrypted.
// Decryption failures surface as a broken-message placeholder, never as
// an error that could take down the conversation view.
const Undisplayable = "[unable to display]"

// segmentDelimiter joins the three base64 segments of a ciphertext blob:
// ciphertext | iv | wrapped AES key.
const segmentDelimiter = "|"

const aesKeySize = 32

// Encrypt produces a ciphertext blob only the holder of the matching
// private key can read. Returns common.ErrCrypto (wrapped) if the public
// key PEM is malformed.
func Encrypt(plaintext []byte, recipientPublicKeyPEM []byte) (string, error) {
	pub, err := ParsePublicKey(recipientPublicKeyPEM)
	if err != nil {
		return "", err
	}

	key := common.GenerateRandByteArray(aesKeySize)
	iv := common.GenerateRandByteArray(aes.BlockSize)

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("%w: %v", common.ErrCrypto, err)
	}

	padded := pkcs7Pad(plaintext, aes.BlockSize)
	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)

	wrappedKey, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, key, nil)
	if err != nil {
		return "", fmt.Errorf("%w: wrap key: %v", common.ErrCrypto, err)
	}

	segments := []string{
		base64.StdEncoding.EncodeToString(ciphertext),
		base64.StdEncoding.EncodeToString(iv),
		base64.StdEncoding.EncodeToString(wrappedKey),
	}
	return strings.Join(segments, segmentDelimiter), nil
}

// Decrypt reverses Encrypt. On any failure (corrupt blob, wrong key) it
// returns Undisplayable rather than an error.
func Decrypt(blob string, recipientPrivateKeyPEM []byte) string {
	priv, err := ParsePrivateKey(recipientPrivateKeyPEM)
	if err != nil {
		return Undisplayable
	}

	parts := strings.Split(blob, segmentDelimiter)
	if len(parts) != 3 {
		return Undisplayable
	}

	ciphertext, err := base64.StdEncoding.DecodeString(parts[0])
	if err != nil {
		return Undisplayable
	}
	iv, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil || len(iv) != aes.BlockSize {
		return Undisplayable
	}
	wrappedKey, err := base64.StdEncoding.DecodeString(parts[2])
	if err != nil {
		return Undisplayable
	}

	key, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, priv, wrappedKey, nil)
	if err != nil {
		return Undisplayable
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return Undisplayable
	}
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return Undisplayable
	}

	padded := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(padded, ciphertext)

	plaintext, err := pkcs7Unpad(padded, aes.BlockSize)
	if err != nil {
		return Undisplayable
	}
	return string(plaintext)
}

// GenerateKeyPair creates a 2048-bit RSA key pair, PEM-encoded.
func GenerateKeyPair() (privateKeyPEM, publicKeyPEM []byte, err error) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, nil, fmt.Errorf("generate key pair: %w", err)
	}

	privDER, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal private key: %w", err)
	}
	pubDER, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal public key: %w", err)
	}

	privateKeyPEM = pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privDER})
	publicKeyPEM = pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})
	return privateKeyPEM, publicKeyPEM, nil
}

// ParsePublicKey decodes a PEM-encoded RSA public key (PKIX or PKCS1).
func ParsePublicKey(pemBytes []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, fmt.Errorf("%w: no PEM block in public key", common.ErrCrypto)
	}

	if key, err := x509.ParsePKIXPublicKey(block.Bytes); err == nil {
		pub, ok := key.(*rsa.PublicKey)
		if !ok {
			return nil, fmt.Errorf("%w: not an RSA public key", common.ErrCrypto)
		}
		return pub, nil
	}

	pub, err := x509.ParsePKCS1PublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: parse public key: %v", common.ErrCrypto, err)
	}
	return pub, nil
}

// ParsePrivateKey decodes a PEM-encoded RSA private key (PKCS8 or PKCS1).
func ParsePrivateKey(pemBytes []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, fmt.Errorf("%w: no PEM block in private key", common.ErrCrypto)
	}

	if key, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		priv, ok := key.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("%w: not an RSA private key", common.ErrCrypto)
		}
		return priv, nil
	}

	priv, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: parse private key: %v", common.ErrCrypto, err)
	}
	return priv, nil
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padding := blockSize - len(data)%blockSize
	return append(data, bytes.Repeat([]byte{byte(padding)}, padding)...)
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, fmt.Errorf("%w: invalid padded length", common.ErrCrypto)
	}
	padding := int(data[len(data)-1])
	if padding == 0 || padding > blockSize {
		return nil, fmt.Errorf("%w: invalid padding", common.ErrCrypto)
	}
	for _, b := range data[len(data)-padding:] {
		if int(b) != padding {
			return nil, fmt.Errorf("%w: invalid padding", common.ErrCrypto)
		}
	}
	return data[:len(data)-padding], nil
}
