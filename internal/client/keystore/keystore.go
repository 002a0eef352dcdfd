// Package keystore persists the client's RSA identity key pair. The
// private key never touches disk in the clear: it is sealed under an
// argon2id-derived key from the user's passphrase.
package keystore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"syscall"

	"golang.org/x/term"

	"github.com/hirewire/messaging/internal/common"
	"github.com/hirewire/messaging/internal/cryptox"
)

const saltSize = 16

// sealedKeyFile is the on-disk format of the sealed identity.
type sealedKeyFile struct {
	Salt       []byte `json:"salt"`
	Nonce      []byte `json:"nonce"`
	PrivateKey []byte `json:"privateKey"`
	PublicKey  []byte `json:"publicKey"`
}

// Generate creates a fresh key pair, seals the private key under the
// passphrase and writes the file with owner-only permissions. The public
// key PEM is returned for registration with the server.
func Generate(path string, passphrase []byte) ([]byte, error) {
	privPEM, pubPEM, err := cryptox.GenerateKeyPair()
	if err != nil {
		return nil, err
	}

	salt := common.GenerateRandByteArray(saltSize)
	masterKey := cryptox.DeriveMasterKey(passphrase, salt)

	sealed, nonce, err := cryptox.SealWithKey(privPEM, masterKey)
	if err != nil {
		return nil, err
	}

	blob, err := json.Marshal(&sealedKeyFile{
		Salt:       salt,
		Nonce:      nonce,
		PrivateKey: sealed,
		PublicKey:  pubPEM,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal key file: %w", err)
	}

	if err := os.WriteFile(path, blob, 0o600); err != nil {
		return nil, fmt.Errorf("write key file: %w", err)
	}

	return pubPEM, nil
}

// Open unseals the private key. A wrong passphrase surfaces as
// common.ErrCrypto from the authenticated decryption.
func Open(path string, passphrase []byte) (privPEM, pubPEM []byte, err error) {
	blob, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil, fmt.Errorf("%w: key file %s", common.ErrKeyNotFound, path)
		}
		return nil, nil, fmt.Errorf("read key file: %w", err)
	}

	var file sealedKeyFile
	if err := json.Unmarshal(blob, &file); err != nil {
		return nil, nil, fmt.Errorf("parse key file: %w", err)
	}

	masterKey := cryptox.DeriveMasterKey(passphrase, file.Salt)

	privPEM, err = cryptox.OpenWithKey(file.PrivateKey, file.Nonce, masterKey)
	if err != nil {
		return nil, nil, err
	}

	return privPEM, file.PublicKey, nil
}

// Exists reports whether a key file is already present.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// PromptPassphrase reads a passphrase from the terminal without echo.
func PromptPassphrase(_ context.Context, prompt string) ([]byte, error) {
	fmt.Print(prompt)
	defer fmt.Println()

	passphrase, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		return nil, fmt.Errorf("read passphrase: %w", err)
	}
	if len(passphrase) == 0 {
		return nil, fmt.Errorf("%w: empty passphrase", common.ErrValidation)
	}
	return passphrase, nil
}
