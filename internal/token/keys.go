package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const keySize = 32

// kindKeys holds the independent secrets of one token kind.
type kindKeys struct {
	sign    []byte
	encrypt []byte
}

// keyring derives every working key from the master key with HKDF so that
// no two purposes or kinds share a secret.
type keyring struct {
	kinds       map[Kind]kindKeys
	fingerprint []byte
}

func newKeyring(master []byte) (*keyring, error) {
	kr := &keyring{kinds: make(map[Kind]kindKeys, len(Kinds))}

	for _, kind := range Kinds {
		var keys kindKeys
		var err error
		if keys.sign, err = derive(master, "lockbox/"+string(kind)+"/sign"); err != nil {
			return nil, err
		}
		if keys.encrypt, err = derive(master, "lockbox/"+string(kind)+"/encrypt"); err != nil {
			return nil, err
		}
		kr.kinds[kind] = keys
	}

	fp, err := derive(master, "lockbox/fingerprint")
	if err != nil {
		return nil, err
	}
	kr.fingerprint = fp

	return kr, nil
}

func derive(master []byte, info string) ([]byte, error) {
	out := make([]byte, keySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, master, nil, []byte(info)), out); err != nil {
		return nil, fmt.Errorf("derive %s key: %w", info, err)
	}
	return out, nil
}

// fingerprintOf binds a token to its subject. It is a soft integrity check on
// top of the signature.
func (kr *keyring) fingerprintOf(subject string) string {
	mac := hmac.New(sha256.New, kr.fingerprint)
	mac.Write([]byte(subject))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil)[:16])
}

func (kr *keyring) fingerprintMatches(subject, fingerprint string) bool {
	return hmac.Equal([]byte(kr.fingerprintOf(subject)), []byte(fingerprint))
}
