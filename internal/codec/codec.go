// Package codec obfuscates turn text at rest with a passphrase.
//
// Tokens have the form base64(iv) ":" base64(ciphertext), AES-256-CBC with
// PKCS#7 padding and a key of SHA-256(passphrase). The format matches tokens
// written by earlier versions of the tool, so existing encrypted datasets
// still decrypt.
package codec

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	"github.com/hpungsan/convoset/internal/errors"
)

// Separator joins the IV and ciphertext parts of a token.
const Separator = ":"

// Encrypt encodes plainText with a fresh random IV.
func Encrypt(plainText, passphrase string) (string, error) {
	return encrypt(plainText, passphrase, rand.Reader)
}

func encrypt(plainText, passphrase string, entropy io.Reader) (string, error) {
	block, err := aes.NewCipher(deriveKey(passphrase))
	if err != nil {
		return "", errors.NewInternal(err)
	}

	iv := make([]byte, aes.BlockSize)
	if _, err := io.ReadFull(entropy, iv); err != nil {
		return "", errors.NewInternal(fmt.Errorf("generate iv: %w", err))
	}

	padded := pad([]byte(plainText), aes.BlockSize)
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, padded)

	return base64.StdEncoding.EncodeToString(iv) + Separator + base64.StdEncoding.EncodeToString(out), nil
}

// Decrypt reverses Encrypt. A malformed token or a wrong passphrase yields
// DECODE_ERROR.
func Decrypt(token, passphrase string) (string, error) {
	ivPart, cipherPart, ok := strings.Cut(token, Separator)
	if !ok {
		return "", errors.NewDecode("token is missing the iv separator")
	}
	iv, err := base64.StdEncoding.DecodeString(ivPart)
	if err != nil || len(iv) != aes.BlockSize {
		return "", errors.NewDecode("token has an invalid iv")
	}
	data, err := base64.StdEncoding.DecodeString(cipherPart)
	if err != nil {
		return "", errors.NewDecode("token ciphertext is not base64")
	}
	if len(data) == 0 || len(data)%aes.BlockSize != 0 {
		return "", errors.NewDecode("token ciphertext has an invalid length")
	}

	block, err := aes.NewCipher(deriveKey(passphrase))
	if err != nil {
		return "", errors.NewInternal(err)
	}
	out := make([]byte, len(data))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, data)

	plain, err := unpad(out, aes.BlockSize)
	if err != nil {
		return "", errors.NewDecode("wrong passphrase or corrupted token")
	}
	return string(plain), nil
}

// LooksEncrypted reports whether text has the shape of a token. It does not
// prove the text decrypts.
func LooksEncrypted(text string) bool {
	ivPart, cipherPart, ok := strings.Cut(text, Separator)
	if !ok || strings.Contains(cipherPart, Separator) {
		return false
	}
	iv, err := base64.StdEncoding.DecodeString(ivPart)
	if err != nil || len(iv) != aes.BlockSize {
		return false
	}
	data, err := base64.StdEncoding.DecodeString(cipherPart)
	return err == nil && len(data) > 0 && len(data)%aes.BlockSize == 0
}

func deriveKey(passphrase string) []byte {
	sum := sha256.Sum256([]byte(passphrase))
	return sum[:]
}

func pad(b []byte, size int) []byte {
	n := size - len(b)%size
	return append(append([]byte{}, b...), bytes.Repeat([]byte{byte(n)}, n)...)
}

func unpad(b []byte, size int) ([]byte, error) {
	if len(b) == 0 || len(b)%size != 0 {
		return nil, fmt.Errorf("invalid padded length %d", len(b))
	}
	n := int(b[len(b)-1])
	if n == 0 || n > size {
		return nil, fmt.Errorf("invalid padding")
	}
	for _, c := range b[len(b)-n:] {
		if int(c) != n {
			return nil, fmt.Errorf("invalid padding")
		}
	}
	return b[:len(b)-n], nil
}
