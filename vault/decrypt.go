package vault

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha1" // #nosec G505 – Chromium's cookie KDF is PBKDF2-HMAC-SHA1
	"fmt"
	"os/exec"
	"runtime"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

// Chromium's cookie encryption parameters, identical across the family:
// AES-128-CBC, IV of sixteen 0x20 bytes, PKCS#7 padding, key derived with
// PBKDF2-HMAC-SHA1 over the salt "saltysalt". Only the password source and
// iteration count differ per platform.
const (
	kdfSalt         = "saltysalt"
	kdfKeyLen       = 16
	kdfItersDarwin  = 1003
	kdfItersLinux   = 1
	linuxPassword   = "peanuts"
	versionPrefixLn = 3 // "v10" / "v11"
)

var cbcIV = bytes.Repeat([]byte{0x20}, aes.BlockSize)

// DeriveKey runs the cookie-store KDF for an explicit password and iteration
// count. Exposed so tests can derive deterministic keys.
func DeriveKey(password string, iterations int) []byte {
	return pbkdf2.Key([]byte(password), []byte(kdfSalt), iterations, kdfKeyLen, sha1.New)
}

// deriveStoreKey derives the platform key: the keychain password on macOS,
// the fixed "peanuts" password on Linux.
func deriveStoreKey() ([]byte, error) {
	switch runtime.GOOS {
	case "darwin":
		pw, err := keychainPassword()
		if err != nil {
			return nil, err
		}
		return DeriveKey(pw, kdfItersDarwin), nil
	default:
		return DeriveKey(linuxPassword, kdfItersLinux), nil
	}
}

// keychainPassword reads the "Chrome Safe Storage" generic password from the
// macOS keychain via security(1). Shelling out avoids cgo and triggers the
// same user consent prompt the browser itself would.
func keychainPassword() (string, error) {
	out, err := exec.Command("security", "find-generic-password",
		"-s", "Chrome Safe Storage", "-a", "Chrome", "-w").Output()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrKeyUnavailable, err)
	}
	return strings.TrimSpace(string(out)), nil
}

// DecryptValue decrypts a v10/v11 encrypted cookie value with the given key.
func DecryptValue(encrypted, key []byte) (string, error) {
	if len(encrypted) < versionPrefixLn {
		return "", fmt.Errorf("vault: encrypted value too short (%d bytes)", len(encrypted))
	}
	version := string(encrypted[:versionPrefixLn])
	if version != "v10" && version != "v11" {
		return "", fmt.Errorf("vault: unsupported encryption version %q", version)
	}
	ciphertext := encrypted[versionPrefixLn:]
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return "", fmt.Errorf("vault: ciphertext length %d not a multiple of the block size", len(ciphertext))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("vault: init cipher: %w", err)
	}
	plain := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, cbcIV).CryptBlocks(plain, ciphertext)

	plain, err = stripPKCS7(plain)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

// stripPKCS7 removes and validates PKCS#7 padding.
func stripPKCS7(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("vault: empty plaintext")
	}
	pad := int(data[len(data)-1])
	if pad == 0 || pad > aes.BlockSize || pad > len(data) {
		return nil, fmt.Errorf("vault: invalid padding length %d", pad)
	}
	for _, b := range data[len(data)-pad:] {
		if int(b) != pad {
			return nil, fmt.Errorf("vault: corrupt padding")
		}
	}
	return data[:len(data)-pad], nil
}

// plainValue resolves a row's usable value: plaintext rows are returned
// as-is, encrypted ones are decrypted with key. keyErr is the deferred error
// from key derivation, surfaced only when an encrypted row actually needs
// the key.
func (r cookieRow) plainValue(key []byte, keyErr error) (string, error) {
	if len(r.encryptedValue) == 0 {
		return r.value, nil
	}
	if keyErr != nil {
		return "", keyErr
	}
	return DecryptValue(r.encryptedValue, key)
}
