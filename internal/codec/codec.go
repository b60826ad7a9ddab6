// Package codec encodes license payloads into versioned, authenticated,
// encrypted artifacts and decodes them back, verifying every cryptographic
// layer before any plaintext is produced.
package codec

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"golang.org/x/crypto/scrypt"

	licenseErrors "seatlock/internal/errors"
)

const (
	// ArtifactVersion prefixes every artifact emitted by Encode.
	ArtifactVersion = "v2"

	nonceSize = 12 // 96-bit GCM nonce
	tagSize   = 32 // HMAC-SHA256 tag over nonce||ciphertext

	// scrypt parameters, OWASP recommended minimums for interactive use
	scryptN      = 32768
	scryptR      = 8
	scryptP      = 1
	scryptKeyLen = 32 // AES-256
)

// kdfSalt is fixed so the same secret always derives the same key. Artifact
// uniqueness comes from the per-call random nonce, not the salt.
var kdfSalt = []byte("seatlock-license-kdf-v2")

// Codec encrypts and authenticates license artifacts. The encryption key is
// derived once at construction; Encode and Decode are safe for concurrent use.
type Codec struct {
	encKey     []byte
	tagSecret  []byte
	signSecret []byte
}

// New derives the codec keys from the shared secret and signing secret.
// The same pair must be used by the issuing tool and the deployed install.
func New(secret, signingSecret string) (*Codec, error) {
	if secret == "" {
		return nil, fmt.Errorf("codec secret cannot be empty")
	}
	if signingSecret == "" {
		return nil, fmt.Errorf("codec signing secret cannot be empty")
	}

	encKey, err := scrypt.Key([]byte(secret), kdfSalt, scryptN, scryptR, scryptP, scryptKeyLen)
	if err != nil {
		return nil, fmt.Errorf("key derivation failed: %w", err)
	}

	// Tag and signature keys are domain-separated from the same secrets so a
	// leaked tag key never reveals the encryption key.
	tagSum := sha256.Sum256(append([]byte("seatlock-tag:"), []byte(secret)...))
	signSum := sha256.Sum256(append([]byte("seatlock-sign:"), []byte(signingSecret)...))

	return &Codec{
		encKey:     encKey,
		tagSecret:  tagSum[:],
		signSecret: signSum[:],
	}, nil
}

// Encode canonicalizes and encrypts the payload, emitting
// v2:<signature-hex>:<nonce-hex>|<tag-hex>|<ciphertext-hex>.
// A fresh random nonce is used on every call.
func (c *Codec) Encode(payload *Payload) (string, error) {
	if payload == nil {
		return "", fmt.Errorf("payload cannot be nil")
	}
	if err := payload.Validate(); err != nil {
		return "", licenseErrors.NewFormatError(err.Error())
	}

	if payload.Checksum == "" {
		payload.Checksum = payload.ComputeChecksum()
	}

	plaintext, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal payload: %w", err)
	}

	block, err := aes.NewCipher(c.encKey)
	if err != nil {
		return "", fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("failed to create GCM: %w", err)
	}

	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nil, nonce, plaintext, nil)

	tag := c.authTag(nonce, ciphertext)
	bundle := fmt.Sprintf("%s|%s|%s",
		hex.EncodeToString(nonce),
		hex.EncodeToString(tag),
		hex.EncodeToString(ciphertext),
	)

	signature := c.sign(bundle)

	return fmt.Sprintf("%s:%s:%s", ArtifactVersion, signature, bundle), nil
}

// Decode verifies and decrypts an artifact. The outer signature is checked
// first, then the authentication tag, and only then is the ciphertext
// decrypted. Any verification mismatch yields an AuthenticationError, never a
// silent pass. Malformed input yields a FormatError.
func (c *Codec) Decode(artifact string) (*Payload, error) {
	artifact = strings.TrimSpace(artifact)
	if artifact == "" {
		return nil, licenseErrors.NewFormatError("empty artifact")
	}

	if !strings.HasPrefix(artifact, ArtifactVersion+":") {
		// Unversioned artifacts fall back to the legacy base64 path.
		return DecodeLegacy(artifact)
	}

	version, signature, bundle, err := splitArtifact(artifact)
	if err != nil {
		return nil, err
	}
	if version != ArtifactVersion {
		return nil, licenseErrors.NewFormatError(fmt.Sprintf("unsupported artifact version %q", version))
	}

	expected := c.sign(bundle)
	if subtle.ConstantTimeCompare([]byte(signature), []byte(expected)) != 1 {
		return nil, &licenseErrors.AuthenticationError{Component: "signature"}
	}

	parts := strings.Split(bundle, "|")
	if len(parts) != 3 {
		return nil, licenseErrors.NewFormatError("artifact bundle must have nonce, tag and ciphertext")
	}

	nonce, err := hex.DecodeString(parts[0])
	if err != nil || len(nonce) != nonceSize {
		return nil, licenseErrors.NewFormatError("invalid nonce encoding")
	}
	tag, err := hex.DecodeString(parts[1])
	if err != nil || len(tag) != tagSize {
		return nil, licenseErrors.NewFormatError("invalid tag encoding")
	}
	ciphertext, err := hex.DecodeString(parts[2])
	if err != nil || len(ciphertext) == 0 {
		return nil, licenseErrors.NewFormatError("invalid ciphertext encoding")
	}

	if !hmac.Equal(tag, c.authTag(nonce, ciphertext)) {
		return nil, &licenseErrors.AuthenticationError{Component: "auth_tag"}
	}

	block, err := aes.NewCipher(c.encKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		// GCM carries its own tag; failure here means ciphertext corruption
		// that slipped past the outer layers.
		return nil, &licenseErrors.AuthenticationError{Component: "auth_tag"}
	}

	var payload Payload
	if err := json.Unmarshal(plaintext, &payload); err != nil {
		return nil, licenseErrors.NewFormatError("payload is not valid JSON")
	}
	if err := payload.Validate(); err != nil {
		return nil, licenseErrors.NewFormatError(err.Error())
	}

	payload.SecurityLevel = SecurityLevelAuthenticated
	return &payload, nil
}

// splitArtifact separates version, signature and bundle, tolerating the two
// delimiter conventions older issuers produced ("v2:sig:bundle" and
// "v2::sig::bundle").
func splitArtifact(artifact string) (version, signature, bundle string, err error) {
	if strings.Contains(artifact, "::") {
		parts := strings.SplitN(artifact, "::", 3)
		if len(parts) != 3 {
			return "", "", "", licenseErrors.NewFormatError("artifact must have version, signature and bundle sections")
		}
		return parts[0], parts[1], parts[2], nil
	}

	parts := strings.SplitN(artifact, ":", 3)
	if len(parts) != 3 {
		return "", "", "", licenseErrors.NewFormatError("artifact must have version, signature and bundle sections")
	}
	return parts[0], parts[1], parts[2], nil
}

// authTag computes the keyed hash over nonce||ciphertext.
func (c *Codec) authTag(nonce, ciphertext []byte) []byte {
	h := hmac.New(sha256.New, c.tagSecret)
	h.Write(nonce)
	h.Write(ciphertext)
	return h.Sum(nil)
}

// sign computes the outer signature over the encrypted bundle.
func (c *Codec) sign(bundle string) string {
	h := hmac.New(sha256.New, c.signSecret)
	h.Write([]byte(bundle))
	return hex.EncodeToString(h.Sum(nil))
}
