// internal/crypto/crypto.go
package crypto

import (
	"crypto"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"golang.org/x/crypto/sha3"

	"allnetd/internal/packet"
)

// -----------------------------------------------------------------------------
// Signature suites carried in the packet header:
// - rsa:       RSA-PSS over SHA3-256, PKIX/PKCS8 DER keys
// - ed25519:   plain ed25519 over the signed region
// - secp256k1: ECDSA over SHA3-256, compressed pubkey, DER signature
// -----------------------------------------------------------------------------

const RSABits = 2048

var ErrUnsupportedAlgo = errors.New("unsupported signature algorithm")

// -----------------------------------------------------------------------------
// SHA-3
// -----------------------------------------------------------------------------

func SHA3_256(msg []byte) []byte {
	sum := sha3.Sum256(msg)
	return sum[:]
}

// Fingerprint is the content digest used for duplicate detection.
func Fingerprint(data []byte) [32]byte {
	return sha3.Sum256(data)
}

// -----------------------------------------------------------------------------
// Sign / Verify by algorithm
// -----------------------------------------------------------------------------

func Verify(algo packet.SigAlgo, pub, msg, sig []byte) bool {
	if len(pub) == 0 || len(sig) == 0 {
		return false
	}
	switch algo {
	case packet.SigRSAPSS:
		return VerifyDigest(pub, SHA3_256(msg), sig)
	case packet.SigEd25519:
		if len(pub) != ed25519.PublicKeySize {
			return false
		}
		return ed25519.Verify(ed25519.PublicKey(pub), msg, sig)
	case packet.SigSecp256k1:
		key, err := btcec.ParsePubKey(pub)
		if err != nil {
			return false
		}
		parsed, err := ecdsa.ParseDERSignature(sig)
		if err != nil {
			return false
		}
		return parsed.Verify(SHA3_256(msg), key)
	default:
		return false
	}
}

func Sign(algo packet.SigAlgo, priv, msg []byte) ([]byte, error) {
	switch algo {
	case packet.SigRSAPSS:
		return SignDigest(priv, SHA3_256(msg))
	case packet.SigEd25519:
		if len(priv) != ed25519.PrivateKeySize {
			return nil, fmt.Errorf("bad ed25519 private key size: %d", len(priv))
		}
		return ed25519.Sign(ed25519.PrivateKey(priv), msg), nil
	case packet.SigSecp256k1:
		if len(priv) != btcec.PrivKeyBytesLen {
			return nil, fmt.Errorf("bad secp256k1 private key size: %d", len(priv))
		}
		key, _ := btcec.PrivKeyFromBytes(priv)
		return ecdsa.Sign(key, SHA3_256(msg)).Serialize(), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedAlgo, algo)
	}
}

// GenerateKey returns (pub, priv) encoded the way Verify and Sign expect.
func GenerateKey(algo packet.SigAlgo) ([]byte, []byte, error) {
	switch algo {
	case packet.SigRSAPSS:
		return GenKeypair()
	case packet.SigEd25519:
		pub, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, nil, err
		}
		return pub, priv, nil
	case packet.SigSecp256k1:
		priv, err := btcec.NewPrivateKey()
		if err != nil {
			return nil, nil, err
		}
		return priv.PubKey().SerializeCompressed(), priv.Serialize(), nil
	default:
		return nil, nil, fmt.Errorf("%w: %s", ErrUnsupportedAlgo, algo)
	}
}

// ParseAlgo maps a command line or contact book name to an algorithm.
func ParseAlgo(name string) (packet.SigAlgo, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "rsa", "rsa-pss":
		return packet.SigRSAPSS, nil
	case "ed25519":
		return packet.SigEd25519, nil
	case "secp256k1", "ecdsa":
		return packet.SigSecp256k1, nil
	default:
		return packet.SigNone, fmt.Errorf("%w: %q", ErrUnsupportedAlgo, name)
	}
}

// -----------------------------------------------------------------------------
// RSA-PSS
// -----------------------------------------------------------------------------

func GenKeypair() ([]byte, []byte, error) {
	priv, err := rsa.GenerateKey(rand.Reader, RSABits)
	if err != nil {
		return nil, nil, err
	}
	pubDER, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		return nil, nil, err
	}
	privDER, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return nil, nil, err
	}
	return pubDER, privDER, nil
}

func SignDigest(priv []byte, digest []byte) ([]byte, error) {
	if len(digest) != 32 {
		return nil, errors.New("bad digest size")
	}
	key, err := ParseRSAPrivateKey(priv)
	if err != nil {
		return nil, err
	}
	return rsa.SignPSS(rand.Reader, key, crypto.SHA3_256, digest, &rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthEqualsHash})
}

func VerifyDigest(pub []byte, digest []byte, sig []byte) bool {
	if len(digest) != 32 {
		return false
	}
	key, err := ParseRSAPublicKey(pub)
	if err != nil {
		return false
	}
	return rsa.VerifyPSS(key, crypto.SHA3_256, digest, sig, &rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthEqualsHash}) == nil
}

func ParseRSAPublicKey(pub []byte) (*rsa.PublicKey, error) {
	key, err := x509.ParsePKIXPublicKey(pub)
	if err != nil {
		return nil, err
	}
	rsaKey, ok := key.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("not rsa public key")
	}
	return rsaKey, nil
}

func ParseRSAPrivateKey(priv []byte) (*rsa.PrivateKey, error) {
	key, err := x509.ParsePKCS8PrivateKey(priv)
	if err != nil {
		return nil, err
	}
	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.New("not rsa private key")
	}
	return rsaKey, nil
}

// -----------------------------------------------------------------------------
// Key storage
// -----------------------------------------------------------------------------

func SaveKeypair(dir string, algo packet.SigAlgo, pub, priv []byte) error {
	if len(pub) == 0 || len(priv) == 0 {
		return errors.New("empty key")
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}
	prefix := algo.String()
	if err := os.WriteFile(filepath.Join(dir, prefix+".pub.hex"), []byte(hex.EncodeToString(pub)), 0600); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, prefix+".priv.hex"), []byte(hex.EncodeToString(priv)), 0600)
}

func LoadKeypair(dir string, algo packet.SigAlgo) ([]byte, []byte, error) {
	prefix := algo.String()
	pubHex, err := os.ReadFile(filepath.Join(dir, prefix+".pub.hex"))
	if err != nil {
		return nil, nil, err
	}
	privHex, err := os.ReadFile(filepath.Join(dir, prefix+".priv.hex"))
	if err != nil {
		return nil, nil, err
	}
	pub, err := hex.DecodeString(strings.TrimSpace(string(pubHex)))
	if err != nil {
		return nil, nil, fmt.Errorf("bad %s.pub.hex", prefix)
	}
	priv, err := hex.DecodeString(strings.TrimSpace(string(privHex)))
	if err != nil {
		return nil, nil, fmt.Errorf("bad %s.priv.hex", prefix)
	}
	return pub, priv, nil
}
