package identity

import (
	"fmt"

	blst "github.com/supranational/blst/bindings/go"
)

const (
	// BLSPublicKeySize is the size of a compressed BLS public key in bytes.
	BLSPublicKeySize = 48

	// BLSSignatureSize is the size of a compressed BLS signature in bytes.
	BLSSignatureSize = 96
)

// blsDST is the domain separation tag for BLS signatures.
var blsDST = []byte("BLS_SIG_BLS12381G2_XMD:SHA-256_SSWU_RO_NUL_")

// blsKeyPair holds a BLS private/public key pair.
type blsKeyPair struct {
	secret *blst.SecretKey // secret is the private key
	public *blst.P1Affine  // public is the public key
}

// blsKeyFromSeed creates a BLS key pair from a deterministic seed.
// The seed must be at least 32 bytes.
func blsKeyFromSeed(seed []byte) (*blsKeyPair, error) {
	if len(seed) < 32 {
		return nil, fmt.Errorf("seed must be at least 32 bytes")
	}

	secret := blst.KeyGen(seed)
	if secret == nil {
		return nil, fmt.Errorf("failed to generate BLS key")
	}

	return &blsKeyPair{
		secret: secret,
		public: new(blst.P1Affine).From(secret),
	}, nil
}

// sign creates a BLS signature over the message.
func (k *blsKeyPair) sign(message []byte) []byte {
	sig := new(blst.P2Affine).Sign(k.secret, message, blsDST)
	return sig.Compress()
}

// publicKeyBytes returns the compressed public key bytes.
func (k *blsKeyPair) publicKeyBytes() []byte {
	return k.public.Compress()
}

// verifyBLS checks a BLS signature against a message and public key.
func verifyBLS(signature, message, publicKey []byte) bool {
	if len(signature) != BLSSignatureSize || len(publicKey) != BLSPublicKeySize {
		return false
	}

	sig := new(blst.P2Affine).Uncompress(signature)
	if sig == nil {
		return false
	}

	pk := new(blst.P1Affine).Uncompress(publicKey)
	if pk == nil {
		return false
	}

	return sig.Verify(true, pk, true, message, blsDST)
}
