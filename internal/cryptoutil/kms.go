package cryptoutil

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"slices"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	kmstypes "github.com/aws/aws-sdk-go-v2/service/kms/types"

	"github.com/keithlinneman/linnemanlabs-profile/internal/xerrors"
)

// KMSClient is the subset of the KMS API the signer uses. *kms.Client
// satisfies it.
type KMSClient interface {
	Sign(ctx context.Context, params *kms.SignInput, optFns ...func(*kms.Options)) (*kms.SignOutput, error)
	GetPublicKey(ctx context.Context, params *kms.GetPublicKeyInput, optFns ...func(*kms.Options)) (*kms.GetPublicKeyOutput, error)
}

// DefaultSigningAlgorithm matches an ECC_NIST_P256 key.
const DefaultSigningAlgorithm = kmstypes.SigningAlgorithmSpecEcdsaSha256

// all of these sign a SHA-256 digest
var supportedAlgorithms = []kmstypes.SigningAlgorithmSpec{
	kmstypes.SigningAlgorithmSpecEcdsaSha256,
	kmstypes.SigningAlgorithmSpecRsassaPssSha256,
	kmstypes.SigningAlgorithmSpecRsassaPkcs1V15Sha256,
}

type KMSSigner struct {
	client KMSClient
	keyID  string
	alg    kmstypes.SigningAlgorithmSpec

	// cached public key for local verification
	mu     sync.RWMutex
	pubKey crypto.PublicKey
}

// NewKMSSigner returns a signer for keyID. An empty alg selects
// DefaultSigningAlgorithm.
func NewKMSSigner(client KMSClient, keyID, alg string) (*KMSSigner, error) {
	if keyID == "" {
		return nil, xerrors.New("kms key id is required")
	}
	spec := kmstypes.SigningAlgorithmSpec(alg)
	if alg == "" {
		spec = DefaultSigningAlgorithm
	}
	if !slices.Contains(supportedAlgorithms, spec) {
		return nil, xerrors.Newf("unsupported signing algorithm %q", alg)
	}
	return &KMSSigner{client: client, keyID: keyID, alg: spec}, nil
}

func (s *KMSSigner) KeyID() string     { return s.keyID }
func (s *KMSSigner) Algorithm() string { return string(s.alg) }

// Sign asks KMS to sign the SHA-256 digest of message.
func (s *KMSSigner) Sign(ctx context.Context, message []byte) ([]byte, error) {
	if s.client == nil {
		return nil, xerrors.New("kms client is not configured")
	}
	digest := sha256.Sum256(message)
	out, err := s.client.Sign(ctx, &kms.SignInput{
		KeyId:            aws.String(s.keyID),
		Message:          digest[:],
		MessageType:      kmstypes.MessageTypeDigest,
		SigningAlgorithm: s.alg,
	})
	if err != nil {
		return nil, xerrors.Wrapf(err, "kms sign with %s", s.keyID)
	}
	if len(out.Signature) == 0 {
		return nil, xerrors.Newf("kms sign with %s returned an empty signature", s.keyID)
	}
	return out.Signature, nil
}

// PublicKey fetches and caches the KMS public key. Only the first call hits
// the API.
func (s *KMSSigner) PublicKey(ctx context.Context) (crypto.PublicKey, error) {
	s.mu.RLock()
	if s.pubKey != nil {
		defer s.mu.RUnlock()
		return s.pubKey, nil
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pubKey != nil {
		return s.pubKey, nil
	}
	if s.client == nil {
		return nil, xerrors.New("kms client is not configured")
	}

	out, err := s.client.GetPublicKey(ctx, &kms.GetPublicKeyInput{
		KeyId: aws.String(s.keyID),
	})
	if err != nil {
		return nil, xerrors.Wrap(err, "kms get public key")
	}
	if out.KeyUsage != kmstypes.KeyUsageTypeSignVerify {
		return nil, xerrors.Newf("kms key %s has KeyUsage=%s, expected SIGN_VERIFY", s.keyID, out.KeyUsage)
	}
	pub, err := x509.ParsePKIXPublicKey(out.PublicKey)
	if err != nil {
		return nil, xerrors.Wrap(err, "parse kms public key DER")
	}

	s.pubKey = pub
	return s.pubKey, nil
}

// Verify checks signature over message locally with the cached public key.
func (s *KMSSigner) Verify(ctx context.Context, message, signature []byte) error {
	pub, err := s.PublicKey(ctx)
	if err != nil {
		return err
	}
	digest := sha256.Sum256(message)

	switch key := pub.(type) {
	case *ecdsa.PublicKey:
		if s.alg != kmstypes.SigningAlgorithmSpecEcdsaSha256 {
			return xerrors.Newf("ecdsa key cannot verify %s signatures", s.alg)
		}
		if !ecdsa.VerifyASN1(key, digest[:], signature) {
			return xerrors.Newf("ECDSA signature verification failed, curve: %s", key.Curve.Params().Name)
		}
		return nil
	case *rsa.PublicKey:
		switch s.alg {
		case kmstypes.SigningAlgorithmSpecRsassaPssSha256:
			if err := rsa.VerifyPSS(key, crypto.SHA256, digest[:], signature, nil); err != nil {
				return xerrors.Wrap(err, "RSA-PSS signature verification failed")
			}
			return nil
		case kmstypes.SigningAlgorithmSpecRsassaPkcs1V15Sha256:
			if err := rsa.VerifyPKCS1v15(key, crypto.SHA256, digest[:], signature); err != nil {
				return xerrors.Wrap(err, "RSA PKCS1v15 signature verification failed")
			}
			return nil
		default:
			return xerrors.Newf("rsa key cannot verify %s signatures", s.alg)
		}
	default:
		return xerrors.Newf("unsupported public key type: %T", pub)
	}
}
