package cryptoutil

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	kmstypes "github.com/aws/aws-sdk-go-v2/service/kms/types"
)

const testKeyID = "arn:aws:kms:us-east-2:000000000000:key/test-key-id"

// fakeKMS signs digests with a local private key the way KMS does.
type fakeKMS struct {
	priv      crypto.Signer
	usage     kmstypes.KeyUsageType
	signErr   error
	pubCalls  atomic.Int32
	signCalls atomic.Int32
	lastInput *kms.SignInput
}

func (f *fakeKMS) Sign(_ context.Context, in *kms.SignInput, _ ...func(*kms.Options)) (*kms.SignOutput, error) {
	f.signCalls.Add(1)
	f.lastInput = in
	if f.signErr != nil {
		return nil, f.signErr
	}
	var opts crypto.SignerOpts = crypto.SHA256
	if in.SigningAlgorithm == kmstypes.SigningAlgorithmSpecRsassaPssSha256 {
		opts = &rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthEqualsHash, Hash: crypto.SHA256}
	}
	sig, err := f.priv.Sign(rand.Reader, in.Message, opts)
	if err != nil {
		return nil, err
	}
	return &kms.SignOutput{Signature: sig, KeyId: in.KeyId, SigningAlgorithm: in.SigningAlgorithm}, nil
}

func (f *fakeKMS) GetPublicKey(_ context.Context, in *kms.GetPublicKeyInput, _ ...func(*kms.Options)) (*kms.GetPublicKeyOutput, error) {
	f.pubCalls.Add(1)
	der, err := x509.MarshalPKIXPublicKey(f.priv.Public())
	if err != nil {
		return nil, err
	}
	usage := f.usage
	if usage == "" {
		usage = kmstypes.KeyUsageTypeSignVerify
	}
	return &kms.GetPublicKeyOutput{KeyId: in.KeyId, PublicKey: der, KeyUsage: usage}, nil
}

func generateTestECKey(t *testing.T, curve elliptic.Curve) *ecdsa.PrivateKey {
	t.Helper()
	key, err := ecdsa.GenerateKey(curve, rand.Reader)
	if err != nil {
		t.Fatalf("generate ECDSA key: %v", err)
	}
	return key
}

func generateTestRSAKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate RSA key: %v", err)
	}
	return key
}

func newTestSigner(t *testing.T, client KMSClient, alg string) *KMSSigner {
	t.Helper()
	s, err := NewKMSSigner(client, testKeyID, alg)
	if err != nil {
		t.Fatalf("NewKMSSigner: %v", err)
	}
	return s
}

func TestNewKMSSigner_Validation(t *testing.T) {
	if _, err := NewKMSSigner(nil, "", ""); err == nil {
		t.Fatal("expected error for empty key id")
	}
	if _, err := NewKMSSigner(nil, testKeyID, "ECDSA_SHA_384"); err == nil {
		t.Fatal("expected error for unsupported algorithm")
	}
	s, err := NewKMSSigner(nil, testKeyID, "")
	if err != nil {
		t.Fatalf("default algorithm: %v", err)
	}
	if s.Algorithm() != string(DefaultSigningAlgorithm) || s.KeyID() != testKeyID {
		t.Fatalf("alg=%s key=%s", s.Algorithm(), s.KeyID())
	}
}

func TestSignVerify_RoundTrip(t *testing.T) {
	tests := []struct {
		name string
		key  func(*testing.T) crypto.Signer
		alg  string
	}{
		{"ecdsa p256", func(t *testing.T) crypto.Signer { return generateTestECKey(t, elliptic.P256()) }, "ECDSA_SHA_256"},
		{"rsa pss", func(t *testing.T) crypto.Signer { return generateTestRSAKey(t) }, "RSASSA_PSS_SHA_256"},
		{"rsa pkcs1v15", func(t *testing.T) crypto.Signer { return generateTestRSAKey(t) }, "RSASSA_PKCS1_V1_5_SHA_256"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &fakeKMS{priv: tt.key(t)}
			s := newTestSigner(t, f, tt.alg)
			msg := []byte(`{"version":1,"assets":[]}`)

			sig, err := s.Sign(context.Background(), msg)
			if err != nil {
				t.Fatalf("Sign: %v", err)
			}
			if err := s.Verify(context.Background(), msg, sig); err != nil {
				t.Fatalf("Verify: %v", err)
			}
			if err := s.Verify(context.Background(), []byte("tampered"), sig); err == nil {
				t.Fatal("expected verification failure for a different message")
			}
		})
	}
}

func TestSign_SendsDigest(t *testing.T) {
	f := &fakeKMS{priv: generateTestECKey(t, elliptic.P256())}
	s := newTestSigner(t, f, "")
	msg := []byte("manifest")
	if _, err := s.Sign(context.Background(), msg); err != nil {
		t.Fatal(err)
	}
	in := f.lastInput
	if in.MessageType != kmstypes.MessageTypeDigest {
		t.Fatalf("MessageType = %s, want DIGEST", in.MessageType)
	}
	if len(in.Message) != 32 {
		t.Fatalf("message length = %d, want 32 byte digest", len(in.Message))
	}
	if aws.ToString(in.KeyId) != testKeyID {
		t.Fatalf("KeyId = %s", aws.ToString(in.KeyId))
	}
}

func TestSign_Error(t *testing.T) {
	f := &fakeKMS{priv: generateTestECKey(t, elliptic.P256()), signErr: errors.New("AccessDeniedException")}
	_, err := newTestSigner(t, f, "").Sign(context.Background(), []byte("x"))
	if err == nil || !errors.Is(err, f.signErr) {
		t.Fatalf("err = %v", err)
	}
}

func TestSign_NilClient(t *testing.T) {
	s := newTestSigner(t, nil, "")
	if _, err := s.Sign(context.Background(), []byte("x")); err == nil {
		t.Fatal("expected error without a client")
	}
}

func TestPublicKey_Cached(t *testing.T) {
	f := &fakeKMS{priv: generateTestECKey(t, elliptic.P256())}
	s := newTestSigner(t, f, "")
	for i := 0; i < 3; i++ {
		if _, err := s.PublicKey(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
	if got := f.pubCalls.Load(); got != 1 {
		t.Fatalf("GetPublicKey called %d times, want 1", got)
	}
}

func TestPublicKey_WrongUsage(t *testing.T) {
	f := &fakeKMS{priv: generateTestRSAKey(t), usage: kmstypes.KeyUsageTypeEncryptDecrypt}
	if _, err := newTestSigner(t, f, "RSASSA_PSS_SHA_256").PublicKey(context.Background()); err == nil {
		t.Fatal("expected error for ENCRYPT_DECRYPT key")
	}
}

func TestPublicKey_NilClient(t *testing.T) {
	if _, err := newTestSigner(t, nil, "").PublicKey(context.Background()); err == nil {
		t.Fatal("expected error when client is nil and cache is empty")
	}
}

func TestVerify_AlgorithmKeyMismatch(t *testing.T) {
	// rsa algorithm configured against an ecdsa key
	f := &fakeKMS{priv: generateTestECKey(t, elliptic.P256())}
	s := newTestSigner(t, f, "RSASSA_PSS_SHA_256")
	if err := s.Verify(context.Background(), []byte("m"), []byte("sig")); err == nil {
		t.Fatal("expected mismatch error")
	}

	f = &fakeKMS{priv: generateTestRSAKey(t)}
	s = newTestSigner(t, f, "ECDSA_SHA_256")
	if err := s.Verify(context.Background(), []byte("m"), []byte("sig")); err == nil {
		t.Fatal("expected mismatch error")
	}
}

func TestSHA256Hex(t *testing.T) {
	// sha256("") is a well known vector
	want := "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
	if got := SHA256Hex(nil); got != want {
		t.Fatalf("SHA256Hex(nil) = %s", got)
	}
	if SHA256Hex([]byte("a")) == SHA256Hex([]byte("b")) {
		t.Fatal("different inputs hashed equal")
	}
}

func TestHashEqual(t *testing.T) {
	a := SHA256Hex([]byte("x"))
	if !HashEqual(a, a) {
		t.Fatal("equal hashes compared unequal")
	}
	if HashEqual(a, SHA256Hex([]byte("y"))) || HashEqual(a, "") || HashEqual(a, a[:10]) {
		t.Fatal("unequal hashes compared equal")
	}
}
