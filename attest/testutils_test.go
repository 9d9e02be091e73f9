package attest

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"testing"
	"time"

	enclave "github.com/edgebitio/nitro-enclaves-sdk-go"
	"github.com/fxamacker/cbor/v2"
	"github.com/shopspring/decimal"
	"github.com/veraison/go-cose"

	"github.com/cloudx-io/liveauction/core"
)

// MockEnclaveHandle implements the Attest method for testing
type MockEnclaveHandle struct {
	AttestFunc func(options enclave.AttestationOptions) ([]byte, error)
}

func (m *MockEnclaveHandle) Attest(options enclave.AttestationOptions) ([]byte, error) {
	if m.AttestFunc != nil {
		return m.AttestFunc(options)
	}
	return nil, fmt.Errorf("mock not configured")
}

// testSigner is a self-signed P-384 identity standing in for the Nitro PKI.
type testSigner struct {
	key     *ecdsa.PrivateKey
	certDER []byte
	cert    *x509.Certificate
}

func newTestSigner(t *testing.T) *testSigner {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "test-enclave"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("create certificate: %v", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("parse certificate: %v", err)
	}
	return &testSigner{key: key, certDER: der, cert: cert}
}

func (s *testSigner) roots() *x509.CertPool {
	pool := x509.NewCertPool()
	pool.AddCert(s.cert)
	return pool
}

// CreateSigningEnclave returns a mock enclave producing properly signed
// COSE_Sign1 documents.
func CreateSigningEnclave(t *testing.T, s *testSigner) *MockEnclaveHandle {
	t.Helper()
	return &MockEnclaveHandle{
		AttestFunc: func(options enclave.AttestationOptions) ([]byte, error) {
			doc := map[string]any{
				"module_id": "test-enclave-12345",
				"digest":    "SHA384",
				"timestamp": uint64(time.Now().UnixMilli()),
				"pcrs": map[uint64][]byte{
					0: {0x3b, 0x4c},
					1: {0x4b, 0x4d},
					2: {0x2b, 0xdd},
				},
				"certificate": s.certDER,
				"cabundle":    [][]byte{},
				"public_key":  []byte{},
				"user_data":   options.UserData,
				"nonce":       options.Nonce,
			}
			payload, err := cbor.Marshal(doc)
			if err != nil {
				return nil, err
			}

			protected, err := cbor.Marshal(map[int]int{1: int(cose.AlgorithmES384)})
			if err != nil {
				return nil, err
			}
			toSign, err := sigStructure(protected, payload)
			if err != nil {
				return nil, err
			}
			signer, err := cose.NewSigner(cose.AlgorithmES384, s.key)
			if err != nil {
				return nil, err
			}
			signature, err := signer.Sign(rand.Reader, toSign)
			if err != nil {
				return nil, err
			}

			return cbor.Marshal([]any{protected, map[string]any{}, payload, signature})
		},
	}
}

func testRecord() core.WinnerRecord {
	at := time.Date(2026, 3, 14, 19, 0, 0, 0, time.UTC)
	return core.WinnerRecord{
		AuctionID:     "auction-1",
		DecidingRound: 4,
		CompletedAt:   at,
		ResolvedAt:    at,
		Entries: []core.WinnerEntry{
			{Rank: 1, ParticipantID: "p1", Amount: decimal.RequireFromString("420"), SubmittedAt: at.Add(-10 * time.Minute)},
			{Rank: 2, ParticipantID: "p2", Amount: decimal.RequireFromString("410.5"), SubmittedAt: at.Add(-9 * time.Minute)},
		},
	}
}
