package attest

import (
	"crypto/ecdsa"
	"crypto/x509"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/veraison/go-cose"

	"github.com/cloudx-io/liveauction/core"
)

// awsNitroRootCA is the root certificate for AWS Nitro Enclaves
// Valid until 2049-10-28, P-384 self-signed certificate
// Source: https://docs.aws.amazon.com/enclaves/latest/user/verify-root.html
const awsNitroRootCA = `-----BEGIN CERTIFICATE-----
MIICETCCAZagAwIBAgIRAPkxdWgbkK/hHUbMtOTn+FYwCgYIKoZIzj0EAwMwSTEL
MAkGA1UEBhMCVVMxDzANBgNVBAoMBkFtYXpvbjEMMAoGA1UECwwDQVdTMRswGQYD
VQQDDBJhd3Mubml0cm8tZW5jbGF2ZXMwHhcNMTkxMDI4MTMyODA1WhcNNDkxMDI4
MTQyODA1WjBJMQswCQYDVQQGEwJVUzEPMA0GA1UECgwGQW1hem9uMQwwCgYDVQQL
DANBV1MxGzAZBgNVBAMMEmF3cy5uaXRyby1lbmNsYXZlczB2MBAGByqGSM49AgEG
BSuBBAAiA2IABPwCVOumCMHzaHDimtqQvkY4MpJzbolL//Zy2YlES1BR5TSksfbb
48C8WBoyt7F2Bw7eEtaaP+ohG2bnUs990d0JX28TcPQXCEPZ3BABIeTPYwEoCWZE
h8l5YoQwTcU/9KNCMEAwDwYDVR0TAQH/BAUwAwEB/zAdBgNVHQ4EFgQUkCW1DdkF
R+eWw5b6cp3PmanfS5YwDgYDVR0PAQH/BAQDAgGGMAoGCCqGSM49BAMDA2kAMGYC
MQCjfy+Rocm9Xue4YnwWmNJVA44fA0P5W2OpYow9OYCVRaEevL8uO1XYru5xtMPW
rfMCMQCi85sWBbJwKKXdS6BptQFuZbT73o/gBh1qUxl/nNr12UO8Yfwr6wPLb+6N
IwLz3/Y=
-----END CERTIFICATE-----`

// NitroRoots returns a pool holding the AWS Nitro root certificate.
func NitroRoots() (*x509.CertPool, error) {
	roots := x509.NewCertPool()
	if !roots.AppendCertsFromPEM([]byte(awsNitroRootCA)) {
		return nil, fmt.Errorf("failed to parse AWS Nitro root CA")
	}
	return roots, nil
}

func parseCertificate(certB64 string) (*x509.Certificate, error) {
	certDER, err := base64.StdEncoding.DecodeString(certB64)
	if err != nil {
		return nil, fmt.Errorf("decode certificate: %w", err)
	}
	cert, err := x509.ParseCertificate(certDER)
	if err != nil {
		return nil, fmt.Errorf("parse certificate: %w", err)
	}
	return cert, nil
}

// ValidateCertificateChain verifies the signing certificate against roots at
// the attestation time.
func ValidateCertificateChain(certB64 string, caBundleB64 []string, roots *x509.CertPool, at time.Time) error {
	cert, err := parseCertificate(certB64)
	if err != nil {
		return err
	}

	intermediates := x509.NewCertPool()
	for _, caB64 := range caBundleB64 {
		caCert, err := parseCertificate(caB64)
		if err != nil {
			return fmt.Errorf("CA bundle: %w", err)
		}
		intermediates.AddCert(caCert)
	}

	opts := x509.VerifyOptions{
		Roots:         roots,
		Intermediates: intermediates,
		CurrentTime:   at,
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
	}
	if _, err := cert.Verify(opts); err != nil {
		return fmt.Errorf("certificate chain validation failed: %w", err)
	}
	return nil
}

// VerifySignature checks the COSE_Sign1 signature with the certificate's
// key. Nitro signs with ES384.
func VerifySignature(proof Proof, certB64 string) error {
	cert, err := parseCertificate(certB64)
	if err != nil {
		return err
	}
	sign1, err := decodeCOSE(proof)
	if err != nil {
		return err
	}

	ecdsaKey, ok := cert.PublicKey.(*ecdsa.PublicKey)
	if !ok {
		return fmt.Errorf("certificate public key is not ECDSA")
	}

	// Sig_structure for COSE_Sign1: ["Signature1", protected, external_aad, payload]
	sigStructureBytes, err := sigStructure(sign1.protected, sign1.payload)
	if err != nil {
		return err
	}

	verifier, err := cose.NewVerifier(cose.AlgorithmES384, ecdsaKey)
	if err != nil {
		return fmt.Errorf("create verifier: %w", err)
	}
	if err := verifier.Verify(sigStructureBytes, sign1.signature); err != nil {
		return fmt.Errorf("COSE signature verification failed: %w", err)
	}
	return nil
}

func sigStructure(protected, payload []byte) ([]byte, error) {
	b, err := cbor.Marshal([]any{"Signature1", protected, []byte{}, payload})
	if err != nil {
		return nil, fmt.Errorf("marshal Sig_structure: %w", err)
	}
	return b, nil
}

// VerifyWinners validates the proof and checks that it attests exactly the
// given winner record. A nil roots pool means the AWS Nitro root.
//
// The returned error is reserved for inputs that cannot be checked at all;
// failed checks are reported in the Result.
func VerifyWinners(proof Proof, record core.WinnerRecord, roots *x509.CertPool) (*Result, error) {
	doc, userData, err := ParseProof(proof)
	if err != nil {
		return nil, fmt.Errorf("parse proof: %w", err)
	}
	if roots == nil {
		if roots, err = NitroRoots(); err != nil {
			return nil, err
		}
	}

	result := &Result{Details: []string{}}

	if doc.Certificate == "" {
		result.Details = append(result.Details, "Missing certificate")
	} else if err := ValidateCertificateChain(doc.Certificate, doc.CABundle, roots, doc.Timestamp); err != nil {
		result.Details = append(result.Details, fmt.Sprintf("Certificate chain validation failed: %v", err))
	} else {
		result.CertificateValid = true
		result.Details = append(result.Details, "Certificate chain verified")
	}

	if err := VerifySignature(proof, doc.Certificate); err != nil {
		result.Details = append(result.Details, fmt.Sprintf("COSE signature verification failed: %v", err))
	} else {
		result.SignatureValid = true
		result.Details = append(result.Details, "COSE signature verified")
	}

	result.WinnersValid = validateWinners(record, userData, result)
	return result, nil
}

func validateWinners(record core.WinnerRecord, userData WinnersUserData, result *Result) bool {
	if userData.AuctionID != record.AuctionID {
		result.Details = append(result.Details, fmt.Sprintf("Auction mismatch: expected %s, attestation has %s", record.AuctionID, userData.AuctionID))
		return false
	}
	if userData.HashNonce == "" {
		result.Details = append(result.Details, "Winners hash nonce missing from attestation")
		return false
	}

	computed := core.ComputeWinnersHash(record, userData.HashNonce)
	if computed != userData.WinnersHash {
		result.Details = append(result.Details, fmt.Sprintf("Winners hash mismatch: computed %s, attestation has %s", computed, userData.WinnersHash))
		return false
	}
	result.Details = append(result.Details, fmt.Sprintf("Winners hash validation passed: %s", computed))
	return true
}
