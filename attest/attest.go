// Package attest produces and verifies enclave attestations of resolved
// winner lists, so a participant can check that the published ranking is the
// one the engine computed.
package attest

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	enclave "github.com/edgebitio/nitro-enclaves-sdk-go"
	"github.com/google/logger"

	"github.com/cloudx-io/liveauction/core"
)

// Attester interface for dependency injection and testing
type Attester interface {
	Attest(options enclave.AttestationOptions) ([]byte, error)
}

// NitroAttester returns the NSM handle, or an error outside an enclave.
func NitroAttester() (Attester, error) {
	handle, err := enclave.GetOrInitializeHandle()
	if err != nil {
		return nil, fmt.Errorf("NSM not available: %w", err)
	}
	return handle, nil
}

func generateNonce() (string, error) {
	randomBytes := make([]byte, 32) // 256 bits of entropy
	if _, err := rand.Read(randomBytes); err != nil {
		return "", fmt.Errorf("entropy generation failed: %w", err)
	}
	return hex.EncodeToString(randomBytes), nil
}

// UserDataFor builds the payload attested for a winner record.
func UserDataFor(record core.WinnerRecord, hashNonce string, now time.Time) WinnersUserData {
	winners := make([]AttestedWinner, 0, len(record.Entries))
	for _, e := range record.Entries {
		winners = append(winners, AttestedWinner{
			Rank:          e.Rank,
			ParticipantID: e.ParticipantID,
			Amount:        e.Amount.StringFixed(2),
		})
	}
	return WinnersUserData{
		AuctionID:     record.AuctionID,
		DecidingRound: record.DecidingRound,
		WinnersHash:   core.ComputeWinnersHash(record, hashNonce),
		HashNonce:     hashNonce,
		Winners:       winners,
		Timestamp:     now,
	}
}

// AttestWinners asks the enclave to attest the winner record.
func AttestWinners(attester Attester, record core.WinnerRecord) (Proof, error) {
	if attester == nil {
		return nil, fmt.Errorf("enclave attester is nil")
	}

	hashNonce, err := generateNonce()
	if err != nil {
		return nil, fmt.Errorf("failed to generate winners hash nonce: %w", err)
	}
	userData := UserDataFor(record, hashNonce, time.Now())

	userDataBytes, err := json.Marshal(userData)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal user data: %w", err)
	}

	randomNonce, err := generateNonce()
	if err != nil {
		return nil, fmt.Errorf("failed to generate attestation nonce: %w", err)
	}

	attestationCBOR, err := attester.Attest(enclave.AttestationOptions{
		UserData: userDataBytes,
		Nonce:    []byte(randomNonce),
	})
	if err != nil {
		logger.Errorf("NSM attestation failed: %v", err)
		return nil, fmt.Errorf("NSM attestation failed: %w", err)
	}

	logger.Infof("Winners attestation generated for auction %s: %d bytes", record.AuctionID, len(attestationCBOR))
	return Proof(attestationCBOR), nil
}
