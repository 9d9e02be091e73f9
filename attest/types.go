package attest

import (
	"encoding/base64"
	"fmt"
	"time"
)

// Proof is the raw COSE_Sign1 attestation returned by the enclave.
type Proof []byte

// Base64 encodes the proof for JSON transport.
func (p Proof) Base64() string {
	return base64.StdEncoding.EncodeToString(p)
}

// DecodeProof decodes a base64 proof.
func DecodeProof(s string) (Proof, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode proof: %w", err)
	}
	return Proof(b), nil
}

// PCRs represents the Platform Configuration Registers from AWS Nitro Enclaves
type PCRs struct {
	// PCR0: Hash of the Enclave Image File (EIF)
	ImageFileHash string `json:"0"`

	// PCR1: Hash of the Linux kernel and initial RAM data (initramfs)
	KernelHash string `json:"1"`

	// PCR2: Hash of user applications, excluding the boot ramfs
	ApplicationHash string `json:"2"`
}

// Document is the parsed attestation document.
type Document struct {
	ModuleID        string    `json:"module_id"`
	Timestamp       time.Time `json:"timestamp"`
	DigestAlgorithm string    `json:"digest"`
	PCRs            PCRs      `json:"pcrs"`

	// Certificate and CABundle are base64 DER.
	Certificate string   `json:"certificate"`
	CABundle    []string `json:"cabundle"`

	Nonce string `json:"nonce"`
}

// AttestedWinner is one ranked winner as embedded in the proof.
type AttestedWinner struct {
	Rank          int    `json:"rank"`
	ParticipantID string `json:"participant_id"`
	Amount        string `json:"amount"`
}

// WinnersUserData is the auction-specific payload embedded in the proof.
type WinnersUserData struct {
	AuctionID     string           `json:"auction_id"`
	DecidingRound int              `json:"deciding_round"`
	WinnersHash   string           `json:"winners_hash"`
	HashNonce     string           `json:"hash_nonce"`
	Winners       []AttestedWinner `json:"winners"`
	Timestamp     time.Time        `json:"timestamp"`
}

// Result collects the outcome of every verification step.
type Result struct {
	CertificateValid bool
	SignatureValid   bool
	WinnersValid     bool
	Details          []string
}

// IsValid returns true if all checks passed
func (r *Result) IsValid() bool {
	return r.CertificateValid && r.SignatureValid && r.WinnersValid
}
