package attest

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// nitroDocument represents the raw CBOR structure from AWS Nitro Enclaves
type nitroDocument struct {
	ModuleID    string            `cbor:"module_id"`
	Digest      string            `cbor:"digest"`
	Timestamp   uint64            `cbor:"timestamp"`
	PCRs        map[uint64][]byte `cbor:"pcrs"`
	Certificate []byte            `cbor:"certificate"`
	CABundle    [][]byte          `cbor:"cabundle"`
	PublicKey   []byte            `cbor:"public_key"`
	UserData    []byte            `cbor:"user_data"`
	Nonce       []byte            `cbor:"nonce"`
}

// coseSign1 is the untagged 4-element COSE_Sign1 array:
// [protected, unprotected, payload, signature].
type coseSign1 struct {
	protected []byte
	payload   []byte
	signature []byte
}

func decodeCOSE(proof Proof) (coseSign1, error) {
	var coseArray []any
	if err := cbor.Unmarshal(proof, &coseArray); err != nil {
		return coseSign1{}, fmt.Errorf("parse COSE array: %w", err)
	}
	if len(coseArray) != 4 {
		return coseSign1{}, fmt.Errorf("invalid COSE_Sign1 structure: expected 4 elements, got %d", len(coseArray))
	}

	protected, ok := coseArray[0].([]byte)
	if !ok {
		return coseSign1{}, fmt.Errorf("invalid protected headers")
	}
	payload, ok := coseArray[2].([]byte)
	if !ok {
		return coseSign1{}, fmt.Errorf("invalid payload in COSE structure")
	}
	signature, ok := coseArray[3].([]byte)
	if !ok {
		return coseSign1{}, fmt.Errorf("invalid signature")
	}
	return coseSign1{protected: protected, payload: payload, signature: signature}, nil
}

func formatPCR(pcrData []byte) string {
	if len(pcrData) == 0 {
		return ""
	}
	return fmt.Sprintf("%x", pcrData)
}

// ParseProof extracts the attestation document and the winners payload.
func ParseProof(proof Proof) (Document, WinnersUserData, error) {
	sign1, err := decodeCOSE(proof)
	if err != nil {
		return Document{}, WinnersUserData{}, err
	}

	var raw nitroDocument
	if err := cbor.Unmarshal(sign1.payload, &raw); err != nil {
		return Document{}, WinnersUserData{}, fmt.Errorf("parse attestation document: %w", err)
	}

	bundle := make([]string, len(raw.CABundle))
	for i, cert := range raw.CABundle {
		bundle[i] = base64.StdEncoding.EncodeToString(cert)
	}

	doc := Document{
		ModuleID:        raw.ModuleID,
		Timestamp:       time.UnixMilli(int64(raw.Timestamp)).UTC(),
		DigestAlgorithm: raw.Digest,
		PCRs: PCRs{
			ImageFileHash:   formatPCR(raw.PCRs[0]),
			KernelHash:      formatPCR(raw.PCRs[1]),
			ApplicationHash: formatPCR(raw.PCRs[2]),
		},
		Certificate: base64.StdEncoding.EncodeToString(raw.Certificate),
		CABundle:    bundle,
		Nonce:       string(raw.Nonce),
	}

	if len(raw.UserData) == 0 {
		return doc, WinnersUserData{}, fmt.Errorf("attestation user data missing")
	}
	var userData WinnersUserData
	if err := json.Unmarshal(raw.UserData, &userData); err != nil {
		return doc, WinnersUserData{}, fmt.Errorf("parse user data: %w", err)
	}
	return doc, userData, nil
}
