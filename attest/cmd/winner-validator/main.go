package main

import (
	"crypto/x509"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/cloudx-io/liveauction/attest"
	"github.com/cloudx-io/liveauction/core"
)

func main() {
	var (
		winnersInput = flag.String("winners", "", "Winner record JSON as served by GET /auctions/{id}/winners (file path or inline JSON)")
		proofInput   = flag.String("proof", "", "Base64 proof, overrides the proof embedded in the winner record")
		rootPEM      = flag.String("root", "", "PEM file with an alternate trusted root (development enclaves)")
		outputFormat = flag.String("format", "text", "Output format: text or json")
		help         = flag.Bool("help", false, "Show usage information")
	)

	flag.Parse()

	if *help {
		showUsage()
		os.Exit(0)
	}

	if *winnersInput == "" {
		showUsage()
		fmt.Fprintf(os.Stderr, "\nError: --winners is required\n")
		os.Exit(1)
	}

	data, err := readJSONInput(*winnersInput)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading winner record: %v\n", err)
		os.Exit(2)
	}

	var record core.WinnerRecord
	if err := json.Unmarshal(data, &record); err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing winner record: %v\n", err)
		os.Exit(2)
	}

	proof := attest.Proof(record.Proof)
	if *proofInput != "" {
		proof, err = attest.DecodeProof(strings.TrimSpace(*proofInput))
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error decoding proof: %v\n", err)
			os.Exit(2)
		}
	}
	if len(proof) == 0 {
		fmt.Fprintf(os.Stderr, "Error: winner record carries no proof and --proof was not given\n")
		os.Exit(2)
	}

	var roots *x509.CertPool
	if *rootPEM != "" {
		pemBytes, err := os.ReadFile(*rootPEM)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading root certificate: %v\n", err)
			os.Exit(2)
		}
		roots = x509.NewCertPool()
		if !roots.AppendCertsFromPEM(pemBytes) {
			fmt.Fprintf(os.Stderr, "Error: no certificate found in %s\n", *rootPEM)
			os.Exit(2)
		}
	}

	result, err := attest.VerifyWinners(proof, record, roots)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Validation error: %v\n", err)
		os.Exit(2)
	}

	if *outputFormat == "json" {
		outputJSON(result)
	} else {
		outputText(record, result)
	}

	if !result.IsValid() {
		os.Exit(1)
	}
	os.Exit(0)
}

func showUsage() {
	fmt.Println("Auction Winner Attestation Validator")
	fmt.Println()
	fmt.Println("Checks that a published winner list is the one attested by the auction enclave.")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  winner-validator --winners <json> [options]")
	fmt.Println()
	fmt.Println("Required Flags:")
	fmt.Println("  --winners <json>                  Winner record (file path or inline JSON)")
	fmt.Println()
	fmt.Println("Optional Flags:")
	fmt.Println("  --proof <base64>                  Proof to check instead of the embedded one")
	fmt.Println("  --root <pem file>                 Trust this root instead of the AWS Nitro root")
	fmt.Println("  --format <text|json>              Output format (default: text)")
	fmt.Println("  --help                            Show this help message")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  curl -s https://host/auctions/123/winners > winners.json")
	fmt.Println("  winner-validator --winners winners.json")
	fmt.Println()
	fmt.Println("Exit Codes:")
	fmt.Println("  0 - Validation passed")
	fmt.Println("  1 - Validation failed")
	fmt.Println("  2 - Invalid input or runtime error")
}

func readJSONInput(input string) ([]byte, error) {
	// Try reading as file first
	if data, err := os.ReadFile(input); err == nil {
		return data, nil
	}
	// Treat as inline JSON
	return []byte(input), nil
}

func outputText(record core.WinnerRecord, result *attest.Result) {
	fmt.Println("Auction Winner Attestation Validator")
	fmt.Println("====================================")
	fmt.Println()

	fmt.Printf("Auction:        %s\n", record.AuctionID)
	fmt.Printf("Deciding round: %d\n", record.DecidingRound)
	for _, e := range record.Entries {
		fmt.Printf("  #%d %s %s\n", e.Rank, e.ParticipantID, e.Amount.StringFixed(2))
	}

	fmt.Println()
	fmt.Println("Summary:")
	fmt.Printf("  Certificate Valid:       %v\n", result.CertificateValid)
	fmt.Printf("  Signature Valid:         %v\n", result.SignatureValid)
	fmt.Printf("  Winners Valid:           %v\n", result.WinnersValid)

	fmt.Println()
	fmt.Println("Details:")
	for _, detail := range result.Details {
		fmt.Printf("  - %s\n", detail)
	}

	fmt.Println()
	fmt.Println("====================================")
	if result.IsValid() {
		fmt.Println("VALIDATION: ✓ PASSED")
	} else {
		fmt.Println("VALIDATION: ✗ FAILED")
	}
}

func outputJSON(result *attest.Result) {
	output := map[string]any{
		"valid":             result.IsValid(),
		"certificate_valid": result.CertificateValid,
		"signature_valid":   result.SignatureValid,
		"winners_valid":     result.WinnersValid,
		"details":           result.Details,
	}

	data, err := json.MarshalIndent(output, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error marshaling JSON: %v\n", err)
		os.Exit(2)
	}
	fmt.Println(string(data))
}
