// Command auditverify recomputes the hash chain of a breaker audit log.
//
// Usage:
//
//	go run ./cmd/auditverify <logfile>          # Verify a fresh chain segment
//	go run ./cmd/auditverify <logfile> <seed>   # Verify a continued chain
//
// Exits non-zero if any entry's recorded hash does not match the
// recomputed chain.
package main

import (
	"fmt"
	"log"
	"os"

	"github.com/mbd888/hazardbreaker/audit"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: auditverify <logfile> [seed-digest]")
		os.Exit(1)
	}

	f, err := os.Open(os.Args[1])
	if err != nil {
		log.Fatalf("Failed to open audit log: %v", err)
	}
	defer f.Close()

	seed := ""
	if len(os.Args) > 2 {
		seed = os.Args[2]
	}

	if err := audit.VerifyFrom(f, seed); err != nil {
		log.Fatalf("Chain verification failed: %v", err)
	}
	fmt.Println("Audit chain OK")
}
