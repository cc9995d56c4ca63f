// Command admintoken mints an admin bearer token for local development.
package main

import (
	"flag"
	"fmt"
	"log"

	"qrattendance/internal/auth"
	"qrattendance/internal/config"
)

func main() {
	adminID := flag.String("admin", "", "admin id to put in the token subject")
	ttl := flag.Duration("ttl", 0, "token lifetime (defaults to ADMIN_TOKEN_TTL)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if *adminID == "" {
		log.Fatal("-admin is required")
	}
	if *ttl <= 0 {
		*ttl = cfg.AdminTokenTTL
	}

	tok, err := auth.NewIssuer(cfg.JWTIssuer, cfg.JWTSigningKey).IssueAdmin(*adminID, *ttl)
	if err != nil {
		log.Fatalf("issue token: %v", err)
	}
	fmt.Println(tok.Value)
}
