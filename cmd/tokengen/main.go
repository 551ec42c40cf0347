// Package main mints an HS256 bearer token accepted by the relay when
// auth.jwt is enabled. The signing secret is read from JWT_SECRET.
//
//	JWT_SECRET=... go run ./cmd/tokengen -iss https://auth.example.com -aud order-relay -scope orders:read
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func main() {
	sub := flag.String("sub", "order-lookup-client", "token subject")
	iss := flag.String("iss", "", "issuer; must match auth.jwt.issuer")
	aud := flag.String("aud", "", "audience; must match auth.jwt.audience")
	scope := flag.String("scope", "", "space-separated scopes")
	ttl := flag.Duration("ttl", time.Hour, "token lifetime")
	flag.Parse()

	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		fmt.Fprintln(os.Stderr, "error: JWT_SECRET is not set")
		os.Exit(2)
	}
	if *iss == "" || *aud == "" {
		fmt.Fprintln(os.Stderr, "error: -iss and -aud are required")
		os.Exit(2)
	}

	now := time.Now()
	claims := jwt.MapClaims{
		"sub": *sub,
		"iss": *iss,
		"aud": *aud,
		"iat": now.Unix(),
		"exp": now.Add(*ttl).Unix(),
	}
	if *scope != "" {
		claims["scope"] = *scope
	}

	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Print(s)
}
