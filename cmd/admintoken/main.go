package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"

	"search-market-agent/internal/auth"
)

// Prints a bearer token for the /api/admin routes
func main() {
	subject := flag.String("subject", "operator", "token subject")
	ttl := flag.Duration("ttl", 24*time.Hour, "token lifetime")
	flag.Parse()

	_ = godotenv.Load()

	tokens, err := auth.NewTokenManager(os.Getenv("ADMIN_JWT_SECRET"))
	if err != nil {
		log.Fatalf("ADMIN_JWT_SECRET: %v", err)
	}

	token, err := tokens.GenerateToken(*subject, *ttl)
	if err != nil {
		log.Fatalf("Failed to generate token: %v", err)
	}
	fmt.Println(token)
}
