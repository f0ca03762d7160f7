// Command devtoken mints an author access token signed with JWT_SECRET.
// Production tokens come from the identity provider; this is for local
// testing against a dev server.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/iliyamo/esign-workflow/internal/utils"
)

func main() {
	_ = godotenv.Load()

	userID := flag.Uint64("user", 1, "author user id (sub claim)")
	email := flag.String("email", "", "email claim")
	role := flag.String("role", utils.RoleAuthor, "role claim")
	ttl := flag.Duration("ttl", time.Hour, "token lifetime")
	flag.Parse()

	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		log.Fatal("JWT_SECRET is not set")
	}
	tok, err := utils.NewAccessToken(secret, *userID, *role, *email, *ttl)
	if err != nil {
		log.Fatalf("sign token: %v", err)
	}
	fmt.Println(tok.Token)
}
