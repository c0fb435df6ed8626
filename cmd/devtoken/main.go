// Command devtoken mints a bearer token signed with JWT_SECRET for local use.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/congo-pay/backoffice/internal/config"
	"github.com/congo-pay/backoffice/internal/middleware"
)

func main() {
	subject := flag.String("sub", "ops-local", "token subject")
	role := flag.String("role", middleware.RoleOperator, "operator or customer")
	account := flag.String("account", "", "account id (customers only)")
	ttl := flag.Duration("ttl", time.Hour, "token lifetime")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	p := middleware.Principal{Subject: *subject, Role: *role}
	if *account != "" {
		id, err := uuid.Parse(*account)
		if err != nil {
			fmt.Fprintf(os.Stderr, "invalid account id: %v\n", err)
			os.Exit(1)
		}
		p.AccountID = id
	}
	tok, err := middleware.SignToken([]byte(cfg.JWTSecret), p, *ttl)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sign token: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(tok)
}
