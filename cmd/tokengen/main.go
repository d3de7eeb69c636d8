package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"pospay.backend/internal/config"
	"pospay.backend/pkg/jwt"
)

type tokenGenDeps struct {
	loadEnv func() error
	loadCfg func() *config.Config
	out     io.Writer
}

func defaultTokenGenDeps() tokenGenDeps {
	return tokenGenDeps{
		loadEnv: func() error { return godotenv.Load() },
		loadCfg: config.Load,
		out:     os.Stdout,
	}
}

func parseUserID(userID string) (uuid.UUID, error) {
	if userID == "" {
		return uuid.New(), nil
	}
	return uuid.Parse(userID)
}

func validateRole(role string) error {
	switch role {
	case jwt.RoleMerchant, jwt.RolePayer:
		return nil
	default:
		return fmt.Errorf("invalid role: %s (allowed: %s, %s)", role, jwt.RoleMerchant, jwt.RolePayer)
	}
}

// runTokenGen issues a development identity token signed with JWT_SECRET.
func runTokenGen(args []string, deps tokenGenDeps) error {
	def := defaultTokenGenDeps()
	if deps.loadEnv == nil {
		deps.loadEnv = def.loadEnv
	}
	if deps.loadCfg == nil {
		deps.loadCfg = def.loadCfg
	}
	if deps.out == nil {
		deps.out = def.out
	}

	fs := flag.NewFlagSet("tokengen", flag.ContinueOnError)
	userIDFlag := fs.String("user-id", "", "user UUID (random when empty)")
	nameFlag := fs.String("name", "", "display name carried in the token")
	roleFlag := fs.String("role", jwt.RoleMerchant, "merchant or payer")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if err := validateRole(*roleFlag); err != nil {
		return err
	}
	userID, err := parseUserID(*userIDFlag)
	if err != nil {
		return fmt.Errorf("invalid --user-id: %w", err)
	}

	if err := deps.loadEnv(); err != nil {
		log.Println("No .env file found, using environment variables")
	}
	cfg := deps.loadCfg()

	token, err := jwt.NewJWTService(cfg.JWT.Secret, cfg.JWT.AccessExpiry).GenerateToken(userID, *nameFlag, *roleFlag)
	if err != nil {
		return fmt.Errorf("failed to sign token: %w", err)
	}

	_, _ = fmt.Fprintf(deps.out, "user_id=%s\n", userID)
	_, _ = fmt.Fprintf(deps.out, "role=%s\n", *roleFlag)
	_, _ = fmt.Fprintf(deps.out, "expires_in=%s\n", cfg.JWT.AccessExpiry)
	_, _ = fmt.Fprintf(deps.out, "POS_TOKEN=%s\n", token)
	return nil
}

func main() {
	if err := runTokenGen(os.Args[1:], defaultTokenGenDeps()); err != nil {
		log.Fatal(err)
	}
}
