package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"pospay.backend/pkg/crypto"
	"pospay.backend/pkg/payload"
)

var generateSecretFn = crypto.GenerateSigningSecret

func validateInputs(keyID string) error {
	if keyID == "" {
		return fmt.Errorf("invalid key-id: must not be empty")
	}
	return nil
}

// runKeygen prints a payload signing secret and the public JWK derived from it.
// With -secret the existing secret is reused, so the JWK can be re-published.
func runKeygen(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("keygen", flag.ContinueOnError)
	keyID := fs.String("key-id", "pos-1", "signing key id published as the JWK kid")
	secretHex := fs.String("secret", "", "existing hex secret to derive from (optional)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := validateInputs(*keyID); err != nil {
		return err
	}

	if *secretHex == "" {
		generated, err := generateSecretFn()
		if err != nil {
			return fmt.Errorf("failed to generate signing secret: %w", err)
		}
		*secretHex = generated
	}

	secret, err := crypto.DecodeSecretHex(*secretHex)
	if err != nil {
		return err
	}
	priv, err := crypto.DeriveSigningKey(secret, *keyID)
	if err != nil {
		return err
	}
	codec, err := payload.NewCodec(priv, *keyID)
	if err != nil {
		return err
	}
	jwk, err := codec.PublicJWK()
	if err != nil {
		return err
	}
	jwkJSON, err := json.Marshal(jwk)
	if err != nil {
		return fmt.Errorf("failed to encode jwk: %w", err)
	}

	_, _ = fmt.Fprintln(out, "Generated payload signing key")
	_, _ = fmt.Fprintf(out, "POS_SIGNING_SECRET=%s\n", *secretHex)
	_, _ = fmt.Fprintf(out, "POS_SIGNING_KEY_ID=%s\n", *keyID)
	_, _ = fmt.Fprintf(out, "PUBLIC_JWK=%s\n", jwkJSON)
	return nil
}

func main() {
	if err := runKeygen(os.Args[1:], os.Stdout); err != nil {
		log.Fatal(err)
	}
}
