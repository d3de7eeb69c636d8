package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/go-jose/go-jose/v3"
	"github.com/spf13/cobra"
	"pospay.backend/pkg/payload"
)

func newVerifyCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify [payload]",
		Short: "Verify a scanned QR or NFC payload",
		Long: `Checks the signature and embedded expiry of a payload. The verification key is
read from --key-file or fetched from the backend. With --resolve the backend is
asked for the live state of the request.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			keyFile, _ := cmd.Flags().GetString("key-file")
			resolve, _ := cmd.Flags().GetBool("resolve")
			return a.runVerify(cmd.Context(), cmd.OutOrStdout(), args[0], keyFile, resolve)
		},
	}
	cmd.Flags().String("key-file", "", "Path to the signing key JWK")
	cmd.Flags().Bool("resolve", false, "Ask the backend for the live request status")
	return cmd
}

func (a *app) runVerify(ctx context.Context, out io.Writer, raw, keyFile string, resolve bool) error {
	jwk, err := a.verificationKey(ctx, keyFile)
	if err != nil {
		return err
	}
	verifier, err := payload.NewVerifier(jwk)
	if err != nil {
		return err
	}

	p, err := verifier.Decode(raw)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Signature valid (key %s)\n", jwk.KeyID)
	fmt.Fprintf(out, "Request %s from merchant %s", p.RequestID, p.MerchantID)
	if p.MerchantName != "" {
		fmt.Fprintf(out, " (%s)", p.MerchantName)
	}
	fmt.Fprintf(out, "\nAmount %s %s\n", p.Amount, p.Currency)

	if err := payload.CheckFresh(p, a.now()); err != nil {
		return fmt.Errorf("%w at %s", err, p.ExpiresAtTime().Format("2006-01-02 15:04:05 MST"))
	}

	if resolve {
		live, err := a.client().Resolve(ctx, raw)
		if err != nil {
			return fmt.Errorf("resolve request: %w", err)
		}
		fmt.Fprintf(out, "Status %s, %s %s\n", live.Status, live.Amount, live.Currency)
	}
	return nil
}

func (a *app) verificationKey(ctx context.Context, keyFile string) (jose.JSONWebKey, error) {
	if keyFile == "" {
		jwk, err := a.client().SigningKey(ctx)
		if err != nil {
			return jose.JSONWebKey{}, fmt.Errorf("fetch signing key: %w", err)
		}
		return jwk, nil
	}
	data, err := os.ReadFile(keyFile)
	if err != nil {
		return jose.JSONWebKey{}, err
	}
	return payload.ParseJWK(data)
}
