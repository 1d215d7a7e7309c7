// Command erp-validator exercises the processing core from the shell:
// FHIR profile validation, CAdES-BES verification, and access-token
// checks against a given IDP key.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	erpcore "github.com/erp-fd/erp-processing-context"
	"github.com/erp-fd/erp-processing-context/accesstoken"
	"github.com/erp-fd/erp-processing-context/cades"
	"github.com/erp-fd/erp-processing-context/element"
	"github.com/erp-fd/erp-processing-context/repository"
	"github.com/erp-fd/erp-processing-context/tsl"
	"github.com/erp-fd/erp-processing-context/validator"
)

var log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Timestamp().Logger()

func main() {
	root := &cobra.Command{
		Use:           "erp-validator",
		Short:         "E-prescription core checks: FHIR profiles, CAdES-BES, access tokens",
		Version:       erpcore.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newValidateCmd(), newVerifyCMSCmd(), newVerifyTokenCmd())
	if err := root.Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

func newValidateCmd() *cobra.Command {
	var profileDir string
	var profiles []string
	cmd := &cobra.Command{
		Use:   "validate <document>",
		Short: "Validate a FHIR document (JSON or XML) against loaded profiles",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := repository.LoadDir(profileDir)
			if err != nil {
				return err
			}
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			var elem *element.Element
			if len(data) > 0 && data[0] == '<' {
				elem, err = element.ParseXML(repo, repo.DefaultView(), data)
			} else {
				elem, err = element.ParseJSON(repo, repo.DefaultView(), data)
			}
			if err != nil {
				return err
			}
			opts := validator.DefaultOptions()
			var results *validator.Results
			if len(profiles) > 0 {
				results, err = validator.ValidateWithProfiles(elem, elem.ResourceType(), profiles, opts)
			} else {
				results, err = validator.Validate(elem, elem.ResourceType(), opts)
			}
			if err != nil {
				return err
			}
			for _, finding := range results.Findings() {
				if finding.Severity >= erpcore.SeverityWarning {
					fmt.Println(finding.String())
				}
			}
			if !results.Valid() {
				return fmt.Errorf("validation failed: %s", results.Summary(erpcore.SeverityError))
			}
			log.Info().Msg("document is valid")
			return nil
		},
	}
	cmd.Flags().StringVar(&profileDir, "profile-dir", "profiles", "directory with StructureDefinition/CodeSystem/ValueSet JSON files")
	cmd.Flags().StringSliceVar(&profiles, "profile", nil, "profile URLs to validate against (default: meta.profile)")
	return cmd
}

func newVerifyCMSCmd() *cobra.Command {
	var trustedDir string
	var requireQESRole bool
	cmd := &cobra.Command{
		Use:   "verify-cms <base64-file>",
		Short: "Verify a CAdES-BES container and print its payload",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			doc, err := cades.Parse(string(data))
			if err != nil {
				return err
			}
			opts := cades.VerifyOptions{}
			if trustedDir != "" {
				anchors, err := tsl.DirectoryTrustedCerts(trustedDir)
				if err != nil {
					return err
				}
				opts.TrustedCerts = anchors
			}
			if requireQESRole {
				opts.ProfessionOIDs = tsl.QESPrescriptionRoles
			}
			if err := doc.Verify(opts); err != nil {
				return err
			}
			for _, signer := range doc.SignerCertificates() {
				log.Info().Str("subject", signer.Subject.String()).Msg("verified signer")
			}
			os.Stdout.Write(doc.Payload())
			return nil
		},
	}
	cmd.Flags().StringVar(&trustedDir, "trusted-cert-dir", "", "trust anchors for offline verification")
	cmd.Flags().BoolVar(&requireQESRole, "require-qes-role", false, "enforce the prescription profession OIDs")
	return cmd
}

func newVerifyTokenCmd() *cobra.Command {
	var keyFile, audURI string
	cmd := &cobra.Command{
		Use:   "verify-token <token-file>",
		Short: "Verify a BP256R1 access token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tokenData, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			keyData, err := os.ReadFile(keyFile)
			if err != nil {
				return err
			}
			pub, err := accesstoken.ParsePublicKey(keyData)
			if err != nil {
				return err
			}
			token, err := accesstoken.Verify(string(tokenData), pub, accesstoken.Config{AudURI: audURI})
			if err != nil {
				return err
			}
			log.Info().
				Str("professionOID", token.ProfessionOID()).
				Str("displayName", token.DisplayName()).
				Msg("token accepted")
			return nil
		},
	}
	cmd.Flags().StringVar(&keyFile, "idp-cert", "idp.pem", "IDP certificate carrying the BP-256 public key")
	cmd.Flags().StringVar(&audURI, "aud", "", "expected aud claim")
	return cmd
}
