// Command webhooksign signs and sends MercadoPago-style payment notifications
// against a running payguard for manual testing.
package main

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/CedrosPay/payguard/internal/auth"
)

var Version = "dev"

type signFlags struct {
	secret    string
	dataID    string
	requestID string
	timestamp int64
}

func (f *signFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.secret, "secret", "s", os.Getenv("PAYGUARD_PROVIDER_WEBHOOK_SECRET"), "webhook signing secret")
	cmd.Flags().StringVarP(&f.dataID, "data-id", "d", "", "provider payment id carried in data.id")
	cmd.Flags().StringVarP(&f.requestID, "request-id", "r", "manual-test", "value for the X-Request-Id header")
	cmd.Flags().Int64Var(&f.timestamp, "ts", 0, "signature timestamp in unix seconds (default: now)")
	_ = cmd.MarkFlagRequired("data-id")
}

func (f *signFlags) header() (string, error) {
	if f.secret == "" {
		return "", fmt.Errorf("--secret or PAYGUARD_PROVIDER_WEBHOOK_SECRET is required")
	}
	ts := f.timestamp
	if ts == 0 {
		ts = time.Now().Unix()
	}
	stamp := strconv.FormatInt(ts, 10)
	return auth.FormatSignatureHeader(stamp, auth.Sign(f.secret, f.dataID, f.requestID, stamp)), nil
}

func main() {
	rootCmd := &cobra.Command{
		Use:     "webhooksign",
		Short:   "Sign and send test payment notifications",
		Version: Version,
	}

	rootCmd.AddCommand(signCmd())
	rootCmd.AddCommand(sendCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func signCmd() *cobra.Command {
	flags := &signFlags{}
	cmd := &cobra.Command{
		Use:   "sign",
		Short: "Print the X-Signature header for a notification",
		RunE: func(cmd *cobra.Command, args []string) error {
			header, err := flags.header()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n%s: %s\n",
				auth.HeaderSignature, header, auth.HeaderRequestID, flags.requestID)
			return nil
		},
	}
	flags.register(cmd)
	return cmd
}

func sendCmd() *cobra.Command {
	flags := &signFlags{}
	var (
		url    string
		forged bool
	)
	cmd := &cobra.Command{
		Use:   "send",
		Short: "POST a signed payment notification to a payguard webhook route",
		RunE: func(cmd *cobra.Command, args []string) error {
			header, err := flags.header()
			if err != nil {
				return err
			}
			if forged {
				header = auth.FormatSignatureHeader(strconv.FormatInt(time.Now().Unix(), 10), "00")
			}

			body := fmt.Sprintf(`{"type":"payment","action":"payment.updated","data":{"id":%q}}`, flags.dataID)
			req, err := http.NewRequestWithContext(cmd.Context(), http.MethodPost, url, bytes.NewBufferString(body))
			if err != nil {
				return err
			}
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set(auth.HeaderSignature, header)
			req.Header.Set(auth.HeaderRequestID, flags.requestID)

			client := &http.Client{Timeout: 15 * time.Second}
			resp, err := client.Do(req)
			if err != nil {
				return fmt.Errorf("send notification: %w", err)
			}
			defer resp.Body.Close()

			respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			fmt.Fprintf(cmd.OutOrStdout(), "%s\n%s\n", resp.Status, respBody)
			return nil
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVarP(&url, "url", "u", "http://localhost:8080/webhooks/mercadopago", "webhook endpoint")
	cmd.Flags().BoolVar(&forged, "forged", false, "send an invalid signature to exercise rejection")
	return cmd
}
