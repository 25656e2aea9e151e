package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/fanex-id/integrations/internal/tracing"
	"github.com/fanex-id/integrations/pkg/integration"
	"github.com/fanex-id/integrations/pkg/services"
)

var (
	callData    string
	callTimeout time.Duration
)

// ErrCallFailed is returned after printing an unsuccessful response.
var ErrCallFailed = errors.New("service call failed")

var callCmd = &cobra.Command{
	Use:   "call <domain> <service>",
	Short: "Invoke one service locally",
	Long: `Set up one integration from the config file and invoke a service on it,
printing the response envelope as JSON. The request is given with --data as
JSON, @file to read a file, or - to read stdin.`,
	Example: `  fanex call slack send_message --data '{"message":"deploy finished"}'
  fanex call ai_assistant analyze_logs --data @logs.json`,
	Args: cobra.ExactArgs(2),
	RunE: runCall,
}

func init() {
	callCmd.Flags().StringVarP(&callData, "data", "d", "", "request body as JSON, @file or -")
	callCmd.Flags().DurationVar(&callTimeout, "timeout", 60*time.Second, "setup and call timeout")
	rootCmd.AddCommand(callCmd)
}

func runCall(cmd *cobra.Command, args []string) error {
	domain, service := args[0], args[1]

	req, err := readRequest(callData, cmd.InOrStdin())
	if err != nil {
		return err
	}

	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	log := toolLogger(cfg, cmd.ErrOrStderr())

	host, closeHost, err := newLocalHost(cfg, log, []string{domain})
	if err != nil {
		return err
	}
	defer closeHost()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(tracing.NewRequestContext(ctx), callTimeout)
	defer cancel()

	setupConfigured(ctx, host, []string{domain})
	if d, _ := host.Get(domain); d.State != integration.StateReady {
		if d.Error != "" {
			return fmt.Errorf("%s setup failed: %s", domain, d.Error)
		}
		return fmt.Errorf("%s is not ready (%s)", domain, d.State)
	}

	resp := host.Registry().Invoke(ctx, domain, service, req)

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(resp); err != nil {
		return err
	}
	if !resp.Success() {
		return ErrCallFailed
	}
	return nil
}

func readRequest(data string, stdin io.Reader) (services.Request, error) {
	var raw []byte
	switch {
	case data == "":
		return services.Request{}, nil
	case data == "-":
		b, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("failed to read stdin: %w", err)
		}
		raw = b
	case strings.HasPrefix(data, "@"):
		b, err := os.ReadFile(strings.TrimPrefix(data, "@"))
		if err != nil {
			return nil, fmt.Errorf("failed to read request file: %w", err)
		}
		raw = b
	default:
		raw = []byte(data)
	}

	req := services.Request{}
	if len(strings.TrimSpace(string(raw))) == 0 {
		return req, nil
	}
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, fmt.Errorf("invalid request JSON: %w", err)
	}
	return req, nil
}
