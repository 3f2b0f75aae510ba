package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/edgegate/edgegate/api"
	"github.com/edgegate/edgegate/internal/admission"
	"github.com/edgegate/edgegate/internal/config"
)

var (
	checkMethod  string
	checkPath    string
	checkClient  string
	checkBearer  string
	checkHeaders []string
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Dry-run one request through the admission pipeline",
	Long: `Check what verdict a request would receive without running the proxy.
Useful for testing and debugging shield signatures, quota scopes, and
route classification. Quota state starts empty, so the quota stage only
denies when a scope's first consume already exceeds capacity.`,
	Example: `  edgegate check -c config.yaml --path /api/interviews --bearer token123
  edgegate check -c config.yaml --method POST --path /api/cv/upload --header 'User-Agent: curl/8.5.0'`,
	RunE: runCheck,
}

func init() {
	checkCmd.Flags().StringVar(&checkMethod, "method", "GET", "HTTP method")
	checkCmd.Flags().StringVar(&checkPath, "path", "", "request path")
	checkCmd.Flags().StringVar(&checkClient, "client", "203.0.113.1", "client address")
	checkCmd.Flags().StringVar(&checkBearer, "bearer", "", "bearer credential")
	checkCmd.Flags().StringArrayVar(&checkHeaders, "header", nil, "request header, 'Name: value' (repeatable)")
	_ = checkCmd.MarkFlagRequired("path")
	rootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, args []string) error {
	if cfgFile == "" {
		return fmt.Errorf("--config/-c is required for check command")
	}
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	engine, err := buildEngine(cfg)
	if err != nil {
		return err
	}
	limiter, closeLimiter, err := buildLimiter(cfg)
	if err != nil {
		return err
	}
	defer closeLimiter()

	built, err := buildPipeline(cfg, engine, limiter)
	if err != nil {
		return err
	}

	req := api.CheckRequest{
		Method: checkMethod,
		Path:   checkPath,
		Client: checkClient,
		Bearer: checkBearer,
	}

	rc := admission.NewRequestContext(req.Method, req.Path, req.Client)
	rc.Bearer = req.Bearer
	for _, h := range checkHeaders {
		name, value, found := strings.Cut(h, ":")
		if !found {
			return fmt.Errorf("invalid header %q (expected 'Name: value')", h)
		}
		rc.Header.Set(strings.TrimSpace(name), strings.TrimSpace(value))
	}

	verdict, err := built.Pipeline.Evaluate(context.Background(), rc)
	if err != nil {
		return fmt.Errorf("evaluation error: %w", err)
	}

	out := api.CheckResponse{
		Outcome: verdict.Outcome,
		Stage:   verdict.Stage,
		Reason:  verdict.Reason,
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
