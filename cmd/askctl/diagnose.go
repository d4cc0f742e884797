package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"time"

	"github.com/ashureev/askdanta/internal/backend"
	"github.com/ashureev/askdanta/internal/config"
	"github.com/ashureev/askdanta/internal/research"
	"github.com/ashureev/askdanta/internal/shared"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

const diagnoseQuestion = "Diagnostic question: what is artificial intelligence?"

var (
	okColor   = color.New(color.FgGreen)
	failColor = color.New(color.FgRed)
	stepColor = color.New(color.FgCyan, color.Bold)
	hintColor = color.New(color.FgYellow)
)

type diagnoseOptions struct {
	BaseURL     string
	AccessToken string
	Timeout     time.Duration
	SkipSubmit  bool
}

var diagnoseOpts diagnoseOptions

var diagnoseCmd = &cobra.Command{
	Use:   "diagnose",
	Short: "Check that the research backend works end to end",
	Long: `Run five checks against the research backend:
  1. configuration
  2. TCP reachability
  3. access token exchange (/auth)
  4. research task creation (/research)
  5. task status query (/research/{id}/status)

Step 4 creates a real research task unless --skip-submit is given.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		opts := diagnoseOpts
		if opts.BaseURL == "" {
			opts.BaseURL = cfg.Backend.BaseURL
		}
		if opts.AccessToken == "" {
			opts.AccessToken = cfg.Backend.AccessToken
		}
		return runDiagnose(cmd.Context(), cmd.OutOrStdout(), opts)
	},
}

func init() {
	diagnoseCmd.Flags().StringVar(&diagnoseOpts.BaseURL, "url", "", "Backend URL (defaults to BACKEND_API_URL)")
	diagnoseCmd.Flags().StringVar(&diagnoseOpts.AccessToken, "token", "", "Access token (defaults to DANTA_ACCESS_TOKEN)")
	diagnoseCmd.Flags().DurationVar(&diagnoseOpts.Timeout, "timeout", 30*time.Second, "Timeout for each backend call")
	diagnoseCmd.Flags().BoolVar(&diagnoseOpts.SkipSubmit, "skip-submit", false, "Stop after authentication without creating a task")
	rootCmd.AddCommand(diagnoseCmd)
}

// errDiagnoseFailed is returned after a failed step has been reported.
var errDiagnoseFailed = errors.New("backend diagnosis failed")

func runDiagnose(ctx context.Context, out io.Writer, opts diagnoseOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	fail := func(format string, args ...any) error {
		failColor.Fprintf(out, "  ❌ "+format+"\n", args...)
		return errDiagnoseFailed
	}
	ok := func(format string, args ...any) {
		okColor.Fprintf(out, "  ✅ "+format+"\n", args...)
	}

	stepColor.Fprintln(out, "[1/5] Checking configuration...")
	fmt.Fprintf(out, "  Backend URL: %s\n", opts.BaseURL)
	fmt.Fprintf(out, "  Access token length: %d characters\n", len(opts.AccessToken))
	u, err := url.Parse(opts.BaseURL)
	if err != nil || u.Host == "" {
		return fail("backend URL is not absolute: %q", opts.BaseURL)
	}
	if opts.AccessToken == "" {
		return fail("no access token configured (set DANTA_ACCESS_TOKEN or pass --token)")
	}
	ok("configuration looks complete")
	fmt.Fprintln(out)

	stepColor.Fprintln(out, "[2/5] Testing network reachability...")
	addr := hostPort(u)
	conn, err := (&net.Dialer{Timeout: 2 * time.Second}).DialContext(ctx, "tcp", addr)
	if err != nil {
		hintColor.Fprintln(out, "  Check that the backend service is running.")
		if config.IsContainer() && isLoopback(u.Hostname()) {
			hintColor.Fprintln(out, "  Running in a container: localhost is the container itself, use the backend service name.")
		}
		return fail("cannot connect to %s: %v", addr, err)
	}
	_ = conn.Close()
	ok("connected to %s", addr)
	fmt.Fprintln(out)

	client := backend.NewClient(opts.BaseURL, backend.Timeouts{
		Auth: opts.Timeout, Submit: opts.Timeout, Read: opts.Timeout,
	}, nil)

	stepColor.Fprintln(out, "[3/5] Testing authentication...")
	auth, err := client.Authenticate(ctx, opts.AccessToken)
	if err != nil {
		if code := backend.StatusCodeOf(err); code != 0 {
			fmt.Fprintf(out, "  Status code: %d\n", code)
		}
		return fail("authentication failed: %v", err)
	}
	ok("authenticated")
	fmt.Fprintf(out, "  Backend user ID: %s\n", auth.UserID)
	fmt.Fprintf(out, "  Bearer token: %s\n", shared.Truncate(auth.BearerToken, 20))
	fmt.Fprintln(out)

	if opts.SkipSubmit {
		hintColor.Fprintln(out, "Skipping task creation and status checks (--skip-submit).")
		return nil
	}

	stepColor.Fprintln(out, "[4/5] Testing research task creation...")
	taskID, err := client.Submit(ctx, auth.BearerToken, backend.SubmitRequest{Question: diagnoseQuestion})
	if err != nil {
		var se *backend.StatusError
		if errors.As(err, &se) && se.StatusCode >= 500 {
			fmt.Fprintf(out, "  Status code: %d\n  Response: %s\n", se.StatusCode, se.Body)
			hintColor.Fprintln(out, "  Possible causes: a backend bug, a failed database connection,")
			hintColor.Fprintln(out, "  a dependency that is not running, or a misconfigured backend .env.")
			hintColor.Fprintln(out, "  Check the backend logs first.")
		}
		return fail("task creation failed: %v", err)
	}
	ok("task created")
	fmt.Fprintf(out, "  Task ID: %s\n", taskID)
	fmt.Fprintln(out)

	stepColor.Fprintln(out, "[5/5] Testing task status query...")
	status, err := client.Status(ctx, auth.BearerToken, taskID)
	if err != nil {
		return fail("status query failed: %v", err)
	}
	ok("status retrieved")
	fmt.Fprintf(out, "  Status: %s\n", status.Status)
	fmt.Fprintf(out, "  State: %s\n", research.DisplayState(status.AbstractState))
	fmt.Fprintln(out)

	okColor.Fprintln(out, "All checks passed.")
	return nil
}

func hostPort(u *url.URL) string {
	if u.Port() != "" {
		return u.Host
	}
	if u.Scheme == "https" {
		return net.JoinHostPort(u.Hostname(), "443")
	}
	return net.JoinHostPort(u.Hostname(), "80")
}

func isLoopback(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
