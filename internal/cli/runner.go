// Package cli implements the riskdesk command line client for riskdeskd.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/g960059/riskdesk/internal/api"
	"github.com/g960059/riskdesk/internal/appclient"
	"github.com/g960059/riskdesk/internal/config"
	"github.com/g960059/riskdesk/internal/model"
)

type Runner struct {
	client *appclient.Client
	custom bool
	out    io.Writer
	errOut io.Writer
}

// requestFailure marks errors that came back from the daemon, as opposed to
// usage mistakes.
type requestFailure struct{ err error }

func (e requestFailure) Error() string { return e.err.Error() }
func (e requestFailure) Unwrap() error { return e.err }

var errNotReady = errors.New("router is not ready")

func NewRunner(socketPath string, out, errOut io.Writer) *Runner {
	r := newRunner(appclient.New(socketPath), out, errOut)
	return r
}

func NewRunnerWithClient(baseURL string, client *http.Client, out, errOut io.Writer) *Runner {
	r := newRunner(appclient.NewWithClient(baseURL, client), out, errOut)
	r.custom = true
	return r
}

func newRunner(client *appclient.Client, out, errOut io.Writer) *Runner {
	if out == nil {
		out = os.Stdout
	}
	if errOut == nil {
		errOut = os.Stderr
	}
	return &Runner{client: client, out: out, errOut: errOut}
}

// Run executes args and returns the process exit code: 0 on success, 1 when
// the daemon reported a failure, 2 for usage errors.
func (r *Runner) Run(ctx context.Context, args []string) int {
	root := r.rootCommand()
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	if err == nil {
		return 0
	}
	_, _ = fmt.Fprintf(r.errOut, "error: %v\n", err)
	var rf requestFailure
	if errors.As(err, &rf) || errors.Is(err, errNotReady) {
		return 1
	}
	_, _ = fmt.Fprintln(r.errOut, root.UsageString())
	return 2
}

func (r *Runner) rootCommand() *cobra.Command {
	var socket string
	root := &cobra.Command{
		Use:           "riskdesk",
		Short:         "Control a running riskdeskd page shell",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			if cmd.Flags().Changed("socket") && !r.custom {
				r.client = appclient.New(socket)
			}
		},
	}
	root.SetOut(r.out)
	root.SetErr(r.errOut)
	root.PersistentFlags().StringVar(&socket, "socket", config.DefaultConfig().SocketPath, "riskdeskd unix socket path")

	root.AddCommand(
		r.statusCommand(),
		r.initCommand(),
		r.destroyCommand(),
		r.fallbackCommand(),
		r.navigateCommand(),
		r.retryCommand(),
		r.errorsCommand(),
		r.perfCommand(),
		r.documentCommand(),
		r.loginCommand(),
		r.logoutCommand(),
		r.sessionCommand(),
		r.depsCommand(),
	)
	return root
}

func (r *Runner) statusCommand() *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the lifecycle state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := r.client.Lifecycle(cmd.Context())
			if err != nil {
				return requestFailure{err}
			}
			if jsonOut {
				return r.printJSON(env)
			}
			r.printState(env.State)
			if env.Router != nil {
				_, _ = fmt.Fprintf(r.out, "router\t%s\t%d transitions\n", env.Router.Current, len(env.Router.History))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "output JSON")
	return cmd
}

func (r *Runner) initCommand() *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize the router, waiting for the attempt to settle",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			resp, err := r.client.Initialize(cmd.Context())
			if err != nil {
				return requestFailure{err}
			}
			if jsonOut {
				if err := r.printJSON(resp); err != nil {
					return err
				}
			} else {
				r.printState(resp.State)
			}
			if !resp.Ready {
				return errNotReady
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "output JSON")
	return cmd
}

func (r *Runner) destroyCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "destroy",
		Short: "Tear the router down and discard the session snapshot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := r.client.Destroy(cmd.Context())
			if err != nil {
				return requestFailure{err}
			}
			r.printState(env.State)
			return nil
		},
	}
}

func (r *Runner) fallbackCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "fallback",
		Short: "Switch navigation to direct section toggling",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := r.client.ActivateFallback(cmd.Context())
			if err != nil {
				return requestFailure{err}
			}
			r.printState(env.State)
			return nil
		},
	}
}

func (r *Runner) navigateCommand() *cobra.Command {
	var (
		skipLoad bool
		async    bool
		jsonOut  bool
	)
	cmd := &cobra.Command{
		Use:   "navigate <page>",
		Short: "Show a page",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := r.client.Navigate(cmd.Context(), api.NavigateRequest{
				Page:     strings.TrimSpace(args[0]),
				SkipLoad: skipLoad,
				Async:    async,
			})
			if err != nil {
				return requestFailure{err}
			}
			if jsonOut {
				return r.printJSON(resp)
			}
			r.printResult(resp.Result)
			return nil
		},
	}
	cmd.Flags().BoolVar(&skipLoad, "skip-load", false, "only switch the visible section")
	cmd.Flags().BoolVar(&async, "async", false, "return before the page data loads")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "output JSON")
	return cmd
}

func (r *Runner) retryCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "retry <page>",
		Short: "Run a page loader again",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := r.client.Retry(cmd.Context(), args[0])
			if err != nil {
				return requestFailure{err}
			}
			r.printResult(resp.Result)
			return nil
		},
	}
}

func (r *Runner) errorsCommand() *cobra.Command {
	var (
		window  time.Duration
		limit   int
		jsonOut bool
	)
	cmd := &cobra.Command{
		Use:   "errors",
		Short: "Show classified errors and statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if window <= 0 || limit <= 0 {
				return fmt.Errorf("--window and --limit must be positive")
			}
			env, err := r.client.Errors(cmd.Context(), window, limit)
			if err != nil {
				return requestFailure{err}
			}
			if jsonOut {
				return r.printJSON(env)
			}
			st := env.Statistics
			_, _ = fmt.Fprintf(r.out, "window\t%s\terrors\t%d\twarnings\t%d\n", env.Window, st.TotalErrors, st.TotalWarnings)
			for _, c := range model.Categories {
				_, _ = fmt.Fprintf(r.out, "%s\t%d\n", c, st.ErrorsByCategory[c])
			}
			for _, rec := range env.Recent {
				_, _ = fmt.Fprintf(r.out, "%s\t%s\t%s\t%s\n", rec.Timestamp.Format(time.RFC3339), rec.Category, rec.Severity, rec.Message)
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&window, "window", time.Hour, "statistics window")
	cmd.Flags().IntVar(&limit, "limit", 20, "number of recent errors")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "output JSON")
	return cmd
}

func (r *Runner) perfCommand() *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "perf",
		Short: "Show per-operation timing summaries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := r.client.Performance(cmd.Context())
			if err != nil {
				return requestFailure{err}
			}
			if jsonOut {
				return r.printJSON(env)
			}
			ops := make([]string, 0, len(env.Operations))
			for op := range env.Operations {
				ops = append(ops, op)
			}
			sort.Strings(ops)
			for _, op := range ops {
				s := env.Operations[op]
				_, _ = fmt.Fprintf(r.out, "%s\tcount=%d\tsuccess=%.2f%%\tavg=%.2fms\tmin=%.2fms\tmax=%.2fms\n",
					op, s.Count, s.SuccessRatePercent, s.AvgDurationMs, s.MinDurationMs, s.MaxDurationMs)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "output JSON")
	return cmd
}

func (r *Runner) documentCommand() *cobra.Command {
	var html bool
	cmd := &cobra.Command{
		Use:   "document",
		Short: "Print the current page document",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if html {
				out, err := r.client.DocumentHTML(cmd.Context())
				if err != nil {
					return requestFailure{err}
				}
				_, _ = fmt.Fprintln(r.out, out)
				return nil
			}
			env, err := r.client.Document(cmd.Context())
			if err != nil {
				return requestFailure{err}
			}
			return r.printJSON(env)
		},
	}
	cmd.Flags().BoolVar(&html, "html", false, "print rendered HTML instead of JSON")
	return cmd
}

func (r *Runner) loginCommand() *cobra.Command {
	var req api.LoginRequest
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign a user in to the shell",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if strings.TrimSpace(req.Token) == "" || strings.TrimSpace(req.UserID) == "" {
				return fmt.Errorf("--token and --user are required")
			}
			env, err := r.client.Login(cmd.Context(), req)
			if err != nil {
				return requestFailure{err}
			}
			r.printSession(env)
			return nil
		},
	}
	cmd.Flags().StringVar(&req.Token, "token", "", "backend bearer token")
	cmd.Flags().StringVar(&req.UserID, "user", "", "user id")
	cmd.Flags().StringVar(&req.Name, "name", "", "display name")
	cmd.Flags().StringVar(&req.Email, "email", "", "email address")
	cmd.Flags().StringSliceVar(&req.Roles, "role", nil, "role (repeatable)")
	return cmd
}

func (r *Runner) logoutCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign the current user out",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := r.client.Logout(cmd.Context())
			if err != nil {
				return requestFailure{err}
			}
			r.printSession(env)
			return nil
		},
	}
}

func (r *Runner) sessionCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Inspect or end the shell session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := r.client.Session(cmd.Context())
			if err != nil {
				return requestFailure{err}
			}
			r.printSession(env)
			return nil
		},
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "end",
		Short: "Sign out and wipe session storage, including the lifecycle snapshot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			resp, err := r.client.EndSession(cmd.Context())
			if err != nil {
				return requestFailure{err}
			}
			_, _ = fmt.Fprintf(r.out, "ended session %s (%d entries removed)\n", resp.SessionID, resp.Removed)
			return nil
		},
	})
	return cmd
}

func (r *Runner) depsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deps",
		Short: "List router dependencies",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := r.client.Dependencies(cmd.Context())
			if err != nil {
				return requestFailure{err}
			}
			r.printDeps(env)
			return nil
		},
	}
	change := func(use, short string, fn func(context.Context, string) (api.DependenciesEnvelope, error)) *cobra.Command {
		return &cobra.Command{
			Use:   use + " <name>",
			Short: short,
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				env, err := fn(cmd.Context(), args[0])
				if err != nil {
					return requestFailure{err}
				}
				r.printDeps(env)
				return nil
			},
		}
	}
	cmd.AddCommand(
		change("provide", "Register a built-in dependency", r.client.ProvideDependency),
		change("withdraw", "Remove a dependency", r.client.WithdrawDependency),
	)
	return cmd
}

func (r *Runner) printJSON(v any) error {
	enc := json.NewEncoder(r.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (r *Runner) printState(st model.LifecycleState) {
	_, _ = fmt.Fprintf(r.out, "status\t%s\n", st.Status)
	_, _ = fmt.Fprintf(r.out, "retries\t%d\n", st.RetryCount)
	_, _ = fmt.Fprintf(r.out, "fallback\t%t\n", st.FallbackActive)
	if st.InitializationTimeMs > 0 {
		_, _ = fmt.Fprintf(r.out, "init_ms\t%d\n", st.InitializationTimeMs)
	}
	if st.RestoredFromSnapshot {
		_, _ = fmt.Fprintln(r.out, "restored\ttrue")
	}
	if st.LastError != nil {
		_, _ = fmt.Fprintf(r.out, "last_error\t%s\t%s\t%s\n", st.LastError.Category, st.LastError.Severity, st.LastError.UserMessage)
	}
}

func (r *Runner) printResult(res api.NavigationResult) {
	if res.Ignored {
		_, _ = fmt.Fprintf(r.out, "ignored %s (unknown page)\n", res.Requested)
		return
	}
	state := "shown"
	switch {
	case res.LoadError != "":
		state = "load failed: " + res.LoadError
	case res.Loaded:
		state = "loaded"
	}
	line := fmt.Sprintf("%s\t%s\t%s", res.Page, res.Mode, state)
	if res.Redirected {
		line += "\t(redirected from " + res.Requested + ")"
	}
	_, _ = fmt.Fprintln(r.out, line)
}

func (r *Runner) printSession(env api.SessionEnvelope) {
	if !env.Authenticated || env.User == nil {
		_, _ = fmt.Fprintln(r.out, "signed out")
		return
	}
	_, _ = fmt.Fprintf(r.out, "signed in\t%s\t%s\t%s\n", env.User.ID, env.User.Name, strings.Join(env.User.Roles, ","))
}

func (r *Runner) printDeps(env api.DependenciesEnvelope) {
	missing := map[string]bool{}
	for _, name := range env.Missing {
		missing[name] = true
	}
	for _, name := range env.Required {
		state := "provided"
		if missing[name] {
			state = "missing"
		}
		_, _ = fmt.Fprintf(r.out, "%s\t%s\n", name, state)
	}
}
