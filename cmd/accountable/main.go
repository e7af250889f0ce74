package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/accountable/accountable-backend/internal/gateway"
	"github.com/accountable/accountable-backend/pkg/config"
	"github.com/accountable/accountable-backend/pkg/enums"
	"github.com/accountable/accountable-backend/pkg/logger"
)

// Version information (set via ldflags during build)
var (
	version = "dev"
	commit  = "none"
)

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand(os.Stdout).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// app holds what every subcommand shares. It is filled in by the root
// command's pre-run hook.
type app struct {
	out    io.Writer
	cfg    *config.ClientConfig
	logg   *logger.Logger
	client *gateway.Client
	store  *sessionStore
}

func newRootCommand(out io.Writer) *cobra.Command {
	a := &app{out: out}
	root := &cobra.Command{
		Use:           "accountable",
		Short:         "Command line client for the AccounTable API",
		Version:       fmt.Sprintf("%s (%s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init()
		},
	}
	root.SetOut(out)

	root.AddCommand(
		newSignUpCommand(a),
		newSignInCommand(a),
		newSignOutCommand(a),
		newWhoAmICommand(a),
		newPasswordCommand(a),
		newProfilesCommand(a),
		newPartnershipsCommand(a),
		newGoalsCommand(a),
		newMessagesCommand(a),
		newWatchCommand(a),
		newOpsCommand(a),
	)
	return root
}

func (a *app) init() error {
	cfg, err := config.LoadClient()
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logg = logger.New(logger.Options{
		ServiceName: "accountable-cli",
		Level:       logger.ParseLevel(cfg.LogLevel),
		Output:      os.Stderr,
		Format:      logger.FormatConsole,
	})
	a.store = newSessionStore(cfg.SessionFile)

	stored, err := a.store.Load()
	if err != nil {
		a.logg.Warn(context.Background(), "ignoring unreadable session file: "+err.Error())
		stored = nil
	}

	client, err := gateway.NewClient(cfg.APIURL,
		gateway.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}),
		gateway.WithLogger(a.logg),
		gateway.WithSession(stored),
	)
	if err != nil {
		return err
	}
	client.Auth().OnAuthStateChange(a.persist)
	a.client = client
	return nil
}

// persist mirrors every auth change into the session file so the next
// invocation starts from the same session.
func (a *app) persist(event enums.AuthEvent, session *gateway.Session) {
	ctx := a.logg.WithField(context.Background(), "auth_event", string(event))
	var err error
	if session == nil {
		err = a.store.Clear()
	} else {
		err = a.store.Save(session)
	}
	if err != nil {
		a.logg.Error(ctx, "persist session", err)
	}
}

func (a *app) printJSON(v any) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// render prints a successful result or returns its failure.
func render[T any](a *app, res gateway.Result[T]) error {
	value, err := res.Unwrap()
	if err != nil {
		return err
	}
	return a.printJSON(value)
}
