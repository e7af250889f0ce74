package main

import (
	"errors"
	"os"

	"github.com/spf13/cobra"

	"github.com/accountable/accountable-backend/internal/auth"
	"github.com/accountable/accountable-backend/internal/session"
)

const passwordEnv = "ACCOUNTABLE_PASSWORD"

func passwordFrom(flag string) (string, error) {
	if flag != "" {
		return flag, nil
	}
	if env := os.Getenv(passwordEnv); env != "" {
		return env, nil
	}
	return "", errors.New("password required: pass --password or set " + passwordEnv)
}

func newSignUpCommand(a *app) *cobra.Command {
	var req auth.SignUpRequest
	var password string
	cmd := &cobra.Command{
		Use:   "signup",
		Short: "Register a new account",
		Example: `  accountable signup --email ada@example.com --first-name Ada
  accountable signup --email bob@example.com --invitation 3f9c...`,
		RunE: func(cmd *cobra.Command, args []string) error {
			pw, err := passwordFrom(password)
			if err != nil {
				return err
			}
			req.Password = pw
			return render(a, a.client.Auth().SignUp(cmd.Context(), req))
		},
	}
	cmd.Flags().StringVar(&req.Email, "email", "", "account email")
	cmd.Flags().StringVar(&password, "password", "", "account password (or "+passwordEnv+")")
	cmd.Flags().StringVar(&req.Metadata.FirstName, "first-name", "", "first name")
	cmd.Flags().StringVar(&req.Metadata.LastName, "last-name", "", "last name")
	cmd.Flags().StringVar(&req.Metadata.TimeZone, "time-zone", "", "IANA time zone, e.g. Europe/Paris")
	cmd.Flags().StringVar(&req.InvitationToken, "invitation", "", "invitation token to convert into a trial partnership")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func newSignInCommand(a *app) *cobra.Command {
	var email, password string
	cmd := &cobra.Command{
		Use:   "signin",
		Short: "Sign in and store the session locally",
		RunE: func(cmd *cobra.Command, args []string) error {
			pw, err := passwordFrom(password)
			if err != nil {
				return err
			}
			res := a.client.Auth().SignIn(cmd.Context(), email, pw)
			out, err := res.Unwrap()
			if err != nil {
				return err
			}
			return a.printJSON(out.Identity)
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().StringVar(&password, "password", "", "account password (or "+passwordEnv+")")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func newSignOutCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "signout",
		Short: "Revoke the session and forget it locally",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := a.client.Auth().SignOut(cmd.Context()).Unwrap(); err != nil {
				return err
			}
			return a.printJSON(map[string]string{"status": "signed_out"})
		},
	}
}

func newPasswordCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "password",
		Short: "Recover a forgotten password",
	}

	var email string
	forgot := &cobra.Command{
		Use:   "forgot",
		Short: "Email a single-use reset link",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := a.client.Auth().RequestPasswordReset(cmd.Context(), email).Unwrap(); err != nil {
				return err
			}
			return a.printJSON(map[string]string{"status": "reset_requested"})
		},
	}
	forgot.Flags().StringVar(&email, "email", "", "account email")
	_ = forgot.MarkFlagRequired("email")

	var token, password string
	reset := &cobra.Command{
		Use:   "reset",
		Short: "Set a new password with the token from the reset email",
		RunE: func(cmd *cobra.Command, args []string) error {
			pw, err := passwordFrom(password)
			if err != nil {
				return err
			}
			if _, err := a.client.Auth().ResetPassword(cmd.Context(), token, pw).Unwrap(); err != nil {
				return err
			}
			return a.printJSON(map[string]string{"status": "password_reset"})
		},
	}
	reset.Flags().StringVar(&token, "token", "", "token from the reset email")
	reset.Flags().StringVar(&password, "password", "", "new password (or "+passwordEnv+")")
	_ = reset.MarkFlagRequired("token")

	cmd.AddCommand(forgot, reset)
	return cmd
}

type whoAmI struct {
	Anonymous       bool              `json:"anonymous"`
	Identity        *auth.IdentityDTO `json:"identity,omitempty"`
	Profile         *session.Profile  `json:"profile,omitempty"`
	ProfileComplete bool              `json:"profile_complete"`
}

// newWhoAmICommand runs the session bootstrapper once and prints what it settled on.
func newWhoAmICommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the current identity and profile",
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := session.New(session.Params{
				Auth:     a.client.Auth(),
				Profiles: a.client.Profiles(),
				Config:   a.cfg.Session,
				Logger:   a.logg,
			})
			if err != nil {
				return err
			}
			defer b.Dispose()

			if err := b.Init(cmd.Context()); err != nil {
				return err
			}

			settled := make(chan session.State, 1)
			unsubscribe := b.Subscribe(func(s session.State) {
				if s.Loading {
					return
				}
				select {
				case settled <- s:
				default:
				}
			})
			defer unsubscribe()

			var state session.State
			select {
			case state = <-settled:
			case <-cmd.Context().Done():
				return cmd.Context().Err()
			}

			out := whoAmI{Anonymous: state.Anonymous()}
			if state.Session != nil {
				identity := state.Session.User
				out.Identity = &identity
			}
			if state.Profile != nil {
				out.Profile = state.Profile
				out.ProfileComplete = state.Profile.Complete
			}
			return a.printJSON(out)
		},
	}
}
