package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mcoot/basequiz/internal/model"
)

func newUserCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Identity commands",
	}

	cmd.AddCommand(newUserGuestCmd(e))
	cmd.AddCommand(newUserRegisterCmd(e))
	cmd.AddCommand(newUserLoginCmd(e))
	cmd.AddCommand(newUserMeCmd(e))
	cmd.AddCommand(newUserLogoutCmd(e))
	cmd.AddCommand(newUserPresenceCmd(e))

	return cmd
}

func newUserGuestCmd(e *env) *cobra.Command {
	var name string

	cmd := &cobra.Command{
		Use:   "guest",
		Short: "Sign in as a new guest",
		Long: `Create an anonymous guest and sign in as it.

Guests are deleted by cleanup once they have been disconnected for longer
than --guest-ttl, together with their room entries.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := e.app.Identity.CreateGuest(cmd.Context(), name)
			if err != nil {
				return err
			}
			return e.signedIn(cmd, id)
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Display name (required)")
	_ = cmd.MarkFlagRequired("name")

	return cmd
}

func newUserRegisterCmd(e *env) *cobra.Command {
	var name, user, pass string

	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register a new account and sign in",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := e.app.Identity.Register(cmd.Context(), user, pass, name)
			if err != nil {
				return err
			}
			return e.signedIn(cmd, id)
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Display name (required)")
	cmd.Flags().StringVar(&user, "user", "", "Username (required)")
	cmd.Flags().StringVar(&pass, "pass", "", "Password (required)")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("pass")

	return cmd
}

func newUserLoginCmd(e *env) *cobra.Command {
	var user, pass string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in with an existing account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := e.app.Identity.Login(cmd.Context(), user, pass)
			if err != nil {
				return err
			}
			return e.signedIn(cmd, id)
		},
	}

	cmd.Flags().StringVar(&user, "user", "", "Username (required)")
	cmd.Flags().StringVar(&pass, "pass", "", "Password (required)")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("pass")

	return cmd
}

func newUserMeCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "me",
		Short: "Show the signed-in user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := e.identity()
			if err != nil {
				return err
			}
			e.outputTo(cmd.OutOrStdout()).Print(newUser(id))
			return nil
		},
	}
}

func newUserLogoutCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out",
		Long: `Sign out and forget the saved session.

A guest is marked disconnected on the way out, so cleanup deletes it once
--guest-ttl has passed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := e.identity(); err == nil {
				if err := e.app.Presence.GoOffline(cmd.Context()); err != nil {
					e.logger.Warn("failed to mark user offline", "error", err)
				}
			}
			e.app.Identity.SignOut()
			if err := e.cfg.ClearSession(); err != nil {
				return fmt.Errorf("failed to clear session: %w", err)
			}
			e.outputTo(cmd.OutOrStdout()).PrintMessage("Signed out")
			return nil
		},
	}
}

func newUserPresenceCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "presence [uid]",
		Short: "Show whether a user is online",
		Long:  "Show the presence record of a user, or of the signed-in user when no uid is given.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			uid, err := e.targetUser(args)
			if err != nil {
				return err
			}
			p, err := e.app.Presence.Get(cmd.Context(), uid)
			if err != nil {
				return err
			}
			e.outputTo(cmd.OutOrStdout()).Print(Presence{UID: string(uid), Online: p.Online, LastChanged: p.LastChanged})
			return nil
		},
	}
}

// signedIn saves the new session and prints who the user now is
func (e *env) signedIn(cmd *cobra.Command, id model.Identity) error {
	if err := e.cfg.SaveSession(id.UID); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	e.outputTo(cmd.OutOrStdout()).Print(newUser(id))
	return nil
}

// targetUser is the uid named in args, or the signed-in user's
func (e *env) targetUser(args []string) (model.UserID, error) {
	if len(args) > 0 {
		return model.UserID(args[0]), nil
	}
	id, err := e.identity()
	if err != nil {
		return "", err
	}
	return id.UID, nil
}
