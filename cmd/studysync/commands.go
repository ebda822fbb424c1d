/*
 *    Copyright 2025 blockarchitech
 *
 *    Licensed under the Apache License, Version 2.0 (the "License");
 *    you may not use this file except in compliance with the License.
 *    You may obtain a copy of the License at
 *
 *        http://www.apache.org/licenses/LICENSE-2.0
 *
 *    Unless required by applicable law or agreed to in writing, software
 *    distributed under the License is distributed on an "AS IS" BASIS,
 *    WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 *    See the License for the specific language governing permissions and
 *    limitations under the License.
 */

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	studysync "blockarchitech.com/studysync/internal"
	"blockarchitech.com/studysync/internal/utils"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// appFactory builds the application for a command. Replaced in tests.
type appFactory func(ctx context.Context) (app, error)

type app interface {
	Serve() error
	RunSync(ctx context.Context) (any, error)
	RunReminders(ctx context.Context) (any, error)
	AuthCodeURL(state string) string
	Link(ctx context.Context, userID, code string) (string, error)
	Unlink(ctx context.Context, userID string) error
	Close()
}

func newRootCmd(logger *zap.Logger) *cobra.Command {
	return buildRootCmd(func(ctx context.Context) (app, error) {
		a, err := studysync.NewApp(ctx, logger)
		if err != nil {
			return nil, err
		}
		return appAdapter{a}, nil
	})
}

func buildRootCmd(newApp appFactory) *cobra.Command {
	root := &cobra.Command{
		Use:           "studysync",
		Short:         "Coursework sync and reminder service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the scheduler and the ops HTTP server",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withApp(cmd, newApp, func(a app) error { return a.Serve() })
			},
		},
		&cobra.Command{
			Use:   "sync",
			Short: "Run one sync pass and exit",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withApp(cmd, newApp, func(a app) error {
					summary, err := a.RunSync(cmd.Context())
					printJSON(cmd, summary)
					return err
				})
			},
		},
		&cobra.Command{
			Use:   "remind",
			Short: "Run one reminder pass and exit",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withApp(cmd, newApp, func(a app) error {
					summary, err := a.RunReminders(cmd.Context())
					printJSON(cmd, summary)
					return err
				})
			},
		},
		linkCmd(newApp),
		&cobra.Command{
			Use:   "unlink <user-id>",
			Short: "Remove a user's Classroom link and mirrored courses",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withApp(cmd, newApp, func(a app) error {
					if err := a.Unlink(cmd.Context(), args[0]); err != nil {
						return err
					}
					cmd.Printf("Unlinked %s.\n", args[0])
					return nil
				})
			},
		},
	)
	return root
}

func linkCmd(newApp appFactory) *cobra.Command {
	var code string
	cmd := &cobra.Command{
		Use:   "link <user-id>",
		Short: "Link a user's Google Classroom account",
		Long: `Without --code, prints the consent URL to open in a browser.
With --code, exchanges the authorization code and stores the connection.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID := args[0]
			return withApp(cmd, newApp, func(a app) error {
				if code == "" {
					state, err := utils.NewAuthUtils().GenerateOAuthState()
					if err != nil {
						return err
					}
					cmd.Println("Open this URL and grant access, then rerun with --code:")
					cmd.Println(a.AuthCodeURL(state))
					return nil
				}
				email, err := a.Link(cmd.Context(), userID, code)
				if err != nil {
					return fmt.Errorf("link failed: %w", err)
				}
				cmd.Printf("Linked %s (%s).\n", userID, email)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&code, "code", "", "authorization code returned by the consent page")
	return cmd
}

func withApp(cmd *cobra.Command, newApp appFactory, fn func(a app) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
		cmd.SetContext(ctx)
	}
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	if a == nil {
		return errors.New("application not configured")
	}
	defer a.Close()
	return fn(a)
}

func printJSON(cmd *cobra.Command, v any) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return
	}
	cmd.Println(string(out))
}

// appAdapter narrows *studysync.App to what the commands use.
type appAdapter struct {
	*studysync.App
}

func (a appAdapter) RunSync(ctx context.Context) (any, error) {
	return a.RunSyncOnce(ctx)
}

func (a appAdapter) RunReminders(ctx context.Context) (any, error) {
	return a.RunRemindersOnce(ctx)
}

func (a appAdapter) AuthCodeURL(state string) string {
	return a.Accounts().AuthCodeURL(state)
}

func (a appAdapter) Link(ctx context.Context, userID, code string) (string, error) {
	conn, err := a.Accounts().Link(ctx, userID, code)
	if err != nil {
		return "", err
	}
	return conn.Email, nil
}

func (a appAdapter) Unlink(ctx context.Context, userID string) error {
	return a.Accounts().Unlink(ctx, userID)
}
