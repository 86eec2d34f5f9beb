package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"doubtdesk/internal/controller"
	"doubtdesk/internal/localstore"
	"doubtdesk/internal/roomserver"
	"doubtdesk/pkg/types"
)

// newCLIApp creates the CLI application with all commands.
func newCLIApp(out io.Writer) *cli.App {
	con := &console{}
	app := &cli.App{
		Name:    "doubtdesk",
		Usage:   "Mentor and admin console for the doubt resolution platform",
		Version: Version,
		Writer:  out,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, EnvVars: []string{"DOUBTDESK_CONFIG_FILE"}, Usage: "JSON config file"},
			&cli.StringFlag{Name: "env-file", Value: ".env", Usage: "dotenv file loaded before the environment is read"},
			&cli.StringFlag{Name: "session-cookie", Usage: "Session cookie as name=value"},
			&cli.StringFlag{Name: "api-url", Usage: "REST API base URL"},
			&cli.StringFlag{Name: "realtime-url", Usage: "Realtime service base URL"},
			&cli.StringFlag{Name: "db", Usage: "Local store path"},
			&cli.BoolFlag{Name: "verbose", Usage: "Log to stderr at debug level"},
		},
		Commands: []*cli.Command{
			whoamiCmd(con),
			logoutCmd(con),
			watchCmd(con),
			doubtsCmd(con),
			doubtCmd(con),
			adminCmd(con),
			themeCmd(con),
			relayCmd(con),
		},
		After: func(c *cli.Context) error {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return con.close(ctx)
		},
	}
	// Disable default exit error handler to allow proper error return in tests
	app.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return app
}

// whoamiCmd creates the whoami command.
func whoamiCmd(con *console) *cli.Command {
	return &cli.Command{
		Name:  "whoami",
		Usage: "Show the signed-in user",
		Action: func(c *cli.Context) error {
			a, err := con.session(c)
			if err != nil {
				return outputError(err)
			}
			snap := a.Session().Snapshot()
			return outputJSON(c, map[string]any{
				"authenticated": snap.Authenticated,
				"user":          snap.Principal,
			})
		},
	}
}

// logoutCmd creates the logout command.
func logoutCmd(con *console) *cli.Command {
	return &cli.Command{
		Name:  "logout",
		Usage: "End the session and forget the saved cookie",
		Action: func(c *cli.Context) error {
			a, err := con.session(c)
			if err != nil {
				return outputError(err)
			}
			a.Logout(c.Context)
			return outputJSON(c, map[string]any{"authenticated": false})
		},
	}
}

// watchCmd creates the watch command.
func watchCmd(con *console) *cli.Command {
	return &cli.Command{
		Name:  "watch",
		Usage: "Show the mentor dashboard and stream new doubt alerts until interrupted",
		Flags: []cli.Flag{
			&cli.DurationFlag{Name: "duration", Aliases: []string{"d"}, Usage: "Stop after this long (0 runs until SIGINT)"},
		},
		Action: func(c *cli.Context) error {
			a, _, err := con.require(c, types.RoleMentor, types.RoleAdmin)
			if err != nil {
				return outputError(err)
			}

			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()
			if d := c.Duration("duration"); d > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, d)
				defer cancel()
			}

			theme, err := a.LocalStore().Theme(ctx)
			if err != nil {
				return outputError(err)
			}
			pal := newPalette(c.App.Writer, theme)

			unwatch := a.Channel().OnStateChange(pal.state)
			defer unwatch()

			h := a.Channel().Acquire()
			defer h.Release()
			h.Subscribe(types.EventNewDoubtAlert, func(f types.Frame) {
				if d, err := types.DecodeDoubt(f.Data); err == nil {
					pal.doubt("alert", *d)
				}
			})

			dash := controller.NewMentorDashboard(a.Deps())
			if err := dash.Mount(ctx); err != nil {
				return outputError(err)
			}
			defer dash.Unmount()

			stats := dash.Stats()
			pal.mu.Lock()
			fmt.Fprintf(pal.out, "pending %d, resolved by you %d, rating %.1f\n", stats.Pending, stats.ResolvedYour, stats.Rating)
			pal.mu.Unlock()
			for _, d := range a.Doubts().Snapshot().Doubts {
				pal.doubt("priority", d)
			}

			<-ctx.Done()
			return nil
		},
	}
}

// doubtsCmd creates the doubts command.
func doubtsCmd(con *console) *cli.Command {
	return &cli.Command{
		Name:  "doubts",
		Usage: "List doubts visible to mentors",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "status", Aliases: []string{"s"}, Usage: "pending|resolved_ai|escalated_to_mentor|resolved_mentor"},
			&cli.StringFlag{Name: "subject", Usage: "Subject filter"},
		},
		Action: func(c *cli.Context) error {
			a, _, err := con.require(c, types.RoleMentor, types.RoleAdmin)
			if err != nil {
				return outputError(err)
			}

			list, err := a.Mentor().Doubts(c.Context, types.DoubtFilter{
				Status:  types.Status(c.String("status")),
				Subject: c.String("subject"),
			})
			if err != nil {
				return outputError(err)
			}
			a.Doubts().ReplaceAll(list)
			return outputJSON(c, a.Doubts().Snapshot().Doubts)
		},
	}
}

// doubtCmd creates the doubt command group.
func doubtCmd(con *console) *cli.Command {
	return &cli.Command{
		Name:  "doubt",
		Usage: "Inspect and review a single doubt",
		Subcommands: []*cli.Command{
			{
				Name:      "show",
				Usage:     "Show a doubt",
				ArgsUsage: "<id>",
				Action: func(c *cli.Context) error {
					detail, err := openDetail(con, c)
					if err != nil {
						return outputError(err)
					}
					d, err := detail.Load(c.Context)
					if err != nil {
						return outputError(err)
					}
					return outputJSON(c, d)
				},
			},
			{
				Name:      "resolve",
				Usage:     "Resolve a doubt as the signed-in mentor",
				ArgsUsage: "<id>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "action", Aliases: []string{"a"}, Value: types.ActionVerifyAI, Usage: "verify_ai|override"},
					&cli.StringFlag{Name: "answer", Usage: "Answer text (defaults to the AI answer for verify_ai)"},
				},
				Action: func(c *cli.Context) error {
					detail, err := openDetail(con, c)
					if err != nil {
						return outputError(err)
					}
					if _, err := detail.Load(c.Context); err != nil {
						return outputError(err)
					}
					if err := detail.Resolve(c.Context, c.String("answer"), c.String("action")); err != nil {
						return outputError(err)
					}
					d, _ := detail.Doubt()
					return outputJSON(c, d)
				},
			},
			{
				Name:      "escalate",
				Usage:     "Escalate a doubt to a senior mentor",
				ArgsUsage: "<id>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "reason", Aliases: []string{"r"}, Required: true, Usage: "Why the doubt needs escalation"},
				},
				Action: func(c *cli.Context) error {
					detail, err := openDetail(con, c)
					if err != nil {
						return outputError(err)
					}
					if err := detail.Escalate(c.Context, c.String("reason")); err != nil {
						return outputError(err)
					}
					return outputJSON(c, map[string]any{"id": c.Args().First(), "status": types.StatusEscalatedToMentor})
				},
			},
		},
	}
}

func openDetail(con *console, c *cli.Context) (*controller.DoubtDetail, error) {
	if c.NArg() < 1 {
		return nil, errors.New("doubt id is required")
	}
	a, _, err := con.require(c, types.RoleMentor, types.RoleAdmin)
	if err != nil {
		return nil, err
	}
	return controller.NewDoubtDetail(a.Deps(), c.Args().First()), nil
}

// adminCmd creates the admin command group.
func adminCmd(con *console) *cli.Command {
	decide := func(status string) cli.ActionFunc {
		return func(c *cli.Context) error {
			if c.NArg() < 1 {
				return outputError(errors.New("mentor id is required"))
			}
			dash, err := openAdmin(con, c)
			if err != nil {
				return outputError(err)
			}
			if err := dash.Approve(c.Context, c.Args().First(), status); err != nil {
				return outputError(err)
			}
			return outputJSON(c, map[string]any{
				"id":      c.Args().First(),
				"status":  status,
				"pending": dash.Pending(),
			})
		}
	}

	return &cli.Command{
		Name:  "admin",
		Usage: "Mentor approvals and platform analytics",
		Subcommands: []*cli.Command{
			{
				Name:  "pending",
				Usage: "List mentors awaiting approval",
				Action: func(c *cli.Context) error {
					dash, err := openAdmin(con, c)
					if err != nil {
						return outputError(err)
					}
					return outputJSON(c, dash.Pending())
				},
			},
			{Name: "approve", Usage: "Approve a pending mentor", ArgsUsage: "<mentor-id>", Action: decide(types.ApprovalApproved)},
			{Name: "reject", Usage: "Reject a pending mentor", ArgsUsage: "<mentor-id>", Action: decide(types.ApprovalRejected)},
			{
				Name:  "analytics",
				Usage: "Show aggregate platform metrics",
				Action: func(c *cli.Context) error {
					a, _, err := con.require(c, types.RoleAdmin)
					if err != nil {
						return outputError(err)
					}
					analytics, err := controller.NewAdminDashboard(a.Deps()).LoadAnalytics(c.Context)
					if err != nil {
						return outputError(err)
					}
					return outputJSON(c, analytics)
				},
			},
		},
	}
}

func openAdmin(con *console, c *cli.Context) (*controller.AdminDashboard, error) {
	a, _, err := con.require(c, types.RoleAdmin)
	if err != nil {
		return nil, err
	}
	dash := controller.NewAdminDashboard(a.Deps())
	if err := dash.Mount(c.Context); err != nil {
		return nil, err
	}
	return dash, nil
}

// themeCmd creates the theme command group.
func themeCmd(con *console) *cli.Command {
	show := func(c *cli.Context, theme localstore.Theme) error {
		return outputJSON(c, map[string]any{"theme": theme})
	}

	return &cli.Command{
		Name:  "theme",
		Usage: "Show or change the colour theme of the live feed",
		Action: func(c *cli.Context) error {
			a, err := con.application(c)
			if err != nil {
				return outputError(err)
			}
			theme, err := a.LocalStore().Theme(c.Context)
			if err != nil {
				return outputError(err)
			}
			return show(c, theme)
		},
		Subcommands: []*cli.Command{
			{
				Name:  "get",
				Usage: "Show the current theme",
				Action: func(c *cli.Context) error {
					a, err := con.application(c)
					if err != nil {
						return outputError(err)
					}
					theme, err := a.LocalStore().Theme(c.Context)
					if err != nil {
						return outputError(err)
					}
					return show(c, theme)
				},
			},
			{
				Name:      "set",
				Usage:     "Set the theme",
				ArgsUsage: "<light|dark>",
				Action: func(c *cli.Context) error {
					a, err := con.application(c)
					if err != nil {
						return outputError(err)
					}
					theme := localstore.Theme(c.Args().First())
					if err := a.LocalStore().SetTheme(c.Context, theme); err != nil {
						return outputError(err)
					}
					return show(c, theme)
				},
			},
			{
				Name:  "toggle",
				Usage: "Switch between light and dark",
				Action: func(c *cli.Context) error {
					a, err := con.application(c)
					if err != nil {
						return outputError(err)
					}
					theme, err := a.LocalStore().ToggleTheme(c.Context)
					if err != nil {
						return outputError(err)
					}
					return show(c, theme)
				},
			},
		},
	}
}

// relayCmd creates the relay command.
func relayCmd(con *console) *cli.Command {
	return &cli.Command{
		Name:  "relay",
		Usage: "Serve a local realtime relay for development",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "addr", Value: ":5000", Usage: "Listen address"},
			&cli.DurationFlag{Name: "poll-wait", Value: 25 * time.Second, Usage: "Long-poll hold time"},
		},
		Action: func(c *cli.Context) error {
			if _, err := con.configure(c); err != nil {
				return outputError(err)
			}

			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			relay := roomserver.NewServer(roomserver.Options{PollWait: c.Duration("poll-wait")}, con.log)
			if err := relay.Start(ctx); err != nil {
				return outputError(err)
			}
			defer relay.Stop()

			server := &http.Server{
				Addr:              c.String("addr"),
				Handler:           relay,
				ReadHeaderTimeout: 10 * time.Second,
			}
			serverErrCh := make(chan error, 1)
			go func() {
				if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					serverErrCh <- err
				}
			}()
			con.log.Info("relay", "relay listening", map[string]interface{}{"addr": server.Addr})

			select {
			case err := <-serverErrCh:
				return outputError(err)
			case <-ctx.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		},
	}
}

// outputJSON writes v as indented JSON to the app writer.
func outputJSON(c *cli.Context, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return outputError(err)
	}
	fmt.Fprintln(c.App.Writer, string(data))
	return nil
}

// outputError formats error for CLI.
func outputError(err error) error {
	var apiErr *types.APIError
	if errors.As(err, &apiErr) {
		return cli.Exit(fmt.Sprintf("[%d] %s", apiErr.Status, apiErr.Error()), 1)
	}
	return cli.Exit(err.Error(), 1)
}
