package main

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/fatih/color"
	"github.com/urfave/cli/v2"

	"doubtdesk/internal/app"
	"doubtdesk/internal/config"
	"doubtdesk/internal/controller"
	"doubtdesk/internal/localstore"
	"doubtdesk/internal/logger"
	"doubtdesk/internal/realtime"
	"doubtdesk/pkg/types"
)

// console lazily builds the application for the command being run, so
// commands that never touch the backend do not pay for a session fetch.
type console struct {
	cfg     *config.Config
	log     *logger.ZapLogger
	app     *app.Application
	started bool
}

// configure loads configuration: flags over env over file over defaults
func (con *console) configure(c *cli.Context) (*config.Config, error) {
	if con.cfg != nil {
		return con.cfg, nil
	}
	if err := config.LoadDotEnv(c.String("env-file")); err != nil {
		return nil, err
	}
	cfg, err := config.LoadConfigWithPrecedence(c.String("config"))
	if err != nil {
		return nil, err
	}

	if v := c.String("api-url"); v != "" {
		cfg.API.BaseURL = v
	}
	if v := c.String("realtime-url"); v != "" {
		cfg.Realtime.URL = v
	}
	if v := c.String("session-cookie"); v != "" {
		cfg.API.SessionCookie = v
	}
	if v := c.String("db"); v != "" {
		cfg.Storage.Path = v
	}
	if c.Bool("verbose") {
		cfg.Log.Console = true
		cfg.Log.Level = "debug"
	}

	con.cfg = cfg
	con.log = logger.New(logger.Options{
		FilePath: cfg.Log.FilePath,
		Level:    cfg.Log.Level,
		Console:  cfg.Log.Console,
	})
	return cfg, nil
}

// application builds the application without contacting the backend
func (con *console) application(c *cli.Context) (*app.Application, error) {
	if con.app != nil {
		return con.app, nil
	}
	cfg, err := con.configure(c)
	if err != nil {
		return nil, err
	}
	a, err := app.NewApplication(cfg, con.log)
	if err != nil {
		return nil, err
	}
	con.app = a
	return a, nil
}

// session builds and starts the application, resolving the signed-in user
func (con *console) session(c *cli.Context) (*app.Application, error) {
	a, err := con.application(c)
	if err != nil {
		return nil, err
	}
	if !con.started {
		if err := a.Start(c.Context); err != nil {
			return nil, err
		}
		con.started = true
	}
	return a, nil
}

// require starts the application and checks the principal's role
func (con *console) require(c *cli.Context, roles ...string) (*app.Application, *types.Principal, error) {
	a, err := con.session(c)
	if err != nil {
		return nil, nil, err
	}
	p := a.Session().Principal()
	if p == nil {
		return nil, nil, controller.ErrNotAuthenticated
	}
	for _, r := range roles {
		if p.Role == r {
			return a, p, nil
		}
	}
	return nil, nil, controller.ErrForbidden
}

func (con *console) close(ctx context.Context) error {
	var err error
	if con.app != nil {
		err = con.app.Stop(ctx)
		con.app = nil
	}
	if con.log != nil {
		_ = con.log.Sync()
	}
	return err
}

// palette colours the live feed according to the saved theme
type palette struct {
	mu    sync.Mutex
	out   io.Writer
	id    *color.Color
	ok    *color.Color
	warn  *color.Color
	bad   *color.Color
	muted *color.Color
}

func newPalette(out io.Writer, theme localstore.Theme) *palette {
	p := &palette{
		out:   out,
		ok:    color.New(color.FgGreen),
		warn:  color.New(color.FgYellow),
		bad:   color.New(color.FgRed),
		id:    color.New(color.FgBlue, color.Bold),
		muted: color.New(color.FgHiBlack),
	}
	if theme == localstore.ThemeDark {
		p.id = color.New(color.FgHiCyan, color.Bold)
		p.muted = color.New(color.FgWhite)
	}
	return p
}

func (p *palette) state(s realtime.State) {
	p.mu.Lock()
	defer p.mu.Unlock()
	c := p.warn
	switch s {
	case realtime.StateConnected:
		c = p.ok
	case realtime.StateDisconnected:
		c = p.bad
	}
	c.Fprintf(p.out, "realtime %s\n", s)
}

func (p *palette) doubt(prefix string, d types.Doubt) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprint(p.out, prefix+" ")
	p.id.Fprint(p.out, d.ID)
	fmt.Fprintf(p.out, " [%s] confidence %s ", d.Status, types.FormatConfidence(d.Confidence))
	text := d.QuestionText
	if text == "" {
		text = "(image only)"
	}
	p.muted.Fprintln(p.out, text)
}
