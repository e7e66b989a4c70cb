// Command teamboard is a terminal client for teamboard notifications.
//
//	teamboard [run]   open the notification center
//	teamboard login   store an access token
//	teamboard logout  forget the token and local marks
//	teamboard setup   edit the server and realtime settings
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/sirupsen/logrus"

	"github.com/nhle/teamboard/internal/app"
	"github.com/nhle/teamboard/internal/credential"
	"github.com/nhle/teamboard/internal/model"
	"github.com/nhle/teamboard/internal/session"
	"github.com/nhle/teamboard/internal/store"
	"github.com/nhle/teamboard/internal/transport"
	configform "github.com/nhle/teamboard/internal/ui/config"
)

func main() {
	configPath := flag.String("config", model.DefaultConfigPath(), "path to the config file")
	token := flag.String("token", "", "access token for login (prompted when empty)")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: teamboard [flags] [run|login|logout|setup]\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	cmd := "run"
	if flag.NArg() > 0 {
		cmd = flag.Arg(0)
	}

	if err := run(cmd, *configPath, *token); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			os.Exit(130)
		}
		fmt.Fprintf(os.Stderr, "teamboard: %v\n", err)
		os.Exit(1)
	}
}

func run(cmd, configPath, token string) error {
	cfg, err := model.LoadConfig(configPath)
	if err != nil {
		return err
	}

	if cmd == "setup" {
		return setup(cfg, configPath)
	}

	log, logCloser, err := session.NewLogger(cfg.Log)
	if err != nil {
		return err
	}
	defer logCloser.Close()

	if err := os.MkdirAll(filepath.Dir(cfg.Storage.DBPath), 0o755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}
	st, err := store.NewSQLiteStore(cfg.Storage.DBPath)
	if err != nil {
		return err
	}
	defer st.Close()

	vault, err := credential.Open()
	if err != nil {
		return err
	}

	sess, err := session.New(cfg, session.Deps{Vault: vault, Store: st, Log: log})
	if err != nil {
		return err
	}
	defer sess.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case "run":
		return runUI(sess, log)
	case "login":
		return login(ctx, sess, token)
	case "logout":
		if err := sess.Logout(ctx); err != nil {
			return err
		}
		fmt.Println("Signed out.")
		return nil
	default:
		flag.Usage()
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func runUI(sess *session.Session, log logrus.FieldLogger) error {
	p := tea.NewProgram(app.New(sess), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		log.WithError(err).Error("ui exited")
		return err
	}
	return nil
}

func login(ctx context.Context, sess *session.Session, token string) error {
	if token == "" {
		v := &configform.Values{}
		if err := configform.NewLoginForm(v).Run(); err != nil {
			return err
		}
		token = v.Token
	}
	token = strings.TrimSpace(token)

	// Opaque tokens cannot be checked locally; the server decides.
	if c, err := credential.ParseClaims(token); err == nil && c.Expired(time.Now()) {
		return errors.New("token has expired")
	}
	if err := sess.Login(ctx, token); err != nil {
		if transport.IsUnauthenticated(err) {
			_ = sess.Tokens.Clear()
			return errors.New("the server rejected this token")
		}
		return err
	}
	fmt.Printf("Signed in. %d unread.\n", sess.Aggregate.UnreadCount())
	return nil
}

func setup(cfg *model.AppConfig, configPath string) error {
	v := configform.FromConfig(cfg)
	if err := configform.NewSetupForm(v).Run(); err != nil {
		return err
	}
	if err := v.Apply(cfg); err != nil {
		return err
	}
	if err := model.SaveConfig(configPath, cfg); err != nil {
		return err
	}
	fmt.Printf("Saved %s\n", configPath)
	return nil
}
