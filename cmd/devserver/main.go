// Command devserver runs an in-memory teamboard server for local
// development. It prints a token for the seed user on start.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/nhle/teamboard/internal/devserver"
	"github.com/nhle/teamboard/internal/model"
)

func main() {
	addr := flag.String("addr", ":8080", "listen address")
	secret := flag.String("secret", "dev-secret", "HS256 signing secret")
	redisURL := flag.String("redis", "", "mirror frames onto this Redis relay (e.g. redis://localhost:6379/0)")
	user := flag.String("user", "dev", "user to seed and issue a token for")
	ttl := flag.Duration("ttl", 24*time.Hour, "token lifetime")
	every := flag.Duration("demo-every", 0, "push a demo notification at this interval (0 disables)")
	rps := flag.Float64("rate", 0, "REST requests per second per user (0 disables)")
	verbose := flag.Bool("v", false, "debug logging")
	flag.Parse()

	if *verbose {
		log.SetLevel(log.DebugLevel)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := devserver.New(*secret, log.StandardLogger())
	if *rps > 0 {
		srv.SetRateLimit(rate.Limit(*rps), max(1, int(*rps)))
	}

	if *redisURL != "" {
		opts, err := redis.ParseURL(*redisURL)
		if err != nil {
			log.WithError(err).Fatal("invalid redis url")
		}
		rc := redis.NewClient(opts)
		defer rc.Close()
		if err := srv.AttachRelay(ctx, rc); err != nil {
			log.WithError(err).Fatal("attaching redis relay")
		}
		log.WithField("redis", *redisURL).Info("relay attached")
	}

	srv.Seed(*user, seed()...)
	tok, err := srv.IssueToken(*user, *ttl)
	if err != nil {
		log.WithError(err).Fatal("issuing token")
	}
	fmt.Printf("token for %s:\n%s\n", *user, tok)

	if *every > 0 {
		go demo(ctx, srv, *user, *every)
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Warn("shutdown")
		}
	}()

	log.WithField("addr", *addr).Info("devserver listening")
	if err := srv.Start(*addr); err != nil {
		log.WithError(err).Fatal("server stopped")
	}
}

func seed() []model.Notification {
	now := time.Now()
	ana := &model.Sender{ID: "ana", Name: "Ana"}
	return []model.Notification{
		{ID: uuid.NewString(), Kind: model.KindMention, Title: "Ana mentioned you", Message: "@dev can you review the release notes?", Sender: ana, Origin: &model.Origin{ProjectID: "release"}, CreatedAt: now.Add(-5 * time.Minute)},
		{ID: uuid.NewString(), Kind: model.KindTaskAssigned, Title: "New task: migrate CI runners", CreatedAt: now.Add(-2 * time.Hour), Origin: &model.Origin{ProjectID: "infra", TaskID: "t-42"}},
		{ID: uuid.NewString(), Kind: model.KindDeadlineReminder, Title: "Quarterly report due tomorrow", CreatedAt: now.Add(-26 * time.Hour), Read: true},
		{ID: uuid.NewString(), Kind: model.KindSystem, Title: "Maintenance window Sunday 02:00 UTC", CreatedAt: now.Add(-72 * time.Hour), Read: true},
	}
}

func demo(ctx context.Context, srv *devserver.Server, user string, every time.Duration) {
	kinds := model.Kinds
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for i := 0; ; i++ {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			kind := kinds[i%len(kinds)]
			n := srv.Notify(user, model.Notification{
				Kind:  kind,
				Title: fmt.Sprintf("Demo %s #%d", kind, i+1),
			})
			log.WithFields(log.Fields{"id": n.ID, "type": kind}).Debug("pushed demo notification")
		}
	}
}
