package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	nested "github.com/antonfisher/nested-logrus-formatter"
	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"genrecorpus/config"
	"genrecorpus/sentry"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Debugf("no .env file loaded: %v", err)
	}
	config.NewConfig()
	configureLogging(config.Config.Options.LogLevel)
	sentry.Init()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCommand().ExecuteContext(ctx)
	stop()
	sentry.Flush()

	if err != nil {
		if !errors.Is(err, context.Canceled) {
			log.Error(err)
		}
		os.Exit(1)
	}
}

func configureLogging(level string) {
	log.SetFormatter(&nested.Formatter{
		FieldsOrder:     []string{"module", "genre", "index", "title"},
		TimestampFormat: time.DateTime,
		HideKeys:        true,
	})
	parsed, err := log.ParseLevel(level)
	if err != nil {
		log.Warnf("unknown LOG_LEVEL %q, using info", level)
		parsed = log.InfoLevel
	}
	log.SetLevel(parsed)
}
