package main

import (
	"context"
	"errors"
	"fmt"
	"go-poll/internal/config"
	"go-poll/internal/engine"
	"go-poll/internal/extract"
	"go-poll/internal/fetch"
	"go-poll/internal/http"
	"go-poll/internal/model"
	"go-poll/internal/notify"
	"go-poll/internal/ratelimit"
	"go-poll/internal/scheduler"
	"go-poll/internal/secret"
	nhttp "net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jessevdk/go-flags"
	log "github.com/sirupsen/logrus"
)

var version = "dev"

type Options struct {
	DbDriver        string        `long:"db-driver" env:"DB_DRIVER" description:"Database driver" choice:"postgres" choice:"sqlite3" default:"postgres"`
	DbHost          string        `short:"u" long:"db-url" env:"DB_HOST" description:"Database host url" default:"localhost"`
	DbPort          uint          `short:"p" long:"db-port" env:"DB_PORT" description:"Database port" default:"5432"`
	DbUser          string        `short:"l" long:"db-login" env:"DB_USER" description:"Database user login" default:"go-poll"`
	DbName          string        `short:"n" long:"db-name" env:"DB_NAME" description:"Database name" default:"go-poll"`
	DbPath          string        `long:"db-path" env:"DB_PATH" description:"SQLite database file" default:"go-poll.db"`
	Listen          string        `long:"listen" env:"LISTEN_ADDR" description:"REST API listen address" default:"localhost:8080"`
	LogLevel        string        `long:"log-level" env:"LOG_LEVEL" description:"Log level" default:"info"`
	LogJSON         bool          `long:"log-json" env:"LOG_JSON" description:"Log in JSON format"`
	ConfigFile      string        `long:"config" env:"CONFIG_FILE" description:"YAML file with initial global config values"`
	SecretKey       string        `long:"secret-key" env:"SECRET_KEY" description:"Passphrase sealing sensitive config values at rest"`
	ShutdownTimeout time.Duration `long:"shutdown-timeout" env:"SHUTDOWN_TIMEOUT" description:"Time to wait for running jobs on shutdown" default:"30s"`
}

func (opts *Options) dataSourceName() string {
	if opts.DbDriver == model.DriverSQLite {
		return opts.DbPath
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		opts.DbHost,
		opts.DbPort,
		opts.DbUser,
		os.Getenv("POSTGRES_PASSWORD"),
		opts.DbName,
	)
}

func setupLogging(opts *Options) error {
	level, err := log.ParseLevel(opts.LogLevel)
	if err != nil {
		return err
	}
	log.SetLevel(level)
	if opts.LogJSON {
		log.SetFormatter(&log.JSONFormatter{})
	}
	return nil
}

func newChannels(settings *config.Settings) []notify.Channel {
	return []notify.Channel{
		notify.NewMatterbridge(settings),
		notify.NewApprise(settings),
		notify.NewTelegram(settings),
		notify.NewSlack(settings),
	}
}

func healthChannels(channels []notify.Channel) []http.Channel {
	result := make([]http.Channel, 0, len(channels))
	for _, channel := range channels {
		result = append(result, channel)
	}
	return result
}

func main() {
	opts := Options{}
	_, err := flags.Parse(&opts)
	if err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			return
		}
		log.Fatal(fmt.Errorf("could not parse command line args: %w", err))
	}
	if err = setupLogging(&opts); err != nil {
		log.Fatal(fmt.Errorf("could not set up logging: %w", err))
	}

	background := context.Background()
	storage, err := model.NewSQLJobStorage(background, opts.DbDriver, opts.dataSourceName())
	if err != nil {
		log.Fatal(fmt.Errorf("could not create job storage: %w", err))
	}
	defer storage.Close()

	if opts.SecretKey != "" {
		box, err := secret.NewBox(opts.SecretKey)
		if err != nil {
			log.Fatal(fmt.Errorf("could not create secret box: %w", err))
		}
		storage.EnableSealing(box, config.IsSensitive)
		sealed, err := storage.SealStoredSecrets(background, secret.IsSealed)
		if err != nil {
			log.Fatal(fmt.Errorf("could not seal stored secrets: %w", err))
		}
		log.WithFields(log.Fields{"sealed": sealed}).Info("Sensitive config values are sealed at rest")
	} else {
		log.Warn("No secret key configured, sensitive config values are stored in plain text")
	}

	seed, err := config.LoadSeed(opts.ConfigFile)
	if err != nil {
		log.Fatal(fmt.Errorf("could not load config seed: %w", err))
	}
	if err = storage.SeedDefaults(background, seed); err != nil {
		log.Fatal(fmt.Errorf("could not seed global config: %w", err))
	}
	settings := config.NewSettings(storage)

	limiter := ratelimit.NewLimiter(
		settings.Seconds(background, config.ScraperMinDelay),
		settings.Seconds(background, config.ScraperMaxDelay),
	)
	fetcher := fetch.New(limiter, fetch.Options{
		ConnectTimeout: settings.Seconds(background, config.ScraperTimeoutConnect),
		ReadTimeout:    settings.Seconds(background, config.ScraperTimeoutRead),
		MaxRetries:     settings.Int(background, config.ScraperMaxRetries),
		RateLimitPause: settings.Seconds(background, config.ScraperRateLimitPause),
	})
	channels := newChannels(settings)
	fanout := notify.NewFanout(settings, channels...)
	executor := engine.New(storage, fetcher, extract.New(), fanout, settings)

	skd := scheduler.New(storage, executor)
	if err = skd.Start(background); err != nil {
		log.Fatal(fmt.Errorf("could not start scheduler: %w", err))
	}

	server, err := http.NewJobServer(http.Dependencies{
		Jobs:      storage,
		Config:    storage,
		Scheduler: skd,
		Settings:  settings,
		Channels:  healthChannels(channels),
		Version:   version,
	}, opts.Listen)
	if err != nil {
		log.Fatal(fmt.Errorf("could not create job server: %w", err))
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	serverErrs := make(chan error, 1)
	go func() {
		log.WithFields(log.Fields{"addr": opts.Listen, "version": version}).Info("Serving REST API")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, nhttp.ErrServerClosed) {
			serverErrs <- err
		}
	}()

	select {
	case sig := <-sigs:
		log.WithFields(log.Fields{"signal": sig}).Info("Shutting down")
	case err := <-serverErrs:
		log.Error(fmt.Errorf("listen and serve error: %w", err))
	}

	timeoutCtx, timeoutCancel := context.WithTimeout(background, opts.ShutdownTimeout)
	defer timeoutCancel()
	if err = server.Shutdown(timeoutCtx); err != nil {
		log.Error(fmt.Errorf("failed to shutdown server: %w", err))
	}
	if err = skd.Stop(timeoutCtx); err != nil {
		log.Error(fmt.Errorf("failed to stop scheduler: %w", err))
	}
}
