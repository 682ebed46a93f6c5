package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kerdos/kerdos-api/internal/adapters/catalog"
	"github.com/kerdos/kerdos-api/internal/adapters/kafka"
	redisadapter "github.com/kerdos/kerdos-api/internal/adapters/redis"
	"github.com/kerdos/kerdos-api/internal/bootstrap"
	"github.com/kerdos/kerdos-api/internal/domain/model"
	"github.com/kerdos/kerdos-api/internal/migrate"
	"github.com/kerdos/kerdos-api/internal/service"
)

const (
	defaultMigrationTimeout = 5 * time.Minute
	defaultCommandTimeout   = 30 * time.Second
)

type migrateOptions struct {
	Timeout     time.Duration
	Status      bool
	AllowRemote bool
}

func parseMigrateFlags(args []string, out io.Writer) (migrateOptions, error) {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	fs.SetOutput(out)

	var opts migrateOptions
	fs.DurationVar(&opts.Timeout, "timeout", defaultMigrationTimeout, "Maximum duration to wait for migrations to complete")
	fs.BoolVar(&opts.Status, "status", false, "List pending migrations without applying them")
	fs.BoolVar(&opts.AllowRemote, "allow-remote", false, "Allow running against a non-local database host")

	if err := fs.Parse(args); err != nil {
		return migrateOptions{}, err
	}
	if opts.Timeout <= 0 {
		return migrateOptions{}, errors.New("--timeout must be greater than zero")
	}
	return opts, nil
}

func runMigrations(cmdCtx *commandContext, args []string) error {
	opts, err := parseMigrateFlags(args, cmdCtx.Out)
	if err != nil {
		return err
	}
	if !opts.Status {
		if guardErr := guardRemoteHost(cmdCtx, opts.AllowRemote, "apply schema migrations"); guardErr != nil {
			return guardErr
		}
	}

	ctx, cancel := context.WithTimeout(cmdCtx.Ctx, opts.Timeout)
	defer cancel()

	db, err := bootstrap.ConnectDB(bootstrap.DatabaseConfig{
		DBConfig: cmdCtx.Config.Postgres,
		Logger:   cmdCtx.Logger,
	})
	if err != nil {
		return fmt.Errorf("connect db: %w", err)
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			cmdCtx.Logger.Warn("db close failed", "error", closeErr)
		}
	}()

	if opts.Status {
		pending, pendingErr := migrate.Pending(ctx, db)
		if pendingErr != nil {
			return fmt.Errorf("list pending migrations: %w", pendingErr)
		}
		if len(pending) == 0 {
			return writef(cmdCtx.Out, "schema is up to date\n")
		}
		return writef(cmdCtx.Out, "pending migrations: %s\n", strings.Join(pending, ", "))
	}

	cmdCtx.Logger.Info("running database migrations")
	if migrateErr := bootstrap.RunMigrations(ctx, db, cmdCtx.Logger); migrateErr != nil {
		return migrateErr
	}
	cmdCtx.Logger.Info("migrations completed successfully")
	return nil
}

func parseEmitLessonFlags(args []string, out io.Writer) (model.LessonCompletion, error) {
	fs := flag.NewFlagSet("emit-lesson", flag.ContinueOnError)
	fs.SetOutput(out)

	var c model.LessonCompletion
	fs.StringVar(&c.UserID, "user", "", "Subject of the user who completed the lesson (required)")
	fs.StringVar(&c.LessonID, "lesson", "", "Lesson identifier (required)")
	fs.StringVar(&c.ModuleID, "module", "", "Module the lesson belongs to (required)")
	fs.IntVar(&c.XP, "xp", 10, "Experience points awarded")

	if err := fs.Parse(args); err != nil {
		return model.LessonCompletion{}, err
	}
	c.CompletedAt = time.Now().UTC()
	if err := c.Validate(); err != nil {
		return model.LessonCompletion{}, err
	}
	return c, nil
}

func runEmitLesson(cmdCtx *commandContext, args []string) error {
	completion, err := parseEmitLessonFlags(args, cmdCtx.Out)
	if err != nil {
		return err
	}

	producer, err := kafka.NewProducer(cmdCtx.Config.Kafka.Brokers, cmdCtx.Config.Kafka.Topic)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := producer.Close(); closeErr != nil {
			cmdCtx.Logger.Warn("kafka producer close failed", "error", closeErr)
		}
	}()

	partition, offset, err := producer.Publish(completion)
	if err != nil {
		return err
	}
	return writef(cmdCtx.Out, "published lesson %s for %s to %s[%d]@%d\n",
		completion.LessonID, completion.UserID, cmdCtx.Config.Kafka.Topic, partition, offset)
}

func runCatalog(cmdCtx *commandContext, args []string) error {
	fs := flag.NewFlagSet("catalog", flag.ContinueOnError)
	fs.SetOutput(cmdCtx.Out)
	path := fs.String("file", cmdCtx.Config.Content.CatalogPath, "Catalog YAML to validate (defaults to the configured catalog)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	src, err := catalog.Load(*path)
	if err != nil {
		return err
	}
	raw, err := catalog.Marshal(src.Catalog())
	if err != nil {
		return err
	}
	_, err = cmdCtx.Out.Write(raw)
	return err
}

func parseDeviceFlag(args []string, out io.Writer) (string, error) {
	fs := flag.NewFlagSet("reset-onboarding", flag.ContinueOnError)
	fs.SetOutput(out)
	device := fs.String("device", "", "Device identifier (UUID, required)")
	if err := fs.Parse(args); err != nil {
		return "", err
	}
	id, err := uuid.Parse(strings.TrimSpace(*device))
	if err != nil {
		return "", fmt.Errorf("--device must be a UUID: %w", err)
	}
	return id.String(), nil
}

func runResetOnboarding(cmdCtx *commandContext, args []string) error {
	deviceID, err := parseDeviceFlag(args, cmdCtx.Out)
	if err != nil {
		return err
	}

	content, err := catalog.Load(cmdCtx.Config.Content.CatalogPath)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmdCtx.Ctx, defaultCommandTimeout)
	defer cancel()

	client, err := bootstrap.ConnectRedis(bootstrap.DatabaseConfig{
		RedisConfig: cmdCtx.Config.Redis,
		Logger:      cmdCtx.Logger,
	})
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	defer func() {
		if closeErr := client.Close(); closeErr != nil {
			cmdCtx.Logger.Warn("redis close failed", "error", closeErr)
		}
	}()

	onboarding := service.NewOnboardingService(redisadapter.NewFlagStore(client), content)
	if resetErr := onboarding.Reset(ctx, deviceID); resetErr != nil {
		return resetErr
	}
	return writef(cmdCtx.Out, "onboarding reset for device %s\n", deviceID)
}
