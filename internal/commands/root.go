// Package commands implements the ledgerbook command tree.
package commands

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"ledgerbook/internal/amqp"
	"ledgerbook/internal/cli"
	"ledgerbook/internal/config"
	"ledgerbook/internal/core"
	"ledgerbook/internal/events"
	"ledgerbook/internal/log"
	"ledgerbook/internal/services"
	"ledgerbook/internal/sheets"
	"ledgerbook/internal/store"
)

// Version is overridden at build time with -ldflags.
var Version = "dev"

// Exit codes returned by Execute.
const (
	ExitOK         = 0
	ExitFailure    = 1
	ExitValidation = 2
	ExitNotFound   = 3
	ExitConflict   = 4
	ExitStorage    = 5
)

// busBuffer bounds the changes a relay may lag behind a single command.
// Seeding and restore publish one change per entity.
const busBuffer = 1024

// Env replaces parts of the process environment. Nil fields are resolved
// from the environment as usual.
type Env struct {
	Config  *config.Config
	Logger  *log.Logger
	Backend store.Backend
	Sheet   sheets.Sink
}

// session holds what a single invocation opens. It is populated by the
// root command's pre-run hook and released after execution.
type session struct {
	env      *Env
	ledgerID string

	cfg       *config.Config
	logger    *log.Logger
	backend   store.Backend
	owned     bool
	engine    *services.Engine
	stopRelay func()
}

// Execute runs the command line and returns the process exit code.
func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	return run(ctx, args, nil, stdout, stderr)
}

func run(ctx context.Context, args []string, env *Env, stdout, stderr io.Writer) int {
	s := &session{env: env}
	root := newRootCommand(s)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	s.close()
	if err != nil {
		fmt.Fprintln(stderr, "Error:", describe(err))
		return exitCode(err)
	}
	return ExitOK
}

func newRootCommand(s *session) *cobra.Command {
	root := &cobra.Command{
		Use:     "ledgerbook",
		Short:   "Multi-ledger personal bookkeeping",
		Version: Version,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return s.open(cmd.Context())
		},
	}

	root.PersistentFlags().StringVar(&s.ledgerID, "ledger", "", "ledger id (default: the default ledger)")

	root.AddCommand(
		newInitCommand(s),
		newAddCommand(s),
		newTransferCommand(s),
		newEditCommand(s),
		newDeleteCommand(s),
		newListCommand(s),
		newStatsCommand(s),
		newCheckCommand(s),
		newRecalcCommand(s),
		newExportCommand(s),
		newBackupCommand(s),
		newRestoreCommand(s),
	)

	return root
}

func (s *session) open(ctx context.Context) error {
	if s.engine != nil {
		return nil
	}
	env := s.env
	if env == nil {
		env = &Env{}
	}

	s.cfg = env.Config
	if s.cfg == nil {
		cli.LoadEnvFile()
		cfg, err := cli.LoadAndValidateConfig()
		if err != nil {
			return fmt.Errorf("configuration: %w", err)
		}
		s.cfg = cfg
	}

	s.logger = env.Logger
	if s.logger == nil {
		s.logger = cli.SetupLogger(s.cfg.LogLevel)
	}
	s.logger = s.logger.WithComponent(log.ComponentCLI)

	s.backend = env.Backend
	if s.backend == nil {
		backend, err := cli.OpenBackend(s.cfg, events.NewBusWithBuffer(busBuffer), s.logger)
		if err != nil {
			return err
		}
		s.backend, s.owned = backend, true
	}

	s.engine = services.New(store.FromBackend(s.backend), cli.EngineOptions(s.cfg, s.logger))
	if s.cfg.AMQPEnabled() {
		s.startRelay(ctx)
	}
	return nil
}

// startRelay forwards this invocation's changes to the broker. The CLI
// works without one, so connection failures only warn.
func (s *session) startRelay(ctx context.Context) {
	client, err := amqp.NewClient(s.cfg.AMQPURL, s.cfg.AMQPExchange, s.cfg.AMQPQueue, s.logger)
	if err != nil {
		s.logger.Warn("Change relay unavailable",
			log.FieldOperation, log.OpPublish,
			log.FieldError, err.Error())
		return
	}

	changes, unsubscribe := s.backend.Bus().Subscribe()
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	source := cli.InstanceID("ledgerbook")
	go func() {
		defer close(done)
		relayChanges(ctx, changes, client, source, s.logger)
	}()

	s.stopRelay = func() {
		cancel()
		<-done
		unsubscribe()
		if err := client.Close(); err != nil {
			s.logger.Warn("Failed to close AMQP client", log.FieldError, err.Error())
		}
	}
}

// relayChanges runs amqp.Forward until the invocation ends. Anything other
// than the expected cancellation is logged.
func relayChanges(ctx context.Context, changes <-chan events.Change, pub amqp.ChangePublisher, source string, logger *log.Logger) {
	err := amqp.Forward(ctx, changes, pub, source, logger)
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Warn("Change relay stopped",
			log.FieldOperation, log.OpPublish,
			log.FieldError, err.Error())
	}
}

func (s *session) close() {
	if s.stopRelay != nil {
		s.stopRelay()
	}
	if s.engine != nil {
		s.engine.Close()
	}
	if s.owned && s.backend != nil {
		if err := s.backend.Close(); err != nil {
			s.logger.Warn("Failed to close backend", log.FieldError, err.Error())
		}
	}
}

// defaults returns the ledger selected with --ledger, or the default ledger
// and account, creating them on first use.
func (s *session) defaults(ctx context.Context) (ledgerID, accountID string, err error) {
	if s.ledgerID != "" {
		return s.ledgerID, "", nil
	}
	res, err := s.engine.Initializer.Initialize(ctx)
	if err != nil {
		return "", "", err
	}
	return res.LedgerID, res.AccountID, nil
}

func (s *session) ledger(ctx context.Context) (string, error) {
	id, _, err := s.defaults(ctx)
	return id, err
}

func exitCode(err error) int {
	switch core.KindOf(err) {
	case core.KindValidation:
		return ExitValidation
	case core.KindNotFound:
		return ExitNotFound
	case core.KindConflict:
		return ExitConflict
	case core.KindStorage:
		return ExitStorage
	default:
		return ExitFailure
	}
}

func describe(err error) string {
	if core.KindOf(err) == core.KindStorage {
		return err.Error() + " (temporary failure, retry the command)"
	}
	return err.Error()
}
