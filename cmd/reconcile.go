package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/dustin/go-humanize"
	mio "github.com/kasuboski/amnis/pkg/io"
	"github.com/kasuboski/amnis/pkg/logger"
	"github.com/kasuboski/amnis/pkg/manager"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var sendRequests bool

// reconcileCmd represents the reconcile command
var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Show which episodes the next cycle would request",
	Long: `Runs a single reconcile cycle. By default nothing is requested and the plan
is printed. With --send the requests go out over IRC and the offered files are
received until interrupted.`,
	Run: func(cmd *cobra.Command, args []string) {
		log := logger.Get()
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		ctx = logger.WithCtx(ctx, log)

		cfg := mustConfig(log)

		if sendRequests {
			lock, err := acquireLock(cfg.Library.DataDir)
			if err != nil {
				log.Fatal("failed to acquire lock", zap.Error(err))
			}
			defer lock.Unlock()

			// a single cycle, then only receive
			cfg.Manager.PollInterval = 0
			m, cleanup := mustManager(ctx, log, cfg)
			defer cleanup()

			if err := m.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("manager stopped", zap.Error(err))
			}
			return
		}

		policies, err := cfg.Policies()
		if err != nil {
			log.Fatal("invalid shows", zap.Error(err))
		}

		store := mustStorage(ctx, log, cfg)
		defer store.Close()

		m := manager.New(mustCatalog(log, cfg), nil, store, mio.NewOS(), cfg, policies)
		plan, err := m.Plan(ctx)
		if err != nil {
			log.Fatal("failed to plan", zap.Error(err))
		}

		fmt.Println(renderPlan(plan))
	},
}

func init() {
	rootCmd.AddCommand(reconcileCmd)
	reconcileCmd.Flags().BoolVar(&sendRequests, "send", false, "send the requests and receive the files")
}

func renderPlan(plan manager.Plan) string {
	rows := make([][]string, 0, len(plan.Queue)+len(plan.Stale))
	for _, e := range plan.Queue {
		name := ""
		if e.Policy != nil {
			name = e.Policy.DisplayName
		}
		rows = append(rows, []string{"request", e.Offer.Source, strconv.Itoa(e.Offer.Index), name, e.Offer.Filename, formatSize(e.Offer.Size)})
	}
	for _, path := range plan.Stale {
		rows = append(rows, []string{"remove", "", "", "", path, ""})
	}

	out := renderTable(
		[]string{"Action", "Source", "Pack", "Show", "File", "Size"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft, alignLeft, alignRight},
	)

	for _, r := range plan.Requests() {
		out += "\n" + r.Source + ": " + r.Message()
	}

	return out
}

func formatSize(size *int64) string {
	if size == nil {
		return "?"
	}
	return humanize.IBytes(uint64(*size))
}
