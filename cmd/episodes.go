package cmd

import (
	"context"
	"fmt"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/kasuboski/amnis/pkg/logger"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var episodesShow string

// episodesCmd represents the episodes command
var episodesCmd = &cobra.Command{
	Use:   "episodes",
	Short: "List archived episodes",
	Run: func(cmd *cobra.Command, args []string) {
		log := logger.Get()
		ctx := logger.WithCtx(context.Background(), log)

		cfg := mustConfig(log)
		store := mustStorage(ctx, log, cfg)
		defer store.Close()

		episodes, err := store.ListEpisodes(ctx, episodesShow)
		if err != nil {
			log.Fatal("failed to list episodes", zap.Error(err))
		}

		rows := make([][]string, 0, len(episodes))
		for _, e := range episodes {
			rows = append(rows, []string{e.ShowName, strconv.Itoa(int(e.Episode)), humanize.Time(e.CompletedAt)})
		}

		fmt.Println(renderTable(
			[]string{"Show", "Episode", "Completed"},
			rows,
			[]columnAlignment{alignLeft, alignRight, alignLeft},
		))
	},
}

func init() {
	rootCmd.AddCommand(episodesCmd)
	episodesCmd.Flags().StringVar(&episodesShow, "show", "", "only list this show")
}
