package cmd

import (
	"context"
	"fmt"
	"strconv"

	"github.com/kasuboski/amnis/pkg/logger"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var searchSource string

// searchCmd represents the search command
var searchCmd = &cobra.Command{
	Use:   "search [term]",
	Short: "Search the pack catalog",
	Long:  `Queries the pack catalog and prints every pack a source offers, parsed where the name allows it.`,
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		log := logger.Get()
		ctx := logger.WithCtx(context.Background(), log)

		cfg := mustConfig(log)
		client := mustCatalog(log, cfg)

		term := cfg.Catalog.Term
		if len(args) == 1 {
			term = args[0]
		}

		source := searchSource
		if source == "" {
			source = cfg.Catalog.Sources[0]
		}

		offers, err := client.Query(ctx, term, source)
		if err != nil {
			log.Fatal("failed to query catalog", zap.Error(err))
		}

		rows := make([][]string, 0, len(offers))
		for _, o := range offers {
			show, episode, resolution := "", "", ""
			if o.Parsed {
				show = o.Meta.Show
				episode = strconv.Itoa(o.Meta.Episode)
				resolution = strconv.Itoa(o.Meta.Resolution) + "p"
			}
			rows = append(rows, []string{strconv.Itoa(o.Index), o.Filename, formatSize(o.Size), show, episode, resolution})
		}

		fmt.Println(renderTable(
			[]string{"Pack", "File", "Size", "Show", "Episode", "Resolution"},
			rows,
			[]columnAlignment{alignRight, alignLeft, alignRight, alignLeft, alignRight, alignRight},
		))
	},
}

func init() {
	rootCmd.AddCommand(searchCmd)
	searchCmd.Flags().StringVar(&searchSource, "source", "", "source to list, defaults to the first configured source")
}
