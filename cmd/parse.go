package cmd

import (
	"fmt"

	"github.com/kasuboski/amnis/pkg/logger"
	"github.com/kasuboski/amnis/pkg/metadata"
	"github.com/kasuboski/amnis/pkg/show"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// parseCmd represents the parse command
var parseCmd = &cobra.Command{
	Use:   "parse [filename]",
	Short: "Show how a release filename is understood",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		log := logger.Get()
		filename := args[0]

		meta, ok := metadata.Parse(filename)
		if !ok {
			log.Fatalw("filename does not follow the release convention", "filename", filename)
		}
		fmt.Println(meta)

		cfg := mustConfig(log)
		policies, err := cfg.Policies()
		if err != nil {
			log.Fatal("invalid shows", zap.Error(err))
		}

		p, ok := show.Match(filename, policies)
		if !ok {
			fmt.Println("no configured show matches")
			return
		}
		fmt.Printf("matches %q (%s), starting at episode %d, archived to %s\n",
			p.DisplayName, p.Pattern, p.StartEpisode, p.TargetDir(cfg.Library.CompleteDir, cfg.Library.AutoArchive))
	},
}

func init() {
	rootCmd.AddCommand(parseCmd)
}
