package cmd

import (
	"context"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/kasuboski/amnis/config"
	"github.com/kasuboski/amnis/pkg/catalog"
	ahttp "github.com/kasuboski/amnis/pkg/http"
	"github.com/kasuboski/amnis/pkg/storage"
	"github.com/kasuboski/amnis/pkg/storage/sqlite"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// mustConfig reads and validates the configuration or exits.
func mustConfig(log *zap.SugaredLogger) config.Config {
	cfg, err := config.New(viper.GetViper())
	if err != nil {
		log.Fatal("failed to read configurations", zap.Error(err))
	}

	if err := config.Validate(cfg); err != nil {
		log.Fatal(err)
	}

	return cfg
}

func mustStorage(ctx context.Context, log *zap.SugaredLogger, cfg config.Config) storage.Storage {
	store, err := sqlite.New(ctx, cfg.Storage.FilePath)
	if err != nil {
		log.Fatal("failed to create storage connection", zap.Error(err))
	}

	if err := store.RunMigrations(ctx); err != nil {
		log.Fatal("failed to run migrations", zap.Error(err))
	}

	return store
}

func mustCatalog(log *zap.SugaredLogger, cfg config.Config) catalog.Client {
	httpClient := ahttp.NewRateLimitedHTTPClient(
		ahttp.WithBaseBackoff(cfg.Catalog.BaseBackoff),
		ahttp.WithMaxRetries(cfg.Catalog.MaxRetries),
	)

	client, err := catalog.NewSearchClient(httpClient, cfg.Catalog.URL)
	if err != nil {
		log.Fatal("failed to create catalog client", zap.Error(err))
	}

	return client
}

type columnAlignment int

const (
	alignLeft columnAlignment = iota
	alignRight
)

func renderTable(headers []string, rows [][]string, aligns []columnAlignment) string {
	columns := len(headers)
	if columns == 0 {
		return ""
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)

	header := make(table.Row, columns)
	for i := range columns {
		header[i] = headers[i]
	}
	tw.AppendHeader(header)

	for _, row := range rows {
		r := make(table.Row, columns)
		for i := range columns {
			if i < len(row) {
				r[i] = row[i]
			} else {
				r[i] = ""
			}
		}
		tw.AppendRow(r)
	}

	columnConfigs := make([]table.ColumnConfig, 0, columns)
	for i := range columns {
		align := text.AlignLeft
		if i < len(aligns) && aligns[i] == alignRight {
			align = text.AlignRight
		}
		columnConfigs = append(columnConfigs, table.ColumnConfig{
			Number:      i + 1,
			Align:       align,
			AlignHeader: text.AlignLeft,
		})
	}
	tw.SetColumnConfigs(columnConfigs)

	return tw.Render()
}
