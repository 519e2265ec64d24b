package cmd

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/JakeFAU/topic-harvester/internal/app"
	"github.com/JakeFAU/topic-harvester/internal/digest"
)

func newTopicsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "topics",
		Short: "List the configured topics and their digest category",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return &exitError{code: app.ExitFatal, err: err}
			}
			set, err := cfg.LoadTopics()
			if err != nil {
				return &exitError{code: app.ExitFatal, err: fmt.Errorf("load topics: %w", err)}
			}

			categorizer := digest.NewCategorizer(set.Buckets)
			t := table.NewWriter()
			t.SetOutputMirror(cmd.OutOrStdout())
			t.SetStyle(table.StyleLight)
			t.AppendHeader(table.Row{"#", "Topic", "Category"})
			for i, topic := range set.Topics {
				t.AppendRow(table.Row{i + 1, topic, categorizer.Classify(topic)})
			}
			t.AppendFooter(table.Row{"", "Total", len(set.Topics)})
			t.Render()
			return nil
		},
	}
}
