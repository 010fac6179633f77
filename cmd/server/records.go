package main

import (
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/lexiqai/interview-assistant/internal/interview"
	"github.com/lexiqai/interview-assistant/internal/records"
)

var recordsCmd = &cobra.Command{
	Use:   "records",
	Short: "Inspect saved interview records",
}

var listRecordsCmd = &cobra.Command{
	Use:   "list",
	Short: "List saved interviews, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		list, err := store.List(cmd.Context())
		if err != nil {
			return err
		}
		if len(list) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No interview records")
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tCREATED\tJOB TITLE\tTURNS")
		for _, record := range list {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\n",
				record.ID,
				record.CreatedAt.Local().Format("2006-01-02 15:04"),
				record.JobTitle,
				len(record.Conversation))
		}
		return w.Flush()
	},
}

var exportRecordCmd = &cobra.Command{
	Use:   "export [id]",
	Short: "Write an interview as markdown; defaults to the newest",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, _ := cmd.Flags().GetString("dir")

		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		var record interview.Record
		if len(args) == 1 {
			record, err = store.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
		} else {
			list, err := store.List(cmd.Context())
			if err != nil {
				return err
			}
			if len(list) == 0 {
				return records.ErrNotFound
			}
			record = list[0]
		}

		path := filepath.Join(dir, interview.ExportFileName(record))
		if err := os.WriteFile(path, []byte(interview.BuildMarkdown(record)), 0o644); err != nil {
			return fmt.Errorf("failed to write export: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), path)
		return nil
	},
}

func init() {
	exportRecordCmd.Flags().String("dir", ".", "Directory to write the markdown file to")
	recordsCmd.AddCommand(listRecordsCmd)
	recordsCmd.AddCommand(exportRecordCmd)
}

func openStore() (*records.SQLiteStore, error) {
	cfg, _, err := bootstrap()
	if err != nil {
		return nil, err
	}
	return records.OpenSQLite(cfg.RecordsDBPath, cfg.RecordsStorageKey)
}
