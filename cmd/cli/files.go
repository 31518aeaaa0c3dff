package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/jaywantadh/ThreadByte/internal/metadata"
	"github.com/jaywantadh/ThreadByte/internal/transfer"
	"github.com/spf13/cobra"
)

var filesFilter struct {
	Name   string
	Thread string
	Status string
}

var filesCmd = &cobra.Command{
	Use:   "files",
	Short: "List indexed files",
	RunE: func(cmd *cobra.Command, args []string) error {
		meta, err := openIndex(cfg)
		if err != nil {
			return err
		}
		defer meta.Close()

		recs, err := meta.ListFiles(metadata.Filter{
			FileName: filesFilter.Name,
			ThreadID: filesFilter.Thread,
			Status:   transfer.Status(filesFilter.Status),
		})
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "THREAD\tNAME\tSIZE\tCHUNKS\tSTATUS\tCREATED")
		for _, r := range recs {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
				r.ThreadID, r.FileName, transfer.FormatBytes(r.Size), r.ChunkCount, r.Status,
				r.CreatedAt.Local().Format("2006-01-02 15:04"))
		}
		return w.Flush()
	},
}

var rmFlags struct {
	Thread string
	Name   string
}

var rmCmd = &cobra.Command{
	Use:   "rm",
	Short: "Remove a file from the index (the thread is kept)",
	RunE: func(cmd *cobra.Command, args []string) error {
		meta, err := openIndex(cfg)
		if err != nil {
			return err
		}
		defer meta.Close()

		if err := meta.DeleteFile(rmFlags.Thread, rmFlags.Name); err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "🗑️ Removed %s (thread %s) from the index\n", rmFlags.Name, rmFlags.Thread)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(filesCmd, rmCmd)

	filesCmd.Flags().StringVarP(&filesFilter.Name, "name", "n", "", "only files with this name")
	filesCmd.Flags().StringVarP(&filesFilter.Thread, "thread", "t", "", "only files in this thread")
	filesCmd.Flags().StringVarP(&filesFilter.Status, "status", "s", "", "only files with this status")

	rmCmd.Flags().StringVarP(&rmFlags.Thread, "thread", "t", "", "thread of the record (required)")
	rmCmd.Flags().StringVarP(&rmFlags.Name, "name", "n", "", "file name of the record (required)")
	rmCmd.MarkFlagRequired("thread")
	rmCmd.MarkFlagRequired("name")
}
