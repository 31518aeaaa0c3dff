package main

import (
	"fmt"
	"os"

	"github.com/jaywantadh/ThreadByte/internal/dfs"
	"github.com/spf13/cobra"
)

type DownloadFlags struct {
	ThreadID string
	Name     string
	Dst      string
}

var downloadFlags DownloadFlags

// downloadCmd represents the download command
var downloadCmd = &cobra.Command{
	Use:   "download",
	Short: "Download a file from its thread",
	Long: `Download a file by thread id, by indexed file name, or both. The
destination may be a local path, a file:// URI or an s3://bucket/key
object; by default the file lands in the download directory.`,
	PreRunE: func(cmd *cobra.Command, args []string) error {
		return validateDownloadFlags(&downloadFlags)
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDownload(cmd, &downloadFlags)
	},
}

func init() {
	rootCmd.AddCommand(downloadCmd)

	downloadCmd.Flags().StringVarP(&downloadFlags.ThreadID, "thread", "t", "", "thread holding the chunks")
	downloadCmd.Flags().StringVarP(&downloadFlags.Name, "name", "n", "", "indexed file name")
	downloadCmd.Flags().StringVarP(&downloadFlags.Dst, "dst", "d", "", "destination (default is download_dir/name)")
}

func validateDownloadFlags(flags *DownloadFlags) error {
	if flags.ThreadID == "" && flags.Name == "" {
		return fmt.Errorf("either --thread or --name is required")
	}
	return nil
}

func runDownload(cmd *cobra.Command, flags *DownloadFlags) error {
	ctx, cancel := createContext()
	defer cancel()

	svc, err := createServices(cfg)
	if err != nil {
		return err
	}
	defer svc.Close()

	task, dest, err := svc.core.DownloadFile(ctx, dfs.DownloadFileRequest{
		ThreadID: flags.ThreadID,
		FileName: flags.Name,
		Dest:     flags.Dst,
	})
	if err != nil {
		return err
	}

	if err := followTask(ctx, os.Stdout, task, "Downloading "+dest); err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "Saved to %s\n", dest)
	return nil
}
