package main

import (
	"fmt"
	"os"

	"github.com/jaywantadh/ThreadByte/internal/dfs"
	"github.com/spf13/cobra"
)

type UploadFlags struct {
	ChannelID string
	FilePath  string
	Name      string
}

var uploadFlags UploadFlags

// uploadCmd represents the upload command
var uploadCmd = &cobra.Command{
	Use:   "upload",
	Short: "Upload a file into a new thread",
	Long: `Upload a file into a new public thread of a text channel. The file may
be a local path, a file:// URI or an s3://bucket/key object.

The thread id printed at the end is what download needs; it is also
recorded in the local index under the file name.`,
	PreRunE: func(cmd *cobra.Command, args []string) error {
		return validateUploadFlags(&uploadFlags)
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runUpload(cmd, &uploadFlags)
	},
}

func init() {
	rootCmd.AddCommand(uploadCmd)

	uploadCmd.Flags().StringVarP(&uploadFlags.ChannelID, "channel", "c", "", "text channel to create the thread in (required)")
	uploadCmd.Flags().StringVarP(&uploadFlags.FilePath, "file", "f", "", "file to upload (required)")
	uploadCmd.Flags().StringVarP(&uploadFlags.Name, "name", "n", "", "stored file name (default is the file's base name)")

	uploadCmd.MarkFlagRequired("channel")
	uploadCmd.MarkFlagRequired("file")
}

func validateUploadFlags(flags *UploadFlags) error {
	if flags.ChannelID == "" {
		return fmt.Errorf("channel id is required")
	}
	if flags.FilePath == "" {
		return fmt.Errorf("file path is required")
	}
	return nil
}

func runUpload(cmd *cobra.Command, flags *UploadFlags) error {
	ctx, cancel := createContext()
	defer cancel()

	svc, err := createServices(cfg)
	if err != nil {
		return err
	}
	defer svc.Close()

	task, err := svc.core.UploadFile(ctx, dfs.UploadFileRequest{
		Source:      flags.FilePath,
		ContainerID: flags.ChannelID,
		Name:        flags.Name,
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stdout, "🧵 Thread %s created for %s\n", task.Handle, task.Name)
	if err := followTask(ctx, os.Stdout, task, "Uploading "+task.Name); err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "Thread ID: %s\n", task.Handle)
	return nil
}
