package main

import (
	"fmt"

	"relay/internal/core"

	"github.com/spf13/cobra"
)

func sendCmd(newClient func() *core.Client) *cobra.Command {
	var quiet bool

	cmd := &cobra.Command{
		Use:   "send <file|dir>...",
		Short: "Upload files and print a download link and pickup code",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			parsed, err := core.ParseArgs(args)
			if err != nil {
				return err
			}
			files, err := core.CollectFiles(parsed)
			if err != nil {
				return err
			}

			payload := core.NewPayload(files)
			total := core.TotalSize(files)
			if !quiet {
				info("sending %d file(s), %s", len(files), humanize(total))
			}

			done := make(chan struct{})
			progressDone := make(chan struct{})
			go func() {
				defer close(progressDone)
				if !quiet {
					reportProgress(payload, total, done)
				}
			}()

			res, err := newClient().Send(cmd.Context(), payload)
			close(done)
			<-progressDone
			if err != nil {
				return err
			}

			if quiet {
				fmt.Println(res.DownloadLink)
				return nil
			}
			success("uploaded %s", res.Filename)
			info("link:        %s", res.DownloadLink)
			info("pickup code: %s", res.PickupCode)
			info("blake3:      %s", res.Checksum)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "print only the download link")

	return cmd
}
