package main

import (
	"fmt"

	"relay/internal/core"

	"github.com/spf13/cobra"
)

func pickupCmd(newClient func() *core.Client) *cobra.Command {
	var (
		dir       string
		printOnly bool
	)

	cmd := &cobra.Command{
		Use:   "pickup <code>",
		Short: "Download a transfer by its pickup code",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			link, err := client.Resolve(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if printOnly {
				fmt.Println(link)
				return nil
			}
			return download(cmd, client, link, dir)
		},
	}

	cmd.Flags().StringVarP(&dir, "output", "o", ".", "directory to save into")
	cmd.Flags().BoolVar(&printOnly, "print", false, "print the download link instead of downloading")

	return cmd
}

func getCmd(newClient func() *core.Client) *cobra.Command {
	var dir string

	cmd := &cobra.Command{
		Use:   "get <link>",
		Short: "Download a transfer by its link",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return download(cmd, newClient(), args[0], dir)
		},
	}

	cmd.Flags().StringVarP(&dir, "output", "o", ".", "directory to save into")

	return cmd
}

func download(cmd *cobra.Command, client *core.Client, link, dir string) error {
	path, n, err := client.Download(cmd.Context(), link, dir)
	if err != nil {
		return err
	}
	success("saved %s (%s)", path, humanize(n))
	return nil
}
