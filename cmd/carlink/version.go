package main

import (
	"fmt"
	"io"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/skobkin/carlinkgo/internal/app"
)

func versionCmd() *cobra.Command {
	var (
		short    bool
		check    bool
		endpoint string
	)

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			if short {
				fmt.Fprintln(out, app.BuildVersion())
			} else {
				printVersion(out)
			}
			if !check {
				return nil
			}

			res, err := app.CheckForUpdate(cmd.Context(), nil, endpoint, app.BuildVersion())
			if err != nil {
				return fmt.Errorf("check for updates: %w", err)
			}
			if res.UpdateAvailable {
				fmt.Fprintf(out, "Update available: %s %s\n", res.Latest.Version, res.Latest.HTMLURL)
			} else {
				fmt.Fprintln(out, "Up to date")
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&short, "short", "s", false, "print only the version")
	cmd.Flags().BoolVar(&check, "check", false, "check for a newer release")
	cmd.Flags().StringVar(&endpoint, "release-url", app.DefaultReleaseQueryURL, "release API endpoint")
	_ = cmd.Flags().MarkHidden("release-url")

	return cmd
}

func printVersion(out io.Writer) {
	fmt.Fprintf(out, "carlink %s\n", app.BuildVersionWithDate())
	fmt.Fprintf(out, "  Go version: %s\n", runtime.Version())
	fmt.Fprintf(out, "  OS/Arch:    %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Fprintf(out, "  Source:     %s\n", app.SourceURL)
}
