package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"portab/internal/app"
)

var archiveCmd = &cobra.Command{
	Use:   "archive",
	Short: "Store containers in the vault and get them back",
}

var archivePushCmd = &cobra.Command{
	Use:   "push PATH...",
	Short: "Archive container files or directories of them",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		recursive, _ := cmd.Flags().GetBool("recursive")

		a, err := newApp(cmd, "ArchivePush", false, args...)
		if err != nil {
			return err
		}
		defer closeApp(a, &err)

		results, err := a.ArchivePush(cmd.Context(), args, recursive)
		renderPushResults(cmd.OutOrStdout(), results)
		if err != nil {
			return err
		}
		if len(results) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No container files found.")
			return nil
		}

		failed := 0
		for _, r := range results {
			if r.Err != nil {
				failed++
			}
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d files could not be archived", failed, len(results))
		}
		return nil
	},
}

var archivePullCmd = &cobra.Command{
	Use:   "pull ID",
	Short: "Retrieve an archived container",
	Long: `Retrieve an archived container by id or unique id prefix. The file
written is byte-identical to the one pushed; sealed containers stay sealed.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		a, err := newApp(cmd, "ArchivePull", false, args[0])
		if err != nil {
			return err
		}
		defer closeApp(a, &err)

		p := app.PullParams{ID: args[0]}
		p.Output, _ = cmd.Flags().GetString("output")
		p.Overwrite, _ = cmd.Flags().GetBool("force")

		needs, err := a.NeedsPassphrase(p.ID)
		if err != nil {
			return err
		}
		if needs {
			if p.Passphrase, err = readPassword(cmd, "passphrase-env", "Archive key passphrase", false); err != nil {
				return err
			}
		}

		archive, out, err := a.ArchivePull(cmd.Context(), p)
		if err != nil {
			return err
		}
		if out != "-" {
			fmt.Fprintf(cmd.ErrOrStderr(), "Wrote %s (archive %s)\n", out, shortID(archive.ID))
		}
		return nil
	},
}

var archiveListCmd = &cobra.Command{
	Use:   "list",
	Short: "List archived containers",
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := newApp(cmd, "ArchiveList", false)
		if err != nil {
			return err
		}
		defer closeApp(a, &err)

		archives, err := a.ListArchives(limit)
		if err != nil {
			return err
		}
		renderArchives(cmd.OutOrStdout(), archives)
		return nil
	},
}

func init() {
	archivePushCmd.Flags().BoolP("recursive", "r", false, "Recurse into subdirectories")

	archivePullCmd.Flags().StringP("output", "o", "", "Output file (default: archive name in the current directory, - for stdout)")
	archivePullCmd.Flags().BoolP("force", "f", false, "Overwrite an existing output file")
	archivePullCmd.Flags().String("passphrase-env", "", "Read the archive key passphrase from this environment variable")

	archiveListCmd.Flags().IntP("limit", "n", 50, "Maximum number of archives to show")

	archiveCmd.AddCommand(archivePushCmd)
	archiveCmd.AddCommand(archivePullCmd)
	archiveCmd.AddCommand(archiveListCmd)
	rootCmd.AddCommand(archiveCmd)
}
