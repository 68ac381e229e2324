package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"portab/internal/app"
	"portab/internal/portab"
)

func reportWritten(w io.Writer, res *portab.Exported, out string) {
	for _, warning := range res.Warnings {
		fmt.Fprintf(w, "warning: %s\n", warning)
	}
	if out == "-" {
		return
	}
	c := res.Container
	fmt.Fprintf(w, "Wrote %s (%d windows, %d tabs)\n", out, c.Metadata.WindowCount, c.Metadata.TabCount)
}

var exportCmd = &cobra.Command{
	Use:   "export SNAPSHOT",
	Short: "Build a container from a browser snapshot",
	Long: `Build a container from a JSON or YAML snapshot of browser windows
("-" reads stdin). Internal pages are dropped, titles are cleaned and the
result is written as a .portab file, or as a password-sealed .sportab file
with --seal.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		a, err := newApp(cmd, "Export", true, args[0])
		if err != nil {
			return err
		}
		defer closeApp(a, &err)

		p := app.ExportParams{Input: args[0]}
		p.Output, _ = cmd.Flags().GetString("output")
		p.Name, _ = cmd.Flags().GetString("name")
		p.Selection, _ = cmd.Flags().GetStringSlice("select")
		p.Privacy, _ = cmd.Flags().GetBool("privacy")
		p.Secure, _ = cmd.Flags().GetBool("secure")
		p.Overwrite, _ = cmd.Flags().GetBool("force")
		if seal, _ := cmd.Flags().GetBool("seal"); seal {
			if p.Password, err = readPassword(cmd, "password-env", "New password", true); err != nil {
				return err
			}
		}

		res, out, err := a.Export(cmd.Context(), p)
		if err != nil {
			return err
		}
		reportWritten(cmd.ErrOrStderr(), res, out)
		return nil
	},
}

var inspectCmd = &cobra.Command{
	Use:     "inspect FILE",
	Aliases: []string{"import"},
	Short:   "Verify a container and show its windows and tabs",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		format, _ := cmd.Flags().GetString("output")

		a, err := newApp(cmd, "Inspect", true, args[0])
		if err != nil {
			return err
		}
		defer closeApp(a, &err)

		return withInputPassword(cmd, args[0], func(password string) error {
			c, err := a.Inspect(cmd.Context(), args[0], password)
			if err != nil {
				return err
			}
			return renderContainer(cmd.OutOrStdout(), c, format)
		})
	},
}

// runRewrite backs select, seal and open.
func runRewrite(cmd *cobra.Command, operation string, p app.RewriteParams, sealOutput bool) (err error) {
	a, err := newApp(cmd, operation, true, p.Input)
	if err != nil {
		return err
	}
	defer closeApp(a, &err)

	p.Output, _ = cmd.Flags().GetString("output")
	p.Overwrite, _ = cmd.Flags().GetBool("force")
	if sealOutput {
		if p.OutPassword, err = readPassword(cmd, "out-password-env", "New password", true); err != nil {
			return err
		}
	}

	return withInputPassword(cmd, p.Input, func(password string) error {
		p.InPassword = password
		res, out, err := a.Rewrite(cmd.Context(), p)
		if err != nil {
			return err
		}
		reportWritten(cmd.ErrOrStderr(), res, out)
		return nil
	})
}

var selectCmd = &cobra.Command{
	Use:   "select FILE WINDOW:TAB...",
	Short: "Write a new container holding only the chosen tabs",
	Long: `Write a new container holding only the chosen tabs. Tabs are named
window_key:tab_id as shown by inspect. Output windows follow the order in
which the references first name them; tabs keep their original order.`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		seal, _ := cmd.Flags().GetBool("seal")
		return runRewrite(cmd, "Select", app.RewriteParams{Input: args[0], Selection: args[1:]}, seal)
	},
}

var sealCmd = &cobra.Command{
	Use:   "seal FILE",
	Short: "Encrypt a plain container with a password",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRewrite(cmd, "Seal", app.RewriteParams{Input: args[0]}, true)
	},
}

var openCmd = &cobra.Command{
	Use:   "open FILE",
	Short: "Decrypt a sealed container into a plain one",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRewrite(cmd, "Open", app.RewriteParams{Input: args[0]}, false)
	},
}

var verifyCmd = &cobra.Command{
	Use:   "verify FILE...",
	Short: "Check container files for corruption or tampering",
	Long: `Check container files. Plain files are checked against their
signature and validated. Sealed files are checked for a well-formed envelope;
with --password-env they are opened and validated as well.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		envVar, _ := cmd.Flags().GetString("password-env")
		password := ""
		if envVar != "" {
			if password, err = app.NewPasswordSource(envVar).Read("Password", false); err != nil {
				return err
			}
		}

		a, err := newApp(cmd, "Verify", true, args...)
		if err != nil {
			return err
		}
		defer closeApp(a, &err)

		failed := 0
		for _, res := range a.VerifyAll(cmd.Context(), args, password) {
			if res.Err != nil {
				failed++
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %s: %v\n", failStyle.Render("bad"), res.Path, res.Err)
				continue
			}
			renderVerify(cmd.OutOrStdout(), res.Path, res.Report)
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d files failed verification", failed, len(args))
		}
		return nil
	},
}

func init() {
	exportCmd.Flags().StringP("output", "o", "", "Output file; extension added if missing (default stdout)")
	exportCmd.Flags().String("name", "", "Container name (default: output file name)")
	exportCmd.Flags().StringSlice("select", nil, "Only export these tabs (window_key:tab_id, comma separated)")
	exportCmd.Flags().Bool("privacy", false, "Strip tracking parameters, redact titles and drop favicons")
	exportCmd.Flags().Bool("secure", false, "Hide titles and drop favicons")
	exportCmd.Flags().Bool("seal", false, "Encrypt the output with a password")
	exportCmd.Flags().String("password-env", "", "Read the password from this environment variable")
	exportCmd.Flags().BoolP("force", "f", false, "Overwrite an existing output file")

	inspectCmd.Flags().StringP("output", "o", "text", "Output format: text, json, yaml or html")
	inspectCmd.Flags().String("password-env", "", "Read the password from this environment variable")

	for _, c := range []*cobra.Command{selectCmd, sealCmd, openCmd} {
		c.Flags().StringP("output", "o", "", "Output file; extension added if missing (default stdout)")
		c.Flags().BoolP("force", "f", false, "Overwrite an existing output file")
		c.Flags().String("password-env", "", "Read the input password from this environment variable")
	}
	selectCmd.Flags().Bool("seal", false, "Encrypt the output with a password")
	selectCmd.Flags().String("out-password-env", "", "Read the output password from this environment variable")
	sealCmd.Flags().String("out-password-env", "", "Read the output password from this environment variable")

	verifyCmd.Flags().String("password-env", "", "Open sealed files with the password in this environment variable")

	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(selectCmd)
	rootCmd.AddCommand(sealCmd)
	rootCmd.AddCommand(openCmd)
	rootCmd.AddCommand(verifyCmd)
}
