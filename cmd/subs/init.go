package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Veraticus/subscription-copilot/internal/cli"
	"github.com/Veraticus/subscription-copilot/internal/config"
)

// wizardQuestion is one prompt of the setup wizard. Empty answers keep the
// default, or skip the key when there is none.
type wizardQuestion struct {
	section string
	key     string
	prompt  string
	def     string
}

var wizardQuestions = []wizardQuestion{
	{section: "Storage", key: "database.path", prompt: "Database file", def: "~/.config/subs/subs.db"},
	{section: "Gmail", key: "gmail.client_id", prompt: "OAuth client ID"},
	{section: "Gmail", key: "gmail.client_secret", prompt: "OAuth client secret"},
	{section: "Plaid", key: "plaid.client_id", prompt: "Client ID"},
	{section: "Plaid", key: "plaid.secret", prompt: "Secret"},
	{section: "Plaid", key: "plaid.environment", prompt: "Environment (sandbox/production)", def: "sandbox"},
	{section: "GoCardless", key: "nordigen.secret_id", prompt: "Secret ID"},
	{section: "GoCardless", key: "nordigen.secret_key", prompt: "Secret key"},
	{section: "SimpleFIN", key: "simplefin.token", prompt: "Setup token"},
}

func initCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a config file interactively",
		Long: `Walk through the settings subs needs and write them to a config file.

Leave an answer empty to skip a provider. Existing values in the file are kept
unless you answer the question again.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := config.DefaultFile()
			if cfgFile != "" {
				path = config.ExpandPath(cfgFile)
			}
			return runWizard(cmd.InOrStdin(), cmd.OutOrStdout(), path)
		},
	}
	return cmd
}

func runWizard(in io.Reader, out io.Writer, path string) error {
	if _, err := os.Stat(path); err == nil {
		_, _ = fmt.Fprintln(out, cli.FormatInfo("Updating "+path))
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to check config file: %w", err)
	}

	_, _ = fmt.Fprintln(out, cli.FormatTitle(cli.CardIcon+" subs setup"))

	scanner := bufio.NewScanner(in)
	values := make(map[string]any)
	section := ""
	for _, q := range wizardQuestions {
		if q.section != section {
			section = q.section
			_, _ = fmt.Fprintln(out, "\n"+cli.TitleStyle.Render(section))
		}

		label := q.prompt
		if q.def != "" {
			label += " [" + q.def + "]"
		}
		_, _ = fmt.Fprint(out, cli.FormatPrompt(label+": "))

		answer := ""
		if scanner.Scan() {
			answer = strings.TrimSpace(scanner.Text())
		} else if err := scanner.Err(); err != nil {
			return fmt.Errorf("failed to read answer: %w", err)
		}
		if answer == "" {
			answer = q.def
		}
		if answer != "" {
			values[q.key] = answer
		}
	}

	if len(values) == 0 {
		_, _ = fmt.Fprintln(out, cli.FormatWarning("Nothing to write"))
		return nil
	}
	if err := config.SetValues(path, values); err != nil {
		return err
	}

	_, _ = fmt.Fprintln(out)
	_, _ = fmt.Fprintln(out, cli.FormatSuccess("Wrote "+path))
	_, _ = fmt.Fprintln(out, cli.FormatInfo("Next: 'subs auth gmail' to connect a mailbox, then 'subs scan'"))
	return nil
}
