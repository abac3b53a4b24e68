package cmd

import (
	"fmt"
	"strconv"
	"text/tabwriter"

	"gemchat/internal/models"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
)

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("62")).
			Padding(0, 1)

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("212"))

	idStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("240")).
		Italic(true)

	countStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42")).
			Bold(true)

	dateStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243"))

	userStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("39")).
			Bold(true)

	modelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("212")).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))
)

var sessionsCmd = &cobra.Command{
	Use:     "sessions",
	Aliases: []string{"list"},
	Short:   "List sessions, most recent first",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()

		sessions := a.chat.Sessions()
		var activeID int64
		if active := a.chat.Active(); active != nil {
			activeID = active.ID
		}
		out := cmd.OutOrStdout()
		fmt.Fprintln(out, headerStyle.Render(fmt.Sprintf("%d session(s)", len(sessions))))

		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "\tID\tTITLE\tMESSAGES\tUPDATED")
		for _, s := range sessions {
			marker := " "
			if s.ID == activeID {
				marker = "*"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
				marker,
				idStyle.Render(strconv.FormatInt(s.ID, 10)),
				titleStyle.Render(s.Title),
				countStyle.Render(strconv.Itoa(len(s.Visible()))),
				dateStyle.Render(s.Updated().Format("2006-01-02 15:04")),
			)
		}
		return w.Flush()
	},
}

var showCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Print the visible messages of a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid session id %q", args[0])
		}
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()

		s, err := a.chat.Session(id)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintln(out, titleStyle.Render(s.Title))
		for _, m := range s.Visible() {
			fmt.Fprintln(out)
			fmt.Fprintln(out, roleLabel(m))
			fmt.Fprintln(out, m.Text)
			for _, att := range m.Attachments {
				fmt.Fprintln(out, dateStyle.Render(fmt.Sprintf("[%s %s]", att.MIMEType, att.Name)))
			}
		}
		return nil
	},
}

func roleLabel(m models.Message) string {
	if m.Role == models.RoleUser {
		return userStyle.Render("you")
	}
	label := modelStyle.Render(string(m.Role))
	if m.ModelID != "" {
		label += " " + idStyle.Render(m.ModelID)
	}
	if m.Error {
		label += " " + errorStyle.Render("(error)")
	}
	return label
}

func init() {
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(showCmd)
}
