package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/treykane/sshtunnel/internal/doctor"
	"github.com/treykane/sshtunnel/internal/security"
)

func newDoctorCmd(s *session) *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check ssh, saved tunnels, keys and local ports for problems",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := doctor.Run()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if jsonOut {
				if report.Issues == nil {
					report.Issues = []doctor.Issue{}
				}
				return writeJSON(out, report)
			}
			if len(report.Issues) == 0 {
				fmt.Fprintln(out, "No issues found.")
				return nil
			}
			for _, issue := range report.Issues {
				writeFinding(out, string(issue.Severity), issue.Check+" "+issue.Target, issue.Message, issue.Recommendation)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "output JSON")
	return cmd
}

func newAuditCmd(s *session) *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Audit permissions of credential, key and config files",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := security.RunLocalAudit()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if jsonOut {
				if report.Findings == nil {
					report.Findings = []security.Finding{}
				}
				return writeJSON(out, report)
			}
			if len(report.Findings) == 0 {
				fmt.Fprintln(out, "No findings.")
				return nil
			}
			for _, f := range report.Findings {
				writeFinding(out, string(f.Severity), f.Target, f.Message, f.Recommendation)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "output JSON")
	return cmd
}

func writeFinding(out io.Writer, severity, target, message, recommendation string) {
	fmt.Fprintf(out, "[%s] %s: %s\n", strings.ToUpper(severity), strings.TrimSpace(target), message)
	if recommendation != "" {
		fmt.Fprintf(out, "       %s\n", recommendation)
	}
}
