package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"schedtrack/internal/alerts"
	"schedtrack/internal/schedule"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate FILE...",
		Short: "Check schedule definition files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return validateFiles(cmd.OutOrStdout(), args)
		},
	}
}

func validateFiles(w io.Writer, files []string) error {
	var failed int
	for _, f := range files {
		sc, err := loadDefinition(f)
		if err != nil {
			failed++
			fmt.Fprintf(w, "FAIL %s: %v\n", f, err)
			continue
		}
		fmt.Fprintf(w, "ok   %s: %q, %d milestones\n", f, sc.Name(), len(sc.Milestones()))
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d definitions invalid", failed, len(files))
	}
	return nil
}

func loadDefinition(path string) (*schedule.Schedule, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return schedule.ParseDefinition(src)
}

type timingsOptions struct {
	file      string
	milestone string
	reference string
	refTime   string
	alertTime string
	timezone  string
	asJSON    bool
}

func newTimingsCmd() *cobra.Command {
	var o timingsOptions
	cmd := &cobra.Command{
		Use:   "timings",
		Short: "Print the alert instants a milestone would produce",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return printTimings(cmd.OutOrStdout(), o)
		},
	}
	f := cmd.Flags()
	f.StringVarP(&o.file, "file", "f", "", "schedule definition file")
	f.StringVar(&o.milestone, "milestone", "", "milestone name (default: first)")
	f.StringVar(&o.reference, "reference", "", "reference date YYYY-MM-DD")
	f.StringVar(&o.refTime, "time", "00:00", "reference time HH:MM")
	f.StringVar(&o.alertTime, "alert-time", "00:00", "preferred alert time HH:MM")
	f.StringVar(&o.timezone, "tz", "UTC", "IANA timezone of the reference date")
	f.BoolVar(&o.asJSON, "json", false, "print JSON")
	_ = cmd.MarkFlagRequired("file")
	_ = cmd.MarkFlagRequired("reference")
	return cmd
}

func printTimings(w io.Writer, o timingsOptions) error {
	sc, err := loadDefinition(o.file)
	if err != nil {
		return err
	}
	m, ok := sc.FirstMilestone()
	if o.milestone != "" {
		m, ok = sc.Milestone(o.milestone)
	}
	if !ok {
		return fmt.Errorf("milestone %q not found in %q", o.milestone, sc.Name())
	}
	loc, err := time.LoadLocation(o.timezone)
	if err != nil {
		return fmt.Errorf("--tz: %w", err)
	}
	day, err := time.ParseInLocation("2006-01-02", strings.TrimSpace(o.reference), loc)
	if err != nil {
		return errors.New("--reference: want YYYY-MM-DD")
	}
	refTime, err := schedule.ParseTime(o.refTime)
	if err != nil {
		return fmt.Errorf("--time: %w", err)
	}
	preferred, err := schedule.ParseTime(o.alertTime)
	if err != nil {
		return fmt.Errorf("--alert-time: %w", err)
	}

	timings := alerts.Calculate(m, refTime.On(day), preferred)
	if o.asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(timings)
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "WINDOW\tALERT\tOCCURRENCE\tAT\n")
	for _, t := range timings {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%s\n", t.Window, t.AlertIndex, t.Occurrence, t.At.Format("2006-01-02 15:04 MST"))
	}
	return tw.Flush()
}
