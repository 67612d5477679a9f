// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/bureau-foundation/bundle/lib/deploy"
)

// reportStyles colours report output. The renderer is bound to the
// report's writer, so output to a pipe or file is plain text.
type reportStyles struct {
	heading lipgloss.Style
	added   lipgloss.Style
	changed lipgloss.Style
	deleted lipgloss.Style
	failure lipgloss.Style
	muted   lipgloss.Style
}

func newReportStyles(w io.Writer) reportStyles {
	renderer := lipgloss.NewRenderer(w)
	return reportStyles{
		heading: renderer.NewStyle().Bold(true),
		added:   renderer.NewStyle().Foreground(lipgloss.Color("2")),
		changed: renderer.NewStyle().Foreground(lipgloss.Color("3")),
		deleted: renderer.NewStyle().Foreground(lipgloss.Color("1")),
		failure: renderer.NewStyle().Foreground(lipgloss.Color("1")).Bold(true),
		muted:   renderer.NewStyle().Faint(true),
	}
}

func writeDeploymentReport(w io.Writer, report deploymentReport) error {
	styles := newReportStyles(w)
	var builder strings.Builder

	bundle := fmt.Sprintf("%s %s", report.Bundle, report.Version)
	switch report.Mode {
	case "preview":
		fmt.Fprintf(&builder, "%s\n", styles.heading.Render(
			fmt.Sprintf("Preview of %s into %s", bundle, report.DeployDir)))
		fmt.Fprintf(&builder, "%s\n", styles.muted.Render("Dry run: nothing was changed."))
	case "revert":
		fmt.Fprintf(&builder, "%s\n", styles.heading.Render(
			fmt.Sprintf("Reverted %s in %s (deployment %d)", bundle, report.DeployDir, report.DeploymentID)))
	default:
		fmt.Fprintf(&builder, "%s\n", styles.heading.Render(
			fmt.Sprintf("Deployed %s to %s (deployment %d)", bundle, report.DeployDir, report.DeploymentID)))
	}

	writeChanges(&builder, styles, report.Changes)
	_, err := io.WriteString(w, builder.String())
	return err
}

func writeChanges(builder *strings.Builder, styles reportStyles, changes deploy.Summary) {
	if isEmptySummary(changes) {
		fmt.Fprintf(builder, "%s\n", styles.muted.Render("No changes."))
		return
	}
	if changes.Cleaned {
		fmt.Fprintf(builder, "%s\n", styles.changed.Render("Destination was cleaned before deploying."))
	}
	for _, path := range changes.Added {
		fmt.Fprintf(builder, "  %s\n", styles.added.Render("+ "+path))
	}
	for _, path := range changes.Changed {
		fmt.Fprintf(builder, "  %s\n", styles.changed.Render("~ "+path))
	}
	for _, path := range changes.Deleted {
		fmt.Fprintf(builder, "  %s\n", styles.deleted.Render("- "+path))
	}
	if len(changes.Realized) > 0 {
		fmt.Fprintf(builder, "Templated: %s\n", strings.Join(changes.Realized, ", "))
	}
	if len(changes.Ignored) > 0 {
		fmt.Fprintf(builder, "%s\n", styles.muted.Render("Ignored: "+strings.Join(changes.Ignored, ", ")))
	}
	writePathMap(builder, "Backed up", changes.BackedUp)
	writePathMap(builder, "Restored", changes.Restored)
	if len(changes.Errors) > 0 {
		fmt.Fprintf(builder, "%s\n", styles.failure.Render("Errors:"))
		for _, path := range sortedPaths(changes.Errors) {
			fmt.Fprintf(builder, "  %s: %s\n", path, changes.Errors[path])
		}
	}
}

func writePathMap(builder *strings.Builder, title string, paths map[string]string) {
	if len(paths) == 0 {
		return
	}
	fmt.Fprintf(builder, "%s:\n", title)
	writer := tabwriter.NewWriter(builder, 2, 0, 2, ' ', 0)
	for _, path := range sortedPaths(paths) {
		fmt.Fprintf(writer, "  %s\t-> %s\n", path, paths[path])
	}
	writer.Flush()
}

func sortedPaths(paths map[string]string) []string {
	return slices.Sorted(maps.Keys(paths))
}

func isEmptySummary(changes deploy.Summary) bool {
	return len(changes.Added) == 0 && len(changes.Changed) == 0 && len(changes.Deleted) == 0 &&
		len(changes.Ignored) == 0 && len(changes.Realized) == 0 && len(changes.BackedUp) == 0 &&
		len(changes.Restored) == 0 && len(changes.Errors) == 0 && !changes.Cleaned
}

func writeStatus(w io.Writer, result statusResult) error {
	styles := newReportStyles(w)
	var builder strings.Builder

	if !result.Managed {
		fmt.Fprintf(&builder, "%s has no recorded deployment.\n", result.DeployDir)
		_, err := io.WriteString(w, builder.String())
		return err
	}

	current := result.Current
	fmt.Fprintf(&builder, "%s\n", styles.heading.Render(
		fmt.Sprintf("%s %s (deployment %d)", current.BundleName, current.BundleVersion, current.DeploymentID)))
	writer := tabwriter.NewWriter(&builder, 2, 0, 2, ' ', 0)
	fmt.Fprintf(writer, "  Directory:\t%s\n", result.DeployDir)
	fmt.Fprintf(writer, "  Compliance:\t%s\n", deploy.ComplianceModeOrDefault(current.Compliance))
	if !current.DeployedAt.IsZero() {
		fmt.Fprintf(writer, "  Deployed:\t%s\n", current.DeployedAt.UTC().Format(time.RFC3339))
	}
	if result.Previous != nil {
		fmt.Fprintf(writer, "  Previous:\t%s %s (deployment %d)\n",
			result.Previous.BundleName, result.Previous.BundleVersion, result.Previous.DeploymentID)
	}
	writer.Flush()

	if result.Changes != nil {
		fmt.Fprintf(&builder, "\n%s\n", styles.heading.Render("Changes"))
		writeChanges(&builder, styles, *result.Changes)
	}
	_, err := io.WriteString(w, builder.String())
	return err
}

func writeHistory(w io.Writer, deployDir string, entries []historyEntry) error {
	if len(entries) == 0 {
		_, err := fmt.Fprintf(w, "%s has no recorded deployments.\n", deployDir)
		return err
	}

	styles := newReportStyles(w)
	var builder strings.Builder
	writer := tabwriter.NewWriter(&builder, 2, 0, 2, ' ', 0)
	fmt.Fprintf(writer, "ID\tBUNDLE\tVERSION\tDEPLOYED\tBACKUPS\t\n")
	for _, entry := range entries {
		deployed := "-"
		if !entry.DeployedAt.IsZero() {
			deployed = entry.DeployedAt.UTC().Format(time.RFC3339)
		}
		marker := ""
		if entry.Current {
			marker = "current"
		}
		fmt.Fprintf(writer, "%d\t%s\t%s\t%s\t%d\t%s\n",
			entry.DeploymentID, entry.BundleName, entry.BundleVersion, deployed, len(entry.Backups), marker)
	}
	writer.Flush()

	lines := strings.SplitAfter(builder.String(), "\n")
	var output strings.Builder
	for i, line := range lines {
		if i == 0 {
			output.WriteString(styles.heading.Render(strings.TrimRight(line, "\n")) + "\n")
			continue
		}
		output.WriteString(line)
	}
	_, err := io.WriteString(w, output.String())
	return err
}
