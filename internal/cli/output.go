package cli

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/tis24dev/proxmox-b2/internal/config"
	"github.com/tis24dev/proxmox-b2/internal/orchestrator"
	"github.com/tis24dev/proxmox-b2/internal/storage"
	"github.com/tis24dev/proxmox-b2/pkg/utils"
)

// Byte totals are printed with digit grouping so large targets stay readable.
var printer = message.NewPrinter(language.English)

func printRunSummary(w io.Writer, result *orchestrator.RunResult) {
	if result == nil || result.Run == nil {
		return
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Run %s: %s (exit %d, stage %s)\n", result.Run.ID, result.ExitCode, result.ExitCode.Int(), result.Stage)
	if a := result.Archive; a != nil {
		printer.Fprintf(w, "  Archive:   %s (%s, %d bytes)\n", a.Name, utils.FormatBytes(a.Size), a.Size)
		if len(a.Skipped) > 0 {
			fmt.Fprintf(w, "  Skipped:   %s\n", strings.Join(a.Skipped, ", "))
		}
	}
	fmt.Fprintf(w, "  Upload:    %s\n", result.Upload)
	if p := result.Prune; p != nil {
		fmt.Fprintf(w, "  Retention: %d deleted, %d failed, %d remaining\n", len(p.Deleted), len(p.Failed), p.Remaining())
	} else if result.PruneErr != nil {
		fmt.Fprintf(w, "  Retention: not applied (%v)\n", result.PruneErr)
	}
	if result.LocalRemoved {
		fmt.Fprintln(w, "  Local:     removed")
	}
	fmt.Fprintf(w, "  Duration:  %s\n", result.Duration.Round(time.Millisecond))
}

func printInventory(w io.Writer, inv *orchestrator.Inventory, run *orchestrator.Run, withRemote bool, now time.Time) {
	fmt.Fprintf(w, "Local archives in %s\n", run.ArchiveDir)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "  NAME\tSIZE\tAGE\tCHECKSUM")
	var localTotal int64
	for _, a := range inv.Local {
		localTotal += a.Size
		fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\n", a.Name, utils.FormatBytes(a.Size), archiveAge(a.Name, now), yesNo(a.HasChecksum))
	}
	_ = tw.Flush()
	printer.Fprintf(w, "%d local archive(s), %d bytes\n", len(inv.Local), localTotal)

	if !withRemote {
		return
	}
	fmt.Fprintf(w, "\nRemote archives at %s\n", run.Target)
	if inv.RemoteErr != nil {
		fmt.Fprintf(w, "  unavailable: %v\n", inv.RemoteErr)
		return
	}
	tw = tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "  NAME\tSIZE\tAGE\tCHECKSUM")
	for _, a := range inv.Remote {
		fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\n", a.Name, utils.FormatBytes(a.Size), archiveAge(a.Name, now), yesNo(a.HasChecksum))
	}
	_ = tw.Flush()
	if st := inv.RemoteStats; st != nil {
		printer.Fprintf(w, "%d remote archive(s), %d checksum file(s), %d bytes (keep %d)\n", st.Archives, st.Sidecars, st.TotalSize, run.Keep)
	}
}

func printPruneResult(w io.Writer, res *storage.PruneResult, run *orchestrator.Run) {
	if run.DryRun {
		fmt.Fprintf(w, "Retention (dry run) at %s: remote not listed, keep %d\n", run.Target, run.Keep)
		return
	}
	fmt.Fprintf(w, "Retention at %s: %d archive(s), keep %d, %d deleted, %d failed, %d remaining\n",
		run.Target, res.Listed, run.Keep, len(res.Deleted), len(res.Failed), res.Remaining())
	for name, err := range res.Failed {
		fmt.Fprintf(w, "  failed %s: %v\n", name, err)
	}
}

func printUpgradeResult(w io.Writer, path string, res *config.UpgradeResult, dryRun bool) {
	switch {
	case !res.Changed:
		fmt.Fprintf(w, "%s is up to date (%d value(s))\n", path, res.PreservedValues)
		return
	case dryRun:
		fmt.Fprintf(w, "%s would be upgraded (dry run)\n", path)
	default:
		fmt.Fprintf(w, "%s upgraded, previous version saved as %s\n", path, res.BackupPath)
	}
	if len(res.MissingKeys) > 0 {
		fmt.Fprintf(w, "  added:  %s\n", strings.Join(res.MissingKeys, ", "))
	}
	if len(res.ExtraKeys) > 0 {
		fmt.Fprintf(w, "  custom: %s\n", strings.Join(res.ExtraKeys, ", "))
	}
}

func archiveDetail(obj storage.RemoteObject, now time.Time) string {
	return fmt.Sprintf("%s, age %s", utils.FormatBytes(obj.Size), archiveAge(obj.Name, now))
}

func archiveAge(name string, now time.Time) string {
	ts, ok := storage.ParseArchiveTimestamp(name)
	if !ok {
		return "-"
	}
	return utils.FormatAge(now.Sub(ts))
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}
