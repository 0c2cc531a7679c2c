package ui

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/yairfalse/snapwarden/executor"
	"github.com/yairfalse/snapwarden/inventory"
	"github.com/yairfalse/snapwarden/storage"
	"github.com/yairfalse/snapwarden/types"
	"github.com/yairfalse/snapwarden/wal"
)

// NoProject is shown for instances without a Project tag
const NoProject = "<no project>"

// PrintInstances lists instances with their placement, state and project
func PrintInstances(w io.Writer, instances []types.Instance) error {
	t := NewTable("ID", "Type", "AZ", "State", "Public DNS", "Project")
	counts := make(map[types.PowerState]int)

	for _, inst := range instances {
		indicator, style := StateStyle(inst.State)
		project := inst.Project()
		projectCell := Styled(project, ProjectStyle)
		if project == "" {
			projectCell = Styled(NoProject, MutedStyle)
		}
		t.AddRow(
			Styled(inst.ID, IDStyle),
			Plain(inst.Type),
			Plain(inst.AZ),
			Styled(indicator+" "+string(inst.State), style),
			Plain(inst.PublicDNSName),
			projectCell,
		)
		counts[inst.State]++
	}

	if err := t.Render(w); err != nil {
		return err
	}

	var parts []string
	for _, state := range []types.PowerState{types.PowerRunning, types.PowerStopped, types.PowerPending, types.PowerStopping} {
		if c := counts[state]; c > 0 {
			_, style := StateStyle(state)
			parts = append(parts, style.Render(fmt.Sprintf("%d %s", c, state)))
		}
	}
	summary := fmt.Sprintf("  %d instances", len(instances))
	if len(parts) > 0 {
		summary += " (" + strings.Join(parts, ", ") + ")"
	}
	_, err := fmt.Fprintln(w, summary)
	return err
}

// PrintVolumes lists every volume row of the inventory
func PrintVolumes(w io.Writer, instances []types.Instance) error {
	t := NewTable("Volume", "Instance", "Device", "State", "Size", "Encryption")
	for _, inst := range instances {
		if inst.Err != nil {
			t.AddRow(Styled("-", MutedStyle), Styled(inst.ID, IDStyle), Styled(inst.Err.Error(), FailedStyle))
			continue
		}
		for _, v := range inst.Volumes {
			device, err := v.Device()
			deviceCell := Plain(device)
			if err != nil {
				deviceCell = Styled("<detached>", FailedStyle)
			}
			encryption := "Not Encrypted"
			if v.Encrypted {
				encryption = "Encrypted"
			}
			t.AddRow(
				Styled(v.ID, IDStyle),
				Plain(inst.ID),
				deviceCell,
				Plain(v.State),
				Plain(fmt.Sprintf("%dGiB", v.SizeGiB)),
				Plain(encryption),
			)
		}
	}
	return t.Render(w)
}

// PrintSnapshots lists snapshots per volume. Without all, each volume shows
// its history down to the most recent completed snapshot.
func PrintSnapshots(w io.Writer, instances []types.Instance, all bool) error {
	t := NewTable("Snapshot", "Volume", "Instance", "State", "Progress", "Started")
	for _, inst := range instances {
		for _, v := range inst.Volumes {
			if v.Err != nil && len(v.Snapshots) == 0 {
				t.AddRow(Styled("-", MutedStyle), Plain(v.ID), Plain(inst.ID), Styled(v.Err.Error(), FailedStyle))
				continue
			}
			for _, s := range inventory.DisplaySnapshots(v, all) {
				t.AddRow(
					Styled(s.ID, IDStyle),
					Plain(v.ID),
					Plain(inst.ID),
					Styled(string(s.State), SnapshotStyle(s.State)),
					Plain(s.Progress),
					Plain(s.StartTime.Local().Format(time.ANSIC)),
				)
			}
		}
	}
	return t.Render(w)
}

// PrintReport summarizes a run, one row per instance plus one per volume
func PrintReport(w io.Writer, report *executor.Report) error {
	fmt.Fprintf(w, "%s %s  %s  %s\n",
		HeaderStyle.Render("Run"),
		IDStyle.Render(report.RunID),
		TextStyle.Render(string(report.Operation)),
		MutedStyle.Render(report.StartTime.Local().Format(time.RFC3339)))

	t := NewTable("Resource", "Outcome", "Detail")
	for _, inst := range report.Instances {
		t.AddRow(
			Styled(inst.InstanceID, IDStyle),
			Styled(string(inst.Outcome), OutcomeStyle(inst.Outcome)),
			Plain(instanceDetail(inst)),
		)
		for _, v := range inst.Volumes {
			detail := v.SnapshotID
			switch {
			case v.Error != "":
				detail = v.Error
			case v.SkipReason != "":
				detail = v.SkipReason
			}
			t.AddRow(
				Plain("  "+v.VolumeID),
				Styled(string(v.Outcome), OutcomeStyle(v.Outcome)),
				Plain(detail),
			)
		}
	}
	if err := t.Render(w); err != nil {
		return err
	}

	summary := fmt.Sprintf("  %s, %s, %s in %s",
		SuccessStyle.Render(fmt.Sprintf("%d succeeded", report.SuccessfulCount)),
		FailedStyle.Render(fmt.Sprintf("%d failed", report.FailedCount)),
		SkippedStyle.Render(fmt.Sprintf("%d skipped", report.SkippedCount)),
		report.Duration.Round(time.Millisecond))
	if report.Cancelled {
		summary += " " + FailedStyle.Render("(cancelled)")
	}
	_, err := fmt.Fprintln(w, summary)
	return err
}

func instanceDetail(inst executor.InstanceResult) string {
	switch {
	case inst.Error != "":
		return inst.Error
	case inst.SkipReason != "":
		return inst.SkipReason
	}
	detail := fmt.Sprintf("%s → %s", inst.InitialState, inst.FinalState)
	if inst.Restarted {
		detail += ", restarted"
	}
	return detail
}

// PrintRuns lists stored run summaries
func PrintRuns(w io.Writer, runs []storage.RunSummary) error {
	t := NewTable("Run", "Operation", "Started", "Duration", "Instances", "OK", "Failed", "Skipped")
	for _, r := range runs {
		failed := Plain(fmt.Sprint(r.Failed))
		if r.Failed > 0 {
			failed = Styled(fmt.Sprint(r.Failed), FailedStyle)
		}
		t.AddRow(
			Styled(r.RunID, IDStyle),
			Plain(string(r.Operation)),
			Plain(r.StartTime.Local().Format(time.DateTime)),
			Plain(r.Duration.Round(time.Second).String()),
			Plain(fmt.Sprint(r.Instances)),
			Plain(fmt.Sprint(r.Succeeded)),
			failed,
			Plain(fmt.Sprint(r.Skipped)),
		)
	}
	return t.Render(w)
}

// PrintPending lists journal intents that never got a resolution
func PrintPending(w io.Writer, entries []wal.Entry) error {
	if len(entries) == 0 {
		_, err := fmt.Fprintln(w, SuccessStyle.Render("No pending actions"))
		return err
	}
	t := NewTable("Seq", "Time", "Resource", "Intent")
	for _, e := range entries {
		t.AddRow(
			Plain(fmt.Sprint(e.Sequence)),
			Plain(e.Timestamp.Local().Format(time.DateTime)),
			Styled(e.ResourceID, IDStyle),
			Styled(string(e.Data), PendingStyle),
		)
	}
	return t.Render(w)
}
