package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-isatty"

	"cloudsync/internal/daemonctl"
	"cloudsync/internal/deps"
	"cloudsync/internal/ipc"
)

type statusKind int

const (
	statusInfo statusKind = iota
	statusOK
	statusWarn
	statusError
)

const (
	ansiReset  = "\x1b[0m"
	ansiRed    = "\x1b[31m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
	ansiBlue   = "\x1b[34m"
)

const (
	statusLabelWidth = 16
	statusIndent     = "  "
)

func renderStatusLine(label string, kind statusKind, message string, colorize bool) string {
	statusText := fmt.Sprintf("[%s]", statusKindLabel(kind))
	if message != "" {
		statusText += " " + message
	}
	base := fmt.Sprintf("%s%-*s %s", statusIndent, statusLabelWidth, label+":", statusText)
	if colorize {
		if color := statusKindColor(kind); color != "" {
			return color + base + ansiReset
		}
	}
	return base
}

func statusKindLabel(kind statusKind) string {
	switch kind {
	case statusOK:
		return "OK"
	case statusWarn:
		return "WARN"
	case statusError:
		return "ERROR"
	default:
		return "INFO"
	}
}

func statusKindColor(kind statusKind) string {
	switch kind {
	case statusOK:
		return ansiGreen
	case statusWarn:
		return ansiYellow
	case statusError:
		return ansiRed
	case statusInfo:
		return ansiBlue
	default:
		return ""
	}
}

func renderSectionHeader(title string, colorize bool) []string {
	line := fmt.Sprintf("== %s ==", strings.TrimSpace(title))
	rule := strings.Repeat("-", len(line))
	if colorize {
		line = ansiBlue + line + ansiReset
		rule = ansiBlue + rule + ansiReset
	}
	return []string{line, rule}
}

func shouldColorize(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func daemonLines(snap daemonctl.StatusSnapshot, colorize bool) []string {
	if !snap.Running || snap.Daemon == nil {
		return []string{renderStatusLine("Daemon", statusError, "Not running", colorize)}
	}
	d := snap.Daemon
	uptime := time.Since(d.StartedAt).Truncate(time.Second)
	lines := []string{
		renderStatusLine("Daemon", statusOK, fmt.Sprintf("Running (pid %d, up %s)", d.PID, uptime), colorize),
		renderStatusLine("Tasks file", statusInfo, d.TasksFile, colorize),
	}
	if d.HistoryPath != "" {
		lines = append(lines, renderStatusLine("History", statusInfo, d.HistoryPath, colorize))
	}
	return lines
}

func dependencyLines(statuses []deps.Status, version string, colorize bool) []string {
	lines := make([]string, 0, len(statuses))
	for _, dep := range statuses {
		if !dep.Available {
			detail := strings.TrimSpace(dep.Detail)
			if detail == "" {
				detail = "not available"
			}
			kind := statusError
			if dep.Optional {
				kind = statusWarn
			}
			lines = append(lines, renderStatusLine(dep.Name, kind, detail, colorize))
			continue
		}
		message := fmt.Sprintf("Ready (command: %s)", dep.Command)
		if dep.Name == "rclone" && version != "" {
			message = fmt.Sprintf("%s (command: %s)", version, dep.Command)
		}
		lines = append(lines, renderStatusLine(dep.Name, statusOK, message, colorize))
	}
	return lines
}

func buildTaskRows(statuses []ipc.TaskStatus, lastRuns map[string]ipc.Run) [][]string {
	rows := make([][]string, 0, len(statuses))
	for _, st := range statuses {
		state := st.State()
		lastSync := "-"
		switch {
		case !st.LastSync.IsZero():
			lastSync = formatLastRun(st.LastSync, st.LastSyncOK)
		case lastRuns[st.Name].ID != "":
			run := lastRuns[st.Name]
			lastSync = formatLastRun(run.StartedAt.Add(run.Duration), run.Success)
		}
		lastError := st.LastError
		if lastError == "" {
			lastError = "-"
		}
		rows = append(rows, []string{
			st.Name,
			state,
			st.Mode,
			st.Remote,
			lastSync,
			fmt.Sprintf("%d", st.ErrorCount),
			fmt.Sprintf("%d", st.RestartCount),
			truncate(lastError, 48),
		})
	}
	return rows
}

func formatLastRun(at time.Time, ok bool) string {
	outcome := "ok"
	if !ok {
		outcome = "failed"
	}
	return fmt.Sprintf("%s (%s)", at.Local().Format("2006-01-02 15:04:05"), outcome)
}

func truncate(value string, limit int) string {
	value = strings.Join(strings.Fields(value), " ")
	runes := []rune(value)
	if len(runes) <= limit {
		return value
	}
	return string(runes[:limit-1]) + "…"
}
