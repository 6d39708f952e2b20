package main

import (
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pterm/pterm"

	"github.com/slipstream/indexhub/internal/indexer"
	"github.com/slipstream/indexhub/internal/indexer/proxy"
	"github.com/slipstream/indexhub/internal/scheduler"
)

func indexersTable(list []indexerInfo) pterm.TableData {
	data := pterm.TableData{{"ID", "Name", "Type", "Protocol", "Privacy", "State"}}
	for _, ix := range list {
		data = append(data, []string{
			strconv.FormatInt(ix.ID, 10),
			ix.Name,
			ix.Type,
			string(ix.Protocol),
			string(ix.Privacy),
			stateLabel(ix.Health.State),
		})
	}
	return data
}

func healthTable(entries []indexer.HealthReportEntry, now time.Time) pterm.TableData {
	data := pterm.TableData{{"ID", "Name", "State", "Failures", "Backoff", "Last Failure"}}
	for _, h := range entries {
		backoff := "-"
		if h.RetryInSeconds > 0 {
			retryAt := now.Add(time.Duration(h.RetryInSeconds) * time.Second)
			backoff = "until " + humanize.RelTime(retryAt, now, "ago", "from now")
		}
		last := "-"
		if h.LastFailure != nil {
			last = humanize.RelTime(*h.LastFailure, now, "ago", "from now")
			if h.LastFailureMessage != "" {
				last += ": " + truncate(h.LastFailureMessage, 60)
			}
		}
		data = append(data, []string{
			strconv.FormatInt(h.BackendID, 10),
			h.Name,
			stateLabel(h.State),
			strconv.Itoa(h.ConsecutiveFailures),
			backoff,
			last,
		})
	}
	return data
}

func releasesTable(releases []indexer.Release) pterm.TableData {
	data := pterm.TableData{{"Title", "Indexer", "Size", "Peers", "Age"}}
	for _, r := range releases {
		peers := "-"
		if r.Seeders != nil {
			peers = strconv.Itoa(*r.Seeders)
			if r.Peers != nil {
				peers += "/" + strconv.Itoa(*r.Peers)
			}
		}
		age := "-"
		if !r.PublishDate.IsZero() {
			age = humanize.Time(r.PublishDate)
		}
		data = append(data, []string{
			truncate(r.Title, 70),
			r.BackendName,
			humanize.IBytes(uint64(max(r.Size, 0))),
			peers,
			age,
		})
	}
	return data
}

func tasksTable(tasks []scheduler.TaskInfo) pterm.TableData {
	data := pterm.TableData{{"ID", "Schedule", "Last Run", "Next Run", "Status"}}
	for _, t := range tasks {
		status := "idle"
		switch {
		case t.Running:
			status = "running"
		case t.LastError != "":
			status = "failed: " + truncate(t.LastError, 40)
		}
		data = append(data, []string{t.ID, t.Cron, timeLabel(t.LastRun), timeLabel(t.NextRun), status})
	}
	return data
}

func historyTable(items []proxy.HistoryItem) pterm.TableData {
	data := pterm.TableData{{"When", "Indexer", "File", "Mode", "Source", "Result"}}
	for _, h := range items {
		result := "ok"
		if !h.Successful {
			result = truncate(h.Error, 40)
		}
		data = append(data, []string{
			humanize.Time(h.CreatedAt),
			strconv.FormatInt(h.IndexerID, 10),
			truncate(h.File, 50),
			h.Mode,
			h.Source,
			result,
		})
	}
	return data
}

func stateLabel(s indexer.HealthState) string {
	switch s {
	case indexer.StateHealthy:
		return pterm.Green(string(s))
	case indexer.StateDegraded:
		return pterm.Yellow(string(s))
	case indexer.StateSuspended:
		return pterm.Red(string(s))
	}
	return string(s)
}

func timeLabel(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return humanize.Time(*t)
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len([]rune(s)) <= n {
		return s
	}
	return string([]rune(s)[:n-1]) + "…"
}
