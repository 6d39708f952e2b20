// Command indexctl inspects and drives a running IndexHub server.
package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/pflag"
)

const usage = `indexctl - command line client for IndexHub

USAGE:
  indexctl [--server URL] <command> [flags]

COMMANDS:
  indexers, backends   List configured indexers
  health               Show indexer health
  health reset <id>    Clear the failures of an indexer
  search [flags] TERM  Run a search across indexers
  tasks                List maintenance tasks
  tasks run <id>       Start a task now
  history              Show recent downloads

`

func main() {
	flags := pflag.NewFlagSet("indexctl", pflag.ContinueOnError)
	flags.SetInterspersed(false)
	server := flags.StringP("server", "s", envOr("INDEXHUB_SERVER", "http://localhost:9696"), "Server base URL")
	flags.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		fmt.Fprintln(os.Stderr, "FLAGS:")
		flags.PrintDefaults()
	}
	if err := flags.Parse(os.Args[1:]); err != nil {
		os.Exit(2)
	}
	if flags.NArg() == 0 {
		flags.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	c := newClient(*server)
	if err := dispatch(ctx, c, flags.Arg(0), flags.Args()[1:]); err != nil {
		pterm.Error.Println(err)
		os.Exit(1)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func dispatch(ctx context.Context, c *client, cmd string, args []string) error {
	switch cmd {
	case "indexers", "backends":
		list, err := c.indexers(ctx)
		if err != nil {
			return err
		}
		return render(indexersTable(list))

	case "health":
		if len(args) == 2 && args[0] == "reset" {
			h, err := c.resetHealth(ctx, args[1])
			if err != nil {
				return err
			}
			pterm.Success.Printf("Indexer %d is %s\n", h.BackendID, h.State)
			return nil
		}
		report, err := c.health(ctx)
		if err != nil {
			return err
		}
		if sum := report.Summary; sum != nil {
			pterm.Info.Printf("%d indexers: %d healthy, %d degraded, %d suspended\n",
				sum.Total, sum.Healthy, sum.Degraded, sum.Suspended)
		}
		return render(healthTable(report.Indexers, time.Now()))

	case "search":
		query, err := searchQuery(args)
		if err != nil {
			return err
		}
		spinner, _ := pterm.DefaultSpinner.Start("Searching...")
		result, err := c.search(ctx, query)
		if spinner != nil {
			_ = spinner.Stop()
		}
		if err != nil {
			return err
		}
		for _, e := range result.IndexerErrors {
			pterm.Warning.Printf("%s: %s\n", e.IndexerName, e.Error)
		}
		pterm.Info.Printf("%d of %d releases from %d indexers\n", len(result.Releases), result.TotalResults, result.IndexersUsed)
		return render(releasesTable(result.Releases))

	case "tasks":
		if len(args) == 2 && args[0] == "run" {
			if err := c.runTask(ctx, args[1]); err != nil {
				return err
			}
			pterm.Success.Printf("Started %s\n", args[1])
			return nil
		}
		tasks, err := c.tasks(ctx)
		if err != nil {
			return err
		}
		return render(tasksTable(tasks))

	case "history":
		fs := pflag.NewFlagSet("history", pflag.ContinueOnError)
		limit := fs.IntP("limit", "n", 25, "Number of downloads to show")
		if err := fs.Parse(args); err != nil {
			return err
		}
		items, err := c.history(ctx, *limit)
		if err != nil {
			return err
		}
		return render(historyTable(items))
	}
	return fmt.Errorf("unknown command %q", cmd)
}

// searchQuery turns the search flags into API query parameters.
func searchQuery(args []string) (url.Values, error) {
	fs := pflag.NewFlagSet("search", pflag.ContinueOnError)
	kind := fs.StringP("type", "t", "search", "Search type: search, tvsearch, movie, music, book")
	indexers := fs.IntSliceP("indexers", "i", nil, "Indexer ids to search")
	categories := fs.IntSliceP("categories", "c", nil, "Category ids")
	imdb := fs.String("imdb", "", "IMDb id")
	tvdb := fs.Int("tvdb", 0, "TVDB id")
	tmdb := fs.Int("tmdb", 0, "TMDB id")
	season := fs.Int("season", 0, "Season number")
	episode := fs.String("ep", "", "Episode number")
	limit := fs.IntP("limit", "n", 50, "Maximum releases")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("type", *kind)
	if term := strings.Join(fs.Args(), " "); term != "" {
		q.Set("query", term)
	}
	if len(*indexers) > 0 {
		q.Set("indexerIds", joinInts(*indexers))
	}
	if len(*categories) > 0 {
		q.Set("categories", joinInts(*categories))
	}
	if *imdb != "" {
		q.Set("imdbId", *imdb)
	}
	setInt(q, "tvdbId", *tvdb)
	setInt(q, "tmdbId", *tmdb)
	setInt(q, "season", *season)
	if *episode != "" {
		q.Set("ep", *episode)
	}
	setInt(q, "limit", *limit)

	if !q.Has("query") && !q.Has("imdbId") && !q.Has("tvdbId") && !q.Has("tmdbId") && *kind == "search" {
		return nil, fmt.Errorf("search needs a term or an id")
	}
	return q, nil
}

func setInt(q url.Values, key string, v int) {
	if v > 0 {
		q.Set(key, strconv.Itoa(v))
	}
}

func joinInts(values []int) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ",")
}

func render(data pterm.TableData) error {
	if len(data) == 1 {
		pterm.Info.Println("Nothing to show")
		return nil
	}
	return pterm.DefaultTable.
		WithHasHeader().
		WithBoxed().
		WithData(data).
		Render()
}
