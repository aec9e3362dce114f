// Command courtcheck scans a date window once and prints the free slots of
// every court to stdout.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"courtscan/internal/app"
	"courtscan/internal/config"
	"courtscan/internal/domain"
	"courtscan/internal/jobs"
	"courtscan/internal/worker"
)

func main() {
	envFile := config.EnvFileArg(os.Args[1:], ".env")
	if err := config.LoadEnvFile(envFile); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	cfg := config.FromEnv()
	cfg.RegisterScanFlags(flag.CommandLine)
	flag.String("env", envFile, "dotenv file with COURTSCAN_* defaults")
	start := flag.String("start", time.Now().Format(domain.DateLayout), "first day to scan (YYYY-MM-DD)")
	end := flag.String("end", "", "last day to scan (default: -start)")
	flag.Parse()

	if err := app.SetupLogging(os.Stderr, cfg.LogLevel); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	site, err := app.LoadSite(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("load site profile")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool := worker.NewPool(ctx, 1)
	coord := jobs.NewCoordinator(app.NewChecker(cfg, site, nil), pool, jobs.Options{
		Courts:    site.Courts,
		CourtName: site.CourtName,
		CourtKey:  site.CourtKey,
	})
	rep, err := scan(ctx, coord, *start, *end)
	pool.Wait()
	if err != nil {
		log.Fatal().Err(err).Msg("scan")
	}
	printReport(os.Stdout, site.Courts, site.CourtName, site.CourtKey, rep)
}

// report is a finished scan plus the error text of every failed court,
// keyed like the results table.
type report struct {
	Results domain.Results
	Errors  map[string]map[string]string
}

func (r report) errorText(date, court string) string {
	if msg := r.Errors[date][court]; msg != "" {
		return msg
	}
	return "see log"
}

// scan submits one job and waits for its done event. A failed court's
// error comes from the log line the job emits just before its result.
func scan(ctx context.Context, coord *jobs.Coordinator, start, end string) (report, error) {
	id, err := coord.SubmitScan(ctx, start, end)
	if err != nil {
		return report{}, err
	}
	job, _ := coord.Get(id)
	rep := report{Errors: map[string]map[string]string{}}
	var lastLog string
	for {
		ev, err := job.Events.Pop(ctx, time.Minute)
		if errors.Is(err, jobs.ErrPopTimeout) {
			continue
		}
		if err != nil {
			return report{}, err
		}
		switch ev.Type {
		case domain.EventLog:
			lastLog = ev.Msg
		case domain.EventResultPartial:
			if ev.Value == nil || !ev.Value.Failed {
				continue
			}
			if _, msg, ok := strings.Cut(lastLog, ": ERROR: "); ok {
				if rep.Errors[ev.Date] == nil {
					rep.Errors[ev.Date] = map[string]string{}
				}
				rep.Errors[ev.Date][ev.Court] = msg
			}
		case domain.EventDone:
			rep.Results = ev.Results
			return rep, nil
		}
	}
}

func printReport(w io.Writer, courts []int, name, key func(int) string, rep report) {
	dates := make([]string, 0, len(rep.Results))
	for d := range rep.Results {
		dates = append(dates, d)
	}
	sort.Strings(dates)

	for _, date := range dates {
		fmt.Fprintf(w, "\n==================== %s ====================\n", date)
		row := rep.Results[date]
		for _, court := range courts {
			label := name(court)
			o, ok := row[key(court)]
			switch {
			case !ok:
				continue
			case o.Failed:
				fmt.Fprintf(w, "%s: ERROR while checking (%s)\n", label, rep.errorText(date, key(court)))
			case len(o.Slots) == 0:
				fmt.Fprintf(w, "%s: ✖ No available slots\n", label)
			default:
				fmt.Fprintf(w, "%s:\n", label)
				for _, s := range o.Slots {
					fmt.Fprintf(w, " ✔ %s\n", s)
				}
			}
		}
	}
}
