// Command ledgerctl seeds and inspects a pool-engine database from the
// terminal.
//
//	ledgerctl [-config path] seed
//	ledgerctl [-config path] leaderboard [-limit n]
//	ledgerctl [-config path] bets [-status open|closed|resolved]
//	ledgerctl [-config path] bet -id <bet-id>
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/officebet/pool-engine/internal/bootstrap"
	"github.com/officebet/pool-engine/internal/config"
	"github.com/officebet/pool-engine/internal/model"
	"github.com/officebet/pool-engine/internal/wagering"
)

func main() {
	configPath := flag.String("config", os.Getenv(config.EnvPrefix+"CONFIG"), "path to YAML config (optional)")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	// Keep stdout for tables.
	cfg.Log.Format = "text"
	slog.SetDefault(cfg.Log.NewLogger())

	ctx := context.Background()
	backends, err := bootstrap.Open(ctx, cfg)
	if err != nil {
		slog.Error("storage init failed", "err", err)
		os.Exit(1)
	}

	engine := wagering.NewEngine(backends.Store, cfg.Engine())
	err = run(ctx, engine, os.Stdout, flag.Args())
	backends.Close()
	if err != nil {
		fmt.Fprintln(os.Stderr, "ledgerctl:", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: ledgerctl [-config path] <seed|leaderboard|bets|bet> [flags]")
	flag.PrintDefaults()
}

// run dispatches one subcommand.
func run(ctx context.Context, engine *wagering.Engine, out io.Writer, args []string) error {
	cmd, rest := args[0], args[1:]
	switch cmd {
	case "seed":
		return seed(ctx, engine, out)

	case "leaderboard":
		fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
		limit := fs.Int("limit", 10, "number of accounts to show")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		entries, err := engine.Leaderboard(ctx, *limit)
		if err != nil {
			return err
		}
		return renderLeaderboard(out, entries)

	case "bets":
		fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
		status := fs.String("status", "", "filter by status: open, closed or resolved")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		bets, err := engine.ListBets(ctx, model.Status(*status))
		if err != nil {
			return err
		}
		return renderBets(out, bets)

	case "bet":
		fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
		id := fs.String("id", "", "bet ID")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		if *id == "" {
			return errors.New("bet: -id is required")
		}
		detail, err := engine.BetDetail(ctx, *id)
		if err != nil {
			return err
		}
		return renderBet(out, detail)
	}
	return fmt.Errorf("unknown command %q", cmd)
}

var seedUsers = []string{"alice", "bob", "charlie", "demo"}

var seedBets = []struct {
	creator  string
	title    string
	desc     string
	closeIn  time.Duration
	outcomes []string
}{
	{"alice", "Will the release ship before Friday?", "Counts if the tag is pushed by 17:00.", 72 * time.Hour, []string{"Yes", "No"}},
	{"bob", "Who wins the office ping-pong final?", "", 7 * 24 * time.Hour, []string{"Alice", "Bob", "Charlie"}},
	{"charlie", "How many bugs in the next sprint review?", "", 48 * time.Hour, []string{"0-5", "6-10", "11-20", "20+"}},
	{"demo", "Will it rain at the team offsite?", "Local forecast at noon decides.", 24 * time.Hour, []string{"Rain", "Dry"}},
}

// seed opens the demo accounts and sample bets. It is idempotent: existing
// accounts are reused and a sample bet whose title is already taken is
// skipped.
func seed(ctx context.Context, engine *wagering.Engine, out io.Writer) error {
	ids := make(map[string]string, len(seedUsers))
	for _, name := range seedUsers {
		acct, err := engine.AccountByUsername(ctx, name)
		if errors.Is(err, wagering.ErrAccountNotFound) {
			acct, err = engine.OpenAccount(ctx, name)
			if err == nil {
				fmt.Fprintf(out, "account %-8s %s\n", name, acct.ID)
			}
		}
		if err != nil {
			return fmt.Errorf("seed account %s: %w", name, err)
		}
		ids[name] = acct.ID
	}

	existing, err := engine.ListBets(ctx, "")
	if err != nil {
		return err
	}
	titles := make(map[string]bool, len(existing))
	for _, b := range existing {
		titles[b.Title] = true
	}

	now := time.Now().UTC()
	for _, sb := range seedBets {
		if titles[sb.title] {
			continue
		}
		bet, err := engine.CreateBet(ctx, ids[sb.creator], wagering.BetDraft{
			Title:       sb.title,
			Description: sb.desc,
			CloseTime:   now.Add(sb.closeIn),
			Outcomes:    sb.outcomes,
		})
		if err != nil {
			return fmt.Errorf("seed bet %q: %w", sb.title, err)
		}
		fmt.Fprintf(out, "bet     %s %s\n", bet.ID, bet.Title)
	}
	return nil
}

func renderLeaderboard(out io.Writer, entries []wagering.LeaderboardEntry) error {
	table := tablewriter.NewWriter(out)
	table.Header("#", "Username", "Balance", "Account")
	for _, e := range entries {
		table.Append(fmt.Sprintf("%d", e.Rank), e.Username, fmt.Sprintf("%d", e.Balance), e.AccountID)
	}
	return table.Render()
}

func renderBets(out io.Writer, bets []wagering.BetSummary) error {
	table := tablewriter.NewWriter(out)
	table.Header("ID", "Title", "Creator", "Status", "Pool", "Outcomes", "Closes")
	for _, b := range bets {
		table.Append(
			b.ID,
			b.Title,
			b.CreatorUsername,
			string(b.Status),
			fmt.Sprintf("%d", b.TotalPool),
			fmt.Sprintf("%d", b.OutcomeCount),
			b.CloseTime.Format(time.RFC3339),
		)
	}
	return table.Render()
}

func renderBet(out io.Writer, d *wagering.BetDetail) error {
	fmt.Fprintf(out, "%s\n%s\nstatus=%s pool=%d early=%t closes=%s\n",
		d.Title, d.Description, d.Status, d.TotalPool, d.IsEarlyBetting, d.CloseTime.Format(time.RFC3339))

	table := tablewriter.NewWriter(out)
	table.Header("Outcome", "Pool", "Weighted", "Odds", "Winner")
	for _, o := range d.Outcomes {
		winner := ""
		if o.ID == d.WinningOutcomeID {
			winner = "*"
		}
		table.Append(o.Name, fmt.Sprintf("%d", o.PoolTotal), o.WeightedTotal.StringFixed(2), o.Odds.StringFixed(2), winner)
	}
	return table.Render()
}
