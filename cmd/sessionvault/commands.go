package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/wesm/sessionvault/internal/bridge"
	"github.com/wesm/sessionvault/internal/config"
	"github.com/wesm/sessionvault/internal/index"
	"github.com/wesm/sessionvault/internal/session"
)

func runSync(args []string) {
	parseFlags(flag.NewFlagSet("sync", flag.ExitOnError), args)
	e := mustOpen()
	defer e.close()

	tally, err := e.engine.Sync()
	if err != nil {
		log.Fatalf("sync: %v", err)
	}
	fmt.Printf("%d added, %d updated, %d deleted, %d unchanged (%s)\n",
		tally.Added, tally.Updated, tally.Deleted, tally.Unchanged,
		tally.Duration.Round(time.Millisecond))
}

func runRebuild(args []string) {
	parseFlags(flag.NewFlagSet("rebuild", flag.ExitOnError), args)
	e := mustOpen()
	defer e.close()

	tally, err := e.engine.Rebuild()
	if err != nil {
		log.Fatalf("rebuild: %v", err)
	}
	fmt.Printf("rebuilt %d sessions (%s)\n",
		tally.Added, tally.Duration.Round(time.Millisecond))
}

func runRepair(args []string) {
	parseFlags(flag.NewFlagSet("repair", flag.ExitOnError), args)
	e := mustOpen()
	defer e.close()

	report, err := e.engine.Repair(context.Background())
	if err != nil {
		log.Fatalf("repair: %v", err)
	}
	fmt.Printf(
		"%d scratch dirs recreated, %d cwds rewritten, %d untracked indexed\n",
		report.ScratchDirsCreated, report.CwdRewritten,
		report.UntrackedIndexed,
	)
	for _, u := range report.Unfixable {
		fmt.Printf("  unfixable: %s\n", u)
	}
}

func runList(args []string) {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	all := fs.Bool("all", false, "include archived sessions")
	archived := fs.Bool("archived", false, "only archived sessions")
	deleted := fs.Bool("deleted", false, "include soft-deleted sessions")
	asJSON := fs.Bool("json", false, "JSON output")
	parseFlags(fs, args)

	e := mustOpen()
	defer e.close()

	sessions, err := e.svc.Discover(context.Background(), index.Filter{
		ExcludeEmpty:    true,
		IncludeArchived: *all || *archived,
		ArchivedOnly:    *archived,
		IncludeDeleted:  *deleted,
	})
	if err != nil {
		log.Fatalf("listing sessions: %v", err)
	}

	if *asJSON {
		printJSON(sessions)
		return
	}
	for _, r := range sessions {
		printSessionLine(r)
	}
}

func runFind(args []string) {
	fs := flag.NewFlagSet("find", flag.ExitOnError)
	asJSON := fs.Bool("json", false, "JSON output")
	parseFlags(fs, args)
	query := requireArg(fs, "find", "<query>")

	e := mustOpen()
	defer e.close()

	r := e.mustFind(context.Background(), query)
	if *asJSON {
		printJSON(r)
		return
	}
	printSessionDetail(*r)
}

func runResume(args []string) {
	fs := flag.NewFlagSet("resume", flag.ExitOnError)
	dryRun := fs.Bool("dry-run", false, "print the command without running it")
	skipPerms := fs.Bool(
		"skip-permissions", false, "pass --dangerously-skip-permissions",
	)
	prompt := fs.String("prompt", "", "initial prompt for the resumed session")
	parseFlags(fs, args)
	query := requireArg(fs, "resume", "<query>")

	e := mustOpen()
	defer e.close()

	ctx := context.Background()
	r := e.mustFind(ctx, query)
	cmd, code, err := e.svc.Launch(ctx, r, session.LaunchOptions{
		DryRun:          *dryRun,
		SkipPermissions: *skipPerms,
		Prompt:          *prompt,
	})
	if err != nil {
		log.Fatalf("resuming %s: %v", r.SessionID, err)
	}
	if *dryRun {
		fmt.Println(cmd.String())
		return
	}
	e.close()
	os.Exit(code)
}

func runArchive(args []string, archive bool) {
	name := "archive"
	if !archive {
		name = "unarchive"
	}
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	parseFlags(fs, args)
	query := requireArg(fs, name, "<query>")

	e := mustOpen()
	defer e.close()

	ctx := context.Background()
	r := e.mustFind(ctx, query)
	var err error
	if archive {
		err = e.svc.Archive(r.SessionID)
	} else {
		err = e.svc.Unarchive(r.SessionID)
	}
	if err != nil {
		log.Fatalf("%s %s: %v", name, r.SessionID, err)
	}
	fmt.Printf("%sd %s (%s)\n", name, r.SessionID, r.Title)
}

func runRename(args []string) {
	fs := flag.NewFlagSet("rename", flag.ExitOnError)
	parseFlags(fs, args)
	if fs.NArg() < 1 {
		log.Fatal("usage: sessionvault rename <query> [title...]")
	}

	e := mustOpen()
	defer e.close()

	ctx := context.Background()
	r := e.mustFind(ctx, fs.Arg(0))
	title := strings.Join(fs.Args()[1:], " ")
	if err := e.svc.Rename(r.SessionID, title); err != nil {
		log.Fatalf("renaming %s: %v", r.SessionID, err)
	}
	if title == "" {
		fmt.Printf("cleared title of %s\n", r.SessionID)
	} else {
		fmt.Printf("renamed %s to %q\n", r.SessionID, title)
	}
}

func runMove(args []string) {
	fs := flag.NewFlagSet("move", flag.ExitOnError)
	parseFlags(fs, args)
	if fs.NArg() != 2 {
		log.Fatal("usage: sessionvault move <query> <dir>")
	}

	e := mustOpen()
	defer e.close()

	ctx := context.Background()
	r := e.mustFind(ctx, fs.Arg(0))
	dir, err := filepath.Abs(fs.Arg(1))
	if err != nil {
		log.Fatalf("resolving target dir: %v", err)
	}
	if err := e.svc.Move(ctx, r.SessionID, dir); err != nil {
		log.Fatalf("moving %s: %v", r.SessionID, err)
	}
	fmt.Printf("moved %s to %s\n", r.SessionID, dir)
}

func runDelete(args []string) {
	fs := flag.NewFlagSet("delete", flag.ExitOnError)
	yes := fs.Bool("yes", false, "skip confirmation prompt")
	parseFlags(fs, args)
	query := requireArg(fs, "delete", "<query>")

	e := mustOpen()
	defer e.close()

	ctx := context.Background()
	r := e.mustFind(ctx, query)
	if !*yes && !confirm(fmt.Sprintf(
		"delete %s (%s) and its transcript?", r.SessionID, r.Title,
	)) {
		fmt.Println("aborted")
		return
	}
	if err := e.svc.Delete(ctx, r.SessionID); err != nil {
		log.Fatalf("deleting %s: %v", r.SessionID, err)
	}
	fmt.Printf("deleted %s\n", r.SessionID)
}

func runSearch(args []string) {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	limit := fs.Int("limit", 0, "max sessions to return")
	all := fs.Bool("all", false, "include archived and deleted sessions")
	parseFlags(fs, args)
	if fs.NArg() == 0 {
		log.Fatal("usage: sessionvault search <terms...>")
	}

	e := mustOpen()
	defer e.close()

	hits, err := e.svc.Search(
		context.Background(),
		strings.Join(fs.Args(), " "),
		index.SearchOptions{
			MaxSessions:     *limit,
			IncludeArchived: *all,
			IncludeDeleted:  *all,
		},
	)
	if err != nil {
		log.Fatalf("search: %v", err)
	}

	for _, hit := range hits {
		printSessionLine(session.Resolved{
			Session: hit.Session,
			Title:   session.ResolveTitle(hit.Session),
		})
		for _, m := range hit.Matches {
			fmt.Printf("    [%s] %s\n", m.Role, m.Snippet)
		}
	}
}

func runStats(args []string) {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	asJSON := fs.Bool("json", false, "JSON output")
	parseFlags(fs, args)

	e := mustOpen()
	defer e.close()

	st, err := e.svc.Stats(context.Background())
	if err != nil {
		log.Fatalf("stats: %v", err)
	}
	if *asJSON {
		printJSON(st)
		return
	}
	fmt.Printf("sessions:    %d (%d archived, %d deleted)\n",
		st.SessionCount, st.ArchivedCount, st.DeletedCount)
	fmt.Printf("messages:    %d\n", st.MessageCount)
	fmt.Printf("transcripts: %s\n", humanBytes(st.TranscriptBytes))
	fmt.Printf("database:    %s\n", humanBytes(st.DatabaseBytes))
}

func runPassword(args []string) {
	parseFlags(flag.NewFlagSet("password", flag.ExitOnError), args)

	cfg, err := config.LoadMinimal()
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		log.Fatalf("creating data dir: %v", err)
	}

	auth, err := bridge.NewAuth(
		config.NewServerConfigStore(cfg.ServerConfigPath()),
	)
	if err != nil {
		log.Fatalf("initializing auth: %v", err)
	}

	fmt.Print("new bridge password: ")
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		log.Fatalf("reading password: %v", err)
	}
	if err := auth.SetPassword(strings.TrimSpace(line)); err != nil {
		log.Fatalf("setting password: %v", err)
	}
	fmt.Println("password updated")
}

func printSessionLine(r session.Resolved) {
	id := r.SessionID
	if len(id) > 8 {
		id = id[:8]
	}
	mark := " "
	if r.IsArchived {
		mark = "A"
	}
	cwd := ""
	if r.Cwd != nil {
		cwd = *r.Cwd
	}
	fmt.Printf("%s %-8s  %4d msgs  %-40s  %s\n",
		mark, id, r.MessageCount, truncate(r.Title, 40), cwd)
}

func printSessionDetail(r session.Resolved) {
	fmt.Printf("session:   %s\n", r.SessionID)
	fmt.Printf("title:     %s\n", r.Title)
	if r.Cwd != nil {
		fmt.Printf("directory: %s\n", *r.Cwd)
	}
	fmt.Printf("file:      %s\n", r.FilePath)
	fmt.Printf("messages:  %d (%d user, %d assistant)\n",
		r.MessageCount, r.UserCount, r.AssistantCount)
	if r.Model != nil {
		fmt.Printf("model:     %s\n", *r.Model)
	}
	if r.GitBranch != nil {
		fmt.Printf("branch:    %s\n", *r.GitBranch)
	}
	if r.LastAccessedAt != nil {
		fmt.Printf("last used: %s\n", *r.LastAccessedAt)
	}
	if r.IsArchived {
		fmt.Println("archived:  yes")
	}
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		log.Fatalf("encoding output: %v", err)
	}
}

func requireArg(fs *flag.FlagSet, cmd, placeholder string) string {
	if fs.NArg() != 1 {
		log.Fatalf("usage: sessionvault %s %s", cmd, placeholder)
	}
	return fs.Arg(0)
}

func confirm(prompt string) bool {
	fmt.Printf("%s [y/N] ", prompt)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

func humanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(n)/float64(div), "KMGTPE"[exp])
}
