package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	_ "time/tzdata"

	"github.com/wesm/sessionvault/internal/config"
	"github.com/wesm/sessionvault/internal/index"
	"github.com/wesm/sessionvault/internal/session"
	"github.com/wesm/sessionvault/internal/sync"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = ""
)

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "serve":
			runServe(os.Args[2:])
			return
		case "sync":
			runSync(os.Args[2:])
			return
		case "rebuild":
			runRebuild(os.Args[2:])
			return
		case "repair":
			runRepair(os.Args[2:])
			return
		case "list", "ls":
			runList(os.Args[2:])
			return
		case "find":
			runFind(os.Args[2:])
			return
		case "resume":
			runResume(os.Args[2:])
			return
		case "archive":
			runArchive(os.Args[2:], true)
			return
		case "unarchive":
			runArchive(os.Args[2:], false)
			return
		case "rename":
			runRename(os.Args[2:])
			return
		case "move", "mv":
			runMove(os.Args[2:])
			return
		case "delete", "rm":
			runDelete(os.Args[2:])
			return
		case "search":
			runSearch(os.Args[2:])
			return
		case "stats":
			runStats(os.Args[2:])
			return
		case "password":
			runPassword(os.Args[2:])
			return
		case "version", "--version", "-v":
			fmt.Printf("sessionvault %s (commit %s, built %s)\n",
				version, commit, buildDate)
			return
		case "help", "--help", "-h":
			printUsage()
			return
		default:
			fmt.Fprintf(os.Stderr, "unknown command %q\n\n", os.Args[1])
			printUsage()
			os.Exit(2)
		}
	}

	runList(os.Args[1:])
}

func printUsage() {
	fmt.Printf(`sessionvault %s - manage AI assistant session transcripts

Indexes Claude Code transcripts into SQLite with full-text search,
and serves a remote bridge for chat and terminal streaming.

Usage:
  sessionvault [list] [flags]       List sessions (default command)
  sessionvault find <query>         Show one session by id, slug, or title
  sessionvault resume <query>       Resume a session in the foreground
  sessionvault search <terms...>    Full-text search over messages
  sessionvault archive <query>      Archive a session
  sessionvault unarchive <query>    Unarchive a session
  sessionvault rename <query> <t>   Set a custom title (empty clears)
  sessionvault move <query> <dir>   Move a session to a new working dir
  sessionvault delete <query>       Delete transcript and index row
  sessionvault sync                 Reconcile the index with disk
  sessionvault rebuild              Rebuild the index from scratch
  sessionvault repair               Fix scratch dirs, cwds, untracked files
  sessionvault stats                Show index-wide counters
  sessionvault serve [flags]        Start the remote bridge server
  sessionvault password             Set the bridge password
  sessionvault version              Show version information
  sessionvault help                 Show this help

List flags:
  -all        Include archived sessions
  -archived   Only archived sessions
  -deleted    Include soft-deleted sessions
  -json       JSON output

Resume flags:
  -dry-run            Print the command without running it
  -skip-permissions   Pass --dangerously-skip-permissions
  -prompt string      Initial prompt for the resumed session

Serve flags:
  -host string   Host to bind to (default "127.0.0.1")
  -port int      Port to listen on (default 8484)

Environment variables:
  SESSIONVAULT_CLAUDE_DIR      Transcript root (default ~/.claude)
  SESSIONVAULT_DATA_DIR        Data directory (default ~/.sessionvault)
  SESSIONVAULT_ASSISTANT_CMD   Assistant command for resume (default "claude")
`, version)
}

// env is the shared wiring every subcommand needs: config, the
// opened store, and the services on top of it.
type env struct {
	cfg    config.Config
	store  *index.Store
	engine *sync.Engine
	svc    *session.Service
}

func mustOpen() *env {
	cfg, err := config.LoadMinimal()
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		log.Fatalf("creating data dir: %v", err)
	}

	store, err := index.Open(cfg.DBPath)
	if err != nil {
		log.Fatalf("opening index: %v", err)
	}
	if err := store.ImportLegacyTitles(cfg.LegacyTitlesPath); err != nil {
		log.Printf("warning: importing legacy titles: %v", err)
	}

	engine := sync.NewEngine(store, cfg.ClaudeDir, cfg.ScratchRoot)
	return &env{
		cfg:    cfg,
		store:  store,
		engine: engine,
		svc:    session.NewService(store, engine),
	}
}

func (e *env) close() {
	if err := e.store.Close(); err != nil {
		log.Printf("closing index: %v", err)
	}
}

// mustFind resolves a query to exactly one session or exits.
func (e *env) mustFind(ctx context.Context, query string) *session.Resolved {
	r, err := e.svc.Find(ctx, query)
	if err != nil {
		log.Fatalf("resolving %q: %v", query, err)
	}
	return r
}

func parseFlags(fs *flag.FlagSet, args []string) {
	if err := fs.Parse(args); err != nil {
		log.Fatalf("parsing flags: %v", err)
	}
}
