// Command grounddb-doctor is a thin diagnostic CLI over a GroundDB root: it
// reports collection/view status, runs a full validation sweep, or forces a
// rebuild. It has no flags beyond the subcommand and root path — a real
// CLI/HTTP surface is out of scope.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/groundb/groundb"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr *os.File) int {
	if len(args) < 2 {
		fmt.Fprintln(stderr, "usage: grounddb-doctor <status|validate|rebuild> <root>")

		return 2
	}

	cmd, root := args[0], args[1]

	ctx := context.Background()

	store, err := groundb.Open(ctx, root, groundb.Options{})
	if err != nil {
		fmt.Fprintf(stderr, "open %q: %v\n", root, err)

		return 1
	}
	defer store.Close()

	switch cmd {
	case "status":
		return doStatus(ctx, store, stdout, stderr)
	case "validate":
		return doValidate(ctx, store, stdout, stderr)
	case "rebuild":
		return doRebuild(ctx, store, stdout, stderr)
	default:
		fmt.Fprintf(stderr, "unknown subcommand %q\n", cmd)

		return 2
	}
}

func doStatus(ctx context.Context, store *groundb.Store, stdout, stderr *os.File) int {
	st, err := store.Status(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "status: %v\n", err)

		return 1
	}

	fmt.Fprintf(stdout, "schema %s\n", st.SchemaHash)

	for _, c := range st.Collections {
		fmt.Fprintf(stdout, "  collection %-20s documents=%-6d warnings=%d\n", c.Name, c.DocumentCount, c.Warnings)
	}

	for _, v := range st.Views {
		fmt.Fprintf(stdout, "  view       %-20s rows=%-6d cached=%v built=%s\n", v.Name, v.RowCount, v.Cached, v.LastBuilt)
	}

	return 0
}

func doValidate(ctx context.Context, store *groundb.Store, stdout, stderr *os.File) int {
	reports, err := store.ValidateAll(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "validate: %v\n", err)

		return 1
	}

	for _, r := range reports {
		for _, issue := range r.Issues {
			fmt.Fprintf(stdout, "%s/%s: %s\n", r.Collection, r.ID, issue)
		}
	}

	if len(reports) > 0 {
		return 1
	}

	return 0
}

func doRebuild(ctx context.Context, store *groundb.Store, stdout, stderr *os.File) int {
	if err := store.Rebuild(ctx); err != nil {
		fmt.Fprintf(stderr, "rebuild: %v\n", err)

		return 1
	}

	fmt.Fprintln(stdout, "rebuilt")

	return 0
}
