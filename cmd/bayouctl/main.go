// bayouctl is the admin CLI for the document control engine: it talks
// directly to the storage layer and DocComplex lifecycle, not to any
// running bayoud process, so it doubles as an offline recovery tool.
// Grounded on connectctl/main.go's docopt-driven command dispatch.
package main

import (
	"context"
	"log"
	"os"
	"strconv"

	"github.com/docopt/docopt-go"

	"bayou/internal/config"
	"bayou/internal/deltadoc"
	"bayou/internal/doccomplex"
	"bayou/internal/storage"
)

const BayouCtlVersion = "0.1.0"

var Out *log.Logger
var Err *log.Logger

func init() {
	Out = log.New(os.Stdout, "", 0)
	Err = log.New(os.Stderr, "", log.Ldate|log.Ltime|log.Lshortfile)
}

func main() {
	usage := `Bayou control.

Usage:
    bayouctl create <doc_id> [--body=<text>]
    bayouctl open <doc_id>
    bayouctl snapshot <doc_id> [--rev=<rev>]
    bayouctl carets <doc_id>
    bayouctl delete <doc_id>

Options:
    -h --help        Show this screen.
    --version        Show version.
    --body=<text>    Initial body text for create.
    --rev=<rev>       Revision number for snapshot [default: -1].`

	opts, err := docopt.ParseArgs(usage, os.Args[1:], BayouCtlVersion)
	if err != nil {
		panic(err)
	}

	cfg, err := config.Load()
	if err != nil {
		Err.Fatalf("load config: %v", err)
	}
	store := openStore(cfg)

	ctx := context.Background()
	docId, _ := opts.String("<doc_id>")

	switch {
	case boolOpt(opts, "create"):
		createDoc(ctx, store, cfg, docId, opts)
	case boolOpt(opts, "open"):
		openDoc(ctx, store, cfg, docId)
	case boolOpt(opts, "snapshot"):
		snapshotDoc(ctx, store, cfg, docId, opts)
	case boolOpt(opts, "carets"):
		caretsDoc(ctx, store, cfg, docId)
	case boolOpt(opts, "delete"):
		deleteDoc(ctx, store, cfg, docId)
	}
}

func boolOpt(opts docopt.Opts, name string) bool {
	v, _ := opts.Bool(name)
	return v
}

func openStore(cfg *config.Config) storage.Store {
	if cfg.Storage.Backend == "bolt" && cfg.Storage.Path != "" {
		s, err := storage.OpenBoltStore(cfg.Storage.Path)
		if err != nil {
			Err.Fatalf("open bolt store: %v", err)
		}
		return s
	}
	return storage.NewMemStore()
}

func docOptions(cfg *config.Config) doccomplex.Options {
	return doccomplex.Options{FormatVersion: cfg.FormatVersion}
}

func createDoc(ctx context.Context, store storage.Store, cfg *config.Config, docId string, opts docopt.Opts) {
	var initial deltadoc.Body
	if body, _ := opts.String("--body"); body != "" {
		initial = deltadoc.Body{{Kind: deltadoc.KindInsert, Text: body}}
	}
	dc, err := doccomplex.Create(ctx, store, docId, initial, docOptions(cfg))
	if err != nil {
		Err.Fatalf("create %s: %v", docId, err)
	}
	Out.Printf("created %s, status=%s", docId, dc.Status)
}

func openDoc(ctx context.Context, store storage.Store, cfg *config.Config, docId string) {
	dc, err := doccomplex.Open(ctx, store, docId, docOptions(cfg))
	if err != nil {
		Err.Fatalf("open %s: %v", docId, err)
	}
	Out.Printf("%s: status=%s", docId, dc.Status)
	if dc.Err() != nil {
		Out.Printf("%s: error=%v", docId, dc.Err())
	}
}

func snapshotDoc(ctx context.Context, store storage.Store, cfg *config.Config, docId string, opts docopt.Opts) {
	dc, err := doccomplex.Open(ctx, store, docId, docOptions(cfg))
	if err != nil {
		Err.Fatalf("open %s: %v", docId, err)
	}
	if dc.Status != doccomplex.StatusOK {
		Err.Fatalf("%s: not ok, status=%s", docId, dc.Status)
	}
	revStr, _ := opts.String("--rev")
	rev, _ := strconv.ParseInt(revStr, 10, 64)
	if rev < 0 {
		rev, err = dc.Body.CurrentRevNum(ctx)
		if err != nil {
			Err.Fatalf("current rev: %v", err)
		}
	}
	body, revNum, err := dc.Body.Snapshot(ctx, rev)
	if err != nil {
		Err.Fatalf("snapshot: %v", err)
	}
	text, _ := body.Text()
	Out.Printf("rev=%d\n%s", revNum, text)
}

func caretsDoc(ctx context.Context, store storage.Store, cfg *config.Config, docId string) {
	dc, err := doccomplex.Open(ctx, store, docId, docOptions(cfg))
	if err != nil {
		Err.Fatalf("open %s: %v", docId, err)
	}
	head, err := dc.Carets.CurrentRevNum(ctx)
	if err != nil {
		Err.Fatalf("caret rev: %v", err)
	}
	carets, _, err := dc.Carets.Snapshot(ctx, head)
	if err != nil {
		Err.Fatalf("caret snapshot: %v", err)
	}
	for _, op := range carets {
		Out.Printf("%s author=%s index=%d length=%d color=%s", op.CaretId, op.AuthorId, op.Index, op.Length, op.Color)
	}
	if len(carets) == 0 {
		Out.Printf("no live carets")
	}
}

func deleteDoc(ctx context.Context, store storage.Store, cfg *config.Config, docId string) {
	dc, err := doccomplex.Open(ctx, store, docId, docOptions(cfg))
	if err != nil {
		Err.Fatalf("open %s: %v", docId, err)
	}
	if err := dc.Delete(ctx); err != nil {
		Err.Fatalf("delete %s: %v", docId, err)
	}
	Out.Printf("deleted %s", docId)
}
