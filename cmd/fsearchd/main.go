// Command fsearchd runs the index-and-query engine standalone: it wires
// the default collaborator implementations (include/exclude managers,
// thread pool, fsnotify monitor, query matcher, event bus) into a
// work-queue orchestrator, optionally relaying its events over a
// loopback websocket for a UI to consume, the way cmd/rovo-bridge wires
// the teacher's terminal bridge.
package main

import (
	"flag"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"

	"github.com/fsearch/engine/internal/eventbus"
	"github.com/fsearch/engine/internal/eventbus/wsrelay"
	"github.com/fsearch/engine/internal/exclude"
	"github.com/fsearch/engine/internal/include"
	"github.com/fsearch/engine/internal/rootindex"
	"github.com/fsearch/engine/internal/threadpool"
	"github.com/fsearch/engine/internal/workqueue"
)

// stringList collects a repeatable -include/-exclude flag into a slice.
type stringList []string

func (s *stringList) String() string { return strings.Join(*s, ",") }
func (s *stringList) Set(v string) error {
	*s = append(*s, v)
	return nil
}

func main() {
	var includes, excludes stringList
	flag.Var(&includes, "include", "root path to index (repeatable)")
	flag.Var(&excludes, "exclude", "gitignore-style pattern to exclude (repeatable)")
	dbPath := flag.String("db", defaultDBPath(), "snapshot file path")
	httpAddr := flag.String("http", "127.0.0.1:0", "loopback address to serve the websocket event relay on, empty to disable")
	workers := flag.Int("workers", runtime.NumCPU(), "thread pool size")
	trackSize := flag.Bool("track-size", true, "maintain entry size")
	trackModTime := flag.Bool("track-mtime", true, "maintain entry modification time")
	oneFileSystem := flag.Bool("one-file-system", false, "do not cross device boundaries while scanning")
	monitor := flag.Bool("monitor", true, "watch included roots for live changes")
	flag.Parse()

	var flags rootindex.PropertyFlags
	if *trackSize {
		flags |= rootindex.FlagSize
	}
	if *trackModTime {
		flags |= rootindex.FlagModificationTime
	}

	includeMgr := include.New()
	for i, path := range includes {
		includeMgr.Add(path, *oneFileSystem, *monitor, true)
		log.Printf("fsearchd: root %d: %s", i+1, path)
	}
	excludeMgr := exclude.New(append([]string{".git", "node_modules"}, excludes...)...)

	pool := threadpool.New(*workers)
	bus := eventbus.New(64)
	orch := workqueue.New(pool, bus, includeMgr, excludeMgr, flags)

	done := make(chan struct{})
	go func() {
		orch.Run()
		close(done)
	}()

	if _, err := os.Stat(*dbPath); err == nil {
		orch.Enqueue(workqueue.Work{Kind: workqueue.LoadFromFile, Path: *dbPath})
	} else if len(includes) > 0 {
		orch.Enqueue(workqueue.Work{Kind: workqueue.Scan, IncludeMgr: includeMgr, ExcludeMgr: excludeMgr, Flags: flags})
	}

	var srv *http.Server
	stopRelay := make(chan struct{})
	if *httpAddr != "" {
		relay := wsrelay.New(bus)
		go relay.Run(stopRelay)

		mux := http.NewServeMux()
		mux.HandleFunc("/ws", relay.ServeHTTP)
		mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
		})

		ln, err := net.Listen("tcp", *httpAddr)
		if err != nil {
			log.Fatalf("fsearchd: listen %s: %v", *httpAddr, err)
		}
		srv = &http.Server{Handler: mux}
		go func() {
			_ = srv.Serve(ln)
		}()
		log.Printf("fsearchd: event relay at ws://%s/ws", ln.Addr())
	}

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c

	orch.Enqueue(workqueue.Work{Kind: workqueue.SaveToFile, Path: *dbPath})
	orch.Enqueue(workqueue.Work{Kind: workqueue.Quit})
	<-done

	close(stopRelay)
	if srv != nil {
		_ = srv.Close()
	}
	bus.Close()
}

func defaultDBPath() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "fsearch", "fsearch.db")
}
