// Console shell client.
//
// Boots the authentication and sidebar probes concurrently, builds the
// module registry and route state machine, subscribes to the backend change
// feed, and runs an interactive navigation loop:
//
//	go <hash>     navigate (e.g. "go #/modules/tickets/settings")
//	route         print the current route
//	tree          print the sidebar tree
//	library       print the detached entry library
//	reload        force a full tree reload
//	scroll <n>    record a scroll offset for the active tab
//	logout        end the session
//	quit          exit
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/francetechnologie-boop/livechat-app-sub007/internal/config"
	"github.com/francetechnologie-boop/livechat-app-sub007/internal/debug"
	"github.com/francetechnologie-boop/livechat-app-sub007/internal/events"
	"github.com/francetechnologie-boop/livechat-app-sub007/internal/health"
	"github.com/francetechnologie-boop/livechat-app-sub007/internal/logging"
	"github.com/francetechnologie-boop/livechat-app-sub007/internal/metrics"
	"github.com/francetechnologie-boop/livechat-app-sub007/internal/notify"
	"github.com/francetechnologie-boop/livechat-app-sub007/internal/registry"
	"github.com/francetechnologie-boop/livechat-app-sub007/internal/router"
	"github.com/francetechnologie-boop/livechat-app-sub007/internal/uistate"
	"github.com/francetechnologie-boop/livechat-app-sub007/pkg/client"
	"github.com/francetechnologie-boop/livechat-app-sub007/pkg/protocol"
	"github.com/francetechnologie-boop/livechat-app-sub007/pkg/sidebar"
)

func main() {
	cfg := config.Load()

	serverURL := flag.String("server", cfg.ServerURL, "Backend server URL")
	token := flag.String("token", "", "Session token (default: saved token)")
	metricsAddr := flag.String("metrics", cfg.MetricsAddr, "Prometheus listen address (empty disables)")
	initialHash := flag.String("hash", "", "Initial URL hash, e.g. \"#/agents\"")
	logLevel := flag.String("log-level", cfg.LogLevel, "Log level: debug, info, warn, error")
	flag.Parse()

	if err := logging.Init(logging.Config{Level: *logLevel, Format: cfg.LogFormat}); err != nil {
		fmt.Fprintf(os.Stderr, "init logging: %v\n", err)
		os.Exit(1)
	}
	defer logging.Sync()

	if *token == "" {
		*token = os.Getenv("LIVECHAT_TOKEN")
	}
	var tokenFile *client.TokenFile
	if *token == "" {
		if tf, err := client.LoadToken(); err == nil {
			if tf.IsExpired(0) {
				fmt.Fprintln(os.Stderr, "saved token has expired; run 'sidebarctl login' to authenticate")
			} else {
				*token = tf.Token
				tokenFile = tf
				logging.Info("using saved token", logging.String("server", tf.Server))
			}
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := client.New(client.Config{
		BaseURL:   *serverURL,
		Timeout:   cfg.RequestTimeout,
		AuthToken: *token,
	})
	deviceID := client.DeviceID()
	collector := debug.NewCollector(c, deviceID)
	bus := events.NewBroadcaster()

	reg := registry.New(collector, nil)
	if err := registry.RegisterBuiltins(reg); err != nil {
		logging.Fatal("register builtin modules", logging.Err(err))
	}

	uiPath := cfg.UIStatePath
	if uiPath == "" {
		home, _ := os.UserHomeDir()
		uiPath = filepath.Join(home, ".config", "livechat-console", "uistate.db")
		os.MkdirAll(filepath.Dir(uiPath), 0700)
	}
	ui, err := uistate.Open(uiPath, c, collector)
	if err != nil {
		logging.Fatal("open ui state store", logging.Err(err))
	}
	defer ui.Close()

	store := sidebar.NewStore(c, bus, reg.Known)

	hash := router.NewHash(*initialHash)
	scroll := router.NewScrollKeeper(ui)
	machine := router.NewMachine(hash, ui, reg, bus, scroll)

	if *metricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", metrics.Handler())
			logging.Info("metrics listening", logging.String("addr", *metricsAddr))
			if err := http.ListenAndServe(*metricsAddr, mux); err != nil {
				logging.Error("metrics listener failed", logging.Err(err))
			}
		}()
	}

	// Boot probes run concurrently; the router decides nothing until both
	// have settled.
	authCh := make(chan *protocol.Session, 1)
	sidebarCh := make(chan bool, 1)
	go func() {
		session, err := c.Me(ctx)
		if err != nil {
			if !client.IsAuth(err) {
				logging.Warn("auth probe failed", logging.Err(err))
			}
			authCh <- nil
			return
		}
		authCh <- session
	}()
	go func() {
		snap, err := store.LoadFullTree(ctx)
		if err != nil {
			logging.Warn("sidebar probe failed", logging.Err(err))
			sidebarCh <- false
			return
		}
		sidebarCh <- len(snap.Roots) > 0
	}()

	var session *protocol.Session
	for settled := 0; settled < 2; settled++ {
		select {
		case session = <-authCh:
			machine.Transition(ctx, router.AuthSettled{Session: session})
		case hasItems := <-sidebarCh:
			machine.Transition(ctx, router.SidebarProbeSettled{HasItems: hasItems})
		case <-ctx.Done():
			return
		}
	}

	var sse *client.SSEClient
	if session != nil {
		collector.SetAgentID(session.AgentID)
		if err := reg.RefreshActive(ctx, c, session.AgentID); err != nil {
			logging.Warn("active module set unavailable", logging.Err(err))
		}
		sse = client.NewSSEClient(*serverURL)
		sse.SetAuthToken(c.AuthToken())
		if tokenFile != nil {
			c.StartTokenRefreshLoop(ctx, tokenFile)
		}
	}

	monitor := health.NewMonitor(c, bus, cfg.HealthInterval)
	go monitor.Run(ctx)

	notifier := notify.New(bus)

	run(ctx, cancel, runDeps{
		client:   c,
		machine:  machine,
		store:    store,
		reg:      reg,
		ui:       ui,
		hash:     hash,
		scroll:   scroll,
		bus:      bus,
		sse:      sse,
		notifier: notifier,
		session:  session,
	})
}

type runDeps struct {
	client   *client.Client
	machine  *router.Machine
	store    *sidebar.Store
	reg      *registry.Registry
	ui       *uistate.Store
	hash     *router.Hash
	scroll   *router.ScrollKeeper
	bus      *events.Broadcaster
	sse      *client.SSEClient
	notifier *notify.Notifier
	session  *protocol.Session
}

// run is the single event loop: hash changes, backend change events, bus
// notices and interactive commands all funnel through it.
func run(ctx context.Context, cancel context.CancelFunc, d runDeps) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	hashCh := d.hash.Watch()
	busCh := d.bus.Subscribe()
	defer d.bus.Unsubscribe(busCh)

	var sseCh <-chan protocol.ChangeEvent
	if d.sse != nil {
		sseCh = d.sse.Subscribe(ctx)
	}

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	fmt.Println("console ready; type 'help' for commands")

	for {
		select {
		case <-sigCh:
			shutdown(ctx, d)
			cancel()
			return

		case raw := <-hashCh:
			d.machine.Transition(ctx, router.HashChanged{Raw: raw})

		case ev, ok := <-sseCh:
			if !ok {
				sseCh = nil
				continue
			}
			handleChange(ctx, d, ev)

		case ev := <-busCh:
			if ev.Type == events.EventNotice {
				fmt.Printf("! %s\n", ev.Message)
			}

		case line, ok := <-lines:
			if !ok {
				shutdown(ctx, d)
				cancel()
				return
			}
			if quit := handleCommand(ctx, d, strings.TrimSpace(line)); quit {
				shutdown(ctx, d)
				cancel()
				return
			}
		}
	}
}

func handleChange(ctx context.Context, d runDeps, ev protocol.ChangeEvent) {
	switch ev.Type {
	case protocol.EventSidebarChanged:
		logging.Info("sidebar changed remotely, reloading")
		if _, err := d.store.LoadFullTree(ctx); err != nil {
			logging.Warn("tree reload failed", logging.Err(err))
		}
	case protocol.EventModulesChanged:
		if states, err := d.client.FetchModules(ctx); err == nil {
			d.reg.SetActiveModules(states)
		}
	case protocol.EventAgentState:
		d.notifier.Send("Agent update", "agent "+ev.AgentID+" changed state")
	}
}

func handleCommand(ctx context.Context, d runDeps, line string) (quit bool) {
	cmd, arg, _ := strings.Cut(line, " ")
	switch cmd {
	case "":
	case "help":
		fmt.Println("commands: go <hash> | route | tree | library | reload | scroll <n> | logout | quit")
	case "go":
		d.machine.Transition(ctx, router.NavigationRequested{Target: arg})
	case "route":
		printRoute(d)
	case "tree":
		printTree(d.store.Snapshot())
	case "library":
		printLibrary(d.store.Snapshot())
	case "reload":
		if _, err := d.store.LoadFullTree(ctx); err != nil {
			fmt.Printf("reload failed: %v\n", err)
		}
	case "scroll":
		offset, err := strconv.ParseFloat(arg, 64)
		if err != nil {
			fmt.Println("usage: scroll <offset>")
			break
		}
		d.scroll.Observe(d.machine.Route().ActiveTab, offset)
	case "logout":
		shutdown(ctx, d)
		if err := d.client.Logout(ctx); err != nil {
			logging.Warn("logout failed", logging.Err(err))
		}
		client.DeleteToken()
		d.machine.Transition(ctx, router.SignedOut{})
	case "quit", "exit":
		return true
	default:
		fmt.Printf("unknown command %q\n", cmd)
	}
	return false
}

// shutdown flushes pending UI state before the session ends.
func shutdown(ctx context.Context, d runDeps) {
	if d.session == nil {
		return
	}
	if err := d.ui.FlushNow(ctx, d.session.AgentID); err != nil {
		logging.Warn("ui state flush failed", logging.Err(err))
	}
}

func printRoute(d runDeps) {
	route := d.machine.Route()
	fmt.Printf("state=%s tab=%s", d.machine.State(), route.ActiveTab)
	if route.IsModuleSurface() {
		fmt.Printf(" module=%s view=%s", route.ModuleID, route.View)
		if len(route.SubPath) > 0 {
			fmt.Printf(" subpath=%s", strings.Join(route.SubPath, "/"))
		}
		if route.ModuleID != "" {
			switch d.reg.GateFor(route.ModuleID) {
			case registry.GateActive:
				view := d.reg.Resolve(context.Background(), route.ModuleID)
				fmt.Printf(" title=%q", view.Title())
			case registry.GatePending:
				fmt.Print(" (modules loading)")
			case registry.GateInactive:
				fmt.Print(" (module inactive)")
			case registry.GateUnknown:
				fmt.Print(" (unknown module)")
			}
		}
	}
	fmt.Printf(" hash=%s\n", d.hash.Get())
}

func printTree(snap *sidebar.Snapshot) {
	if snap == nil {
		fmt.Println("tree not loaded")
		return
	}
	if snap.Fallback {
		fmt.Println("[fallback tree]")
	} else if snap.Cached {
		fmt.Println("[cached tree]")
	}
	var walk func(entry *protocol.TreeEntry)
	walk = func(entry *protocol.TreeEntry) {
		indent := strings.Repeat("  ", entry.Level)
		target := entry.Hash
		if target == "" {
			target = "(sub-menu)"
		}
		fmt.Printf("%s- %s [%s] %s\n", indent, entry.Label, entry.EntryID, target)
		for _, child := range entry.Children {
			walk(child)
		}
	}
	for _, root := range snap.Roots {
		walk(root)
	}
}

func printLibrary(snap *sidebar.Snapshot) {
	if snap == nil {
		fmt.Println("library not loaded")
		return
	}
	for _, entry := range snap.Library {
		state := "detached"
		if entry.Attached {
			state = "attached"
		}
		fmt.Printf("- %s [%s] %s (%s, %s)\n", entry.Label, entry.EntryID, entry.Hash, entry.Type, state)
	}
}
