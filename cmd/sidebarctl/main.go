// Sidebar administration tool.
//
// Sub-commands:
//
//	sidebarctl login [-server URL] [-email ADDR]   Authenticate and save the token
//	sidebarctl logout                              Revoke and delete the saved token
//	sidebarctl tree                                Print the attached tree
//	sidebarctl library                             Print the detached entry library
//	sidebarctl add -label L [-hash H]              Create a detached library entry
//	sidebarctl attach -id ID -level N [-parent P]  Attach an entry at a tree slot
//	sidebarctl detach -id ID -level N [-parent P]  Detach an entry (keeps it in the library)
//	sidebarctl move -id ID -level N [-parent P] [-before ID|-after ID]
//	                                               Move an attached entry (reparent + reorder)
//	sidebarctl reorder -level N [-parent P] -order A,B,C
//	sidebarctl rm -id ID                           Permanently delete a library entry
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"syscall"
	"time"

	"golang.org/x/term"

	"github.com/francetechnologie-boop/livechat-app-sub007/internal/config"
	"github.com/francetechnologie-boop/livechat-app-sub007/internal/events"
	"github.com/francetechnologie-boop/livechat-app-sub007/internal/logging"
	"github.com/francetechnologie-boop/livechat-app-sub007/pkg/client"
	"github.com/francetechnologie-boop/livechat-app-sub007/pkg/dragdrop"
	"github.com/francetechnologie-boop/livechat-app-sub007/pkg/protocol"
	"github.com/francetechnologie-boop/livechat-app-sub007/pkg/sidebar"
)

func main() {
	logging.Init(logging.Config{Level: "warn", Format: "console"})
	defer logging.Sync()

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	cmd, args := os.Args[1], os.Args[2:]
	switch cmd {
	case "login":
		cmdLogin(args)
	case "logout":
		cmdLogout(args)
	case "tree":
		cmdTree(args)
	case "library":
		cmdLibrary(args)
	case "add":
		cmdAdd(args)
	case "attach":
		cmdAttach(args)
	case "detach":
		cmdDetach(args)
	case "move":
		cmdMove(args)
	case "reorder":
		cmdReorder(args)
	case "rm":
		cmdRm(args)
	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: sidebarctl <login|logout|tree|library|add|attach|detach|move|reorder|rm> [flags]")
}

func newClient(serverURL string) *client.Client {
	cfg := config.Load()
	if serverURL == "" {
		serverURL = cfg.ServerURL
	}
	c := client.New(client.Config{BaseURL: serverURL, Timeout: cfg.RequestTimeout})
	if tf, err := client.LoadToken(); err == nil && !tf.IsExpired(0) {
		c.SetAuthToken(tf.Token)
	}
	return c
}

func newStore(c *client.Client) *sidebar.Store {
	return sidebar.NewStore(c, events.NewBroadcaster(), nil)
}

func loadedStore(ctx context.Context, c *client.Client) *sidebar.Store {
	store := newStore(c)
	if _, err := store.LoadFullTree(ctx); err != nil {
		fail("load tree: %v", err)
	}
	return store
}

func fail(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

func cmdLogin(args []string) {
	fs := flag.NewFlagSet("login", flag.ExitOnError)
	serverURL := fs.String("server", "", "Backend server URL")
	email := fs.String("email", "", "Agent email")
	fs.Parse(args)

	if *email == "" {
		fmt.Print("Email: ")
		reader := bufio.NewReader(os.Stdin)
		line, _ := reader.ReadString('\n')
		*email = strings.TrimSpace(line)
	}

	fmt.Print("Password: ")
	password, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		fail("read password: %v", err)
	}

	c := newClient(*serverURL)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	resp, err := c.Login(ctx, *email, string(password), client.DeviceID())
	if err != nil {
		fail("login: %v", err)
	}

	tf := &client.TokenFile{
		Token:     resp.Token,
		ExpiresAt: resp.ExpiresAt,
		Server:    *serverURL,
		AgentID:   resp.Agent.ID,
	}
	if tf.Server == "" {
		tf.Server = config.Load().ServerURL
	}
	if err := client.SaveToken(tf); err != nil {
		fail("save token: %v", err)
	}
	fmt.Printf("signed in as %s (token expires %s)\n", resp.Agent.Name, resp.ExpiresAt.Format(time.RFC3339))
}

func cmdLogout(args []string) {
	fs := flag.NewFlagSet("logout", flag.ExitOnError)
	serverURL := fs.String("server", "", "Backend server URL")
	fs.Parse(args)

	c := newClient(*serverURL)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := c.Logout(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "server logout failed: %v\n", err)
	}
	client.DeleteToken()
	fmt.Println("signed out")
}

func cmdTree(args []string) {
	fs := flag.NewFlagSet("tree", flag.ExitOnError)
	serverURL := fs.String("server", "", "Backend server URL")
	fs.Parse(args)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	store := loadedStore(ctx, newClient(*serverURL))
	snap := store.Snapshot()

	if snap.Fallback {
		fmt.Println("[fallback tree]")
	} else if snap.Cached {
		fmt.Println("[cached tree]")
	}
	var walk func(entry *protocol.TreeEntry)
	walk = func(entry *protocol.TreeEntry) {
		target := entry.Hash
		if target == "" {
			target = "(sub-menu)"
		}
		fmt.Printf("%s- %s [%s] %s\n", strings.Repeat("  ", entry.Level), entry.Label, entry.EntryID, target)
		for _, child := range entry.Children {
			walk(child)
		}
	}
	for _, root := range snap.Roots {
		walk(root)
	}
}

func cmdLibrary(args []string) {
	fs := flag.NewFlagSet("library", flag.ExitOnError)
	serverURL := fs.String("server", "", "Backend server URL")
	fs.Parse(args)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	snap := loadedStore(ctx, newClient(*serverURL)).Snapshot()

	for _, entry := range snap.Library {
		state := "detached"
		if entry.Attached {
			state = "attached"
		}
		fmt.Printf("- %s [%s] %s (%s, %s)\n", entry.Label, entry.EntryID, entry.Hash, entry.Type, state)
	}
	if len(snap.Submenus) > 0 || len(snap.Links) > 0 {
		fmt.Printf("unattached: %d sub-menus, %d links\n", len(snap.Submenus), len(snap.Links))
	}
}

func cmdAdd(args []string) {
	fs := flag.NewFlagSet("add", flag.ExitOnError)
	serverURL := fs.String("server", "", "Backend server URL")
	label := fs.String("label", "", "Display label (required)")
	hash := fs.String("hash", "", "Target hash; empty creates a sub-menu")
	icon := fs.String("icon", "", "Icon name")
	fs.Parse(args)

	if *label == "" {
		fail("add: -label is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	store := loadedStore(ctx, newClient(*serverURL))

	if err := store.AddDetached(ctx, protocol.AddRequest{
		Label: *label,
		Hash:  *hash,
		Icon:  *icon,
	}); err != nil {
		fail("add: %v", err)
	}
	fmt.Println("created")
}

func cmdAttach(args []string) {
	fs := flag.NewFlagSet("attach", flag.ExitOnError)
	serverURL := fs.String("server", "", "Backend server URL")
	id := fs.String("id", "", "Entry id (required)")
	level := fs.Int("level", 0, "Target level (0-2)")
	parent := fs.String("parent", "", "Parent entry id (required for level > 0)")
	label := fs.String("label", "", "Display label")
	hash := fs.String("hash", "", "Target hash")
	fs.Parse(args)

	if *id == "" {
		fail("attach: -id is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	store := loadedStore(ctx, newClient(*serverURL))

	if err := store.Attach(ctx, protocol.TreeAddRequest{
		EntryID:       *id,
		Level:         *level,
		ParentEntryID: *parent,
		Label:         *label,
		Hash:          *hash,
	}); err != nil {
		fail("attach: %v", err)
	}
	fmt.Println("attached")
}

func cmdDetach(args []string) {
	fs := flag.NewFlagSet("detach", flag.ExitOnError)
	serverURL := fs.String("server", "", "Backend server URL")
	id := fs.String("id", "", "Entry id (required)")
	level := fs.Int("level", 0, "Current level")
	parent := fs.String("parent", "", "Current parent entry id")
	fs.Parse(args)

	if *id == "" {
		fail("detach: -id is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	store := loadedStore(ctx, newClient(*serverURL))

	if err := store.Detach(ctx, *id, *level, *parent); err != nil {
		fail("detach: %v", err)
	}
	fmt.Println("detached")
}

// cmdMove drives the same reparent-then-reorder sequence a designer drag
// performs.
func cmdMove(args []string) {
	fs := flag.NewFlagSet("move", flag.ExitOnError)
	serverURL := fs.String("server", "", "Backend server URL")
	id := fs.String("id", "", "Entry id (required)")
	level := fs.Int("level", 0, "Target level (0-2)")
	parent := fs.String("parent", "", "Target parent entry id")
	before := fs.String("before", "", "Place before this sibling id")
	after := fs.String("after", "", "Place after this sibling id")
	fs.Parse(args)

	if *id == "" {
		fail("move: -id is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()
	store := loadedStore(ctx, newClient(*serverURL))

	entry := sidebar.FindByID(store.Snapshot().Roots, *id)
	if entry == nil {
		fail("move: entry %q is not attached", *id)
	}

	payload := &dragdrop.Payload{
		Kind:         dragdrop.KindTreeMove,
		EntryID:      entry.EntryID,
		Label:        entry.Label,
		Hash:         entry.Hash,
		Icon:         entry.Icon,
		Logo:         entry.Logo,
		FromLevel:    entry.Level,
		FromParentID: entry.ParentEntryID,
	}
	target := dragdrop.Target{
		Level:         *level,
		ParentEntryID: *parent,
		Before:        *before,
		After:         *after,
	}

	if err := dragdrop.PerformDrop(ctx, store, payload, target); err != nil {
		fail("move: %v", err)
	}
	fmt.Println("moved")
}

func cmdReorder(args []string) {
	fs := flag.NewFlagSet("reorder", flag.ExitOnError)
	serverURL := fs.String("server", "", "Backend server URL")
	level := fs.Int("level", 0, "Bucket level")
	parent := fs.String("parent", "", "Parent entry id")
	order := fs.String("order", "", "Comma-separated entry ids (exact permutation)")
	fs.Parse(args)

	if *order == "" {
		fail("reorder: -order is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	store := loadedStore(ctx, newClient(*serverURL))

	if err := store.Reorder(ctx, *level, *parent, strings.Split(*order, ",")); err != nil {
		fail("reorder: %v", err)
	}
	fmt.Println("reordered")
}

func cmdRm(args []string) {
	fs := flag.NewFlagSet("rm", flag.ExitOnError)
	serverURL := fs.String("server", "", "Backend server URL")
	id := fs.String("id", "", "Entry id (required)")
	fs.Parse(args)

	if *id == "" {
		fail("rm: -id is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	store := loadedStore(ctx, newClient(*serverURL))

	if err := store.Destroy(ctx, *id); err != nil {
		fail("rm: %v", err)
	}
	fmt.Println("deleted")
}
