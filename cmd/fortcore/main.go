// fortcore - competitive match and rollback core for a block-game server
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/ernie/fortcore/internal/actionlog"
	"github.com/ernie/fortcore/internal/api"
	"github.com/ernie/fortcore/internal/auth"
	"github.com/ernie/fortcore/internal/bus"
	"github.com/ernie/fortcore/internal/config"
	"github.com/ernie/fortcore/internal/domain"
	"github.com/ernie/fortcore/internal/engine"
	"github.com/ernie/fortcore/internal/game"
	"github.com/ernie/fortcore/internal/storage"
	"github.com/ftrvxmtrx/tga"
	flag "github.com/spf13/pflag"
	"golang.org/x/image/draw"
	"golang.org/x/term"
)

var version = "dev"

const defaultConfigPath = "/etc/fortcore/config.yml"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		cmdServe(os.Args[2:])
	case "status":
		cmdStatus(os.Args[2:])
	case "players":
		cmdPlayers(os.Args[2:])
	case "matches":
		cmdMatches(os.Args[2:])
	case "user":
		cmdUser(os.Args[2:])
	case "maps":
		cmdMaps(os.Args[2:])
	case "version":
		fmt.Printf("fortcore %s\n", version)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: fortcore <command> [options] [args]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve                        Start the match core and HTTP API")
	fmt.Println("  status                       Show live player states and slot occupancy")
	fmt.Println("  players                      Show all known players")
	fmt.Println("  matches [--recent N]         Show recent matches (default: 20)")
	fmt.Println("  user add [--admin] <username>")
	fmt.Println("                               Add an API user (prompts for password)")
	fmt.Println("  user remove <username>       Remove an API user")
	fmt.Println("  user list                    List all API users")
	fmt.Println("  user reset <username>        Reset an API user's password")
	fmt.Println("  maps render [output-dir]     Render map levelshots to png thumbnails")
	fmt.Println("  version                      Show version")
	fmt.Println("  help                         Show this help")
	fmt.Println()
	fmt.Println("Global Options:")
	fmt.Println("  --config <path>    Path to configuration file (default /etc/fortcore/config.yml)")
	fmt.Println("  --url <url>        Base URL of the fortcore server (default: derived from config)")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  fortcore serve --config /etc/fortcore/config.yml")
	fmt.Println("  fortcore matches --recent 50")
	fmt.Println("  fortcore user add --admin myuser")
}

// cmdServe starts the match core and HTTP API
func cmdServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	fs.Parse(args)

	cfgPath := *configPath
	if cfgPath == "" {
		if _, err := os.Stat(defaultConfigPath); err == nil {
			cfgPath = defaultConfigPath
		} else {
			log.Fatalf("No config file found at %s. Use --config to specify a config file.", defaultConfigPath)
		}
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	log.Printf("Fortcore %s starting...", version)
	log.Printf("%d map/kit slots configured", len(cfg.Maps))

	// Initialize storage
	store, err := storage.New(cfg.Database.Path)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()
	log.Printf("Database initialized at %s", cfg.Database.Path)

	// Action log store
	logs, err := actionlog.New(cfg.Rollback.LogDir, cfg.Rollback.ArchiveDir)
	if err != nil {
		log.Fatalf("Failed to initialize action logs: %v", err)
	}
	log.Printf("Action logs at %s", cfg.Rollback.LogDir)

	// Embedded event bus
	eventBus, err := bus.New(cfg.Bus.Port)
	if err != nil {
		log.Fatalf("Failed to start event bus: %v", err)
	}
	defer eventBus.Close()
	log.Printf("Event bus listening on %s", eventBus.ClientURL())

	// Game core with the bus-bridged engine
	core, err := game.NewCore(cfg, engine.NewRemote(eventBus), logs, store)
	if err != nil {
		log.Fatalf("Failed to create game core: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := core.Start(ctx); err != nil {
		log.Fatalf("Failed to start game core: %v", err)
	}
	log.Printf("Game core started, flushing every %v", cfg.Rollback.FlushInterval)

	// Publish core events and receive plugin events over the bus
	go eventBus.Forward(core.Events())
	eventSub, err := engine.Listen(eventBus, core)
	if err != nil {
		log.Fatalf("Failed to subscribe to engine events: %v", err)
	}
	defer eventSub.Unsubscribe()

	// Create auth service
	authService := auth.NewService(cfg.Auth.JWTSecret, cfg.Auth.TokenDuration)
	if cfg.Auth.JWTSecret == "" {
		log.Printf("Warning: No JWT secret configured. Auth tokens will use an empty secret.")
	}

	// Create HTTP router
	router := api.NewRouter(store, core, authService, cfg.Server.StaticDir)
	if err := router.StartWebSocketHub(eventBus); err != nil {
		log.Fatalf("Failed to start websocket hub: %v", err)
	}

	// Start HTTP server
	addr := fmt.Sprintf("%s:%d", cfg.Server.ListenAddr, cfg.Server.HTTPPort)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	serverErr := make(chan error, 1)
	go func() {
		log.Printf("HTTP server listening on %s", addr)
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case sig := <-sigCh:
		log.Printf("Received signal %v, shutting down...", sig)
	case err := <-serverErr:
		log.Fatalf("HTTP server error: %v", err)
	}

	// Sequential shutdown: stop accepting requests, then flush the core
	log.Println("Shutting down HTTP server...")
	httpCtx, httpCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer httpCancel()
	if err := server.Shutdown(httpCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	core.Stop()

	cancel()
	log.Println("Shutdown complete")
}

// CLI helper variables
var (
	baseURL = "http://localhost:8080"
	dbPath  string
)

// loadCLIConfigFromFlags loads config using pre-parsed flag values
func loadCLIConfigFromFlags(configPath, url string) *config.Config {
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to load config from %s: %v\n", configPath, err)
		dbPath = "/var/lib/fortcore/fortcore.db"
		if url != "" {
			baseURL = url
		}
		return nil
	}

	dbPath = cfg.Database.Path
	if url != "" {
		baseURL = url
	} else {
		baseURL = fmt.Sprintf("http://%s:%d", cfg.Server.ListenAddr, cfg.Server.HTTPPort)
	}
	return cfg
}

func cmdStatus(args []string) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "path to configuration file")
	url := fs.String("url", "", "base URL of the fortcore server")
	fs.Parse(args)

	loadCLIConfigFromFlags(*configPath, *url)

	var status api.StatusResponse
	if err := getJSON("/api/status", &status); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SLOT\tMAP\tKIT\tOCCUPANTS")
	fmt.Fprintln(w, "----\t---\t---\t---------")
	for _, slot := range status.Slots {
		fmt.Fprintf(w, "%d\t%s\t%s\t%d/%d\n", slot.KitIndex, slot.MapName, slot.KitName, slot.Occupants, slot.Capacity)
	}
	w.Flush()

	fmt.Println()

	w = tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PLAYER\tSTATE\tONLINE\tBUFFERED")
	fmt.Fprintln(w, "------\t-----\t------\t--------")
	for _, p := range status.Players {
		online := "yes"
		if !p.Online {
			online = "no"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\n", p.Name, p.State, online, p.Buffered)
	}
	w.Flush()

	fmt.Printf("\n%d players online\n", status.Online)
}

func cmdPlayers(args []string) {
	fs := flag.NewFlagSet("players", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "path to configuration file")
	url := fs.String("url", "", "base URL of the fortcore server")
	fs.Parse(args)

	loadCLIConfigFromFlags(*configPath, *url)

	var players []domain.Player
	if err := getJSON("/api/players", &players); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PLAYER\tUUID\tMATCHES\tLAST SEEN")
	fmt.Fprintln(w, "------\t----\t-------\t---------")
	for _, p := range players {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", p.Name, p.UUID, p.MatchesPlayed, p.LastSeen.Format("2006-01-02 15:04"))
	}
	w.Flush()
}

func cmdMatches(args []string) {
	fs := flag.NewFlagSet("matches", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "path to configuration file")
	url := fs.String("url", "", "base URL of the fortcore server")
	limit := fs.Int("recent", 20, "number of recent matches to show")
	fs.Parse(args)

	loadCLIConfigFromFlags(*configPath, *url)

	var matches []domain.MatchRecord
	if err := getJSON(fmt.Sprintf("/api/matches?limit=%d", *limit), &matches); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tPLAYER\tMAP\tKIT\tSTARTED\tEND REASON\tREVERTED")
	fmt.Fprintln(w, "--\t------\t---\t---\t-------\t----------\t--------")
	for _, m := range matches {
		reason := m.EndReason
		if reason == "" {
			reason = "in progress"
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%d/%d\n",
			m.ID, m.PlayerName, m.MapName, m.KitName,
			m.StartedAt.Format("2006-01-02 15:04"), reason,
			m.ActionsReverted, m.ActionsRecorded)
	}
	w.Flush()
}

// cmdUser handles user subcommands
func cmdUser(args []string) {
	if len(args) < 1 {
		fmt.Fprintf(os.Stderr, "Error: user subcommand required: add, remove, list, reset\n")
		os.Exit(1)
	}

	subCmd := args[0]
	fs := flag.NewFlagSet("user", flag.ContinueOnError)
	configPath := fs.String("config", defaultConfigPath, "path to configuration file")
	isAdmin := fs.Bool("admin", false, "create as admin user")
	fs.Parse(args[1:])
	remaining := fs.Args()

	loadCLIConfigFromFlags(*configPath, "")

	store, err := storage.New(dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to open database: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	ctx := context.Background()

	var cmdErr error
	switch subCmd {
	case "add":
		cmdErr = cmdUserAdd(ctx, store, *isAdmin, remaining)
	case "remove":
		cmdErr = cmdUserRemove(ctx, store, remaining)
	case "list":
		cmdErr = cmdUserList(ctx, store)
	case "reset":
		cmdErr = cmdUserReset(ctx, store, remaining)
	default:
		cmdErr = fmt.Errorf("unknown user command: %s (use: add, remove, list, reset)", subCmd)
	}
	if cmdErr != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", cmdErr)
		os.Exit(1)
	}
}

func cmdUserAdd(ctx context.Context, store *storage.Store, isAdmin bool, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: fortcore user add [--admin] <username>")
	}
	username := args[0]

	if _, err := store.GetUserByUsername(ctx, username); err == nil {
		return fmt.Errorf("user '%s' already exists", username)
	}

	password, err := promptPassword()
	if err != nil {
		return err
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	if err := store.CreateUser(ctx, username, hash, isAdmin); err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}

	roleStr := "user"
	if isAdmin {
		roleStr = "admin"
	}
	fmt.Printf("User '%s' created successfully (role: %s)\n", username, roleStr)
	return nil
}

func cmdUserRemove(ctx context.Context, store *storage.Store, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: fortcore user remove <username>")
	}
	username := args[0]

	if err := store.DeleteUser(ctx, username); err != nil {
		return fmt.Errorf("failed to remove user: %w", err)
	}

	fmt.Printf("User '%s' removed\n", username)
	return nil
}

func cmdUserList(ctx context.Context, store *storage.Store) error {
	users, err := store.ListUsers(ctx)
	if err != nil {
		return fmt.Errorf("failed to list users: %w", err)
	}

	if len(users) == 0 {
		fmt.Println("No users configured")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "USERNAME\tROLE\tCREATED")
	fmt.Fprintln(w, "--------\t----\t-------")
	for _, user := range users {
		role := "user"
		if user.IsAdmin {
			role = "admin"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", user.Username, role, user.CreatedAt.Format("2006-01-02 15:04"))
	}
	return w.Flush()
}

func cmdUserReset(ctx context.Context, store *storage.Store, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: fortcore user reset <username>")
	}
	username := args[0]

	if _, err := store.GetUserByUsername(ctx, username); err != nil {
		return fmt.Errorf("user not found: %s", username)
	}

	password, err := promptPassword()
	if err != nil {
		return err
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	if err := store.UpdateUserPassword(ctx, username, hash); err != nil {
		return fmt.Errorf("failed to reset password: %w", err)
	}

	fmt.Printf("Password reset for '%s'\n", username)
	return nil
}

// promptPassword reads and confirms a password without echoing it
func promptPassword() (string, error) {
	fmt.Print("Enter password: ")
	password, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}

	if len(password) < 8 {
		return "", fmt.Errorf("password must be at least 8 characters")
	}

	fmt.Print("Confirm password: ")
	confirm, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}

	if string(password) != string(confirm) {
		return "", fmt.Errorf("passwords do not match")
	}
	return string(password), nil
}

// cmdMaps dispatches map subcommands
func cmdMaps(args []string) {
	if len(args) < 1 || args[0] != "render" {
		fmt.Fprintf(os.Stderr, "Error: maps subcommand required: render\n")
		os.Exit(1)
	}
	cmdMapsRender(args[1:])
}

// cmdMapsRender converts configured levelshot tga images to png thumbnails
func cmdMapsRender(args []string) {
	fs := flag.NewFlagSet("maps render", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "path to configuration file")
	fs.Parse(args)

	cfg := loadCLIConfigFromFlags(*configPath, "")
	if cfg == nil {
		fmt.Fprintf(os.Stderr, "Error: failed to load config\n")
		os.Exit(1)
	}

	// Output dir override, or default under the static dir
	remaining := fs.Args()
	var outputDir string
	if len(remaining) > 0 {
		outputDir = remaining[0]
	} else {
		if cfg.Server.StaticDir == "" {
			fmt.Fprintf(os.Stderr, "Error: static_dir not configured and no output dir given\n")
			os.Exit(1)
		}
		outputDir = filepath.Join(cfg.Server.StaticDir, "assets", "maps")
	}

	if err := os.MkdirAll(outputDir, 0755); err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to create output directory %s: %v\n", outputDir, err)
		os.Exit(1)
	}

	rendered := 0
	for _, m := range cfg.Maps {
		if m.Levelshot == "" {
			continue
		}
		outputPath := filepath.Join(outputDir, mapSlug(m.Name)+".png")
		if err := renderLevelshot(m.Levelshot, outputPath); err != nil {
			fmt.Fprintf(os.Stderr, "  Warning: %s: %v\n", m.Name, err)
			continue
		}
		fmt.Printf("  %s: %s\n", m.Name, outputPath)
		rendered++
	}

	fmt.Printf("Levelshots: %d rendered\n", rendered)
}

// renderLevelshot decodes a tga levelshot and writes a 640x360 png
func renderLevelshot(tgaPath, outputPath string) error {
	f, err := os.Open(tgaPath)
	if err != nil {
		return err
	}
	defer f.Close()

	img, err := tga.Decode(f)
	if err != nil {
		return fmt.Errorf("failed to decode tga: %w", err)
	}

	// Resize using Catmull-Rom (bicubic) interpolation
	bounds := img.Bounds()
	if bounds.Dx() != 640 || bounds.Dy() != 360 {
		dst := image.NewRGBA(image.Rect(0, 0, 640, 360))
		draw.CatmullRom.Scale(dst, dst.Bounds(), img, bounds, draw.Over, nil)
		img = dst
	}

	out, err := os.Create(outputPath)
	if err != nil {
		return err
	}

	if err := png.Encode(out, img); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// mapSlug turns a map display name into a filename
func mapSlug(name string) string {
	slug := strings.ToLower(name)
	slug = strings.ReplaceAll(slug, " ", "-")
	return slug
}

func getJSON(path string, target interface{}) error {
	url := baseURL + path
	resp, err := http.Get(url)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, string(body))
	}

	return json.NewDecoder(resp.Body).Decode(target)
}
