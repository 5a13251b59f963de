package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"stories-go/internal/app"
	"stories-go/internal/config"
	"stories-go/internal/model"
	"stories-go/internal/stories"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var verbose bool

// newApp reads the config and creates an App. The caller must defer a.Close().
// operation identifies the CLI command being run (e.g. "list", "sync").
func newApp(operation string, args []string) (*app.App, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	a, err := app.NewApp(cfg, app.Options{
		Operation:  operation,
		Parameters: strings.Join(args, " "),
		Verbose:    verbose,
	})
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}

	return a, nil
}

// report prints a Result message and turns a failed Result into an error.
func report[T any](a *app.App, res stories.Result[T]) error {
	if !res.Success {
		a.Fail()
		return errors.New(res.Message)
	}
	if res.Message != "" {
		fmt.Println(res.Message)
	}
	return nil
}

func printStory(s model.Story) {
	loc := ""
	if s.Location != nil {
		loc = fmt.Sprintf("  (%.5f, %.5f)", s.Location.Lat, s.Location.Lon)
	}
	fmt.Printf("%s  %s  %-15s  %s%s\n",
		s.ID,
		s.CreatedAt.Local().Format("2006-01-02 15:04"),
		s.Author,
		oneLine(s.Description, 60),
		loc,
	)
}

// oneLine collapses whitespace and cuts s to at most max runes.
func oneLine(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) > max {
		return string(r[:max-3]) + "..."
	}
	return s
}

func readPassword(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	if term.IsTerminal(int(os.Stdin.Fd())) {
		pw, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("reading password: %w", err)
		}
		return string(pw), nil
	}
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("reading password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

var rootCmd = &cobra.Command{
	Use:           "stories",
	Short:         "Offline-first story sharing client",
	SilenceUsage:  true,
	SilenceErrors: false,
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		clientID := uuid.New().String()
		cfg := config.NewConfig(clientID, defaults["base_dir"])

		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("Client ID: %s\n", clientID)
		fmt.Printf("Base Dir:  %s\n", defaults["base_dir"])
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg, err := config.ReadFromFile(defaults["config_path"])
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		fmt.Printf("Configuration from %s:\n\n", defaults["config_path"])
		fmt.Printf("Client ID:    %s\n", cfg.ClientID)
		fmt.Printf("Base Dir:     %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:      %s\n", cfg.LogDir)
		fmt.Printf("API:          %s\n", cfg.API.BaseURL)
		fmt.Printf("Database:     %s %s\n", cfg.Database.Type, cfg.Database.DataDir)
		fmt.Printf("Clear Policy: %s\n", cfg.Sync.ClearPolicy)
		fmt.Printf("Proxy:        %s (cache %s, %s)\n", cfg.Proxy.ListenAddr, cfg.Proxy.Version, cfg.Proxy.Cache.Type)
		if cfg.Proxy.ClientProxyURL != "" {
			fmt.Printf("Client Proxy: %s\n", cfg.Proxy.ClientProxyURL)
		}
		return nil
	},
}

// login command
var loginCmd = &cobra.Command{
	Use:   "login EMAIL",
	Short: "Log in and store the session token",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		password, err := readPassword("Password: ")
		if err != nil {
			return err
		}

		a, err := newApp("login", args)
		if err != nil {
			return err
		}
		defer a.Close()

		sess, err := a.Login(cmd.Context(), args[0], password)
		if err != nil {
			a.Fail()
			return fmt.Errorf("login failed: %w", err)
		}

		fmt.Printf("Logged in as %s\n", sess.Name)
		return nil
	},
}

var registerCmd = &cobra.Command{
	Use:   "register NAME EMAIL",
	Short: "Create an account",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		password, err := readPassword("Password (min 8 characters): ")
		if err != nil {
			return err
		}

		a, err := newApp("register", args)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Register(cmd.Context(), args[0], args[1], password); err != nil {
			a.Fail()
			return fmt.Errorf("registration failed: %w", err)
		}

		fmt.Println("Account created. Run 'stories login' to sign in.")
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the stored session",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("logout", args)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Logout(); err != nil {
			a.Fail()
			return err
		}
		fmt.Println("Logged out.")
		return nil
	},
}

// list command
var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List stories",
	RunE: func(cmd *cobra.Command, args []string) error {
		page, _ := cmd.Flags().GetInt("page")
		size, _ := cmd.Flags().GetInt("size")
		withLocation, _ := cmd.Flags().GetBool("location")

		a, err := newApp("list", args)
		if err != nil {
			return err
		}
		defer a.Close()

		res := a.List(cmd.Context(), page, size, withLocation)
		if err := report(a, res); err != nil {
			return err
		}

		if len(res.Data) == 0 {
			fmt.Println("No stories.")
			return nil
		}
		for _, s := range res.Data {
			printStory(s)
		}
		return nil
	},
}

var showCmd = &cobra.Command{
	Use:   "show ID",
	Short: "Show one story",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("show", args)
		if err != nil {
			return err
		}
		defer a.Close()

		res := a.Show(cmd.Context(), args[0])
		if err := report(a, res); err != nil {
			return err
		}

		s := res.Data
		fmt.Printf("ID:       %s\n", s.ID)
		fmt.Printf("Author:   %s\n", s.Author)
		fmt.Printf("Created:  %s\n", s.CreatedAt.Local().Format("2006-01-02 15:04:05"))
		fmt.Printf("Photo:    %s\n", s.PhotoURL)
		if s.Location != nil {
			fmt.Printf("Location: %.5f, %.5f\n", s.Location.Lat, s.Location.Lon)
		}
		fmt.Printf("\n%s\n", s.Description)
		return nil
	},
}

var addCmd = &cobra.Command{
	Use:   "add PHOTO",
	Short: "Post a story, queueing it when offline",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		description, _ := cmd.Flags().GetString("description")

		var lat, lon *float64
		if cmd.Flags().Changed("lat") {
			v, _ := cmd.Flags().GetFloat64("lat")
			lat = &v
		}
		if cmd.Flags().Changed("lon") {
			v, _ := cmd.Flags().GetFloat64("lon")
			lon = &v
		}

		guest, _ := cmd.Flags().GetBool("guest")

		a, err := newApp("add", args)
		if err != nil {
			return err
		}
		defer a.Close()

		if guest {
			res, err := a.AddGuestStory(cmd.Context(), description, args[0], lat, lon)
			if err != nil {
				a.Fail()
				return err
			}
			return report(a, res)
		}

		res, err := a.AddStory(cmd.Context(), description, args[0], lat, lon)
		if err != nil {
			a.Fail()
			return err
		}
		if err := report(a, res); err != nil {
			return err
		}
		if res.Offline && res.Data != nil {
			fmt.Printf("Queued as #%d\n", res.Data.ID)
		}
		return nil
	},
}

// fav command
var favCmd = &cobra.Command{
	Use:   "fav",
	Short: "Manage favorites",
}

var favAddCmd = &cobra.Command{
	Use:   "add ID",
	Short: "Add a story to favorites",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("fav-add", args)
		if err != nil {
			return err
		}
		defer a.Close()

		return report(a, a.AddFavorite(cmd.Context(), args[0]))
	},
}

var favRmCmd = &cobra.Command{
	Use:   "rm ID",
	Short: "Remove a story from favorites",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("fav-rm", args)
		if err != nil {
			return err
		}
		defer a.Close()

		return report(a, a.RemoveFavorite(cmd.Context(), args[0]))
	},
}

var favLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List favorites",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("fav-ls", args)
		if err != nil {
			return err
		}
		defer a.Close()

		res := a.Favorites(cmd.Context())
		if err := report(a, res); err != nil {
			return err
		}
		if len(res.Data) == 0 {
			fmt.Println("No favorites.")
			return nil
		}
		for _, f := range res.Data {
			printStory(f.Story)
		}
		return nil
	},
}

// queue command
var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Show stories waiting to be uploaded",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("queue", args)
		if err != nil {
			return err
		}
		defer a.Close()

		res := a.Queue(cmd.Context())
		if err := report(a, res); err != nil {
			return err
		}
		if len(res.Data) == 0 {
			fmt.Println("Offline queue is empty.")
			return nil
		}
		for _, m := range res.Data {
			fmt.Printf("#%d  %s  %-12s  %s  %d bytes\n",
				m.ID,
				m.EnqueuedAt.Local().Format("2006-01-02 15:04:05"),
				m.Kind,
				oneLine(m.Payload.Description, 50),
				len(m.Payload.Photo),
			)
		}
		return nil
	},
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Upload queued stories now",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("sync", args)
		if err != nil {
			return err
		}
		defer a.Close()

		results, err := a.Sync(cmd.Context())
		if err != nil {
			a.Fail()
			return fmt.Errorf("sync failed: %w", err)
		}
		if len(results) == 0 {
			fmt.Println("Nothing to sync.")
			return nil
		}

		synced := 0
		for _, r := range results {
			status := "synced"
			switch {
			case r.Success:
				synced++
			case errors.Is(r.Err, stories.ErrSkipped):
				status = "pending"
			default:
				status = "failed: " + r.Err.Error()
			}
			fmt.Printf("#%d  %-40s  %s\n", r.Item.ID, oneLine(r.Item.Payload.Description, 40), status)
		}
		fmt.Printf("Synced %d of %d\n", synced, len(results))
		return nil
	},
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Clear cached stories, favorites, the offline queue and proxy caches",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("clear", args)
		if err != nil {
			return err
		}
		defer a.Close()

		return report(a, a.ClearCache(cmd.Context()))
	},
}

var proxyCmd = &cobra.Command{
	Use:   "proxy",
	Short: "Run the background cache proxy",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("proxy", args)
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, stop := signalContext()
		defer stop()

		fmt.Printf("Cache proxy listening on %s\n", a.Config().Proxy.ListenAddr)
		if err := a.ServeProxy(ctx); err != nil {
			a.Fail()
			return err
		}
		return nil
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Upload queued stories whenever connectivity returns",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("watch", args)
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, stop := signalContext()
		defer stop()

		fmt.Println("Watching connectivity. Press Ctrl+C to stop.")
		if err := a.Watch(ctx); err != nil {
			a.Fail()
			return err
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log debug output to stderr")

	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)

	// fav subcommands
	favCmd.AddCommand(favAddCmd)
	favCmd.AddCommand(favRmCmd)
	favCmd.AddCommand(favLsCmd)

	// root commands
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(registerCmd)
	rootCmd.AddCommand(logoutCmd)
	rootCmd.AddCommand(listCmd)
	listCmd.Flags().IntP("page", "p", 1, "Page number")
	listCmd.Flags().IntP("size", "n", 10, "Stories per page")
	listCmd.Flags().BoolP("location", "l", false, "Only stories with a location")
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(addCmd)
	addCmd.Flags().StringP("description", "d", "", "Story text (required)")
	addCmd.Flags().Float64("lat", 0, "Latitude")
	addCmd.Flags().Float64("lon", 0, "Longitude")
	addCmd.Flags().Bool("guest", false, "Post without logging in (never queued offline)")
	addCmd.MarkFlagRequired("description")
	rootCmd.AddCommand(favCmd)
	rootCmd.AddCommand(queueCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(clearCmd)
	rootCmd.AddCommand(proxyCmd)
	rootCmd.AddCommand(watchCmd)
}
