package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	tea "charm.land/bubbletea/v2"

	"github.com/hrmportal/hrm-cli/api"
	"github.com/hrmportal/hrm-cli/session"
	"github.com/hrmportal/hrm-cli/tui"
)

var (
	serverURL         string
	sessionFile       string
	requestTimeout    time.Duration
	flagServerURL     *string
	flagSessionFile   *string
	flagTimeout       *duration
	configInitialized bool
)

type duration struct {
	set bool
	d   time.Duration
}

func (d *duration) String() string { return d.d.String() }

func (d *duration) Set(s string) error {
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	d.set = true
	d.d = v
	return nil
}

func init() {
	// Load .env file if exists (ignore error if not found)
	_ = godotenv.Load()

	// Define flags (but don't parse yet to avoid conflicts with test flags)
	flagServerURL = flag.String(
		"server-url",
		"",
		"HRM portal API URL (default: http://localhost:8000 or HRM_SERVER_URL env)",
	)
	flagSessionFile = flag.String(
		"session-file",
		"",
		"Session storage file (default: .hrm-session.json or HRM_SESSION_FILE env)",
	)
	flagTimeout = &duration{}
	flag.Var(flagTimeout, "timeout", "Per-request timeout (default: 30s or HRM_REQUEST_TIMEOUT env)")
}

// initConfig parses flags and initializes configuration.
// Separated from init() to avoid conflicts with test flag parsing.
func initConfig() {
	if configInitialized {
		return
	}
	configInitialized = true

	flag.Parse()

	// Priority: flag > env > default
	serverURL = getConfig(*flagServerURL, "HRM_SERVER_URL", "http://localhost:8000")
	sessionFile = getConfig(*flagSessionFile, "HRM_SESSION_FILE", ".hrm-session.json")

	requestTimeout = api.DefaultTimeout
	if flagTimeout.set {
		requestTimeout = flagTimeout.d
	} else if env := os.Getenv("HRM_REQUEST_TIMEOUT"); env != "" {
		v, err := time.ParseDuration(env)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: Invalid HRM_REQUEST_TIMEOUT: %v\n", err)
			os.Exit(1)
		}
		requestTimeout = v
	}

	if err := validateServerURL(serverURL); err != nil {
		fmt.Fprintf(os.Stderr, "Error: Invalid HRM_SERVER_URL: %v\n", err)
		os.Exit(1)
	}

	if strings.HasPrefix(strings.ToLower(serverURL), "http://") {
		fmt.Fprintln(
			os.Stderr,
			"⚠️  WARNING: Using HTTP instead of HTTPS. Tokens will be transmitted in plaintext!",
		)
		fmt.Fprintln(
			os.Stderr,
			"⚠️  This is only safe for local development. Use HTTPS in production.",
		)
		fmt.Fprintln(os.Stderr)
	}
}

// getConfig returns value with priority: flag > env > default
func getConfig(flagValue, envKey, defaultValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return getEnv(envKey, defaultValue)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// validateServerURL validates that the portal URL is properly formatted
func validateServerURL(rawURL string) error {
	if rawURL == "" {
		return errors.New("server URL cannot be empty")
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL format: %w", err)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("URL scheme must be http or https, got: %s", u.Scheme)
	}

	if u.Host == "" {
		return errors.New("URL must include a host")
	}

	return nil
}

// isTTY reports whether stderr is a character device (interactive terminal).
// We check stderr because the TUI renders to stderr, allowing stdout to be piped.
func isTTY() bool {
	fi, err := os.Stderr.Stat()
	if err != nil {
		return false
	}
	return (fi.Mode() & os.ModeCharDevice) != 0
}

func usage() {
	fmt.Fprintln(os.Stderr, `Usage: hrm-cli [flags] <command> [args]

Commands:
  login <username> [password]   Authenticate with the portal
  logout                        Clear the stored session
  status                        Show current session
  clock-in | clock-out          Mark attendance
  attendance [month]            Show the attendance sheet
  leave apply <type> <from> <to> <reason...>
  leave list [status]           List leave requests
  leave approve|reject <id>     Resolve a pending leave request
  payslips [year]               Show salary history
  announcements                 List announcements
  announcements post <title> <body...>
  employees                     List the employee directory
  employees onboard <name> <email> <role>
  employees upload <id> <kind> <file>
  projects                      List projects
  tasks [project-id]            List tasks
  tasks assign <task-id> <employee-id>
  dashboard                     Live dashboard with session-age watcher`)
	flag.PrintDefaults()
}

func main() {
	initConfig()

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}
	cmd, cmdArgs := args[0], args[1:]

	if isTTY() {
		// Run TUI program on stderr so stdout pipes are not corrupted
		m := tui.NewModel()
		// WithInput(nil): disable stdin/keyboard input so BubbleTea skips terminal
		// capability queries. Ctrl+C is handled by signal.NotifyContext.
		p := tea.NewProgram(m, tea.WithOutput(os.Stderr), tea.WithInput(nil))

		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := p.Run(); err != nil {
				fmt.Fprintf(os.Stderr, "TUI error: %v\n", err)
			}
		}()

		d := tui.NewProgramDisplayer(p)
		d.Banner()
		runErr := run(d, cmd, cmdArgs)
		p.Quit() // let BubbleTea drain terminal query responses before exiting
		wg.Wait()
		if runErr != nil {
			os.Exit(1)
		}
	} else {
		d := tui.NewPlainDisplayer(os.Stderr)
		d.Banner()
		if err := run(d, cmd, cmdArgs); err != nil {
			os.Exit(1)
		}
	}
}

func run(d tui.Displayer, cmd string, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store := session.NewStore(sessionFile)

	// Teardown navigation: in a terminal there is no route to switch to, the
	// login entry point is the login command.
	nav := api.NavigatorFunc(func() {
		d.Notice("Please log in again: hrm-cli login <username>")
	})

	client, err := api.NewClient(
		serverURL,
		store,
		nav,
		api.WithTimeout(requestTimeout),
		api.WithEvents(d),
	)
	if err != nil {
		d.Fatal(err)
		return err
	}

	// One immediate session-age check before any command; the dashboard
	// command keeps checking on an interval.
	watcher := session.NewWatcher(store, func() {
		d.SessionExpiredByAge()
		nav.ToLogin()
	})
	watcher.CheckOnce()

	app := &app{store: store, client: client, watcher: watcher, d: d}

	if err := app.dispatch(ctx, cmd, args); err != nil {
		d.Fatal(err)
		return err
	}
	return nil
}
