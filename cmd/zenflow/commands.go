package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kalambet/zenflow/internal/busyness"
	"github.com/kalambet/zenflow/internal/calendar"
	"github.com/kalambet/zenflow/internal/config"
	"github.com/kalambet/zenflow/internal/pipeline"
	"github.com/kalambet/zenflow/internal/session"
	"github.com/kalambet/zenflow/internal/theme"
	"github.com/kalambet/zenflow/internal/usage"
)

// readSchedule resolves schedule text from --text, --file, or stdin, in that
// order. Stdin is read only when it is not a terminal.
func readSchedule(cmd *cobra.Command) (string, error) {
	if text, _ := cmd.Flags().GetString("text"); text != "" {
		return text, nil
	}
	if file, _ := cmd.Flags().GetString("file"); file != "" {
		return calendar.ImportFile(file)
	}

	in := cmd.InOrStdin()
	if f, ok := in.(*os.File); ok {
		info, err := f.Stat()
		if err != nil || info.Mode()&os.ModeCharDevice != 0 {
			return "", nil
		}
	}
	data, err := io.ReadAll(in)
	if err != nil {
		return "", fmt.Errorf("reading stdin: %w", err)
	}
	return string(data), nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func loadStyles(a *app) theme.Styles {
	p, err := a.sessions.LoadTheme()
	if err != nil {
		p = theme.Default()
	}
	return stylesFor(p)
}

// --- analyze ---

type analyzeOutput struct {
	Session session.Snapshot `json:"session"`
	Usage   usage.State      `json:"usage"`
	Notices []string         `json:"notices,omitempty"`
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Recommend a yoga flow for a day's schedule",
	Long: `Analyze a schedule and recommend a yoga flow, a sample pose with an
illustration, and follow-along videos. The result is saved as the current
session.

Examples:
  zenflow analyze --text "9:00 AM standup
  1:00 PM design review"
  zenflow analyze --file ./today.pdf
  zenflow analyze --calendar
  cat today.txt | zenflow analyze`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			var schedule string
			var err error
			if useCal, _ := cmd.Flags().GetBool("calendar"); useCal {
				schedule, err = syncCalendar(ctx, a)
			} else {
				schedule, err = readSchedule(cmd)
			}
			if err != nil {
				return err
			}

			printStep("Analyzing your schedule...")
			res, err := a.pipeline.Analyze(ctx, schedule)
			if err != nil {
				var limitErr *pipeline.LimitError
				if errors.As(err, &limitErr) {
					renderUsage(cmd.ErrOrStderr(), loadStyles(a), limitErr.State)
				}
				return errors.New(pipeline.UserMessage(err))
			}

			var notices []string
			for _, o := range []pipeline.StageOutcome{res.Illustrate, res.Videos} {
				if o.Notice != "" {
					notices = append(notices, o.Notice)
				}
			}

			if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
				return writeJSON(cmd.OutOrStdout(), analyzeOutput{
					Session: res.Snapshot,
					Usage:   res.Usage,
					Notices: notices,
				})
			}

			for _, n := range notices {
				printWarning("%s", n)
			}
			st := loadStyles(a)
			out := cmd.OutOrStdout()
			renderSession(out, st, res.Snapshot)
			renderUsage(out, st, res.Usage)
			return nil
		})
	},
}

func init() {
	analyzeCmd.Flags().String("text", "", "schedule text")
	analyzeCmd.Flags().String("file", "", "calendar export to read (.txt, .md, .pdf, .html)")
	analyzeCmd.Flags().Bool("calendar", false, "fetch today's events from the connected calendar")
	analyzeCmd.Flags().Bool("json", false, "print the result as JSON")
}

// --- score ---

type scoreOutput struct {
	Score  int           `json:"score"`
	Events int           `json:"events"`
	Label  string        `json:"label"`
	Band   busyness.Band `json:"band"`
}

var scoreCmd = &cobra.Command{
	Use:   "score",
	Short: "Score how busy a schedule is without using a recommendation",
	RunE: func(cmd *cobra.Command, args []string) error {
		schedule, err := readSchedule(cmd)
		if err != nil {
			return err
		}
		score := busyness.Score(schedule)
		events := busyness.CountEvents(schedule)

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return writeJSON(cmd.OutOrStdout(), scoreOutput{
				Score:  score,
				Events: events,
				Label:  busyness.Label(score),
				Band:   busyness.BandFor(score),
			})
		}
		renderBusyness(cmd.OutOrStdout(), stylesFor(theme.Default()), score, events)
		return nil
	},
}

func init() {
	scoreCmd.Flags().String("text", "", "schedule text")
	scoreCmd.Flags().String("file", "", "calendar export to read (.txt, .md, .pdf, .html)")
	scoreCmd.Flags().Bool("json", false, "print the score as JSON")
}

// --- session ---

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Show or clear the saved recommendation",
}

var sessionShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the saved recommendation",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app) error {
			snap, err := a.sessions.LoadSnapshot()
			if errors.Is(err, session.ErrNoSnapshot) {
				printWarning("No saved session. Run `zenflow analyze` first.")
				return nil
			}
			if err != nil {
				return err
			}
			if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
				return writeJSON(cmd.OutOrStdout(), snap)
			}
			renderSession(cmd.OutOrStdout(), loadStyles(a), snap)
			return nil
		})
	},
}

var sessionClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Forget the saved recommendation and its image",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app) error {
			if err := a.sessions.ClearSnapshot(); err != nil {
				return err
			}
			printSuccess("Session cleared")
			return nil
		})
	},
}

var sessionImageCmd = &cobra.Command{
	Use:   "image",
	Short: "Write the saved pose illustration to a file",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app) error {
			snap, err := a.sessions.LoadSnapshot()
			if errors.Is(err, session.ErrNoSnapshot) || (err == nil && snap.ImageHandle == "") {
				return errors.New("no saved pose illustration")
			}
			if err != nil {
				return err
			}
			img, err := a.store.GetImage(snap.ImageHandle)
			if err != nil {
				return fmt.Errorf("loading image: %w", err)
			}

			out, _ := cmd.Flags().GetString("out")
			if out == "" {
				out = "zenflow-pose" + imageExt(img.MIMEType)
			}
			if err := os.WriteFile(out, img.Data, 0o644); err != nil {
				return fmt.Errorf("writing image: %w", err)
			}
			printSuccess("Saved %s pose to %s", snap.Recommendation.SamplePose, out)
			return nil
		})
	},
}

func imageExt(mimeType string) string {
	switch mimeType {
	case "image/jpeg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	default:
		return ".png"
	}
}

func init() {
	sessionShowCmd.Flags().Bool("json", false, "print the session as JSON")
	sessionImageCmd.Flags().String("out", "", "output path (default zenflow-pose.<ext>)")
	sessionCmd.AddCommand(sessionShowCmd, sessionClearCmd, sessionImageCmd)
}

// --- usage ---

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Show or reset free recommendation usage",
}

var usageStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show free recommendations used and remaining",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app) error {
			renderUsage(cmd.OutOrStdout(), loadStyles(a), a.gate.State())
			return nil
		})
	},
}

var usageShareCmd = &cobra.Command{
	Use:   "share",
	Short: "Share ZenFlow to reset the free recommendation counter",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app) error {
			state, err := a.gate.ResetUsage()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, usage.ShareText)
			fmt.Fprintln(out, usage.ShareURL())
			printSuccess("Thanks for sharing! %d free recommendations unlocked", state.Remaining())
			return nil
		})
	},
}

var usageSubscribeCmd = &cobra.Command{
	Use:   "subscribe",
	Short: "Unlock unlimited recommendations",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app) error {
			if _, err := a.gate.GrantSubscription(); err != nil {
				return err
			}
			printSuccess("Subscribed: unlimited recommendations unlocked")
			return nil
		})
	},
}

func init() {
	usageCmd.AddCommand(usageStatusCmd, usageShareCmd, usageSubscribeCmd)
}

// --- theme ---

var themeCmd = &cobra.Command{
	Use:   "theme",
	Short: "Show or change the color theme",
}

var themeShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the current theme",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app) error {
			p, err := a.sessions.LoadTheme()
			if err != nil {
				return err
			}
			primary, accent := p.Colors()
			st := stylesFor(p)
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, st.Title.Render(p.Name))
			fmt.Fprintf(out, "  primary %s\n", st.Title.Render(primary))
			fmt.Fprintf(out, "  accent  %s\n", st.Accent.Render(accent))
			return nil
		})
	},
}

var themeListCmd = &cobra.Command{
	Use:   "list",
	Short: "List available themes",
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, name := range theme.Names() {
			fmt.Fprintln(cmd.OutOrStdout(), name)
		}
		return nil
	},
}

var themeSetCmd = &cobra.Command{
	Use:   "set <name>",
	Short: "Set the color theme",
	Long: `Set the color theme to a preset or a custom pair of colors.

Examples:
  zenflow theme set ocean
  zenflow theme set custom --primary "#7c3aed" --accent "#f472b6"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		primary, _ := cmd.Flags().GetString("primary")
		accent, _ := cmd.Flags().GetString("accent")
		p, err := theme.Resolve(args[0], primary, accent)
		if err != nil {
			return err
		}
		return withApp(func(a *app) error {
			if err := a.sessions.SaveTheme(p); err != nil {
				return err
			}
			printSuccess("Theme set to %s", p.Name)
			return nil
		})
	},
}

func init() {
	themeSetCmd.Flags().String("primary", "", "primary color #rrggbb (custom only)")
	themeSetCmd.Flags().String("accent", "", "accent color #rrggbb (custom only)")
	themeCmd.AddCommand(themeShowCmd, themeListCmd, themeSetCmd)
}

// --- calendar ---

var calendarCmd = &cobra.Command{
	Use:   "calendar",
	Short: "Connect a calendar or import an exported schedule",
}

// requireCalendar returns the configured calendar or the not-configured
// notice as an error.
func requireCalendar(a *app) (calendar.Source, error) {
	if a.calendar == nil {
		return nil, errors.New(a.calendarNotice())
	}
	return a.calendar, nil
}

func syncCalendar(ctx context.Context, a *app) (string, error) {
	src, err := requireCalendar(a)
	if err != nil {
		return "", err
	}
	text, err := src.ListTodaysEvents(ctx)
	if err != nil {
		return "", errors.New(calendar.UserMessage(err))
	}
	return text, nil
}

var calendarStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether calendar sync is available",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app) error {
			if a.calendar == nil {
				printStatus("Calendar", "not configured")
				printWarning("%s", a.calendarNotice())
				return nil
			}
			printStatus("Calendar", "configured (%s)", a.cfg.Calendar.CalendarID)
			return nil
		})
	},
}

var calendarSignInCmd = &cobra.Command{
	Use:   "signin",
	Short: "Sign in to the calendar provider",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app) error {
			src, err := requireCalendar(a)
			if err != nil {
				return err
			}
			res, err := src.SignIn(cmd.Context())
			if err != nil {
				return errors.New(calendar.UserMessage(err))
			}
			if res.Account != "" {
				printSuccess("Signed in as %s", res.Account)
			} else {
				printSuccess("Signed in")
			}
			return nil
		})
	},
}

var calendarSignOutCmd = &cobra.Command{
	Use:   "signout",
	Short: "Sign out of the calendar provider",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app) error {
			src, err := requireCalendar(a)
			if err != nil {
				return err
			}
			if err := src.SignOut(cmd.Context()); err != nil {
				return errors.New(calendar.UserMessage(err))
			}
			printSuccess("Signed out")
			return nil
		})
	},
}

var calendarSyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Print today's events as schedule text",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app) error {
			text, err := syncCalendar(cmd.Context(), a)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), text)
			return nil
		})
	},
}

var calendarImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Extract schedule text from an exported calendar file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		text, err := calendar.ImportFile(args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), text)
		return nil
	},
}

func init() {
	calendarCmd.AddCommand(calendarStatusCmd, calendarSignInCmd, calendarSignOutCmd, calendarSyncCmd, calendarImportCmd)
}

// --- feedback ---

var feedbackCmd = &cobra.Command{
	Use:   "feedback",
	Short: "Rate recommendations",
}

var feedbackAddCmd = &cobra.Command{
	Use:   "add <positive|negative> [notes...]",
	Short: "Record whether the last recommendation was helpful",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app) error {
			f, err := session.RecordFeedback(a.sessions, a.store, args[0], strings.Join(args[1:], " "))
			if err != nil {
				return err
			}
			printSuccess("Recorded %s feedback", f.Sentiment)
			return nil
		})
	},
}

var feedbackListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent feedback",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		return withApp(func(a *app) error {
			items, err := a.store.ListFeedback(limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, f := range items {
				fmt.Fprintf(out, "%s  %-8s  %s", f.CreatedAt.Local().Format("2006-01-02 15:04"), f.Sentiment, orDash(f.Flow))
				if f.Notes != "" {
					fmt.Fprintf(out, "  %q", f.Notes)
				}
				fmt.Fprintln(out)
			}
			return nil
		})
	},
}

func init() {
	feedbackListCmd.Flags().Int("limit", 20, "maximum entries to show")
	feedbackCmd.AddCommand(feedbackAddCmd, feedbackListCmd)
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		keys := config.ShowAll(cfg)
		for _, k := range keys {
			fmt.Fprintf(cmd.OutOrStdout(), "  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

var configSetSecretCmd = &cobra.Command{
	Use:   "set-secret <key> <value>",
	Short: "Store a secret (API key, client ID, token) in the platform secret store",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.SetSecret(args[0], args[1]); err != nil {
			return err
		}
		printSuccess("Stored %s", args[0])
		return nil
	},
}

var configUnsetCmd = &cobra.Command{
	Use:   "unset <key>",
	Short: "Remove a stored value so the default applies",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.UnsetKey(args[0]); err != nil {
			return err
		}
		printSuccess("Unset %s", args[0])
		return nil
	},
}

var configDeleteSecretCmd = &cobra.Command{
	Use:   "delete-secret <key>",
	Short: "Remove a secret from the platform secret store",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.DeleteSecret(args[0]); err != nil {
			return err
		}
		printSuccess("Deleted %s", args[0])
		return nil
	},
}

var configKeysCmd = &cobra.Command{
	Use:   "keys",
	Short: "List configuration keys",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		for _, k := range config.ValidKeys() {
			fmt.Fprintln(out, k)
		}
		for _, k := range config.SecretKeys() {
			fmt.Fprintf(out, "%s (secret)\n", k)
		}
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd, configSetCmd, configUnsetCmd, configSetSecretCmd, configDeleteSecretCmd, configKeysCmd)
}
