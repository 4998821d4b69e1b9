package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/irontemple/internal/identity"
	"github.com/MarcoPoloResearchLab/irontemple/internal/status"
	"github.com/MarcoPoloResearchLab/irontemple/internal/workouts"
	"github.com/spf13/cobra"
)

const dateOnlyLayout = "2006-01-02"

// withApp loads configuration, wires the engine and closes it after run.
func withApp(run func(cmd *cobra.Command, args []string, a *app) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		instance, err := loadApp()
		if err != nil {
			return err
		}
		defer instance.Close()
		return run(cmd, args, instance)
	}
}

func printJSON(w io.Writer, value any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(value)
}

func parseDate(raw string) (time.Time, error) {
	trimmed := strings.TrimSpace(raw)
	if parsed, err := time.Parse(time.RFC3339, trimmed); err == nil {
		return parsed.UTC(), nil
	}
	parsed, err := time.ParseInLocation(dateOnlyLayout, trimmed, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: want RFC3339 or %s", raw, dateOnlyLayout)
	}
	return parsed.UTC(), nil
}

// parseExercise reads "Name:RxW,RxW" into an exercise of completed sets.
func parseExercise(raw string, order int) (workouts.Exercise, error) {
	name, setsSpec, _ := strings.Cut(raw, ":")
	exercise := workouts.Exercise{Name: strings.TrimSpace(name), Order: order, Sets: []workouts.Set{}}
	if strings.TrimSpace(setsSpec) == "" {
		return exercise, nil
	}
	for index, setSpec := range strings.Split(setsSpec, ",") {
		repsRaw, weightRaw, found := strings.Cut(strings.TrimSpace(setSpec), "x")
		if !found {
			return workouts.Exercise{}, fmt.Errorf("invalid set %q: want RxW", setSpec)
		}
		reps, err := strconv.Atoi(strings.TrimSpace(repsRaw))
		if err != nil {
			return workouts.Exercise{}, fmt.Errorf("invalid reps in %q: %w", setSpec, err)
		}
		weight, err := strconv.ParseFloat(strings.TrimSpace(weightRaw), 64)
		if err != nil {
			return workouts.Exercise{}, fmt.Errorf("invalid weight in %q: %w", setSpec, err)
		}
		exercise.Sets = append(exercise.Sets, workouts.Set{
			SetNumber: index + 1,
			Reps:      reps,
			Weight:    weight,
			Completed: true,
			Order:     index,
		})
	}
	return exercise, nil
}

func workoutIDArg(args []string) (string, error) {
	id, err := workouts.NewWorkoutID(args[0])
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

func readInput(cmd *cobra.Command, path string) (workouts.Input, error) {
	var reader io.Reader = cmd.InOrStdin()
	if path != "-" {
		file, err := os.Open(path)
		if err != nil {
			return workouts.Input{}, err
		}
		defer file.Close()
		reader = file
	}
	var input workouts.Input
	decoder := json.NewDecoder(reader)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&input); err != nil {
		return workouts.Input{}, fmt.Errorf("decode workout: %w", err)
	}
	return input, nil
}

func newLogCommand() *cobra.Command {
	var (
		name      string
		date      string
		notes     string
		duration  int
		exercises []string
		fromJSON  string
	)
	cmd := &cobra.Command{
		Use:   "log",
		Short: "Record a workout locally and queue it for sync",
		Args:  cobra.NoArgs,
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
			input := workouts.Input{Name: name, Notes: notes, DurationMinutes: duration}
			if fromJSON != "" {
				decoded, err := readInput(cmd, fromJSON)
				if err != nil {
					return err
				}
				flags := cmd.Flags()
				if flags.Changed("name") {
					decoded.Name = name
				}
				if flags.Changed("notes") {
					decoded.Notes = notes
				}
				if flags.Changed("duration") {
					decoded.DurationMinutes = duration
				}
				input = decoded
			}
			if date != "" {
				parsed, err := parseDate(date)
				if err != nil {
					return err
				}
				input.Date = parsed
			}
			for index, raw := range exercises {
				exercise, err := parseExercise(raw, len(input.Exercises)+index)
				if err != nil {
					return err
				}
				input.Exercises = append(input.Exercises, exercise)
			}
			created, err := a.repository.Create(input)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), created)
		}),
	}
	cmd.Flags().StringVar(&name, "name", "", "Workout name")
	cmd.Flags().StringVar(&date, "date", "", "Workout date (RFC3339 or YYYY-MM-DD)")
	cmd.Flags().StringVar(&notes, "notes", "", "Free-text notes")
	cmd.Flags().IntVar(&duration, "duration", 0, "Duration in minutes")
	cmd.Flags().StringArrayVar(&exercises, "exercise", nil, `Exercise as "Name:RxW,RxW" (repeatable)`)
	cmd.Flags().StringVar(&fromJSON, "json", "", `Read the workout from a JSON file ("-" for stdin); flags override its fields`)
	return cmd
}

func newListCommand() *cobra.Command {
	var (
		recent int
		from   string
		to     string
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored workouts, most recent first",
		Args:  cobra.NoArgs,
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
			switch {
			case from != "" || to != "":
				start := time.Time{}
				end := time.Now().UTC()
				var err error
				if from != "" {
					if start, err = parseDate(from); err != nil {
						return err
					}
				}
				if to != "" {
					if end, err = parseDate(to); err != nil {
						return err
					}
				}
				return printJSON(cmd.OutOrStdout(), a.repository.ListByDateRange(start, end))
			case recent > 0:
				return printJSON(cmd.OutOrStdout(), a.repository.ListRecent(recent))
			default:
				return printJSON(cmd.OutOrStdout(), a.repository.ListAll())
			}
		}),
	}
	cmd.Flags().IntVar(&recent, "recent", 0, "Only the N most recent workouts")
	cmd.Flags().StringVar(&from, "from", "", "Range start (inclusive)")
	cmd.Flags().StringVar(&to, "to", "", "Range end (inclusive)")
	return cmd
}

func newShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show one workout",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
			id, err := workoutIDArg(args)
			if err != nil {
				return err
			}
			workout, err := a.repository.GetByID(id)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), workout)
		}),
	}
}

func newEditCommand() *cobra.Command {
	var (
		name      string
		date      string
		notes     string
		duration  int
		exercises []string
	)
	cmd := &cobra.Command{
		Use:   "edit ID",
		Short: "Change fields of a workout",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
			id, err := workoutIDArg(args)
			if err != nil {
				return err
			}
			patch := workouts.Patch{}
			flags := cmd.Flags()
			if flags.Changed("name") {
				patch.Name = &name
			}
			if flags.Changed("notes") {
				patch.Notes = &notes
			}
			if flags.Changed("duration") {
				patch.DurationMinutes = &duration
			}
			if flags.Changed("date") {
				parsed, err := parseDate(date)
				if err != nil {
					return err
				}
				patch.Date = &parsed
			}
			if flags.Changed("exercise") {
				replaced := make([]workouts.Exercise, 0, len(exercises))
				for index, raw := range exercises {
					exercise, err := parseExercise(raw, index)
					if err != nil {
						return err
					}
					replaced = append(replaced, exercise)
				}
				patch.Exercises = &replaced
			}
			updated, err := a.repository.Update(id, patch)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), updated)
		}),
	}
	cmd.Flags().StringVar(&name, "name", "", "Workout name")
	cmd.Flags().StringVar(&date, "date", "", "Workout date (RFC3339 or YYYY-MM-DD)")
	cmd.Flags().StringVar(&notes, "notes", "", "Free-text notes")
	cmd.Flags().IntVar(&duration, "duration", 0, "Duration in minutes")
	cmd.Flags().StringArrayVar(&exercises, "exercise", nil, `Replace exercises with "Name:RxW,RxW" (repeatable)`)
	return cmd
}

func newDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete ID",
		Short: "Delete a workout locally and queue the remote deletion",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
			id, err := workoutIDArg(args)
			if err != nil {
				return err
			}
			if err := a.repository.SoftDelete(id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", id)
			return nil
		}),
	}
}

func newStatsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Summarize stored workouts",
		Args:  cobra.NoArgs,
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
			return printJSON(cmd.OutOrStdout(), a.repository.AggregateStats())
		}),
	}
}

type statusOutput struct {
	Display           status.DisplayStatus `json:"status"`
	Online            bool                 `json:"online"`
	Pending           int                  `json:"pending"`
	Failed            int                  `json:"failed"`
	Total             int                  `json:"total"`
	LastSyncTimestamp *time.Time           `json:"lastSyncTimestamp"`
}

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show queue health and connectivity",
		Args:  cobra.NoArgs,
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
			online := a.probe(cmd.Context())
			queue := a.engine.Status()
			return printJSON(cmd.OutOrStdout(), statusOutput{
				Display:           status.Derive(online, a.engine.Syncing(), queue),
				Online:            online,
				Pending:           queue.Pending,
				Failed:            queue.Failed,
				Total:             queue.Total,
				LastSyncTimestamp: queue.LastSyncTimestamp,
			})
		}),
	}
}

func newSyncCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Drain the sync queue once",
		Args:  cobra.NoArgs,
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
			a.probe(cmd.Context())
			return printJSON(cmd.OutOrStdout(), a.engine.Drain(cmd.Context()))
		}),
	}
}

func newRetryCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "retry",
		Short: "Reset exhausted entries and drain",
		Args:  cobra.NoArgs,
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
			a.probe(cmd.Context())
			reset, result, err := a.engine.RetryFailed(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{"reset": reset, "result": result})
		}),
	}
}

func newClearQueueCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "clear-queue",
		Short: "Drop every queued sync entry",
		Args:  cobra.NoArgs,
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
			if err := a.engine.ClearQueue(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "sync queue cleared")
			return nil
		}),
	}
}

func newStorageCommand() *cobra.Command {
	var clear bool
	cmd := &cobra.Command{
		Use:   "storage",
		Short: "Show storage usage, or clear app data with --clear",
		Args:  cobra.NoArgs,
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
			if clear {
				if err := a.store.ClearAppData(); err != nil {
					return err
				}
			}
			usage, err := a.store.Stats()
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), usage)
		}),
	}
	cmd.Flags().BoolVar(&clear, "clear", false, "Remove all app data except the session")
	return cmd
}

func newGuestCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "guest",
		Short: "Continue as a guest (keeps an existing session)",
		Args:  cobra.NoArgs,
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
			session, err := a.sessions.ContinueAsGuest()
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), session)
		}),
	}
}

func newLoginCommand() *cobra.Command {
	var credentials identity.Credentials
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Store a bearer credential, migrating guest workouts",
		Args:  cobra.NoArgs,
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
			a.probe(cmd.Context())
			session, migration, err := a.sessions.Authenticate(cmd.Context(), credentials)
			if err != nil {
				return err
			}
			session.Token = ""
			return printJSON(cmd.OutOrStdout(), map[string]any{"session": session, "migration": migration})
		}),
	}
	cmd.Flags().StringVar(&credentials.Token, "token", "", "Bearer credential")
	cmd.Flags().StringVar(&credentials.UserID, "user", "", "User id (defaults to the token subject)")
	cmd.Flags().StringVar(&credentials.Name, "name", "", "Display name")
	cmd.Flags().StringVar(&credentials.Email, "email", "", "Email")
	_ = cmd.MarkFlagRequired("token")
	return cmd
}

func newLogoutCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove the session; workouts stay stored",
		Args:  cobra.NoArgs,
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
			if err := a.sessions.Logout(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "logged out")
			return nil
		}),
	}
}
