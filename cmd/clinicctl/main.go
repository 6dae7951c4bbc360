package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/hackgods/clinic-booking/internal/app"
	"github.com/hackgods/clinic-booking/internal/appointment"
	"github.com/hackgods/clinic-booking/internal/auth"
	"github.com/hackgods/clinic-booking/internal/config"
	"github.com/hackgods/clinic-booking/internal/db"
	"github.com/hackgods/clinic-booking/internal/logger"
	"github.com/hackgods/clinic-booking/internal/schedule"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "clinicctl",
		Short:         "Administer clinic slots, day-offs and appointments",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(slotsCmd())
	rootCmd.AddCommand(dayOffCmd())
	rootCmd.AddCommand(appointmentCmd())
	rootCmd.AddCommand(tokenCmd())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}

func loadConfig() (config.Config, zerolog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, zerolog.Nop(), err
	}
	return cfg, logger.New(cfg.Env), nil
}

// withCore opens the services for one command and closes them after.
func withCore(cmd *cobra.Command, fn func(core *app.Core) error) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	core, err := app.Open(cmd.Context(), cfg, log)
	if err != nil {
		return err
	}
	defer core.Close()
	return fn(core)
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			pool, err := db.ConnectPostgres(cmd.Context(), cfg.PostgresDSN, db.WithApplicationName("clinicctl"))
			if err != nil {
				return err
			}
			defer pool.Close()

			applied, err := db.NewMigrator(pool).Up(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "applied %d migration(s)\n", applied)
			return nil
		},
	}
}

func rangeFlags(cmd *cobra.Command) {
	cmd.Flags().String("from", "", "first civil date, YYYY-MM-DD (required)")
	cmd.Flags().String("to", "", "last civil date, YYYY-MM-DD (defaults to --from)")
	cmd.Flags().StringSlice("mode", []string{string(schedule.ModeInPerson), string(schedule.ModeOnline)}, "modes to generate")
	_ = cmd.MarkFlagRequired("from")
}

func parseRange(cmd *cobra.Command) (schedule.Date, schedule.Date, []schedule.Mode, error) {
	fromRaw, _ := cmd.Flags().GetString("from")
	toRaw, _ := cmd.Flags().GetString("to")
	rawModes, _ := cmd.Flags().GetStringSlice("mode")

	from, err := schedule.ParseDate(fromRaw)
	if err != nil {
		return schedule.Date{}, schedule.Date{}, nil, err
	}
	to := from
	if toRaw != "" {
		if to, err = schedule.ParseDate(toRaw); err != nil {
			return schedule.Date{}, schedule.Date{}, nil, err
		}
	}
	modes, err := schedule.ParseModes(rawModes)
	if err != nil {
		return schedule.Date{}, schedule.Date{}, nil, err
	}
	return from, to, modes, nil
}

func slotsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "slots",
		Short: "Generate, preview and list slots",
	}

	generate := &cobra.Command{
		Use:   "generate",
		Short: "Materialize slots for a date range",
		RunE: func(cmd *cobra.Command, args []string) error {
			from, to, modes, err := parseRange(cmd)
			if err != nil {
				return err
			}
			return withCore(cmd, func(core *app.Core) error {
				created, err := core.Slots.Materialize(cmd.Context(), core.PractitionerID, from, to, modes)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "created %d slot(s) for %s..%s\n", created, from, to)
				return nil
			})
		},
	}
	rangeFlags(generate)

	preview := &cobra.Command{
		Use:   "preview",
		Short: "Show the slots a generate run would create",
		RunE: func(cmd *cobra.Command, args []string) error {
			from, to, modes, err := parseRange(cmd)
			if err != nil {
				return err
			}
			return withCore(cmd, func(core *app.Core) error {
				planned, err := core.Slots.Preview(cmd.Context(), core.PractitionerID, from, to, modes)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				for _, p := range planned {
					fmt.Fprintf(out, "%s  %-9s  %s\n", core.Zone.DateOf(p.StartAt), p.Mode, core.Zone.Label(p.StartAt, p.EndAt))
				}
				fmt.Fprintf(out, "%d slot(s) planned\n", len(planned))
				return nil
			})
		},
	}
	rangeFlags(preview)

	list := &cobra.Command{
		Use:   "list",
		Short: "List materialized slots with their bookings",
		RunE: func(cmd *cobra.Command, args []string) error {
			from, to, _, err := parseRange(cmd)
			if err != nil {
				return err
			}
			return withCore(cmd, func(core *app.Core) error {
				slots, err := core.Slots.ListForAdmin(cmd.Context(), core.PractitionerID, from, to)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				for _, s := range slots {
					booking := "-"
					if s.Appointment != nil {
						booking = fmt.Sprintf("%s %s", s.Appointment.Status, s.Appointment.PatientName)
					}
					fmt.Fprintf(out, "%s  %s  %-9s  %s  booked=%t  %s\n",
						s.ID, core.Zone.DateOf(s.StartAt), s.Mode, core.Zone.Label(s.StartAt, s.EndAt), s.IsBooked, booking)
				}
				return nil
			})
		},
	}
	rangeFlags(list)

	cmd.AddCommand(generate, preview, list)
	return cmd
}

func dayOffCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dayoff",
		Short: "Manage practitioner day-offs",
	}

	set := &cobra.Command{
		Use:   "set <date>",
		Short: "Mark a date as a day-off and remove its slots",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			date, err := schedule.ParseDate(args[0])
			if err != nil {
				return err
			}
			reason, _ := cmd.Flags().GetString("reason")
			return withCore(cmd, func(core *app.Core) error {
				res, err := core.Slots.SetDayOff(cmd.Context(), core.PractitionerID, date, reason)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "day-off %s set on %s, removed %d slot(s)\n", res.DayOff.ID, date, res.RemovedSlots)
				for _, b := range res.BookedRemoved {
					fmt.Fprintf(out, "warning: booked slot %s at %s was removed\n", b.ID, core.Zone.Label(b.StartAt, b.EndAt))
				}
				return nil
			})
		},
	}
	set.Flags().String("reason", "", "optional reason")

	rm := &cobra.Command{
		Use:   "rm <id>",
		Short: "Remove a day-off",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid day-off id: %w", err)
			}
			return withCore(cmd, func(core *app.Core) error {
				if err := core.Slots.RemoveDayOff(cmd.Context(), id); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "day-off %s removed\n", id)
				return nil
			})
		},
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List day-offs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCore(cmd, func(core *app.Core) error {
				offs, err := core.Slots.ListDayOffs(cmd.Context(), core.PractitionerID)
				if err != nil {
					return err
				}
				for _, d := range offs {
					reason := ""
					if d.Reason != nil {
						reason = *d.Reason
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%s  %s  %s\n", d.ID, d.Date, reason)
				}
				return nil
			})
		},
	}

	cmd.AddCommand(set, rm, list)
	return cmd
}

func appointmentCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "appointment",
		Short: "Inspect and update appointments",
	}

	status := &cobra.Command{
		Use:   "status <id> <status>",
		Short: "Move an appointment to a new status",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid appointment id: %w", err)
			}
			target, err := appointment.ParseStatus(args[1])
			if err != nil {
				return err
			}
			return withCore(cmd, func(core *app.Core) error {
				appt, err := core.Appointments.SetStatus(cmd.Context(), id, target)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "appointment %s is now %s\n", appt.ID, appt.Status)
				return nil
			})
		},
	}

	cmd.AddCommand(status)
	return cmd
}

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token signed with JWT_SECRET",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.JWTSecret == "" {
				return fmt.Errorf("JWT_SECRET is required")
			}

			rawID, _ := cmd.Flags().GetString("subject")
			role, _ := cmd.Flags().GetString("role")
			ttl, _ := cmd.Flags().GetDuration("ttl")

			id := uuid.New()
			if rawID != "" {
				if id, err = uuid.Parse(rawID); err != nil {
					return fmt.Errorf("invalid subject: %w", err)
				}
			}

			tok, err := auth.Issue(cfg.JWTSecret, id, auth.Role(role), ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().String("subject", "", "patient or admin id (random when empty)")
	cmd.Flags().String("role", string(auth.RoleAdmin), "admin or patient")
	cmd.Flags().Duration("ttl", time.Hour, "token lifetime")
	return cmd
}
