package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/medibook/medibook/internal/client"
	"github.com/medibook/medibook/internal/config"
	"github.com/medibook/medibook/internal/domain/scheduling"
	"github.com/medibook/medibook/internal/platform/websocket"
	"github.com/medibook/medibook/pkg/civil"
)

// apiClient builds a client from configuration, letting --api-url and
// --token override API_BASE_URL and API_TOKEN.
func apiClient(cmd *cobra.Command) (*client.Client, error) {
	cfg, err := config.LoadClient()
	if err != nil {
		return nil, err
	}
	baseURL, token := cfg.APIBaseURL, cfg.APIToken
	if v, _ := cmd.Flags().GetString("api-url"); v != "" {
		baseURL = v
	}
	if v, _ := cmd.Flags().GetString("token"); v != "" {
		token = v
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: cmd.ErrOrStderr()}).With().Timestamp().Logger()
	return client.New(baseURL,
		client.WithToken(token),
		client.WithTimeout(cfg.HTTPClientTimeout),
		client.WithLogger(logger),
	), nil
}

func addOwnerFlags(cmd *cobra.Command, withPatient bool) {
	cmd.Flags().String("doctor", "", "Doctor id")
	cmd.Flags().String("hospital", "", "Hospital id")
	if withPatient {
		cmd.Flags().String("patient", "", "Patient id")
	}
}

// ownerFromFlags returns the single owner given on the command line, or the
// zero Owner when none was given.
func ownerFromFlags(cmd *cobra.Command) (scheduling.Owner, error) {
	var found []scheduling.Owner
	if v, _ := cmd.Flags().GetString("doctor"); v != "" {
		found = append(found, scheduling.DoctorOwner(v))
	}
	if v, _ := cmd.Flags().GetString("hospital"); v != "" {
		found = append(found, scheduling.HospitalOwner(v))
	}
	if cmd.Flags().Lookup("patient") != nil {
		if v, _ := cmd.Flags().GetString("patient"); v != "" {
			found = append(found, scheduling.PatientOwner(v))
		}
	}
	switch len(found) {
	case 0:
		return scheduling.Owner{}, nil
	case 1:
		return found[0], nil
	}
	return scheduling.Owner{}, fmt.Errorf("give only one of --doctor, --hospital, --patient")
}

func parseUUIDArg(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid appointment id %q", s)
	}
	return id, nil
}

func slotsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "slots",
		Short: "List the available slots of a doctor or hospital",
		RunE: func(cmd *cobra.Command, args []string) error {
			owner, err := ownerFromFlags(cmd)
			if err != nil {
				return err
			}
			if owner.ID == "" {
				return fmt.Errorf("--doctor or --hospital is required")
			}
			c, err := apiClient(cmd)
			if err != nil {
				return err
			}
			slots, err := c.ListSlots(cmd.Context(), owner)
			if err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v\n", err)
			}
			printSlots(cmd.OutOrStdout(), slots)
			return nil
		},
	}
	addOwnerFlags(cmd, false)

	addCmd := &cobra.Command{
		Use:   "add",
		Short: "Publish a bookable slot",
		RunE: func(cmd *cobra.Command, args []string) error {
			dateStr, _ := cmd.Flags().GetString("date")
			startStr, _ := cmd.Flags().GetString("start")
			endStr, _ := cmd.Flags().GetString("end")
			typ, _ := cmd.Flags().GetString("type")
			notes, _ := cmd.Flags().GetString("notes")

			req := scheduling.SlotRequest{Notes: notes}
			var err error
			if req.Date, err = civil.ParseDate(dateStr); err != nil {
				return err
			}
			if req.StartTime, err = civil.ParseTimeOfDay(startStr); err != nil {
				return err
			}
			if req.EndTime, err = civil.ParseTimeOfDay(endStr); err != nil {
				return err
			}
			if typ != "" {
				if req.AppointmentType, err = scheduling.ParseAppointmentType(typ); err != nil {
					return err
				}
			}
			owner, err := ownerFromFlags(cmd)
			if err != nil {
				return err
			}
			switch owner.Kind {
			case scheduling.OwnerDoctor:
				req.DoctorID = owner.ID
			case scheduling.OwnerHospital:
				req.HospitalID = owner.ID
			}

			c, err := apiClient(cmd)
			if err != nil {
				return err
			}
			slot, err := c.CreateSlot(cmd.Context(), req)
			if err != nil {
				return err
			}
			printSlots(cmd.OutOrStdout(), []*scheduling.ScheduleSlot{slot})
			return nil
		},
	}
	addOwnerFlags(addCmd, false)
	addCmd.Flags().String("date", "", "Date, YYYY-MM-DD")
	addCmd.Flags().String("start", "", "Start time, HH:MM")
	addCmd.Flags().String("end", "", "End time, HH:MM")
	addCmd.Flags().String("type", "", "Restrict to an appointment type")
	addCmd.Flags().String("notes", "", "Notes shown to patients")
	cmd.AddCommand(addCmd)
	return cmd
}

func bookCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "book",
		Short: "Book a slot as the authenticated patient",
		RunE: func(cmd *cobra.Command, args []string) error {
			typ, _ := cmd.Flags().GetString("type")
			req := scheduling.BookingRequest{}
			req.DoctorID, _ = cmd.Flags().GetString("doctor")
			req.DoctorName, _ = cmd.Flags().GetString("doctor-name")
			req.HospitalID, _ = cmd.Flags().GetString("hospital")
			req.SlotID, _ = cmd.Flags().GetString("slot")
			req.Reason, _ = cmd.Flags().GetString("reason")
			if typ != "" {
				t, err := scheduling.ParseAppointmentType(typ)
				if err != nil {
					return err
				}
				req.Type = t
			}

			c, err := apiClient(cmd)
			if err != nil {
				return err
			}
			res, err := c.Book(cmd.Context(), req)
			if err != nil {
				return err
			}
			items := []*scheduling.Appointment{res.Appointment}
			if res.FollowUp != nil {
				items = append(items, res.FollowUp)
			}
			printAppointments(cmd.OutOrStdout(), items)
			return nil
		},
	}
	cmd.Flags().String("doctor", "", "Doctor id")
	cmd.Flags().String("doctor-name", "", "Doctor display name")
	cmd.Flags().String("hospital", "", "Hospital id (hospital appointments)")
	cmd.Flags().String("slot", "", "Slot id")
	cmd.Flags().String("type", "", "video, chat, inperson or hospital")
	cmd.Flags().String("reason", "", "Reason for the visit")
	return cmd
}

func appointmentsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "appointments [id]",
		Short: "List appointments, or show one by id",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := apiClient(cmd)
			if err != nil {
				return err
			}
			if len(args) == 1 {
				id, err := parseUUIDArg(args[0])
				if err != nil {
					return err
				}
				a, err := c.Get(cmd.Context(), id)
				if err != nil {
					return err
				}
				printAppointment(cmd.OutOrStdout(), a)
				return nil
			}
			owner, err := ownerFromFlags(cmd)
			if err != nil {
				return err
			}
			items, err := c.List(cmd.Context(), owner)
			if err != nil {
				return err
			}
			printAppointments(cmd.OutOrStdout(), items)
			return nil
		},
	}
	addOwnerFlags(cmd, true)
	return cmd
}

func transitionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "transition <id> <approve|cancel|reject|complete>",
		Short: "Change the status of an appointment",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseUUIDArg(args[0])
			if err != nil {
				return err
			}
			action, err := scheduling.ParseAction(args[1])
			if err != nil {
				return err
			}
			var in scheduling.TransitionInput
			in.Note, _ = cmd.Flags().GetString("note")
			in.Prescription, _ = cmd.Flags().GetString("prescription")

			c, err := apiClient(cmd)
			if err != nil {
				return err
			}
			a, err := c.Transition(cmd.Context(), id, string(action), in)
			if err != nil {
				return err
			}
			printAppointment(cmd.OutOrStdout(), a)
			return nil
		},
	}
	cmd.Flags().String("note", "", "Note recorded on completion")
	cmd.Flags().String("prescription", "", "Prescription recorded on completion")
	return cmd
}

func rescheduleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reschedule <id>",
		Short: "Move an appointment to a new date and time or slot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseUUIDArg(args[0])
			if err != nil {
				return err
			}
			dateStr, _ := cmd.Flags().GetString("date")
			timeStr, _ := cmd.Flags().GetString("time")
			slotStr, _ := cmd.Flags().GetString("slot")

			var req scheduling.RescheduleRequest
			if slotStr != "" {
				slotID, err := uuid.Parse(slotStr)
				if err != nil {
					return fmt.Errorf("invalid slot id %q", slotStr)
				}
				req.SlotID = &slotID
			} else {
				if req.Date, err = civil.ParseDate(dateStr); err != nil {
					return err
				}
				if req.Time, err = civil.ParseTimeOfDay(timeStr); err != nil {
					return err
				}
			}

			c, err := apiClient(cmd)
			if err != nil {
				return err
			}
			a, err := c.Reschedule(cmd.Context(), id, req)
			if err != nil {
				return err
			}
			printAppointment(cmd.OutOrStdout(), a)
			return nil
		},
	}
	cmd.Flags().String("date", "", "New date, YYYY-MM-DD")
	cmd.Flags().String("time", "", "New time, HH:MM")
	cmd.Flags().String("slot", "", "Move onto this slot instead")
	return cmd
}

func noteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "note <id> <text...>",
		Short: "Append a provider note to an appointment",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseUUIDArg(args[0])
			if err != nil {
				return err
			}
			c, err := apiClient(cmd)
			if err != nil {
				return err
			}
			a, err := c.AddNote(cmd.Context(), id, strings.Join(args[1:], " "))
			if err != nil {
				return err
			}
			printAppointment(cmd.OutOrStdout(), a)
			return nil
		},
	}
}

func dashboardCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dashboard",
		Short: "Show today's counts for a doctor or hospital",
		RunE: func(cmd *cobra.Command, args []string) error {
			owner, err := ownerFromFlags(cmd)
			if err != nil {
				return err
			}
			c, err := apiClient(cmd)
			if err != nil {
				return err
			}
			counts, err := c.Dashboard(cmd.Context(), owner)
			if err != nil {
				return err
			}
			printDashboard(cmd.OutOrStdout(), counts)
			return nil
		},
	}
	addOwnerFlags(cmd, false)
	return cmd
}

func watchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Re-render the dashboard whenever an appointment changes",
		RunE: func(cmd *cobra.Command, args []string) error {
			owner, err := ownerFromFlags(cmd)
			if err != nil {
				return err
			}
			c, err := apiClient(cmd)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return watchDashboard(ctx, c, owner, cmd)
		},
	}
	addOwnerFlags(cmd, false)
	return cmd
}

// watchDashboard prints the dashboard, then fetches and prints it again
// after every event until ctx ends or the stream closes.
func watchDashboard(ctx context.Context, c *client.Client, owner scheduling.Owner, cmd *cobra.Command) error {
	stream, err := websocket.Dial(ctx, c.BaseURL(), c.Token())
	if err != nil {
		return err
	}
	defer stream.Close()
	go func() {
		<-ctx.Done()
		stream.Close()
	}()

	render := func() error {
		counts, err := c.Dashboard(ctx, owner)
		if err != nil {
			return err
		}
		printDashboard(cmd.OutOrStdout(), counts)
		return nil
	}
	if err := render(); err != nil {
		return err
	}
	for {
		ev, err := stream.Next()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("event stream: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "\n%s %s -> %s\n", ev.Name, ev.AppointmentID, ev.Status)
		if err := render(); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v\n", err)
		}
	}
}

func logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "End the server-side session of the current token",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := apiClient(cmd)
			if err != nil {
				return err
			}
			if err := c.Logout(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Logged out.")
			return nil
		},
	}
}
