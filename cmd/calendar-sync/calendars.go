package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/venkytv/calendar-sync/pkg/calendar"
)

func newCalendarsCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		ownerID string
		use     string
	)

	cmd := &cobra.Command{
		Use:   "calendars",
		Short: "List the calendars visible to an owner, or pick the one to sync",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := NewApp(cmd.Context(), rootOpts)
			if err != nil {
				return fmt.Errorf("failed to initialize application: %w", err)
			}
			defer func() {
				_ = app.publisher.Close()
				app.store.Close()
			}()

			cred, err := app.tokens.ValidCredential(cmd.Context(), ownerID)
			if err != nil {
				return err
			}
			client, err := app.clients.ForOwner(cmd.Context(), ownerID, cred.AccessToken)
			if err != nil {
				return err
			}
			calendars, err := client.ListCalendars(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to list calendars: %w", err)
			}

			if use == "" {
				printCalendars(cmd.OutOrStdout(), calendars, cred.CalendarID())
				return nil
			}

			if !hasCalendar(calendars, use) {
				return fmt.Errorf("calendar %q is not visible to owner %s", use, ownerID)
			}
			cred.DefaultCalendarID = use
			if err := app.store.UpsertCredential(cmd.Context(), cred); err != nil {
				return fmt.Errorf("failed to store credential: %w", err)
			}
			app.logger.Info("Switched synced calendar", "owner_id", ownerID, "calendar_id", use)
			return nil
		},
	}

	cmd.Flags().StringVar(&ownerID, "owner", "", "Owner whose calendars to list (required)")
	cmd.Flags().StringVar(&use, "use", "", "Calendar ID to sync from now on")
	_ = cmd.MarkFlagRequired("owner")
	return cmd
}

func hasCalendar(calendars []*calendar.Calendar, id string) bool {
	for _, cal := range calendars {
		if cal.ID == id {
			return true
		}
	}
	return false
}

func printCalendars(w io.Writer, calendars []*calendar.Calendar, syncedID string) {
	if len(calendars) == 0 {
		fmt.Fprintln(w, "No calendars found for this account.")
		return
	}

	fmt.Fprintf(w, "Found %d calendar(s):\n\n", len(calendars))
	for i, cal := range calendars {
		fmt.Fprintf(w, "%d. %s\n", i+1, cal.Name)
		fmt.Fprintf(w, "   ID: %s\n", cal.ID)
		if cal.Description != "" {
			fmt.Fprintf(w, "   Description: %s\n", cal.Description)
		}
		if cal.Primary {
			fmt.Fprintln(w, "   *** PRIMARY CALENDAR ***")
		}
		if cal.ID == syncedID || (cal.Primary && syncedID == "primary") {
			fmt.Fprintln(w, "   *** SYNCED ***")
		}
		fmt.Fprintf(w, "   Access Role: %s\n", cal.AccessRole)
		if cal.TimeZone != "" {
			fmt.Fprintf(w, "   Timezone: %s\n", cal.TimeZone)
		}
		fmt.Fprintln(w)
	}
}
