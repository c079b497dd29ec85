package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/medibook/medibook/internal/domain/scheduling"
	"github.com/medibook/medibook/internal/platform/db"
)

func printMigrationStatus(w io.Writer, statuses []db.MigrationStatus) {
	fmt.Fprintf(w, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	fmt.Fprintln(w, "---------- ---------------------------------------- ---------- --------------------")
	for _, s := range statuses {
		status := "pending"
		appliedAt := ""
		if s.Applied {
			status = "applied"
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
		}
		fmt.Fprintf(w, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
	}
}

func printSlots(w io.Writer, slots []*scheduling.ScheduleSlot) {
	if len(slots) == 0 {
		fmt.Fprintln(w, "No available slots.")
		return
	}
	fmt.Fprintf(w, "%-36s %-10s %-11s %s\n", "ID", "DATE", "TIME", "TYPE")
	for _, s := range slots {
		typ := string(s.AppointmentType)
		if typ == "" {
			typ = "any"
		}
		fmt.Fprintf(w, "%-36s %-10s %-11s %s\n", s.ID, s.Date, s.StartTime.String()+"-"+s.EndTime.String(), typ)
	}
}

func printAppointments(w io.Writer, items []*scheduling.Appointment) {
	if len(items) == 0 {
		fmt.Fprintln(w, "No appointments.")
		return
	}
	fmt.Fprintf(w, "%-36s %-10s %-5s %-9s %-10s %-12s %s\n", "ID", "DATE", "TIME", "TYPE", "STATUS", "PATIENT", "REASON")
	for _, a := range items {
		patient := a.PatientName
		if patient == "" {
			patient = a.PatientID
		}
		fmt.Fprintf(w, "%-36s %-10s %-5s %-9s %-10s %-12s %s\n",
			a.ID, a.Date, a.Time, a.Type, a.Status, patient, a.Reason)
	}
}

func printAppointment(w io.Writer, a *scheduling.Appointment) {
	provider := a.DoctorID
	if a.DoctorName != "" {
		provider = a.DoctorName
	}
	if a.HospitalID != "" {
		provider = strings.TrimSpace(provider + " @ " + a.HospitalID)
	}
	fmt.Fprintf(w, "ID:       %s\n", a.ID)
	fmt.Fprintf(w, "Status:   %s\n", a.Status)
	fmt.Fprintf(w, "When:     %s %s\n", a.Date, a.Time)
	fmt.Fprintf(w, "Type:     %s\n", a.Type)
	fmt.Fprintf(w, "Patient:  %s\n", a.PatientID)
	fmt.Fprintf(w, "Provider: %s\n", provider)
	fmt.Fprintf(w, "Reason:   %s\n", a.Reason)
	if a.Prescription != "" {
		fmt.Fprintf(w, "Rx:       %s\n", a.Prescription)
	}
	if a.Notes != "" {
		fmt.Fprintln(w, "Notes:")
		for _, line := range strings.Split(a.Notes, "\n") {
			fmt.Fprintf(w, "  %s\n", line)
		}
	}
}

func printDashboard(w io.Writer, d *scheduling.DashboardCounts) {
	fmt.Fprintf(w, "Dashboard for %s\n", d.Today)
	fmt.Fprintf(w, "  Today's appointments: %d\n", d.TodayAppointments)
	fmt.Fprintf(w, "  Pending requests:     %d\n", d.PendingRequests)
	fmt.Fprintf(w, "  Completed today:      %d\n", d.CompletedToday)
	fmt.Fprintf(w, "  Total patients:       %d\n", d.TotalPatients)
}
