package scheduling

import (
	"context"

	"github.com/medibook/medibook/pkg/civil"
)

// DashboardCounts are derived from an owner's appointment list.
type DashboardCounts struct {
	TodayAppointments int        `json:"todayAppointments"`
	TotalPatients     int        `json:"totalPatients"`
	PendingRequests   int        `json:"pendingRequests"`
	CompletedToday    int        `json:"completedToday"`
	Today             civil.Date `json:"today"`
}

// Aggregate computes the dashboard counts for today.
func Aggregate(appts []*Appointment, today civil.Date) DashboardCounts {
	counts := DashboardCounts{Today: today}
	patients := make(map[string]struct{})
	for _, a := range appts {
		patients[a.PatientID] = struct{}{}
		isToday := a.Date == today
		switch a.Status {
		case StatusUpcoming:
			if isToday {
				counts.TodayAppointments++
			}
		case StatusPending:
			counts.PendingRequests++
		case StatusCompleted:
			if isToday {
				counts.CompletedToday++
			}
		}
	}
	counts.TotalPatients = len(patients)
	return counts
}

// Dashboard recomputes the counts of a doctor or hospital. Today is taken
// fresh on every call in the service location.
func (s *Service) Dashboard(ctx context.Context, actor Actor, owner Owner) (*DashboardCounts, error) {
	if owner.Kind != OwnerDoctor && owner.Kind != OwnerHospital {
		return nil, invalid("owner", "dashboards exist for doctors and hospitals")
	}
	if owner.ID == "" {
		return nil, invalid("owner", "doctor_id or hospital_id is required")
	}
	appts, err := s.List(ctx, actor, owner)
	if err != nil {
		return nil, err
	}
	counts := Aggregate(appts, civil.DateOf(s.now().In(s.loc)))
	return &counts, nil
}
