package api

import (
	"errors"
	"fmt"
)

// ErrForbidden indicates the current role is not allowed into a section.
var ErrForbidden = errors.New("role not permitted for this section")

// Section is a gated area of the portal.
type Section string

const (
	SectionAttendance    Section = "attendance"
	SectionLeave         Section = "leave"
	SectionApprovals     Section = "approvals"
	SectionPayroll       Section = "payroll"
	SectionAnnouncements Section = "announcements"
	SectionEmployees     Section = "employees"
	SectionProjects      Section = "projects"
)

// Portal roles. The server is authoritative; this table only decides which
// commands the client offers before a request is even made.
const (
	RoleEmployee = "employee"
	RoleHR       = "hr"
	RoleTeamLead = "tl"
	RoleDelivery = "dm"
	RoleProject  = "pm"
	RoleAdmin    = "admin"
	RoleIntern   = "intern"
)

var sectionsByRole = map[string][]Section{
	RoleEmployee: {
		SectionAttendance, SectionLeave, SectionPayroll,
		SectionAnnouncements, SectionProjects,
	},
	RoleIntern: {
		SectionAttendance, SectionLeave, SectionAnnouncements,
	},
	RoleTeamLead: {
		SectionAttendance, SectionLeave, SectionApprovals, SectionPayroll,
		SectionAnnouncements, SectionProjects,
	},
	RoleDelivery: {
		SectionAttendance, SectionLeave, SectionApprovals, SectionPayroll,
		SectionAnnouncements, SectionProjects,
	},
	RoleProject: {
		SectionAttendance, SectionLeave, SectionApprovals, SectionPayroll,
		SectionAnnouncements, SectionProjects,
	},
	RoleHR: {
		SectionAttendance, SectionLeave, SectionApprovals, SectionPayroll,
		SectionAnnouncements, SectionEmployees, SectionProjects,
	},
	RoleAdmin: {
		SectionAttendance, SectionLeave, SectionApprovals, SectionPayroll,
		SectionAnnouncements, SectionEmployees, SectionProjects,
	},
}

// Allowed reports whether role may enter section. Unknown roles get nothing.
func Allowed(role string, section Section) bool {
	for _, s := range sectionsByRole[role] {
		if s == section {
			return true
		}
	}
	return false
}

// RequireSection returns ErrForbidden (wrapped with the role and section)
// unless role may enter section.
func RequireSection(role string, section Section) error {
	if !Allowed(role, section) {
		return fmt.Errorf("role %q cannot access %s: %w", role, section, ErrForbidden)
	}
	return nil
}
