package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hrmportal/hrm-cli/api"
	"github.com/hrmportal/hrm-cli/session"
	"github.com/hrmportal/hrm-cli/tui"
)

type app struct {
	store   *session.Store
	client  *api.Client
	watcher *session.Watcher
	d       tui.Displayer
}

func (a *app) dispatch(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	case "login":
		return a.login(ctx, args)
	case "logout":
		return a.logout(ctx)
	case "status":
		return a.status()
	case "clock-in":
		return a.clock(ctx, true)
	case "clock-out":
		return a.clock(ctx, false)
	case "attendance":
		return a.attendance(ctx, args)
	case "leave":
		return a.leave(ctx, args)
	case "payslips":
		return a.payslips(ctx, args)
	case "announcements":
		return a.announcements(ctx, args)
	case "employees":
		return a.employees(ctx, args)
	case "projects":
		return a.projects(ctx)
	case "tasks":
		return a.tasks(ctx, args)
	case "dashboard":
		return a.dashboard(ctx)
	default:
		return fmt.Errorf("unknown command: %s", cmd)
	}
}

// requireSection loads the session and checks both that the user is logged
// in and that their role may enter the section.
func (a *app) requireSection(section api.Section) (session.Snapshot, error) {
	sn, err := a.store.Get()
	if err != nil {
		return session.Snapshot{}, err
	}
	if !sn.Authenticated() {
		a.d.NoSession()
		return session.Snapshot{}, session.ErrNoSession
	}
	if err := api.RequireSection(sn.Role, section); err != nil {
		a.d.Forbidden(sn.Role, string(section))
		return session.Snapshot{}, err
	}
	return sn, nil
}

func (a *app) login(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: login <username> [password]")
	}
	username := args[0]
	password := getEnv("HRM_PASSWORD", "")
	if len(args) > 1 {
		password = args[1]
	}
	if password == "" {
		return fmt.Errorf("no password given (pass it as an argument or via HRM_PASSWORD)")
	}

	a.d.LoggingIn(username)
	result, err := a.client.Login(ctx, username, password)
	if err != nil {
		return fmt.Errorf("login failed: %w", err)
	}
	a.d.LoginOK(result.UserName, result.Role)
	return nil
}

func (a *app) logout(_ context.Context) error {
	if err := a.store.Clear(); err != nil {
		return err
	}
	a.d.LoggedOut()
	return nil
}

func (a *app) status() error {
	sn, err := a.store.Get()
	if err != nil {
		return err
	}
	if !sn.Authenticated() {
		a.d.NoSession()
		return nil
	}
	a.d.SessionFound(sn.UserName, sn.Role)
	age := time.Since(time.UnixMilli(sn.LoginTime)).Round(time.Second)
	a.d.Notice(fmt.Sprintf("Session age: %s (limit %s)", age, session.AgeCeiling))
	return nil
}

func (a *app) clock(ctx context.Context, in bool) error {
	if _, err := a.requireSection(api.SectionAttendance); err != nil {
		return err
	}

	var mark *api.AttendanceMark
	var err error
	if in {
		mark, err = a.client.ClockIn(ctx)
	} else {
		mark, err = a.client.ClockOut(ctx)
	}
	if err != nil {
		return err
	}
	a.d.Notice(fmt.Sprintf("Clock-%s recorded at %s (%s)", mark.Kind, mark.At, mark.Status))
	return nil
}

func (a *app) attendance(ctx context.Context, args []string) error {
	if _, err := a.requireSection(api.SectionAttendance); err != nil {
		return err
	}

	month := time.Now().Format("2006-01")
	if len(args) > 0 {
		month = args[0]
	}
	days, err := a.client.Attendance(ctx, month)
	if err != nil {
		return err
	}

	rows := make([]string, 0, len(days))
	for _, day := range days {
		rows = append(rows, fmt.Sprintf(
			"%s  in %-8s out %-8s %s", day.Date, day.ClockIn, day.ClockOut, day.Status,
		))
	}
	a.d.Table("Attendance "+month, rows)
	return nil
}

func (a *app) leave(ctx context.Context, args []string) error {
	if len(args) == 0 {
		args = []string{"list"}
	}
	sub, rest := args[0], args[1:]

	switch sub {
	case "apply":
		if _, err := a.requireSection(api.SectionLeave); err != nil {
			return err
		}
		if len(rest) < 4 {
			return fmt.Errorf("usage: leave apply <type> <from> <to> <reason...>")
		}
		leave, err := a.client.ApplyLeave(
			ctx, rest[0], rest[1], rest[2], strings.Join(rest[3:], " "),
		)
		if err != nil {
			return err
		}
		a.d.Notice(fmt.Sprintf("Leave request %s filed (%s)", leave.ID, leave.Status))
		return nil

	case "list":
		if _, err := a.requireSection(api.SectionLeave); err != nil {
			return err
		}
		status := ""
		if len(rest) > 0 {
			status = rest[0]
		}
		leaves, err := a.client.LeaveRequests(ctx, status)
		if err != nil {
			return err
		}
		rows := make([]string, 0, len(leaves))
		for _, l := range leaves {
			rows = append(rows, fmt.Sprintf(
				"%-10s %-10s %s → %s  %-9s %s", l.ID, l.Type, l.From, l.To, l.Status, l.Applicant,
			))
		}
		a.d.Table("Leave requests", rows)
		return nil

	case "approve", "reject":
		if _, err := a.requireSection(api.SectionApprovals); err != nil {
			return err
		}
		if len(rest) < 1 {
			return fmt.Errorf("usage: leave %s <id> [note...]", sub)
		}
		note := strings.Join(rest[1:], " ")
		if err := a.client.ResolveLeave(ctx, rest[0], sub == "approve", note); err != nil {
			return err
		}
		a.d.Notice(fmt.Sprintf("Leave request %s %sd", rest[0], sub))
		return nil

	default:
		return fmt.Errorf("unknown leave subcommand: %s", sub)
	}
}

func (a *app) payslips(ctx context.Context, args []string) error {
	if _, err := a.requireSection(api.SectionPayroll); err != nil {
		return err
	}

	year := time.Now().Format("2006")
	if len(args) > 0 {
		year = args[0]
	}
	slips, err := a.client.Payslips(ctx, year)
	if err != nil {
		return err
	}

	rows := make([]string, 0, len(slips))
	for _, s := range slips {
		rows = append(rows, fmt.Sprintf(
			"%s  gross %10.2f  deductions %10.2f  net %10.2f",
			s.Month, s.Gross, s.Deductions, s.Net,
		))
	}
	a.d.Table("Payslips "+year, rows)
	return nil
}

func (a *app) announcements(ctx context.Context, args []string) error {
	if len(args) > 0 && args[0] == "post" {
		sn, err := a.requireSection(api.SectionAnnouncements)
		if err != nil {
			return err
		}
		// Posting is an HR/admin concern on top of plain viewing access.
		if sn.Role != api.RoleHR && sn.Role != api.RoleAdmin {
			a.d.Forbidden(sn.Role, string(api.SectionAnnouncements))
			return api.ErrForbidden
		}
		if len(args) < 3 {
			return fmt.Errorf("usage: announcements post <title> <body...>")
		}
		if err := a.client.PostAnnouncement(ctx, args[1], strings.Join(args[2:], " ")); err != nil {
			return err
		}
		a.d.Notice("Announcement posted")
		return nil
	}

	if _, err := a.requireSection(api.SectionAnnouncements); err != nil {
		return err
	}
	items, err := a.client.Announcements(ctx)
	if err != nil {
		return err
	}
	rows := make([]string, 0, len(items))
	for _, item := range items {
		rows = append(rows, fmt.Sprintf("%s  %s — %s", item.PostedAt, item.Title, item.Author))
	}
	a.d.Table("Announcements", rows)
	return nil
}

func (a *app) employees(ctx context.Context, args []string) error {
	if _, err := a.requireSection(api.SectionEmployees); err != nil {
		return err
	}

	if len(args) == 0 {
		employees, err := a.client.Employees(ctx)
		if err != nil {
			return err
		}
		rows := make([]string, 0, len(employees))
		for _, e := range employees {
			rows = append(rows, fmt.Sprintf("%-10s %-20s %-25s %-8s %s", e.ID, e.Name, e.Email, e.Role, e.Status))
		}
		a.d.Table("Employees", rows)
		return nil
	}

	switch args[0] {
	case "onboard":
		if len(args) < 4 {
			return fmt.Errorf("usage: employees onboard <name> <email> <role>")
		}
		created, err := a.client.OnboardEmployee(ctx, api.Employee{
			Name:  args[1],
			Email: args[2],
			Role:  args[3],
		})
		if err != nil {
			return err
		}
		a.d.Notice(fmt.Sprintf("Employee %s onboarded with id %s", created.Name, created.ID))
		return nil

	case "upload":
		if len(args) < 4 {
			return fmt.Errorf("usage: employees upload <id> <kind> <file>")
		}
		f, err := os.Open(args[3])
		if err != nil {
			return fmt.Errorf("failed to open %s: %w", args[3], err)
		}
		defer f.Close()

		if err := a.client.UploadDocument(ctx, args[1], args[2], filepath.Base(args[3]), f); err != nil {
			return err
		}
		a.d.Notice(fmt.Sprintf("Document %s uploaded for employee %s", filepath.Base(args[3]), args[1]))
		return nil

	default:
		return fmt.Errorf("unknown employees subcommand: %s", args[0])
	}
}

func (a *app) projects(ctx context.Context) error {
	if _, err := a.requireSection(api.SectionProjects); err != nil {
		return err
	}
	projects, err := a.client.Projects(ctx)
	if err != nil {
		return err
	}
	rows := make([]string, 0, len(projects))
	for _, p := range projects {
		rows = append(rows, fmt.Sprintf("%-10s %-25s lead %-12s %s", p.ID, p.Name, p.Lead, p.Status))
	}
	a.d.Table("Projects", rows)
	return nil
}

func (a *app) tasks(ctx context.Context, args []string) error {
	if _, err := a.requireSection(api.SectionProjects); err != nil {
		return err
	}

	if len(args) > 0 && args[0] == "assign" {
		if len(args) < 3 {
			return fmt.Errorf("usage: tasks assign <task-id> <employee-id>")
		}
		if err := a.client.AssignTask(ctx, args[1], args[2]); err != nil {
			return err
		}
		a.d.Notice(fmt.Sprintf("Task %s assigned to %s", args[1], args[2]))
		return nil
	}

	projectID := ""
	if len(args) > 0 {
		projectID = args[0]
	}
	tasks, err := a.client.Tasks(ctx, projectID)
	if err != nil {
		return err
	}
	rows := make([]string, 0, len(tasks))
	for _, t := range tasks {
		rows = append(rows, fmt.Sprintf("%-10s %-30s %-15s %-12s %s", t.ID, t.Title, t.Module, t.Assignee, t.Status))
	}
	a.d.Table("Tasks", rows)
	return nil
}

// dashboard shows a live summary and keeps the session-age watcher running
// until interrupted.
func (a *app) dashboard(ctx context.Context) error {
	sn, err := a.store.Get()
	if err != nil {
		return err
	}
	if !sn.Authenticated() {
		a.d.NoSession()
		return session.ErrNoSession
	}
	a.d.SessionFound(sn.UserName, sn.Role)

	if api.Allowed(sn.Role, api.SectionAnnouncements) {
		items, err := a.client.Announcements(ctx)
		if err != nil {
			return err
		}
		rows := make([]string, 0, len(items))
		for _, item := range items {
			rows = append(rows, fmt.Sprintf("%s  %s — %s", item.PostedAt, item.Title, item.Author))
		}
		a.d.Table("Announcements", rows)
	}

	// Block on the age watcher until ctrl+c; it tears the session down the
	// moment it crosses the 12 hour ceiling.
	a.watcher.Run(ctx)
	return nil
}
