package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

// LoginResult is the identity the portal hands back on login.
type LoginResult struct {
	Access   string `json:"access"`
	Refresh  string `json:"refresh"`
	Role     string `json:"role"`
	UserName string `json:"userName"`
}

// AttendanceMark is one clock-in or clock-out event.
type AttendanceMark struct {
	ID     string `json:"id"`
	Kind   string `json:"kind"` // "in" or "out"
	At     string `json:"at"`
	Status string `json:"status"`
}

// AttendanceDay is one day in the attendance sheet.
type AttendanceDay struct {
	Date     string `json:"date"`
	ClockIn  string `json:"clockIn"`
	ClockOut string `json:"clockOut"`
	Status   string `json:"status"`
}

// Leave is a leave request as the portal sees it.
type Leave struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	From      string `json:"from"`
	To        string `json:"to"`
	Reason    string `json:"reason"`
	Status    string `json:"status"` // pending, approved, rejected
	Applicant string `json:"applicant"`
}

// Employee is the portal's employee record, kept to the fields the client
// actually renders.
type Employee struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Email  string `json:"email"`
	Role   string `json:"role"`
	Status string `json:"status"`
}

// Payslip is one month's salary summary.
type Payslip struct {
	Month      string  `json:"month"`
	Gross      float64 `json:"gross"`
	Deductions float64 `json:"deductions"`
	Net        float64 `json:"net"`
}

// Announcement is a portal-wide notice.
type Announcement struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Body     string `json:"body"`
	Author   string `json:"author"`
	PostedAt string `json:"postedAt"`
}

// Project groups modules and tasks under a delivery manager.
type Project struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Lead   string `json:"lead"`
	Status string `json:"status"`
}

// Task is one unit of tracked work inside a project module.
type Task struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Module   string `json:"module"`
	Assignee string `json:"assignee"`
	Status   string `json:"status"`
}

// Login authenticates with the portal and, on success, persists the full
// session. The login call itself never carries a token and a 401 from it is
// surfaced to the caller as invalid credentials.
func (c *Client) Login(ctx context.Context, username, password string) (*LoginResult, error) {
	body, err := c.Do(ctx, Request{
		Method: http.MethodPost,
		Path:   LoginPath,
		Body:   map[string]string{"username": username, "password": password},
	})
	if err != nil {
		return nil, err
	}

	var result LoginResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to parse login response: %w", err)
	}
	if result.Access == "" {
		return nil, fmt.Errorf("login response missing access token")
	}

	if err := c.session.Set(result.Access, result.Refresh, result.Role, result.UserName); err != nil {
		return nil, fmt.Errorf("failed to persist session: %w", err)
	}
	return &result, nil
}

// ForgotPassword asks the portal to start a password reset. Public endpoint.
func (c *Client) ForgotPassword(ctx context.Context, email string) error {
	_, err := c.Do(ctx, Request{
		Method: http.MethodPost,
		Path:   "/auth/forgot-password",
		Body:   map[string]string{"email": email},
	})
	return err
}

// ClockIn records the start of the working day.
func (c *Client) ClockIn(ctx context.Context) (*AttendanceMark, error) {
	return c.postMark(ctx, "/attendance/clock-in")
}

// ClockOut records the end of the working day.
func (c *Client) ClockOut(ctx context.Context) (*AttendanceMark, error) {
	return c.postMark(ctx, "/attendance/clock-out")
}

func (c *Client) postMark(ctx context.Context, path string) (*AttendanceMark, error) {
	body, err := c.Do(ctx, Request{
		Method:       http.MethodPost,
		Path:         path,
		RequiresAuth: true,
	})
	if err != nil {
		return nil, err
	}
	var mark AttendanceMark
	if err := json.Unmarshal(body, &mark); err != nil {
		return nil, fmt.Errorf("failed to parse attendance response: %w", err)
	}
	return &mark, nil
}

// Attendance returns the attendance sheet for a month ("2026-08").
func (c *Client) Attendance(ctx context.Context, month string) ([]AttendanceDay, error) {
	var days []AttendanceDay
	err := c.getJSON(ctx, "/attendance?month="+url.QueryEscape(month), &days)
	return days, err
}

// ApplyLeave files a leave request.
func (c *Client) ApplyLeave(ctx context.Context, leaveType, from, to, reason string) (*Leave, error) {
	body, err := c.Do(ctx, Request{
		Method: http.MethodPost,
		Path:   "/leaves",
		Body: map[string]string{
			"type":   leaveType,
			"from":   from,
			"to":     to,
			"reason": reason,
		},
		RequiresAuth: true,
	})
	if err != nil {
		return nil, err
	}
	var leave Leave
	if err := json.Unmarshal(body, &leave); err != nil {
		return nil, fmt.Errorf("failed to parse leave response: %w", err)
	}
	return &leave, nil
}

// LeaveRequests lists leave requests, optionally filtered by status.
func (c *Client) LeaveRequests(ctx context.Context, status string) ([]Leave, error) {
	path := "/leaves"
	if status != "" {
		path += "?status=" + url.QueryEscape(status)
	}
	var leaves []Leave
	err := c.getJSON(ctx, path, &leaves)
	return leaves, err
}

// ResolveLeave approves or rejects a pending leave request.
func (c *Client) ResolveLeave(ctx context.Context, id string, approve bool, note string) error {
	decision := "rejected"
	if approve {
		decision = "approved"
	}
	_, err := c.Do(ctx, Request{
		Method:       http.MethodPatch,
		Path:         "/leaves/" + url.PathEscape(id),
		Body:         map[string]string{"status": decision, "note": note},
		RequiresAuth: true,
	})
	return err
}

// Employees lists the employee directory.
func (c *Client) Employees(ctx context.Context) ([]Employee, error) {
	var employees []Employee
	err := c.getJSON(ctx, "/employees", &employees)
	return employees, err
}

// OnboardEmployee registers a new employee.
func (c *Client) OnboardEmployee(ctx context.Context, e Employee) (*Employee, error) {
	body, err := c.Do(ctx, Request{
		Method:       http.MethodPost,
		Path:         "/employees",
		Body:         e,
		RequiresAuth: true,
	})
	if err != nil {
		return nil, err
	}
	var created Employee
	if err := json.Unmarshal(body, &created); err != nil {
		return nil, fmt.Errorf("failed to parse employee response: %w", err)
	}
	return &created, nil
}

// UploadDocument attaches an onboarding document (contract, ID proof) to an
// employee record. The body goes out as multipart form data.
func (c *Client) UploadDocument(
	ctx context.Context,
	employeeID, kind, fileName string,
	rd io.Reader,
) error {
	_, err := c.Do(ctx, Request{
		Method: http.MethodPost,
		Path:   "/employees/" + url.PathEscape(employeeID) + "/documents",
		Fields: map[string]string{"kind": kind},
		Files: []Upload{
			{Field: "file", FileName: fileName, Reader: rd},
		},
		RequiresAuth: true,
	})
	return err
}

// Payslips returns the salary history for a year.
func (c *Client) Payslips(ctx context.Context, year string) ([]Payslip, error) {
	var slips []Payslip
	err := c.getJSON(ctx, "/payroll/payslips?year="+url.QueryEscape(year), &slips)
	return slips, err
}

// Announcements lists current portal announcements.
func (c *Client) Announcements(ctx context.Context) ([]Announcement, error) {
	var items []Announcement
	err := c.getJSON(ctx, "/announcements", &items)
	return items, err
}

// PostAnnouncement publishes a portal-wide notice.
func (c *Client) PostAnnouncement(ctx context.Context, title, body string) error {
	_, err := c.Do(ctx, Request{
		Method:       http.MethodPost,
		Path:         "/announcements",
		Body:         map[string]string{"title": title, "body": body},
		RequiresAuth: true,
	})
	return err
}

// Projects lists projects visible to the current role.
func (c *Client) Projects(ctx context.Context) ([]Project, error) {
	var projects []Project
	err := c.getJSON(ctx, "/projects", &projects)
	return projects, err
}

// Tasks lists tasks, optionally scoped to one project.
func (c *Client) Tasks(ctx context.Context, projectID string) ([]Task, error) {
	path := "/tasks"
	if projectID != "" {
		path += "?project=" + url.QueryEscape(projectID)
	}
	var tasks []Task
	err := c.getJSON(ctx, path, &tasks)
	return tasks, err
}

// AssignTask assigns a task to an employee.
func (c *Client) AssignTask(ctx context.Context, taskID, assigneeID string) error {
	_, err := c.Do(ctx, Request{
		Method:       http.MethodPatch,
		Path:         "/tasks/" + url.PathEscape(taskID),
		Body:         map[string]string{"assignee": assigneeID},
		RequiresAuth: true,
	})
	return err
}

// getJSON issues an authenticated GET and decodes the response into out.
func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	body, err := c.Do(ctx, Request{
		Method:       http.MethodGet,
		Path:         path,
		RequiresAuth: true,
	})
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse response from %s: %w", path, err)
	}
	return nil
}
