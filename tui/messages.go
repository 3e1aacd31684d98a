package tui

// MsgBanner signals that the banner/title should be displayed.
type MsgBanner struct{}

// MsgNoSession signals that no stored session was found.
type MsgNoSession struct{}

// MsgSessionFound signals that a stored session was found on disk.
type MsgSessionFound struct {
	Name string
	Role string
}

// MsgSessionExpiredByAge signals that the session passed the absolute age
// ceiling and was torn down.
type MsgSessionExpiredByAge struct{}

// MsgLoggingIn signals that a login attempt is in progress.
type MsgLoggingIn struct{ Username string }

// MsgLoginOK signals a successful login.
type MsgLoginOK struct {
	Name string
	Role string
}

// MsgAuthRejected signals that the server rejected the access token (401).
type MsgAuthRejected struct{}

// MsgRefreshing signals that a token refresh is in progress.
type MsgRefreshing struct{}

// MsgRefreshOK signals that the token was refreshed successfully.
type MsgRefreshOK struct{}

// MsgRefreshFailed signals that the token refresh failed.
type MsgRefreshFailed struct{ Err error }

// MsgRetrying signals that the original request is being resubmitted with a
// fresh token.
type MsgRetrying struct{}

// MsgLoggedOut signals that the session was cleared and the user is back at
// the login entry point.
type MsgLoggedOut struct{}

// MsgForbidden signals that the current role may not enter a section.
type MsgForbidden struct {
	Role    string
	Section string
}

// MsgNotice carries a one-line informational result.
type MsgNotice struct{ Text string }

// MsgTable carries a titled list of result rows to render.
type MsgTable struct {
	Title string
	Rows  []string
}

// MsgFatal signals a fatal error that should terminate the command.
type MsgFatal struct{ Err error }
