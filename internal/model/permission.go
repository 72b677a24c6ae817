package model

// Permission is a string code carried in a staff token.
type Permission string

const (
	// PermissionSessionsActivate allows assembling papers and opening a session.
	PermissionSessionsActivate Permission = "sessions:activate"

	// PermissionSessionsClose allows force-closing a session and sweeping expired attempts.
	PermissionSessionsClose Permission = "sessions:close"

	// PermissionSessionsMonitor allows attaching to the live monitor stream.
	PermissionSessionsMonitor Permission = "sessions:monitor"

	// PermissionAttemptsExtend allows granting bonus time.
	PermissionAttemptsExtend Permission = "attempts:extend"

	PermissionGradesWrite   Permission = "grades:write"
	PermissionGradesPublish Permission = "grades:publish"

	PermissionSystemRead Permission = "system:read"
)
