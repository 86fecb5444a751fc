package model

// Actor is an already-authenticated identity acting on a server.
type Actor struct {
	UserID string `json:"userId"`
	Admin  bool   `json:"admin"`
}

const PermissionWildcard = "*"

const (
	PermConsole        = "control.console"
	PermStart          = "control.start"
	PermStop           = "control.stop"
	PermRestart        = "control.restart"
	PermFileRead       = "file.read"
	PermFileContent    = "file.read-content"
	PermFileCreate     = "file.create"
	PermFileUpdate     = "file.update"
	PermFileDelete     = "file.delete"
	PermFileArchive    = "file.archive"
	PermFileSFTP       = "file.sftp"
	PermBackupRead     = "backup.read"
	PermBackupCreate   = "backup.create"
	PermBackupDelete   = "backup.delete"
	PermBackupRestore  = "backup.restore"
	PermBackupDownload = "backup.download"
	PermAllocCreate    = "allocation.create"
	PermAllocUpdate    = "allocation.update"
	PermAllocDelete    = "allocation.delete"
	PermScheduleRead   = "schedule.read"
	PermScheduleCreate = "schedule.create"
	PermScheduleEdit   = "schedule.update"
	PermScheduleDelete = "schedule.delete"
	PermActivityRead   = "activity.read"
)

// PowerPermission maps a power action to the permission guarding it.
// kill shares control.stop.
func PowerPermission(action string) string {
	switch action {
	case "start":
		return PermStart
	case "restart":
		return PermRestart
	default:
		return PermStop
	}
}
