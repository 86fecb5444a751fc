package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"hearth/api/auth"
)

// Routes mounts the panel API. authn authenticates users and must store an
// actor in the request context.
func (h *Handler) Routes(r chi.Router, authn func(http.Handler) http.Handler) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.Health)
		r.Get("/version", h.Version)

		r.Route("/remote", func(r chi.Router) {
			r.Use(auth.DaemonMiddleware(h.store))
			r.Get("/servers", h.RemoteListServers)
			r.Post("/servers/reset", h.RemoteResetServers)
			r.Get("/servers/{uuid}", h.RemoteGetServer)
			r.Get("/servers/{uuid}/install", h.RemoteInstallScript)
			r.Post("/servers/{uuid}/install", h.RemoteInstallResult)
			r.Post("/sftp/auth", h.RemoteSFTPAuth)
			r.Post("/activity", h.RemoteActivity)
			r.Get("/backups/{backup}", h.RemoteBackupUpload)
			r.Post("/backups/{backup}", h.RemoteBackupComplete)
			r.Post("/backups/{backup}/restore", h.RemoteRestoreComplete)
		})

		r.Group(func(r chi.Router) {
			r.Use(authn)

			r.Group(func(r chi.Router) {
				r.Use(auth.RequireAdmin)
				r.Get("/nodes", h.ListNodes)
				r.Post("/nodes", h.CreateNode)
				r.Get("/nodes/{nodeId}", h.GetNode)
				r.Put("/nodes/{nodeId}", h.UpdateNode)
				r.Delete("/nodes/{nodeId}", h.DeleteNode)
				r.Post("/nodes/{nodeId}/credentials", h.RotateNodeCredentials)
				r.Get("/nodes/{nodeId}/usage", h.NodeUsage)
				r.Get("/nodes/{nodeId}/configuration", h.NodeConfiguration)
				r.Get("/nodes/{nodeId}/health", h.NodeHealth)

				r.Get("/users", h.ListUsers)
				r.Post("/users", h.CreateUser)
				r.Get("/eggs", h.ListEggs)
				r.Post("/eggs", h.CreateEgg)
				r.Get("/activity", h.RecentActivity)

				r.Post("/servers", h.CreateServer)
				r.Delete("/servers/{id}", h.DeleteServer)
				r.Post("/servers/{id}/suspend", h.SuspendServer)
				r.Post("/servers/{id}/unsuspend", h.UnsuspendServer)
				r.Post("/servers/{id}/reinstall", h.ReinstallServer)
				r.Post("/servers/{id}/retry-install", h.RetryInstall)
				r.Put("/servers/{id}/egg", h.ChangeEgg)
				r.Put("/servers/{id}/build", h.UpdateBuild)
			})

			r.Get("/servers", h.ListServers)
			r.Route("/servers/{id}", func(r chi.Router) {
				r.Get("/", h.GetServer)
				r.Get("/resources", h.ServerResources)
				r.Post("/power", h.Power)
				r.Post("/command", h.Command)
				r.Get("/console", h.Console)
				r.Get("/activity", h.ServerActivity)

				r.Get("/files/list", h.ListFiles)
				r.Get("/files/contents", h.FileContents)
				r.Post("/files/write", h.WriteFile)
				r.Post("/files/create-folder", h.CreateFolder)
				r.Put("/files/rename", h.RenameFiles)
				r.Post("/files/delete", h.DeleteFiles)
				r.Post("/files/compress", h.CompressFiles)
				r.Post("/files/decompress", h.DecompressFile)

				r.Get("/backups", h.ListBackups)
				r.Post("/backups", h.CreateBackup)
				r.Get("/backups/{backup}/download", h.DownloadBackup)
				r.Post("/backups/{backup}/restore", h.RestoreBackup)
				r.Delete("/backups/{backup}", h.DeleteBackup)

				r.Get("/allocations", h.ListAllocations)
				r.Post("/allocations", h.AddAllocation)
				r.Post("/allocations/{alloc}/primary", h.SetPrimaryAllocation)
				r.Delete("/allocations/{alloc}", h.RemoveAllocation)

				r.Get("/schedules", h.ListSchedules)
				r.Post("/schedules", h.CreateSchedule)
				r.Put("/schedules/{schedule}", h.UpdateSchedule)
				r.Delete("/schedules/{schedule}", h.DeleteSchedule)
				r.Post("/schedules/{schedule}/run", h.RunSchedule)
			})
		})
	})
}
