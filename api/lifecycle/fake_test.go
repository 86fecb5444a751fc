package lifecycle

import (
	"context"
	"sync"

	"hearth/api/daemon"
	"hearth/api/events"
	"hearth/api/model"
	"hearth/api/storage"
)

// fakeDaemon records calls and fails those named in fail.
type fakeDaemon struct {
	mu    sync.Mutex
	calls []string
	fail  map[string]error
	last  *daemon.ServerConfiguration
}

func (f *fakeDaemon) call(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, name)
	return f.fail[name]
}

func (f *fakeDaemon) called(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == name {
			n++
		}
	}
	return n
}

func (f *fakeDaemon) CreateServer(_ context.Context, _ *model.Node, cfg *daemon.ServerConfiguration, _ bool) error {
	f.last = cfg
	return f.call("create")
}

func (f *fakeDaemon) SyncServer(_ context.Context, _ *model.Node, cfg *daemon.ServerConfiguration) error {
	f.last = cfg
	return f.call("sync")
}

func (f *fakeDaemon) Install(context.Context, *model.Node, string) error { return f.call("install") }
func (f *fakeDaemon) Reinstall(context.Context, *model.Node, string) error {
	return f.call("reinstall")
}
func (f *fakeDaemon) DeleteServer(context.Context, *model.Node, string) error {
	return f.call("delete")
}
func (f *fakeDaemon) Power(context.Context, *model.Node, string, string) error {
	return f.call("power")
}
func (f *fakeDaemon) SendCommands(context.Context, *model.Node, string, ...string) error {
	return f.call("command")
}
func (f *fakeDaemon) CreateBackup(context.Context, *model.Node, string, *model.Backup) error {
	return f.call("backup")
}
func (f *fakeDaemon) DeleteBackup(context.Context, *model.Node, string, string) error {
	return f.call("delete-backup")
}
func (f *fakeDaemon) RestoreBackup(context.Context, *model.Node, string, *model.Backup, bool, string) error {
	return f.call("restore")
}

type recorder struct {
	mu  sync.Mutex
	got []events.Event
}

func (r *recorder) Publish(_ context.Context, evt events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, evt)
}

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.got))
	for i, e := range r.got {
		out[i] = e.Type
	}
	return out
}

type fakeObjects struct {
	removed   []string
	aborted   []string
	completed []string
}

func (f *fakeObjects) BeginUpload(_ context.Context, key string, size int64) (*storage.Upload, error) {
	return &storage.Upload{UploadID: "up-1", PartSize: storage.DefaultPartSize, Parts: []string{"https://s3/" + key + "?partNumber=1"}}, nil
}

func (f *fakeObjects) CompleteUpload(_ context.Context, key, _ string, _ []storage.Part) error {
	f.completed = append(f.completed, key)
	return nil
}

func (f *fakeObjects) AbortUpload(_ context.Context, key, _ string) error {
	f.aborted = append(f.aborted, key)
	return nil
}

func (f *fakeObjects) PresignDownload(_ context.Context, key string) (string, error) {
	return "https://s3/" + key + "?X-Amz-Signature=x", nil
}

func (f *fakeObjects) Remove(_ context.Context, key string) error {
	f.removed = append(f.removed, key)
	return nil
}
