package auth

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"hearth/api/model"
	"hearth/api/store"
)

// ErrThrottled is returned when an address has used up its SFTP login attempts.
var ErrThrottled = errors.New("too many login attempts")

// SFTPGrant is what the daemon receives for an accepted SFTP login.
type SFTPGrant struct {
	Server      string   `json:"server"`
	User        string   `json:"user"`
	Permissions []string `json:"permissions"`
}

type limiterEntry struct {
	lim  *rate.Limiter
	seen time.Time
}

// SFTPAuthenticator checks SFTP logins the daemon forwards. Usernames are
// "<username>.<server id prefix>".
type SFTPAuthenticator struct {
	store *store.Store

	Limit rate.Limit
	Burst int
	Now   func() time.Time

	mu        sync.Mutex
	limiters  map[string]*limiterEntry
	lastSweep time.Time
}

func NewSFTPAuthenticator(s *store.Store) *SFTPAuthenticator {
	return &SFTPAuthenticator{
		store:    s,
		Limit:    rate.Every(12 * time.Second),
		Burst:    5,
		Now:      time.Now,
		limiters: make(map[string]*limiterEntry),
	}
}

// SplitSFTPUsername splits on the last dot; usernames may contain dots,
// server id prefixes never do.
func SplitSFTPUsername(composite string) (username, prefix string, ok bool) {
	i := strings.LastIndex(composite, ".")
	if i <= 0 || i == len(composite)-1 {
		return "", "", false
	}
	return composite[:i], composite[i+1:], true
}

func (a *SFTPAuthenticator) allow(ip string) bool {
	now := a.Now()
	a.mu.Lock()
	defer a.mu.Unlock()
	if now.Sub(a.lastSweep) > 10*time.Minute {
		for k, e := range a.limiters {
			if now.Sub(e.seen) > 10*time.Minute {
				delete(a.limiters, k)
			}
		}
		a.lastSweep = now
	}
	e, ok := a.limiters[ip]
	if !ok {
		e = &limiterEntry{lim: rate.NewLimiter(a.Limit, a.Burst)}
		a.limiters[ip] = e
	}
	e.seen = now
	return e.lim.AllowN(now, 1)
}

// Authenticate verifies the password and that the user may reach the server
// named by the prefix over SFTP.
func (a *SFTPAuthenticator) Authenticate(ctx context.Context, node *model.Node, ip, composite, password string) (*SFTPGrant, error) {
	if !a.allow(ip) {
		return nil, ErrThrottled
	}
	username, prefix, ok := SplitSFTPUsername(composite)
	if !ok {
		return nil, &model.ValidationError{Field: "username", Reason: "must be <user>.<server>"}
	}

	user, err := a.store.FindUserByUsername(ctx, username)
	if errors.Is(err, model.ErrNotFound) {
		return nil, &model.AuthError{Reason: "invalid credentials"}
	} else if err != nil {
		return nil, err
	}
	if !user.CheckPassword(password) {
		return nil, &model.AuthError{Reason: "invalid credentials"}
	}

	servers, err := a.store.ServersOnNode(ctx, node.ID)
	if err != nil {
		return nil, err
	}
	actor := model.Actor{UserID: user.ID, Admin: user.Admin}
	matched := false
	for i := range servers {
		srv := &servers[i]
		if !strings.HasPrefix(srv.ID, prefix) {
			continue
		}
		matched = true
		if !srv.Permits(actor, model.PermFileSFTP) {
			continue
		}
		if srv.Suspended {
			return nil, &model.StateConflict{Status: srv.Status, Suspended: true, Action: "open sftp"}
		}
		return &SFTPGrant{Server: srv.ID, User: user.ID, Permissions: srv.Grants(actor)}, nil
	}
	if matched {
		return nil, &model.PermissionDenied{Permission: model.PermFileSFTP}
	}
	return nil, model.ErrNotFound
}
