package auth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"hearth/api/model"
)

// NodeFinder locates the node owning a daemon token id.
type NodeFinder interface {
	FindNodeByTokenID(ctx context.Context, tokenID string) (*model.Node, error)
}

// ParseDaemonCredential splits "Bearer <token_id>.<token>" on the first dot.
// Generated token ids never contain a dot; tokens may.
func ParseDaemonCredential(header string) (tokenID, token string, err error) {
	cred, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || cred == "" {
		return "", "", &model.AuthError{Reason: "missing bearer credential"}
	}
	tokenID, token, ok = strings.Cut(cred, ".")
	if !ok || tokenID == "" || token == "" {
		return "", "", &model.AuthError{Reason: "malformed daemon credential"}
	}
	return tokenID, token, nil
}

// AuthenticateDaemon returns the node whose credential pair matches header.
func AuthenticateDaemon(ctx context.Context, nodes NodeFinder, header string) (*model.Node, error) {
	tokenID, token, err := ParseDaemonCredential(header)
	if err != nil {
		return nil, err
	}
	node, err := nodes.FindNodeByTokenID(ctx, tokenID)
	if errors.Is(err, model.ErrNotFound) {
		return nil, &model.AuthError{Reason: "unknown daemon token"}
	} else if err != nil {
		return nil, err
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(node.DaemonToken)) != 1 {
		return nil, &model.AuthError{Reason: "daemon token mismatch"}
	}
	return node, nil
}

// DaemonMiddleware authenticates node daemons calling the remote API.
func DaemonMiddleware(nodes NodeFinder) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			node, err := AuthenticateDaemon(r.Context(), nodes, r.Header.Get("Authorization"))
			if err != nil {
				var ae *model.AuthError
				if errors.As(err, &ae) {
					deny(w, http.StatusUnauthorized, ae.Error())
				} else {
					deny(w, http.StatusInternalServerError, "node lookup failed")
				}
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), nodeKey, node)))
		})
	}
}

// NodeFrom returns the daemon's node set by DaemonMiddleware.
func NodeFrom(ctx context.Context) (*model.Node, bool) {
	n, ok := ctx.Value(nodeKey).(*model.Node)
	return n, ok
}

const tokenAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

func randomString(n int) string {
	b := make([]byte, n)
	rand.Read(b)
	for i := range b {
		b[i] = tokenAlphabet[int(b[i])%len(tokenAlphabet)]
	}
	return string(b)
}

// NewDaemonCredential generates a token id and token for a new node.
// Neither contains a dot.
func NewDaemonCredential() (tokenID, token string) {
	return randomString(16), randomString(64)
}
