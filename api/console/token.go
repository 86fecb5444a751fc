package console

import (
	"crypto/rand"
	"encoding/hex"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"hearth/api/model"
)

// Claims is the console token the daemon verifies with the node's token.
type Claims struct {
	jwt.RegisteredClaims
	ServerUUID  string   `json:"server_uuid"`
	Permissions []string `json:"permissions"`
	UserID      string   `json:"user_id"`
	UserUUID    string   `json:"user_uuid"`
	UniqueID    string   `json:"unique_id"`
}

func nonce() string {
	b := make([]byte, 16)
	rand.Read(b)
	return hex.EncodeToString(b)
}

// MintToken signs a short-lived console token for srv on node. It grants
// the wildcard permission: the panel has already checked the actor's.
func MintToken(node *model.Node, srv *model.Server, userID string, ttl time.Duration, now time.Time) (string, *Claims, error) {
	id := nonce()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    node.BaseURL(),
			Audience:  jwt.ClaimStrings{node.BaseURL()},
			Subject:   srv.ID,
			ID:        id,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now.Add(-5 * time.Second)),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		ServerUUID:  srv.ID,
		Permissions: []string{model.PermissionWildcard},
		UserID:      userID,
		UserUUID:    userID,
		UniqueID:    id,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(node.DaemonToken))
	if err != nil {
		return "", nil, err
	}
	return signed, claims, nil
}
