package service

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	em "membership/internal/export/models"
	id "membership/pkg/domain"
	dErrors "membership/pkg/domain-errors"
)

const tokenIssuer = "membership-export"

// DownloadClaims bind a download link to one export request. The token
// expires together with the archive.
type DownloadClaims struct {
	RequestID string `json:"request_id"`
	ProfileID string `json:"profile_id"`
	jwt.RegisteredClaims
}

// DownloadTokens signs and checks HS256 export download tokens.
type DownloadTokens struct {
	signingKey []byte
}

func NewDownloadTokens(signingKey string) (*DownloadTokens, error) {
	if signingKey == "" {
		return nil, errors.New("export signing key is required")
	}
	return &DownloadTokens{signingKey: []byte(signingKey)}, nil
}

// Issue signs a token for a completed export.
func (t *DownloadTokens) Issue(req *em.Request, now time.Time) (string, error) {
	if req.ExpiresAt == nil {
		return "", dErrors.New(dErrors.CodeInvalidTransition, "export has no download window")
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, DownloadClaims{
		RequestID: req.ID.String(),
		ProfileID: req.ProfileID.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(*req.ExpiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    tokenIssuer,
			Subject:   req.ProfileID.String(),
			ID:        req.ID.String(),
		},
	})
	signed, err := token.SignedString(t.signingKey)
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to sign download token")
	}
	return signed, nil
}

// Parse validates a token at now and returns the export it names.
func (t *DownloadTokens) Parse(raw string, now time.Time) (id.ExportRequestID, error) {
	parsed, err := jwt.ParseWithClaims(raw, &DownloadClaims{}, func(token *jwt.Token) (any, error) {
		return t.signingKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return id.ExportRequestID{}, dErrors.New(dErrors.CodeForbidden, "download link has expired")
		}
		return id.ExportRequestID{}, dErrors.New(dErrors.CodeForbidden, "invalid download token")
	}
	claims, ok := parsed.Claims.(*DownloadClaims)
	if !ok || !parsed.Valid {
		return id.ExportRequestID{}, dErrors.New(dErrors.CodeForbidden, "invalid download token")
	}
	reqID, err := id.ParseExportRequestID(claims.RequestID)
	if err != nil {
		return id.ExportRequestID{}, dErrors.New(dErrors.CodeForbidden, "invalid download token")
	}
	return reqID, nil
}
