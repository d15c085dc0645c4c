package service

import (
	"time"

	"github.com/golang-jwt/jwt/v5"

	"rtc_server/server/realtime/domain"
)

const (
	mediaRolePublisher = "publisher"

	defaultMediaTokenTTL = time.Hour
)

// MediaTokens mints time-boxed join credentials for the external media
// network. Issuance is a pure query; it never touches call state.
type MediaTokens struct {
	appID  string
	secret []byte
	ttl    time.Duration
}

func NewMediaTokens(appID, appSecret string, ttl time.Duration) *MediaTokens {
	if ttl <= 0 {
		ttl = defaultMediaTokenTTL
	}
	return &MediaTokens{appID: appID, secret: []byte(appSecret), ttl: ttl}
}

func (m *MediaTokens) Configured() bool {
	return m != nil && m.appID != "" && len(m.secret) > 0
}

type mediaClaims struct {
	Channel string `json:"channel"`
	Role    string `json:"role"`
	jwt.RegisteredClaims
}

func (m *MediaTokens) Issue(channel, subject, role string) (domain.MediaToken, error) {
	if !m.Configured() {
		return domain.MediaToken{}, ErrMediaNotConfigured
	}
	now := time.Now()
	expiresAt := now.Add(m.ttl)
	claims := mediaClaims{
		Channel: channel,
		Role:    role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.appID,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return domain.MediaToken{}, err
	}
	return domain.MediaToken{
		AppID:     m.appID,
		Token:     signed,
		Channel:   channel,
		Subject:   subject,
		ExpiresAt: expiresAt.UTC(),
	}, nil
}

// IssueToken serves the HTTP token endpoint: a pure query with no state
// transition, failing only when the media credential is unconfigured.
func (c *Coordinator) IssueToken(channel, subject string) (domain.MediaToken, error) {
	return c.media.Issue(channel, subject, mediaRolePublisher)
}
