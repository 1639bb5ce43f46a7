// Package mail builds the outbound messages of the auth flows. Which message
// a user receives is part of the anti-enumeration design: a fresh registration
// gets a verification link, a duplicate email gets a reset-password notice,
// and the caller cannot tell the two apart.
package mail

import (
	"fmt"
	"net/url"

	"github.com/kinkyharbor/harbor-api/internal/domain"
)

// Builder renders mail messages with links pointing at the frontend.
type Builder struct {
	frontendURL string
}

func NewBuilder(frontendURL string) *Builder {
	return &Builder{frontendURL: frontendURL}
}

const registerText = `Welcome to Kinky Harbor!
Please verify your mail address by clicking %s

- Kinky Harbor crew -
`

const registerHTML = `<html>
  <body>
    <p>Welcome to Kinky Harbor!</p>
    <p>Please verify your mail address by clicking
        <a href="%[1]s">%[1]s</a>.
    </p>
    <p>- Kinky Harbor crew -</p>
  </body>
</html>
`

// RegisterVerification is the mail with the registration verification link.
func (b *Builder) RegisterVerification(toName, toEmail, secret string) domain.EmailMessage {
	link := fmt.Sprintf("%s/register/verify?token=%s", b.frontendURL, url.QueryEscape(secret))
	return domain.EmailMessage{
		ToName:  toName,
		ToEmail: toEmail,
		Subject: "Verify your Kinky Harbor account",
		Text:    fmt.Sprintf(registerText, link),
		HTML:    fmt.Sprintf(registerHTML, link),
	}
}

const registerExistsText = `There was an attempt to create a new account on Kinky Harbor with this mail address.
In case you forgot your password, please request a reset at %s.
If you didn't try to register, safely ignore this message.

- Kinky Harbor crew -
`

const registerExistsHTML = `<html>
  <body>
    <p>There was an attempt to create a new account on Kinky Harbor with this mail address.</p>
    <p>In case you forgot your password, please request a reset at
        <a href="%[1]s">%[1]s</a>.
    </p>
    <p>If you didn't try to register, safely ignore this message.</p>
    <p>- Kinky Harbor crew -</p>
  </body>
</html>
`

// RegisterAttempt is sent instead of a verification link when the address is
// already registered.
func (b *Builder) RegisterAttempt(toName, toEmail string) domain.EmailMessage {
	link := b.frontendURL + "/login/request-reset/"
	return domain.EmailMessage{
		ToName:  toName,
		ToEmail: toEmail,
		Subject: "Registration attempt at Kinky Harbor",
		Text:    fmt.Sprintf(registerExistsText, link),
		HTML:    fmt.Sprintf(registerExistsHTML, link),
	}
}

const resetText = `A password reset has been requested for this mail address.
Please use following link to set a new password: %s.
If you didn't try to reset your password, safely ignore this message.

- Kinky Harbor crew -
`

const resetHTML = `<html>
  <body>
    <p>A password reset has been requested for this mail address.</p>
    <p>Please use following link to set a new password:
        <a href="%[1]s">%[1]s</a>.
    </p>
    <p>If you didn't try to reset your password, safely ignore this message.</p>
    <p>- Kinky Harbor crew -</p>
  </body>
</html>
`

// PasswordReset is the mail with the reset-password link. The link carries the
// user id because reset execution checks token ownership.
func (b *Builder) PasswordReset(toName, toEmail, userID, secret string) domain.EmailMessage {
	link := fmt.Sprintf("%s/login/reset-password?user=%s&token=%s",
		b.frontendURL, url.QueryEscape(userID), url.QueryEscape(secret))
	return domain.EmailMessage{
		ToName:  toName,
		ToEmail: toEmail,
		Subject: "Password reset for Kinky Harbor",
		Text:    fmt.Sprintf(resetText, link),
		HTML:    fmt.Sprintf(resetHTML, link),
	}
}
