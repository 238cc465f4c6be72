package notify

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"time"
)

// PasswordReset is the content of a reset email.
type PasswordReset struct {
	To        string
	Name      string
	Link      string
	ExpiresAt time.Time
}

// Mailer delivers password reset links.
type Mailer interface {
	SendPasswordReset(ctx context.Context, msg PasswordReset) error
}

const resetSubject = "DITZLER: restablecer contraseña"

var resetTemplate = template.Must(template.New("reset").Parse(`<p>Hola {{.Name}},</p>
<p>Recibimos una solicitud para restablecer tu contraseña. Usa el siguiente enlace antes de {{.ExpiresAt.Format "15:04 MST"}}:</p>
<p><a href="{{.Link}}">{{.Link}}</a></p>
<p>Si no solicitaste este cambio, ignora este mensaje.</p>`))

func renderReset(msg PasswordReset) (string, error) {
	var buf bytes.Buffer
	if err := resetTemplate.Execute(&buf, msg); err != nil {
		return "", fmt.Errorf("render reset email: %w", err)
	}
	return buf.String(), nil
}
