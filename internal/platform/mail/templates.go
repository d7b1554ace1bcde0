package mail

import (
	"bytes"
	"fmt"
	htmltemplate "html/template"
	"strings"
	texttemplate "text/template"

	"github.com/pulsera/api/internal/platform/textutil"
)

// LineSummary is one order line as shown in emails.
type LineSummary struct {
	Description     string
	Quantity        int
	LineTotal       int64
	Personalization string
}

// OrderSummary is the data rendered into order emails.
type OrderSummary struct {
	OrderID        int64
	CustomerName   string
	Status         string
	PreviousStatus string
	TrackingNumber string
	Currency       string
	Total          int64
	Lines          []LineSummary
	LookupURL      string
}

var funcs = map[string]any{
	"money": FormatMoney,
	"clean": textutil.Clean,
}

var (
	confirmationHTML = htmltemplate.Must(htmltemplate.New("confirmation").Funcs(funcs).Parse(`<!doctype html>
<html><body>
<p>Hola {{clean .CustomerName}},</p>
<p>Recibimos tu pedido <strong>#{{.OrderID}}</strong>.</p>
<table>
{{- range .Lines}}
<tr><td>{{.Quantity}} × {{clean .Description}}{{if .Personalization}} <em>({{clean .Personalization}})</em>{{end}}</td><td>{{money .LineTotal $.Currency}}</td></tr>
{{- end}}
<tr><td><strong>Total</strong></td><td><strong>{{money .Total .Currency}}</strong></td></tr>
</table>
{{- if .LookupURL}}
<p><a href="{{.LookupURL}}">Ver el estado de tu pedido</a></p>
{{- end}}
</body></html>`))

	confirmationText = texttemplate.Must(texttemplate.New("confirmation").Funcs(funcs).Parse(`Hola {{clean .CustomerName}},

Recibimos tu pedido #{{.OrderID}}.
{{range .Lines}}
- {{.Quantity}} x {{clean .Description}}{{if .Personalization}} ({{clean .Personalization}}){{end}}: {{money .LineTotal $.Currency}}{{end}}

Total: {{money .Total .Currency}}
{{if .LookupURL}}
Estado del pedido: {{.LookupURL}}
{{end}}`))

	statusHTML = htmltemplate.Must(htmltemplate.New("status").Funcs(funcs).Parse(`<!doctype html>
<html><body>
<p>Hola{{if .CustomerName}} {{clean .CustomerName}}{{end}},</p>
<p>Tu pedido <strong>#{{.OrderID}}</strong> cambió de estado: {{.PreviousStatus}} → <strong>{{.Status}}</strong>.</p>
{{- if .TrackingNumber}}
<p>Número de seguimiento: {{.TrackingNumber}}</p>
{{- end}}
{{- if .LookupURL}}
<p><a href="{{.LookupURL}}">Ver el pedido</a></p>
{{- end}}
</body></html>`))

	statusText = texttemplate.Must(texttemplate.New("status").Funcs(funcs).Parse(`Hola{{if .CustomerName}} {{clean .CustomerName}}{{end}},

Tu pedido #{{.OrderID}} cambió de estado: {{.PreviousStatus}} -> {{.Status}}.
{{if .TrackingNumber}}Número de seguimiento: {{.TrackingNumber}}
{{end}}{{if .LookupURL}}Ver el pedido: {{.LookupURL}}
{{end}}`))
)

// RenderOrderConfirmation renders the customer confirmation email.
func RenderOrderConfirmation(summary OrderSummary) (Message, error) {
	return render(fmt.Sprintf("Pedido #%d recibido", summary.OrderID), summary, confirmationText, confirmationHTML)
}

// RenderAdminCopy renders the back-office copy of a new order.
func RenderAdminCopy(summary OrderSummary) (Message, error) {
	return render(fmt.Sprintf("Nuevo pedido #%d", summary.OrderID), summary, confirmationText, confirmationHTML)
}

// RenderStatusUpdate renders the status change email.
func RenderStatusUpdate(summary OrderSummary) (Message, error) {
	return render(fmt.Sprintf("Pedido #%d: %s", summary.OrderID, summary.Status), summary, statusText, statusHTML)
}

func render(subject string, summary OrderSummary, text *texttemplate.Template, html *htmltemplate.Template) (Message, error) {
	var textBuf, htmlBuf bytes.Buffer
	if err := text.Execute(&textBuf, summary); err != nil {
		return Message{}, fmt.Errorf("mail: render text: %w", err)
	}
	if err := html.Execute(&htmlBuf, summary); err != nil {
		return Message{}, fmt.Errorf("mail: render html: %w", err)
	}
	return Message{Subject: subject, Text: textBuf.String(), HTML: htmlBuf.String()}, nil
}

// FormatMoney renders minor units as "ARS 1.234,50".
func FormatMoney(amount int64, currency string) string {
	sign := ""
	if amount < 0 {
		sign = "-"
		amount = -amount
	}
	whole := fmt.Sprintf("%d", amount/100)
	var b strings.Builder
	for i, r := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			b.WriteByte('.')
		}
		b.WriteRune(r)
	}
	return fmt.Sprintf("%s %s%s,%02d", strings.ToUpper(currency), sign, b.String(), amount%100)
}
