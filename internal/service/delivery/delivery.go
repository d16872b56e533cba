// Package delivery routes an issued session to the native client, either as
// the callback's JSON response or through a page that POSTs it to the
// client's loopback listener.
package delivery

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html/template"
	"net/http"

	"github.com/dzerik/oauth-relay/internal/model"
	"github.com/dzerik/oauth-relay/internal/ui"
)

// LoopbackHost is the only address the confirmation page will POST to.
const LoopbackHost = "127.0.0.1"

// Target is the resolved delivery decision for one flow.
type Target struct {
	Mode model.DeliveryMode
	Port int
}

// IsLoopback reports whether the page must POST to a local listener.
func (t Target) IsLoopback() bool {
	return t.Mode == model.DeliveryLoopback && t.Port != 0
}

// URL returns the loopback POST target, or "" for direct delivery.
func (t Target) URL() string {
	if !t.IsLoopback() {
		return ""
	}
	return fmt.Sprintf("http://%s:%d/session", LoopbackHost, t.Port)
}

// Resolve picks the delivery target. Query values supplied at callback time
// take precedence over the values carried from initiation. Loopback is only
// chosen when a port is known; everything else falls back to direct.
func Resolve(queryMode, queryPort string, carried model.FlowParams) (Target, error) {
	mode, err := model.ParseDeliveryMode(queryMode)
	if err != nil {
		return Target{}, err
	}
	port, err := model.ParsePort(queryPort)
	if err != nil {
		return Target{}, err
	}

	if mode == "" {
		mode = carried.Mode
	}
	if port == 0 {
		port = carried.Port
	}

	if mode == model.DeliveryLoopback && port != 0 {
		return Target{Mode: model.DeliveryLoopback, Port: port}, nil
	}
	return Target{Mode: model.DeliveryDirect}, nil
}

// Renderer writes the final response of a login flow.
type Renderer struct {
	tmpl         *template.Template
	providerName string
}

// NewRenderer loads the confirmation page template.
func NewRenderer(providerName string) (*Renderer, error) {
	tmpl, err := ui.LoadTemplates()
	if err != nil {
		return nil, fmt.Errorf("failed to load templates: %w", err)
	}
	if tmpl.Lookup(ui.LoopbackTemplate) == nil {
		return nil, fmt.Errorf("template %s not found", ui.LoopbackTemplate)
	}
	if providerName == "" {
		providerName = "Whop"
	}
	return &Renderer{tmpl: tmpl, providerName: providerName}, nil
}

type pageData struct {
	Target       string
	ProviderName string
	Payload      model.SessionPayload
}

// Render writes the payload for the given target. Nothing is written when
// the page fails to render, so the caller can still send an error.
func (r *Renderer) Render(w http.ResponseWriter, payload model.SessionPayload, target Target) error {
	w.Header().Set("Cache-Control", "no-store")

	if !target.IsLoopback() {
		body, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to encode session payload: %w", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(body)
		return nil
	}

	var buf bytes.Buffer
	err := r.tmpl.ExecuteTemplate(&buf, ui.LoopbackTemplate, pageData{
		Target:       target.URL(),
		ProviderName: r.providerName,
		Payload:      payload,
	})
	if err != nil {
		return fmt.Errorf("failed to render loopback page: %w", err)
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
	return nil
}
