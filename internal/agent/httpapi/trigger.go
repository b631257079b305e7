package httpapi

import (
	"fmt"
	"html"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/healthsign/authagent/internal/agent/domain"
	"github.com/healthsign/authagent/internal/agent/flow"
	"github.com/healthsign/authagent/pkg/httpx"
	"github.com/healthsign/authagent/pkg/slogx"
)

// TriggerHandler accepts deep-link content over loopback HTTP. The
// relying party redirects the browser to
// http://localhost:<port>/?challenge_path=… and the tab stays parked on
// this handler until the flow produces its terminal redirect.
type TriggerHandler struct {
	Engine Engine
	Logger *slog.Logger
}

func (h *TriggerHandler) Handle(w http.ResponseWriter, r *http.Request) {
	log := slogx.FromContext(r.Context())

	// Host and request URI together are the deep-link payload, encoded
	// once per browser/OS hop it crossed.
	content := flow.DecodeRecursively(r.Host + r.URL.RequestURI())
	if !strings.Contains(content, "challenge_path=") && !strings.Contains(content, "authz_path=") {
		http.NotFound(w, r)
		return
	}

	results := h.Engine.Submit(content)

	select {
	case <-r.Context().Done():
		// Browser gave up; the flow keeps running and the result goes
		// to the sink only.
		log.Info("caller disconnected before flow finished")
		return
	case res := <-results:
		h.answer(w, log, res)
	}
}

func (h *TriggerHandler) answer(w http.ResponseWriter, log *slog.Logger, res domain.Result) {
	httpx.NoCache(w)

	if res.Err != nil {
		if res.URL != "" {
			// the IdP published an error page for this failure
			redirect(w, res.URL)
			return
		}
		writeErrorPage(w, res.Err)
		return
	}

	switch res.Callback {
	case domain.CallbackDirect:
		httpx.WriteJSON(w, http.StatusOK, map[string]string{"url": res.URL})
	case domain.CallbackDeeplink:
		target := redirectDeeplink(res.Deeplink, res.URL)
		log.Info("redirecting into deep link", "target_scheme", schemeOf(target))
		redirect(w, target)
	default:
		redirect(w, res.URL)
	}
}

func redirect(w http.ResponseWriter, target string) {
	w.Header().Set("Location", target)
	w.WriteHeader(http.StatusFound)
}

// redirectDeeplink rewrites the redirect target onto the deep link's
// custom scheme, so the browser hands the authorization code to the
// registered local app instead of a web origin.
func redirectDeeplink(deeplink, target string) string {
	d, err := url.Parse(deeplink)
	if err != nil || d.Scheme == "" {
		return target
	}
	t, err := url.Parse(target)
	if err != nil {
		return target
	}
	t.Scheme = d.Scheme
	return t.String()
}

func schemeOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Scheme
}

// writeErrorPage renders the static terminal page shown when no error
// URI exists to redirect to.
func writeErrorPage(w http.ResponseWriter, fe *domain.FlowError) {
	status := http.StatusBadGateway
	switch fe.Kind {
	case domain.KindValidation:
		status = http.StatusBadRequest
	case domain.KindCancelled:
		status = http.StatusOK
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)

	title := "Anmeldung fehlgeschlagen"
	if fe.Kind == domain.KindCancelled {
		title = "Anmeldung abgebrochen"
	}
	detail := "<p>Fehlercode: " + html.EscapeString(fe.Code) + "</p>\n"
	if fe.Shown {
		// already surfaced to the user; repeating a failure code here
		// would report their own cancellation back at them
		detail = ""
	}
	fmt.Fprintf(w, errorPage, html.EscapeString(title), detail)
}

const errorPage = `<!DOCTYPE html>
<html lang="de">
<head><meta charset="utf-8"><title>%[1]s</title></head>
<body>
<h1>%[1]s</h1>
%[2]s<p>Sie k&ouml;nnen dieses Fenster schlie&szlig;en.</p>
</body>
</html>
`
