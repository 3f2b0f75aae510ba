// Package proxy serves the admission pipeline as an HTTP reverse proxy:
// every inbound request is evaluated before it is forwarded to the
// protected target.
package proxy

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strconv"

	"github.com/edgegate/edgegate/api"
	"github.com/edgegate/edgegate/internal/admission"
	"github.com/edgegate/edgegate/internal/decision"
)

// Proxy is the admission-controlling reverse proxy.
type Proxy struct {
	target         *url.URL
	reverseProxy   *httputil.ReverseProxy
	pipeline       *admission.Pipeline
	decisions      decision.Store
	trustForwarded bool
	logger         *slog.Logger
}

// Options tune proxy behavior beyond the required wiring.
type Options struct {
	// TrustForwarded accepts X-Forwarded-For / X-Real-IP as the client
	// address. Enable only behind a trusted edge.
	TrustForwarded bool
}

// NewProxy creates a proxy in front of the given target URL. decisions
// may be nil when no decision log is configured.
func NewProxy(target string, pipeline *admission.Pipeline, decisions decision.Store, logger *slog.Logger, opts Options) (*Proxy, error) {
	u, err := url.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("invalid target URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid target URL %q: scheme and host required", target)
	}

	p := &Proxy{
		target:         u,
		pipeline:       pipeline,
		decisions:      decisions,
		trustForwarded: opts.TrustForwarded,
		logger:         logger,
	}

	rp := httputil.NewSingleHostReverseProxy(u)
	rp.ErrorHandler = p.errorHandler
	p.reverseProxy = rp

	return p, nil
}

// ServeHTTP evaluates the request and forwards it when admitted.
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rc := admission.FromRequest(r, p.trustForwarded)

	verdict, err := p.pipeline.Evaluate(r.Context(), rc)
	if err != nil {
		p.logger.Error("pipeline error", "error", err, "path", rc.Path, "client", rc.Client)
		http.Error(w, "internal admission error", http.StatusInternalServerError)
		return
	}

	p.record(r.Context(), rc)

	if verdict.Denied() {
		p.logger.Warn("request denied",
			"stage", verdict.Stage,
			"reason", verdict.Reason,
			"method", rc.Method,
			"path", rc.Path,
			"client", rc.Client,
		)
		p.writeDeny(w, rc, verdict)
		return
	}

	p.reverseProxy.ServeHTTP(w, r)
}

func (p *Proxy) record(ctx context.Context, rc *admission.RequestContext) {
	if p.decisions == nil {
		return
	}
	if err := p.decisions.Write(ctx, rc.Record()); err != nil {
		// The decision log is observability, not admission; never block
		// traffic on it.
		p.logger.Error("writing decision record", "error", err)
	}
}

func (p *Proxy) writeDeny(w http.ResponseWriter, rc *admission.RequestContext, verdict api.Verdict) {
	status := api.DenyStatus(verdict)

	if status == http.StatusTooManyRequests && rc.RetryAfter > 0 {
		secs := int(math.Ceil(rc.RetryAfter.Seconds()))
		w.Header().Set("Retry-After", strconv.Itoa(secs))
	}
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", "Bearer")
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	body := api.DenyBody{
		Error:  api.ErrorCode(status),
		Reason: verdict.Reason,
	}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		p.logger.Error("writing deny response", "error", err)
	}
}

func (p *Proxy) errorHandler(w http.ResponseWriter, r *http.Request, err error) {
	p.logger.Error("upstream error", "error", err, "url", r.URL.String())
	http.Error(w, "upstream error", http.StatusBadGateway)
}

// Handler returns an http.Handler for use with http.Server.
func (p *Proxy) Handler() http.Handler {
	return p
}

// ListenAndServe starts the proxy server and shuts it down when ctx is
// cancelled.
func (p *Proxy) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:    addr,
		Handler: p,
	}

	go func() {
		<-ctx.Done()
		srv.Close()
	}()

	p.logger.Info("starting admission proxy",
		"listen", addr,
		"target", p.target.String(),
	)

	err := srv.ListenAndServe()
	if err == http.ErrServerClosed || ctx.Err() != nil {
		return nil
	}
	return err
}
