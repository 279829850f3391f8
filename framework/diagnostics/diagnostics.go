// Package diagnostics exposes a read-only JSON view of a container over HTTP.
//
//	GET /registrations            every registration and open generic,
//	                              filtered by ?lifetime= and ?kind=
//	GET /registrations/{service}  registrations whose service type matches
//	GET /scopes                   live scope ids (scope tracking only)
//	GET /stats                    resolution counters
package diagnostics

import (
	"fmt"
	"net/http"
	"net/url"
	"reflect"
	"strings"

	"github.com/km-arc/go-ioc/framework/container"
	gohttp "github.com/km-arc/go-ioc/framework/http"
	"github.com/km-arc/go-ioc/framework/routing"
)

// Handler serves diagnostics for one container.
type Handler struct {
	c *container.Container
}

// New returns a Handler for c.
func New(c *container.Container) *Handler {
	return &Handler{c: c}
}

// Routes mounts the endpoints on r.
func (h *Handler) Routes(r *routing.Router) {
	r.Get("/registrations", h.registrations)
	r.Get("/registrations/{service}", h.registration)
	r.Get("/scopes", h.scopes)
	r.Get("/stats", h.stats)
}

// RegistrationView is the JSON form of a container.Registration.
type RegistrationView struct {
	Services       []string          `json:"services"`
	Implementation string            `json:"implementation,omitempty"`
	Lifetime       string            `json:"lifetime"`
	Kind           string            `json:"kind"`
	Key            string            `json:"key,omitempty"`
	Keyed          bool              `json:"keyed"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// OpenGenericView is the JSON form of a container.OpenGenericInfo.
type OpenGenericView struct {
	Service        string   `json:"service"`
	Implementation string   `json:"implementation"`
	Lifetime       string   `json:"lifetime"`
	Instances      []string `json:"instances"`
}

// ScopesView lists the live scopes below the root.
type ScopesView struct {
	Root     string   `json:"root"`
	Tracking bool     `json:"tracking"`
	Scopes   []string `json:"scopes"`
}

func viewOf(reg *container.Registration) RegistrationView {
	v := RegistrationView{
		Services: typeNames(reg.ServiceTypes()),
		Lifetime: reg.Lifetime().String(),
		Kind:     reg.Kind(),
	}
	if impl := reg.ImplementationType(); impl != nil {
		v.Implementation = impl.String()
	}
	if key, keyed := reg.Key(); keyed {
		v.Key, v.Keyed = fmt.Sprint(key), true
	}
	if md := reg.Metadata(); len(md) > 0 {
		v.Metadata = make(map[string]string, len(md))
		for k, val := range md {
			v.Metadata[k] = fmt.Sprint(val)
		}
	}
	return v
}

func typeNames(ts []reflect.Type) []string {
	out := make([]string, len(ts))
	for i, t := range ts {
		out[i] = t.String()
	}
	return out
}

func (h *Handler) registrations(w http.ResponseWriter, r *http.Request) {
	req, res := gohttp.NewRequest(r), gohttp.NewResponse(w)
	if !req.IsJSON() {
		res.Error(http.StatusNotAcceptable, "diagnostics are served as application/json")
		return
	}
	lifetime, kind := req.Query("lifetime"), req.Query("kind")
	regs := h.c.Registry().Registrations()
	views := make([]RegistrationView, 0, len(regs))
	for _, reg := range regs {
		v := viewOf(reg)
		if (lifetime != "" && !strings.EqualFold(v.Lifetime, lifetime)) || (kind != "" && v.Kind != kind) {
			continue
		}
		views = append(views, v)
	}
	gens := h.c.Registry().OpenGenerics()
	generics := make([]OpenGenericView, 0, len(gens))
	for _, g := range gens {
		generics = append(generics, OpenGenericView{
			Service:        g.Service.String(),
			Implementation: g.Implementation.String(),
			Lifetime:       g.Lifetime.String(),
			Instances:      typeNames(g.Instances),
		})
	}
	res.Success(map[string]any{
		"registrations": views,
		"open_generics": generics,
	})
}

func (h *Handler) registration(w http.ResponseWriter, r *http.Request) {
	res := gohttp.NewResponse(w)
	service, err := url.PathUnescape(gohttp.NewRequest(r).RouteParam("service"))
	if err != nil {
		res.Error(http.StatusBadRequest, "malformed service name")
		return
	}
	var views []RegistrationView
	for _, reg := range h.c.Registry().Registrations() {
		for _, st := range reg.ServiceTypes() {
			if st.String() == service {
				views = append(views, viewOf(reg))
				break
			}
		}
	}
	if len(views) == 0 {
		res.NotFound(fmt.Sprintf("no registration for %s", service))
		return
	}
	res.Success(views)
}

func (h *Handler) scopes(w http.ResponseWriter, _ *http.Request) {
	scopes := h.c.Root().Scopes()
	if scopes == nil {
		scopes = []string{}
	}
	gohttp.NewResponse(w).Success(ScopesView{
		Root:     h.c.Root().ID(),
		Tracking: h.c.TracksScopes(),
		Scopes:   scopes,
	})
}

func (h *Handler) stats(w http.ResponseWriter, _ *http.Request) {
	gohttp.NewResponse(w).Success(h.c.Stats())
}
