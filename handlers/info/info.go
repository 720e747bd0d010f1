// Package info implements a handler reporting what the robot is running.
package info

import (
	"context"
	"fmt"
	"net/http"
	"runtime"
	"runtime/debug"

	"github.com/zephyrtronium/switchboard/config"
	"github.com/zephyrtronium/switchboard/handler"
)

// Info reports on the robot.
type Info struct {
	*handler.Base
}

// New creates the info handler.
func New() *handler.Handler[*Info] {
	h := handler.New("info", func(b *handler.Base) *Info { return &Info{b} })
	h.RouteTo(`^info\s*$`, "Chat",
		handler.Command(),
		handler.Help("info", "Describes the robot's adapter and handlers."),
	)
	h.HTTP().GetTo("/switchboard/info", "Page")
	return h
}

// Report is the robot description served over HTTP.
type Report struct {
	Name        string    `json:"name"`
	MentionName string    `json:"mention_name"`
	Alias       string    `json:"alias,omitzero"`
	Adapter     string    `json:"adapter,omitzero"`
	Version     string    `json:"version,omitzero"`
	GoVersion   string    `json:"go_version"`
	Handlers    []Handler `json:"handlers"`
}

// Handler describes one handler in a Report.
type Handler struct {
	Namespace string   `json:"namespace"`
	Routes    int      `json:"routes"`
	HTTP      int      `json:"http_routes"`
	Events    []string `json:"events,omitzero"`
}

// Describe collects the robot's description.
func Describe(robo handler.Robot) Report {
	r := Report{
		Name:        robo.Name(),
		MentionName: robo.MentionName(),
		Alias:       robo.Alias(),
		Adapter:     config.Value[string](robo.Config(), "robot.adapter"),
		GoVersion:   runtime.Version(),
	}
	if bi, ok := debug.ReadBuildInfo(); ok {
		r.Version = bi.Main.Version
	}
	for _, p := range robo.Plugins() {
		r.Handlers = append(r.Handlers, Handler{
			Namespace: p.Namespace(),
			Routes:    len(p.Routes()),
			HTTP:      len(p.HTTPRoutes()),
			Events:    p.Events(),
		})
	}
	return r
}

// Chat replies with a short description.
func (i *Info) Chat(ctx context.Context, r *handler.Response) error {
	d := Describe(i.Robot)
	adapter := d.Adapter
	if adapter == "" {
		adapter = "an unknown"
	} else {
		adapter = "the " + adapter
	}
	s := fmt.Sprintf("%s is running on %s adapter with %d handlers.", d.Name, adapter, len(d.Handlers))
	return r.Reply(ctx, s)
}

// Page serves the description as JSON.
func (i *Info) Page(ctx context.Context, r *handler.Request) error {
	return r.WriteJSON(http.StatusOK, Describe(i.Robot))
}
