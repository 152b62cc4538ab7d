package app

import (
	"context"

	"github.com/vk/framegridgo/internal/ctxlog"
	"github.com/vk/framegridgo/internal/frame"
	"github.com/vk/framegridgo/internal/registry"
	"github.com/zclconf/go-cty/cty"
)

// StateView is the render side's read access to committed module state. It
// is only valid between a cycle's commit and the next dispatch, which is
// exactly the window the frame loop calls the renderer in.
type StateView interface {
	Module(name string) (cty.Value, error)
	Modules() []string
}

// Renderer stands in for the render pipeline at its interface boundary.
// RenderFrame observes the previous cycle's committed state — one frame of
// staleness is the price of overlapping script execution with rendering.
type Renderer interface {
	RenderFrame(ctx context.Context, f frame.ID, view StateView) error
}

// registryView adapts the registry to StateView.
type registryView struct {
	reg *registry.Registry
}

func (v *registryView) Module(name string) (cty.Value, error) {
	return v.reg.View(registry.ID(name))
}

func (v *registryView) Modules() []string {
	ids := v.reg.Names()
	names := make([]string, len(ids))
	for i, id := range ids {
		names[i] = string(id)
	}
	return names
}

// logRenderer is the headless default: it periodically logs the committed
// module states instead of drawing them.
type logRenderer struct {
	every uint
	count uint
}

func (r *logRenderer) RenderFrame(ctx context.Context, f frame.ID, view StateView) error {
	r.count++
	if r.every == 0 || r.count%r.every != 0 {
		return nil
	}
	logger := ctxlog.FromContext(ctx)
	for _, name := range view.Modules() {
		v, err := view.Module(name)
		if err != nil {
			logger.Warn("Module state unreadable at render.", "module", name, "error", err)
			continue
		}
		logger.Info("Module state.", "frame", f.N(), "module", name, "state", v.GoString())
	}
	return nil
}
