// Package multiplexer resolves unit identifiers, spawns unit instances and
// wires the refractions between them.
//
// A Registry maps "namespace:name" identifiers to a spectrum Source and a
// handler Factory. The Multiplexer uses it to establish links:
//
//	reg := multiplexer.NewRegistry()
//	reg.MustRegister("core:echo", echo.Spectrum(), echo.New)
//
//	mux := multiplexer.New(reg, func(o *multiplexer.Options) {
//	    o.Validate = true
//	})
//	l, err := mux.EstablishLink(ctx, "core:echo")
//	if err != nil {
//	    return err
//	}
//	defer l.SendExtinguish()
//
//	out, err := link.Call[map[string]any](ctx, l, "echo", map[string]any{"msg": "hi"})
//
// Every established link gets its own instance. Instances reach their
// dependencies through the multiplexer, which refuses a refraction whose
// target already appears on the caller's call chain.
package multiplexer
