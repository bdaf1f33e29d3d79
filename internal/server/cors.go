package server

import "net/http"

// CORSOptions holds simple CORS settings.
type CORSOptions struct {
	AllowedOrigins []string
}

type cors struct {
	any     bool
	origins map[string]struct{}
}

func newCORS(o CORSOptions) *cors {
	if len(o.AllowedOrigins) == 0 {
		return nil
	}
	c := &cors{origins: make(map[string]struct{}, len(o.AllowedOrigins))}
	for _, origin := range o.AllowedOrigins {
		if origin == "*" {
			c.any = true
		}
		c.origins[origin] = struct{}{}
	}
	return c
}

// apply sets the CORS response headers for an allowed origin. A nil cors
// allows nothing.
func (c *cors) apply(w http.ResponseWriter, r *http.Request) {
	origin := r.Header.Get("Origin")
	if c == nil || origin == "" {
		return
	}
	h := w.Header()
	switch _, listed := c.origins[origin]; {
	case c.any:
		h.Set("Access-Control-Allow-Origin", "*")
	case listed:
		h.Set("Access-Control-Allow-Origin", origin)
		h.Add("Vary", "Origin")
	default:
		return
	}
	if r.Method == http.MethodOptions {
		if req := r.Header.Get("Access-Control-Request-Headers"); req != "" {
			h.Set("Access-Control-Allow-Headers", req)
		}
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	}
}
