package browser

import (
	"strings"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// blockable maps configuration names onto CDP resource types. Only passive
// subresources are listed; the session transport needs every request that
// runs code or carries data.
var blockable = map[string]proto.NetworkResourceType{
	"image":       proto.NetworkResourceTypeImage,
	"images":      proto.NetworkResourceTypeImage,
	"font":        proto.NetworkResourceTypeFont,
	"fonts":       proto.NetworkResourceTypeFont,
	"media":       proto.NetworkResourceTypeMedia,
	"stylesheet":  proto.NetworkResourceTypeStylesheet,
	"stylesheets": proto.NetworkResourceTypeStylesheet,
}

// blockSet resolves configured names. Unknown names are ignored.
func blockSet(names []string) map[proto.NetworkResourceType]bool {
	set := make(map[proto.NetworkResourceType]bool, len(names))
	for _, n := range names {
		if t, ok := blockable[strings.ToLower(strings.TrimSpace(n))]; ok {
			set[t] = true
		}
	}
	return set
}

// blockResources fails matching subresource requests of page and lets
// everything else through. The returned router must be stopped with the tab.
func blockResources(page *rod.Page, names []string) *rod.HijackRouter {
	set := blockSet(names)
	if len(set) == 0 {
		return nil
	}
	router := page.HijackRequests()
	router.MustAdd("*", func(h *rod.Hijack) {
		if set[h.Request.Type()] {
			h.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
			return
		}
		h.ContinueRequest(&proto.FetchContinueRequest{})
	})
	go router.Run()
	return router
}
