package router

import (
	"fmt"

	"github.com/kari-ai/kari-core/internal/domain"
)

// degradedResponse builds the deterministic offline reply returned when no
// provider can be dispatched. The caller always receives a well-formed
// response, never an error, and the reason is one of the four enumerated
// values.
func degradedResponse(req *domain.RoutingRequest, reason domain.DegradedReason) *domain.RoutingResponse {
	content := fmt.Sprintf(
		"I'm currently operating in degraded mode and cannot reach a language model (reason: %s). "+
			"Your message was received and will be routable again once a provider recovers. "+
			"Recent context remains available from memory.",
		reason,
	)

	resp := &domain.RoutingResponse{
		Provider:       "degraded",
		Content:        content,
		Degraded:       true,
		DegradedReason: reason,
		CorrelationID:  req.CorrelationID,
	}

	if req.Stream {
		ch := make(chan string, 1)
		ch <- content
		close(ch)
		resp.Chunks = ch
	}
	return resp
}
