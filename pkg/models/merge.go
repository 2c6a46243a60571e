package models

// Merge folds a step reply into the running envelope.
//
// Termination, status and body always take the reply's value. The error message
// is replaced only by a non-empty reply value. Request headers, response headers
// and extended properties only gain keys the running envelope does not have yet.
// Query parameters and cookies are fixed at ingress and never merged.
func (e *Envelope) Merge(reply *Envelope) {
	if reply == nil {
		return
	}

	e.ShouldTerminateRequest = reply.ShouldTerminateRequest
	e.ResponseStatusCode = reply.ResponseStatusCode
	e.ResponseBody = reply.ResponseBody

	if reply.ErrorMessage != "" {
		e.ErrorMessage = reply.ErrorMessage
	}

	e.ensureMaps()
	mergeAbsent(e.ExtendedProperties, reply.ExtendedProperties)
	mergeAbsent(e.RequestHeaders, reply.RequestHeaders)
	mergeAbsent(e.ResponseHeaders, reply.ResponseHeaders)
}

func mergeAbsent[V any](dst, src map[string]V) {
	for k, v := range src {
		if _, exists := dst[k]; !exists {
			dst[k] = v
		}
	}
}
