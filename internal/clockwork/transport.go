package clockwork

import "net/http"

// Version is reported to clients in the X-Clockwork-Version header.
const Version = "1.0.0"

// Headers of the inline metadata channel.
const (
	HeaderID      = "X-Clockwork-Id"
	HeaderVersion = "X-Clockwork-Version"
	HeaderPath    = "X-Clockwork-Path"
	HeaderParent  = "X-Clockwork-Parent"
	HeaderAuth    = "X-Clockwork-Auth"
)

// Transport records outgoing HTTP calls made with a context that carries a
// Clockwork as subrequests of the current request. When the callee is
// itself instrumented, its request id links the two records.
type Transport struct {
	Base http.RoundTripper
}

func (t *Transport) base() http.RoundTripper {
	if t.Base != nil {
		return t.Base
	}
	return http.DefaultTransport
}

func (t *Transport) RoundTrip(r *http.Request) (*http.Response, error) {
	cw := FromContext(r.Context())
	if cw == nil {
		return t.base().RoundTrip(r)
	}

	r = r.Clone(r.Context())
	r.Header.Set(HeaderParent, cw.Request().ID)

	start := cw.now()
	resp, err := t.base().RoundTrip(r)
	if err != nil {
		return resp, err
	}

	id := resp.Header.Get(HeaderID)
	if id == "" {
		return resp, nil
	}
	cw.AddSubrequest(r.URL.String(), id, resp.Header.Get(HeaderPath), SubrequestTiming{
		Start: start,
		End:   cw.now(),
	})
	return resp, nil
}
