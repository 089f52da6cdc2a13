package service

// Observer receives lifecycle events, typically to update metrics. All
// methods must be cheap and safe for concurrent use.
type Observer interface {
	TokenIssued()
	TokenRefreshed(outcome string)
	TokenValidated(result, path string)
	TokenRevoked(kind string)
}

// Outcome and path labels passed to Observer.
const (
	OutcomeSuccess = "success"
	OutcomeInvalid = "invalid"
	OutcomeError   = "error"

	PathCache  = "cache"
	PathVerify = "verify"
	PathPre    = "precheck"

	RevokeToken     = "token"
	RevokePrincipal = "principal"
)

type nopObserver struct{}

func (nopObserver) TokenIssued() {}
func (nopObserver) TokenRefreshed(string) {}
func (nopObserver) TokenValidated(string, string) {}
func (nopObserver) TokenRevoked(string) {}

func orNop(o Observer) Observer {
	if o == nil {
		return nopObserver{}
	}
	return o
}
