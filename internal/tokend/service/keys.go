package service

// Cache key layout. Every token is addressed by its fingerprint, never by
// its raw value.
const (
	prefixRefresh        = "refresh:"
	prefixSessionSubject = "session:subject:"
	prefixSessionToken   = "session:token:"
	prefixBlacklist      = "blacklist:"
	prefixValidation     = "validation:"
	prefixPrincipalIndex = "principal:tokens:"
)

func refreshKey(refreshHash string) string { return prefixRefresh + refreshHash }
func sessionSubjectKey(sub string) string { return prefixSessionSubject + sub }
func sessionTokenKey(tokenHash string) string { return prefixSessionToken + tokenHash }
func blacklistKey(tokenHash string) string { return prefixBlacklist + tokenHash }
func validationKey(tokenHash string) string { return prefixValidation + tokenHash }
func principalIndexKey(sub string) string { return prefixPrincipalIndex + sub }

// blacklistMarker is the value of a blacklist entry; only presence matters.
var blacklistMarker = []byte("1")
