package auth

import "golang.org/x/sync/singleflight"

// RefreshGroup serializes concurrent OAuth refreshes for the same
// provider so N simultaneous callers trigger exactly one network
// round-trip, the rest observing its result.
type RefreshGroup struct {
	group singleflight.Group
}

// NewRefreshGroup returns an empty RefreshGroup.
func NewRefreshGroup() *RefreshGroup {
	return &RefreshGroup{}
}

// Do runs fn for provider if no refresh is already in flight for it,
// otherwise it waits for the in-flight call and shares its result.
func (g *RefreshGroup) Do(provider string, fn func() (TokenSet, error)) (TokenSet, error) {
	v, err, _ := g.group.Do(provider, func() (interface{}, error) {
		return fn()
	})
	if err != nil {
		return TokenSet{}, err
	}
	return v.(TokenSet), nil
}
