package iam

// Principal is the verified caller identity supplied by the authentication
// layer. A nil principal is an anonymous caller.
type Principal struct {
	UserID string
	Email  string
}

func (p *Principal) Authenticated() bool {
	return p != nil && p.UserID != ""
}
