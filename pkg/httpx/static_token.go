package httpx

import "context"

// StaticToken is an authenticator for APIs issuing long-lived keys.
type StaticToken string

func (StaticToken) Authenticate(context.Context) error {
	return nil
}

func (t StaticToken) BearerToken() string {
	return string(t)
}
