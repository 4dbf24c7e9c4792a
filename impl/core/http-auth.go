package core

import (
	"crypto/subtle"
	"fmt"

	"ordersync/entity"
)

const webhookUser = "webhook"

// AuthenticateByToken checks a webhook API key; accepted keys are cached.
func (c *Core) AuthenticateByToken(token string) (*entity.UserAuth, error) {
	if token == "" {
		return nil, fmt.Errorf("token not provided")
	}

	c.keysMu.RLock()
	userName, ok := c.keys[token]
	c.keysMu.RUnlock()
	if ok {
		return &entity.UserAuth{Name: userName, Token: token}, nil
	}

	if c.authKey == "" || subtle.ConstantTimeCompare([]byte(c.authKey), []byte(token)) != 1 {
		return nil, fmt.Errorf("invalid token")
	}

	c.keysMu.Lock()
	c.keys[token] = webhookUser
	c.keysMu.Unlock()
	return &entity.UserAuth{Name: webhookUser, Token: token}, nil
}
