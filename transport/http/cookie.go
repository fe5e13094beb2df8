package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// CookieConfig controls the session cookie
type CookieConfig struct {
	Name          string
	Secure        bool
	LoginRedirect string
}

// DefaultCookieConfig returns the cookie settings used when none are given
func DefaultCookieConfig() CookieConfig {
	return CookieConfig{
		Name:          "session",
		LoginRedirect: "/chat/",
	}
}

func (cc CookieConfig) set(c *gin.Context, token string, maxAge int) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(cc.Name, token, maxAge, "/", "", cc.Secure, true)
}

func (cc CookieConfig) clear(c *gin.Context) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(cc.Name, "", -1, "/", "", cc.Secure, true)
}
