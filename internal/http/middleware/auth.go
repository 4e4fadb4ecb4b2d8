package middleware

import (
	"regexp"

	"github.com/gin-gonic/gin"
)

const loginTokenKey = "loginToken"

var bearerPattern = regexp.MustCompile(`^Bearer (.+)$`)

// BearerLoginToken reads the login token from the Authorization header and attaches it
// to the context. A missing token is left for the handler to reject.
func BearerLoginToken(c *gin.Context) {
	c.Set(loginTokenKey, parseBearer(c.GetHeader("Authorization")))
	c.Next()
}

// LoginToken returns the request's login token, or "" when none was sent.
func LoginToken(c *gin.Context) string {
	if value, ok := c.Get(loginTokenKey); ok {
		if token, ok := value.(string); ok {
			return token
		}
	}
	return parseBearer(c.GetHeader("Authorization"))
}

func parseBearer(header string) string {
	matches := bearerPattern.FindStringSubmatch(header)
	if len(matches) != 2 {
		return ""
	}
	return matches[1]
}
