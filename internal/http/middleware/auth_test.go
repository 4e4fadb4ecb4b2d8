package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func TestBearerLoginToken(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cases := map[string]string{
		"":                   "",
		"Bearer abc.def":     "abc.def",
		"Basic dXNlcjpwYXNz": "",
		"Bearer ":            "",
		"XBearer tok":        "",
		"Basic Bearer tok":   "",
	}
	for header, want := range cases {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		c.Request = httptest.NewRequest(http.MethodGet, "/get_prefs", nil)
		if header != "" {
			c.Request.Header.Set("Authorization", header)
		}

		BearerLoginToken(c)
		require.Equal(t, want, LoginToken(c), header)
	}
}
