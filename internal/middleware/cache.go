package middleware

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
)

// CacheConfig represents cache control configuration for GET responses.
type CacheConfig struct {
	MaxAge         int
	Private        bool
	NoStore        bool
	NoCache        bool
	MustRevalidate bool
	Vary           []string
}

// DefaultCacheConfig keeps patient data out of every cache.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		Private: true,
		NoStore: true,
		Vary:    []string{"Authorization"},
	}
}

func (config CacheConfig) directives() string {
	var d []string
	if config.Private {
		d = append(d, "private")
	} else {
		d = append(d, "public")
	}
	if config.NoStore {
		d = append(d, "no-store")
	}
	if config.NoCache {
		d = append(d, "no-cache")
	}
	if config.MaxAge > 0 && !config.NoStore {
		d = append(d, "max-age="+strconv.Itoa(config.MaxAge))
	}
	if config.MustRevalidate {
		d = append(d, "must-revalidate")
	}
	return strings.Join(d, ", ")
}

// Cache sets Cache-Control. Anything but GET is always no-store.
func Cache(config CacheConfig) gin.HandlerFunc {
	get := config.directives()
	vary := strings.Join(config.Vary, ", ")

	return func(c *gin.Context) {
		if c.Request.Method != http.MethodGet {
			c.Header("Cache-Control", "no-store")
			c.Next()
			return
		}
		c.Header("Cache-Control", get)
		if vary != "" {
			c.Header("Vary", vary)
		}
		c.Next()
	}
}
