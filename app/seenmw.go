package app

import (
	"time"

	"lending_portal/session"

	"github.com/gin-gonic/gin"
)

// TouchSession 滑动续期；每个会话在 throttle 内最多续一次
func TouchSession(appSess *session.AppSessionStore, store *session.Store, throttle time.Duration, secure bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		sid := SessionIDOf(c)
		if sid == "" {
			c.Next()
			return
		}
		if store.ShouldTouch(c, sid, throttle) {
			if err := appSess.Touch(c, sid); err == nil { // 忽略错误，不阻塞请求
				SetSessionCookie(c.Writer, sid, appSess.TTL(), secure)
			}
		}
		c.Next()
	}
}
