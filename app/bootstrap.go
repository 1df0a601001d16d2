// app/bootstrap.go
package app

import (
	"context"
	"errors"

	"lending_portal/backend"

	"go.uber.org/zap"
)

// CheckBackend 启动时探测一次后端；匿名访问 /me 得到任何 HTTP 响应都算可达
func CheckBackend(ctx context.Context, client *backend.Client, logger *zap.Logger) bool {
	_, err := client.Session("").Me(ctx)
	var ne *backend.NetworkError
	if errors.As(err, &ne) {
		logger.Warn("backend unreachable at startup, pages will show errors until it is up",
			zap.String("api_url", client.BaseURL()), zap.Error(err))
		return false
	}
	logger.Info("backend reachable", zap.String("api_url", client.BaseURL()))
	return true
}
