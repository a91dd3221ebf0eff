// Package webdav exports the snapshot directory read only.
package webdav

import (
	"context"
	"fmt"
	"net/http"

	"golang.org/x/net/webdav"

	"shader-cam/pkg/utils"
)

// Handler serves dir over WebDAV. Only read methods are allowed.
func Handler(dir string) http.Handler {
	logger := utils.GetLogger().Named("webdav")
	h := &webdav.Handler{
		FileSystem: webdav.Dir(dir),
		LockSystem: webdav.NewMemLS(),
		Logger: func(r *http.Request, err error) {
			if err != nil {
				logger.Errorf("WEBDAV [%s]: %s, err: %s", r.Method, r.URL, err)
			}
		},
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions, "PROPFIND":
			h.ServeHTTP(w, r)
		default:
			http.Error(w, "read only", http.StatusMethodNotAllowed)
		}
	})
}

// Serve exports dir on port until ctx is done.
func Serve(ctx context.Context, port int, dir string) error {
	utils.GetLogger().Infof("webdav serving %s on :%d", dir, port)
	return utils.Serve(ctx, Handler(dir), fmt.Sprintf(":%d", port))
}
