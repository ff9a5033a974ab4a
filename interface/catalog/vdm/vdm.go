// Package vdm notifies the Visualisation and Data Management catalog of the new products
package vdm

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/airbusgeo/ewoc-classif/interface/catalog"
	"github.com/airbusgeo/ewoc-classif/service"
	"github.com/airbusgeo/ewoc-classif/service/log"
	"go.uber.org/zap"
)

const (
	productEndpoint = "http://%s/rest/project/worldCereal/product"
	userInfoHeader  = "x-userinfo"
)

// ErrNotConfigured is returned when the host or the credentials of the catalog are not defined
var ErrNotConfigured = fmt.Errorf("vdm: host and userinfo are required")

// Notifier posts the STAC documents to the catalog
type Notifier struct {
	Host     string
	UserInfo string
	Client   *http.Client
}

var _ catalog.Notifier = &Notifier{}

// New creates a Notifier with the default timeouts (5s to connect, 15s overall)
func New(host, userInfo string) *Notifier {
	return &Notifier{Host: host, UserInfo: userInfo, Client: service.HTTPClient(5*time.Second, 15*time.Second)}
}

// Notify posts the STAC file. Success iff the catalog answers 200.
func (n *Notifier) Notify(ctx context.Context, stacPath string) error {
	if n.Host == "" || n.UserInfo == "" {
		return service.MakeConfigurationError(ErrNotConfigured)
	}
	body, err := os.ReadFile(stacPath)
	if err != nil {
		return fmt.Errorf("vdm.Notify: %w", service.ErrFileNotFound{File: stacPath})
	}
	client := n.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := service.HTTPPostWithHeaders(ctx, client, fmt.Sprintf(productEndpoint, n.Host), bytes.NewReader(body), map[string]string{userInfoHeader: n.UserInfo})
	if err != nil {
		return service.MakeTemporary(fmt.Errorf("vdm.Notify[%s]: %w", stacPath, err))
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("vdm.Notify[%s]: %s: %s", stacPath, resp.Status, msg)
	}
	log.Logger(ctx).Info("product ingested in the catalog", zap.String("stac", stacPath))
	return nil
}
