// Package models fetches the classification models from the artifact host into a local models directory
package models

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/airbusgeo/ewoc-classif/classif"
	"github.com/airbusgeo/ewoc-classif/common"
	"github.com/airbusgeo/ewoc-classif/service"
	"github.com/airbusgeo/ewoc-classif/service/log"
	"github.com/cavaliercoder/grab"
	"github.com/mholt/archiver"
	"go.uber.org/zap"
	"golang.org/x/net/html"
)

const (
	detectorName = "detector_WorldCerealPixelCatBoost"
	// ModelsDir is the directory created under the root of the fetcher
	ModelsDir = "models"
	// ArchiveName is the name of the archive of the models
	ArchiveName = "models.tar.gz"
)

// DefaultBaseURL is the url of the catboost models on the artifact host
const DefaultBaseURL = classif.DefaultModelsRoot + "/models/WorldCerealPixelCatBoost"

// Fetcher downloads the model directories
type Fetcher struct {
	Client  *http.Client
	BaseURL string
	// Root is the local directory of the models. The model paths of the config files are rewritten relatively to Root/models
	Root string
	// Number of tries of each download
	Tries int
}

// NewFetcher returns a fetcher with the default artifact host
func NewFetcher(root string) *Fetcher {
	return &Fetcher{
		Client:  service.HTTPClient(5*time.Second, 5*time.Minute),
		BaseURL: DefaultBaseURL,
		Root:    root,
		Tries:   3,
	}
}

// URLs returns the urls of the directories of the models of the given versions
func URLs(baseURL string, versions common.Models) []string {
	baseURL = strings.TrimSuffix(baseURL, "/")
	dir := func(version, name, suffix string) string {
		return fmt.Sprintf("%s/%s/%s_%s_%s%s/", baseURL, version, name, detectorName, version, suffix)
	}
	urls := []string{
		dir(versions.Cropland, "cropland", "-realms"),
		dir(versions.Cropland, "cropland", "-realms-OPTICAL"),
		dir(versions.Irrigation, "irrigation", ""),
	}
	croptypes := []string{"maize", "springcereals", "wintercereals"}
	if versions.Croptype == "v720" {
		croptypes = append(croptypes, "sunflower", "rapeseed")
	}
	for _, croptype := range croptypes {
		urls = append(urls, dir(versions.Croptype, croptype, ""), dir(versions.Croptype, croptype, "-OPTICAL"))
	}
	return urls
}

// Fetch replaces the local models directory by the models of the given versions
func (f *Fetcher) Fetch(ctx context.Context, versions common.Models) error {
	modelsDir := filepath.Join(f.Root, ModelsDir)
	if err := os.RemoveAll(modelsDir); err != nil {
		return fmt.Errorf("Fetch: %w", err)
	}
	if err := os.MkdirAll(modelsDir, 0755); err != nil {
		return fmt.Errorf("Fetch: %w", err)
	}
	urls := URLs(f.BaseURL, versions)
	for i, u := range urls {
		log.Logger(ctx).Sugar().Infof("[%d/%d] downloading models from %s", i+1, len(urls), u)
		if err := f.FetchDir(ctx, u); err != nil {
			return fmt.Errorf("Fetch.%w", err)
		}
	}
	return nil
}

// FetchDir downloads the files of the model directory at dirURL into Root/models/{the last three elements of dirURL}
func (f *Fetcher) FetchDir(ctx context.Context, dirURL string) error {
	u, err := url.Parse(dirURL)
	if err != nil {
		return service.MakeConfigurationError(fmt.Errorf("FetchDir: %w", err))
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) > 3 {
		parts = parts[len(parts)-3:]
	}
	outDir := filepath.Join(append([]string{f.Root, ModelsDir}, parts...)...)

	links, err := f.Links(ctx, dirURL)
	if err != nil {
		return fmt.Errorf("FetchDir.%w", err)
	}
	for _, link := range links {
		name := path.Base(strings.TrimSuffix(link, "/"))
		switch {
		case strings.HasSuffix(link, "/"):
			files, err := f.Links(ctx, link)
			if err != nil {
				return fmt.Errorf("FetchDir.%w", err)
			}
			for _, file := range files {
				if err := f.fetchFile(ctx, file, filepath.Join(outDir, name)); err != nil {
					return fmt.Errorf("FetchDir.%w", err)
				}
			}
		case name == "config.json" || strings.Contains(name, "CatBoost"):
			if err := f.fetchFile(ctx, link, outDir); err != nil {
				return fmt.Errorf("FetchDir.%w", err)
			}
		default:
			log.Logger(ctx).Warn("not downloaded", zap.String("url", link))
		}
	}
	return nil
}

// fetchFile downloads the file in dir and rewrites it if it is a config file
func (f *Fetcher) fetchFile(ctx context.Context, fileURL, dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	dst := filepath.Join(dir, path.Base(fileURL))
	err := service.Retriable(ctx, func() error { return f.download(ctx, fileURL, dst) }, time.Second, f.Tries)
	if err != nil {
		return err
	}
	log.Logger(ctx).Debug("downloaded", zap.String("url", fileURL), zap.String("file", dst))
	if filepath.Base(dst) == "config.json" {
		return RewriteConfig(dst, filepath.Join(f.Root, ModelsDir))
	}
	return nil
}

func (f *Fetcher) download(ctx context.Context, fileURL, dst string) error {
	req, err := grab.NewRequest(dst, fileURL)
	if err != nil {
		return fmt.Errorf("download.NewRequest: %w", err)
	}
	req = req.WithContext(ctx)
	client := grab.NewClient()
	if f.Client != nil {
		client.HTTPClient = f.Client
	}
	resp := client.Do(req)
	if err := resp.Err(); err != nil {
		os.Remove(dst)
		err = fmt.Errorf("download[%s]: %w", fileURL, err)
		if resp.HTTPResponse == nil {
			return service.MakeTemporary(err)
		}
		switch resp.HTTPResponse.StatusCode {
		case 408, 429, 500, 502, 503, 504:
			return service.MakeTemporary(err)
		}
		return err
	}
	return nil
}

// Links returns the absolute urls of the links of the html page at pageURL, the parent links excepted
func (f *Fetcher) Links(ctx context.Context, pageURL string) ([]string, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("Links: %w", err)
	}
	body, err := service.HTTPGet(ctx, f.Client, pageURL)
	if err != nil {
		return nil, fmt.Errorf("Links.%w", err)
	}
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("Links.Parse[%s]: %w", pageURL, err)
	}
	var links []string
	var visit func(n *html.Node)
	visit = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			for _, attr := range n.Attr {
				if attr.Key != "href" || strings.Contains(attr.Val, "..") {
					continue
				}
				ref, err := url.Parse(attr.Val)
				if err != nil {
					continue
				}
				links = append(links, base.ResolveReference(ref).String())
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			visit(c)
		}
	}
	visit(doc)
	return links, nil
}

// RewriteConfig replaces the models url of the paths of a model config file by root
func RewriteConfig(file, root string) error {
	b, err := os.ReadFile(file)
	if err != nil {
		return fmt.Errorf("RewriteConfig: %w", err)
	}
	var doc map[string]interface{}
	if err := json.Unmarshal(b, &doc); err != nil {
		return fmt.Errorf("RewriteConfig[%s]: %w", file, err)
	}
	remote := classif.DefaultModelsRoot + "/models"
	if paths, ok := doc["paths"].(map[string]interface{}); ok {
		for _, key := range []string{"modelfile", "parentmodel"} {
			if p, ok := paths[key].(string); ok {
				paths[key] = strings.Replace(p, remote, root, 1)
			}
		}
	}
	if b, err = json.Marshal(doc); err != nil {
		return fmt.Errorf("RewriteConfig[%s]: %w", file, err)
	}
	return os.WriteFile(file, b, 0644)
}

// Archive creates the tar.gz archive of Root/models as dest (Root/models.tar.gz if empty)
func (f *Fetcher) Archive(ctx context.Context, dest string) (string, error) {
	if dest == "" {
		dest = filepath.Join(f.Root, ArchiveName)
	}
	if err := os.Remove(dest); err != nil && !os.IsNotExist(err) {
		return "", fmt.Errorf("Archive: %w", err)
	}
	if err := archiver.Archive([]string{filepath.Join(f.Root, ModelsDir)}, dest); err != nil {
		return "", fmt.Errorf("Archive: %w", err)
	}
	log.Logger(ctx).Info("models archived", zap.String("archive", dest))
	return dest, nil
}
