package whatsapp

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"
)

// linkPreview holds Open Graph metadata scraped from a URL.
type linkPreview struct {
	URL         string
	Title       string
	Description string
	SiteName    string
	ImageURL    string
	Thumbnail   []byte
}

var urlRegex = regexp.MustCompile(`https?://[^\s<>"']+`)

func extractFirstURL(text string) string {
	return urlRegex.FindString(text)
}

// fetchLinkPreview scrapes OG tags from a page. Best effort; callers
// fall back to plain text on any error.
func fetchLinkPreview(targetURL string) (*linkPreview, error) {
	client := &http.Client{Timeout: 10 * time.Second}

	req, err := http.NewRequest(http.MethodGet, targetURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; WhatsApp/2.23; +http://www.whatsapp.com)")

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1024*1024))
	if err != nil {
		return nil, err
	}
	html := string(body)

	preview := &linkPreview{URL: targetURL}
	preview.Title = extractMetaContent(html, "og:title")
	if preview.Title == "" {
		preview.Title = extractHTMLTitle(html)
	}
	preview.Description = extractMetaContent(html, "og:description")
	if preview.Description == "" {
		preview.Description = extractMetaContent(html, "description")
	}
	preview.SiteName = extractMetaContent(html, "og:site_name")
	preview.ImageURL = extractMetaContent(html, "og:image")

	if preview.ImageURL != "" && !strings.HasPrefix(preview.ImageURL, "http") {
		base, _ := url.Parse(targetURL)
		img, _ := url.Parse(preview.ImageURL)
		if base != nil && img != nil {
			preview.ImageURL = base.ResolveReference(img).String()
		}
	}
	if preview.ImageURL != "" {
		preview.Thumbnail = downloadThumbnail(preview.ImageURL)
	}
	return preview, nil
}

func extractMetaContent(html, name string) string {
	pattern := regexp.MustCompile(`<meta[^>]+(?:property|name)=["']` + regexp.QuoteMeta(name) + `["'][^>]+content=["']([^"']*)["']`)
	if match := pattern.FindStringSubmatch(html); len(match) > 1 {
		return match[1]
	}
	// content attribute sometimes comes first
	pattern = regexp.MustCompile(`<meta[^>]+content=["']([^"']*)["'][^>]+(?:property|name)=["']` + regexp.QuoteMeta(name) + `["']`)
	if match := pattern.FindStringSubmatch(html); len(match) > 1 {
		return match[1]
	}
	return ""
}

var titleRegex = regexp.MustCompile(`<title[^>]*>([^<]*)</title>`)

func extractHTMLTitle(html string) string {
	if match := titleRegex.FindStringSubmatch(html); len(match) > 1 {
		return strings.TrimSpace(match[1])
	}
	return ""
}

func downloadThumbnail(imageURL string) []byte {
	client := &http.Client{Timeout: 5 * time.Second}
	req, err := http.NewRequest(http.MethodGet, imageURL, nil)
	if err != nil {
		return nil
	}
	req.Header.Set("User-Agent", "Mozilla/5.0")

	resp, err := client.Do(req)
	if err != nil {
		return nil
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 500*1024))
	if err != nil {
		return nil
	}
	return data
}
